// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package syncctl reconciles a Gmail journal mailbox's provider-side state
// against internal occurrence rows. It drives three job types: a one-time
// backfill, an ongoing incremental history sync, and push-notification
// watch renewal, and owns the per-mailbox circuit breaker that pauses a
// mailbox after repeated sync failures.
package syncctl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/oss-ticketing/journalcore/internal/crypto"
	"github.com/oss-ticketing/journalcore/internal/gmail"
	"github.com/oss-ticketing/journalcore/internal/models"
	"github.com/oss-ticketing/journalcore/internal/pipeline"
	"github.com/oss-ticketing/journalcore/internal/queue"
	"github.com/oss-ticketing/journalcore/internal/store"
)

// Controller executes mailbox_backfill, mailbox_history_sync, and
// mailbox_watch_renew jobs.
type Controller struct {
	Store    *store.Store
	Provider gmail.Provider
	Box      *crypto.Box
	Queue    *queue.Queue

	// FailureThreshold and PauseWindow parameterize the circuit breaker;
	// zero values fall back to sane defaults.
	FailureThreshold int
	PauseWindow      time.Duration
}

func (c *Controller) threshold() int {
	if c.FailureThreshold <= 0 {
		return 5
	}
	return c.FailureThreshold
}

func (c *Controller) pauseWindow() time.Duration {
	if c.PauseWindow <= 0 {
		return 30 * time.Minute
	}
	return c.PauseWindow
}

// BackfillPayload is the mailbox_backfill job payload.
type BackfillPayload struct {
	MailboxID uuid.UUID `json:"mailbox_id"`
}

// HistorySyncPayload is the mailbox_history_sync job payload.
type HistorySyncPayload struct {
	MailboxID uuid.UUID `json:"mailbox_id"`
}

// WatchRenewPayload is the mailbox_watch_renew job payload.
type WatchRenewPayload struct {
	MailboxID uuid.UUID `json:"mailbox_id"`
}

func (c *Controller) credential(mailbox *models.Mailbox) (gmail.Credential, error) {
	plain, err := c.Box.Open(mailbox.EncryptedRefreshToken)
	if err != nil {
		return gmail.Credential{}, fmt.Errorf("open refresh token: %w", err)
	}
	return gmail.Credential{EmailAddress: mailbox.EmailAddress, RefreshToken: string(plain)}, nil
}

// HandleBackfill pages through every message in the mailbox once, creating
// a discovered occurrence and a fetch job for each, then records the
// mailbox's current historyId as the incremental-sync starting cursor.
func (c *Controller) HandleBackfill(ctx context.Context, organizationID uuid.UUID, payload json.RawMessage) error {
	var pl BackfillPayload
	if err := json.Unmarshal(payload, &pl); err != nil {
		return fmt.Errorf("syncctl: unmarshal backfill payload: %w", err)
	}

	mailbox, err := c.Store.GetMailbox(ctx, organizationID, pl.MailboxID)
	if err != nil {
		return fmt.Errorf("syncctl: load mailbox for backfill: %w", err)
	}
	if mailbox.PausedUntil != nil && mailbox.PausedUntil.After(time.Now()) {
		slog.InfoContext(ctx, "mailbox paused, skipping backfill", "mailbox_id", mailbox.ID, "paused_until", mailbox.PausedUntil)
		return nil
	}
	cred, err := c.credential(mailbox)
	if err != nil {
		return c.fail(ctx, organizationID, mailbox.ID, err)
	}

	discovered := 0
	pageToken := ""
	for {
		ids, nextToken, err := c.Provider.ListMessages(ctx, cred, pageToken)
		if err != nil {
			return c.fail(ctx, organizationID, mailbox.ID, fmt.Errorf("list messages: %w", err))
		}
		for _, id := range ids {
			if err := c.discoverAndEnqueue(ctx, organizationID, mailbox.ID, id); err != nil {
				return c.fail(ctx, organizationID, mailbox.ID, err)
			}
			discovered++
		}
		if nextToken == "" {
			break
		}
		pageToken = nextToken
	}

	_, historyID, err := c.Provider.Profile(ctx, cred)
	if err != nil {
		return c.fail(ctx, organizationID, mailbox.ID, fmt.Errorf("profile after backfill: %w", err))
	}
	if err := c.Store.MarkFullSyncComplete(ctx, organizationID, mailbox.ID, historyID); err != nil {
		return fmt.Errorf("syncctl: mark full sync complete: %w", err)
	}
	if err := c.Store.RecordSyncSuccess(ctx, organizationID, mailbox.ID); err != nil {
		return fmt.Errorf("syncctl: record sync success: %w", err)
	}
	slog.InfoContext(ctx, "backfill complete", "mailbox_id", mailbox.ID, "discovered", discovered)
	return nil
}

// HandleHistorySync applies the provider's history delta since the
// mailbox's stored cursor. An invalid/expired cursor is not a retryable
// failure of this job — it self-heals by re-enqueuing a fresh backfill.
func (c *Controller) HandleHistorySync(ctx context.Context, organizationID uuid.UUID, payload json.RawMessage) error {
	var pl HistorySyncPayload
	if err := json.Unmarshal(payload, &pl); err != nil {
		return fmt.Errorf("syncctl: unmarshal history sync payload: %w", err)
	}

	mailbox, err := c.Store.GetMailbox(ctx, organizationID, pl.MailboxID)
	if err != nil {
		return fmt.Errorf("syncctl: load mailbox for history sync: %w", err)
	}
	if mailbox.PausedUntil != nil && mailbox.PausedUntil.After(time.Now()) {
		slog.InfoContext(ctx, "mailbox paused, skipping history sync", "mailbox_id", mailbox.ID, "paused_until", mailbox.PausedUntil)
		return nil
	}
	cred, err := c.credential(mailbox)
	if err != nil {
		return c.fail(ctx, organizationID, mailbox.ID, err)
	}

	events, newCursor, err := c.Provider.HistoryDelta(ctx, cred, mailbox.HistoryCursor)
	if errors.Is(err, gmail.ErrInvalidCursor) {
		slog.WarnContext(ctx, "history cursor invalid, re-enqueuing backfill", "mailbox_id", mailbox.ID)
		_, enqErr := c.Queue.Enqueue(ctx, models.JobMailboxBackfill, organizationID, BackfillPayload{MailboxID: mailbox.ID}, queue.EnqueueOptions{})
		if enqErr != nil {
			return fmt.Errorf("syncctl: enqueue recovery backfill: %w", enqErr)
		}
		return nil
	}
	if err != nil {
		return c.fail(ctx, organizationID, mailbox.ID, fmt.Errorf("history delta: %w", err))
	}

	for _, event := range events {
		switch event.Kind {
		case gmail.HistoryMessageAdded:
			if err := c.discoverAndEnqueue(ctx, organizationID, mailbox.ID, event.ProviderMessageID); err != nil {
				return c.fail(ctx, organizationID, mailbox.ID, err)
			}
		case gmail.HistoryMessageDeleted:
			if err := c.Store.MarkOccurrenceDeleted(ctx, organizationID, mailbox.ID, event.ProviderMessageID); err != nil {
				return fmt.Errorf("syncctl: mark occurrence deleted: %w", err)
			}
		}
	}

	if err := c.Store.UpdateHistoryCursor(ctx, organizationID, mailbox.ID, newCursor); err != nil {
		return fmt.Errorf("syncctl: update history cursor: %w", err)
	}
	if err := c.Store.RecordSyncSuccess(ctx, organizationID, mailbox.ID); err != nil {
		return fmt.Errorf("syncctl: record sync success: %w", err)
	}
	return nil
}

// HandleWatchRenew re-establishes the push-notification channel before it
// expires and persists the new expiration.
func (c *Controller) HandleWatchRenew(ctx context.Context, organizationID uuid.UUID, payload json.RawMessage) error {
	var pl WatchRenewPayload
	if err := json.Unmarshal(payload, &pl); err != nil {
		return fmt.Errorf("syncctl: unmarshal watch renew payload: %w", err)
	}

	mailbox, err := c.Store.GetMailbox(ctx, organizationID, pl.MailboxID)
	if err != nil {
		return fmt.Errorf("syncctl: load mailbox for watch renew: %w", err)
	}
	if mailbox.PausedUntil != nil && mailbox.PausedUntil.After(time.Now()) {
		slog.InfoContext(ctx, "mailbox paused, skipping watch renew", "mailbox_id", mailbox.ID, "paused_until", mailbox.PausedUntil)
		return nil
	}
	cred, err := c.credential(mailbox)
	if err != nil {
		return c.fail(ctx, organizationID, mailbox.ID, err)
	}

	expiration, err := c.Provider.Watch(ctx, cred)
	if err != nil {
		return c.fail(ctx, organizationID, mailbox.ID, fmt.Errorf("watch: %w", err))
	}
	if err := c.Store.UpdateWatchExpiry(ctx, organizationID, mailbox.ID, expiration); err != nil {
		return fmt.Errorf("syncctl: update watch expiry: %w", err)
	}
	return c.Store.RecordSyncSuccess(ctx, organizationID, mailbox.ID)
}

func (c *Controller) discoverAndEnqueue(ctx context.Context, organizationID, mailboxID uuid.UUID, providerMessageID string) error {
	occurrenceID, created, err := c.Store.UpsertDiscoveredOccurrence(ctx, organizationID, mailboxID, providerMessageID, "inbound")
	if err != nil {
		return fmt.Errorf("upsert discovered occurrence: %w", err)
	}
	if !created {
		return nil
	}
	_, err = c.Queue.Enqueue(ctx, models.JobOccurrenceFetchRaw, organizationID, pipeline.FetchRawPayload{
		OccurrenceID: occurrenceID,
		MailboxID:    mailboxID,
	}, queue.EnqueueOptions{})
	if err != nil {
		return fmt.Errorf("enqueue occurrence_fetch_raw: %w", err)
	}
	return nil
}

// fail records a sync failure on the mailbox, logging when it trips the
// circuit breaker, and returns the original error for the job to retry.
// An auth/scope error (expired or revoked grant) takes a different path
// than a transient failure: it marks the mailbox degraded immediately
// rather than counting toward the circuit breaker, since no amount of
// retrying fixes a credential an operator hasn't re-authorized yet.
func (c *Controller) fail(ctx context.Context, organizationID, mailboxID uuid.UUID, syncErr error) error {
	if errors.Is(syncErr, gmail.ErrAuthRequired) {
		if err := c.Store.SetDegraded(ctx, organizationID, mailboxID, syncErr.Error()); err != nil {
			return errors.Join(syncErr, fmt.Errorf("syncctl: set degraded: %w", err))
		}
		slog.ErrorContext(ctx, "mailbox marked degraded after auth error", "mailbox_id", mailboxID, "error", syncErr)
		return syncErr
	}

	tripped, err := c.Store.RecordSyncFailure(ctx, organizationID, mailboxID, syncErr, c.threshold(), c.pauseWindow())
	if err != nil {
		return errors.Join(syncErr, fmt.Errorf("syncctl: record sync failure: %w", err))
	}
	if tripped {
		slog.ErrorContext(ctx, "mailbox sync circuit breaker tripped", "mailbox_id", mailboxID, "error", syncErr)
	}
	return syncErr
}
