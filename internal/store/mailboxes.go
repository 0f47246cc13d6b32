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

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/oss-ticketing/journalcore/internal/models"
)

// ErrNotFound is returned when a lookup by id finds no row.
var ErrNotFound = errors.New("store: not found")

const mailboxColumns = `id, organization_id, purpose, provider, email_address, encrypted_refresh_token,
	history_cursor, watch_expires_at, last_full_sync_at, last_incremental_sync_at, last_sync_error,
	consecutive_sync_failure, paused_until, pause_reason, status, created_at, updated_at`

// CreateMailbox inserts a new mailbox. Enforces at most one journal mailbox
// per organization via the database's partial unique index; a violation
// surfaces as a wrapped Postgres error, not a sentinel, since the caller
// (admin provisioning) is expected to check first in the common path.
func (s *Store) CreateMailbox(ctx context.Context, organizationID uuid.UUID, m *models.Mailbox) (uuid.UUID, error) {
	var id uuid.UUID
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO mailboxes (organization_id, purpose, provider, email_address, encrypted_refresh_token, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		organizationID, string(m.Purpose), m.Provider, m.EmailAddress, m.EncryptedRefreshToken, string(m.Status),
	)
	if err := row.Scan(&id); err != nil {
		return uuid.Nil, fmt.Errorf("store: create mailbox: %w", err)
	}
	return id, nil
}

// GetMailbox loads one mailbox scoped to organizationID.
func (s *Store) GetMailbox(ctx context.Context, organizationID, mailboxID uuid.UUID) (*models.Mailbox, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+mailboxColumns+`
		FROM mailboxes WHERE organization_id = $1 AND id = $2`,
		organizationID, mailboxID,
	)
	m, err := scanMailbox(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get mailbox: %w", err)
	}
	return m, nil
}

// GetJournalMailbox returns the organization's single journal-purpose
// mailbox, if provisioned.
func (s *Store) GetJournalMailbox(ctx context.Context, organizationID uuid.UUID) (*models.Mailbox, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+mailboxColumns+`
		FROM mailboxes WHERE organization_id = $1 AND purpose = 'journal'`,
		organizationID,
	)
	m, err := scanMailbox(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get journal mailbox: %w", err)
	}
	return m, nil
}

// FindMailboxByEmail resolves a mailbox and its owning organization from
// the provider email address alone. It is the one mailbox lookup not
// scoped by organization_id, since the caller — the push-notification
// receiver — only has the address Google's Pub/Sub push message carries
// and does not yet know which organization the mailbox belongs to.
func (s *Store) FindMailboxByEmail(ctx context.Context, emailAddress string) (organizationID, mailboxID uuid.UUID, err error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT organization_id, id FROM mailboxes WHERE email_address = $1`,
		emailAddress,
	)
	if err := row.Scan(&organizationID, &mailboxID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return uuid.Nil, uuid.Nil, ErrNotFound
		}
		return uuid.Nil, uuid.Nil, fmt.Errorf("store: find mailbox by email: %w", err)
	}
	return organizationID, mailboxID, nil
}

// ListMailboxes returns every mailbox for an organization.
func (s *Store) ListMailboxes(ctx context.Context, organizationID uuid.UUID) ([]*models.Mailbox, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+mailboxColumns+`
		FROM mailboxes WHERE organization_id = $1 ORDER BY created_at`,
		organizationID,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list mailboxes: %w", err)
	}
	defer rows.Close()

	var out []*models.Mailbox
	for rows.Next() {
		m, err := scanMailbox(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan mailbox row: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// UpdateHistoryCursor persists a new cursor and marks the incremental sync
// timestamp, used after a successful mailbox_history_sync.
func (s *Store) UpdateHistoryCursor(ctx context.Context, organizationID, mailboxID uuid.UUID, cursor string) error {
	return s.execScoped(ctx, organizationID, `
		UPDATE mailboxes
		SET history_cursor = $3, last_incremental_sync_at = now(), updated_at = now()
		WHERE organization_id = $1 AND id = $2`,
		mailboxID, cursor,
	)
}

// MarkFullSyncComplete records a completed backfill's cursor and timestamp.
func (s *Store) MarkFullSyncComplete(ctx context.Context, organizationID, mailboxID uuid.UUID, cursor string) error {
	return s.execScoped(ctx, organizationID, `
		UPDATE mailboxes
		SET history_cursor = $3, last_full_sync_at = now(), updated_at = now()
		WHERE organization_id = $1 AND id = $2`,
		mailboxID, cursor,
	)
}

// RecordSyncFailure increments the consecutive-failure counter and, when it
// crosses threshold, trips the circuit breaker (paused_until/pause_reason).
// Returns whether this call tripped the breaker.
func (s *Store) RecordSyncFailure(ctx context.Context, organizationID, mailboxID uuid.UUID, syncErr error, threshold int, pauseWindow time.Duration) (tripped bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("store: begin sync-failure tx: %w", err)
	}
	defer tx.Rollback()

	var failures int
	row := tx.QueryRowContext(ctx, `
		SELECT consecutive_sync_failure FROM mailboxes
		WHERE organization_id = $1 AND id = $2 FOR UPDATE`,
		organizationID, mailboxID,
	)
	if err := row.Scan(&failures); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, ErrNotFound
		}
		return false, fmt.Errorf("store: read failure counter: %w", err)
	}
	failures++

	msg := ""
	if syncErr != nil {
		msg = syncErr.Error()
	}

	if failures >= threshold {
		_, err = tx.ExecContext(ctx, `
			UPDATE mailboxes
			SET consecutive_sync_failure = $3, last_sync_error = $4,
			    paused_until = now() + $5::interval, pause_reason = 'auto: repeated sync failures',
			    updated_at = now()
			WHERE organization_id = $1 AND id = $2`,
			organizationID, mailboxID, failures, msg, pauseWindow.String(),
		)
		tripped = true
	} else {
		_, err = tx.ExecContext(ctx, `
			UPDATE mailboxes
			SET consecutive_sync_failure = $3, last_sync_error = $4, updated_at = now()
			WHERE organization_id = $1 AND id = $2`,
			organizationID, mailboxID, failures, msg,
		)
	}
	if err != nil {
		return false, fmt.Errorf("store: record sync failure: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("store: commit sync-failure tx: %w", err)
	}
	return tripped, nil
}

// RecordSyncSuccess clears the failure counter and error, leaving pause
// state untouched (only Resume clears a pause).
func (s *Store) RecordSyncSuccess(ctx context.Context, organizationID, mailboxID uuid.UUID) error {
	return s.execScoped(ctx, organizationID, `
		UPDATE mailboxes
		SET consecutive_sync_failure = 0, last_sync_error = '', updated_at = now()
		WHERE organization_id = $1 AND id = $2`,
		mailboxID,
	)
}

// Pause sets an explicit admin pause window.
func (s *Store) Pause(ctx context.Context, organizationID, mailboxID uuid.UUID, until time.Time, reason string) error {
	return s.execScoped(ctx, organizationID, `
		UPDATE mailboxes
		SET paused_until = $3, pause_reason = $4, updated_at = now()
		WHERE organization_id = $1 AND id = $2`,
		mailboxID, until, reason,
	)
}

// Resume clears any pause window and the failure counter.
func (s *Store) Resume(ctx context.Context, organizationID, mailboxID uuid.UUID) error {
	return s.execScoped(ctx, organizationID, `
		UPDATE mailboxes
		SET paused_until = NULL, pause_reason = '', consecutive_sync_failure = 0, updated_at = now()
		WHERE organization_id = $1 AND id = $2`,
		mailboxID,
	)
}

// SetDegraded marks a mailbox degraded after an auth/scope error, distinct
// from the pause-window circuit breaker.
func (s *Store) SetDegraded(ctx context.Context, organizationID, mailboxID uuid.UUID, reason string) error {
	return s.execScoped(ctx, organizationID, `
		UPDATE mailboxes
		SET status = 'degraded', last_sync_error = $3, updated_at = now()
		WHERE organization_id = $1 AND id = $2`,
		mailboxID, reason,
	)
}

// ClearDegraded returns a mailbox to active status once credentials have
// been refreshed by an operator.
func (s *Store) ClearDegraded(ctx context.Context, organizationID, mailboxID uuid.UUID) error {
	return s.execScoped(ctx, organizationID, `
		UPDATE mailboxes
		SET status = 'active', last_sync_error = '', updated_at = now()
		WHERE organization_id = $1 AND id = $2`,
		mailboxID,
	)
}

// UpdateWatchExpiry persists a renewed push-notification channel expiry.
func (s *Store) UpdateWatchExpiry(ctx context.Context, organizationID, mailboxID uuid.UUID, expiresAt time.Time) error {
	return s.execScoped(ctx, organizationID, `
		UPDATE mailboxes
		SET watch_expires_at = $3, updated_at = now()
		WHERE organization_id = $1 AND id = $2`,
		mailboxID, expiresAt,
	)
}

// UpdateRefreshToken replaces the encrypted credential after operator
// re-authorization, also clearing degraded status.
func (s *Store) UpdateRefreshToken(ctx context.Context, organizationID, mailboxID uuid.UUID, encrypted []byte) error {
	return s.execScoped(ctx, organizationID, `
		UPDATE mailboxes
		SET encrypted_refresh_token = $3, status = 'active', last_sync_error = '', updated_at = now()
		WHERE organization_id = $1 AND id = $2`,
		mailboxID, encrypted,
	)
}

func (s *Store) execScoped(ctx context.Context, organizationID uuid.UUID, query string, args ...any) error {
	fullArgs := append([]any{organizationID}, args...)
	res, err := s.db.ExecContext(ctx, query, fullArgs...)
	if err != nil {
		return fmt.Errorf("store: exec: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanMailbox(row rowScanner) (*models.Mailbox, error) {
	var m models.Mailbox
	var purpose, status string
	if err := row.Scan(
		&m.ID, &m.OrganizationID, &purpose, &m.Provider, &m.EmailAddress, &m.EncryptedRefreshToken,
		&m.HistoryCursor, &m.WatchExpiresAt, &m.LastFullSyncAt, &m.LastIncrementalSyncAt, &m.LastSyncError,
		&m.ConsecutiveSyncFailure, &m.PausedUntil, &m.PauseReason, &status, &m.CreatedAt, &m.UpdatedAt,
	); err != nil {
		return nil, err
	}
	m.Purpose = models.MailboxPurpose(purpose)
	m.Status = models.MailboxSyncStatus(status)
	return &m, nil
}
