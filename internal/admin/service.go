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

// Package admin is the operator control surface: a plain Go service, with
// no HTTP framing of its own, that cmd/adminctl and any future operator UI
// call directly. Every method is scoped by organization id; none of them
// run on the hot ingestion path.
package admin

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/oss-ticketing/journalcore/internal/models"
	"github.com/oss-ticketing/journalcore/internal/pipeline"
	"github.com/oss-ticketing/journalcore/internal/queue"
	"github.com/oss-ticketing/journalcore/internal/store"
	"github.com/oss-ticketing/journalcore/internal/syncctl"
)

// Service implements the operator control surface: enqueueing recovery
// jobs, inspecting mailbox sync health, replaying dead-letter jobs,
// dry-running the routing predicate chain, backfilling canonical-message
// collision groups, and passing through the saved-view and tag/ticket
// listing CRUD the store package already owns.
type Service struct {
	Store *store.Store
	Queue *queue.Queue
}

// New builds a Service bound to s and q.
func New(s *store.Store, q *queue.Queue) *Service {
	return &Service{Store: s, Queue: q}
}

// EnqueueBackfill starts (or resumes) a full mailbox backfill.
func (svc *Service) EnqueueBackfill(ctx context.Context, organizationID, mailboxID uuid.UUID) (uuid.UUID, error) {
	id, err := svc.Queue.Enqueue(ctx, models.JobMailboxBackfill, organizationID,
		syncctl.BackfillPayload{MailboxID: mailboxID}, queue.EnqueueOptions{})
	if err != nil {
		return uuid.Nil, fmt.Errorf("admin: enqueue backfill: %w", err)
	}
	return id, nil
}

// EnqueueHistorySync starts an out-of-band incremental sync, useful when
// an operator suspects a mailbox missed a push notification.
func (svc *Service) EnqueueHistorySync(ctx context.Context, organizationID, mailboxID uuid.UUID) (uuid.UUID, error) {
	id, err := svc.Queue.Enqueue(ctx, models.JobMailboxHistorySync, organizationID,
		syncctl.HistorySyncPayload{MailboxID: mailboxID}, queue.EnqueueOptions{})
	if err != nil {
		return uuid.Nil, fmt.Errorf("admin: enqueue history sync: %w", err)
	}
	return id, nil
}

// PauseMailbox pauses the mailbox's sync until `until` passes or
// ResumeMailbox clears it, recording reason as the pause reason. Sync jobs
// that run while the mailbox is paused return without doing any work.
func (svc *Service) PauseMailbox(ctx context.Context, organizationID, mailboxID uuid.UUID, until time.Time, reason string) error {
	if err := svc.Store.Pause(ctx, organizationID, mailboxID, until, reason); err != nil {
		return fmt.Errorf("admin: pause mailbox: %w", err)
	}
	return nil
}

// ResumeMailbox clears a mailbox's pause window and failure counter,
// re-enabling scheduling, and immediately enqueues one history sync so the
// mailbox doesn't sit idle until its next regularly scheduled run.
func (svc *Service) ResumeMailbox(ctx context.Context, organizationID, mailboxID uuid.UUID) error {
	if err := svc.Store.Resume(ctx, organizationID, mailboxID); err != nil {
		return fmt.Errorf("admin: resume mailbox: %w", err)
	}
	if _, err := svc.Queue.Enqueue(ctx, models.JobMailboxHistorySync, organizationID,
		syncctl.HistorySyncPayload{MailboxID: mailboxID}, queue.EnqueueOptions{}); err != nil {
		return fmt.Errorf("admin: enqueue resume history sync: %w", err)
	}
	return nil
}

// DeadJob is one row of the dead-letter listing.
type DeadJob struct {
	ID          uuid.UUID
	Type        models.JobType
	Attempts    int
	MaxAttempts int
	LastError   string
	UpdatedAt   time.Time
}

// ListDeadJobs returns jobs that exhausted their retry budget.
func (svc *Service) ListDeadJobs(ctx context.Context, organizationID uuid.UUID, limit int) ([]DeadJob, error) {
	jobs, err := svc.Queue.ListDead(ctx, organizationID, limit)
	if err != nil {
		return nil, fmt.Errorf("admin: list dead jobs: %w", err)
	}
	out := make([]DeadJob, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, DeadJob{
			ID:          j.ID,
			Type:        j.Type,
			Attempts:    j.Attempts,
			MaxAttempts: j.MaxAttempts,
			LastError:   j.LastError,
			UpdatedAt:   j.UpdatedAt,
		})
	}
	return out, nil
}

// ReplayJob resets a dead job back to queued with a fresh attempt budget.
func (svc *Service) ReplayJob(ctx context.Context, jobID uuid.UUID) error {
	if err := svc.Queue.Replay(ctx, jobID); err != nil {
		return fmt.Errorf("admin: replay job: %w", err)
	}
	return nil
}

// MailboxSyncSummary is the operator-facing health snapshot for one
// mailbox: how far behind it is, what's in flight for it, and why it
// might be paused.
type MailboxSyncSummary struct {
	Mailbox        *models.Mailbox
	LagSeconds     float64
	QueuedByType   map[string]int
	RunningByType  map[string]int
	Paused         bool
	PausedUntil    *time.Time
	LastSyncError  string
}

// MailboxSyncSummaries reports sync health for every mailbox in an
// organization, ordered the same way ListMailboxes returns them. Job
// counts are organization-wide rather than per-mailbox: the queue does
// not index jobs by the mailbox id buried in their JSON payload, so every
// mailbox in the organization sees the same in-flight counts.
func (svc *Service) MailboxSyncSummaries(ctx context.Context, organizationID uuid.UUID) ([]MailboxSyncSummary, error) {
	mailboxes, err := svc.Store.ListMailboxes(ctx, organizationID)
	if err != nil {
		return nil, fmt.Errorf("admin: list mailboxes: %w", err)
	}

	byType, err := svc.Queue.CountByStatus(ctx, organizationID)
	if err != nil {
		return nil, fmt.Errorf("admin: count jobs by status: %w", err)
	}
	queuedByType := make(map[string]int, len(byType))
	runningByType := make(map[string]int, len(byType))
	for jobType, byStatus := range byType {
		queuedByType[jobType] = byStatus["queued"]
		runningByType[jobType] = byStatus["running"]
	}

	out := make([]MailboxSyncSummary, 0, len(mailboxes))
	for _, m := range mailboxes {
		summary := MailboxSyncSummary{
			Mailbox:       m,
			QueuedByType:  queuedByType,
			RunningByType: runningByType,
			LastSyncError: m.LastSyncError,
		}
		if m.LastIncrementalSyncAt != nil {
			summary.LagSeconds = time.Since(*m.LastIncrementalSyncAt).Seconds()
		} else if m.LastFullSyncAt != nil {
			summary.LagSeconds = time.Since(*m.LastFullSyncAt).Seconds()
		}
		if m.PausedUntil != nil && m.PausedUntil.After(time.Now()) {
			summary.Paused = true
			summary.PausedUntil = m.PausedUntil
		}
		out = append(out, summary)
	}
	return out, nil
}

// SimulateRouting dry-runs the allowlist-then-rules chain the router
// applies on real occurrences, without touching any ticket.
func (svc *Service) SimulateRouting(ctx context.Context, organizationID uuid.UUID, recipient, senderEmail, direction string) (*pipeline.SimulationResult, error) {
	result, err := pipeline.SimulateRouting(ctx, svc.Store, organizationID, recipient, senderEmail, direction)
	if err != nil {
		return nil, fmt.Errorf("admin: simulate routing: %w", err)
	}
	return result, nil
}

// BackfillCollisionGroups groups any canonical messages sharing a
// fingerprint but not yet linked into a collision group — a catch-up
// pass for messages canonicalized before a collision-detection rule
// existed, or recovered from an earlier bug.
func (svc *Service) BackfillCollisionGroups(ctx context.Context, organizationID uuid.UUID) (int, error) {
	groups, err := svc.Store.ListUngroupedFingerprintCollisions(ctx, organizationID)
	if err != nil {
		return 0, fmt.Errorf("admin: list ungrouped collisions: %w", err)
	}
	for _, ids := range groups {
		if _, err := svc.Store.AssignCollisionGroup(ctx, organizationID, ids); err != nil {
			return 0, fmt.Errorf("admin: assign collision group: %w", err)
		}
	}
	return len(groups), nil
}

// ListSavedViews passes through to the store's saved-view CRUD — simple
// tenant-scoped CRUD with no domain logic of its own.
func (svc *Service) ListSavedViews(ctx context.Context, organizationID uuid.UUID, ownerUserID *uuid.UUID) ([]*models.SavedView, error) {
	views, err := svc.Store.ListSavedViews(ctx, organizationID, ownerUserID)
	if err != nil {
		return nil, fmt.Errorf("admin: list saved views: %w", err)
	}
	return views, nil
}

// UpsertSavedView creates or updates a saved ticket-list view.
func (svc *Service) UpsertSavedView(ctx context.Context, organizationID uuid.UUID, v *models.SavedView) (uuid.UUID, error) {
	id, err := svc.Store.UpsertSavedView(ctx, organizationID, v)
	if err != nil {
		return uuid.Nil, fmt.Errorf("admin: upsert saved view: %w", err)
	}
	return id, nil
}

// DeleteSavedView removes a saved view.
func (svc *Service) DeleteSavedView(ctx context.Context, organizationID, viewID uuid.UUID) error {
	if err := svc.Store.DeleteSavedView(ctx, organizationID, viewID); err != nil {
		return fmt.Errorf("admin: delete saved view: %w", err)
	}
	return nil
}

// ListTickets is the operator-facing inbox listing, filtered by status
// when given and paginated.
func (svc *Service) ListTickets(ctx context.Context, organizationID uuid.UUID, status models.TicketStatus, limit, offset int) ([]*models.Ticket, error) {
	tickets, err := svc.Store.ListTickets(ctx, organizationID, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("admin: list tickets: %w", err)
	}
	return tickets, nil
}

// ListTags returns every tag defined for an organization.
func (svc *Service) ListTags(ctx context.Context, organizationID uuid.UUID) ([]*models.Tag, error) {
	tags, err := svc.Store.ListTags(ctx, organizationID)
	if err != nil {
		return nil, fmt.Errorf("admin: list tags: %w", err)
	}
	return tags, nil
}

// CreateTag defines a new organization-scoped label.
func (svc *Service) CreateTag(ctx context.Context, organizationID uuid.UUID, name string) (uuid.UUID, error) {
	id, err := svc.Store.CreateTag(ctx, organizationID, name)
	if err != nil {
		return uuid.Nil, fmt.Errorf("admin: create tag: %w", err)
	}
	return id, nil
}
