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

const ticketColumns = `id, organization_id, code, status, priority, requester_email, requester_name,
	assignee_user_id, assignee_queue_id, stitch_reason, stitch_confidence, subject,
	last_activity_at, closed_at, created_at, updated_at`

// CreateTicket inserts a new ticket under the caller-supplied human-facing
// code, which must be unique within the organization. The code is not
// generated here; see internal/pipeline/stitch.go's ticket-code allocator.
func (s *Store) CreateTicket(ctx context.Context, organizationID uuid.UUID, t *models.Ticket) (uuid.UUID, error) {
	var id uuid.UUID
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO tickets (organization_id, code, status, priority, requester_email, requester_name,
			stitch_reason, stitch_confidence, subject)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING id`,
		organizationID, t.Code, string(t.Status), t.Priority, t.RequesterEmail, t.RequesterName,
		string(t.StitchReason), string(t.StitchConfidence), t.Subject,
	)
	if err := row.Scan(&id); err != nil {
		return uuid.Nil, fmt.Errorf("store: create ticket: %w", err)
	}
	return id, nil
}

// GetTicket loads one ticket scoped to organizationID.
func (s *Store) GetTicket(ctx context.Context, organizationID, ticketID uuid.UUID) (*models.Ticket, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets WHERE organization_id = $1 AND id = $2`,
		organizationID, ticketID,
	)
	t, err := scanTicket(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get ticket: %w", err)
	}
	return t, nil
}

// FindOpenTicketBySubjectAndRequester backs stitch priority 4: an open
// ticket matching normalized subject and requester within a fixed window.
func (s *Store) FindOpenTicketBySubjectAndRequester(ctx context.Context, organizationID uuid.UUID, subjectNorm, requesterEmail string, within time.Duration) (*models.Ticket, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets
		WHERE organization_id = $1 AND requester_email = $2
		  AND status NOT IN ('closed', 'resolved', 'spam')
		  AND lower(regexp_replace(subject, '^(re|fwd?):\s*', '', 'i')) = lower($3)
		  AND last_activity_at > now() - $4::interval
		ORDER BY last_activity_at DESC
		LIMIT 1`,
		organizationID, requesterEmail, subjectNorm, within.String(),
	)
	t, err := scanTicket(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: find ticket by subject/requester: %w", err)
	}
	return t, nil
}

// GetTicketByCode backs stitch priority 2's reply-to token match — the
// token in a `ticket+<code>@…` alias is the ticket's own code.
func (s *Store) GetTicketByCode(ctx context.Context, organizationID uuid.UUID, code string) (*models.Ticket, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets WHERE organization_id = $1 AND code = $2`,
		organizationID, code,
	)
	t, err := scanTicket(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get ticket by code: %w", err)
	}
	return t, nil
}

// TouchActivity bumps last_activity_at — every occurrence routed to a
// ticket, inbound or outbound-mirrored, counts as activity.
func (s *Store) TouchActivity(ctx context.Context, organizationID, ticketID uuid.UUID) error {
	return s.execScoped(ctx, organizationID, `
		UPDATE tickets SET last_activity_at = now(), updated_at = now()
		WHERE organization_id = $1 AND id = $2`,
		ticketID,
	)
}

// SetStatus sets a ticket's status, stamping closed_at when transitioning
// into a closed/resolved state and clearing it otherwise.
func (s *Store) SetStatus(ctx context.Context, organizationID, ticketID uuid.UUID, status models.TicketStatus) error {
	closesTicket := status == models.TicketClosed || status == models.TicketResolved
	if closesTicket {
		return s.execScoped(ctx, organizationID, `
			UPDATE tickets SET status = $3, closed_at = now(), updated_at = now()
			WHERE organization_id = $1 AND id = $2`,
			ticketID, string(status),
		)
	}
	return s.execScoped(ctx, organizationID, `
		UPDATE tickets SET status = $3, closed_at = NULL, updated_at = now()
		WHERE organization_id = $1 AND id = $2`,
		ticketID, string(status),
	)
}

// AssignQueue sets assignee_queue_id and clears assignee_user_id, enforcing
// the mutual-exclusion invariant at the call site.
func (s *Store) AssignQueue(ctx context.Context, organizationID, ticketID, queueID uuid.UUID) error {
	return s.execScoped(ctx, organizationID, `
		UPDATE tickets SET assignee_queue_id = $3, assignee_user_id = NULL, updated_at = now()
		WHERE organization_id = $1 AND id = $2`,
		ticketID, queueID,
	)
}

// AssignUser sets assignee_user_id and clears assignee_queue_id.
func (s *Store) AssignUser(ctx context.Context, organizationID, ticketID, userID uuid.UUID) error {
	return s.execScoped(ctx, organizationID, `
		UPDATE tickets SET assignee_user_id = $3, assignee_queue_id = NULL, updated_at = now()
		WHERE organization_id = $1 AND id = $2`,
		ticketID, userID,
	)
}

// DropTicket hard-deletes a ticket, per the routing "drop" action — the
// caller is expected to have already cleared the occurrence's stitched
// link before calling this.
func (s *Store) DropTicket(ctx context.Context, organizationID, ticketID uuid.UUID) error {
	return s.execScoped(ctx, organizationID, `
		DELETE FROM tickets WHERE organization_id = $1 AND id = $2`,
		ticketID,
	)
}

// DropTicketAndUnlink implements the routing "drop" action atomically:
// both foreign-key holders (the occurrence and its canonical message) are
// nulled out before the ticket row itself is deleted, since neither
// reference cascades.
func (s *Store) DropTicketAndUnlink(ctx context.Context, organizationID, ticketID, occurrenceID, canonicalMessageID uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin drop ticket tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE message_occurrences SET ticket_id = NULL, updated_at = now()
		WHERE organization_id = $1 AND id = $2`,
		organizationID, occurrenceID,
	); err != nil {
		return fmt.Errorf("store: unlink occurrence from ticket: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE canonical_messages SET ticket_id = NULL, updated_at = now()
		WHERE organization_id = $1 AND id = $2`,
		organizationID, canonicalMessageID,
	); err != nil {
		return fmt.Errorf("store: unlink canonical message from ticket: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM tickets WHERE organization_id = $1 AND id = $2`,
		organizationID, ticketID,
	); err != nil {
		return fmt.Errorf("store: delete dropped ticket: %w", err)
	}
	return tx.Commit()
}

// ListTickets returns a page of tickets for the inbox list, filtered by
// status when non-empty, newest activity first.
func (s *Store) ListTickets(ctx context.Context, organizationID uuid.UUID, status models.TicketStatus, limit, offset int) ([]*models.Ticket, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows *sql.Rows
	var err error
	if status == "" {
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+ticketColumns+`
			FROM tickets WHERE organization_id = $1
			ORDER BY last_activity_at DESC LIMIT $2 OFFSET $3`,
			organizationID, limit, offset,
		)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+ticketColumns+`
			FROM tickets WHERE organization_id = $1 AND status = $2
			ORDER BY last_activity_at DESC LIMIT $3 OFFSET $4`,
			organizationID, string(status), limit, offset,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("store: list tickets: %w", err)
	}
	defer rows.Close()

	var out []*models.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan ticket row: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// AppendTicketEvent inserts an audit row — the pipeline never mutates a
// ticket without a matching call to this.
func (s *Store) AppendTicketEvent(ctx context.Context, organizationID, ticketID uuid.UUID, actorUserID *uuid.UUID, eventType string, eventData []byte) error {
	if eventData == nil {
		eventData = []byte("{}")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ticket_events (organization_id, ticket_id, actor_user_id, event_type, event_data)
		VALUES ($1, $2, $3, $4, $5)`,
		organizationID, ticketID, actorUserID, eventType, eventData,
	)
	if err != nil {
		return fmt.Errorf("store: append ticket event: %w", err)
	}
	return nil
}

// ListTicketEvents returns a ticket's audit trail, newest first.
func (s *Store) ListTicketEvents(ctx context.Context, organizationID, ticketID uuid.UUID, limit int) ([]*models.TicketEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, organization_id, ticket_id, actor_user_id, event_type, event_data, created_at
		FROM ticket_events WHERE organization_id = $1 AND ticket_id = $2
		ORDER BY created_at DESC LIMIT $3`,
		organizationID, ticketID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list ticket events: %w", err)
	}
	defer rows.Close()

	var out []*models.TicketEvent
	for rows.Next() {
		var e models.TicketEvent
		if err := rows.Scan(&e.ID, &e.OrganizationID, &e.TicketID, &e.ActorUserID, &e.EventType, &e.EventData, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan ticket event row: %w", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// AddTicketTags attaches a set of tag ids to a ticket, ignoring ones
// already attached.
func (s *Store) AddTicketTags(ctx context.Context, organizationID, ticketID uuid.UUID, tagIDs []uuid.UUID) error {
	for _, tagID := range tagIDs {
		if _, err := s.db.ExecContext(ctx, `
			INSERT INTO ticket_tags (organization_id, ticket_id, tag_id)
			VALUES ($1, $2, $3)
			ON CONFLICT DO NOTHING`,
			organizationID, ticketID, tagID,
		); err != nil {
			return fmt.Errorf("store: add ticket tag %s: %w", tagID, err)
		}
	}
	return nil
}

// ListTicketTags returns a ticket's attached tags.
func (s *Store) ListTicketTags(ctx context.Context, organizationID, ticketID uuid.UUID) ([]*models.Tag, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.organization_id, t.name
		FROM tags t
		JOIN ticket_tags tt ON tt.tag_id = t.id
		WHERE tt.organization_id = $1 AND tt.ticket_id = $2`,
		organizationID, ticketID,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list ticket tags: %w", err)
	}
	defer rows.Close()

	var out []*models.Tag
	for rows.Next() {
		var tag models.Tag
		if err := rows.Scan(&tag.ID, &tag.OrganizationID, &tag.Name); err != nil {
			return nil, fmt.Errorf("store: scan tag row: %w", err)
		}
		out = append(out, &tag)
	}
	return out, rows.Err()
}

// CreateTag inserts a new organization-scoped label.
func (s *Store) CreateTag(ctx context.Context, organizationID uuid.UUID, name string) (uuid.UUID, error) {
	var id uuid.UUID
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO tags (organization_id, name)
		VALUES ($1, $2)
		RETURNING id`,
		organizationID, name,
	)
	if err := row.Scan(&id); err != nil {
		return uuid.Nil, fmt.Errorf("store: create tag: %w", err)
	}
	return id, nil
}

// ListTags returns every tag defined for an organization.
func (s *Store) ListTags(ctx context.Context, organizationID uuid.UUID) ([]*models.Tag, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, organization_id, name FROM tags WHERE organization_id = $1 ORDER BY name`,
		organizationID,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list tags: %w", err)
	}
	defer rows.Close()

	var out []*models.Tag
	for rows.Next() {
		var tag models.Tag
		if err := rows.Scan(&tag.ID, &tag.OrganizationID, &tag.Name); err != nil {
			return nil, fmt.Errorf("store: scan tag row: %w", err)
		}
		out = append(out, &tag)
	}
	return out, rows.Err()
}

func scanTicket(row rowScanner) (*models.Ticket, error) {
	var t models.Ticket
	var status, stitchReason, stitchConfidence string
	if err := row.Scan(
		&t.ID, &t.OrganizationID, &t.Code, &status, &t.Priority, &t.RequesterEmail, &t.RequesterName,
		&t.AssigneeUserID, &t.AssigneeQueueID, &stitchReason, &stitchConfidence, &t.Subject,
		&t.LastActivityAt, &t.ClosedAt, &t.CreatedAt, &t.UpdatedAt,
	); err != nil {
		return nil, err
	}
	t.Status = models.TicketStatus(status)
	t.StitchReason = models.StitchReason(stitchReason)
	t.StitchConfidence = models.Confidence(stitchConfidence)
	return &t, nil
}
