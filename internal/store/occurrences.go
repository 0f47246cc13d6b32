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

const occurrenceColumns = `id, organization_id, mailbox_id, provider_message_id, state,
	raw_blob_hash, raw_fetched_at, raw_fetch_error, parse_error, stitch_error, route_error,
	canonical_message_id, ticket_id, original_recipient, recipient_source, recipient_confidence,
	direction, deleted_at, parsed_at, stitched_at, routed_at, created_at, updated_at`

// UpsertDiscoveredOccurrence creates a discovered occurrence for
// (mailbox_id, provider_message_id) if absent, or returns the existing id
// and false. This is what makes running mailbox_backfill/history_sync twice
// idempotent at the occurrence layer.
func (s *Store) UpsertDiscoveredOccurrence(ctx context.Context, organizationID, mailboxID uuid.UUID, providerMessageID, direction string) (id uuid.UUID, created bool, err error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO message_occurrences (organization_id, mailbox_id, provider_message_id, direction)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (mailbox_id, provider_message_id) DO NOTHING
		RETURNING id`,
		organizationID, mailboxID, providerMessageID, direction,
	)
	if scanErr := row.Scan(&id); scanErr != nil {
		if !errors.Is(scanErr, sql.ErrNoRows) {
			return uuid.Nil, false, fmt.Errorf("store: upsert occurrence: %w", scanErr)
		}
		row := s.db.QueryRowContext(ctx, `
			SELECT id FROM message_occurrences
			WHERE organization_id = $1 AND mailbox_id = $2 AND provider_message_id = $3`,
			organizationID, mailboxID, providerMessageID,
		)
		if err := row.Scan(&id); err != nil {
			return uuid.Nil, false, fmt.Errorf("store: lookup existing occurrence: %w", err)
		}
		return id, false, nil
	}
	return id, true, nil
}

// MarkOccurrenceDeleted records a provider-side message_deleted history
// event without touching the canonical message or its ticket.
func (s *Store) MarkOccurrenceDeleted(ctx context.Context, organizationID, mailboxID uuid.UUID, providerMessageID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE message_occurrences
		SET deleted_at = now(), updated_at = now()
		WHERE organization_id = $1 AND mailbox_id = $2 AND provider_message_id = $3`,
		organizationID, mailboxID, providerMessageID,
	)
	if err != nil {
		return fmt.Errorf("store: mark occurrence deleted: %w", err)
	}
	return nil
}

// GetOccurrence loads one occurrence scoped to organizationID.
func (s *Store) GetOccurrence(ctx context.Context, organizationID, occurrenceID uuid.UUID) (*models.MessageOccurrence, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+occurrenceColumns+`
		FROM message_occurrences WHERE organization_id = $1 AND id = $2`,
		organizationID, occurrenceID,
	)
	occ, err := scanOccurrence(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get occurrence: %w", err)
	}
	return occ, nil
}

// RecordRawFetched stores the blob pointer and marks state=fetched. A call
// on an occurrence that already has a blob hash updates nothing and returns
// ErrNotFound, so a retried fetch never overwrites an already-stored blob hash.
func (s *Store) RecordRawFetched(ctx context.Context, organizationID, occurrenceID uuid.UUID, blobHash string) error {
	return s.execScoped(ctx, organizationID, `
		UPDATE message_occurrences
		SET raw_blob_hash = $3, raw_fetched_at = now(), state = 'fetched', raw_fetch_error = '', updated_at = now()
		WHERE organization_id = $1 AND id = $2 AND raw_blob_hash = ''`,
		occurrenceID, blobHash,
	)
}

// RecordFetchError isolates a fetch-stage failure onto raw_fetch_error.
func (s *Store) RecordFetchError(ctx context.Context, organizationID, occurrenceID uuid.UUID, fetchErr error) error {
	return s.execScoped(ctx, organizationID, `
		UPDATE message_occurrences SET raw_fetch_error = $3, updated_at = now()
		WHERE organization_id = $1 AND id = $2`,
		occurrenceID, fetchErr.Error(),
	)
}

// RecordParsed links the occurrence to its canonical message and evidence,
// and marks state=parsed.
func (s *Store) RecordParsed(ctx context.Context, organizationID, occurrenceID, canonicalMessageID uuid.UUID, evidence models.RecipientEvidence, direction string) error {
	return s.execScoped(ctx, organizationID, `
		UPDATE message_occurrences
		SET canonical_message_id = $3, original_recipient = $4, recipient_source = $5,
		    recipient_confidence = $6, direction = $7, state = 'parsed', parsed_at = now(),
		    parse_error = '', updated_at = now()
		WHERE organization_id = $1 AND id = $2`,
		occurrenceID, canonicalMessageID, evidence.OriginalRecipient, string(evidence.Source), string(evidence.Confidence), direction,
	)
}

// RecordParseError isolates a parse-stage failure and sets state=failed —
// malformed MIME is terminal, so this always moves to failed rather than
// leaving state where it was.
func (s *Store) RecordParseError(ctx context.Context, organizationID, occurrenceID uuid.UUID, parseErr error) error {
	return s.execScoped(ctx, organizationID, `
		UPDATE message_occurrences SET parse_error = $3, state = 'failed', updated_at = now()
		WHERE organization_id = $1 AND id = $2`,
		occurrenceID, parseErr.Error(),
	)
}

// RecordStitched links the occurrence to its ticket and marks state=stitched.
func (s *Store) RecordStitched(ctx context.Context, organizationID, occurrenceID, ticketID uuid.UUID) error {
	return s.execScoped(ctx, organizationID, `
		UPDATE message_occurrences
		SET ticket_id = $3, state = 'stitched', stitched_at = now(), stitch_error = '', updated_at = now()
		WHERE organization_id = $1 AND id = $2`,
		occurrenceID, ticketID,
	)
}

// RecordStitchError isolates a stitch-stage failure onto stitch_error.
func (s *Store) RecordStitchError(ctx context.Context, organizationID, occurrenceID uuid.UUID, stitchErr error) error {
	return s.execScoped(ctx, organizationID, `
		UPDATE message_occurrences SET stitch_error = $3, updated_at = now()
		WHERE organization_id = $1 AND id = $2`,
		occurrenceID, stitchErr.Error(),
	)
}

// RecordRouted marks state=routed, clearing route_error.
func (s *Store) RecordRouted(ctx context.Context, organizationID, occurrenceID uuid.UUID) error {
	return s.execScoped(ctx, organizationID, `
		UPDATE message_occurrences
		SET state = 'routed', routed_at = now(), route_error = '', updated_at = now()
		WHERE organization_id = $1 AND id = $2`,
		occurrenceID,
	)
}

// RecordRouteError isolates a routing-stage failure onto route_error,
// without changing state — a misconfigured rule fails closed rather than
// failing the occurrence.
func (s *Store) RecordRouteError(ctx context.Context, organizationID, occurrenceID uuid.UUID, routeErr error) error {
	return s.execScoped(ctx, organizationID, `
		UPDATE message_occurrences SET route_error = $3, updated_at = now()
		WHERE organization_id = $1 AND id = $2`,
		occurrenceID, routeErr.Error(),
	)
}

// ListOccurrencesByTicket returns every occurrence stitched to a ticket,
// oldest first. FirstMessageAt computes first_message_at with its own
// query rather than through this listing.
func (s *Store) ListOccurrencesByTicket(ctx context.Context, organizationID, ticketID uuid.UUID) ([]*models.MessageOccurrence, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+occurrenceColumns+`
		FROM message_occurrences
		WHERE organization_id = $1 AND ticket_id = $2
		ORDER BY created_at ASC`,
		organizationID, ticketID,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list occurrences by ticket: %w", err)
	}
	defer rows.Close()

	var out []*models.MessageOccurrence
	for rows.Next() {
		occ, err := scanOccurrence(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan occurrence row: %w", err)
		}
		out = append(out, occ)
	}
	return out, rows.Err()
}

// FirstMessageAt returns the earliest occurrence's created_at for a ticket.
func (s *Store) FirstMessageAt(ctx context.Context, organizationID, ticketID uuid.UUID) (time.Time, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT min(created_at) FROM message_occurrences
		WHERE organization_id = $1 AND ticket_id = $2`,
		organizationID, ticketID,
	)
	var t sql.NullTime
	if err := row.Scan(&t); err != nil {
		return time.Time{}, fmt.Errorf("store: first message at: %w", err)
	}
	return t.Time, nil
}

func scanOccurrence(row rowScanner) (*models.MessageOccurrence, error) {
	var occ models.MessageOccurrence
	var state, recipientSource, recipientConfidence string
	if err := row.Scan(
		&occ.ID, &occ.OrganizationID, &occ.MailboxID, &occ.ProviderMessageID, &state,
		&occ.RawBlobHash, &occ.RawFetchedAt, &occ.RawFetchError, &occ.ParseError, &occ.StitchError, &occ.RouteError,
		&occ.CanonicalMessageID, &occ.TicketID, &occ.OriginalRecipient, &recipientSource, &recipientConfidence,
		&occ.Direction, &occ.DeletedAt, &occ.ParsedAt, &occ.StitchedAt, &occ.RoutedAt, &occ.CreatedAt, &occ.UpdatedAt,
	); err != nil {
		return nil, err
	}
	occ.State = models.OccurrenceState(state)
	occ.RecipientSource = models.RecipientSource(recipientSource)
	occ.RecipientConfidence = models.Confidence(recipientConfidence)
	return &occ, nil
}
