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

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/oss-ticketing/journalcore/internal/models"
)

const canonicalColumns = `id, organization_id, fingerprint_v1, signature_v1, subject, subject_norm,
	from_email, from_name, to_emails, cc_emails, reply_to, date_header, rfc_message_id, references_ids,
	in_reply_to, snippet, body_text, body_html_safe, parser_version, sanitizer_revision,
	x_oss_ticket_id, x_oss_message_id, collision_group_id, ticket_id, created_at, updated_at`

// UpsertCanonicalResult tells the parse stage what happened to the
// candidate it submitted.
type UpsertCanonicalResult struct {
	Message   *models.CanonicalMessage
	Reused    bool // signature matched an existing row; caller should not re-store attachments
	Collision bool // fingerprint matched, signature differed; both rows now share CollisionGroupID
}

// UpsertCanonicalMessage inserts on (organization_id, fingerprint_v1); on
// conflict, compares signature_v1 to decide reuse vs. collision.
func (s *Store) UpsertCanonicalMessage(ctx context.Context, organizationID uuid.UUID, candidate *models.CanonicalMessage) (*UpsertCanonicalResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: begin upsert canonical tx: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		INSERT INTO canonical_messages (
			organization_id, fingerprint_v1, signature_v1, subject, subject_norm, from_email, from_name,
			to_emails, cc_emails, reply_to, date_header, rfc_message_id, references_ids, in_reply_to,
			snippet, body_text, body_html_safe, parser_version, sanitizer_revision
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
		ON CONFLICT (organization_id, fingerprint_v1) DO NOTHING
		RETURNING `+canonicalColumns,
		organizationID, candidate.FingerprintV1, candidate.SignatureV1, candidate.Subject, candidate.SubjectNorm,
		candidate.FromEmail, candidate.FromName, textArray(candidate.ToEmails), textArray(candidate.CcEmails),
		textArray(candidate.ReplyTo), candidate.DateHeader, candidate.RFCMessageID, textArray(candidate.References),
		candidate.InReplyTo, candidate.Snippet, candidate.BodyText, candidate.BodyHTMLSafe, candidate.ParserVersion,
		candidate.SanitizerRevision,
	)
	inserted, err := scanCanonical(row)
	if err == nil {
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("store: commit upsert canonical tx: %w", err)
		}
		return &UpsertCanonicalResult{Message: inserted}, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: insert canonical: %w", err)
	}

	existingRow := tx.QueryRowContext(ctx, `
		SELECT `+canonicalColumns+`
		FROM canonical_messages
		WHERE organization_id = $1 AND fingerprint_v1 = $2 FOR UPDATE`,
		organizationID, candidate.FingerprintV1,
	)
	existing, err := scanCanonical(existingRow)
	if err != nil {
		return nil, fmt.Errorf("store: read conflicting canonical: %w", err)
	}

	if bytesEqual(existing.SignatureV1, candidate.SignatureV1) {
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("store: commit reuse tx: %w", err)
		}
		return &UpsertCanonicalResult{Message: existing, Reused: true}, nil
	}

	groupID := existing.CollisionGroupID
	if groupID == nil {
		var newGroup uuid.UUID
		if err := tx.QueryRowContext(ctx, `
			INSERT INTO collision_groups (organization_id) VALUES ($1) RETURNING id`,
			organizationID,
		).Scan(&newGroup); err != nil {
			return nil, fmt.Errorf("store: create collision group: %w", err)
		}
		groupID = &newGroup
		if _, err := tx.ExecContext(ctx, `
			UPDATE canonical_messages SET collision_group_id = $3, updated_at = now()
			WHERE organization_id = $1 AND id = $2`,
			organizationID, existing.ID, newGroup,
		); err != nil {
			return nil, fmt.Errorf("store: attach existing to collision group: %w", err)
		}
		existing.CollisionGroupID = groupID
	}

	candidate.CollisionGroupID = groupID
	newRow := tx.QueryRowContext(ctx, `
		INSERT INTO canonical_messages (
			organization_id, fingerprint_v1, signature_v1, subject, subject_norm, from_email, from_name,
			to_emails, cc_emails, reply_to, date_header, rfc_message_id, references_ids, in_reply_to,
			snippet, body_text, body_html_safe, parser_version, sanitizer_revision, collision_group_id
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
		RETURNING `+canonicalColumns,
		organizationID, candidate.FingerprintV1, candidate.SignatureV1, candidate.Subject, candidate.SubjectNorm,
		candidate.FromEmail, candidate.FromName, textArray(candidate.ToEmails), textArray(candidate.CcEmails),
		textArray(candidate.ReplyTo), candidate.DateHeader, candidate.RFCMessageID, textArray(candidate.References),
		candidate.InReplyTo, candidate.Snippet, candidate.BodyText, candidate.BodyHTMLSafe, candidate.ParserVersion,
		candidate.SanitizerRevision, groupID,
	)
	colliding, err := scanCanonical(newRow)
	if err != nil {
		return nil, fmt.Errorf("store: insert colliding canonical: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: commit collision tx: %w", err)
	}
	return &UpsertCanonicalResult{Message: colliding, Collision: true}, nil
}

// GetCanonicalMessage loads one canonical message scoped to organizationID.
func (s *Store) GetCanonicalMessage(ctx context.Context, organizationID, canonicalMessageID uuid.UUID) (*models.CanonicalMessage, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+canonicalColumns+`
		FROM canonical_messages WHERE organization_id = $1 AND id = $2`,
		organizationID, canonicalMessageID,
	)
	m, err := scanCanonical(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get canonical message: %w", err)
	}
	return m, nil
}

// FindByXOSSTicketID looks up a canonical message by its outbound marker.
// Stitch priority 1 does not go through it: the stitch stage loads the
// marked ticket directly with GetTicket.
func (s *Store) FindByXOSSTicketID(ctx context.Context, organizationID, xossTicketID uuid.UUID) (*models.CanonicalMessage, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+canonicalColumns+`
		FROM canonical_messages WHERE organization_id = $1 AND x_oss_ticket_id = $2
		LIMIT 1`,
		organizationID, xossTicketID,
	)
	m, err := scanCanonical(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: find by x-oss-ticket-id: %w", err)
	}
	return m, nil
}

// LinkRFCMessageID records an rfc_message_id -> canonical_message_id
// mapping for later reference-graph lookups.
func (s *Store) LinkRFCMessageID(ctx context.Context, organizationID uuid.UUID, rfcMessageID string, canonicalMessageID uuid.UUID) error {
	if rfcMessageID == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rfc_message_index (organization_id, rfc_message_id, canonical_message_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (organization_id, rfc_message_id) DO NOTHING`,
		organizationID, rfcMessageID, canonicalMessageID,
	)
	if err != nil {
		return fmt.Errorf("store: link rfc message id: %w", err)
	}
	return nil
}

// LinkOSSMessageID records an x_oss_message_id -> canonical_message_id
// mapping.
func (s *Store) LinkOSSMessageID(ctx context.Context, organizationID, xossMessageID, canonicalMessageID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO oss_message_index (organization_id, x_oss_message_id, canonical_message_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (organization_id, x_oss_message_id) DO NOTHING`,
		organizationID, xossMessageID, canonicalMessageID,
	)
	if err != nil {
		return fmt.Errorf("store: link oss message id: %w", err)
	}
	return nil
}

// ResolveReferenceGraph looks up a ticket by threading id, checking
// rfc_message_index first and falling back to oss_message_index — backing
// stitch priority 3.
func (s *Store) ResolveReferenceGraph(ctx context.Context, organizationID uuid.UUID, messageID string) (ticketID uuid.UUID, ok bool, err error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT cm.ticket_id FROM rfc_message_index idx
		JOIN canonical_messages cm ON cm.id = idx.canonical_message_id
		WHERE idx.organization_id = $1 AND idx.rfc_message_id = $2 AND cm.ticket_id IS NOT NULL`,
		organizationID, messageID,
	)
	var ticket uuid.UUID
	if err := row.Scan(&ticket); err == nil {
		return ticket, true, nil
	} else if !errors.Is(err, sql.ErrNoRows) {
		return uuid.Nil, false, fmt.Errorf("store: resolve rfc reference: %w", err)
	}

	// messageID may instead be one of our own outbound markers threaded
	// back by the recipient's reply: an X-OSS-Message-ID never gets an
	// rfc_message_index entry, only an oss_message_index one.
	xossMessageID, parseErr := uuid.Parse(messageID)
	if parseErr != nil {
		return uuid.Nil, false, nil
	}
	ossRow := s.db.QueryRowContext(ctx, `
		SELECT cm.ticket_id FROM oss_message_index idx
		JOIN canonical_messages cm ON cm.id = idx.canonical_message_id
		WHERE idx.organization_id = $1 AND idx.x_oss_message_id = $2 AND cm.ticket_id IS NOT NULL`,
		organizationID, xossMessageID,
	)
	if err := ossRow.Scan(&ticket); err == nil {
		return ticket, true, nil
	} else if !errors.Is(err, sql.ErrNoRows) {
		return uuid.Nil, false, fmt.Errorf("store: resolve oss reference: %w", err)
	}
	return uuid.Nil, false, nil
}

// SetCanonicalTicketID links a canonical message to the ticket that owns it — the
// authoritative side of the tickets<->canonical_messages cycle.
func (s *Store) SetCanonicalTicketID(ctx context.Context, organizationID, canonicalMessageID, ticketID uuid.UUID) error {
	return s.execScoped(ctx, organizationID, `
		UPDATE canonical_messages SET ticket_id = $3, updated_at = now()
		WHERE organization_id = $1 AND id = $2`,
		canonicalMessageID, ticketID,
	)
}

// SetOutboundMarkers stamps the outbound marker fields on a canonical
// message once an outbound_send intent has been rendered against it.
func (s *Store) SetOutboundMarkers(ctx context.Context, organizationID, canonicalMessageID, xossTicketID, xossMessageID uuid.UUID) error {
	return s.execScoped(ctx, organizationID, `
		UPDATE canonical_messages SET x_oss_ticket_id = $3, x_oss_message_id = $4, updated_at = now()
		WHERE organization_id = $1 AND id = $2`,
		canonicalMessageID, xossTicketID, xossMessageID,
	)
}

// ListCollisionGroupMembers returns every canonical message sharing a
// collision group, for the admin collision review endpoint.
func (s *Store) ListCollisionGroupMembers(ctx context.Context, organizationID, groupID uuid.UUID) ([]*models.CanonicalMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+canonicalColumns+`
		FROM canonical_messages WHERE organization_id = $1 AND collision_group_id = $2
		ORDER BY created_at`,
		organizationID, groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list collision group members: %w", err)
	}
	defer rows.Close()

	var out []*models.CanonicalMessage
	for rows.Next() {
		m, err := scanCanonical(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan collision member: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ListUngroupedFingerprintCollisions finds fingerprints shared by more than
// one canonical message that have not yet been assigned a collision group —
// backing the admin "collision backfill" rescan.
func (s *Store) ListUngroupedFingerprintCollisions(ctx context.Context, organizationID uuid.UUID) ([][]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT array_agg(id ORDER BY created_at)
		FROM canonical_messages
		WHERE organization_id = $1 AND collision_group_id IS NULL
		GROUP BY fingerprint_v1
		HAVING count(*) > 1`,
		organizationID,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list ungrouped collisions: %w", err)
	}
	defer rows.Close()

	var out [][]uuid.UUID
	for rows.Next() {
		var ids pgtype.Array[string]
		if err := rows.Scan(&ids); err != nil {
			return nil, fmt.Errorf("store: scan ungrouped collision row: %w", err)
		}
		group, err := readUUIDArray(&ids)
		if err != nil {
			return nil, fmt.Errorf("store: parse collision member ids: %w", err)
		}
		out = append(out, group)
	}
	return out, rows.Err()
}

// AssignCollisionGroup creates a fresh collision group and attaches every
// listed canonical message to it, used by the collision backfill rescan.
func (s *Store) AssignCollisionGroup(ctx context.Context, organizationID uuid.UUID, canonicalMessageIDs []uuid.UUID) (uuid.UUID, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return uuid.Nil, fmt.Errorf("store: begin assign collision group tx: %w", err)
	}
	defer tx.Rollback()

	var groupID uuid.UUID
	if err := tx.QueryRowContext(ctx, `
		INSERT INTO collision_groups (organization_id) VALUES ($1) RETURNING id`,
		organizationID,
	).Scan(&groupID); err != nil {
		return uuid.Nil, fmt.Errorf("store: create collision group: %w", err)
	}

	for _, id := range canonicalMessageIDs {
		if _, err := tx.ExecContext(ctx, `
			UPDATE canonical_messages SET collision_group_id = $3, updated_at = now()
			WHERE organization_id = $1 AND id = $2`,
			organizationID, id, groupID,
		); err != nil {
			return uuid.Nil, fmt.Errorf("store: attach %s to collision group: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return uuid.Nil, fmt.Errorf("store: commit assign collision group tx: %w", err)
	}
	return groupID, nil
}

// PutAttachment records attachment metadata; the payload itself already
// lives in the Blob Store under contentHash.
func (s *Store) PutAttachment(ctx context.Context, organizationID, canonicalMessageID uuid.UUID, a *models.Attachment) (uuid.UUID, error) {
	var id uuid.UUID
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO attachments (organization_id, canonical_message_id, content_hash, filename, content_type, size_bytes, is_inline, content_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (canonical_message_id, content_hash) DO UPDATE SET filename = EXCLUDED.filename
		RETURNING id`,
		organizationID, canonicalMessageID, a.ContentHash, a.Filename, a.ContentType, a.SizeBytes, a.IsInline, a.ContentID,
	)
	if err := row.Scan(&id); err != nil {
		return uuid.Nil, fmt.Errorf("store: put attachment: %w", err)
	}
	return id, nil
}

// ListAttachments returns every attachment for a canonical message. The
// parse stage resolves cid: references from the message's own inline MIME
// parts, not through this listing.
func (s *Store) ListAttachments(ctx context.Context, organizationID, canonicalMessageID uuid.UUID) ([]*models.Attachment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, organization_id, canonical_message_id, content_hash, filename, content_type, size_bytes, is_inline, content_id, created_at
		FROM attachments WHERE organization_id = $1 AND canonical_message_id = $2`,
		organizationID, canonicalMessageID,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list attachments: %w", err)
	}
	defer rows.Close()

	var out []*models.Attachment
	for rows.Next() {
		var a models.Attachment
		if err := rows.Scan(&a.ID, &a.OrganizationID, &a.CanonicalMessageID, &a.ContentHash, &a.Filename,
			&a.ContentType, &a.SizeBytes, &a.IsInline, &a.ContentID, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan attachment row: %w", err)
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func scanCanonical(row rowScanner) (*models.CanonicalMessage, error) {
	var m models.CanonicalMessage
	var toEmails, ccEmails, replyTo, references pgtype.Array[string]
	if err := row.Scan(
		&m.ID, &m.OrganizationID, &m.FingerprintV1, &m.SignatureV1, &m.Subject, &m.SubjectNorm,
		&m.FromEmail, &m.FromName, &toEmails, &ccEmails, &replyTo,
		&m.DateHeader, &m.RFCMessageID, &references, &m.InReplyTo, &m.Snippet, &m.BodyText,
		&m.BodyHTMLSafe, &m.ParserVersion, &m.SanitizerRevision, &m.XOSSTicketID, &m.XOSSMessageID,
		&m.CollisionGroupID, &m.TicketID, &m.CreatedAt, &m.UpdatedAt,
	); err != nil {
		return nil, err
	}
	m.ToEmails = readTextArray(&toEmails)
	m.CcEmails = readTextArray(&ccEmails)
	m.ReplyTo = readTextArray(&replyTo)
	m.References = readTextArray(&references)
	return &m, nil
}
