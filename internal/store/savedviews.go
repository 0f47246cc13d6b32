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

	"github.com/oss-ticketing/journalcore/internal/models"
)

// ListSavedViews returns every saved view visible to ownerUserID: the
// organization-wide ones (owner_user_id NULL) plus the caller's own.
func (s *Store) ListSavedViews(ctx context.Context, organizationID uuid.UUID, ownerUserID *uuid.UUID) ([]*models.SavedView, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, organization_id, owner_user_id, name, filter_json
		FROM saved_views
		WHERE organization_id = $1 AND (owner_user_id IS NULL OR owner_user_id = $2)
		ORDER BY name`,
		organizationID, ownerUserID,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list saved views: %w", err)
	}
	defer rows.Close()

	var out []*models.SavedView
	for rows.Next() {
		var v models.SavedView
		if err := rows.Scan(&v.ID, &v.OrganizationID, &v.OwnerUserID, &v.Name, &v.FilterJSON); err != nil {
			return nil, fmt.Errorf("store: scan saved view row: %w", err)
		}
		out = append(out, &v)
	}
	return out, rows.Err()
}

// UpsertSavedView inserts a new saved view, or replaces one the caller owns
// (matched by organization + owner + name).
func (s *Store) UpsertSavedView(ctx context.Context, organizationID uuid.UUID, v *models.SavedView) (uuid.UUID, error) {
	var id uuid.UUID
	err := s.db.QueryRowContext(ctx, `
		UPDATE saved_views SET filter_json = $4
		WHERE organization_id = $1 AND owner_user_id IS NOT DISTINCT FROM $2 AND name = $3
		RETURNING id`,
		organizationID, v.OwnerUserID, v.Name, v.FilterJSON,
	).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return uuid.Nil, fmt.Errorf("store: upsert saved view: %w", err)
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO saved_views (organization_id, owner_user_id, name, filter_json)
		VALUES ($1, $2, $3, $4)
		RETURNING id`,
		organizationID, v.OwnerUserID, v.Name, v.FilterJSON,
	)
	if err := row.Scan(&id); err != nil {
		return uuid.Nil, fmt.Errorf("store: upsert saved view: %w", err)
	}
	return id, nil
}

// DeleteSavedView removes a saved view scoped to the organization.
func (s *Store) DeleteSavedView(ctx context.Context, organizationID, viewID uuid.UUID) error {
	return s.execScoped(ctx, organizationID, `
		DELETE FROM saved_views WHERE organization_id = $1 AND id = $2`,
		viewID,
	)
}

// CreateOutboundSendIntent persists the core-side half of an outbound
// reply: validated and queued, with the actual SMTP handoff left to an
// external collaborator.
func (s *Store) CreateOutboundSendIntent(ctx context.Context, organizationID uuid.UUID, intent *models.OutboundSendIntent) (uuid.UUID, error) {
	var id uuid.UUID
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO outbound_send_intents (organization_id, ticket_id, in_reply_to_message_id, recipients, body_text, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		organizationID, intent.TicketID, intent.InReplyToMessageID, textArray(intent.Recipients), intent.BodyText, string(intent.Status),
	)
	if err := row.Scan(&id); err != nil {
		return uuid.Nil, fmt.Errorf("store: create outbound send intent: %w", err)
	}
	return id, nil
}

// UpdateOutboundSendStatus transitions an outbound intent to sent/failed.
func (s *Store) UpdateOutboundSendStatus(ctx context.Context, organizationID, intentID uuid.UUID, status models.OutboundSendStatus, sendErr string) error {
	return s.execScoped(ctx, organizationID, `
		UPDATE outbound_send_intents SET status = $3, error = $4
		WHERE organization_id = $1 AND id = $2`,
		intentID, string(status), sendErr,
	)
}
