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
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/oss-ticketing/journalcore/internal/models"
)

// ListEnabledAllowlistEntries returns an organization's enabled glob
// patterns, used both by the routing stage's allowlist check and to derive
// the "known domains" set the to_cc_scan recipient-evidence fallback uses.
func (s *Store) ListEnabledAllowlistEntries(ctx context.Context, organizationID uuid.UUID) ([]*models.AllowlistEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, organization_id, pattern, is_enabled
		FROM allowlist_entries WHERE organization_id = $1 AND is_enabled = true`,
		organizationID,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list allowlist entries: %w", err)
	}
	defer rows.Close()

	var out []*models.AllowlistEntry
	for rows.Next() {
		var a models.AllowlistEntry
		if err := rows.Scan(&a.ID, &a.OrganizationID, &a.Pattern, &a.IsEnabled); err != nil {
			return nil, fmt.Errorf("store: scan allowlist entry row: %w", err)
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

// CreateAllowlistEntry inserts a glob pattern.
func (s *Store) CreateAllowlistEntry(ctx context.Context, organizationID uuid.UUID, pattern string) (uuid.UUID, error) {
	var id uuid.UUID
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO allowlist_entries (organization_id, pattern) VALUES ($1, $2) RETURNING id`,
		organizationID, pattern,
	)
	if err := row.Scan(&id); err != nil {
		return uuid.Nil, fmt.Errorf("store: create allowlist entry: %w", err)
	}
	return id, nil
}

// ListEnabledRoutingRules returns an organization's rules in ascending
// priority order — the order the router walks them in.
func (s *Store) ListEnabledRoutingRules(ctx context.Context, organizationID uuid.UUID) ([]*models.RoutingRule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, organization_id, priority, is_enabled, match_recipient_pattern, match_sender_domain_pattern,
			match_sender_email_pattern, match_direction, action_assign_queue_id, action_assign_user_id,
			action_set_status, action_drop, action_auto_close, action_add_tag_ids
		FROM routing_rules
		WHERE organization_id = $1 AND is_enabled = true
		ORDER BY priority ASC`,
		organizationID,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list routing rules: %w", err)
	}
	defer rows.Close()

	var out []*models.RoutingRule
	for rows.Next() {
		r, err := scanRoutingRule(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan routing rule row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpsertRoutingRule inserts or replaces a routing rule (admin CRUD).
func (s *Store) UpsertRoutingRule(ctx context.Context, organizationID uuid.UUID, r *models.RoutingRule) (uuid.UUID, error) {
	var id uuid.UUID
	var setStatus *string
	if r.ActionSetStatus != "" {
		v := string(r.ActionSetStatus)
		setStatus = &v
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO routing_rules (organization_id, priority, is_enabled, match_recipient_pattern,
			match_sender_domain_pattern, match_sender_email_pattern, match_direction,
			action_assign_queue_id, action_assign_user_id, action_set_status, action_drop,
			action_auto_close, action_add_tag_ids)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,COALESCE($10,''),$11,$12,$13)
		RETURNING id`,
		organizationID, r.Priority, r.IsEnabled, r.MatchRecipientPattern, r.MatchSenderDomainPattern,
		r.MatchSenderEmailPattern, r.MatchDirection, r.ActionAssignQueueID, r.ActionAssignUserID,
		setStatus, r.ActionDrop, r.ActionAutoClose, uuidTextArray(r.ActionAddTagIDs),
	)
	if err := row.Scan(&id); err != nil {
		return uuid.Nil, fmt.Errorf("store: upsert routing rule: %w", err)
	}
	return id, nil
}

// ListQueues returns an organization's assignment queues.
func (s *Store) ListQueues(ctx context.Context, organizationID uuid.UUID) ([]*models.Queue, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, organization_id, name FROM queues WHERE organization_id = $1`,
		organizationID,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list queues: %w", err)
	}
	defer rows.Close()

	var out []*models.Queue
	for rows.Next() {
		var q models.Queue
		if err := rows.Scan(&q.ID, &q.OrganizationID, &q.Name); err != nil {
			return nil, fmt.Errorf("store: scan queue row: %w", err)
		}
		out = append(out, &q)
	}
	return out, rows.Err()
}

// QueueExists checks referential validity before a routing rule action
// assigns to a queue — queue deletion is blocked while a rule still
// references it, so a stale reference here means the rule itself is
// misconfigured, not that the queue was removed out from under it.
func (s *Store) QueueExists(ctx context.Context, organizationID, queueID uuid.UUID) (bool, error) {
	var exists bool
	row := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM queues WHERE organization_id = $1 AND id = $2)`,
		organizationID, queueID,
	)
	if err := row.Scan(&exists); err != nil {
		return false, fmt.Errorf("store: queue exists: %w", err)
	}
	return exists, nil
}

func scanRoutingRule(row rowScanner) (*models.RoutingRule, error) {
	var r models.RoutingRule
	var setStatus string
	var addTagIDs pgtype.Array[string]
	if err := row.Scan(
		&r.ID, &r.OrganizationID, &r.Priority, &r.IsEnabled, &r.MatchRecipientPattern,
		&r.MatchSenderDomainPattern, &r.MatchSenderEmailPattern, &r.MatchDirection,
		&r.ActionAssignQueueID, &r.ActionAssignUserID, &setStatus, &r.ActionDrop, &r.ActionAutoClose,
		&addTagIDs,
	); err != nil {
		return nil, err
	}
	if setStatus != "" {
		r.ActionSetStatus = models.TicketStatus(setStatus)
	}
	tagIDs, err := readUUIDArray(&addTagIDs)
	if err != nil {
		return nil, err
	}
	r.ActionAddTagIDs = tagIDs
	return &r, nil
}
