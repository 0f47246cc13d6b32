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

// CreateOrganization inserts a new tenancy root.
func (s *Store) CreateOrganization(ctx context.Context, name string) (uuid.UUID, error) {
	var id uuid.UUID
	row := s.db.QueryRowContext(ctx, `INSERT INTO organizations (name) VALUES ($1) RETURNING id`, name)
	if err := row.Scan(&id); err != nil {
		return uuid.Nil, fmt.Errorf("store: create organization: %w", err)
	}
	return id, nil
}

// GetOrganization loads one organization by id. Unlike every other store
// method, this does not take an organization-scoping parameter beyond the
// id itself, since resolving "does this organization exist" is the one
// operation that necessarily precedes scoping by it.
func (s *Store) GetOrganization(ctx context.Context, id uuid.UUID) (*models.Organization, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, name, created_at FROM organizations WHERE id = $1`, id)
	var o models.Organization
	if err := row.Scan(&o.ID, &o.Name, &o.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get organization: %w", err)
	}
	return &o, nil
}
