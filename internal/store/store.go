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

// Package store is the relational system of record: occurrences, canonical
// messages, tickets, routing tables, and the read-side CRUD the admin
// surface needs. Every exported method except CreateOrganization,
// GetOrganization and FindMailboxByEmail takes an organization id as its
// second argument (after ctx), and every statement those methods issue
// filters on organization_id — there is no lower-level query path that
// could bypass tenant isolation. FindMailboxByEmail is the one lookup
// across organizations: the push webhook uses it to learn which
// organization a notification's mailbox belongs to.
package store

import (
	"database/sql"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

// Store is the Postgres-backed canonical store. It shares its *sql.DB with
// internal/queue so job-state transitions and canonical-data mutations can
// be composed in the same transaction where the pipeline needs that.
type Store struct {
	db *sql.DB
}

// New creates a Store bound to db (opened by the caller against the pgx
// stdlib driver).
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for callers (pipeline stages) that need
// to compose a store mutation and a queue enqueue in one transaction.
func (s *Store) DB() *sql.DB {
	return s.db
}

type rowScanner interface {
	Scan(dest ...any) error
}

// textArray wraps a []string as a driver.Valuer/sql.Scanner-compatible
// Postgres text[] value via pgx's generic array codec, so query params and
// scan destinations can be passed directly through database/sql.
func textArray(ss []string) *pgtype.Array[string] {
	arr := &pgtype.Array[string]{Elements: append([]string{}, ss...), Valid: true}
	if len(arr.Elements) > 0 {
		arr.Dims = []pgtype.ArrayDimension{{Length: int32(len(arr.Elements)), LowerBound: 1}}
	}
	return arr
}

func readTextArray(arr *pgtype.Array[string]) []string {
	if arr == nil || !arr.Valid {
		return nil
	}
	return arr.Elements
}

// uuidTextArray encodes a []uuid.UUID as a Postgres text[] parameter — used
// for uuid[] columns since the generic pgtype codec is keyed by Go type,
// not SQL type, and string round-trips through uuid[]'s text representation
// without a dedicated pgtype.Array[uuid.UUID] instantiation.
func uuidTextArray(ids []uuid.UUID) *pgtype.Array[string] {
	ss := make([]string, len(ids))
	for i, id := range ids {
		ss[i] = id.String()
	}
	return textArray(ss)
}

func readUUIDArray(arr *pgtype.Array[string]) ([]uuid.UUID, error) {
	raw := readTextArray(arr)
	out := make([]uuid.UUID, len(raw))
	for i, s := range raw {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, err
		}
		out[i] = id
	}
	return out, nil
}
