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

package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/oss-ticketing/journalcore/internal/models"
)

func newMockQueue(t *testing.T) (*Queue, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db, 30*time.Second, 15*time.Minute), mock
}

func TestEnqueue_NoIdempotencyKey_Inserts(t *testing.T) {
	q, mock := newMockQueue(t)
	orgID := uuid.New()
	wantID := uuid.New()

	mock.ExpectQuery(`INSERT INTO jobs`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(wantID.String()))

	id, err := q.Enqueue(context.Background(), models.JobOccurrenceFetchRaw, orgID, map[string]string{"a": "b"}, EnqueueOptions{})
	require.NoError(t, err)
	require.Equal(t, wantID, id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnqueue_IdempotencyKey_ReturnsExistingOnConflict(t *testing.T) {
	q, mock := newMockQueue(t)
	orgID := uuid.New()
	existing := uuid.New()

	// ON CONFLICT DO NOTHING returns no row, so Scan yields sql.ErrNoRows.
	mock.ExpectQuery(`INSERT INTO jobs`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(`SELECT id FROM jobs`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(existing.String()))

	id, err := q.Enqueue(context.Background(), models.JobMailboxBackfill, orgID, map[string]string{}, EnqueueOptions{IdempotencyKey: "recovery"})
	require.NoError(t, err)
	require.Equal(t, existing, id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFail_RetriesUntilMaxAttempts(t *testing.T) {
	q, mock := newMockQueue(t)
	jobID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT attempts, max_attempts FROM jobs`).
		WillReturnRows(sqlmock.NewRows([]string{"attempts", "max_attempts"}).AddRow(0, 5))
	mock.ExpectExec(`UPDATE jobs`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := q.Fail(context.Background(), jobID, errors.New("boom"), false)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFail_PermanentGoesStraightToDead(t *testing.T) {
	q, mock := newMockQueue(t)
	jobID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT attempts, max_attempts FROM jobs`).
		WillReturnRows(sqlmock.NewRows([]string{"attempts", "max_attempts"}).AddRow(0, 5))
	mock.ExpectExec(`UPDATE jobs`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := q.Fail(context.Background(), jobID, errors.New("malformed MIME"), true)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReplay_NotDead(t *testing.T) {
	q, mock := newMockQueue(t)
	jobID := uuid.New()

	mock.ExpectExec(`UPDATE jobs`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := q.Replay(context.Background(), jobID)
	require.ErrorIs(t, err, ErrNotDead)
}

func TestBackoff_WithinBounds(t *testing.T) {
	q := &Queue{backoffBase: 30 * time.Second, backoffCap: 15 * time.Minute}
	for attempt := 1; attempt <= 10; attempt++ {
		d := q.backoff(attempt)
		require.GreaterOrEqual(t, d, time.Duration(0))
		require.LessOrEqual(t, d, 15*time.Minute)
	}
}
