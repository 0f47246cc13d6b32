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

package worker

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/oss-ticketing/journalcore/internal/models"
	"github.com/oss-ticketing/journalcore/internal/pipeline"
	"github.com/oss-ticketing/journalcore/internal/queue"
)

func newTestHost(t *testing.T) (*Host, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	q := queue.New(db, time.Second, time.Minute)
	return New(q, time.Minute, 5*time.Millisecond, time.Hour, 200*time.Millisecond), mock
}

func TestLeaseAndExecute_SuccessCompletesJob(t *testing.T) {
	h, mock := newTestHost(t)
	jobID := uuid.New()
	orgID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM jobs`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(jobID.String()))
	mock.ExpectQuery(`UPDATE jobs`).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "organization_id", "type", "payload", "status", "attempts", "max_attempts",
			"run_at", "lock_owner", "lock_expires_at", "last_error", "idempotency_key", "created_at", "updated_at",
		}).AddRow(
			jobID.String(), orgID.String(), "occurrence_fetch_raw", []byte(`{}`), "running", 0, 5,
			time.Now(), "worker-1", time.Now().Add(time.Minute), "", "", time.Now(), time.Now(),
		))
	mock.ExpectCommit()
	mock.ExpectExec(`UPDATE jobs SET status = 'done'`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	var called int32
	reg := Registration{
		Type: models.JobOccurrenceFetchRaw,
		Handler: func(ctx context.Context, organizationID uuid.UUID, payload json.RawMessage) error {
			atomic.AddInt32(&called, 1)
			return nil
		},
	}

	h.leaseAndExecute(context.Background(), reg, "worker-1")

	require.Equal(t, int32(1), called)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLeaseAndExecute_NoJobAvailable_NoOp(t *testing.T) {
	h, mock := newTestHost(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM jobs`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	called := false
	reg := Registration{
		Type: models.JobOccurrenceFetchRaw,
		Handler: func(ctx context.Context, organizationID uuid.UUID, payload json.RawMessage) error {
			called = true
			return nil
		},
	}

	h.leaseAndExecute(context.Background(), reg, "worker-1")

	require.False(t, called)
}

func TestLeaseAndExecute_MalformedMIME_FailsPermanently(t *testing.T) {
	h, mock := newTestHost(t)
	jobID := uuid.New()
	orgID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM jobs`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(jobID.String()))
	mock.ExpectQuery(`UPDATE jobs`).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "organization_id", "type", "payload", "status", "attempts", "max_attempts",
			"run_at", "lock_owner", "lock_expires_at", "last_error", "idempotency_key", "created_at", "updated_at",
		}).AddRow(
			jobID.String(), orgID.String(), "occurrence_parse", []byte(`{}`), "running", 0, 5,
			time.Now(), "worker-1", time.Now().Add(time.Minute), "", "", time.Now(), time.Now(),
		))
	mock.ExpectCommit()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT attempts, max_attempts FROM jobs`).
		WillReturnRows(sqlmock.NewRows([]string{"attempts", "max_attempts"}).AddRow(0, 5))
	mock.ExpectExec(`UPDATE jobs`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	reg := Registration{
		Type: models.JobOccurrenceParse,
		Handler: func(ctx context.Context, organizationID uuid.UUID, payload json.RawMessage) error {
			return pipeline.ErrMalformedMIME
		},
	}

	h.leaseAndExecute(context.Background(), reg, "worker-1")

	require.NoError(t, mock.ExpectationsWereMet())
}
