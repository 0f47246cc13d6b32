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

package admin

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/oss-ticketing/journalcore/internal/queue"
	"github.com/oss-ticketing/journalcore/internal/store"
)

func newTestService(t *testing.T) (*Service, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return New(store.New(db), queue.New(db, time.Second, time.Minute)), mock
}

func TestEnqueueBackfill_Enqueues(t *testing.T) {
	svc, mock := newTestService(t)
	orgID := uuid.New()
	mailboxID := uuid.New()

	mock.ExpectQuery(`INSERT INTO jobs`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(uuid.New().String()))

	id, err := svc.EnqueueBackfill(context.Background(), orgID, mailboxID)
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPauseMailbox_UpdatesMailbox(t *testing.T) {
	svc, mock := newTestService(t)
	orgID := uuid.New()
	mailboxID := uuid.New()

	mock.ExpectExec(`UPDATE mailboxes`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := svc.PauseMailbox(context.Background(), orgID, mailboxID, time.Now().Add(time.Hour), "operator requested pause")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResumeMailbox_UpdatesAndEnqueuesHistorySync(t *testing.T) {
	svc, mock := newTestService(t)
	orgID := uuid.New()
	mailboxID := uuid.New()

	mock.ExpectExec(`UPDATE mailboxes`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`INSERT INTO jobs`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(uuid.New().String()))

	err := svc.ResumeMailbox(context.Background(), orgID, mailboxID)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSimulateRouting_NotAllowlisted_MarksWouldMarkSpam(t *testing.T) {
	svc, mock := newTestService(t)
	orgID := uuid.New()

	mock.ExpectQuery(`SELECT id, organization_id, pattern`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "organization_id", "pattern", "is_enabled"}))

	result, err := svc.SimulateRouting(context.Background(), orgID, "unknown@ourcompany.com", "alice@example.com", "inbound")
	require.NoError(t, err)
	require.True(t, result.WouldMarkSpam)
	require.False(t, result.Allowlisted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListDeadJobs_MapsRows(t *testing.T) {
	svc, mock := newTestService(t)
	orgID := uuid.New()
	jobID := uuid.New()

	mock.ExpectQuery(`SELECT.*FROM jobs`).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "organization_id", "type", "payload", "status", "attempts", "max_attempts",
			"run_at", "lock_owner", "lock_expires_at", "last_error", "idempotency_key", "created_at", "updated_at",
		}).AddRow(
			jobID.String(), orgID.String(), "occurrence_parse", []byte(`{}`), "dead", 5, 5,
			time.Now(), "", nil, "malformed mime", "", time.Now(), time.Now(),
		))

	jobs, err := svc.ListDeadJobs(context.Background(), orgID, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, jobID, jobs[0].ID)
	require.Equal(t, "malformed mime", jobs[0].LastError)
}
