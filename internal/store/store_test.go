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
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/oss-ticketing/journalcore/internal/models"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db), mock
}

func TestUpsertDiscoveredOccurrence_FirstDiscoveryInserts(t *testing.T) {
	s, mock := newMockStore(t)
	orgID, mailboxID := uuid.New(), uuid.New()
	wantID := uuid.New()

	mock.ExpectQuery(`INSERT INTO message_occurrences`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(wantID.String()))

	id, created, err := s.UpsertDiscoveredOccurrence(context.Background(), orgID, mailboxID, "msg-1", "inbound")
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, wantID, id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertDiscoveredOccurrence_DuplicateReturnsExisting(t *testing.T) {
	s, mock := newMockStore(t)
	orgID, mailboxID := uuid.New(), uuid.New()
	existing := uuid.New()

	// ON CONFLICT DO NOTHING returns no row, so Scan yields sql.ErrNoRows.
	mock.ExpectQuery(`INSERT INTO message_occurrences`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(`SELECT id FROM message_occurrences`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(existing.String()))

	id, created, err := s.UpsertDiscoveredOccurrence(context.Background(), orgID, mailboxID, "msg-1", "inbound")
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, existing, id)
}

func TestRecordSyncFailure_TripsBreakerAtThreshold(t *testing.T) {
	s, mock := newMockStore(t)
	orgID, mailboxID := uuid.New(), uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT consecutive_sync_failure FROM mailboxes`).
		WillReturnRows(sqlmock.NewRows([]string{"consecutive_sync_failure"}).AddRow(4))
	mock.ExpectExec(`UPDATE mailboxes`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	tripped, err := s.RecordSyncFailure(context.Background(), orgID, mailboxID, errors.New("timeout"), 5, 30*time.Minute)
	require.NoError(t, err)
	require.True(t, tripped)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordSyncFailure_BelowThresholdDoesNotTrip(t *testing.T) {
	s, mock := newMockStore(t)
	orgID, mailboxID := uuid.New(), uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT consecutive_sync_failure FROM mailboxes`).
		WillReturnRows(sqlmock.NewRows([]string{"consecutive_sync_failure"}).AddRow(0))
	mock.ExpectExec(`UPDATE mailboxes`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	tripped, err := s.RecordSyncFailure(context.Background(), orgID, mailboxID, errors.New("timeout"), 5, 30*time.Minute)
	require.NoError(t, err)
	require.False(t, tripped)
}

func TestPause_NotFoundReturnsErrNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	orgID, mailboxID := uuid.New(), uuid.New()

	mock.ExpectExec(`UPDATE mailboxes`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.Pause(context.Background(), orgID, mailboxID, time.Now(), "manual")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSetStatus_ClosedStampsClosedAt(t *testing.T) {
	s, mock := newMockStore(t)
	orgID, ticketID := uuid.New(), uuid.New()

	mock.ExpectExec(`UPDATE tickets SET status = \$3, closed_at = now\(\)`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.SetStatus(context.Background(), orgID, ticketID, models.TicketClosed)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateTicket_ReturnsGeneratedID(t *testing.T) {
	s, mock := newMockStore(t)
	orgID := uuid.New()
	wantID := uuid.New()

	mock.ExpectQuery(`INSERT INTO tickets`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(wantID.String()))

	id, err := s.CreateTicket(context.Background(), orgID, &models.Ticket{
		Code:             "T-1",
		Status:           models.TicketNew,
		Priority:         "normal",
		RequesterEmail:   "a@example.com",
		StitchReason:     models.StitchNewTicket,
		StitchConfidence: models.ConfidenceHigh,
		Subject:          "help",
	})
	require.NoError(t, err)
	require.Equal(t, wantID, id)
}

func TestAppendTicketEvent_DefaultsEmptyEventData(t *testing.T) {
	s, mock := newMockStore(t)
	orgID, ticketID := uuid.New(), uuid.New()

	mock.ExpectExec(`INSERT INTO ticket_events`).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := s.AppendTicketEvent(context.Background(), orgID, ticketID, nil, "auto_spam", nil)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
