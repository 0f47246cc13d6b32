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

package syncctl

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/oss-ticketing/journalcore/internal/crypto"
	"github.com/oss-ticketing/journalcore/internal/gmail"
	"github.com/oss-ticketing/journalcore/internal/queue"
	"github.com/oss-ticketing/journalcore/internal/store"
)

func newTestController(t *testing.T) (*Controller, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	var key [32]byte
	_, err = rand.Read(key[:])
	require.NoError(t, err)
	box, err := crypto.NewBox(key[:])
	require.NoError(t, err)

	return &Controller{
		Store:    store.New(db),
		Provider: gmail.NewFake(),
		Box:      box,
		Queue:    queue.New(db, time.Second, time.Minute),
	}, mock
}

func mailboxRow(id, orgID uuid.UUID, emailAddr string, encryptedToken []byte, cursor string) *sqlmock.Rows {
	cols := []string{
		"id", "organization_id", "purpose", "provider", "email_address", "encrypted_refresh_token",
		"history_cursor", "watch_expires_at", "last_full_sync_at", "last_incremental_sync_at", "last_sync_error",
		"consecutive_sync_failure", "paused_until", "pause_reason", "status", "created_at", "updated_at",
	}
	now := time.Unix(1750000000, 0).UTC()
	return sqlmock.NewRows(cols).AddRow(
		id, orgID, "journal", "gmail", emailAddr, encryptedToken,
		cursor, nil, nil, nil, "",
		0, nil, "", "active", now, now,
	)
}

func pausedMailboxRow(id, orgID uuid.UUID, emailAddr string, encryptedToken []byte, pausedUntil time.Time) *sqlmock.Rows {
	cols := []string{
		"id", "organization_id", "purpose", "provider", "email_address", "encrypted_refresh_token",
		"history_cursor", "watch_expires_at", "last_full_sync_at", "last_incremental_sync_at", "last_sync_error",
		"consecutive_sync_failure", "paused_until", "pause_reason", "status", "created_at", "updated_at",
	}
	now := time.Unix(1750000000, 0).UTC()
	return sqlmock.NewRows(cols).AddRow(
		id, orgID, "journal", "gmail", emailAddr, encryptedToken,
		"", nil, nil, nil, "circuit breaker tripped",
		5, pausedUntil, "circuit breaker tripped", "paused", now, now,
	)
}

func TestHandleBackfill_MailboxPaused_NoOp(t *testing.T) {
	c, mock := newTestController(t)
	orgID := uuid.New()
	mailboxID := uuid.New()

	mock.ExpectQuery(`SELECT .* FROM mailboxes`).
		WillReturnRows(pausedMailboxRow(mailboxID, orgID, "paused@ourcompany.com", []byte("token"), time.Now().Add(time.Hour)))

	payload, err := json.Marshal(BackfillPayload{MailboxID: mailboxID})
	require.NoError(t, err)

	err = c.HandleBackfill(context.Background(), orgID, payload)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleHistorySync_MailboxPaused_NoOp(t *testing.T) {
	c, mock := newTestController(t)
	orgID := uuid.New()
	mailboxID := uuid.New()

	mock.ExpectQuery(`SELECT .* FROM mailboxes`).
		WillReturnRows(pausedMailboxRow(mailboxID, orgID, "paused2@ourcompany.com", []byte("token"), time.Now().Add(time.Hour)))

	payload, err := json.Marshal(HistorySyncPayload{MailboxID: mailboxID})
	require.NoError(t, err)

	err = c.HandleHistorySync(context.Background(), orgID, payload)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleWatchRenew_MailboxPaused_NoOp(t *testing.T) {
	c, mock := newTestController(t)
	orgID := uuid.New()
	mailboxID := uuid.New()

	mock.ExpectQuery(`SELECT .* FROM mailboxes`).
		WillReturnRows(pausedMailboxRow(mailboxID, orgID, "paused3@ourcompany.com", []byte("token"), time.Now().Add(time.Hour)))

	payload, err := json.Marshal(WatchRenewPayload{MailboxID: mailboxID})
	require.NoError(t, err)

	err = c.HandleWatchRenew(context.Background(), orgID, payload)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

// authErrorProvider fails every call with gmail.ErrAuthRequired, simulating
// a revoked or expired OAuth grant.
type authErrorProvider struct{}

func (authErrorProvider) ListMessages(ctx context.Context, cred gmail.Credential, pageToken string) ([]string, string, error) {
	return nil, "", gmail.ErrAuthRequired
}
func (authErrorProvider) HistoryDelta(ctx context.Context, cred gmail.Credential, cursor string) ([]gmail.HistoryEvent, string, error) {
	return nil, "", gmail.ErrAuthRequired
}
func (authErrorProvider) FetchRaw(ctx context.Context, cred gmail.Credential, providerMessageID string) ([]byte, error) {
	return nil, gmail.ErrAuthRequired
}
func (authErrorProvider) Profile(ctx context.Context, cred gmail.Credential) (string, string, error) {
	return "", "", gmail.ErrAuthRequired
}
func (authErrorProvider) Watch(ctx context.Context, cred gmail.Credential) (time.Time, error) {
	return time.Time{}, gmail.ErrAuthRequired
}
func (authErrorProvider) StopWatch(ctx context.Context, cred gmail.Credential) error {
	return gmail.ErrAuthRequired
}

var _ gmail.Provider = authErrorProvider{}

func TestHandleBackfill_AuthError_MarksMailboxDegraded(t *testing.T) {
	c, mock := newTestController(t)
	c.Provider = authErrorProvider{}
	orgID := uuid.New()
	mailboxID := uuid.New()

	box := c.Box
	token, err := box.Seal([]byte("refresh-token"))
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT .* FROM mailboxes`).
		WillReturnRows(mailboxRow(mailboxID, orgID, "degraded@ourcompany.com", token, ""))
	mock.ExpectExec(`UPDATE mailboxes`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	payload, err := json.Marshal(BackfillPayload{MailboxID: mailboxID})
	require.NoError(t, err)

	err = c.HandleBackfill(context.Background(), orgID, payload)
	require.ErrorIs(t, err, gmail.ErrAuthRequired)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleHistorySync_InvalidCursor_EnqueuesRecoveryBackfill(t *testing.T) {
	c, mock := newTestController(t)
	orgID := uuid.New()
	mailboxID := uuid.New()

	box := c.Box
	token, err := box.Seal([]byte("refresh-token"))
	require.NoError(t, err)

	fake := c.Provider.(*gmail.Fake)
	fake.InvalidateCursor("mailbox@ourcompany.com")

	mock.ExpectQuery(`SELECT .* FROM mailboxes`).
		WillReturnRows(mailboxRow(mailboxID, orgID, "mailbox@ourcompany.com", token, "stale-cursor"))
	mock.ExpectQuery(`INSERT INTO jobs`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(uuid.New().String()))

	payload, err := json.Marshal(HistorySyncPayload{MailboxID: mailboxID})
	require.NoError(t, err)

	err = c.HandleHistorySync(context.Background(), orgID, payload)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleHistorySync_ProcessesAddedEvent(t *testing.T) {
	c, mock := newTestController(t)
	orgID := uuid.New()
	mailboxID := uuid.New()

	box := c.Box
	token, err := box.Seal([]byte("refresh-token"))
	require.NoError(t, err)

	fake := c.Provider.(*gmail.Fake)
	addedID := fake.Deliver("mailbox2@ourcompany.com", []byte("raw"))

	mock.ExpectQuery(`SELECT .* FROM mailboxes`).
		WillReturnRows(mailboxRow(mailboxID, orgID, "mailbox2@ourcompany.com", token, ""))
	mock.ExpectQuery(`INSERT INTO message_occurrences`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(uuid.New().String()))
	mock.ExpectQuery(`INSERT INTO jobs`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(uuid.New().String()))
	mock.ExpectExec(`UPDATE mailboxes`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE mailboxes`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	payload, err := json.Marshal(HistorySyncPayload{MailboxID: mailboxID})
	require.NoError(t, err)

	err = c.HandleHistorySync(context.Background(), orgID, payload)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
	_ = addedID
}

func TestHandleHistorySync_BadCredential_RecordsFailure(t *testing.T) {
	c, mock := newTestController(t)
	orgID := uuid.New()
	mailboxID := uuid.New()

	mock.ExpectQuery(`SELECT .* FROM mailboxes`).
		WillReturnRows(mailboxRow(mailboxID, orgID, "mailbox3@ourcompany.com", []byte("not-a-sealed-token"), ""))
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT consecutive_sync_failure FROM mailboxes`).
		WillReturnRows(sqlmock.NewRows([]string{"consecutive_sync_failure"}).AddRow(0))
	mock.ExpectExec(`UPDATE mailboxes`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	payload, err := json.Marshal(HistorySyncPayload{MailboxID: mailboxID})
	require.NoError(t, err)

	err = c.HandleHistorySync(context.Background(), orgID, payload)
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleHistorySync_RepeatedFailureTripsCircuitBreaker(t *testing.T) {
	c, mock := newTestController(t)
	orgID := uuid.New()
	mailboxID := uuid.New()
	c.FailureThreshold = 3

	mock.ExpectQuery(`SELECT .* FROM mailboxes`).
		WillReturnRows(mailboxRow(mailboxID, orgID, "mailbox4@ourcompany.com", []byte("not-a-sealed-token"), ""))
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT consecutive_sync_failure FROM mailboxes`).
		WillReturnRows(sqlmock.NewRows([]string{"consecutive_sync_failure"}).AddRow(2))
	mock.ExpectExec(`UPDATE mailboxes`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	payload, err := json.Marshal(HistorySyncPayload{MailboxID: mailboxID})
	require.NoError(t, err)

	err = c.HandleHistorySync(context.Background(), orgID, payload)
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
