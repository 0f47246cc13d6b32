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

package webhook

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/oss-ticketing/journalcore/internal/dedup"
	"github.com/oss-ticketing/journalcore/internal/queue"
	"github.com/oss-ticketing/journalcore/internal/store"
)

func newTestHandler(t *testing.T) (*Handler, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	// Point the dedup filter at a closed local port so SetNX fails fast
	// with a connection error; the handler is expected to log and
	// proceed rather than drop the notification on a dedup outage.
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 200 * time.Millisecond})
	t.Cleanup(func() { rdb.Close() })

	return &Handler{
		Store:  store.New(db),
		Queue:  queue.New(db, time.Second, time.Minute),
		Filter: dedup.NewFilter(rdb),
	}, mock
}

func encodeNotification(t *testing.T, email, historyID string) pushEnvelope {
	t.Helper()
	inner, err := json.Marshal(historyNotification{EmailAddress: email, HistoryID: historyID})
	require.NoError(t, err)
	var env pushEnvelope
	env.Message.Data = base64.StdEncoding.EncodeToString(inner)
	env.Message.MessageID = "pubsub-msg-1"
	return env
}

func TestServePush_NonPost_ReturnsOK(t *testing.T) {
	h := &Handler{}
	req := httptest.NewRequest(http.MethodGet, "/push/gmail", nil)
	rr := httptest.NewRecorder()

	h.ServePush(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
}

func TestServePush_MalformedBody_ReturnsNoContent(t *testing.T) {
	h := &Handler{}
	req := httptest.NewRequest(http.MethodPost, "/push/gmail", strings.NewReader("not json"))
	rr := httptest.NewRecorder()

	h.ServePush(rr, req)

	require.Equal(t, http.StatusNoContent, rr.Code)
}

func TestProcess_MissingFields_DoesNotPanic(t *testing.T) {
	h := &Handler{}
	env := pushEnvelope{}
	env.Message.Data = base64.StdEncoding.EncodeToString([]byte(`{}`))

	require.NotPanics(t, func() {
		h.process(context.Background(), env)
	})
}

func TestProcess_UnknownMailbox_LogsAndReturns(t *testing.T) {
	h, mock := newTestHandler(t)
	mock.ExpectQuery(`SELECT organization_id, id FROM mailboxes`).
		WillReturnError(sql.ErrNoRows)

	env := encodeNotification(t, "unknown@ourcompany.com", "12345")
	h.process(context.Background(), env)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProcess_KnownMailbox_EnqueuesHistorySync(t *testing.T) {
	h, mock := newTestHandler(t)
	orgID := uuid.New()
	mailboxID := uuid.New()

	mock.ExpectQuery(`SELECT organization_id, id FROM mailboxes`).
		WillReturnRows(sqlmock.NewRows([]string{"organization_id", "id"}).AddRow(orgID.String(), mailboxID.String()))
	mock.ExpectQuery(`INSERT INTO jobs`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(uuid.New().String()))

	env := encodeNotification(t, "known@ourcompany.com", "999")
	h.process(context.Background(), env)

	require.NoError(t, mock.ExpectationsWereMet())
}
