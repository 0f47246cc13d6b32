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

package pipeline

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/oss-ticketing/journalcore/internal/store"
)

func ticketRow(id, orgID uuid.UUID) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "organization_id", "code", "status", "priority", "requester_email", "requester_name",
		"assignee_user_id", "assignee_queue_id", "stitch_reason", "stitch_confidence", "subject",
		"last_activity_at", "closed_at", "created_at", "updated_at",
	}).AddRow(
		id.String(), orgID.String(), "AB3KZ9", "open", "normal", "alice@example.com", "Alice",
		nil, nil, "new_ticket", "high", "Password reset",
		time.Now(), nil, time.Now(), time.Now(),
	)
}

func TestHandleOutboundSend_QueuesIntentAndTouchesTicket(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	orgID := uuid.New()
	ticketID := uuid.New()

	mock.ExpectQuery(`SELECT id, organization_id, code`).
		WillReturnRows(ticketRow(ticketID, orgID))
	mock.ExpectQuery(`INSERT INTO outbound_send_intents`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(uuid.New().String()))
	mock.ExpectExec(`UPDATE tickets SET last_activity_at`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	sender := &Sender{Store: store.New(db)}
	payload, err := json.Marshal(OutboundSendPayload{
		TicketID:   ticketID,
		Recipients: []string{"alice@example.com"},
		BodyText:   "We reset your password.",
	})
	require.NoError(t, err)

	err = sender.HandleOutboundSend(context.Background(), orgID, payload)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleOutboundSend_UnknownTicket_ReturnsError(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	orgID := uuid.New()
	ticketID := uuid.New()

	mock.ExpectQuery(`SELECT id, organization_id, code`).
		WillReturnError(sqlmock.ErrCancelled)

	sender := &Sender{Store: store.New(db)}
	payload, err := json.Marshal(OutboundSendPayload{TicketID: ticketID, Recipients: []string{"alice@example.com"}})
	require.NoError(t, err)

	err = sender.HandleOutboundSend(context.Background(), orgID, payload)
	require.Error(t, err)
}
