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
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestResolveReferenceGraph_RFCHit_SkipsOSSLookup(t *testing.T) {
	s, mock := newMockStore(t)
	orgID := uuid.New()
	ticketID := uuid.New()

	mock.ExpectQuery(`SELECT cm.ticket_id FROM rfc_message_index`).
		WillReturnRows(sqlmock.NewRows([]string{"ticket_id"}).AddRow(ticketID.String()))

	got, ok, err := s.ResolveReferenceGraph(context.Background(), orgID, "<abc@mail.example.com>")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, ticketID, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveReferenceGraph_RFCMiss_FallsBackToOSSMessageIndex(t *testing.T) {
	s, mock := newMockStore(t)
	orgID := uuid.New()
	ticketID := uuid.New()
	xossMessageID := uuid.New()

	mock.ExpectQuery(`SELECT cm.ticket_id FROM rfc_message_index`).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`SELECT cm.ticket_id FROM oss_message_index`).
		WillReturnRows(sqlmock.NewRows([]string{"ticket_id"}).AddRow(ticketID.String()))

	got, ok, err := s.ResolveReferenceGraph(context.Background(), orgID, xossMessageID.String())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, ticketID, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveReferenceGraph_NotAUUID_SkipsOSSLookupWithoutError(t *testing.T) {
	s, mock := newMockStore(t)
	orgID := uuid.New()

	mock.ExpectQuery(`SELECT cm.ticket_id FROM rfc_message_index`).
		WillReturnError(sql.ErrNoRows)

	_, ok, err := s.ResolveReferenceGraph(context.Background(), orgID, "<not-a-uuid@mail.example.com>")
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLinkOSSMessageID_ExecutesInsert(t *testing.T) {
	s, mock := newMockStore(t)
	orgID := uuid.New()
	xossMessageID := uuid.New()
	canonicalID := uuid.New()

	mock.ExpectExec(`INSERT INTO oss_message_index`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.LinkOSSMessageID(context.Background(), orgID, xossMessageID, canonicalID)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
