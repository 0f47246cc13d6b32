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
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/oss-ticketing/journalcore/internal/models"
	"github.com/oss-ticketing/journalcore/internal/store"
)

func TestGlobMatch_CaseInsensitive(t *testing.T) {
	require.True(t, globMatch("*@Example.com", "billing@example.com"))
	require.False(t, globMatch("*@example.com", "billing@other.com"))
}

func TestGlobMatch_MalformedPatternFailsClosed(t *testing.T) {
	require.False(t, globMatch("[", "anything"))
}

func TestRuleMatches_EmptyPredicatesMatchEverything(t *testing.T) {
	rule := &models.RoutingRule{}
	require.True(t, ruleMatches(rule, "support@ourcompany.com", "ourcompany.com", "alice@example.com", "inbound"))
}

func TestRuleMatches_AllPredicatesMustAgree(t *testing.T) {
	rule := &models.RoutingRule{
		MatchRecipientPattern:    "billing@*",
		MatchSenderDomainPattern: "*.trusted.com",
	}
	require.True(t, ruleMatches(rule, "billing@ourcompany.com", "corp.trusted.com", "a@corp.trusted.com", "inbound"))
	require.False(t, ruleMatches(rule, "support@ourcompany.com", "corp.trusted.com", "a@corp.trusted.com", "inbound"))
	require.False(t, ruleMatches(rule, "billing@ourcompany.com", "untrusted.com", "a@untrusted.com", "inbound"))
}

func TestSimulateRouting_NotAllowlisted(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT id, organization_id, pattern`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "organization_id", "pattern", "is_enabled"}))

	result, err := SimulateRouting(context.Background(), store.New(db), uuid.New(), "unknown@ourcompany.com", "alice@example.com", "inbound")
	require.NoError(t, err)
	require.True(t, result.WouldMarkSpam)
	require.False(t, result.Allowlisted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSimulateRouting_AllowlistedNoRuleMatches(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT id, organization_id, pattern`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "organization_id", "pattern", "is_enabled"}).
			AddRow(uuid.New().String(), uuid.New().String(), "*@ourcompany.com", true))
	mock.ExpectQuery(`SELECT id, organization_id, priority`).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "organization_id", "priority", "is_enabled", "match_recipient_pattern",
			"match_sender_domain_pattern", "match_sender_email_pattern", "match_direction",
			"action_assign_queue_id", "action_assign_user_id", "action_set_status", "action_drop",
			"action_auto_close", "action_add_tag_ids",
		}))

	result, err := SimulateRouting(context.Background(), store.New(db), uuid.New(), "billing@ourcompany.com", "alice@example.com", "inbound")
	require.NoError(t, err)
	require.True(t, result.Allowlisted)
	require.Nil(t, result.MatchedRuleID)
	require.NoError(t, mock.ExpectationsWereMet())
}
