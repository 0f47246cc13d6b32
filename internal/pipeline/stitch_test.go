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
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"
)

var base32Code = regexp.MustCompile(`^[A-Z2-7]+$`)

func TestNewTicketCode_IsBase32AndVariesAcrossCalls(t *testing.T) {
	a, err := newTicketCode()
	require.NoError(t, err)
	require.True(t, base32Code.MatchString(a))

	b, err := newTicketCode()
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

func TestReplyToTokenPattern_MatchesTicketAlias(t *testing.T) {
	match := replyToTokenPattern.FindStringSubmatch("Ticket+AB3KZ9@support.ourcompany.com")
	require.NotNil(t, match)
	require.Equal(t, "AB3KZ9", match[1])
}

func TestReplyToTokenPattern_RejectsUnrelatedAddress(t *testing.T) {
	match := replyToTokenPattern.FindStringSubmatch("alice@example.com")
	require.Nil(t, match)
}
