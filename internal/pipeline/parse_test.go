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
	"bytes"
	"testing"

	"github.com/jhillyerd/enmime"
	"github.com/stretchr/testify/require"
)

func mustEnvelope(t *testing.T, raw string) *enmime.Envelope {
	t.Helper()
	env, err := enmime.ReadEnvelope(bytes.NewReader([]byte(raw)))
	require.NoError(t, err)
	return env
}

const plainMessage = "From: Alice <alice@example.com>\r\n" +
	"To: support@ourcompany.com\r\n" +
	"Cc: watcher@ourcompany.com\r\n" +
	"Subject: Help with my order\r\n" +
	"Message-Id: <abc123@example.com>\r\n" +
	"Date: Mon, 2 Jan 2026 10:00:00 +0000\r\n" +
	"Content-Type: text/plain\r\n\r\n" +
	"Body text here.\r\n"

func TestFirstAddress_ParsesNameAndEmail(t *testing.T) {
	env := mustEnvelope(t, plainMessage)
	email, name := firstAddress(env, "From")
	require.Equal(t, "alice@example.com", email)
	require.Equal(t, "Alice", name)
}

func TestAddressEmails_LowercasesAndListsAll(t *testing.T) {
	env := mustEnvelope(t, plainMessage)
	require.Equal(t, []string{"support@ourcompany.com"}, addressEmails(env, "To"))
	require.Equal(t, []string{"watcher@ourcompany.com"}, addressEmails(env, "Cc"))
}

func TestDomainOf(t *testing.T) {
	require.Equal(t, "ourcompany.com", domainOf("Support@OurCompany.com"))
	require.Equal(t, "noat", domainOf("noat"))
}

func TestSnippet_TruncatesAndCollapsesWhitespace(t *testing.T) {
	body := "line one\n\nline   two"
	require.Equal(t, "line one line two", snippet(body))

	long := ""
	for i := 0; i < 50; i++ {
		long += "word "
	}
	require.Len(t, snippet(long), 200)
}

func TestBuildInlineIndex_KeysByStrippedContentID(t *testing.T) {
	raw := "From: alice@example.com\r\n" +
		"To: support@ourcompany.com\r\n" +
		"Subject: hi\r\n" +
		"Content-Type: multipart/related; boundary=B\r\n\r\n" +
		"--B\r\nContent-Type: text/html\r\n\r\n<p>hi <img src=\"cid:logo1\"></p>\r\n" +
		"--B\r\nContent-Type: image/png\r\nContent-Disposition: inline\r\nContent-ID: <logo1>\r\n\r\nfakepngbytes\r\n" +
		"--B--\r\n"
	env := mustEnvelope(t, raw)

	idx := buildInlineIndex(env)
	require.Contains(t, idx, "logo1")
}
