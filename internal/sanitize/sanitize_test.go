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

package sanitize

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHTML_StripsScriptsAndEventHandlers(t *testing.T) {
	raw := `<p onclick="evil()">hello <script>alert(1)</script>world</p>`
	res, err := HTML(raw, nil)
	require.NoError(t, err)
	require.NotContains(t, res.HTML, "onclick")
	require.NotContains(t, res.HTML, "alert")
	require.NotContains(t, res.HTML, "<script")
	require.Contains(t, res.PlainText, "hello")
	require.Contains(t, res.PlainText, "world")
}

func TestHTML_DropsRemoteImage(t *testing.T) {
	raw := `<img src="https://tracker.example.com/pixel.gif">`
	res, err := HTML(raw, nil)
	require.NoError(t, err)
	require.NotContains(t, res.HTML, "tracker.example.com")
}

func TestHTML_ResolvesCidImage(t *testing.T) {
	raw := `<img src="cid:logo123">`
	resolver := func(contentID string) (string, bool) {
		require.Equal(t, "logo123", contentID)
		return "blob://resolved-logo", true
	}
	res, err := HTML(raw, resolver)
	require.NoError(t, err)
	require.Contains(t, res.HTML, "blob://resolved-logo")
}

func TestHTML_DropsCidImageWithNoResolver(t *testing.T) {
	raw := `<img src="cid:logo123">`
	res, err := HTML(raw, nil)
	require.NoError(t, err)
	require.NotContains(t, res.HTML, "cid:logo123")
}

func TestHTML_AllowsHTTPAndMailtoLinks(t *testing.T) {
	raw := `<a href="https://example.com">link</a> <a href="mailto:a@example.com">mail</a>`
	res, err := HTML(raw, nil)
	require.NoError(t, err)
	require.Contains(t, res.HTML, `href="https://example.com"`)
	require.Contains(t, res.HTML, `href="mailto:a@example.com"`)
}

func TestHTML_DropsJavascriptLink(t *testing.T) {
	raw := `<a href="javascript:alert(1)">click me</a>`
	res, err := HTML(raw, nil)
	require.NoError(t, err)
	require.NotContains(t, res.HTML, "javascript:")
}

func TestHTML_DropsIframeSubtree(t *testing.T) {
	raw := `<p>before</p><iframe src="https://evil.example.com"><p>hidden</p></iframe><p>after</p>`
	res, err := HTML(raw, nil)
	require.NoError(t, err)
	require.NotContains(t, res.HTML, "iframe")
	require.NotContains(t, res.HTML, "hidden")
	require.Contains(t, res.PlainText, "before")
	require.Contains(t, res.PlainText, "after")
}

func TestHTML_UnknownTagHoistsChildren(t *testing.T) {
	raw := `<custom-widget><p>kept</p></custom-widget>`
	res, err := HTML(raw, nil)
	require.NoError(t, err)
	require.NotContains(t, res.HTML, "custom-widget")
	require.Contains(t, res.HTML, "kept")
}

func TestHTML_PlainTextCollapsesWhitespace(t *testing.T) {
	raw := "<p>line one</p>\n\n<p>line   two</p>"
	res, err := HTML(raw, nil)
	require.NoError(t, err)
	require.False(t, strings.Contains(res.PlainText, "\n"))
	require.Contains(t, res.PlainText, "line one")
	require.Contains(t, res.PlainText, "line two")
}

func TestHTML_RecordsRevision(t *testing.T) {
	res, err := HTML("<p>hi</p>", nil)
	require.NoError(t, err)
	require.Equal(t, Revision, res.Revision)
}
