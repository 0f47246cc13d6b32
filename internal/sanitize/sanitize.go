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

// Package sanitize strips an inbound HTML message body down to an
// allowlist: no scripts, no event handlers, no remote resource loads. It
// is deterministic — the same input byte-for-byte produces the same
// output. Each Result carries the Revision that produced it; the parse
// stage stores the configured sanitizer revision string (not this
// package's Revision) on each canonical message.
package sanitize

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Revision identifies the allowlist logic below and is reported on every
// Result. Bump it whenever the allowlist rules change.
const Revision = 1

// allowedTags maps a tag to the attributes permitted on it. A tag absent
// from this map is dropped (its children are kept, unwrapped) unless it
// is in droppedWithChildren, in which case the whole subtree is removed.
var allowedTags = map[atom.Atom]map[string]bool{
	atom.A:          {"href": true, "title": true},
	atom.B:          {},
	atom.Strong:     {},
	atom.I:          {},
	atom.Em:         {},
	atom.U:          {},
	atom.Br:         {},
	atom.P:          {},
	atom.Div:        {},
	atom.Span:       {},
	atom.Ul:         {},
	atom.Ol:         {},
	atom.Li:         {},
	atom.Blockquote: {},
	atom.Pre:        {},
	atom.Code:       {},
	atom.Table:      {},
	atom.Thead:      {},
	atom.Tbody:      {},
	atom.Tr:         {},
	atom.Td:         {"colspan": true, "rowspan": true},
	atom.Th:         {"colspan": true, "rowspan": true},
	atom.H1:         {},
	atom.H2:         {},
	atom.H3:         {},
	atom.H4:         {},
	atom.H5:         {},
	atom.H6:         {},
	atom.Img:        {"src": true, "alt": true, "width": true, "height": true},
	atom.Hr:         {},
}

// droppedWithChildren removes the entire subtree — unlike an unknown tag,
// whose content is probably still meant to be read, these carry content
// that must never reach a renderer (script, inline styling that could
// smuggle tracking pixels via CSS, external frames).
var droppedWithChildren = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Iframe:   true,
	atom.Object:   true,
	atom.Embed:    true,
	atom.Frame:    true,
	atom.Frameset: true,
	atom.Noscript: true,
	atom.Head:     true,
}

// Result is the sanitized output of one HTML body.
type Result struct {
	HTML     string
	PlainText string
	Revision  int
}

// InlineResolver resolves a cid: reference (as it appears, without the
// "cid:" scheme prefix) to a stable reference usable in the sanitized
// HTML's <img src>. Messages with no matching attachment get the
// reference dropped instead of a broken image.
type InlineResolver func(contentID string) (resolved string, ok bool)

// HTML parses raw HTML and returns the sanitized tree serialized back to
// a string, alongside a plain-text rendering derived from the surviving
// text nodes. resolveInline may be nil, in which case every cid: image
// loses its src attribute.
func HTML(raw string, resolveInline InlineResolver) (Result, error) {
	doc, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return Result{}, err
	}

	var textBuf strings.Builder
	sanitizeNode(doc, resolveInline, &textBuf)

	var out strings.Builder
	if err := html.Render(&out, doc); err != nil {
		return Result{}, err
	}

	return Result{
		HTML:      extractBody(out.String()),
		PlainText: collapseWhitespace(textBuf.String()),
		Revision:  Revision,
	}, nil
}

// sanitizeNode walks n's children, removing disallowed nodes and
// attributes in place, and appends visible text to textBuf.
func sanitizeNode(n *html.Node, resolveInline InlineResolver, textBuf *strings.Builder) {
	child := n.FirstChild
	for child != nil {
		next := child.NextSibling

		switch child.Type {
		case html.TextNode:
			textBuf.WriteString(child.Data)
			textBuf.WriteString(" ")

		case html.ElementNode:
			if droppedWithChildren[child.DataAtom] {
				n.RemoveChild(child)
				child = next
				continue
			}

			allowedAttrs, isAllowed := allowedTags[child.DataAtom]
			if !isAllowed {
				// Unknown tag: keep its children (hoisted to this level),
				// drop the wrapper itself.
				sanitizeNode(child, resolveInline, textBuf)
				hoistChildren(n, child)
				child = next
				continue
			}

			filterAttrs(child, allowedAttrs, resolveInline)
			sanitizeNode(child, resolveInline, textBuf)

		case html.CommentNode, html.DoctypeNode:
			n.RemoveChild(child)
		}

		child = next
	}
}

// hoistChildren moves all of child's children to be siblings of child
// in parent, in place of child, then removes the now-empty child.
func hoistChildren(parent, child *html.Node) {
	for grandchild := child.FirstChild; grandchild != nil; {
		next := grandchild.NextSibling
		child.RemoveChild(grandchild)
		parent.InsertBefore(grandchild, child)
		grandchild = next
	}
	parent.RemoveChild(child)
}

// filterAttrs drops every attribute not in allowed, and additionally
// enforces the href/src scheme allowlist: event handlers (onClick and
// friends) are always dropped by virtue of never being in allowed.
func filterAttrs(n *html.Node, allowed map[string]bool, resolveInline InlineResolver) {
	var kept []html.Attribute
	for _, a := range n.Attr {
		key := strings.ToLower(a.Key)
		if !allowed[key] {
			continue
		}

		switch {
		case n.DataAtom == atom.A && key == "href":
			v, ok := sanitizeHref(a.Val)
			if !ok {
				continue
			}
			a.Val = v

		case n.DataAtom == atom.Img && key == "src":
			v, ok := sanitizeImgSrc(a.Val, resolveInline)
			if !ok {
				continue
			}
			a.Val = v
		}

		kept = append(kept, a)
	}
	n.Attr = kept
}

// sanitizeHref permits only http, https, and mailto links on <a href>.
func sanitizeHref(raw string) (string, bool) {
	scheme := urlScheme(raw)
	switch scheme {
	case "http", "https", "mailto":
		return raw, true
	default:
		return "", false
	}
}

// sanitizeImgSrc permits only cid: references, resolved against the
// message's own inline attachments. Every other scheme (including plain
// http/https, which would be a remote resource load) is dropped.
func sanitizeImgSrc(raw string, resolveInline InlineResolver) (string, bool) {
	if urlScheme(raw) != "cid" {
		return "", false
	}
	if resolveInline == nil {
		return "", false
	}
	contentID := strings.TrimPrefix(raw, "cid:")
	return resolveInline(contentID)
}

func urlScheme(raw string) string {
	i := strings.Index(raw, ":")
	if i < 0 {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(raw[:i]))
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// extractBody trims the <html><head></head><body>...</body></html>
// wrapper golang.org/x/net/html.Parse adds to a fragment, since the
// caller stores and re-renders only the body content.
func extractBody(rendered string) string {
	const openTag = "<body>"
	const closeTag = "</body>"
	start := strings.Index(rendered, openTag)
	end := strings.LastIndex(rendered, closeTag)
	if start < 0 || end < 0 || end < start {
		return rendered
	}
	return rendered[start+len(openTag) : end]
}
