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

// Package fingerprint computes the two hashes the parse stage uses to
// dedupe and detect collisions: fingerprint_v1 (the unique-constraint key,
// deliberately coarse and Message-ID-free) and signature_v1 (a finer tie
// breaker used only to decide reuse vs. collide on a fingerprint clash).
package fingerprint

import (
	"crypto/sha256"
	"sort"
	"strings"
	"time"
)

const bodyPrefixLimit = 64 * 1024

// Input carries every normalized field the two hashes are computed over.
type Input struct {
	Subject    string
	From       string
	Date       time.Time
	To         []string
	Cc         []string
	BodyText   string

	// Fields used only by Signature, not Fingerprint.
	RFCMessageID string
	ReplyTo      []string
	References   []string
	Attachments  []string // content hashes, any order
}

// NormalizeHeaderValue collapses internal whitespace and trims, then
// lowercases — used for subject/from/address comparison so that transport
// whitespace rewriting never changes identity.
func NormalizeHeaderValue(s string) string {
	fields := strings.Fields(s)
	return strings.ToLower(strings.Join(fields, " "))
}

// NormalizeAddressList lowercases, trims, and sorts a list of addresses so
// that reordering To/Cc recipients never changes the fingerprint.
func NormalizeAddressList(addrs []string) []string {
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = strings.ToLower(strings.TrimSpace(a))
	}
	sort.Strings(out)
	return out
}

// V1 computes fingerprint_v1: hash of normalized-subject, normalized-from,
// second-precision date, sorted-normalized to+cc, and the SHA-256 of the
// first 64KB of body text. Message-ID is intentionally excluded because
// Workspace frequently rewrites it in transit.
func V1(in Input) []byte {
	h := sha256.New()
	writeField(h, NormalizeHeaderValue(in.Subject))
	writeField(h, NormalizeHeaderValue(in.From))
	writeField(h, in.Date.UTC().Truncate(time.Second).Format(time.RFC3339))

	combined := append(append([]string{}, in.To...), in.Cc...)
	for _, addr := range NormalizeAddressList(combined) {
		writeField(h, addr)
	}

	writeField(h, bodyPrefixHash(in.BodyText))
	return h.Sum(nil)
}

// Signature computes signature_v1: a hash over the *full* normalized
// content, used only to break ties when two candidates share
// fingerprint_v1. Two rows with equal fingerprint and equal signature are
// the same email observed twice; equal fingerprint with differing
// signature is the collision case.
func Signature(in Input) []byte {
	h := sha256.New()
	writeField(h, in.RFCMessageID)
	writeField(h, in.Date.UTC().Format(time.RFC3339Nano))
	writeField(h, NormalizeHeaderValue(in.From))

	for _, addr := range NormalizeAddressList(in.To) {
		writeField(h, addr)
	}
	for _, addr := range NormalizeAddressList(in.Cc) {
		writeField(h, addr)
	}
	for _, addr := range NormalizeAddressList(in.ReplyTo) {
		writeField(h, addr)
	}
	writeField(h, NormalizeHeaderValue(in.Subject))

	full := sha256.Sum256([]byte(in.BodyText))
	h.Write(full[:])

	refs := append([]string{}, in.References...)
	sort.Strings(refs)
	for _, r := range refs {
		writeField(h, r)
	}

	atts := append([]string{}, in.Attachments...)
	sort.Strings(atts)
	for _, a := range atts {
		writeField(h, a)
	}

	return h.Sum(nil)
}

func bodyPrefixHash(body string) string {
	b := []byte(body)
	if len(b) > bodyPrefixLimit {
		b = b[:bodyPrefixLimit]
	}
	sum := sha256.Sum256(b)
	return string(sum[:])
}

// writeField writes a length-prefix-free but delimiter-separated field so
// that ("ab", "c") and ("a", "bc") never collide.
func writeField(h interface{ Write([]byte) (int, error) }, s string) {
	h.Write([]byte(s))
	h.Write([]byte{0})
}
