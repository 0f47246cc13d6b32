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

package gmail

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// fakeMessage is one message stored in a Fake mailbox.
type fakeMessage struct {
	id      string
	raw     []byte
	deleted bool
}

// Fake is a deterministic, in-memory Provider used by tests that need
// exactly-once ingestion semantics without a real Gmail account. It is
// mutex-guarded so it is safe for concurrent workers in the same test.
type Fake struct {
	mu sync.Mutex

	// mailboxes maps email address -> ordered messages (append order is
	// list order and history order alike).
	mailboxes map[string][]*fakeMessage
	historyID map[string]int

	// invalidateCursor, when set for a mailbox, makes the next
	// HistoryDelta call for that mailbox return ErrInvalidCursor once.
	invalidateCursor map[string]bool

	watchExpiry map[string]time.Time
}

// NewFake creates an empty fake provider.
func NewFake() *Fake {
	return &Fake{
		mailboxes:        make(map[string][]*fakeMessage),
		historyID:        make(map[string]int),
		invalidateCursor: make(map[string]bool),
		watchExpiry:      make(map[string]time.Time),
	}
}

// Deliver appends a new message to a mailbox, as if the provider had just
// received it, and returns its assigned provider message id.
func (f *Fake) Deliver(email string, raw []byte) string {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := fmt.Sprintf("msg-%d", len(f.mailboxes[email])+1)
	f.mailboxes[email] = append(f.mailboxes[email], &fakeMessage{id: id, raw: raw})
	f.historyID[email]++
	return id
}

// InvalidateCursor forces the next HistoryDelta call for email to return
// ErrInvalidCursor, simulating an expired/too-old historyId.
func (f *Fake) InvalidateCursor(email string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidateCursor[email] = true
}

func (f *Fake) ListMessages(ctx context.Context, cred Credential, pageToken string) ([]string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	msgs := f.mailboxes[cred.EmailAddress]
	start := 0
	if pageToken != "" {
		n, err := strconv.Atoi(pageToken)
		if err != nil {
			return nil, "", fmt.Errorf("gmail fake: bad page token %q", pageToken)
		}
		start = n
	}

	const pageSize = 50
	end := start + pageSize
	if end > len(msgs) {
		end = len(msgs)
	}

	var ids []string
	for _, m := range msgs[start:end] {
		if m.deleted {
			continue
		}
		ids = append(ids, m.id)
	}

	next := ""
	if end < len(msgs) {
		next = strconv.Itoa(end)
	}
	return ids, next, nil
}

func (f *Fake) HistoryDelta(ctx context.Context, cred Credential, cursor string) ([]HistoryEvent, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.invalidateCursor[cred.EmailAddress] {
		f.invalidateCursor[cred.EmailAddress] = false
		return nil, "", ErrInvalidCursor
	}

	startAt := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil {
			return nil, "", ErrInvalidCursor
		}
		startAt = n
	}

	msgs := f.mailboxes[cred.EmailAddress]
	var events []HistoryEvent
	for i := startAt; i < len(msgs); i++ {
		kind := HistoryMessageAdded
		if msgs[i].deleted {
			kind = HistoryMessageDeleted
		}
		events = append(events, HistoryEvent{Kind: kind, ProviderMessageID: msgs[i].id})
	}

	return events, strconv.Itoa(len(msgs)), nil
}

func (f *Fake) FetchRaw(ctx context.Context, cred Credential, providerMessageID string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, m := range f.mailboxes[cred.EmailAddress] {
		if m.id == providerMessageID {
			if m.deleted {
				return nil, ErrNotFound
			}
			return m.raw, nil
		}
	}
	return nil, ErrNotFound
}

func (f *Fake) Profile(ctx context.Context, cred Credential) (string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return cred.EmailAddress, strconv.Itoa(len(f.mailboxes[cred.EmailAddress])), nil
}

func (f *Fake) Watch(ctx context.Context, cred Credential) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	exp := time.Now().UTC().Add(7 * 24 * time.Hour)
	f.watchExpiry[cred.EmailAddress] = exp
	return exp, nil
}

func (f *Fake) StopWatch(ctx context.Context, cred Credential) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.watchExpiry, cred.EmailAddress)
	return nil
}

var _ Provider = (*Fake)(nil)
