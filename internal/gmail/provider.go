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

// Package gmail is the Provider contract the sync controller and pipeline
// consume, plus a real Gmail API implementation and a deterministic fake
// used by tests. All calls except HistoryDelta's invalid-cursor case are
// retryable by the caller.
package gmail

import (
	"context"
	"time"
)

// Credential is what a Provider needs to act on behalf of one mailbox. The
// caller decrypts the mailbox's stored refresh token (internal/crypto)
// before building this — the provider package never touches ciphertext.
type Credential struct {
	EmailAddress string
	RefreshToken string
}

// HistoryEventKind enumerates the kinds of change events HistoryDelta can
// report.
type HistoryEventKind string

const (
	HistoryMessageAdded   HistoryEventKind = "message_added"
	HistoryMessageDeleted HistoryEventKind = "message_deleted"
)

// HistoryEvent is one entry in a history delta page.
type HistoryEvent struct {
	Kind              HistoryEventKind
	ProviderMessageID string
}

// Provider is the mail-service contract a sync controller needs: list,
// delta, fetch, profile, and the push-notification watch lifecycle.
type Provider interface {
	// ListMessages pages through a mailbox's message ids for backfill.
	ListMessages(ctx context.Context, cred Credential, pageToken string) (ids []string, nextPageToken string, err error)

	// HistoryDelta returns change events since cursor. Returns
	// ErrInvalidCursor (not retryable in place) when cursor is too old.
	HistoryDelta(ctx context.Context, cred Credential, cursor string) (events []HistoryEvent, newCursor string, err error)

	// FetchRaw retrieves the full RFC822 bytes of one message.
	FetchRaw(ctx context.Context, cred Credential, providerMessageID string) ([]byte, error)

	// Profile checks connectivity and returns the mailbox's current
	// historyId, usable as an initial cursor.
	Profile(ctx context.Context, cred Credential) (email string, historyID string, err error)

	// Watch (re-)establishes the push-notification channel and returns its
	// expiration.
	Watch(ctx context.Context, cred Credential) (expiration time.Time, err error)

	// StopWatch tears down a previously established watch channel.
	StopWatch(ctx context.Context, cred Credential) error
}
