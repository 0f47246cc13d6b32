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

import "errors"

// Sentinel errors let callers branch on error kind (errors.Is) instead of
// matching on err.Error() strings, per the pipeline's error-handling design.
var (
	// ErrInvalidCursor is returned by HistoryDelta when the stored
	// history_cursor is too old for the API to diff from (a 404 / "historyId
	// too old" response). It deterministically triggers backfill recovery
	// and is never retried in place.
	ErrInvalidCursor = errors.New("gmail: history cursor is invalid or expired")

	// ErrAuthRequired is returned when the refresh token is rejected
	// (invalid_grant) or lacks the required scopes. The mailbox transitions
	// to degraded until an operator refreshes credentials.
	ErrAuthRequired = errors.New("gmail: authentication or scope error")

	// ErrNotFound is returned when a message id no longer exists on the
	// provider (e.g. deleted between discovery and fetch).
	ErrNotFound = errors.New("gmail: message not found")

	// ErrTransient wraps retryable provider failures (5xx, timeouts,
	// rate limiting) that are safe to retry with backoff.
	ErrTransient = errors.New("gmail: transient provider error")
)
