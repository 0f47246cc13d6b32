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

// Package dedup provides a Redis SETNX-backed idempotency filter that
// guards the push-notification receive path. It is not the system's
// authoritative dedup mechanism — the job queue's idempotency_key and the
// canonical store's fingerprint both are — this filter only stops a storm
// of duplicate Gmail Pub/Sub deliveries for the same history id from each
// enqueuing their own mailbox_history_sync job.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultTTL is how long a seen (mailbox, historyId) pair is
	// remembered. Gmail redelivers a push notification for up to a few
	// minutes after the subscriber acks slowly; an hour comfortably
	// covers redelivery storms without holding state indefinitely.
	DefaultTTL = time.Hour

	keyPrefix = "journalcore:seen-history:"
)

// Filter tracks which (mailbox, historyId) pairs have already triggered a
// history sync enqueue.
type Filter struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewFilter creates a dedup filter backed by Redis.
func NewFilter(rdb *redis.Client) *Filter {
	return &Filter{rdb: rdb, ttl: DefaultTTL}
}

// IsNew reports whether (mailboxID, historyID) has not been seen before.
// If true, the pair is marked seen atomically (SETNX) in the same call, so
// two concurrent push deliveries racing on the same pair never both pass.
func (f *Filter) IsNew(ctx context.Context, mailboxID, historyID string) (bool, error) {
	key := fmt.Sprintf("%s%s:%s", keyPrefix, mailboxID, historyID)
	set, err := f.rdb.SetNX(ctx, key, 1, f.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup: SETNX: %w", err)
	}
	return set, nil
}
