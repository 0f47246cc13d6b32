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
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/oss-ticketing/journalcore/internal/blobstore"
	"github.com/oss-ticketing/journalcore/internal/crypto"
	"github.com/oss-ticketing/journalcore/internal/gmail"
	"github.com/oss-ticketing/journalcore/internal/models"
	"github.com/oss-ticketing/journalcore/internal/queue"
	"github.com/oss-ticketing/journalcore/internal/store"
)

// Fetcher executes occurrence_fetch_raw jobs.
type Fetcher struct {
	Store    *store.Store
	Blobs    blobstore.Store
	Provider gmail.Provider
	Box      *crypto.Box
	Queue    *queue.Queue
}

// HandleFetchRaw retrieves the RFC822 bytes for one occurrence, stores them
// content-addressed, and enqueues the parse stage. Idempotent: an
// occurrence that already has a blob pointer is treated as already done.
func (f *Fetcher) HandleFetchRaw(ctx context.Context, organizationID uuid.UUID, payload json.RawMessage) error {
	var p FetchRawPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("pipeline: unmarshal fetch payload: %w", err)
	}

	occ, err := f.Store.GetOccurrence(ctx, organizationID, p.OccurrenceID)
	if err != nil {
		return fmt.Errorf("pipeline: load occurrence for fetch: %w", err)
	}
	if occ.RawBlobHash != "" {
		slog.DebugContext(ctx, "fetch already complete, skipping", "occurrence_id", occ.ID)
		return f.enqueueParse(ctx, organizationID, occ.ID)
	}

	mailbox, err := f.Store.GetMailbox(ctx, organizationID, p.MailboxID)
	if err != nil {
		return fmt.Errorf("pipeline: load mailbox for fetch: %w", err)
	}

	cred, err := f.credential(mailbox)
	if err != nil {
		return fmt.Errorf("pipeline: decrypt mailbox credential: %w", err)
	}

	raw, err := f.Provider.FetchRaw(ctx, cred, occ.ProviderMessageID)
	if err != nil {
		if recErr := f.Store.RecordFetchError(ctx, organizationID, occ.ID, err); recErr != nil {
			slog.ErrorContext(ctx, "record fetch error failed", "error", recErr)
		}
		return fmt.Errorf("pipeline: fetch raw message: %w", err)
	}

	hash, err := f.Blobs.Put(ctx, organizationID.String(), raw)
	if err != nil {
		return fmt.Errorf("pipeline: store raw blob: %w", err)
	}

	if err := f.Store.RecordRawFetched(ctx, organizationID, occ.ID, hash); err != nil {
		return fmt.Errorf("pipeline: record raw fetched: %w", err)
	}

	return f.enqueueParse(ctx, organizationID, occ.ID)
}

func (f *Fetcher) enqueueParse(ctx context.Context, organizationID, occurrenceID uuid.UUID) error {
	_, err := f.Queue.Enqueue(ctx, models.JobOccurrenceParse, organizationID, ParsePayload{OccurrenceID: occurrenceID}, queue.EnqueueOptions{})
	if err != nil {
		return fmt.Errorf("pipeline: enqueue occurrence_parse: %w", err)
	}
	return nil
}

func (f *Fetcher) credential(mailbox *models.Mailbox) (gmail.Credential, error) {
	plain, err := f.Box.Open(mailbox.EncryptedRefreshToken)
	if err != nil {
		return gmail.Credential{}, fmt.Errorf("open refresh token: %w", err)
	}
	return gmail.Credential{EmailAddress: mailbox.EmailAddress, RefreshToken: string(plain)}, nil
}
