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

// Package blobstore provides content-addressed storage for raw RFC822
// bytes and attachment payloads. Stores are opaque to content — no MIME
// parsing happens here — and idempotent: Put-ing the same bytes twice
// yields the same hash and is a no-op on the second call.
package blobstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Store is the interface the pipeline depends on. Two implementations
// exist: Filesystem (local/dev) and S3 (MinIO SDK, speaks the S3 protocol
// against MinIO, AWS S3, or any compatible backend).
type Store interface {
	// Put stores content, keyed by the organization and the SHA-256 hash
	// of the payload, and returns the hex-encoded hash.
	Put(ctx context.Context, organizationID string, content []byte) (contentHash string, err error)

	// Get retrieves previously stored content by hash.
	Get(ctx context.Context, organizationID, contentHash string) ([]byte, error)

	// SignedURL returns a short-lived URL for direct retrieval when the
	// backend supports presigning. ok is false (with no error) when the
	// backend cannot presign and callers must stream through Get instead.
	SignedURL(ctx context.Context, organizationID, contentHash string, ttl time.Duration) (url string, ok bool, err error)
}

// Hash returns the hex-encoded SHA-256 digest of content, used as the
// content-addressing key for raw RFC822 bytes and attachment payloads.
func Hash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// Key builds the persisted blob key: oss/<org_id>/<content_hash>.
func Key(organizationID, contentHash string) string {
	return fmt.Sprintf("oss/%s/%s", organizationID, contentHash)
}

// ErrNotFound is returned by Get when the hash has never been stored.
type ErrNotFound struct {
	Key string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("blobstore: object not found: %s", e.Key)
}
