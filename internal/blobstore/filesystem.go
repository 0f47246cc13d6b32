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

package blobstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Filesystem stores blobs under root, sharded by the first two hex
// characters of the hash to keep any one directory from growing unbounded.
// Writes are atomic: content lands in a temp file in the same directory,
// then is renamed into place, so a crash mid-write never leaves a
// half-written object visible under its final name.
type Filesystem struct {
	root string
}

// NewFilesystem creates a filesystem-backed blob store rooted at root.
func NewFilesystem(root string) *Filesystem {
	return &Filesystem{root: root}
}

func (f *Filesystem) path(organizationID, contentHash string) string {
	shard := contentHash
	if len(shard) > 2 {
		shard = contentHash[:2]
	}
	return filepath.Join(f.root, organizationID, shard, contentHash)
}

// Put writes content to disk, keyed by its SHA-256 hash. Idempotent: if the
// file already exists, the write is skipped.
func (f *Filesystem) Put(ctx context.Context, organizationID string, content []byte) (string, error) {
	hash := Hash(content)
	dest := f.path(organizationID, hash)

	if _, err := os.Stat(dest); err == nil {
		return hash, nil
	}

	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("blobstore: mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("blobstore: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once renamed

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return "", fmt.Errorf("blobstore: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("blobstore: close temp file: %w", err)
	}

	if err := os.Rename(tmpName, dest); err != nil {
		return "", fmt.Errorf("blobstore: rename into place: %w", err)
	}

	return hash, nil
}

// Get reads content back from disk.
func (f *Filesystem) Get(ctx context.Context, organizationID, contentHash string) ([]byte, error) {
	data, err := os.ReadFile(f.path(organizationID, contentHash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &ErrNotFound{Key: Key(organizationID, contentHash)}
		}
		return nil, fmt.Errorf("blobstore: read %s: %w", contentHash, err)
	}
	return data, nil
}

// SignedURL always returns ok=false: the filesystem backend has no way to
// presign a URL, so callers must stream through Get via an authorized
// endpoint instead.
func (f *Filesystem) SignedURL(ctx context.Context, organizationID, contentHash string, ttl time.Duration) (string, bool, error) {
	return "", false, nil
}
