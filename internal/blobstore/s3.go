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
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3 is backed by the MinIO Go SDK, which speaks the S3 protocol against
// MinIO, AWS S3, or any compatible object store. Object keys follow the
// persisted layout oss/<org_id>/<content_hash>.
type S3 struct {
	client *minio.Client
	bucket string
}

// NewS3 creates an S3-compatible blob store client.
func NewS3(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*S3, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("blobstore: new minio client: %w", err)
	}
	return &S3{client: client, bucket: bucket}, nil
}

// EnsureBucket creates the configured bucket if it does not already exist.
// Called once at boot; not on the hot path.
func (s *S3) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("blobstore: check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("blobstore: make bucket %s: %w", s.bucket, err)
	}
	return nil
}

// Put uploads content keyed by its SHA-256 hash. Idempotent: PUT-ing the
// same key with the same bytes twice is a no-op the second time, so we
// skip the upload entirely when the object already exists.
func (s *S3) Put(ctx context.Context, organizationID string, content []byte) (string, error) {
	hash := Hash(content)
	key := Key(organizationID, hash)

	if _, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{}); err == nil {
		return hash, nil
	}

	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(content), int64(len(content)), minio.PutObjectOptions{
		ContentType: "message/rfc822",
	})
	if err != nil {
		return "", fmt.Errorf("blobstore: put %s: %w", key, err)
	}
	return hash, nil
}

// Get downloads content back from the bucket.
func (s *S3) Get(ctx context.Context, organizationID, contentHash string) ([]byte, error) {
	key := Key(organizationID, contentHash)
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("blobstore: get %s: %w", key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		var resp minio.ErrorResponse
		if errors.As(err, &resp) && resp.Code == "NoSuchKey" {
			return nil, &ErrNotFound{Key: key}
		}
		return nil, fmt.Errorf("blobstore: read %s: %w", key, err)
	}
	return data, nil
}

// SignedURL returns a presigned GET URL valid for ttl, using the SDK's
// native presign support.
func (s *S3) SignedURL(ctx context.Context, organizationID, contentHash string, ttl time.Duration) (string, bool, error) {
	key := Key(organizationID, contentHash)
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, ttl, nil)
	if err != nil {
		return "", false, fmt.Errorf("blobstore: presign %s: %w", key, err)
	}
	return u.String(), true, nil
}
