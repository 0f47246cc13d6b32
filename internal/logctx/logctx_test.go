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

package logctx

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHandler_AddsContextAttrsToRecord(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(slog.NewJSONHandler(&buf, nil)))

	ctx := With(context.Background(), "job_id", "abc-123", "attempt", 1)
	logger.InfoContext(ctx, "executing job")

	var out map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	require.Equal(t, "abc-123", out["job_id"])
	require.Equal(t, float64(1), out["attempt"])
	require.Equal(t, "executing job", out["msg"])
}

func TestWith_MergesAcrossNestedCalls(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(slog.NewJSONHandler(&buf, nil)))

	ctx := With(context.Background(), "organization_id", "org-1")
	ctx = With(ctx, "job_id", "job-1")
	logger.InfoContext(ctx, "nested attrs")

	var out map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	require.Equal(t, "org-1", out["organization_id"])
	require.Equal(t, "job-1", out["job_id"])
}

func TestHandler_NoContextAttrs_LeavesRecordUnchanged(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(slog.NewJSONHandler(&buf, nil)))

	logger.InfoContext(context.Background(), "plain message")

	var out map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	require.Equal(t, "plain message", out["msg"])
	require.NotContains(t, out, "job_id")
}
