//go:build integration

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

package dedup_test

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/oss-ticketing/journalcore/internal/dedup"
)

func TestFilter_IsNew_AgainstRealRedis(t *testing.T) {
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	connStr, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	opt, err := redis.ParseURL(connStr)
	require.NoError(t, err)
	rdb := redis.NewClient(opt)
	t.Cleanup(func() { _ = rdb.Close() })

	filter := dedup.NewFilter(rdb)

	first, err := filter.IsNew(ctx, "mailbox-1", "history-100")
	require.NoError(t, err)
	require.True(t, first)

	second, err := filter.IsNew(ctx, "mailbox-1", "history-100")
	require.NoError(t, err)
	require.False(t, second)

	other, err := filter.IsNew(ctx, "mailbox-1", "history-101")
	require.NoError(t, err)
	require.True(t, other)
}
