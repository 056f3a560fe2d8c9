// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/z5labs/outbox"
)

const schemaDDL = `
CREATE TABLE outbox_record (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	record_key TEXT NOT NULL,
	record_type TEXT NOT NULL,
	payload TEXT NOT NULL,
	context TEXT NOT NULL,
	partition_no INT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ,
	failure_count INT NOT NULL DEFAULT 0,
	failure_reason TEXT,
	failure_exception TEXT,
	next_retry_at TIMESTAMPTZ NOT NULL,
	handler_id TEXT NOT NULL
);
CREATE INDEX ON outbox_record (partition_no, status, next_retry_at);
CREATE INDEX ON outbox_record (record_key, created_at);`

func newTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("outbox"),
		postgres.WithUsername("outbox"),
		postgres.WithPassword("outbox"),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = pool.Exec(ctx, schemaDDL)
	require.NoError(t, err)

	return pool
}

func TestStore_SaveAndFind(t *testing.T) {
	t.Run("will round-trip a record through FindIncompleteRecordsByKey", func(t *testing.T) {
		pool := newTestPool(t)
		store := New(pool)
		ctx := context.Background()

		now := time.Now().Truncate(time.Microsecond)
		record := &outbox.OutboxRecord{
			ID:          "r1",
			Key:         "k1",
			Payload:     `{"hello":"world"}`,
			RecordType:  "test.Payload",
			Context:     outbox.Context{"traceparent": "00-abc-def-01"},
			Partition:   3,
			HandlerID:   "h1",
			Status:      outbox.StatusNew,
			CreatedAt:   now,
			NextRetryAt: now,
		}

		_, err := store.Save(ctx, record)
		require.NoError(t, err)

		found, err := store.FindIncompleteRecordsByKey(ctx, "k1")
		require.NoError(t, err)
		require.Len(t, found, 1)
		require.Equal(t, record.ID, found[0].ID)
		require.Equal(t, "00-abc-def-01", found[0].Context["traceparent"])

		keys, err := store.FindEligibleKeysInPartitions(ctx, []int{3}, 10, false)
		require.NoError(t, err)
		require.Equal(t, []string{"k1"}, keys)
	})
}
