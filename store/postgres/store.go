// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package postgres is the production outbox.RecordStore adapter, backed
// by a Postgres table and the outbox_record schema from §6. Every
// mutation that originates from [outbox.Outbox.Schedule] joins the
// caller's transaction recovered via outbox.TxFromContext; operations
// invoked from the scheduler and processor chain run against the pool
// directly, matching a single-writer-per-row discipline that needs no
// extra locking for those calls.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/z5labs/outbox"
)

// Store is a Postgres-backed outbox.RecordStore.
type Store struct {
	pool *pgxpool.Pool
}

// New constructs a [Store] over pool. Callers are responsible for
// applying the outbox_record schema described in §6 before first use.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// execQueryer is satisfied by both *pgxpool.Pool and pgx.Tx, so every
// method below transparently joins an ambient transaction when present
// instead of always hitting the pool.
type execQueryer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *Store) conn(ctx context.Context) execQueryer {
	if tx, ok := outbox.TxFromContext(ctx); ok {
		if q, ok := tx.(execQueryer); ok {
			return q
		}
	}
	return s.pool
}

func (s *Store) exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return s.conn(ctx).Exec(ctx, sql, args...)
}

func (s *Store) query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return s.conn(ctx).Query(ctx, sql, args...)
}

func (s *Store) queryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return s.conn(ctx).QueryRow(ctx, sql, args...)
}

func rowsAffected(tag pgconn.CommandTag) int64 {
	return tag.RowsAffected()
}

const upsertRecordSQL = `
INSERT INTO outbox_record (
	id, record_key, record_type, payload, context, partition_no,
	handler_id, status, failure_count, failure_reason, failure_exception,
	created_at, next_retry_at, completed_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
ON CONFLICT (id) DO UPDATE SET
	status = EXCLUDED.status,
	failure_count = EXCLUDED.failure_count,
	failure_reason = EXCLUDED.failure_reason,
	failure_exception = EXCLUDED.failure_exception,
	next_retry_at = EXCLUDED.next_retry_at,
	completed_at = EXCLUDED.completed_at`

func (s *Store) Save(ctx context.Context, record *outbox.OutboxRecord) (*outbox.OutboxRecord, error) {
	encodedCtx, err := encodeContext(record.Context)
	if err != nil {
		return nil, fmt.Errorf("outbox/store/postgres: encode context: %w", err)
	}

	_, err = s.exec(ctx, upsertRecordSQL,
		record.ID, record.Key, record.RecordType, record.Payload, encodedCtx, record.Partition,
		record.HandlerID, record.Status, record.FailureCount, nullString(record.FailureReason), nullString(record.FailureException),
		record.CreatedAt, record.NextRetryAt, record.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return record, nil
}

const findEligibleKeysSQL = `
SELECT record_key
FROM outbox_record
WHERE status = 'NEW'
  AND next_retry_at <= now()
  AND partition_no = ANY($1)
GROUP BY record_key
ORDER BY MIN(created_at)
LIMIT $2`

const priorIncompleteKeysSQL = `
SELECT DISTINCT o2.record_key
FROM outbox_record o2
JOIN (
	SELECT record_key, MIN(created_at) AS first_new_at
	FROM outbox_record
	WHERE record_key = ANY($1) AND status = 'NEW'
	GROUP BY record_key
) first_new ON first_new.record_key = o2.record_key
WHERE o2.status != 'COMPLETED'
  AND o2.created_at < first_new.first_new_at`

func (s *Store) FindEligibleKeysInPartitions(ctx context.Context, partitions []int, batchSize int, skipKeysWithPriorFailures bool) ([]string, error) {
	rows, err := s.query(ctx, findEligibleKeysSQL, partitions, batchSize)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if !skipKeysWithPriorFailures || len(keys) == 0 {
		return keys, nil
	}

	blockedRows, err := s.query(ctx, priorIncompleteKeysSQL, keys)
	if err != nil {
		return nil, err
	}
	defer blockedRows.Close()

	blocked := make(map[string]bool, len(keys))
	for blockedRows.Next() {
		var key string
		if err := blockedRows.Scan(&key); err != nil {
			return nil, err
		}
		blocked[key] = true
	}
	if err := blockedRows.Err(); err != nil {
		return nil, err
	}

	filtered := make([]string, 0, len(keys))
	for _, key := range keys {
		if !blocked[key] {
			filtered = append(filtered, key)
		}
	}
	return filtered, nil
}

const findIncompleteByKeySQL = `
SELECT id, record_key, record_type, payload, context, partition_no, handler_id,
       status, failure_count, COALESCE(failure_reason, ''), COALESCE(failure_exception, ''),
       created_at, next_retry_at, completed_at
FROM outbox_record
WHERE record_key = $1 AND status = 'NEW'
ORDER BY created_at ASC`

func (s *Store) FindIncompleteRecordsByKey(ctx context.Context, key string) ([]*outbox.OutboxRecord, error) {
	rows, err := s.query(ctx, findIncompleteByKeySQL, key)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*outbox.OutboxRecord
	for rows.Next() {
		record, encodedCtx, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		ctxMap, err := decodeContext(encodedCtx)
		if err != nil {
			return nil, fmt.Errorf("outbox/store/postgres: decode context: %w", err)
		}
		record.Context = ctxMap
		out = append(out, record)
	}
	return out, rows.Err()
}

func (s *Store) CountByStatus(ctx context.Context, status outbox.Status) (int64, error) {
	var n int64
	err := s.queryRow(ctx, `SELECT count(*) FROM outbox_record WHERE status = $1`, status).Scan(&n)
	return n, err
}

func (s *Store) CountByPartition(ctx context.Context, partition int, status outbox.Status) (int64, error) {
	var n int64
	err := s.queryRow(ctx, `SELECT count(*) FROM outbox_record WHERE partition_no = $1 AND status = $2`, partition, status).Scan(&n)
	return n, err
}

func (s *Store) DeleteByID(ctx context.Context, id string) error {
	_, err := s.exec(ctx, `DELETE FROM outbox_record WHERE id = $1`, id)
	return err
}

func (s *Store) DeleteByStatus(ctx context.Context, status outbox.Status) (int64, error) {
	tag, err := s.exec(ctx, `DELETE FROM outbox_record WHERE status = $1`, status)
	if err != nil {
		return 0, err
	}
	return rowsAffected(tag), nil
}

func (s *Store) DeleteByKeyAndStatus(ctx context.Context, key string, status outbox.Status) (int64, error) {
	tag, err := s.exec(ctx, `DELETE FROM outbox_record WHERE record_key = $1 AND status = $2`, key, status)
	if err != nil {
		return 0, err
	}
	return rowsAffected(tag), nil
}
