// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package outbox

import (
	"context"
)

// RecordStore is the durable home for [OutboxRecord] rows. Implementations
// are pluggable; reference adapters exist under the store subpackage
// (store/postgres for production use, store/memory for tests). An
// implementation that supports transactions joins the caller's ambient
// transaction when ctx carries one (see [TxFromContext]); the scheduler
// and processor chain call the store without one.
//
// See §4.2.
type RecordStore interface {
	// Save inserts the record if absent, else updates every mutable
	// column, and returns the saved record.
	Save(ctx context.Context, record *OutboxRecord) (*OutboxRecord, error)

	// FindEligibleKeysInPartitions returns at most batchSize distinct keys
	// that have at least one eligible NEW record in one of partitions,
	// oldest-eligible-record first. When skipKeysWithPriorFailures is
	// true, a key is excluded if an earlier (by CreatedAt) record sharing
	// that key is still non-completed.
	FindEligibleKeysInPartitions(ctx context.Context, partitions []int, batchSize int, skipKeysWithPriorFailures bool) ([]string, error)

	// FindIncompleteRecordsByKey returns every NEW record for key, ordered
	// by CreatedAt ascending.
	FindIncompleteRecordsByKey(ctx context.Context, key string) ([]*OutboxRecord, error)

	// CountByStatus returns the number of records currently in status.
	CountByStatus(ctx context.Context, status Status) (int64, error)

	// CountByPartition returns the number of records in partition with
	// status.
	CountByPartition(ctx context.Context, partition int, status Status) (int64, error)

	// DeleteByID deletes a single record, e.g. after successful dispatch
	// when deleteCompletedRecords is enabled.
	DeleteByID(ctx context.Context, id string) error

	// DeleteByStatus deletes every record in status; administrative.
	DeleteByStatus(ctx context.Context, status Status) (int64, error)

	// DeleteByKeyAndStatus deletes every record for key in status;
	// administrative.
	DeleteByKeyAndStatus(ctx context.Context, key string, status Status) (int64, error)
}

// txKey is the context key under which the ambient transaction handle is
// stashed by callers of [Outbox.Schedule]. The concrete value is whatever
// the [RecordStore] implementation expects (e.g. a *pgx.Tx); outbox itself
// never inspects it, it only checks for presence.
type txKey struct{}

// WithTx returns a context carrying tx as the ambient transaction handle
// required by [Outbox.Schedule]. Applications call this once per business
// transaction before invoking Schedule.
func WithTx(ctx context.Context, tx any) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// TxFromContext recovers the ambient transaction handle stashed by
// [WithTx]. RecordStore implementations use this to join the caller's
// transaction. The second return value is false if no transaction is
// present.
func TxFromContext(ctx context.Context) (any, bool) {
	tx := ctx.Value(txKey{})
	return tx, tx != nil
}
