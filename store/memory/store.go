// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package memory provides an in-process [Store], an adapter of
// outbox.RecordStore useful for tests and single-instance deployments
// where durability across restarts is not required.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/z5labs/outbox"
)

// Store is a mutex-guarded map implementation of outbox.RecordStore. It
// ignores any ambient transaction handle recovered via
// outbox.TxFromContext: all mutations are immediately visible, matching
// the semantics of running against a single in-memory dataset with no
// real commit/rollback boundary.
type Store struct {
	mu      sync.Mutex
	records map[string]*outbox.OutboxRecord
}

// New constructs an empty [Store].
func New() *Store {
	return &Store{records: make(map[string]*outbox.OutboxRecord)}
}

func (s *Store) Save(ctx context.Context, record *outbox.OutboxRecord) (*outbox.OutboxRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[record.ID] = record
	return record, nil
}

func (s *Store) FindEligibleKeysInPartitions(ctx context.Context, partitions []int, batchSize int, skipKeysWithPriorFailures bool) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wanted := make(map[int]bool, len(partitions))
	for _, p := range partitions {
		wanted[p] = true
	}

	type candidate struct {
		key       string
		createdAt int64
	}
	byKey := map[string]*candidate{}
	hasPriorIncomplete := map[string]bool{}
	now := time.Now()

	for _, r := range s.records {
		if !wanted[r.Partition] {
			continue
		}
		if r.Status != outbox.StatusNew {
			continue
		}
		if r.NextRetryAt.After(now) {
			continue
		}

		if skipKeysWithPriorFailures {
			for _, other := range s.records {
				if other.Key == r.Key && other.ID != r.ID && other.Status != outbox.StatusCompleted && other.CreatedAt.Before(r.CreatedAt) {
					hasPriorIncomplete[r.Key] = true
				}
			}
		}

		c, ok := byKey[r.Key]
		if !ok || r.CreatedAt.UnixNano() < c.createdAt {
			byKey[r.Key] = &candidate{key: r.Key, createdAt: r.CreatedAt.UnixNano()}
		}
	}

	candidates := make([]candidate, 0, len(byKey))
	for k, c := range byKey {
		if skipKeysWithPriorFailures && hasPriorIncomplete[k] {
			continue
		}
		candidates = append(candidates, *c)
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].createdAt < candidates[j].createdAt })

	if batchSize > 0 && len(candidates) > batchSize {
		candidates = candidates[:batchSize]
	}

	keys := make([]string, len(candidates))
	for i, c := range candidates {
		keys[i] = c.key
	}
	return keys, nil
}

func (s *Store) FindIncompleteRecordsByKey(ctx context.Context, key string) ([]*outbox.OutboxRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*outbox.OutboxRecord
	for _, r := range s.records {
		if r.Key == key && r.Status == outbox.StatusNew {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) CountByStatus(ctx context.Context, status outbox.Status) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, r := range s.records {
		if r.Status == status {
			n++
		}
	}
	return n, nil
}

func (s *Store) CountByPartition(ctx context.Context, partition int, status outbox.Status) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, r := range s.records {
		if r.Partition == partition && r.Status == status {
			n++
		}
	}
	return n, nil
}

func (s *Store) DeleteByID(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, id)
	return nil
}

func (s *Store) DeleteByStatus(ctx context.Context, status outbox.Status) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, r := range s.records {
		if r.Status == status {
			delete(s.records, id)
			n++
		}
	}
	return n, nil
}

func (s *Store) DeleteByKeyAndStatus(ctx context.Context, key string, status outbox.Status) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, r := range s.records {
		if r.Key == key && r.Status == status {
			delete(s.records, id)
			n++
		}
	}
	return n, nil
}
