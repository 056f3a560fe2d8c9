// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package outbox

import (
	"context"
	"log/slog"
	"time"
)

// OutboxFailureContext is passed to a fallback handler invocation. It
// carries the same metadata as [OutboxRecordMetadata] plus failure
// details. See §4.6.
type OutboxFailureContext struct {
	OutboxRecordMetadata

	FailureCount          int
	LastException         error
	RetriesExhausted      bool
	NonRetryableException bool
}

// processor is one link in the fixed [ProcessorChain]. It returns true
// when it has handled the record terminally for this attempt (stop), or
// false to delegate to the next processor.
type processor interface {
	process(ctx context.Context, record *OutboxRecord) (handled bool, err error)
}

// ProcessorChain is the fixed Primary -> Retry -> Fallback ->
// PermanentFailure pipeline a record moves through on every dispatch
// attempt. See §4.6.
type ProcessorChain struct {
	log   *slog.Logger
	now   func() time.Time
	chain []processor
}

// ProcessorChainOptions configures a [ProcessorChain].
type ProcessorChainOptions struct {
	// DeleteCompletedRecords removes a record from the store on success
	// instead of retaining it with Status=COMPLETED.
	DeleteCompletedRecords bool
	// Now overrides the clock; defaults to time.Now.
	Now func() time.Time
}

// NewProcessorChain wires the four processors over store and registry.
func NewProcessorChain(store RecordStore, registry *HandlerRegistry, log *slog.Logger, opts ProcessorChainOptions) *ProcessorChain {
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	primary := &primaryProcessor{store: store, registry: registry, log: log, now: now, deleteCompleted: opts.DeleteCompletedRecords}
	retry := &retryProcessor{store: store, registry: registry, log: log, now: now}
	fallback := &fallbackProcessor{store: store, registry: registry, log: log, now: now, deleteCompleted: opts.DeleteCompletedRecords}
	failure := &permanentFailureProcessor{store: store, log: log}

	return &ProcessorChain{
		log:   log,
		now:   now,
		chain: []processor{primary, retry, fallback, failure},
	}
}

// Dispatch runs record through the chain, invoking each processor in order
// until one reports handled. Every processor is expected to persist its
// own state changes; Dispatch itself performs no additional persistence.
func (c *ProcessorChain) Dispatch(ctx context.Context, record *OutboxRecord) error {
	for _, p := range c.chain {
		handled, err := p.process(ctx, record)
		if err != nil {
			return err
		}
		if handled {
			return nil
		}
	}
	return nil
}

// --- Primary ---

type primaryProcessor struct {
	store           RecordStore
	registry        *HandlerRegistry
	log             *slog.Logger
	now             func() time.Time
	deleteCompleted bool
}

func (p *primaryProcessor) process(ctx context.Context, record *OutboxRecord) (bool, error) {
	handler, ok := p.registry.HandlerByID(record.HandlerID)
	if !ok {
		err := &ConfigurationError{Reason: "no handler registered for id: " + record.HandlerID}
		p.log.ErrorContext(ctx, "missing handler for persisted record", KeyAttr(record.Key), HandlerIDAttr(record.HandlerID))
		return true, err
	}

	meta := OutboxRecordMetadata{
		Key:       record.Key,
		HandlerID: record.HandlerID,
		CreatedAt: record.CreatedAt,
		Context:   record.Context,
	}

	dispatchCtx, span := startDispatchSpan(ctx, record)
	defer span.end()

	err := invokeHandler(dispatchCtx, handler, record.Payload, meta)
	if err == nil {
		now := p.now()
		record.Status = StatusCompleted
		record.CompletedAt = &now
		span.recordOutcome(nil)

		if p.deleteCompleted {
			if dErr := p.store.DeleteByID(ctx, record.ID); dErr != nil {
				return true, &StoreError{Op: "DeleteByID", Err: dErr}
			}
			return true, nil
		}
		if _, sErr := p.store.Save(ctx, record); sErr != nil {
			return true, &StoreError{Op: "Save", Err: sErr}
		}
		return true, nil
	}

	span.recordOutcome(err)
	record.FailureCount++
	record.FailureReason = err.Error()
	record.FailureException = errorExceptionTag(err)
	p.log.WarnContext(ctx, "handler invocation failed", KeyAttr(record.Key), HandlerIDAttr(record.HandlerID), slog.Any("error", err))

	if _, sErr := p.store.Save(ctx, record); sErr != nil {
		return true, &StoreError{Op: "Save", Err: sErr}
	}
	return false, nil
}

func invokeHandler(ctx context.Context, handler Handler, payload string, meta OutboxRecordMetadata) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &DispatchError{HandlerID: handler.ID, Err: panicToError(r)}
		}
	}()
	if invErr := handler.Invoke(ctx, payload, meta); invErr != nil {
		return &DispatchError{HandlerID: handler.ID, Err: invErr}
	}
	return nil
}

func errorExceptionTag(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// --- Retry ---

type retryProcessor struct {
	store    RecordStore
	registry *HandlerRegistry
	log      *slog.Logger
	now      func() time.Time
}

func (p *retryProcessor) process(ctx context.Context, record *OutboxRecord) (bool, error) {
	if record.Status != StatusNew {
		// Already terminal from primary; nothing to retry.
		return true, nil
	}

	handler, ok := p.registry.HandlerByID(record.HandlerID)
	if !ok {
		return false, nil
	}
	policy := handler.RetryPolicy
	if policy == nil {
		return false, nil
	}

	var lastErr error
	if record.FailureException != "" {
		lastErr = failureAsError(record.FailureException)
	}

	if !policy.ShouldRetry(record.FailureCount, lastErr) {
		return false, nil
	}

	record.NextRetryAt = p.now().Add(policy.NextDelay(record.FailureCount))
	if _, err := p.store.Save(ctx, record); err != nil {
		return true, &StoreError{Op: "Save", Err: err}
	}
	p.log.InfoContext(ctx, "record rescheduled for retry", KeyAttr(record.Key), HandlerIDAttr(record.HandlerID), slog.Int("failure_count", record.FailureCount), slog.Time("next_retry_at", record.NextRetryAt))
	return true, nil
}

// failureAsError wraps a stored failure reason string back into an error
// so exception filters can pattern match on it via errors.Is/As against
// sentinel wrapping in the original DispatchError, when persisted through
// a round trip (e.g. loaded fresh from the store rather than kept
// in-process).
type storedFailure struct{ reason string }

func (f storedFailure) Error() string { return f.reason }

func failureAsError(reason string) error {
	return storedFailure{reason: reason}
}

// --- Fallback ---

type fallbackProcessor struct {
	store           RecordStore
	registry        *HandlerRegistry
	log             *slog.Logger
	now             func() time.Time
	deleteCompleted bool
}

func (p *fallbackProcessor) process(ctx context.Context, record *OutboxRecord) (bool, error) {
	fn, ok := p.registry.FallbackFor(record.HandlerID)
	if !ok {
		return false, nil
	}

	handler, _ := p.registry.HandlerByID(record.HandlerID)
	var lastErr error
	if record.FailureException != "" {
		lastErr = failureAsError(record.FailureException)
	}

	maxRetries := 0
	nonRetryable := false
	if handler.RetryPolicy != nil {
		maxRetries = handler.RetryPolicy.MaxRetries()
		nonRetryable = !handler.RetryPolicy.ShouldRetry(record.FailureCount, lastErr) && record.FailureCount <= maxRetries
	}

	failure := OutboxFailureContext{
		OutboxRecordMetadata: OutboxRecordMetadata{
			Key:       record.Key,
			HandlerID: record.HandlerID,
			CreatedAt: record.CreatedAt,
			Context:   record.Context,
		},
		FailureCount:          record.FailureCount,
		LastException:         lastErr,
		RetriesExhausted:      record.FailureCount > maxRetries,
		NonRetryableException: nonRetryable,
	}

	err := invokeFallback(ctx, record.HandlerID, fn, record.Payload, failure)
	if err == nil {
		now := p.now()
		record.Status = StatusCompleted
		record.CompletedAt = &now

		if p.deleteCompleted {
			if dErr := p.store.DeleteByID(ctx, record.ID); dErr != nil {
				return true, &StoreError{Op: "DeleteByID", Err: dErr}
			}
			return true, nil
		}
		if _, sErr := p.store.Save(ctx, record); sErr != nil {
			return true, &StoreError{Op: "Save", Err: sErr}
		}
		return true, nil
	}

	record.FailureReason = err.Error()
	record.FailureException = errorExceptionTag(err)
	p.log.WarnContext(ctx, "fallback handler failed", KeyAttr(record.Key), HandlerIDAttr(record.HandlerID), slog.Any("error", err))
	return false, nil
}

func invokeFallback(ctx context.Context, handlerID string, fn FallbackFunc, payload string, failure OutboxFailureContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &DispatchError{HandlerID: handlerID, Err: panicToError(r)}
		}
	}()
	if fErr := fn(ctx, payload, failure); fErr != nil {
		return &DispatchError{HandlerID: handlerID, Err: fErr}
	}
	return nil
}

// --- PermanentFailure ---

type permanentFailureProcessor struct {
	store RecordStore
	log   *slog.Logger
}

func (p *permanentFailureProcessor) process(ctx context.Context, record *OutboxRecord) (bool, error) {
	record.Status = StatusFailed
	if _, err := p.store.Save(ctx, record); err != nil {
		return true, &StoreError{Op: "Save", Err: err}
	}
	p.log.ErrorContext(ctx, "record permanently failed", KeyAttr(record.Key), HandlerIDAttr(record.HandlerID), slog.Int("failure_count", record.FailureCount))
	return true, nil
}
