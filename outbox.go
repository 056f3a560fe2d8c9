// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package outbox

import (
	"context"
	"log/slog"
	"reflect"
	"time"
)

// Outbox is the scheduling façade called from inside a business
// transaction. See §4.1.
type Outbox struct {
	store     RecordStore
	registry  *HandlerRegistry
	codec     Codec
	providers []ContextProvider
	totalPart int
	log       *slog.Logger
	now       func() time.Time
}

// OutboxOption configures [NewOutbox].
type OutboxOption func(*Outbox)

// WithContextProviders registers the global [ContextProvider]s consulted
// on every schedule call, in the given order.
func WithContextProviders(providers ...ContextProvider) OutboxOption {
	return func(o *Outbox) {
		o.providers = append(o.providers, providers...)
	}
}

// WithTotalPartitions overrides [DefaultTotalPartitions].
func WithTotalPartitions(n int) OutboxOption {
	return func(o *Outbox) {
		o.totalPart = n
	}
}

// WithCodec overrides the default [JSONCodec].
func WithCodec(codec Codec) OutboxOption {
	return func(o *Outbox) {
		o.codec = codec
	}
}

// NewOutbox constructs a façade over store and registry.
func NewOutbox(store RecordStore, registry *HandlerRegistry, log *slog.Logger, opts ...OutboxOption) *Outbox {
	o := &Outbox{
		store:     store,
		registry:  registry,
		codec:     JSONCodec{},
		totalPart: DefaultTotalPartitions,
		log:       log,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ScheduleOption configures a single [Outbox.Schedule] call.
type ScheduleOption func(*scheduleOptions)

type scheduleOptions struct {
	key               string
	hasKey            bool
	additionalContext Context
}

// WithKey sets the business grouping key. Records sharing a key dispatch
// serially in CreatedAt order. Omit to auto-generate a fresh key with no
// ordering relationship to any other record.
func WithKey(key string) ScheduleOption {
	return func(o *scheduleOptions) {
		o.key = key
		o.hasKey = true
	}
}

// WithAdditionalContext overlays extra per-call context entries; these win
// over global [ContextProvider] values on collision.
func WithAdditionalContext(additional Context) ScheduleOption {
	return func(o *scheduleOptions) {
		o.additionalContext = additional
	}
}

// Schedule discovers every handler applicable to payload's runtime type
// and creates one [OutboxRecord] per match, all sharing the same key. If
// no TYPED handler matches and no GENERIC handler is registered, nothing
// is written; this is not an error, per §4.1.
//
// Schedule requires an ambient transaction in ctx (see [WithTx]); absent
// one it returns a [TransactionRequired] error so the caller's business
// transaction rolls back.
func (o *Outbox) Schedule(ctx context.Context, payload any, opts ...ScheduleOption) ([]*OutboxRecord, error) {
	if _, ok := TxFromContext(ctx); !ok {
		return nil, &TransactionRequired{}
	}

	so := scheduleOptions{}
	for _, opt := range opts {
		opt(&so)
	}

	key := so.key
	if !so.hasKey {
		key = NewID()
	}

	payloadType := reflect.TypeOf(payload)
	handlers := o.registry.HandlersFor(payloadType)
	if len(handlers) == 0 {
		return nil, nil
	}

	encoded, err := o.codec.Encode(payload)
	if err != nil {
		return nil, &SerializationError{RecordType: typeName(payloadType), Err: err}
	}

	mergedCtx := mergeContext(ctx, o.log, o.providers, so.additionalContext)
	captureTraceContext(ctx, mergedCtx)

	partition := Partition(key, o.totalPart)

	now := o.now()
	records := make([]*OutboxRecord, 0, len(handlers))
	for _, h := range handlers {
		record := &OutboxRecord{
			ID:          NewID(),
			Key:         key,
			Payload:     encoded,
			RecordType:  typeName(payloadType),
			Context:     mergedCtx.Clone(),
			Partition:   partition,
			HandlerID:   h.ID,
			Status:      StatusNew,
			CreatedAt:   now,
			NextRetryAt: now,
		}

		saved, err := o.store.Save(ctx, record)
		if err != nil {
			return nil, &StoreError{Op: "Save", Err: err}
		}
		records = append(records, saved)
	}

	return records, nil
}

func typeName(t reflect.Type) string {
	if t == nil {
		return "unknown"
	}
	return t.PkgPath() + "." + t.Name()
}
