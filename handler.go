// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package outbox

import (
	"context"
	"reflect"
	"time"
)

// HandlerKind tags the variant of a [Handler], replacing the source
// framework's reflection-based annotation discovery with an explicit,
// exhaustively-matched tagged union per the design notes in §9.
type HandlerKind string

const (
	// HandlerTyped handlers only apply to payloads assignable to a single
	// concrete (or interface) Go type.
	HandlerTyped HandlerKind = "TYPED"
	// HandlerGeneric handlers apply to every payload.
	HandlerGeneric HandlerKind = "GENERIC"
	// HandlerFallback handlers are terminal compensations associated with
	// exactly one TYPED or GENERIC handler by ID.
	HandlerFallback HandlerKind = "FALLBACK"
)

// OutboxRecordMetadata is passed to a primary/retry handler invocation
// alongside the decoded payload.
type OutboxRecordMetadata struct {
	Key       string
	HandlerID string
	CreatedAt time.Time
	Context   Context
}

// HandlerFunc is the primary/generic invocation signature: decode payload
// into whatever concrete type the handler expects and act on it.
type HandlerFunc func(ctx context.Context, payload string, meta OutboxRecordMetadata) error

// FallbackFunc is the terminal compensation invocation signature.
type FallbackFunc func(ctx context.Context, payload string, failure OutboxFailureContext) error

// Handler is a static, process-wide descriptor registered at startup. See
// §3 and §4.7.
type Handler struct {
	ID          string
	Kind        HandlerKind
	PayloadType reflect.Type // nil for GENERIC
	RetryPolicy RetryPolicy
	Invoke      HandlerFunc
}

// Matches reports whether this handler applies to a payload of the given
// runtime type. GENERIC handlers match every type. TYPED/FALLBACK handlers
// match when payloadType is identical to, or assignable to, the handler's
// registered PayloadType (subtype match), replacing the source's runtime
// inheritance check.
func (h Handler) Matches(payloadType reflect.Type) bool {
	if h.Kind == HandlerGeneric {
		return true
	}
	if h.PayloadType == nil || payloadType == nil {
		return false
	}
	if payloadType == h.PayloadType {
		return true
	}
	return payloadType.AssignableTo(h.PayloadType)
}

// Typed registers a TYPED handler for values assignable to T. The
// generated [Handler.PayloadType] is derived from T via reflection so that
// [HandlerRegistry] can resolve it against a schedule-time payload's
// runtime type without the caller ever touching reflection directly.
func Typed[T any](id string, policy RetryPolicy, fn func(ctx context.Context, payload T, meta OutboxRecordMetadata) error, codec Codec) Handler {
	var zero T
	return Handler{
		ID:          id,
		Kind:        HandlerTyped,
		PayloadType: reflect.TypeOf(zero),
		RetryPolicy: policy,
		Invoke: func(ctx context.Context, payload string, meta OutboxRecordMetadata) error {
			var v T
			if err := codec.Decode(payload, &v); err != nil {
				return &SerializationError{RecordType: id, Err: err}
			}
			return fn(ctx, v, meta)
		},
	}
}

// Generic registers a GENERIC handler that applies to any payload type
// and receives it as a raw encoded string; it is the caller's
// responsibility to decode it if needed.
func Generic(id string, policy RetryPolicy, fn HandlerFunc) Handler {
	return Handler{
		ID:          id,
		Kind:        HandlerGeneric,
		RetryPolicy: policy,
		Invoke:      fn,
	}
}

// Fallback registers the terminal compensation handler for the TYPED or
// GENERIC handler named by forHandlerID. At most one fallback may be
// associated with a given handler ID; duplicate registration is a
// [ConfigurationError] raised by [HandlerRegistry.RegisterFallback].
func Fallback[T any](forHandlerID string, fn func(ctx context.Context, payload T, failure OutboxFailureContext) error, codec Codec) (string, FallbackFunc) {
	return forHandlerID, func(ctx context.Context, payload string, failure OutboxFailureContext) error {
		var v T
		if err := codec.Decode(payload, &v); err != nil {
			return &SerializationError{RecordType: forHandlerID, Err: err}
		}
		return fn(ctx, v, failure)
	}
}
