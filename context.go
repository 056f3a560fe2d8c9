// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package outbox

import (
	"context"
	"log/slog"
	"maps"
)

// Context is the flat string-to-string map carried with every record and
// surfaced to handlers as part of [OutboxRecordMetadata]. It is serialized
// verbatim; callers must not rely on key ordering.
type Context map[string]string

// Clone returns a shallow copy safe for independent mutation.
func (c Context) Clone() Context {
	out := make(Context, len(c))
	maps.Copy(out, c)
	return out
}

// ContextProvider contributes entries to the context merged at schedule
// time. Providers run in registration order; a provider whose Provide call
// panics or returns an error is skipped, never propagated, per §4.1's
// context merging algorithm.
type ContextProvider interface {
	Provide(ctx context.Context) (Context, error)
}

// ContextProviderFunc adapts a function to a [ContextProvider].
type ContextProviderFunc func(ctx context.Context) (Context, error)

// Provide implements [ContextProvider].
func (f ContextProviderFunc) Provide(ctx context.Context) (Context, error) {
	return f(ctx)
}

// mergeContext composes global providers in order, then overlays
// additional last so per-call values win on collision, exactly as §4.1
// specifies.
func mergeContext(ctx context.Context, log *slog.Logger, providers []ContextProvider, additional Context) Context {
	merged := make(Context)
	for _, p := range providers {
		contributed, err := safeProvide(ctx, p)
		if err != nil {
			log.WarnContext(ctx, "context provider failed, skipping", slog.Any("error", err))
			continue
		}
		maps.Copy(merged, contributed)
	}
	maps.Copy(merged, additional)
	return merged
}

func safeProvide(ctx context.Context, p ContextProvider) (c Context, err error) {
	defer func() {
		if r := recover(); r != nil {
			c, err = nil, panicToError(r)
		}
	}()
	return p.Provide(ctx)
}
