// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package app

import (
	"context"
	"errors"
	"os"
	"syscall"

	bedrockapp "github.com/z5labs/bedrock/pkg/app"
)

// HookFunc is a function that runs after the inner runtime completes.
// Hooks receive the context from the application lifecycle and return an error if they fail.
// All hooks will be executed even if previous hooks fail; errors are collected and joined.
type HookFunc func(context.Context) error

// HookRegistry collects post-run hooks during application initialization.
// Hooks are executed in the order they are registered.
type HookRegistry struct {
	hooks []HookFunc
}

// OnPostRun registers a hook to be executed after the inner runtime completes.
// Hooks are executed in the order they are registered.
// All hooks will run even if the runtime or previous hooks fail.
func (r *HookRegistry) OnPostRun(hook HookFunc) {
	r.hooks = append(r.hooks, hook)
}

// lifecycleHook composes the registered hooks into the single
// bedrockapp.LifecycleHook that app.WithLifecycleHooks expects, joining
// every hook's error rather than stopping at the first failure.
func (r *HookRegistry) lifecycleHook() bedrockapp.LifecycleHook {
	hooks := r.hooks
	return bedrockapp.LifecycleHookFunc(func(ctx context.Context) error {
		var hookErrors error
		for _, hook := range hooks {
			if err := hook(ctx); err != nil {
				hookErrors = errors.Join(hookErrors, err)
			}
		}
		return hookErrors
	})
}

// WithHooks wraps f with post-run hook support and OS signal
// notification, composing app.WithLifecycleHooks and
// app.WithSignalNotifications around the Runtime f builds exactly as the
// host framework's own top-level entrypoint does around every
// bedrock.App it builds.
//
// The provided function receives a context, a HookRegistry and the
// unmarshalled config value, allowing it to register cleanup hooks
// during initialization. After the inner runtime completes, all
// registered hooks are executed in the order they were registered.
//
// All hooks will execute even if the inner runtime or previous hooks fail.
// Errors from the runtime and all hooks are collected and joined.
//
// Example usage:
//
//	builder := app.WithHooks(func(ctx context.Context, h *app.HookRegistry, cfg Config) (app.Runtime, error) {
//	    db, err := openDatabase(ctx, cfg)
//	    if err != nil {
//	        return nil, err
//	    }
//	    h.OnPostRun(func(ctx context.Context) error {
//	        return db.Close()
//	    })
//	    return buildApp(ctx, db)
//	})
func WithHooks[C any](f func(context.Context, *HookRegistry, C) (Runtime, error)) Builder[C] {
	return BuilderFunc[C](func(ctx context.Context, cfg C) (Runtime, error) {
		registry := &HookRegistry{}

		rt, err := f(ctx, registry, cfg)
		if err != nil {
			return nil, err
		}

		var base Runtime = bedrockapp.WithLifecycleHooks(rt, bedrockapp.Lifecycle{
			PostRun: registry.lifecycleHook(),
		})
		base = bedrockapp.WithSignalNotifications(base, os.Interrupt, os.Kill, syscall.SIGTERM)
		return base, nil
	})
}
