// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package app provides the composition root used to run an outbox
// instance. It wraps the host framework's own bedrock.App /
// bedrock.AppBuilder / bedrock.Run machinery with post-run hook support
// for resource cleanup through [WithHooks].
package app

import (
	"context"

	"github.com/z5labs/bedrock"
	bedrockconfig "github.com/z5labs/bedrock/config"
)

// Runtime is anything bedrock can run to completion: an *Engine, a test
// stub, or anything else with a Run method.
type Runtime = bedrock.App

// Builder constructs a [Runtime] from a config value of type T, exactly
// the shape bedrock.Run expects from a bedrock.AppBuilder.
type Builder[T any] = bedrock.AppBuilder[T]

// BuilderFunc adapts an ordinary function to a [Builder].
type BuilderFunc[T any] = bedrock.AppBuilderFunc[T]

// Run unmarshals cfgSrcs into T, builds the [Runtime] via builder, and
// runs it until it completes or ctx is cancelled.
func Run[T any](ctx context.Context, builder Builder[T], cfgSrcs ...bedrockconfig.Source) error {
	return bedrock.Run(ctx, builder, cfgSrcs...)
}
