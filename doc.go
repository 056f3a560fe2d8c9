// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package outbox implements the transactional outbox pattern: domain events
// are durably enqueued inside the same database transaction that mutates
// business state, and a separate asynchronous delivery engine dispatches
// them to registered handlers with at-least-once semantics, per-key
// ordering, retries and graceful degradation.
//
// The package is split into a small set of tightly coupled concerns that
// share the record/instance/partition invariants described by [OutboxRecord],
// [OutboxInstance] and [PartitionAssignment]:
//
//   - [Outbox] is the scheduling façade called from inside a business
//     transaction.
//   - [HandlerRegistry] resolves which [Handler] implementations apply to a
//     given payload.
//   - [ProcessorChain] is the fixed Primary -> Retry -> Fallback ->
//     PermanentFailure pipeline a record moves through on every dispatch
//     attempt.
//   - [Scheduler] ticks on an interval, asks a [PartitionCoordinator] which
//     partitions this instance owns, and fans dispatch out across keys.
//   - [Engine] wires all of the above together along with an
//     [InstanceRegistry] heartbeat loop into a single runnable component.
//
// Storage, instance membership and partition assignment are pluggable via
// the [RecordStore], [InstanceRegistry] and [PartitionCoordinator]
// interfaces; concrete adapters live in the store, instance and partition
// subpackages. Broker bindings (Kafka, etc.) are just [Handler]
// implementations and live under routing.
package outbox
