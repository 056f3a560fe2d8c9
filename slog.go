// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package outbox

import "log/slog"

// KeyAttr returns a slog attribute for a record's business key.
func KeyAttr(key string) slog.Attr {
	return slog.String("outbox.record.key", key)
}

// HandlerIDAttr returns a slog attribute for a handler ID.
func HandlerIDAttr(id string) slog.Attr {
	return slog.String("outbox.handler.id", id)
}

// PartitionAttr returns a slog attribute for a partition number.
func PartitionAttr(partition int) slog.Attr {
	return slog.Int("outbox.partition", partition)
}

// InstanceIDAttr returns a slog attribute for a cluster instance ID.
func InstanceIDAttr(id string) slog.Attr {
	return slog.String("outbox.instance.id", id)
}
