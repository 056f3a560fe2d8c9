// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package outbox

import "encoding/json"

// Codec serializes payloads to the opaque string stored in
// [OutboxRecord.Payload] and deserializes them back into a concrete Go
// value for handler invocation. Payload serialization format is pluggable
// per §1; [JSONCodec] is the default.
type Codec interface {
	Encode(payload any) (string, error)
	Decode(data string, out any) error
}

// JSONCodec implements [Codec] using encoding/json.
type JSONCodec struct{}

// Encode implements [Codec].
func (JSONCodec) Encode(payload any) (string, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Decode implements [Codec].
func (JSONCodec) Decode(data string, out any) error {
	return json.Unmarshal([]byte(data), out)
}
