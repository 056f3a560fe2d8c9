// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package routing implements the broker-adapter routing DSL from §4.8: an
// ordered table of rules, evaluated first-match-wins, that maps a
// dispatched payload to a broker-specific publish target, key and
// headers. It has no broker dependency itself; concrete adapters (e.g.
// routing/kafka) consume a [Table] to decide where and how to publish.
package routing

import (
	"context"
	"reflect"

	"github.com/z5labs/outbox"
)

// Envelope is what a [Selector] and [Rule] evaluate against: the decoded
// payload plus its dispatch metadata.
type Envelope struct {
	Payload any
	Meta    outbox.OutboxRecordMetadata
}

// Selector computes the routing decision for a matched [Rule]. Key,
// Headers and Map may return a zero value to mean "use the default", as
// documented on each method below.
type Selector interface {
	// Matches reports whether this selector's rule applies to env.
	Matches(env Envelope) bool
	// Target returns the broker-specific destination name (e.g. a Kafka
	// topic).
	Target(env Envelope) string
	// Key returns the partition/ordering key; an empty string means fall
	// back to env.Meta.Key.
	Key(env Envelope) string
	// Headers returns broker headers to attach; nil means none.
	Headers(env Envelope) map[string]string
	// Map transforms the payload before it's handed to the broker
	// adapter for encoding; nil means identity (use env.Payload as-is).
	Map(env Envelope) any
}

// ByType selects payloads whose runtime type is identical to, or
// assignable to, Type.
type ByType struct {
	Type     reflect.Type
	Topic    string
	KeyFn    func(Envelope) string
	HeaderFn func(Envelope) map[string]string
	MapFn    func(Envelope) any
}

func (s ByType) Matches(env Envelope) bool {
	if env.Payload == nil {
		return false
	}
	t := reflect.TypeOf(env.Payload)
	return t == s.Type || t.AssignableTo(s.Type)
}

func (s ByType) Target(Envelope) string { return s.Topic }

func (s ByType) Key(env Envelope) string {
	if s.KeyFn == nil {
		return ""
	}
	return s.KeyFn(env)
}

func (s ByType) Headers(env Envelope) map[string]string {
	if s.HeaderFn == nil {
		return nil
	}
	return s.HeaderFn(env)
}

func (s ByType) Map(env Envelope) any {
	if s.MapFn == nil {
		return env.Payload
	}
	return s.MapFn(env)
}

// ByPredicate selects on an arbitrary caller-supplied predicate,
// replacing the source framework's annotation/tag-based selector variant
// with a plain function, idiomatic for Go.
type ByPredicate struct {
	Predicate func(Envelope) bool
	Topic     string
	KeyFn     func(Envelope) string
	HeaderFn  func(Envelope) map[string]string
	MapFn     func(Envelope) any
}

func (s ByPredicate) Matches(env Envelope) bool { return s.Predicate(env) }
func (s ByPredicate) Target(Envelope) string    { return s.Topic }

func (s ByPredicate) Key(env Envelope) string {
	if s.KeyFn == nil {
		return ""
	}
	return s.KeyFn(env)
}

func (s ByPredicate) Headers(env Envelope) map[string]string {
	if s.HeaderFn == nil {
		return nil
	}
	return s.HeaderFn(env)
}

func (s ByPredicate) Map(env Envelope) any {
	if s.MapFn == nil {
		return env.Payload
	}
	return s.MapFn(env)
}

// ByContextValue selects on the value of a key carried in
// env.Meta.Context, replacing the source framework's context-key
// selector.
type ByContextValue struct {
	Key      string
	Equals   string
	Topic    string
	KeyFn    func(Envelope) string
	HeaderFn func(Envelope) map[string]string
	MapFn    func(Envelope) any
}

func (s ByContextValue) Matches(env Envelope) bool {
	return env.Meta.Context != nil && env.Meta.Context[s.Key] == s.Equals
}

func (s ByContextValue) Target(Envelope) string { return s.Topic }

func (s ByContextValue) Key(env Envelope) string {
	if s.KeyFn == nil {
		return ""
	}
	return s.KeyFn(env)
}

func (s ByContextValue) Headers(env Envelope) map[string]string {
	if s.HeaderFn == nil {
		return nil
	}
	return s.HeaderFn(env)
}

func (s ByContextValue) Map(env Envelope) any {
	if s.MapFn == nil {
		return env.Payload
	}
	return s.MapFn(env)
}

// Rule pairs a [Selector] with an optional filter: when Filter returns
// false the envelope is skipped entirely and treated as a dispatch
// success, per §4.8.
type Rule struct {
	Selector Selector
	Filter   func(Envelope) bool
}

// Table is an ordered list of rules evaluated first-match-wins, with an
// optional catch-all Default applied when nothing else matches.
type Table struct {
	Rules   []Rule
	Default Selector
}

// Decision is the resolved routing outcome for one envelope.
type Decision struct {
	Target  string
	Key     string
	Headers map[string]string
	Payload any
	Skip    bool
}

// ErrNoRoute is returned by [Table.Resolve] when no rule and no default
// match the envelope.
type ErrNoRoute struct{}

func (ErrNoRoute) Error() string { return "routing: no rule matched and no default is configured" }

// Resolve evaluates the table against env and returns the publish
// decision, per §4.8's per-message algorithm.
func (t Table) Resolve(ctx context.Context, env Envelope) (Decision, error) {
	selector := t.match(env)
	if selector == nil {
		return Decision{}, &ErrNoRoute{}
	}
	if _, skip := selector.(skipSelector); skip {
		return Decision{Skip: true}, nil
	}

	payload := selector.Map(env)
	if payload == nil {
		payload = env.Payload
	}

	return Decision{
		Target:  selector.Target(env),
		Key:     firstNonEmpty(selector.Key(env), env.Meta.Key),
		Headers: selector.Headers(env),
		Payload: payload,
	}, nil
}

func (t Table) match(env Envelope) Selector {
	for _, rule := range t.Rules {
		if !rule.Selector.Matches(env) {
			continue
		}
		if rule.Filter != nil && !rule.Filter(env) {
			return skipSelector{}
		}
		return rule.Selector
	}
	return t.Default
}

type skipSelector struct{}

func (skipSelector) Matches(Envelope) bool              { return true }
func (skipSelector) Target(Envelope) string             { return "" }
func (skipSelector) Key(Envelope) string                { return "" }
func (skipSelector) Headers(Envelope) map[string]string { return nil }
func (skipSelector) Map(Envelope) any                   { return nil }

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
