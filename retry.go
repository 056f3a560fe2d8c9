// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package outbox

import (
	"math"
	"math/rand"
	"time"
)

// RetryPolicy decides whether a failed dispatch attempt should be retried
// and, if so, how long to wait before the next attempt. See §4.6.
type RetryPolicy interface {
	// ShouldRetry reports whether err is retryable under this policy's
	// exception filter, and whether failureCount has not yet exceeded
	// MaxRetries.
	ShouldRetry(failureCount int, err error) bool
	// NextDelay returns the delay to wait before retry number
	// failureCount.
	NextDelay(failureCount int) time.Duration
	// MaxRetries is the maximum number of retry attempts before a record
	// is considered to have exhausted retries.
	MaxRetries() int
}

// ExceptionFilter decides whether a given error is eligible for retry.
// Include wins when both an include and exclude list are set; the default
// zero-value filter retries everything. Matching is done with errors.Is
// style sentinel comparisons via classifiers rather than string matching,
// since Go errors do not carry a reflective "exception class" the way the
// source framework's do.
type ExceptionFilter struct {
	Include []func(error) bool
	Exclude []func(error) bool
}

// Allows reports whether err should be retried under this filter.
func (f ExceptionFilter) Allows(err error) bool {
	if len(f.Include) > 0 {
		for _, match := range f.Include {
			if match(err) {
				return true
			}
		}
		return false
	}
	for _, match := range f.Exclude {
		if match(err) {
			return false
		}
	}
	return true
}

type basePolicy struct {
	maxRetries int
	filter     ExceptionFilter
	delay      func(failureCount int) time.Duration
}

func (p basePolicy) ShouldRetry(failureCount int, err error) bool {
	return failureCount <= p.maxRetries && p.filter.Allows(err)
}

func (p basePolicy) NextDelay(failureCount int) time.Duration {
	return p.delay(failureCount)
}

func (p basePolicy) MaxRetries() int {
	return p.maxRetries
}

// FixedDelay returns a [RetryPolicy] that always waits d between attempts.
func FixedDelay(d time.Duration, maxRetries int, filter ExceptionFilter) RetryPolicy {
	return basePolicy{
		maxRetries: maxRetries,
		filter:     filter,
		delay: func(int) time.Duration {
			return d
		},
	}
}

// LinearDelay returns a [RetryPolicy] whose delay grows by increment per
// failed attempt, starting at initial and capped at max.
func LinearDelay(initial, increment, max time.Duration, maxRetries int, filter ExceptionFilter) RetryPolicy {
	return basePolicy{
		maxRetries: maxRetries,
		filter:     filter,
		delay: func(failureCount int) time.Duration {
			d := initial + increment*time.Duration(failureCount-1)
			if d > max {
				return max
			}
			if d < 0 {
				return max
			}
			return d
		},
	}
}

// ExponentialDelay returns a [RetryPolicy] whose delay grows by
// multiplier^(failureCount-1) starting at initial and capped at max.
func ExponentialDelay(initial time.Duration, multiplier float64, max time.Duration, maxRetries int, filter ExceptionFilter) RetryPolicy {
	return basePolicy{
		maxRetries: maxRetries,
		filter:     filter,
		delay: func(failureCount int) time.Duration {
			factor := math.Pow(multiplier, float64(failureCount-1))
			d := time.Duration(float64(initial) * factor)
			if d > max || d < 0 {
				return max
			}
			return d
		},
	}
}

// WithJitter wraps policy so each computed delay is perturbed by
// base +/- uniform[0, jitter].
func WithJitter(policy RetryPolicy, jitter time.Duration) RetryPolicy {
	return jitterPolicy{inner: policy, jitter: jitter}
}

type jitterPolicy struct {
	inner  RetryPolicy
	jitter time.Duration
}

func (p jitterPolicy) ShouldRetry(failureCount int, err error) bool {
	return p.inner.ShouldRetry(failureCount, err)
}

func (p jitterPolicy) MaxRetries() int {
	return p.inner.MaxRetries()
}

func (p jitterPolicy) NextDelay(failureCount int) time.Duration {
	base := p.inner.NextDelay(failureCount)
	if p.jitter <= 0 {
		return base
	}
	offset := time.Duration(rand.Int63n(int64(2*p.jitter+1))) - p.jitter
	d := base + offset
	if d < 0 {
		return 0
	}
	return d
}
