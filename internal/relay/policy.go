/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package relay

import (
	"math"
	"time"
)

// RetryPolicy decides how long to wait before restarting the relay after its
// failures-th consecutive failure. Returning false stops automatic restarts.
type RetryPolicy interface {
	Next(failures int) (time.Duration, bool)
}

// FixedDelay restarts after the same delay every time. MaxAttempts of zero
// means unlimited.
type FixedDelay struct {
	Delay       time.Duration
	MaxAttempts int
}

// Next implements RetryPolicy.
func (p FixedDelay) Next(failures int) (time.Duration, bool) {
	if p.MaxAttempts > 0 && failures > p.MaxAttempts {
		return 0, false
	}
	return p.Delay, true
}

// Exponential doubles (or multiplies by Multiplier) the delay per consecutive
// failure up to Max, which defaults to five minutes.
type Exponential struct {
	Initial     time.Duration
	Max         time.Duration
	Multiplier  float64
	MaxAttempts int
}

// Next implements RetryPolicy.
func (p Exponential) Next(failures int) (time.Duration, bool) {
	if p.MaxAttempts > 0 && failures > p.MaxAttempts {
		return 0, false
	}
	if failures < 1 {
		failures = 1
	}
	mult := p.Multiplier
	if mult <= 1 {
		mult = 2
	}
	max := p.Max
	if max <= 0 {
		max = 5 * time.Minute
	}
	delay := float64(p.Initial) * math.Pow(mult, float64(failures-1))
	if delay > float64(max) {
		return max, true
	}
	return time.Duration(delay), true
}

// DefaultPolicy restarts one second after every exit, forever.
func DefaultPolicy() RetryPolicy {
	return FixedDelay{Delay: time.Second}
}
