// sparta-console - Real-time event channel and conversation correlation.
// Copyright (C) 2026 Sparta contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package eventchannel

import (
	"math/rand/v2"
	"time"
)

// Backoff computes reconnect delays: base * 2^min(attempt-1, capExponent),
// clamped to max, plus up to Jitter of random spread.
type Backoff struct {
	Base        time.Duration
	Max         time.Duration
	CapExponent int
	Jitter      time.Duration
}

// Delay returns the delay for the given attempt without jitter. Attempts
// start at 1.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	exp := min(attempt-1, b.CapExponent)
	if exp < 0 {
		exp = 0
	}
	if exp >= 63 || b.Base > b.Max>>exp {
		return b.Max
	}
	return b.Base << exp
}

// Next returns Delay(attempt) plus uniform jitter in [0, Jitter].
func (b Backoff) Next(attempt int) time.Duration {
	d := b.Delay(attempt)
	if b.Jitter > 0 {
		d += time.Duration(rand.Int64N(int64(b.Jitter) + 1))
	}
	return d
}
