/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package bus

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	DefaultInitialBackoff = 500 * time.Millisecond
	DefaultMaxBackoff     = 5 * time.Second

	backoffMultiplier = 1.5
)

// newBackoff returns a deterministic schedule: initial, x1.5 per call,
// capped at max.
func newBackoff(initial, max time.Duration) *backoff.ExponentialBackOff {
	if initial <= 0 {
		initial = DefaultInitialBackoff
	}
	if max < initial {
		max = DefaultMaxBackoff
	}
	if max < initial {
		max = initial
	}

	b := &backoff.ExponentialBackOff{
		InitialInterval:     initial,
		RandomizationFactor: 0,
		Multiplier:          backoffMultiplier,
		MaxInterval:         max,
	}
	b.Reset()

	return b
}
