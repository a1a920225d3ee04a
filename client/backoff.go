package client

import (
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Backoff returns the wait before reconnect attempt n (n starts at 1).
// Implementations must be non-decreasing in n.
type Backoff interface {
	Delay(attempt int) time.Duration
}

// LinearBackoff waits Base × attempt, capped at Max when Max > 0.
type LinearBackoff struct {
	Base time.Duration
	Max  time.Duration
}

func (b LinearBackoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if b.Max > 0 && b.Base > 0 && attempt > int(b.Max/b.Base) {
		return b.Max
	}
	return b.Base * time.Duration(attempt)
}

// ExponentialBackoff waits Initial × Multiplier^(attempt-1), capped at Max.
// No jitter is applied so the sequence stays monotonic.
type ExponentialBackoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

func (b ExponentialBackoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = b.Initial
	eb.MaxInterval = b.Max
	eb.Multiplier = b.Multiplier
	eb.RandomizationFactor = 0
	eb.MaxElapsedTime = 0
	if eb.Multiplier < 1 {
		eb.Multiplier = 2
	}
	if eb.MaxInterval <= 0 {
		eb.MaxInterval = time.Duration(1<<63 - 1)
	}
	eb.Reset()

	var d time.Duration
	for range attempt {
		d = eb.NextBackOff()
		if d >= eb.MaxInterval {
			return eb.MaxInterval
		}
	}
	return d
}

// NewBackoff builds the named strategy ("linear" or "exponential").
func NewBackoff(kind string, base, max time.Duration) (Backoff, error) {
	switch kind {
	case "", "linear":
		return LinearBackoff{Base: base, Max: max}, nil
	case "exponential":
		return ExponentialBackoff{Initial: base, Max: max, Multiplier: 2}, nil
	}
	return nil, fmt.Errorf("unknown backoff strategy %q", kind)
}
