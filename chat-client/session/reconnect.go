package session

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// ReconnectPolicy bounds automatic reconnection after a live connection is
// lost. The zero value disables it: a lost connection settles in
// Disconnected and only a new Enter reconnects.
type ReconnectPolicy struct {
	// MaxAttempts is the number of consecutive automatic attempts before
	// giving up. A successful open resets the count.
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	// Jitter is the randomization factor applied to each delay, 0 for none.
	Jitter float64
}

// DefaultReconnectPolicy retries five times between 500ms and 15s.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		MaxAttempts:     5,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     15 * time.Second,
		Multiplier:      2,
		Jitter:          0.2,
	}
}

func (p ReconnectPolicy) enabled() bool { return p.MaxAttempts > 0 }

func (p ReconnectPolicy) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	if p.Multiplier >= 1 {
		b.Multiplier = p.Multiplier
	}
	b.RandomizationFactor = p.Jitter
	b.Reset()
	return b
}
