package session

import (
	"time"

	"github.com/jpillora/backoff"
)

const (
	reconnectFloor   = 5 * time.Second
	reconnectCeiling = 300 * time.Second
)

// ReconnectPolicy computes the delay before the next connection attempt:
// exponential doubling from a floor of 5s up to a ceiling of 300s, reset
// whenever a session reaches the active state.
type ReconnectPolicy struct {
	b *backoff.Backoff
}

// NewReconnectPolicy creates a policy at its floor delay.
func NewReconnectPolicy() *ReconnectPolicy {
	return &ReconnectPolicy{b: &backoff.Backoff{
		Min:    reconnectFloor,
		Max:    reconnectCeiling,
		Factor: 2,
	}}
}

// NextDelay returns the delay for the upcoming attempt and advances the
// sequence.
func (p *ReconnectPolicy) NextDelay() time.Duration {
	return p.b.Duration()
}

// Reset returns the delay to the floor.
func (p *ReconnectPolicy) Reset() {
	p.b.Reset()
}
