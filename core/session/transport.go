package session

import (
	"context"
	"time"
)

// Transport is a message-oriented connection to the realtime service. One
// Open call corresponds to one connection attempt; the implementation
// delivers inbound frames to onFrame from a single goroutine and calls
// onClose exactly once when the connection drops (for any reason other than
// an explicit Close).
type Transport interface {
	Open(ctx context.Context, token string, onFrame func([]byte), onClose func(err error)) error
	Send(data []byte) error
	Close() error
}

// TokenSource supplies a valid bearer token before each connection attempt.
// Implemented by auth.Manager.
type TokenSource interface {
	EnsureValid(ctx context.Context) error
	Token() string
}

// Observer receives session telemetry. All methods may be called from the
// session's dispatch path and must not block.
type Observer interface {
	Connected()
	Disconnected()
	ReconnectScheduled(delay time.Duration)
	FrameReceived(kind string)
	FrameSent(method string)
	UpdatesDelivered(count int)
}

// NopObserver discards all telemetry.
type NopObserver struct{}

func (NopObserver) Connected()                          {}
func (NopObserver) Disconnected()                       {}
func (NopObserver) ReconnectScheduled(time.Duration)    {}
func (NopObserver) FrameReceived(string)                {}
func (NopObserver) FrameSent(string)                    {}
func (NopObserver) UpdatesDelivered(int)                {}
