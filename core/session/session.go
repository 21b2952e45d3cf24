// Package session drives the persistent realtime connection to the
// MyStiebel service: login handshake, initial bulk fetch, push
// subscription, control writes and reconnection with bounded backoff.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mbeckert/stiebelgw/core/logger"
	"github.com/mbeckert/stiebelgw/core/model"
	"github.com/mbeckert/stiebelgw/core/protocol"
)

// ErrNotConnected is returned by SetValue while no transport is open.
// Writes are not queued; the caller decides whether to retry.
var ErrNotConnected = errors.New("session: not connected")

// Config identifies the device the session talks to.
type Config struct {
	// InstallationID selects the installation on the service side.
	InstallationID string
	// ClientID identifies this client instance in write frames.
	ClientID string
	// Fields are the register indexes to fetch and subscribe to. Defaults
	// to the essential register set.
	Fields []int
}

// Deps are the session's collaborators. Tokens, Transport and Sink are
// required; the rest default to no-ops.
type Deps struct {
	Tokens    TokenSource
	Transport Transport
	Sink      model.Sink
	Log       logger.Logger
	Observer  Observer
	Policy    *ReconnectPolicy
}

// Session is a single-instance protocol session. All event processing is
// serialized; at most one transport and one pending reconnect timer exist
// at any time. Stop is terminal: a stopped session cannot be restarted.
type Session struct {
	cfg    Config
	tokens TokenSource
	tr     Transport
	sink   model.Sink
	log    logger.Logger
	obs    Observer
	ids    *protocol.IDAllocator
	policy *ReconnectPolicy

	// afterFunc is swapped out by tests to control reconnect timing.
	afterFunc func(d time.Duration, f func()) *time.Timer

	mu             sync.Mutex
	state          State
	stopped        bool
	connected      bool
	token          string
	ctx            context.Context
	reconnectTimer *time.Timer
}

// New creates a session in the idle state. Start must be called to connect.
func New(cfg Config, deps Deps) *Session {
	if len(cfg.Fields) == 0 {
		cfg.Fields = model.DefaultFields()
	}
	if deps.Observer == nil {
		deps.Observer = NopObserver{}
	}
	if deps.Policy == nil {
		deps.Policy = NewReconnectPolicy()
	}
	if deps.Log == nil {
		deps.Log = nopLogger{}
	}
	if deps.Sink == nil {
		deps.Sink = model.NopSink{}
	}
	return &Session{
		cfg:       cfg,
		tokens:    deps.Tokens,
		tr:        deps.Transport,
		sink:      deps.Sink,
		log:       deps.Log,
		obs:       deps.Observer,
		ids:       protocol.NewIDAllocator(),
		policy:    deps.Policy,
		afterFunc: time.AfterFunc,
		state:     StateIdle,
	}
}

// Start begins connecting. It returns immediately; connection progress is
// reported through the observer and logs. Only valid on an idle session.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateIdle {
		return fmt.Errorf("session: start from state %s", s.state)
	}
	s.ctx = ctx
	s.step(evStart{})
	return nil
}

// Stop closes the transport and cancels any pending reconnect. It is safe
// to call at any time, always succeeds, and is terminal: no further frames
// are processed and no reconnect is scheduled after it returns.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	s.step(evStop{})
}

// State reports the current lifecycle phase.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetValue sends a control write for a single register. The raw value is
// serialized through the register catalog (booleans become "1"/"0").
// Returns ErrNotConnected while no transport is open.
func (s *Session) SetValue(registerIndex int, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || !s.connected {
		return ErrNotConnected
	}
	display := fmt.Sprint(value)
	if reg, ok := model.Catalog[registerIndex]; ok {
		display = model.DisplayValue(reg, value)
	}
	id := s.ids.Allocate(true)
	data, err := protocol.EncodeSetValues(id, s.cfg.InstallationID, s.cfg.ClientID, registerIndex, display)
	if err != nil {
		return fmt.Errorf("encode setValues: %w", err)
	}
	if err := s.tr.Send(data); err != nil {
		return fmt.Errorf("send setValues: %w", err)
	}
	s.obs.FrameSent("setValues")
	s.log.Debugf("write register %d = %s", registerIndex, display)
	return nil
}

// dispatch serializes an externally produced event into the state machine.
func (s *Session) dispatch(ev event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		// A connect attempt may complete after Stop; drop its connection.
		if _, ok := ev.(evOpened); ok {
			_ = s.tr.Close()
		}
		return
	}
	s.step(ev)
}

// step runs one transition and applies its effects. Callers hold s.mu.
func (s *Session) step(ev event) {
	switch ev.(type) {
	case evOpened:
		if s.state == StateConnecting {
			s.connected = true
			s.obs.Connected()
		}
	case evClosed:
		if s.connected {
			s.obs.Disconnected()
		}
		s.connected = false
	}

	next, effects := transition(s.state, ev)
	if next != s.state {
		s.log.Debugf("state %s -> %s", s.state, next)
	}
	s.state = next
	for _, fx := range effects {
		s.apply(fx)
	}
}

func (s *Session) apply(fx effect) {
	switch f := fx.(type) {
	case fxConnect:
		go s.connect()

	case fxSendLogin:
		data, err := protocol.EncodeLogin(s.cfg.InstallationID, s.token)
		s.send("Login", data, err)

	case fxSendGetValues:
		id := s.ids.Allocate(false)
		data, err := protocol.EncodeGetValues(id, s.cfg.InstallationID, s.cfg.Fields)
		s.send("getValues", data, err)

	case fxSendSubscribe:
		id := s.ids.Allocate(false)
		data, err := protocol.EncodeSubscribe(id, s.cfg.InstallationID, s.cfg.Fields)
		s.send("Subscribe", data, err)

	case fxDeliver:
		if err := s.sink.Publish(s.ctx, f.fields); err != nil {
			s.log.Errorf("sink publish: %v", err)
		}
		s.obs.UpdatesDelivered(len(f.fields))

	case fxResetBackoff:
		s.policy.Reset()
		s.log.Infof("session active, monitoring %d registers", len(s.cfg.Fields))

	case fxScheduleReconnect:
		s.connected = false
		delay := s.policy.NextDelay()
		s.log.Infof("reconnecting in %s", delay)
		s.obs.ReconnectScheduled(delay)
		s.reconnectTimer = s.afterFunc(delay, func() { s.dispatch(evRetry{}) })

	case fxCloseTransport:
		s.connected = false
		_ = s.tr.Close()

	case fxCancelReconnect:
		if s.reconnectTimer != nil {
			s.reconnectTimer.Stop()
			s.reconnectTimer = nil
		}
	}
}

func (s *Session) send(method string, data []byte, err error) {
	if err != nil {
		s.log.Errorf("encode %s: %v", method, err)
		return
	}
	if err := s.tr.Send(data); err != nil {
		s.log.Errorf("send %s: %v", method, err)
		return
	}
	s.obs.FrameSent(method)
}

// connect performs one connection attempt: token refresh, transport open,
// then hands control back to the state machine. Runs outside the lock; an
// auth failure degrades to the same retry path as a transport failure.
func (s *Session) connect() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	ctx := s.ctx
	s.mu.Unlock()

	if err := s.tokens.EnsureValid(ctx); err != nil {
		s.log.Errorf("token refresh: %v", err)
		s.dispatch(evClosed{err: err})
		return
	}
	token := s.tokens.Token()

	s.mu.Lock()
	s.token = token
	s.mu.Unlock()

	if err := s.tr.Open(ctx, token, s.handleFrame, s.handleClose); err != nil {
		s.log.Errorf("connect: %v", err)
		s.dispatch(evClosed{err: err})
		return
	}
	s.log.Infof("connected to realtime service")
	s.dispatch(evOpened{})
}

func (s *Session) handleFrame(data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		// Malformed frames are dropped; the connection stays up.
		s.log.Warnf("dropping frame: %v", err)
		return
	}
	switch m := msg.(type) {
	case protocol.LoginAck:
		s.obs.FrameReceived("login_ack")
		s.dispatch(evLoginAck{ok: m.OK})
	case protocol.ValueBatch:
		s.obs.FrameReceived("values")
		s.dispatch(evBatch{fields: m.Fields})
	case protocol.ValuePush:
		s.obs.FrameReceived("values_changed")
		s.dispatch(evPush{field: m.Field})
	case protocol.Unknown:
		s.log.Debugf("ignoring frame id=%d method=%q", m.ID, m.Method)
	}
}

func (s *Session) handleClose(err error) {
	if err != nil {
		s.log.Warnf("transport closed: %v", err)
	}
	s.dispatch(evClosed{err: err})
}

type nopLogger struct{}

func (nopLogger) Debugf(string, ...any)         {}
func (nopLogger) Debugw(string, map[string]any) {}
func (nopLogger) Infof(string, ...any)          {}
func (nopLogger) Warnf(string, ...any)          {}
func (nopLogger) Errorf(string, ...any)         {}
