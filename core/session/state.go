package session

import "github.com/mbeckert/stiebelgw/core/model"

// State is the connection lifecycle phase of a Session.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateAwaitingLoginAck
	StateFetchingInitial
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateAwaitingLoginAck:
		return "awaiting_login_ack"
	case StateFetchingInitial:
		return "fetching_initial"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Events fed into the transition function. Frame events are produced by the
// transport dispatcher, the rest by the session's own lifecycle.
type event interface{ event() }

type evStart struct{}
type evRetry struct{}
type evOpened struct{}
type evLoginAck struct{ ok bool }
type evBatch struct{ fields []model.FieldUpdate }
type evPush struct{ field model.FieldUpdate }
type evClosed struct{ err error }
type evStop struct{}

func (evStart) event()    {}
func (evRetry) event()    {}
func (evOpened) event()   {}
func (evLoginAck) event() {}
func (evBatch) event()    {}
func (evPush) event()     {}
func (evClosed) event()   {}
func (evStop) event()     {}

// Effects ordered by the transition function and applied by the session.
type effect interface{ effect() }

type fxConnect struct{}
type fxSendLogin struct{}
type fxSendGetValues struct{}
type fxSendSubscribe struct{}
type fxDeliver struct{ fields []model.FieldUpdate }
type fxResetBackoff struct{}
type fxScheduleReconnect struct{}
type fxCloseTransport struct{}
type fxCancelReconnect struct{}

func (fxConnect) effect()           {}
func (fxSendLogin) effect()         {}
func (fxSendGetValues) effect()     {}
func (fxSendSubscribe) effect()     {}
func (fxDeliver) effect()           {}
func (fxResetBackoff) effect()      {}
func (fxScheduleReconnect) effect() {}
func (fxCloseTransport) effect()    {}
func (fxCancelReconnect) effect()   {}

// transition is the pure state machine: given the current state and an
// event it yields the next state and the effects to apply. Unmatched
// combinations leave the state untouched with no effects.
func transition(s State, ev event) (State, []effect) {
	switch e := ev.(type) {
	case evStop:
		return StateClosed, []effect{fxCancelReconnect{}, fxCloseTransport{}}

	case evStart:
		if s == StateIdle {
			return StateConnecting, []effect{fxConnect{}}
		}

	case evRetry:
		if s == StateClosed {
			return StateConnecting, []effect{fxConnect{}}
		}

	case evOpened:
		if s == StateConnecting {
			return StateAwaitingLoginAck, []effect{fxSendLogin{}}
		}

	case evLoginAck:
		if s != StateAwaitingLoginAck {
			break
		}
		if e.ok {
			return StateFetchingInitial, []effect{fxSendGetValues{}}
		}
		// Login rejected: drop the connection and retry on the backoff path.
		return StateClosed, []effect{fxCloseTransport{}, fxScheduleReconnect{}}

	case evBatch:
		if s == StateFetchingInitial {
			return StateActive, []effect{fxDeliver{e.fields}, fxSendSubscribe{}, fxResetBackoff{}}
		}
		if s == StateActive {
			return StateActive, []effect{fxDeliver{e.fields}}
		}

	case evPush:
		if s == StateActive {
			return StateActive, []effect{fxDeliver{[]model.FieldUpdate{e.field}}}
		}

	case evClosed:
		switch s {
		case StateConnecting, StateAwaitingLoginAck, StateFetchingInitial, StateActive:
			return StateClosed, []effect{fxScheduleReconnect{}}
		}
	}
	return s, nil
}
