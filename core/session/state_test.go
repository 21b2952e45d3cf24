package session

import (
	"fmt"
	"testing"

	"github.com/mbeckert/stiebelgw/core/model"
)

func fxNames(effects []effect) []string {
	names := make([]string, 0, len(effects))
	for _, fx := range effects {
		names = append(names, fmt.Sprintf("%T", fx))
	}
	return names
}

func TestTransitionTable(t *testing.T) {
	field := model.FieldUpdate{RegisterIndex: 13, Value: "21.5"}
	cases := []struct {
		name    string
		from    State
		ev      event
		want    State
		effects []string
	}{
		{"idle_start", StateIdle, evStart{}, StateConnecting, []string{"session.fxConnect"}},
		{"connecting_opened", StateConnecting, evOpened{}, StateAwaitingLoginAck, []string{"session.fxSendLogin"}},
		{"connecting_closed", StateConnecting, evClosed{}, StateClosed, []string{"session.fxScheduleReconnect"}},
		{"login_ack_ok", StateAwaitingLoginAck, evLoginAck{ok: true}, StateFetchingInitial, []string{"session.fxSendGetValues"}},
		{"login_ack_rejected", StateAwaitingLoginAck, evLoginAck{ok: false}, StateClosed, []string{"session.fxCloseTransport", "session.fxScheduleReconnect"}},
		{"login_ack_wrong_state", StateActive, evLoginAck{ok: true}, StateActive, nil},
		{"fetch_batch", StateFetchingInitial, evBatch{fields: []model.FieldUpdate{field}}, StateActive,
			[]string{"session.fxDeliver", "session.fxSendSubscribe", "session.fxResetBackoff"}},
		{"active_batch", StateActive, evBatch{fields: []model.FieldUpdate{field}}, StateActive, []string{"session.fxDeliver"}},
		{"active_push", StateActive, evPush{field: field}, StateActive, []string{"session.fxDeliver"}},
		{"push_before_active_ignored", StateFetchingInitial, evPush{field: field}, StateFetchingInitial, nil},
		{"active_closed", StateActive, evClosed{}, StateClosed, []string{"session.fxScheduleReconnect"}},
		{"awaiting_closed", StateAwaitingLoginAck, evClosed{}, StateClosed, []string{"session.fxScheduleReconnect"}},
		{"closed_retry", StateClosed, evRetry{}, StateConnecting, []string{"session.fxConnect"}},
		{"closed_ignores_frames", StateClosed, evPush{field: field}, StateClosed, nil},
		{"idle_ignores_frames", StateIdle, evLoginAck{ok: true}, StateIdle, nil},
		{"idle_ignores_retry", StateIdle, evRetry{}, StateIdle, nil},
		{"stop_from_active", StateActive, evStop{}, StateClosed, []string{"session.fxCancelReconnect", "session.fxCloseTransport"}},
		{"stop_from_idle", StateIdle, evStop{}, StateClosed, []string{"session.fxCancelReconnect", "session.fxCloseTransport"}},
		{"start_not_from_idle", StateClosed, evStart{}, StateClosed, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			next, effects := transition(tc.from, tc.ev)
			if next != tc.want {
				t.Fatalf("state: got %s want %s", next, tc.want)
			}
			got := fxNames(effects)
			if len(got) != len(tc.effects) {
				t.Fatalf("effects: got %v want %v", got, tc.effects)
			}
			for i := range got {
				if got[i] != tc.effects[i] {
					t.Fatalf("effect %d: got %v want %v", i, got, tc.effects)
				}
			}
		})
	}
}

func TestDeliveredPushIsSingleElementBatch(t *testing.T) {
	field := model.FieldUpdate{RegisterIndex: 13, Value: "21.5"}
	_, effects := transition(StateActive, evPush{field: field})
	if len(effects) != 1 {
		t.Fatalf("effects: %v", effects)
	}
	deliver, ok := effects[0].(fxDeliver)
	if !ok {
		t.Fatalf("unexpected effect %T", effects[0])
	}
	if len(deliver.fields) != 1 || deliver.fields[0] != field {
		t.Fatalf("batch: %+v", deliver.fields)
	}
}
