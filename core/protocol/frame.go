// Package protocol implements the realtime wire protocol of the MyStiebel
// service: JSON frames over a message-oriented transport, correlated either
// by a numeric id (request/response) or a method name (server push).
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mbeckert/stiebelgw/core/model"
)

// Version tags every outbound frame.
const Version = "2.0"

// LoginID is the reserved correlation id of the login handshake. It is the
// first and only frame of its kind per connection attempt, so it does not go
// through the allocator.
const LoginID = 1

// ErrMalformedFrame reports an inbound frame that could not be decoded.
var ErrMalformedFrame = errors.New("malformed frame")

type request struct {
	Version string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type loginParams struct {
	ClientID string `json:"clientId"`
	JWT      string `json:"jwt"`
}

type getValuesParams struct {
	InstallationID string `json:"installationId"`
	Fields         []int  `json:"fields"`
}

type subscribeParams struct {
	InstallationID  string `json:"installationId"`
	RegisterIndexes []int  `json:"registerIndexes"`
}

type writeField struct {
	RegisterIndex int    `json:"registerIndex"`
	DisplayValue  string `json:"displayValue"`
}

type setValuesParams struct {
	InstallationID          string       `json:"installationId"`
	UUID                    string       `json:"UUID"`
	ListenWithValuesChanged bool         `json:"listenWithValuesChanged"`
	Fields                  []writeField `json:"fields"`
}

// EncodeLogin builds the login handshake frame. The service expects the
// installation id in the clientId slot.
func EncodeLogin(installationID, jwt string) ([]byte, error) {
	return json.Marshal(request{
		Version: Version,
		ID:      LoginID,
		Method:  "Login",
		Params:  loginParams{ClientID: installationID, JWT: jwt},
	})
}

// EncodeGetValues builds a bulk fetch request for the given registers.
func EncodeGetValues(id int64, installationID string, fields []int) ([]byte, error) {
	return json.Marshal(request{
		Version: Version,
		ID:      id,
		Method:  "getValues",
		Params:  getValuesParams{InstallationID: installationID, Fields: fields},
	})
}

// EncodeSubscribe builds a push subscription request for the given registers.
func EncodeSubscribe(id int64, installationID string, registers []int) ([]byte, error) {
	return json.Marshal(request{
		Version: Version,
		ID:      id,
		Method:  "Subscribe",
		Params:  subscribeParams{InstallationID: installationID, RegisterIndexes: registers},
	})
}

// EncodeSetValues builds a control write frame. Delivery confirmation arrives
// on the push channel, hence listenWithValuesChanged.
func EncodeSetValues(id int64, installationID, clientID string, registerIndex int, displayValue string) ([]byte, error) {
	return json.Marshal(request{
		Version: Version,
		ID:      id,
		Method:  "setValues",
		Params: setValuesParams{
			InstallationID:          installationID,
			UUID:                    clientID,
			ListenWithValuesChanged: true,
			Fields:                  []writeField{{RegisterIndex: registerIndex, DisplayValue: displayValue}},
		},
	})
}

// Message is a decoded inbound frame.
type Message interface{ message() }

// LoginAck acknowledges the login handshake.
type LoginAck struct{ OK bool }

// ValueBatch is the response to a bulk fetch.
type ValueBatch struct{ Fields []model.FieldUpdate }

// ValuePush is a server-initiated valuesChanged notification.
type ValuePush struct{ Field model.FieldUpdate }

// Unknown is a frame the client has no use for; it is logged and ignored.
type Unknown struct {
	ID     int64
	Method string
}

func (LoginAck) message()   {}
func (ValueBatch) message() {}
func (ValuePush) message()  {}
func (Unknown) message()    {}

type inbound struct {
	ID     int64           `json:"id"`
	Method string          `json:"method"`
	Result json.RawMessage `json:"result"`
	Params json.RawMessage `json:"params"`
}

type valuesResult struct {
	Fields []model.FieldUpdate `json:"fields"`
}

// Decode classifies an inbound frame. Frames that parse as JSON but match no
// known shape come back as Unknown; anything else is ErrMalformedFrame.
func Decode(data []byte) (Message, error) {
	var in inbound
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	if in.ID == LoginID {
		var ok bool
		if err := json.Unmarshal(in.Result, &ok); err != nil {
			return nil, fmt.Errorf("%w: login ack result: %v", ErrMalformedFrame, err)
		}
		return LoginAck{OK: ok}, nil
	}

	if len(in.Result) > 0 {
		var res valuesResult
		if err := json.Unmarshal(in.Result, &res); err == nil && res.Fields != nil {
			return ValueBatch{Fields: res.Fields}, nil
		}
		return Unknown{ID: in.ID, Method: in.Method}, nil
	}

	if in.Method == "valuesChanged" {
		var f model.FieldUpdate
		if err := json.Unmarshal(in.Params, &f); err != nil {
			return nil, fmt.Errorf("%w: valuesChanged params: %v", ErrMalformedFrame, err)
		}
		return ValuePush{Field: f}, nil
	}

	return Unknown{ID: in.ID, Method: in.Method}, nil
}
