package model

import (
	"encoding/json"
	"fmt"
)

// FieldUpdate is a single register value reported by the service. Value holds
// whatever the wire carried: the service mixes numbers, booleans and strings
// (including "0"/"1" for switches), so consumers normalize it against the
// register catalog before use.
type FieldUpdate struct {
	RegisterIndex int
	Value         any
}

// fieldUpdateWire mirrors the JSON shape of a field entry. The service sends
// either "value" or "displayValue" depending on the frame type.
type fieldUpdateWire struct {
	RegisterIndex int  `json:"registerIndex"`
	Value         *any `json:"value"`
	DisplayValue  *any `json:"displayValue"`
}

// UnmarshalJSON prefers "value" and falls back to "displayValue".
func (f *FieldUpdate) UnmarshalJSON(data []byte) error {
	var w fieldUpdateWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	f.RegisterIndex = w.RegisterIndex
	switch {
	case w.Value != nil:
		f.Value = *w.Value
	case w.DisplayValue != nil:
		f.Value = *w.DisplayValue
	default:
		f.Value = nil
	}
	return nil
}

func (f FieldUpdate) String() string {
	return fmt.Sprintf("field %d=%v", f.RegisterIndex, f.Value)
}
