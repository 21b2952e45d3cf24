package model

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind classifies how a register's raw value is interpreted.
type Kind int

const (
	KindNumber Kind = iota
	KindBool
	KindText
)

// Register describes a device telemetry or control point.
type Register struct {
	ID       string // stable slug used in topic names and state paths
	Name     string
	Kind     Kind
	Unit     string
	Writable bool
}

// Catalog maps register indexes to their metadata for the supported
// hot-water heat pump profile.
var Catalog = map[int]Register{
	15:   {ID: "dome_temperature", Name: "Dome Temperature", Kind: KindNumber, Unit: "°C"},
	2378: {ID: "target_temperature", Name: "Current Target Temperature", Kind: KindNumber, Unit: "°C"},
	2395: {ID: "mixed_water_volume", Name: "Mixed Water Volume", Kind: KindNumber, Unit: "l"},
	2758: {ID: "operating_mode", Name: "Operating Mode", Kind: KindNumber},
	2388: {ID: "sg_ready_state", Name: "SG-Ready State", Kind: KindNumber},
	1111: {ID: "compressor", Name: "Compressor", Kind: KindBool},
	1116: {ID: "heating_element", Name: "Heating Element", Kind: KindBool},
	1130: {ID: "defrosting", Name: "Defrosting", Kind: KindBool},

	13:   {ID: "setpoint_comfort", Name: "Setpoint Temperature Comfort", Kind: KindNumber, Unit: "°C", Writable: true},
	14:   {ID: "setpoint_eco", Name: "Setpoint Temperature Eco", Kind: KindNumber, Unit: "°C", Writable: true},
	2466: {ID: "eco_heating_mode", Name: "Eco Heating Mode", Kind: KindBool, Writable: true},
	2382: {ID: "boost_request", Name: "Boost Request", Kind: KindNumber, Writable: true},
	2487: {ID: "hot_water_plus", Name: "Hot Water Plus", Kind: KindBool, Writable: true},
}

// EssentialSensors are the read-only registers monitored by default.
var EssentialSensors = []int{15, 2378, 2395, 2758, 2388, 1111, 1116, 1130}

// EssentialControls are the writable registers monitored by default.
var EssentialControls = []int{13, 14, 2466, 2382, 2487}

// DefaultFields returns the full default monitoring set, sensors first.
func DefaultFields() []int {
	fields := make([]int, 0, len(EssentialSensors)+len(EssentialControls))
	fields = append(fields, EssentialSensors...)
	fields = append(fields, EssentialControls...)
	return fields
}

// LookupByID finds a register by its slug. Used to resolve inbound control
// commands addressed by name.
func LookupByID(id string) (int, Register, bool) {
	for idx, reg := range Catalog {
		if reg.ID == id {
			return idx, reg, true
		}
	}
	return 0, Register{}, false
}

// Normalize converts a raw field value into the register's typed
// representation. Unknown registers pass through untouched.
func Normalize(u FieldUpdate) (any, error) {
	reg, ok := Catalog[u.RegisterIndex]
	if !ok {
		return u.Value, nil
	}
	switch reg.Kind {
	case KindNumber:
		return toNumber(u.Value)
	case KindBool:
		return toBool(u.Value), nil
	default:
		return fmt.Sprint(u.Value), nil
	}
}

// DisplayValue serializes a typed value the way the service expects writes:
// booleans become "1"/"0", everything else its plain string form.
func DisplayValue(reg Register, v any) string {
	if reg.Kind == KindBool {
		if toBool(v) {
			return "1"
		}
		return "0"
	}
	return fmt.Sprint(v)
}

func toNumber(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case int:
		return float64(t), nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(t), 64)
	case bool:
		if t {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("value %v (%T) is not numeric", v, v)
	}
}

func toBool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t != 0
	case int:
		return t != 0
	case string:
		s := strings.TrimSpace(strings.ToLower(t))
		return s == "1" || s == "true" || s == "on"
	default:
		return false
	}
}
