package telemetry

import (
	"encoding/json"
	"strconv"
)

// Reading is a signal value that may be absent for the tick it was sampled on.
// The zero value is absent, which is distinct from a present 0.
type Reading struct {
	Value float64
	Valid bool
}

var Absent = Reading{}

func Present(v float64) Reading {
	return Reading{Value: v, Valid: true}
}

// Or returns the value, or def when the reading is absent.
func (r Reading) Or(def float64) float64 {
	if !r.Valid {
		return def
	}
	return r.Value
}

// String formats the value; absent readings format empty.
func (r Reading) String() string {
	if !r.Valid {
		return ""
	}
	return strconv.FormatFloat(r.Value, 'f', -1, 64)
}

// MarshalJSON encodes an absent reading as null.
func (r Reading) MarshalJSON() ([]byte, error) {
	if !r.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(r.Value)
}

func (r *Reading) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*r = Absent
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*r = Present(v)
	return nil
}
