package types

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Well-known meter models reported by the PowerBox.
const (
	// MeterVirtual carries the measurements of the charge in progress.
	MeterVirtual = "EVPLCCom-Virtual-Meter"
	// MeterPowerBoard is the board energy meter, totals since installation.
	MeterPowerBoard = "Power Board Meter"
	// MeterTiC is the grid "téléinformation client" meter.
	MeterTiC = "TiC"
)

// MeterRecord is one element of the GET /meters response. Values stay raw
// so one odd entry is dropped on its own instead of failing the meter.
type MeterRecord struct {
	Model        string            `json:"Model"`
	Connected    FlexBool          `json:"Connected"`
	ID           FlexString        `json:"ID"`
	Manufacturer string            `json:"Manufacturer"`
	Serial       string            `json:"Serial"`
	Values       []json.RawMessage `json:"Values"`
}

// MeterValueRecord is one measurement inside a MeterRecord.
type MeterValueRecord struct {
	Name      string          `json:"Name"`
	Value     json.RawMessage `json:"Value"`
	Timestamp json.RawMessage `json:"Timestamp"`
}

// Normalize converts the record. Numbers and numeric strings become Value;
// other strings and booleans are kept as Text. A missing or unreadable
// timestamp is 0.
func (r MeterValueRecord) Normalize() (MeterValue, error) {
	if r.Name == "" {
		return MeterValue{}, errors.New("meter value without name")
	}

	var mv MeterValue
	var ts FlexNumber
	if len(r.Timestamp) > 0 && json.Unmarshal(r.Timestamp, &ts) == nil {
		mv.Timestamp = int64(ts)
	}

	raw := bytes.TrimSpace(r.Value)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return MeterValue{}, fmt.Errorf("meter value %s has no value", r.Name)
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return MeterValue{}, fmt.Errorf("meter value %s: %w", r.Name, err)
		}
		if v, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			mv.Value = v
		} else if s != "" {
			mv.Text = s
		} else {
			return MeterValue{}, fmt.Errorf("meter value %s is empty", r.Name)
		}
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return MeterValue{}, fmt.Errorf("meter value %s: %w", r.Name, err)
		}
		mv.Text = strconv.FormatBool(b)
	case '{', '[':
		return MeterValue{}, fmt.Errorf("meter value %s is not a scalar: %s", r.Name, raw)
	default:
		if err := json.Unmarshal(raw, &mv.Value); err != nil {
			return MeterValue{}, fmt.Errorf("meter value %s: %w", r.Name, err)
		}
	}
	return mv, nil
}

// MeterValue is a single normalized measurement. Text is set instead of
// Value when the device reports a non-numeric reading such as a tariff name.
type MeterValue struct {
	Value     float64 `json:"value"`
	Text      string  `json:"text,omitempty"`
	Timestamp int64   `json:"timestamp"`
}

// IsText reports whether the reading is not a number.
func (v MeterValue) IsText() bool {
	return v.Text != ""
}

// String renders the reading whatever its kind.
func (v MeterValue) String() string {
	if v.IsText() {
		return v.Text
	}
	return strconv.FormatFloat(v.Value, 'f', -1, 64)
}

// Meter is a normalized meter keyed by measurement name.
type Meter struct {
	Connected    bool                  `json:"connected"`
	ID           string                `json:"id"`
	Manufacturer string                `json:"manufacturer"`
	Serial       string                `json:"serial"`
	Values       map[string]MeterValue `json:"values"`
}

// MeterSnapshot maps meter model to meter. It is never mutated after
// construction.
type MeterSnapshot map[string]Meter

// Reading returns the named measurement if the meter exists, is connected,
// and reports the field.
func (s MeterSnapshot) Reading(model, field string) (MeterValue, bool) {
	m, ok := s[model]
	if !ok || !m.Connected {
		return MeterValue{}, false
	}
	v, ok := m.Values[field]
	return v, ok
}

// Value is Reading restricted to numeric measurements.
func (s MeterSnapshot) Value(model, field string) (float64, bool) {
	v, ok := s.Reading(model, field)
	if !ok || v.IsText() {
		return 0, false
	}
	return v.Value, true
}
