package model

import (
	"encoding/json"
	"math"
	"strconv"

	"github.com/shopspring/decimal"
)

// Output is one indicator row for one bar: a value per declared slot.
type Output struct {
	Key     string    `json:"key"` // indicator key, e.g. "ADX(14)"
	Symbol  string    `json:"symbol"`
	TF      int       `json:"tf"`
	TS      int64     `json:"ts"` // timestamp of the bar that produced the row
	Slots   []string  `json:"slots"`
	Values  []float64 `json:"-"`
	Ready   bool      `json:"ready"`
	Backend string    `json:"backend"` // "self" or "external"
}

// Value returns the value of the named slot and whether the slot exists.
func (o *Output) Value(slot string) (float64, bool) {
	for i, s := range o.Slots {
		if s == slot {
			return o.Values[i], true
		}
	}
	return math.NaN(), false
}

// StreamKey returns the Redis stream key: "ind:{key}:{TF}s:{symbol}".
func (o *Output) StreamKey() string {
	return "ind:" + o.Key + ":" + strconv.Itoa(o.TF) + "s:" + o.Symbol
}

// LatestKey returns the Redis key holding the last confirmed row.
func (o *Output) LatestKey() string {
	return "ind:" + o.Key + ":" + strconv.Itoa(o.TF) + "s:latest:" + o.Symbol
}

// PubSubChannel returns the live channel: "pub:ind:{key}:{TF}s:{symbol}".
func (o *Output) PubSubChannel() string {
	return "pub:" + o.StreamKey()
}

// MarshalJSON encodes missing (NaN) values as null since JSON has no NaN.
func (o Output) MarshalJSON() ([]byte, error) {
	type alias Output
	vals := make([]*float64, len(o.Values))
	for i := range o.Values {
		if !math.IsNaN(o.Values[i]) && !math.IsInf(o.Values[i], 0) {
			v := o.Values[i]
			vals[i] = &v
		}
	}
	return json.Marshal(struct {
		alias
		Values []*float64 `json:"values"`
	}{alias: alias(o), Values: vals})
}

// UnmarshalJSON restores null values as NaN.
func (o *Output) UnmarshalJSON(data []byte) error {
	type alias Output
	aux := struct {
		*alias
		Values []*float64 `json:"values"`
	}{alias: (*alias)(o)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	o.Values = make([]float64, len(aux.Values))
	for i, v := range aux.Values {
		if v == nil {
			o.Values[i] = math.NaN()
		} else {
			o.Values[i] = *v
		}
	}
	return nil
}

// JSON returns the JSON-encoded output.
func (o *Output) JSON() []byte {
	b, _ := json.Marshal(o)
	return b
}

// DecimalOutput is an Output whose values are exact decimals, encoded as
// JSON strings; missing values are null.
type DecimalOutput struct {
	Key     string                `json:"key"`
	Symbol  string                `json:"symbol"`
	TF      int                   `json:"tf"`
	TS      int64                 `json:"ts"`
	Slots   []string              `json:"slots"`
	Values  []decimal.NullDecimal `json:"values"`
	Ready   bool                  `json:"ready"`
	Backend string                `json:"backend"`
}
