package model

import (
	"encoding/json"
	"strconv"
)

// Bar is one closed OHLCV bar for a single symbol on a single timeframe.
// Prices are float64; TS is the bar open time in unix seconds.
type Bar struct {
	Symbol string  `json:"symbol"`
	TF     int     `json:"tf"` // timeframe in seconds
	TS     int64   `json:"ts"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// Key returns "symbol:tf", the series a bar belongs to.
func (b *Bar) Key() string {
	return SeriesKey{Symbol: b.Symbol, TF: b.TF}.String()
}

// StreamKey returns the Redis stream the bar is published on: "bar:{TF}s:{symbol}".
func (b *Bar) StreamKey() string {
	return "bar:" + strconv.Itoa(b.TF) + "s:" + b.Symbol
}

// JSON returns the JSON-encoded bar.
func (b *Bar) JSON() []byte {
	out, _ := json.Marshal(b)
	return out
}

// OHLCV is the fixed accessor set foreign bar types implement to be fed to
// indicators without copying their own representation around.
type OHLCV interface {
	BarOpen() float64
	BarHigh() float64
	BarLow() float64
	BarClose() float64
	BarVolume() float64
}

// FromOHLCV converts any OHLCV implementation into a Bar.
func FromOHLCV(symbol string, tf int, ts int64, src OHLCV) Bar {
	return Bar{
		Symbol: symbol,
		TF:     tf,
		TS:     ts,
		Open:   src.BarOpen(),
		High:   src.BarHigh(),
		Low:    src.BarLow(),
		Close:  src.BarClose(),
		Volume: src.BarVolume(),
	}
}

func (b Bar) BarOpen() float64   { return b.Open }
func (b Bar) BarHigh() float64   { return b.High }
func (b Bar) BarLow() float64    { return b.Low }
func (b Bar) BarClose() float64  { return b.Close }
func (b Bar) BarVolume() float64 { return b.Volume }

// SeriesKey identifies one bar series.
type SeriesKey struct {
	Symbol string `json:"symbol" yaml:"symbol"`
	TF     int    `json:"tf" yaml:"tf"`
}

func (k SeriesKey) String() string {
	return k.Symbol + ":" + strconv.Itoa(k.TF)
}
