package bridge

import (
	"math"
	"strconv"
	"strings"

	"github.com/segmentio/encoding/json"
)

// Reading is a single validated battery temperature sample
type Reading struct {
	BatteryTemperature float64     `json:"battery_temperature"`
	Timestamp          interface{} `json:"timestamp"`
}

// Marshal encodes the Reading into the broadcast wire format
func (r Reading) Marshal() ([]byte, error) {
	return json.Marshal(r)
}

// HistoryEntry is an out-of-range value retained by the Tracker
type HistoryEntry struct {
	Timestamp float64
	Value     float64
}

// toNumber coerces a decoded JSON value the way a loosely typed producer
// expects: numbers as-is, booleans as 0/1, null as 0, numeric text parsed.
// Anything else is NaN.
func toNumber(v interface{}) float64 {
	switch n := v.(type) {
	case nil:
		return 0
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case uint32:
		return float64(n)
	case json.Number:
		return parseNumber(string(n))
	case bool:
		if n {
			return 1
		}
		return 0
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return 0
		}
		return parseNumber(s)
	default:
		return math.NaN()
	}
}

func parseNumber(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		// ParseFloat reports overflow with ±Inf, which is kept
		if ne, ok := err.(*strconv.NumError); ok && ne.Err == strconv.ErrRange {
			return f
		}
		return math.NaN()
	}
	return f
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
