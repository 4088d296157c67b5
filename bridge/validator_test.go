package bridge

import (
	"math"
	"testing"

	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func decodeJSON(t *testing.T, s string) interface{} {
	t.Helper()

	v, err := parseMessage([]byte(s))
	require.NoError(t, err)

	return v
}

func TestValidatorAccepts(t *testing.T) {
	v := NewValidator(ValidationConfig{}, zaptest.NewLogger(t).Sugar())

	tests := []struct {
		name        string
		input       string
		temperature float64
		timestamp   interface{}
	}{
		{
			name:        "numeric",
			input:       `{"battery_temperature": 25, "timestamp": 1000}`,
			temperature: 25,
			timestamp:   json.Number("1000"),
		},
		{
			name:        "fractional",
			input:       `{"battery_temperature": 42.5, "timestamp": 1700000000000}`,
			temperature: 42.5,
			timestamp:   json.Number("1700000000000"),
		},
		{
			name:        "binary string",
			input:       `{"battery_temperature": "\u0019\u0000\u0000\u0000", "timestamp": 5}`,
			temperature: 25,
			timestamp:   json.Number("5"),
		},
		{
			name:        "boolean coerces",
			input:       `{"battery_temperature": true, "timestamp": 1}`,
			temperature: 1,
			timestamp:   json.Number("1"),
		},
		{
			name:        "null coerces to zero",
			input:       `{"battery_temperature": null, "timestamp": 1}`,
			temperature: 0,
			timestamp:   json.Number("1"),
		},
		{
			name:        "timestamp passed through",
			input:       `{"battery_temperature": 30, "timestamp": "yesterday"}`,
			temperature: 30,
			timestamp:   "yesterday",
		},
		{
			name:        "extra fields ignored",
			input:       `{"battery_temperature": 30, "timestamp": 7, "vin": "X"}`,
			temperature: 30,
			timestamp:   json.Number("7"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := v.Validate(decodeJSON(t, tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.temperature, r.BatteryTemperature)
			assert.Equal(t, tt.timestamp, r.Timestamp)
		})
	}
}

func TestValidatorRejects(t *testing.T) {
	v := NewValidator(ValidationConfig{}, zaptest.NewLogger(t).Sugar())

	tests := []struct {
		name  string
		input interface{}
		err   error
	}{
		{name: "array", input: []interface{}{1, 2}, err: ErrNotObject},
		{name: "string", input: "str", err: ErrNotObject},
		{name: "nil", input: nil, err: ErrNotObject},
		{name: "missing temperature", input: map[string]interface{}{"timestamp": 1.0}, err: ErrMissingField},
		{name: "missing timestamp", input: map[string]interface{}{"battery_temperature": 25.0}, err: ErrMissingField},
		{name: "empty object", input: map[string]interface{}{}, err: ErrMissingField},
		{name: "short string", input: map[string]interface{}{"battery_temperature": "25", "timestamp": 1.0}, err: ErrTemperatureFormat},
		{name: "NaN", input: map[string]interface{}{"battery_temperature": math.NaN(), "timestamp": 1.0}, err: ErrTemperatureNotFinite},
		{name: "+Inf", input: map[string]interface{}{"battery_temperature": math.Inf(1), "timestamp": 1.0}, err: ErrTemperatureNotFinite},
		{name: "-Inf", input: map[string]interface{}{"battery_temperature": math.Inf(-1), "timestamp": 1.0}, err: ErrTemperatureNotFinite},
		{name: "overflow", input: map[string]interface{}{"battery_temperature": json.Number("1e400"), "timestamp": 1.0}, err: ErrTemperatureNotFinite},
		{name: "object", input: map[string]interface{}{"battery_temperature": map[string]interface{}{}, "timestamp": 1.0}, err: ErrTemperatureNotFinite},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Validate(tt.input)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestValidatorStrictTimestamp(t *testing.T) {
	v := NewValidator(ValidationConfig{StrictTimestamp: true}, zaptest.NewLogger(t).Sugar())

	_, err := v.Validate(decodeJSON(t, `{"battery_temperature": 30, "timestamp": "yesterday"}`))
	assert.ErrorIs(t, err, ErrTimestampNotFinite)

	_, err = v.Validate(decodeJSON(t, `{"battery_temperature": 30, "timestamp": null}`))
	assert.ErrorIs(t, err, ErrTimestampNotFinite)

	r, err := v.Validate(decodeJSON(t, `{"battery_temperature": 30, "timestamp": 1000}`))
	require.NoError(t, err)
	assert.Equal(t, json.Number("1000"), r.Timestamp)
}
