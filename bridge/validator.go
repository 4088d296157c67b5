package bridge

import (
	"errors"
	"fmt"

	"github.com/segmentio/encoding/json"
	"go.uber.org/zap"
)

const (
	fieldTemperature = "battery_temperature"
	fieldTimestamp   = "timestamp"
)

// Validation errors
var (
	ErrNotObject            = errors.New("input is not an object")
	ErrMissingField         = errors.New("required field missing")
	ErrTemperatureFormat    = errors.New("invalid battery_temperature format")
	ErrTemperatureNotFinite = errors.New("battery_temperature is not a finite number")
	ErrTimestampNotFinite   = errors.New("timestamp is not a finite number")
)

// ValidationConfig represents the config of the Validator
type ValidationConfig struct {
	StrictTimestamp bool `yaml:"strict_timestamp"`
}

// Validator turns untyped input records into Readings
type Validator struct {
	config ValidationConfig
	logger *zap.SugaredLogger
}

// Validate returns a Reading for the given record or the reason it was
// rejected. It never panics.
func (v *Validator) Validate(input interface{}) (Reading, error) {
	record, ok := input.(map[string]interface{})
	if !ok || record == nil {
		return Reading{}, ErrNotObject
	}

	rawTemp, hasTemp := record[fieldTemperature]
	timestamp, hasTimestamp := record[fieldTimestamp]
	if !hasTemp {
		return Reading{}, fmt.Errorf("%w: %s", ErrMissingField, fieldTemperature)
	}
	if !hasTimestamp {
		return Reading{}, fmt.Errorf("%w: %s", ErrMissingField, fieldTimestamp)
	}

	var temperature float64
	if s, ok := rawTemp.(string); ok {
		decoded, ok := DecodeBinaryTemperature(s)
		if !ok {
			v.logger.Warnf("validator: invalid battery_temperature format: %q", s)
			return Reading{}, ErrTemperatureFormat
		}
		temperature = decoded
	} else {
		temperature = toNumber(rawTemp)
	}

	if !isFinite(temperature) {
		v.logger.Warnf("validator: invalid battery_temperature value: %v", temperature)
		return Reading{}, ErrTemperatureNotFinite
	}

	if v.config.StrictTimestamp && !isNumericTimestamp(timestamp) {
		return Reading{}, ErrTimestampNotFinite
	}

	return Reading{BatteryTemperature: temperature, Timestamp: timestamp}, nil
}

func isNumericTimestamp(v interface{}) bool {
	switch v.(type) {
	case json.Number, float64, float32, int, int64:
		return isFinite(toNumber(v))
	default:
		return false
	}
}

// NewValidator creates a new Validator
func NewValidator(config ValidationConfig, logger *zap.SugaredLogger) *Validator {
	return &Validator{
		config: config,
		logger: logger,
	}
}
