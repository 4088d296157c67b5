package bridge

import (
	"bytes"
	"context"
	"errors"
	"time"

	"github.com/segmentio/encoding/json"
	"go.uber.org/zap"
)

// Outcome is the result of processing one ingest message
type Outcome int

const (
	// OutcomeBroadcast means the reading was in range and published
	OutcomeBroadcast Outcome = iota
	// OutcomeOutOfRange means the reading was valid but recorded instead of published
	OutcomeOutOfRange
	// OutcomeRejected means the message failed validation
	OutcomeRejected
	// OutcomeParseError means the message was not well-formed JSON
	OutcomeParseError
	// OutcomeEmpty means the message was blank after trimming
	OutcomeEmpty
)

func (o Outcome) String() string {
	switch o {
	case OutcomeBroadcast:
		return "broadcast"
	case OutcomeOutOfRange:
		return "out_of_range"
	case OutcomeRejected:
		return "rejected"
	case OutcomeParseError:
		return "parse_error"
	case OutcomeEmpty:
		return "empty"
	default:
		return "unknown"
	}
}

const alertTimeout = 2 * time.Second

// Broadcaster publishes readings to subscribers
type Broadcaster interface {
	Publish(ctx context.Context, r Reading) int
}

// ReadingMirror forwards in-range readings to an external system
type ReadingMirror interface {
	PublishReading(ctx context.Context, r Reading) error
}

// Pipeline drives a single ingest message through validation, window
// tracking and broadcast
type Pipeline struct {
	validator   *Validator
	tracker     *Tracker
	broadcaster Broadcaster
	mirrors     []ReadingMirror
	alertSinks  []AlertSink
	metrics     *Metrics
	logger      *zap.SugaredLogger
}

// Process handles one framed message
func (p *Pipeline) Process(ctx context.Context, raw []byte) Outcome {
	message := bytes.TrimSpace(raw)
	if len(message) == 0 {
		return OutcomeEmpty
	}

	p.metrics.received()
	p.logger.Debugf("pipeline: received raw data: %s", message)

	data, err := parseMessage(message)
	if err != nil {
		p.logger.Errorf("pipeline: error parsing data: %s: %s", message, err)
		p.metrics.rejected("parse")
		return OutcomeParseError
	}

	reading, err := p.validator.Validate(data)
	if err != nil {
		p.logger.Warnf("pipeline: filtered out invalid data: %s (%s)", message, err)
		p.metrics.rejected(rejectReason(err))
		return OutcomeRejected
	}

	if !p.tracker.InRange(reading.BatteryTemperature) {
		p.metrics.outOfRange()
		if alert, raised := p.tracker.Record(reading.BatteryTemperature, reading.Timestamp); raised {
			p.raise(ctx, alert)
		}
		p.logger.Warnf("pipeline: ignoring out-of-range temperature: %v", reading.BatteryTemperature)
		return OutcomeOutOfRange
	}

	p.broadcaster.Publish(ctx, reading)

	for _, m := range p.mirrors {
		if err := m.PublishReading(ctx, reading); err != nil {
			p.logger.Warnf("pipeline: mirror failed: %s", err)
		}
	}

	return OutcomeBroadcast
}

func (p *Pipeline) raise(ctx context.Context, alert Alert) {
	p.metrics.alert()

	for _, sink := range p.alertSinks {
		sinkCtx, cancel := context.WithTimeout(ctx, alertTimeout)
		if err := sink.HandleAlert(sinkCtx, alert); err != nil {
			p.logger.Warnf("pipeline: alert sink failed: %s", err)
		}
		cancel()
	}
}

// parseMessage decodes exactly one JSON value, keeping numbers verbatim
func parseMessage(message []byte) (interface{}, error) {
	if !json.Valid(message) {
		return nil, errors.New("malformed JSON")
	}

	var data interface{}
	dec := json.NewDecoder(bytes.NewReader(message))
	dec.UseNumber()
	if err := dec.Decode(&data); err != nil {
		return nil, err
	}

	return data, nil
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrNotObject):
		return "not_object"
	case errors.Is(err, ErrMissingField):
		return "missing_field"
	case errors.Is(err, ErrTemperatureFormat):
		return "temperature_format"
	case errors.Is(err, ErrTemperatureNotFinite):
		return "temperature_not_finite"
	case errors.Is(err, ErrTimestampNotFinite):
		return "timestamp_not_finite"
	default:
		return "invalid"
	}
}

// NewPipeline creates a new Pipeline. The log alert sink is always installed
// ahead of the given sinks.
func NewPipeline(validator *Validator, tracker *Tracker, broadcaster Broadcaster, logger *zap.SugaredLogger, metrics *Metrics) *Pipeline {
	return &Pipeline{
		validator:   validator,
		tracker:     tracker,
		broadcaster: broadcaster,
		alertSinks:  []AlertSink{&logAlertSink{logger: logger}},
		metrics:     metrics,
		logger:      logger,
	}
}

// AddAlertSink registers an additional alert destination
func (p *Pipeline) AddAlertSink(sink AlertSink) {
	p.alertSinks = append(p.alertSinks, sink)
}

// AddMirror registers an additional destination for in-range readings
func (p *Pipeline) AddMirror(m ReadingMirror) {
	p.mirrors = append(p.mirrors, m)
}
