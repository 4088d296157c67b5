package bridge

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Alert is raised when out-of-range readings inside the window exceed the limit
type Alert struct {
	Value       float64       `json:"battery_temperature"`
	Timestamp   interface{}   `json:"timestamp"`
	Violations  int           `json:"violations"`
	ExceedLimit int           `json:"exceed_limit"`
	Window      time.Duration `json:"-"`
	RaisedAt    time.Time     `json:"raised_at"`
}

// Message returns the operator-facing alert text
func (a Alert) Message() string {
	return fmt.Sprintf(
		"[ALERT] Battery temperature exceeded safe range more than %d times in %v seconds! Timestamp: %v",
		a.ExceedLimit, a.Window.Seconds(), a.Timestamp,
	)
}

// AlertSink receives threshold alerts
type AlertSink interface {
	HandleAlert(ctx context.Context, alert Alert) error
}

// logAlertSink writes alerts to the operational log
type logAlertSink struct {
	logger *zap.SugaredLogger
}

func (s *logAlertSink) HandleAlert(_ context.Context, alert Alert) error {
	s.logger.Errorw(alert.Message(),
		"value", alert.Value,
		"violations", alert.Violations,
	)

	return nil
}
