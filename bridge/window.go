package bridge

import (
	"fmt"
	"sync"
	"time"
)

// Eviction modes of the Tracker
const (
	// EvictWallClock drops entries older than the window relative to the
	// tracker's clock at the time of the Record call.
	EvictWallClock = "wallclock"
	// EvictEntryTime drops entries older than the window relative to the
	// timestamp of the entry just recorded.
	EvictEntryTime = "entry"
)

// WindowConfig represents the config of the Tracker
type WindowConfig struct {
	Min         float64 `yaml:"min"`
	Max         float64 `yaml:"max"`
	LengthMs    int64   `yaml:"length_ms"`
	ExceedLimit int     `yaml:"exceed_limit"`
	Eviction    string  `yaml:"eviction"`
}

// DefaultWindowConfig returns the safe range [20, 80] with more than 3
// violations in 5 seconds raising an alert
func DefaultWindowConfig() WindowConfig {
	return WindowConfig{
		Min:         20,
		Max:         80,
		LengthMs:    5000,
		ExceedLimit: 3,
		Eviction:    EvictWallClock,
	}
}

// Validate checks the window bounds and modes
func (c WindowConfig) Validate() error {
	if c.Min > c.Max {
		return fmt.Errorf("window: min %v is greater than max %v", c.Min, c.Max)
	}
	if c.LengthMs <= 0 {
		return fmt.Errorf("window: length_ms must be positive, got %d", c.LengthMs)
	}
	if c.ExceedLimit < 0 {
		return fmt.Errorf("window: exceed_limit must not be negative, got %d", c.ExceedLimit)
	}
	switch c.Eviction {
	case EvictWallClock, EvictEntryTime:
	default:
		return fmt.Errorf("window: unknown eviction mode %q", c.Eviction)
	}

	return nil
}

// Tracker keeps the recent out-of-range history and signals when the
// number of violations inside the window exceeds the limit
type Tracker struct {
	config  WindowConfig
	now     func() time.Time
	mu      sync.Mutex
	history []HistoryEntry
}

// InRange reports whether value lies within the inclusive safe range
func (t *Tracker) InRange(value float64) bool {
	return value >= t.config.Min && value <= t.config.Max
}

// Record appends an out-of-range value, evicts expired entries and reports
// an Alert when the retained violation count is above the limit.
func (t *Tracker) Record(value float64, timestamp interface{}) (Alert, bool) {
	ts := toNumber(timestamp)

	t.mu.Lock()
	defer t.mu.Unlock()

	t.history = append(t.history, HistoryEntry{Timestamp: ts, Value: value})

	ref := float64(t.now().UnixMilli())
	if t.config.Eviction == EvictEntryTime {
		ref = ts
	}

	// NaN comparisons are false, so entries without a numeric timestamp
	// are never evicted
	window := float64(t.config.LengthMs)
	drop := 0
	for drop < len(t.history) && ref-t.history[drop].Timestamp > window {
		drop++
	}
	if drop > 0 {
		t.history = append(t.history[:0], t.history[drop:]...)
	}

	count := 0
	for _, e := range t.history {
		if !t.InRange(e.Value) {
			count++
		}
	}

	if count <= t.config.ExceedLimit {
		return Alert{}, false
	}

	return Alert{
		Value:       value,
		Timestamp:   timestamp,
		Violations:  count,
		ExceedLimit: t.config.ExceedLimit,
		Window:      time.Duration(t.config.LengthMs) * time.Millisecond,
		RaisedAt:    t.now(),
	}, true
}

// Len returns the number of retained history entries
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.history)
}

// NewTracker creates a new Tracker. A nil clock defaults to time.Now.
func NewTracker(config WindowConfig, now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	if config.Eviction == "" {
		config.Eviction = EvictWallClock
	}

	return &Tracker{
		config: config,
		now:    now,
	}
}
