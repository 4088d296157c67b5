package bridge

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const shutdownTimeout = 5 * time.Second

// Bridge wires the ingest Listener to the broadcast Hub and owns both sockets
type Bridge struct {
	config   Config
	logger   *zap.SugaredLogger
	registry *prometheus.Registry
	metrics  *Metrics

	tracker  *Tracker
	hub      *Hub
	pipeline *Pipeline
	listener *Listener

	publisher   *Publisher
	alertWriter *AlertWriter
	closers     []func() error
}

// Option customises a Bridge
type Option func(*Bridge)

// WithClock replaces the wall clock used by the window Tracker
func WithClock(now func() time.Time) Option {
	return func(b *Bridge) {
		b.tracker = NewTracker(b.config.Window, now)
	}
}

// WithAlertSink adds an alert destination
func WithAlertSink(sink AlertSink) Option {
	return func(b *Bridge) {
		b.pipeline.AddAlertSink(sink)
	}
}

// WithReadingMirror adds a destination for in-range readings
func WithReadingMirror(m ReadingMirror) Option {
	return func(b *Bridge) {
		b.pipeline.AddMirror(m)
	}
}

// NewBridge creates a new Bridge. Configured AMQP and MySQL mirrors are
// connected here so a bad DSN fails at startup.
func NewBridge(config Config, logger *zap.SugaredLogger, opts ...Option) (*Bridge, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	b := &Bridge{
		config:   config,
		logger:   logger,
		registry: registry,
		metrics:  metrics,
		tracker:  NewTracker(config.Window, nil),
		hub:      NewHub(config.Broadcast, logger, metrics),
	}
	b.pipeline = NewPipeline(NewValidator(config.Validation, logger), b.tracker, b.hub, logger, metrics)

	for _, opt := range opts {
		opt(b)
	}
	// options may swap the tracker
	b.pipeline.tracker = b.tracker

	if config.MySQL.Enabled() {
		db, err := NewDbConnection(config.MySQL)
		if err != nil {
			return nil, err
		}
		b.alertWriter = NewAlertWriter(config.MySQL.Table, db, logger)
		b.pipeline.AddAlertSink(b.alertWriter)
		b.closers = append(b.closers, b.alertWriter.Close, db.Close)
	}

	if config.AMQP.Enabled() {
		b.publisher = NewPublisher(config.AMQP, logger)
		if err := b.publisher.Connect(); err != nil {
			b.close()
			return nil, err
		}
		b.pipeline.AddAlertSink(b.publisher)
		b.pipeline.AddMirror(b.publisher)
		b.closers = append(b.closers, b.publisher.Shutdown)
	}

	b.listener = NewListener(config.Ingest, b.pipeline, logger, metrics)

	return b, nil
}

// Handler returns the HTTP handler serving subscribers and metrics
func (b *Bridge) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(b.config.Broadcast.Path, b.hub)
	if b.config.Broadcast.MetricsPath != "" {
		mux.Handle(b.config.Broadcast.MetricsPath, promhttp.HandlerFor(b.registry, promhttp.HandlerOpts{}))
	}

	return mux
}

// Run binds both sockets and serves until ctx is done
func (b *Bridge) Run(ctx context.Context) error {
	ingest, err := net.Listen("tcp", b.config.Ingest.Address)
	if err != nil {
		return fmt.Errorf("bridge: ingest: %w", err)
	}

	broadcast, err := net.Listen("tcp", b.config.Broadcast.Address)
	if err != nil {
		_ = ingest.Close()
		return fmt.Errorf("bridge: broadcast: %w", err)
	}

	return b.Serve(ctx, ingest, broadcast)
}

// Serve runs the bridge on already bound listeners
func (b *Bridge) Serve(ctx context.Context, ingest, broadcast net.Listener) error {
	defer b.close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	server := &http.Server{Handler: b.Handler()}
	errs := make(chan error, 2)

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		b.logger.Infof("bridge: WebSocket server started on %s", broadcast.Addr())
		if err := server.Serve(broadcast); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- fmt.Errorf("bridge: broadcast: %w", err)
			cancel()
		}
	}()

	go func() {
		defer wg.Done()
		if err := b.listener.Serve(ctx, ingest); err != nil {
			errs <- err
			cancel()
		}
	}()

	<-ctx.Done()
	b.logger.Info("bridge: shutting down")

	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	// hijacked WebSocket connections are not tracked by the server
	b.hub.Close()
	if err := server.Shutdown(shutdownCtx); err != nil {
		b.logger.Warnf("bridge: broadcast shutdown: %s", err)
	}

	wg.Wait()
	close(errs)

	return <-errs
}

func (b *Bridge) close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			b.logger.Warnf("bridge: %s", err)
		}
	}
	b.closers = nil
}

// Hub returns the broadcast Hub
func (b *Bridge) Hub() *Hub {
	return b.hub
}

// Tracker returns the window Tracker
func (b *Bridge) Tracker() *Tracker {
	return b.tracker
}
