package bridge

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ErrHubClosed is returned when subscribing to a closed Hub
var ErrHubClosed = errors.New("hub closed")

// HubConfig represents the config of the broadcast side
type HubConfig struct {
	Address      string        `yaml:"address"`
	Path         string        `yaml:"path"`
	MetricsPath  string        `yaml:"metrics_path"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// Subscriber is an opaque sink for broadcast messages
type Subscriber interface {
	Send(msg []byte) error
	Close() error
}

type subscription struct {
	sub       Subscriber
	writeMu   sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
}

// Hub fans out Readings to every open Subscriber
type Hub struct {
	config   HubConfig
	logger   *zap.SugaredLogger
	metrics  *Metrics
	upgrader websocket.Upgrader

	mu     sync.RWMutex
	subs   map[*subscription]struct{}
	closed bool
}

// Subscribe adds sub to the broadcast set. The returned function removes
// and closes it; calling it more than once is safe.
func (h *Hub) Subscribe(sub Subscriber) (func(), error) {
	s := &subscription{sub: sub}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrHubClosed
	}
	h.subs[s] = struct{}{}
	n := len(h.subs)
	h.mu.Unlock()

	h.metrics.subscribers(n)

	return func() { h.remove(s) }, nil
}

func (h *Hub) remove(s *subscription) {
	s.closeOnce.Do(func() {
		s.closed.Store(true)

		h.mu.Lock()
		delete(h.subs, s)
		n := len(h.subs)
		h.mu.Unlock()

		h.metrics.subscribers(n)
		_ = s.sub.Close()
	})
}

func (h *Hub) snapshot() []*subscription {
	h.mu.RLock()
	defer h.mu.RUnlock()

	list := make([]*subscription, 0, len(h.subs))
	for s := range h.subs {
		if !s.closed.Load() {
			list = append(list, s)
		}
	}

	return list
}

// Publish sends r to every open subscriber and returns how many accepted it.
// It returns once every send has finished, so successive calls from one
// goroutine are delivered in order.
func (h *Hub) Publish(ctx context.Context, r Reading) int {
	msg, err := r.Marshal()
	if err != nil {
		h.logger.Errorf("hub: failed to encode reading: %s", err)
		return 0
	}

	if ctx.Err() != nil {
		return 0
	}

	var (
		wg        sync.WaitGroup
		delivered atomic.Int64
	)
	for _, s := range h.snapshot() {
		wg.Add(1)
		go func(s *subscription) {
			defer wg.Done()

			if err := h.send(s, msg); err != nil {
				h.logger.Warnf("hub: dropping subscriber: %s", err)
				h.metrics.sendFailed()
				h.remove(s)
				return
			}
			delivered.Add(1)
		}(s)
	}
	wg.Wait()

	h.metrics.broadcast()

	return int(delivered.Load())
}

func (h *Hub) send(s *subscription, msg []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	// closed between snapshot and send; skipped silently
	if s.closed.Load() {
		return nil
	}

	return s.sub.Send(msg)
}

// Len returns the number of connected subscribers
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.subs)
}

// Close disconnects every subscriber and refuses new ones
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()

	for _, s := range h.snapshot() {
		h.remove(s)
	}
}

// ServeHTTP upgrades the request to a WebSocket subscriber
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warnf("hub: upgrade failed: %s", err)
		return
	}

	unsubscribe, err := h.Subscribe(&wsSubscriber{conn: conn, writeTimeout: h.config.WriteTimeout})
	if err != nil {
		_ = conn.Close()
		return
	}
	defer unsubscribe()

	h.logger.Infof("hub: subscriber connected (%s)", conn.RemoteAddr())

	// Subscribers only listen; reading drives control frames and
	// notices the close
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Warnf("hub: subscriber error: %s", err)
			}
			break
		}
	}

	h.logger.Infof("hub: subscriber disconnected (%s)", conn.RemoteAddr())
}

// wsSubscriber sends text frames over a WebSocket connection
type wsSubscriber struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
}

func (s *wsSubscriber) Send(msg []byte) error {
	if s.writeTimeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}

	return s.conn.WriteMessage(websocket.TextMessage, msg)
}

func (s *wsSubscriber) Close() error {
	return s.conn.Close()
}

// NewHub creates a new Hub
func NewHub(config HubConfig, logger *zap.SugaredLogger, metrics *Metrics) *Hub {
	return &Hub{
		config:  config,
		logger:  logger,
		metrics: metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Dashboards are served from other origins
			CheckOrigin: func(*http.Request) bool { return true },
		},
		subs: make(map[*subscription]struct{}),
	}
}
