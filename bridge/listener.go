package bridge

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Framing modes of the Listener
const (
	// FramingChunk treats every read from the socket as one message
	FramingChunk = "chunk"
	// FramingNewline splits the stream on '\n'
	FramingNewline = "newline"
)

const defaultReadBufferSize = 64 * 1024

// IngestConfig represents the config of the Listener
type IngestConfig struct {
	Address        string `yaml:"address"`
	Framing        string `yaml:"framing"`
	ReadBufferSize int    `yaml:"read_buffer_size"`
}

// Processor consumes framed ingest messages
type Processor interface {
	Process(ctx context.Context, raw []byte) Outcome
}

// Listener accepts producer connections and feeds their messages to a Processor
type Listener struct {
	config    IngestConfig
	processor Processor
	logger    *zap.SugaredLogger
	metrics   *Metrics

	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

// ListenAndServe binds the configured address and serves until ctx is done
func (l *Listener) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", l.config.Address)
	if err != nil {
		return fmt.Errorf("listener: %w", err)
	}

	return l.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done. Accept errors are
// logged and do not stop the loop.
func (l *Listener) Serve(ctx context.Context, ln net.Listener) error {
	l.logger.Infof("listener: TCP server listening on %s", ln.Addr())

	var wg sync.WaitGroup
	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
		}
		_ = ln.Close()
		l.closeAll()
	}()
	defer func() {
		close(stop)
		wg.Wait()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			l.logger.Errorf("listener: accept: %s", err)
			time.Sleep(50 * time.Millisecond)
			continue
		}

		l.track(conn)
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer l.untrack(conn)
			l.handle(ctx, conn)
		}()
	}
}

func (l *Listener) handle(ctx context.Context, conn net.Conn) {
	remote := conn.RemoteAddr()
	l.logger.Infof("listener: TCP client connected (%s)", remote)

	var err error
	if l.config.Framing == FramingNewline {
		err = l.readLines(ctx, conn)
	} else {
		err = l.readChunks(ctx, conn)
	}

	switch {
	case err == nil, errors.Is(err, io.EOF):
		l.logger.Infof("listener: closing connection with the TCP client (%s)", remote)
	case ctx.Err() != nil:
		l.logger.Debugf("listener: connection closed on shutdown (%s)", remote)
	default:
		l.logger.Warnf("listener: TCP client error (%s): %s", remote, err)
	}
}

func (l *Listener) readChunks(ctx context.Context, conn net.Conn) error {
	buf := make([]byte, l.bufferSize())
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			l.processor.Process(ctx, buf[:n])
		}
		if err != nil {
			return err
		}
	}
}

func (l *Listener) readLines(ctx context.Context, conn net.Conn) error {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), l.bufferSize())
	for scanner.Scan() {
		l.processor.Process(ctx, scanner.Bytes())
	}

	return scanner.Err()
}

func (l *Listener) bufferSize() int {
	if l.config.ReadBufferSize > 0 {
		return l.config.ReadBufferSize
	}
	return defaultReadBufferSize
}

func (l *Listener) track(conn net.Conn) {
	l.mu.Lock()
	l.conns[conn] = struct{}{}
	l.mu.Unlock()

	l.metrics.ingestConnectionDelta(1)
}

func (l *Listener) untrack(conn net.Conn) {
	l.mu.Lock()
	delete(l.conns, conn)
	l.mu.Unlock()

	_ = conn.Close()
	l.metrics.ingestConnectionDelta(-1)
}

func (l *Listener) closeAll() {
	l.mu.Lock()
	defer l.mu.Unlock()

	for conn := range l.conns {
		_ = conn.Close()
	}
}

// NewListener creates a new Listener
func NewListener(config IngestConfig, processor Processor, logger *zap.SugaredLogger, metrics *Metrics) *Listener {
	return &Listener{
		config:    config,
		processor: processor,
		logger:    logger,
		metrics:   metrics,
		conns:     make(map[net.Conn]struct{}),
	}
}
