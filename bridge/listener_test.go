package bridge

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// chanProcessor forwards every message and the outcome of the wrapped
// Processor to a channel
type chanProcessor struct {
	next     Processor
	messages chan string
}

func (p *chanProcessor) Process(ctx context.Context, raw []byte) Outcome {
	outcome := OutcomeEmpty
	if p.next != nil {
		outcome = p.next.Process(ctx, raw)
	}
	p.messages <- string(raw)
	return outcome
}

func startListener(t *testing.T, config IngestConfig, processor Processor, metrics *Metrics) (string, func()) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	l := NewListener(config, processor, zap.NewNop().Sugar(), metrics)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Serve(ctx, ln) }()

	return ln.Addr().String(), func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("listener did not stop")
		}
	}
}

func receive(t *testing.T, ch <-chan string) string {
	t.Helper()

	select {
	case msg := <-ch:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return ""
	}
}

func TestListenerSurvivesMalformedInput(t *testing.T) {
	f := newPipelineFixture(t)
	proc := &chanProcessor{next: f.pipeline, messages: make(chan string, 4)}
	addr, stop := startListener(t, IngestConfig{Framing: FramingChunk}, proc, nil)
	defer stop()

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("not-json"))
	require.NoError(t, err)
	assert.Equal(t, "not-json", receive(t, proc.messages))

	// same connection keeps working
	_, err = conn.Write([]byte(`{"battery_temperature": 25, "timestamp": 1000}`))
	require.NoError(t, err)
	receive(t, proc.messages)

	assert.Len(t, f.broadcaster.Readings(), 1)
}

func TestListenerAcceptsManyProducers(t *testing.T) {
	proc := &chanProcessor{messages: make(chan string, 8)}
	metrics := NewMetrics(prometheus.NewRegistry())
	addr, stop := startListener(t, IngestConfig{Framing: FramingChunk}, proc, metrics)
	defer stop()

	var conns []net.Conn
	for i := 0; i < 3; i++ {
		conn, err := net.Dial("tcp", addr)
		require.NoError(t, err)
		conns = append(conns, conn)

		_, err = conn.Write([]byte("hello"))
		require.NoError(t, err)
		assert.Equal(t, "hello", receive(t, proc.messages))
	}
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.ingestConnections))

	// an orderly close of one producer does not affect the others
	require.NoError(t, conns[0].Close())
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.ingestConnections) == 2
	}, 2*time.Second, 10*time.Millisecond)

	_, err := conns[1].Write([]byte("still here"))
	require.NoError(t, err)
	assert.Equal(t, "still here", receive(t, proc.messages))

	for _, c := range conns[1:] {
		c.Close()
	}
}

func TestListenerNewlineFraming(t *testing.T) {
	proc := &chanProcessor{messages: make(chan string, 4)}
	addr, stop := startListener(t, IngestConfig{Framing: FramingNewline}, proc, nil)
	defer stop()

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("{\"a\":1}\n{\"b\":"))
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, receive(t, proc.messages))

	_, err = conn.Write([]byte("2}\n"))
	require.NoError(t, err)
	assert.Equal(t, `{"b":2}`, receive(t, proc.messages))
}

func TestListenerShutdownClosesProducers(t *testing.T) {
	proc := &chanProcessor{messages: make(chan string, 1)}
	addr, stop := startListener(t, IngestConfig{}, proc, nil)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("ping"))
	require.NoError(t, err)
	receive(t, proc.messages)

	stop()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err = conn.Read(make([]byte, 1))
	assert.Error(t, err)
}
