package broker

import (
	"bytes"
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sreeharsha-v/tributary/internal/topics"
	"github.com/sreeharsha-v/tributary/pkg/client"
	"github.com/sreeharsha-v/tributary/pkg/protocol"
)

type testBroker struct {
	addr    string
	dataDir string
	server  *Server
	cancel  context.CancelFunc
	done    chan struct{}
}

func startTestBroker(t *testing.T) *testBroker {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	dataDir := t.TempDir()

	commands := make(chan topics.Command)
	manager := topics.NewManager(dataDir)
	server := NewServer("127.0.0.1:0", commands)
	require.NoError(t, server.Start())

	done := make(chan struct{})
	go func() {
		manager.Run(ctx, commands)
		close(done)
	}()
	go server.Serve(ctx)

	tb := &testBroker{addr: server.Addr(), dataDir: dataDir, server: server, cancel: cancel, done: done}
	t.Cleanup(func() { tb.shutdown(t) })
	return tb
}

func (tb *testBroker) shutdown(t *testing.T) {
	t.Helper()
	tb.cancel()
	select {
	case <-tb.done:
	case <-time.After(5 * time.Second):
		t.Error("broker did not drain on shutdown")
	}
}

func TestServerCreateTopicAndProduce(t *testing.T) {
	tb := startTestBroker(t)
	ctx := context.Background()
	c := client.New(tb.addr)

	topic := protocol.Topic{Name: "test_topic", NumPartitions: 1, BatchSize: 2}
	ack, err := c.CreateTopic(ctx, topic)
	require.NoError(t, err)
	assert.Contains(t, ack, "test_topic")

	// idempotent: a second create succeeds and spawns nothing new
	_, err = c.CreateTopic(ctx, topic)
	require.NoError(t, err)

	msgs := []protocol.Message{
		{Payload: []byte("Message 1 without timestamp"), Key: "dummy_key"},
		{Payload: []byte("Message 2 with timestamp"), Timestamp: 1234567890},
		{Payload: []byte("Message 3 with timestamp"), Key: "dummy_key_2", Timestamp: 1334567899},
	}
	require.NoError(t, c.Produce(ctx, "test_topic", msgs))

	tb.shutdown(t)

	raw, err := os.ReadFile(filepath.Join(tb.dataDir, "test_topic", "0", "segment_0.log"))
	require.NoError(t, err)

	buf := bytes.NewBuffer(raw)
	var flushed []protocol.Message
	for {
		b, err := protocol.DecodeBatch(buf)
		require.NoError(t, err)
		if b == nil {
			break
		}
		flushed = append(flushed, b.Records...)
	}

	require.Len(t, flushed, len(msgs))
	for i, want := range msgs {
		assert.Equal(t, want, flushed[i], "message %d must survive the produce path in order", i)
	}
}

// Losing the listener (for any reason, not just shutdown) must not leave
// accepted connections dangling: their handlers only wind down once the
// peer sees the close.
func TestServerListenerLossClosesActiveConnections(t *testing.T) {
	tb := startTestBroker(t)

	conn, err := net.Dial("tcp", tb.addr)
	require.NoError(t, err)
	defer conn.Close()

	// give the accept loop a moment to register the connection
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, tb.server.Stop())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err = conn.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF, "server must close tracked connections when the accept loop exits")
}

func TestServerProduceUnknownTopic(t *testing.T) {
	tb := startTestBroker(t)
	c := client.New(tb.addr)

	err := c.Produce(context.Background(), "missing", []protocol.Message{{Payload: []byte("m")}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no partition")
}

func TestServerInvalidTopicStillAnswers(t *testing.T) {
	tb := startTestBroker(t)
	c := client.New(tb.addr)

	ack, err := c.CreateTopic(context.Background(), protocol.Topic{Name: "broken"})
	require.Error(t, err)
	assert.Contains(t, ack, "error:")
}
