package topics

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sreeharsha-v/tributary/pkg/protocol"
)

func startManager(t *testing.T, dataDir string) (chan<- Command, context.CancelFunc, chan struct{}) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	commands := make(chan Command, 5)
	done := make(chan struct{})

	m := NewManager(dataDir)
	go func() {
		m.Run(ctx, commands)
		close(done)
	}()

	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("topics manager did not stop")
		}
	})
	return commands, cancel, done
}

func createTopic(t *testing.T, commands chan<- Command, topic protocol.Topic) *protocol.Topic {
	t.Helper()
	reply := make(chan *protocol.Topic, 1)
	commands <- CreateTopic{Topic: topic, Reply: reply}
	select {
	case got := <-reply:
		return got
	case <-time.After(5 * time.Second):
		t.Fatal("no reply to CreateTopic")
		return nil
	}
}

func resolveWriterTx(t *testing.T, commands chan<- Command, topicName, key string) chan<- protocol.Message {
	t.Helper()
	reply := make(chan chan<- protocol.Message, 1)
	commands <- GetPartitionWriterTx{TopicName: topicName, Key: key, Reply: reply}
	select {
	case tx := <-reply:
		return tx
	case <-time.After(5 * time.Second):
		t.Fatal("no reply to GetPartitionWriterTx")
		return nil
	}
}

func TestCreateTopicIdempotent(t *testing.T) {
	commands, _, _ := startManager(t, t.TempDir())

	topic := protocol.Topic{
		Name:              "test_topic",
		NumPartitions:     3,
		ReplicationFactor: 1,
		RetentionPeriodMs: 60_000,
		BatchSize:         2,
	}

	first := createTopic(t, commands, topic)
	require.NotNil(t, first)
	assert.Equal(t, topic, *first)

	// different advisory metadata on the second request must not win
	changed := topic
	changed.BatchSize = 99
	second := createTopic(t, commands, changed)
	require.NotNil(t, second)
	assert.Equal(t, topic, *second, "existing record must be returned unchanged")

	// routing entries from the first create survive the no-op unchanged
	before := resolveWriterTx(t, commands, topic.Name, "dummy_key")
	require.NotNil(t, before)
	assert.Equal(t, before, resolveWriterTx(t, commands, topic.Name, "dummy_key"))
}

func TestCreateTopicRejectsInvalid(t *testing.T) {
	commands, _, _ := startManager(t, t.TempDir())

	assert.Nil(t, createTopic(t, commands, protocol.Topic{Name: "no_partitions"}))
	assert.Nil(t, createTopic(t, commands, protocol.Topic{NumPartitions: 1}))
}

func TestGetTopicInfo(t *testing.T) {
	commands, _, _ := startManager(t, t.TempDir())

	topic := protocol.Topic{Name: "known", NumPartitions: 2}
	require.NotNil(t, createTopic(t, commands, topic))

	reply := make(chan *protocol.Topic, 1)
	commands <- GetTopicInfo{Name: "known", Reply: reply}
	got := <-reply
	require.NotNil(t, got)
	assert.Equal(t, topic, *got)

	reply = make(chan *protocol.Topic, 1)
	commands <- GetTopicInfo{Name: "unknown", Reply: reply}
	assert.Nil(t, <-reply)
}

func TestDeterministicRouting(t *testing.T) {
	commands, _, _ := startManager(t, t.TempDir())

	topic := protocol.Topic{Name: "routed", NumPartitions: 4}
	require.NotNil(t, createTopic(t, commands, topic))

	first := resolveWriterTx(t, commands, "routed", "dummy_key")
	require.NotNil(t, first)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, resolveWriterTx(t, commands, "routed", "dummy_key"),
			"same key must resolve to the same partition channel")
	}

	// the hash itself is pinned: fnv-1a is stable across runs and restarts
	assert.Equal(t, uint32(3), partitionIndex("dummy_key", 4))
	assert.Equal(t, uint32(2), partitionIndex("dummy_key_2", 4))

	noKey := resolveWriterTx(t, commands, "routed", "")
	require.NotNil(t, noKey)
	zero := resolveWriterTx(t, commands, "routed", "")
	assert.Equal(t, noKey, zero, "no key always routes to partition 0")

	assert.Nil(t, resolveWriterTx(t, commands, "missing", "dummy_key"))
	assert.Nil(t, resolveWriterTx(t, commands, "missing", ""))
}

// Mirrors the end-to-end produce flow: create a single-partition topic with a
// batch cap of two, push three messages straight to the partition channel,
// cancel, and check the drained segment holds batches [m1 m2] and [m3].
func TestManagerDrainWritesSegment(t *testing.T) {
	dataDir := t.TempDir()
	commands, cancel, done := startManager(t, dataDir)

	topic := protocol.Topic{
		Name:              "test_topic",
		NumPartitions:     1,
		ReplicationFactor: 1,
		RetentionPeriodMs: 1,
		BatchSize:         2,
	}
	require.NotNil(t, createTopic(t, commands, topic))

	tx := resolveWriterTx(t, commands, "test_topic", "")
	require.NotNil(t, tx)

	m1 := protocol.Message{Payload: []byte("Message 1 without timestamp"), Key: "dummy_key"}
	m2 := protocol.Message{Payload: []byte("Message 2 with timestamp"), Timestamp: 1234567890}
	m3 := protocol.Message{Payload: []byte("Message 3 with timestamp"), Key: "dummy_key_2", Timestamp: 1334567899}
	tx <- m1
	tx <- m2
	tx <- m3

	time.Sleep(500 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("manager did not drain")
	}

	raw, err := os.ReadFile(filepath.Join(dataDir, "test_topic", "0", "segment_0.log"))
	require.NoError(t, err)

	buf := bytes.NewBuffer(raw)
	var batches []*protocol.Batch
	for {
		b, err := protocol.DecodeBatch(buf)
		require.NoError(t, err)
		if b == nil {
			break
		}
		batches = append(batches, b)
	}

	require.Len(t, batches, 2)
	require.Len(t, batches[0].Records, 2)
	require.Len(t, batches[1].Records, 1)
	assert.Equal(t, m1, batches[0].Records[0])
	assert.Equal(t, m2, batches[0].Records[1])
	assert.Equal(t, m3, batches[1].Records[0])
}
