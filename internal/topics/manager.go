// Package topics hosts the topics manager: the single goroutine that owns
// the topic catalog and the partition routing table. All reads and writes of
// that state travel through the manager's command channel, so the state
// itself needs no locks.
package topics

import (
	"context"
	"fmt"
	"hash/fnv"
	"path/filepath"
	"sync"

	"github.com/sreeharsha-v/tributary/internal/log"
	"github.com/sreeharsha-v/tributary/internal/partition"
	"github.com/sreeharsha-v/tributary/pkg/protocol"
)

// DefaultPartitionChannelSize bounds each partition's inbound channel. A full
// channel back-pressures producers instead of buffering without limit.
const DefaultPartitionChannelSize = 1000

// Command is one request to the manager loop. Each variant carries a reply
// channel that must be buffered with capacity 1; the manager never blocks on
// a reply and logs (rather than crashes) when a receiver has gone away.
type Command interface {
	isCommand()
}

// CreateTopic registers a topic and spawns one partition writer per
// partition index. Creation is idempotent: an existing name gets the
// existing record back and nothing new is spawned. The reply is nil when the
// topic record is invalid.
type CreateTopic struct {
	Topic protocol.Topic
	Reply chan *protocol.Topic
}

// GetTopicInfo looks up a topic by name. The reply is a copy of the record,
// or nil when the topic does not exist.
type GetTopicInfo struct {
	Name  string
	Reply chan *protocol.Topic
}

// GetPartitionWriterTx resolves the inbound channel of the partition a
// message with the given key routes to. An empty key routes to partition 0.
// The reply is nil when the topic or routing entry does not exist.
type GetPartitionWriterTx struct {
	TopicName string
	Key       string
	Reply     chan chan<- protocol.Message
}

func (CreateTopic) isCommand()          {}
func (GetTopicInfo) isCommand()         {}
func (GetPartitionWriterTx) isCommand() {}

// Manager supervises all topics. Construct with NewManager, then call Run on
// its own goroutine; every field below is touched only from inside Run.
type Manager struct {
	dataDir  string
	chanSize int

	topics   map[string]protocol.Topic
	writerTx map[string]chan protocol.Message
	writers  sync.WaitGroup
}

type ManagerOption func(*Manager)

// WithPartitionChannelSize overrides the per-partition channel capacity.
func WithPartitionChannelSize(n int) ManagerOption {
	return func(m *Manager) {
		if n > 0 {
			m.chanSize = n
		}
	}
}

func NewManager(dataDir string, opts ...ManagerOption) *Manager {
	m := &Manager{
		dataDir:  dataDir,
		chanSize: DefaultPartitionChannelSize,
		topics:   make(map[string]protocol.Topic),
		writerTx: make(map[string]chan protocol.Message),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run processes commands until ctx is cancelled or the command channel is
// closed, then waits for every spawned partition writer to finish draining
// before returning. No writer is ever orphaned.
func (m *Manager) Run(ctx context.Context, commands <-chan Command) {
	log.Info("topics manager started")
	for {
		select {
		case cmd, ok := <-commands:
			if !ok {
				log.Info("topics manager command channel closed, draining partition writers")
				m.writers.Wait()
				return
			}
			m.handle(ctx, cmd)

		case <-ctx.Done():
			log.Info("topics manager shutting down, draining partition writers")
			m.writers.Wait()
			log.Info("topics manager stopped")
			return
		}
	}
}

func (m *Manager) handle(ctx context.Context, cmd Command) {
	switch c := cmd.(type) {
	case CreateTopic:
		m.createTopic(ctx, c.Topic, c.Reply)

	case GetTopicInfo:
		if t, ok := m.topics[c.Name]; ok {
			replyTopic(c.Reply, &t)
		} else {
			replyTopic(c.Reply, nil)
		}

	case GetPartitionWriterTx:
		m.resolveWriterTx(c)

	default:
		log.Warn("topics manager received unknown command %T", cmd)
	}
}

func (m *Manager) createTopic(ctx context.Context, topic protocol.Topic, reply chan *protocol.Topic) {
	if existing, ok := m.topics[topic.Name]; ok {
		log.Warn("topic %s already exists", topic.Name)
		replyTopic(reply, &existing)
		return
	}
	if topic.Name == "" || topic.NumPartitions == 0 {
		log.Warn("rejecting invalid topic record %+v", topic)
		replyTopic(reply, nil)
		return
	}

	logDir := filepath.Join(m.dataDir, topic.Name)
	for index := uint32(0); index < topic.NumPartitions; index++ {
		tx := make(chan protocol.Message, m.chanSize)
		m.writerTx[partitionName(topic.Name, index)] = tx

		w := partition.NewWriter(partition.NewInfo(topic, index, logDir))
		m.writers.Add(1)
		go func(name string, index uint32) {
			defer m.writers.Done()
			if err := w.Run(ctx, tx); err != nil {
				log.Error("partition writer %s-%d terminated: %v", name, index, err)
			}
		}(topic.Name, index)
	}

	m.topics[topic.Name] = topic
	log.Info("topic %s created with %d partition(s)", topic.Name, topic.NumPartitions)
	replyTopic(reply, &topic)
}

func (m *Manager) resolveWriterTx(c GetPartitionWriterTx) {
	index := uint32(0)
	if c.Key != "" {
		topic, ok := m.topics[c.TopicName]
		if !ok {
			replyWriterTx(c.Reply, nil)
			return
		}
		index = partitionIndex(c.Key, topic.NumPartitions)
	}

	if tx, ok := m.writerTx[partitionName(c.TopicName, index)]; ok {
		replyWriterTx(c.Reply, tx)
	} else {
		replyWriterTx(c.Reply, nil)
	}
}

// partitionIndex maps a message key onto a partition deterministically.
// FNV-1a over the key's raw bytes is stable across processes and restarts,
// which makes it part of the routing contract: the same key always lands on
// the same partition.
func partitionIndex(key string, numPartitions uint32) uint32 {
	h := fnv.New32a()
	h.Write([]byte(key))
	return h.Sum32() % numPartitions
}

func partitionName(topic string, index uint32) string {
	return fmt.Sprintf("%s-%d", topic, index)
}

func replyTopic(ch chan *protocol.Topic, t *protocol.Topic) {
	select {
	case ch <- t:
	default:
		log.Warn("dropping topic reply: receiver gone")
	}
}

func replyWriterTx(ch chan chan<- protocol.Message, tx chan<- protocol.Message) {
	select {
	case ch <- tx:
	default:
		log.Warn("dropping partition writer reply: receiver gone")
	}
}
