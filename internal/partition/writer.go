// Package partition implements the per-partition durability pipeline: one
// writer goroutine per partition consumes messages from a bounded channel,
// groups them into batches, and appends the encoded batches to the
// partition's segment file.
package partition

import (
	"context"
	"time"

	"github.com/sreeharsha-v/tributary/internal/log"
	"github.com/sreeharsha-v/tributary/pkg/protocol"
)

const (
	// defaultBatchRecords caps batch size when the topic carries no
	// advisory BatchSize of its own.
	defaultBatchRecords = 512

	// defaultLinger is how long a pending batch may sit unflushed waiting
	// for more messages before it is written out anyway.
	defaultLinger = 50 * time.Millisecond
)

// Info identifies one partition of a topic and where its segment lives.
type Info struct {
	Topic  protocol.Topic
	Index  uint32
	LogDir string
}

func NewInfo(topic protocol.Topic, index uint32, logDir string) Info {
	return Info{Topic: topic, Index: index, LogDir: logDir}
}

// Writer owns exactly one partition's segment file. It must be started with
// Run; no other goroutine ever touches the file.
//
// Batching policy: messages accumulate in a pending batch that is flushed
// when it reaches the batch record cap (the topic's BatchSize, or
// defaultBatchRecords when unset), when the linger timeout expires with
// messages pending, or as a final batch while draining on cancellation.
type Writer struct {
	info     Info
	linger   time.Duration
	batchCap int
}

type WriterOption func(*Writer)

// WithLinger overrides the flush linger, mainly for tests that need batch
// boundaries to be deterministic.
func WithLinger(d time.Duration) WriterOption {
	return func(w *Writer) { w.linger = d }
}

func NewWriter(info Info, opts ...WriterOption) *Writer {
	w := &Writer{
		info:     info,
		linger:   defaultLinger,
		batchCap: defaultBatchRecords,
	}
	if info.Topic.BatchSize > 0 {
		w.batchCap = int(info.Topic.BatchSize)
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run consumes messages from in until ctx is cancelled or in is closed,
// then flushes whatever is still pending and releases the segment file.
// Messages delivered to the channel before cancellation are never dropped:
// the drain pass empties the channel buffer before the final flush. An I/O
// failure is fatal to this writer only and is returned after being logged.
func (w *Writer) Run(ctx context.Context, in <-chan protocol.Message) error {
	seg, err := openSegment(w.info.LogDir, w.info.Topic.Name, w.info.Index)
	if err != nil {
		log.Error("partition writer %s-%d failed to open segment: %v", w.info.Topic.Name, w.info.Index, err)
		return err
	}
	defer seg.close()

	log.Info("partition writer started for %s-%d", w.info.Topic.Name, w.info.Index)

	pending := make([]protocol.Message, 0, w.batchCap)
	var lingerC <-chan time.Time

	flush := func() error {
		if len(pending) == 0 {
			lingerC = nil
			return nil
		}
		if err := w.writeBatch(seg, pending); err != nil {
			return err
		}
		pending = pending[:0]
		lingerC = nil
		return nil
	}

	for {
		select {
		case msg, ok := <-in:
			if !ok {
				return flush()
			}
			if len(pending) == 0 {
				lingerC = time.After(w.linger)
			}
			pending = append(pending, msg)
			if len(pending) >= w.batchCap {
				if err := flush(); err != nil {
					return err
				}
			}

		case <-lingerC:
			if err := flush(); err != nil {
				return err
			}

		case <-ctx.Done():
			log.Debug("partition writer %s-%d draining", w.info.Topic.Name, w.info.Index)
			return w.drain(in, seg, pending)
		}
	}
}

// drain empties whatever the channel already buffered before cancellation
// and writes it out, still honoring the batch record cap.
func (w *Writer) drain(in <-chan protocol.Message, seg *segment, pending []protocol.Message) error {
	for {
		select {
		case msg, ok := <-in:
			if !ok {
				return w.flushFinal(seg, pending)
			}
			pending = append(pending, msg)
			if len(pending) >= w.batchCap {
				if err := w.writeBatch(seg, pending); err != nil {
					return err
				}
				pending = pending[:0]
			}
		default:
			return w.flushFinal(seg, pending)
		}
	}
}

func (w *Writer) flushFinal(seg *segment, pending []protocol.Message) error {
	if len(pending) == 0 {
		log.Info("partition writer %s-%d drained", w.info.Topic.Name, w.info.Index)
		return nil
	}
	if err := w.writeBatch(seg, pending); err != nil {
		return err
	}
	log.Info("partition writer %s-%d drained", w.info.Topic.Name, w.info.Index)
	return nil
}

func (w *Writer) writeBatch(seg *segment, records []protocol.Message) error {
	batch := &protocol.Batch{Records: records}
	encoded, err := protocol.EncodeBatch(batch)
	if err != nil {
		log.Error("partition writer %s-%d failed to encode batch: %v", w.info.Topic.Name, w.info.Index, err)
		return err
	}
	if err := seg.append(encoded); err != nil {
		log.Error("partition writer %s-%d failed to append batch: %v", w.info.Topic.Name, w.info.Index, err)
		return err
	}
	log.Debug("partition writer %s-%d flushed batch of %d message(s)", w.info.Topic.Name, w.info.Index, len(records))
	return nil
}
