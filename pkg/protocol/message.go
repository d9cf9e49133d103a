// Package protocol defines the broker's message model and the binary batch
// codec shared by the on-disk segment format and the produce wire payload.
package protocol

import "fmt"

// Message is a single produced record. The key and timestamp are optional:
// an empty key means the producer supplied none (and routing falls back to
// partition 0), a zero timestamp means the producer did not stamp the
// message. The broker never assigns timestamps on the producer's behalf.
type Message struct {
	Payload   []byte
	Key       string
	Timestamp int64 // Unix millis since epoch
}

func (m Message) HasKey() bool {
	return m.Key != ""
}

func (m Message) HasTimestamp() bool {
	return m.Timestamp != 0
}

func (m Message) String() string {
	return fmt.Sprintf("Message{Payload=%q, Key=%q, Timestamp=%d}", m.Payload, m.Key, m.Timestamp)
}

// Batch is an ordered, non-empty group of messages persisted together as one
// encoded unit. Batch boundaries are chosen by the partition writer, not by
// the producer.
type Batch struct {
	Records []Message
}
