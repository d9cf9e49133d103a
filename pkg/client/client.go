// Package client is a minimal broker client: it opens a TCP connection per
// call, issues a create-topic or produce request, and waits for the broker's
// reply.
package client

import (
	"context"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/sreeharsha-v/tributary/internal/log"
	"github.com/sreeharsha-v/tributary/internal/wire"
	"github.com/sreeharsha-v/tributary/pkg/protocol"
)

var correlationID atomic.Uint32

const defaultTimeout = 10 * time.Second

type Client struct {
	addr    string
	timeout time.Duration
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

func New(brokerAddr string, opts ...Option) *Client {
	c := &Client{
		addr:    brokerAddr,
		timeout: defaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateTopic asks the broker to create topic and returns the broker's
// textual acknowledgment. Creating an existing topic is not an error; the
// broker acknowledges with the existing record's shape.
func (c *Client) CreateTopic(ctx context.Context, topic protocol.Topic) (string, error) {
	log.Info("creating topic %s on broker %s", topic.Name, c.addr)

	body, err := wire.SerializeTopic(&topic)
	if err != nil {
		return "", errors.Wrap(err, "serializing topic")
	}

	respBody, err := c.roundTrip(ctx, wire.MsgTypeCreateTopic, body)
	if err != nil {
		return "", err
	}

	ack := string(respBody)
	if strings.HasPrefix(ack, "error:") {
		return ack, errors.Errorf("create topic rejected: %s", ack)
	}
	log.Info("broker response: %s", ack)
	return ack, nil
}

// Produce sends messages to topic. Each message is routed by its own key on
// the broker side.
func (c *Client) Produce(ctx context.Context, topicName string, msgs []protocol.Message) error {
	req := &wire.ProduceRequest{TopicName: topicName, Messages: msgs}
	body, err := req.Serialize()
	if err != nil {
		return errors.Wrap(err, "serializing produce request")
	}

	respBody, err := c.roundTrip(ctx, wire.MsgTypeProduce, body)
	if err != nil {
		return err
	}

	resp, err := wire.DeserializeProduceResponse(respBody)
	if err != nil {
		return errors.Wrap(err, "deserializing produce response")
	}
	if resp.Status != wire.ProduceStatusOK {
		return errors.Errorf("produce rejected: %s", resp.Detail)
	}
	log.Debug("produce accepted: %s", resp.Detail)
	return nil
}

func (c *Client) roundTrip(ctx context.Context, msgType wire.MsgType, body []byte) ([]byte, error) {
	dialer := &net.Dialer{Timeout: c.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return nil, errors.Wrapf(err, "connecting to broker %s", c.addr)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else {
		conn.SetDeadline(time.Now().Add(c.timeout))
	}

	id := correlationID.Add(1)
	if err := wire.WriteFrame(conn, msgType, id, body); err != nil {
		return nil, errors.Wrap(err, "writing request")
	}

	h, respBody, err := wire.ReadResponseFrame(conn)
	if err != nil {
		return nil, errors.Wrap(err, "reading response")
	}
	if h.CorrelationID != id {
		return nil, errors.Errorf("correlation ID mismatch: sent %d, got %d", id, h.CorrelationID)
	}
	return respBody, nil
}
