// Package broker is the network edge: it accepts client connections,
// deserializes create-topic and produce requests, and bridges them onto the
// topics manager's command channel. The produce data path resolves a
// partition channel once and then sends messages directly to the partition
// writer, bypassing the manager.
package broker

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/sreeharsha-v/tributary/internal/log"
	"github.com/sreeharsha-v/tributary/internal/topics"
	"github.com/sreeharsha-v/tributary/internal/wire"
	"github.com/sreeharsha-v/tributary/pkg/protocol"
)

const commandReplyTimeout = 5 * time.Second

type Server struct {
	id       string
	addr     string
	listener net.Listener
	commands chan<- topics.Command

	conns map[string]net.Conn
	mu    sync.Mutex
}

func NewServer(address string, commands chan<- topics.Command) *Server {
	return &Server{
		id:       uuid.NewString(),
		addr:     address,
		commands: commands,
		conns:    make(map[string]net.Conn),
	}
}

// Start binds the listener. Addr is only meaningful afterwards (the
// configured address may carry port 0).
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = listener
	s.addr = listener.Addr().String()
	log.Info("broker %s listening on %s", s.id, s.addr)
	return nil
}

func (s *Server) Addr() string {
	return s.addr
}

// Serve accepts connections until ctx is cancelled. Each connection gets its
// own goroutine.
func (s *Server) Serve(ctx context.Context) error {
	if s.listener == nil {
		return errors.New("listener not started")
	}

	go func() {
		<-ctx.Done()
		s.listener.Close()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.closeConns()
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		log.Debug("connection established with %s", conn.RemoteAddr())

		s.mu.Lock()
		s.conns[conn.RemoteAddr().String()] = conn
		s.mu.Unlock()

		go s.handleConnection(ctx, conn)
	}
}

func (s *Server) closeConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, conn := range s.conns {
		conn.Close()
	}
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer func() {
		conn.Close()
		s.mu.Lock()
		delete(s.conns, conn.RemoteAddr().String())
		s.mu.Unlock()
	}()

	for {
		h, body, err := wire.ReadFrame(conn)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
				log.Debug("connection %s closed: %v", conn.RemoteAddr(), err)
			}
			return
		}

		if err := s.processFrame(ctx, conn, h, body); err != nil {
			log.Error("error processing request from %s: %v", conn.RemoteAddr(), err)
			return
		}
	}
}

func (s *Server) processFrame(ctx context.Context, conn net.Conn, h *wire.RequestHeader, body []byte) error {
	switch h.MessageType {
	case wire.MsgTypeCreateTopic:
		return s.handleCreateTopic(ctx, conn, h.CorrelationID, body)
	case wire.MsgTypeProduce:
		return s.handleProduce(ctx, conn, h.CorrelationID, body)
	default:
		return errors.Errorf("unknown message type %d", h.MessageType)
	}
}

// handleCreateTopic always answers the client, even on failure: a textual
// acknowledgment for success, an error line otherwise.
func (s *Server) handleCreateTopic(ctx context.Context, conn net.Conn, correlationID uint32, body []byte) error {
	topic, err := wire.DeserializeTopic(body)
	if err != nil {
		log.Warn("rejecting malformed create-topic request: %v", err)
		return wire.WriteResponseFrame(conn, wire.MsgTypeCreateTopic, correlationID, []byte("error: malformed topic"))
	}

	reply := make(chan *protocol.Topic, 1)
	created, err := s.sendCreateTopic(ctx, *topic, reply)
	if err != nil {
		return wire.WriteResponseFrame(conn, wire.MsgTypeCreateTopic, correlationID, []byte("error: broker unavailable"))
	}
	if created == nil {
		return wire.WriteResponseFrame(conn, wire.MsgTypeCreateTopic, correlationID, []byte("error: invalid topic"))
	}

	ack := fmt.Sprintf("topic %s created with %d partition(s)", created.Name, created.NumPartitions)
	return wire.WriteResponseFrame(conn, wire.MsgTypeCreateTopic, correlationID, []byte(ack))
}

func (s *Server) sendCreateTopic(ctx context.Context, topic protocol.Topic, reply chan *protocol.Topic) (*protocol.Topic, error) {
	select {
	case s.commands <- topics.CreateTopic{Topic: topic, Reply: reply}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case t := <-reply:
		return t, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(commandReplyTimeout):
		return nil, errors.New("timed out waiting for topics manager")
	}
}

func (s *Server) handleProduce(ctx context.Context, conn net.Conn, correlationID uint32, body []byte) error {
	req, err := wire.DeserializeProduceRequest(body)
	if err != nil {
		log.Warn("rejecting malformed produce request: %v", err)
		return s.writeProduceResponse(conn, correlationID, wire.ProduceStatusError, "malformed produce request")
	}

	// per-key resolution cache for this request; every message routes by
	// its own key
	writerTx := make(map[string]chan<- protocol.Message)

	accepted := 0
	for _, msg := range req.Messages {
		tx, ok := writerTx[msg.Key]
		if !ok {
			tx, err = s.resolveWriterTx(ctx, req.TopicName, msg.Key)
			if err != nil {
				return s.writeProduceResponse(conn, correlationID, wire.ProduceStatusError, "broker unavailable")
			}
			if tx == nil {
				detail := fmt.Sprintf("no partition for topic %s", req.TopicName)
				return s.writeProduceResponse(conn, correlationID, wire.ProduceStatusError, detail)
			}
			writerTx[msg.Key] = tx
		}

		select {
		case tx <- msg:
			accepted++
		case <-ctx.Done():
			return s.writeProduceResponse(conn, correlationID, wire.ProduceStatusError, "broker shutting down")
		}
	}

	return s.writeProduceResponse(conn, correlationID, wire.ProduceStatusOK, fmt.Sprintf("%d message(s) accepted", accepted))
}

func (s *Server) resolveWriterTx(ctx context.Context, topicName, key string) (chan<- protocol.Message, error) {
	reply := make(chan chan<- protocol.Message, 1)
	select {
	case s.commands <- topics.GetPartitionWriterTx{TopicName: topicName, Key: key, Reply: reply}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case tx := <-reply:
		return tx, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(commandReplyTimeout):
		return nil, errors.New("timed out waiting for topics manager")
	}
}

func (s *Server) writeProduceResponse(conn net.Conn, correlationID uint32, status uint8, detail string) error {
	resp := &wire.ProduceResponse{Status: status, Detail: detail}
	body, err := resp.Serialize()
	if err != nil {
		return err
	}
	return wire.WriteResponseFrame(conn, wire.MsgTypeProduce, correlationID, body)
}

// Stop closes the listener; in-flight connection handlers wind down on their
// own when their reads fail.
func (s *Server) Stop() error {
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}
