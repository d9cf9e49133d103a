package wire

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"github.com/sreeharsha-v/tributary/pkg/protocol"
)

// SerializeTopic encodes a create-topic request body:
//
//	u16 nameLen | name | u32 numPartitions | u32 replicationFactor |
//	i64 retentionPeriodMs | u32 batchSize
func SerializeTopic(t *protocol.Topic) ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := binary.Write(buf, binary.BigEndian, uint16(len(t.Name))); err != nil {
		return nil, err
	}
	if _, err := buf.WriteString(t.Name); err != nil {
		return nil, err
	}
	for _, v := range []interface{}{t.NumPartitions, t.ReplicationFactor, t.RetentionPeriodMs, t.BatchSize} {
		if err := binary.Write(buf, binary.BigEndian, v); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func DeserializeTopic(data []byte) (*protocol.Topic, error) {
	reader := bytes.NewReader(data)

	var nameLen uint16
	if err := binary.Read(reader, binary.BigEndian, &nameLen); err != nil {
		return nil, errors.Wrap(err, "reading topic name length")
	}
	name := make([]byte, nameLen)
	if _, err := io.ReadFull(reader, name); err != nil {
		return nil, errors.Wrap(err, "reading topic name")
	}

	t := &protocol.Topic{Name: string(name)}
	for _, v := range []interface{}{&t.NumPartitions, &t.ReplicationFactor, &t.RetentionPeriodMs, &t.BatchSize} {
		if err := binary.Read(reader, binary.BigEndian, v); err != nil {
			return nil, errors.Wrap(err, "reading topic fields")
		}
	}
	return t, nil
}

// ProduceRequest carries messages for one topic. The broker routes each
// message by its own key, so there is no request-level partition field.
type ProduceRequest struct {
	TopicName string
	Messages  []protocol.Message
}

// Serialize encodes `u16 topicLen | topic | batch`, reusing the batch codec
// for the message payload so the wire and segment formats stay in lockstep.
func (r *ProduceRequest) Serialize() ([]byte, error) {
	if len(r.Messages) == 0 {
		return nil, protocol.ErrEmptyBatch
	}

	buf := &bytes.Buffer{}
	if err := binary.Write(buf, binary.BigEndian, uint16(len(r.TopicName))); err != nil {
		return nil, err
	}
	if _, err := buf.WriteString(r.TopicName); err != nil {
		return nil, err
	}

	batch, err := protocol.EncodeBatch(&protocol.Batch{Records: r.Messages})
	if err != nil {
		return nil, err
	}
	if _, err := buf.Write(batch); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func DeserializeProduceRequest(data []byte) (*ProduceRequest, error) {
	if len(data) < 2 {
		return nil, errors.New("wire: produce request too short")
	}
	topicLen := binary.BigEndian.Uint16(data[:2])
	if len(data) < 2+int(topicLen) {
		return nil, errors.New("wire: produce request truncated in topic name")
	}

	req := &ProduceRequest{TopicName: string(data[2 : 2+topicLen])}

	buf := bytes.NewBuffer(data[2+topicLen:])
	batch, err := protocol.DecodeBatch(buf)
	if err != nil {
		return nil, err
	}
	if batch == nil {
		return nil, errors.Wrap(protocol.ErrMalformedBatch, "produce request truncated in batch")
	}
	if buf.Len() != 0 {
		return nil, errors.Wrapf(protocol.ErrMalformedBatch, "%d trailing bytes after produce batch", buf.Len())
	}

	req.Messages = batch.Records
	return req, nil
}

// ProduceResponse reports the outcome of a produce request:
// `u8 status | u16 detailLen | detail`, status 0 meaning accepted.
type ProduceResponse struct {
	Status uint8
	Detail string
}

const (
	ProduceStatusOK    uint8 = 0
	ProduceStatusError uint8 = 1
)

func (r *ProduceResponse) Serialize() ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := buf.WriteByte(r.Status); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.BigEndian, uint16(len(r.Detail))); err != nil {
		return nil, err
	}
	if _, err := buf.WriteString(r.Detail); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func DeserializeProduceResponse(data []byte) (*ProduceResponse, error) {
	if len(data) < 3 {
		return nil, errors.New("wire: produce response too short")
	}
	detailLen := binary.BigEndian.Uint16(data[1:3])
	if len(data) < 3+int(detailLen) {
		return nil, errors.New("wire: produce response truncated in detail")
	}
	return &ProduceResponse{
		Status: data[0],
		Detail: string(data[3 : 3+detailLen]),
	}, nil
}
