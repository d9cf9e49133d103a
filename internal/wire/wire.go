// Package wire defines the client-to-broker TCP framing: a length-prefixed
// frame carrying a fixed-size header (message type + correlation ID) and a
// type-specific body. Everything is big-endian.
package wire

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

type MsgType uint16

const (
	MsgTypeCreateTopic MsgType = iota + 1
	MsgTypeProduce
)

const HeaderSize = 6 // size(MessageType) + size(CorrelationID)

// MaxFrameBytes bounds the body length a reader will allocate for.
const MaxFrameBytes = 1 << 26

var ErrFrameTooLarge = errors.New("wire: declared frame length exceeds limit")

type RequestHeader struct {
	MessageType   MsgType
	CorrelationID uint32
}

type ResponseHeader struct {
	MessageType   MsgType
	CorrelationID uint32
}

func (h *RequestHeader) Serialize() ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := binary.Write(buf, binary.BigEndian, h.MessageType); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.BigEndian, h.CorrelationID); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func DeserializeRequestHeader(data []byte) (*RequestHeader, error) {
	reader := bytes.NewReader(data)
	var msgType MsgType
	if err := binary.Read(reader, binary.BigEndian, &msgType); err != nil {
		return nil, err
	}
	var correlationID uint32
	if err := binary.Read(reader, binary.BigEndian, &correlationID); err != nil {
		return nil, err
	}
	return &RequestHeader{
		MessageType:   msgType,
		CorrelationID: correlationID,
	}, nil
}

func (h *ResponseHeader) Serialize() ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := binary.Write(buf, binary.BigEndian, h.MessageType); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.BigEndian, h.CorrelationID); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func DeserializeResponseHeader(data []byte) (*ResponseHeader, error) {
	reader := bytes.NewReader(data)
	var msgType MsgType
	if err := binary.Read(reader, binary.BigEndian, &msgType); err != nil {
		return nil, err
	}
	var correlationID uint32
	if err := binary.Read(reader, binary.BigEndian, &correlationID); err != nil {
		return nil, err
	}
	return &ResponseHeader{
		MessageType:   msgType,
		CorrelationID: correlationID,
	}, nil
}

// WriteFrame writes a request frame `u32 bodyLen | header | body` to w.
func WriteFrame(w io.Writer, msgType MsgType, correlationID uint32, body []byte) error {
	h := &RequestHeader{MessageType: msgType, CorrelationID: correlationID}
	headerDat, err := h.Serialize()
	if err != nil {
		return err
	}
	return writeFrame(w, headerDat, body)
}

// WriteResponseFrame writes a reply frame. The layout matches WriteFrame;
// only the header type differs.
func WriteResponseFrame(w io.Writer, msgType MsgType, correlationID uint32, body []byte) error {
	h := &ResponseHeader{MessageType: msgType, CorrelationID: correlationID}
	headerDat, err := h.Serialize()
	if err != nil {
		return err
	}
	return writeFrame(w, headerDat, body)
}

func writeFrame(w io.Writer, headerDat, body []byte) error {
	buf := &bytes.Buffer{}
	if err := binary.Write(buf, binary.BigEndian, uint32(len(body))); err != nil {
		return err
	}
	if _, err := buf.Write(headerDat); err != nil {
		return err
	}
	if _, err := buf.Write(body); err != nil {
		return err
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// ReadFrame reads one complete request frame from r. io.EOF before the first
// byte means the peer hung up cleanly and is returned untouched.
func ReadFrame(r io.Reader) (*RequestHeader, []byte, error) {
	headerBuf, body, err := readFrame(r)
	if err != nil {
		return nil, nil, err
	}
	h, err := DeserializeRequestHeader(headerBuf)
	if err != nil {
		return nil, nil, errors.Wrap(err, "deserializing frame header")
	}
	return h, body, nil
}

// ReadResponseFrame reads one complete reply frame from r.
func ReadResponseFrame(r io.Reader) (*ResponseHeader, []byte, error) {
	headerBuf, body, err := readFrame(r)
	if err != nil {
		return nil, nil, err
	}
	h, err := DeserializeResponseHeader(headerBuf)
	if err != nil {
		return nil, nil, errors.Wrap(err, "deserializing frame header")
	}
	return h, body, nil
}

func readFrame(r io.Reader) ([]byte, []byte, error) {
	lengthBuf := make([]byte, 4)
	if _, err := io.ReadFull(r, lengthBuf); err != nil {
		return nil, nil, err
	}
	bodyLen := binary.BigEndian.Uint32(lengthBuf)
	if bodyLen > MaxFrameBytes {
		return nil, nil, errors.Wrapf(ErrFrameTooLarge, "declared %d bytes", bodyLen)
	}

	headerBuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		return nil, nil, errors.Wrap(err, "reading frame header")
	}

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, nil, errors.Wrap(err, "reading frame body")
	}
	return headerBuf, body, nil
}
