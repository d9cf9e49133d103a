package protocol

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"
)

// Batch framing, all integers big-endian:
//
//	u32 bodyLen | u32 recordCount | records...
//
// and per record:
//
//	u32 payloadLen | payload |
//	u8 keyMarker | [u32 keyLen | key] |
//	u8 tsMarker  | [u64 timestamp]
//
// bodyLen counts every byte after the length field itself, so batches are
// self-delimiting and can be concatenated back-to-back in a segment file
// with no separators.

const (
	markerAbsent  byte = 0
	markerPresent byte = 1

	// MaxBatchBytes bounds the declared body length a decoder will wait
	// for. Anything larger is treated as corrupt framing rather than
	// "need more input".
	MaxBatchBytes = 1 << 26
)

var (
	ErrEmptyBatch     = errors.New("protocol: cannot encode empty batch")
	ErrMalformedBatch = errors.New("protocol: malformed batch framing")
)

// EncodeBatch produces the self-delimiting binary form of b. Encoding is
// deterministic: the same batch always yields identical bytes.
func EncodeBatch(b *Batch) ([]byte, error) {
	if len(b.Records) == 0 {
		return nil, ErrEmptyBatch
	}

	body := make([]byte, 0, 64*len(b.Records))
	body = binary.BigEndian.AppendUint32(body, uint32(len(b.Records)))
	for _, m := range b.Records {
		body = binary.BigEndian.AppendUint32(body, uint32(len(m.Payload)))
		body = append(body, m.Payload...)

		if m.HasKey() {
			body = append(body, markerPresent)
			body = binary.BigEndian.AppendUint32(body, uint32(len(m.Key)))
			body = append(body, m.Key...)
		} else {
			body = append(body, markerAbsent)
		}

		if m.HasTimestamp() {
			body = append(body, markerPresent)
			body = binary.BigEndian.AppendUint64(body, uint64(m.Timestamp))
		} else {
			body = append(body, markerAbsent)
		}
	}

	out := make([]byte, 0, 4+len(body))
	out = binary.BigEndian.AppendUint32(out, uint32(len(body)))
	out = append(out, body...)
	return out, nil
}

// DecodeBatch consumes exactly one encoded batch from the front of buf and
// returns it. When buf holds fewer bytes than one complete batch it returns
// (nil, nil) and consumes nothing, so a caller tailing a growing segment can
// simply retry after more bytes arrive. A non-nil error means the framing is
// internally inconsistent, not merely short.
func DecodeBatch(buf *bytes.Buffer) (*Batch, error) {
	raw := buf.Bytes()
	if len(raw) < 4 {
		return nil, nil
	}
	bodyLen := binary.BigEndian.Uint32(raw[:4])
	if bodyLen > MaxBatchBytes {
		return nil, errors.Wrapf(ErrMalformedBatch, "declared body length %d exceeds limit", bodyLen)
	}
	if len(raw) < 4+int(bodyLen) {
		return nil, nil
	}

	b, err := decodeBody(raw[4 : 4+bodyLen])
	if err != nil {
		return nil, err
	}
	buf.Next(4 + int(bodyLen))
	return b, nil
}

func decodeBody(body []byte) (*Batch, error) {
	pos := 0
	take := func(n int) ([]byte, error) {
		if len(body)-pos < n {
			return nil, errors.Wrapf(ErrMalformedBatch, "record data overruns declared body length %d", len(body))
		}
		out := body[pos : pos+n]
		pos += n
		return out, nil
	}

	countBytes, err := take(4)
	if err != nil {
		return nil, err
	}
	count := binary.BigEndian.Uint32(countBytes)
	if count == 0 {
		return nil, errors.Wrap(ErrMalformedBatch, "batch declares zero records")
	}
	// the smallest encoded record is 6 bytes (payload length plus two
	// markers), so a count the body cannot possibly hold is corrupt framing,
	// not a reason to allocate
	if uint64(count) > uint64(len(body)-pos)/6 {
		return nil, errors.Wrapf(ErrMalformedBatch, "declared record count %d exceeds body capacity", count)
	}

	records := make([]Message, 0, count)
	for i := uint32(0); i < count; i++ {
		var m Message

		lenBytes, err := take(4)
		if err != nil {
			return nil, err
		}
		payload, err := take(int(binary.BigEndian.Uint32(lenBytes)))
		if err != nil {
			return nil, err
		}
		m.Payload = append([]byte(nil), payload...)

		marker, err := take(1)
		if err != nil {
			return nil, err
		}
		switch marker[0] {
		case markerPresent:
			lenBytes, err := take(4)
			if err != nil {
				return nil, err
			}
			key, err := take(int(binary.BigEndian.Uint32(lenBytes)))
			if err != nil {
				return nil, err
			}
			m.Key = string(key)
		case markerAbsent:
		default:
			return nil, errors.Wrapf(ErrMalformedBatch, "invalid key marker %#x in record %d", marker[0], i)
		}

		marker, err = take(1)
		if err != nil {
			return nil, err
		}
		switch marker[0] {
		case markerPresent:
			tsBytes, err := take(8)
			if err != nil {
				return nil, err
			}
			m.Timestamp = int64(binary.BigEndian.Uint64(tsBytes))
		case markerAbsent:
		default:
			return nil, errors.Wrapf(ErrMalformedBatch, "invalid timestamp marker %#x in record %d", marker[0], i)
		}

		records = append(records, m)
	}

	if pos != len(body) {
		return nil, errors.Wrapf(ErrMalformedBatch, "%d trailing bytes after last record", len(body)-pos)
	}
	return &Batch{Records: records}, nil
}
