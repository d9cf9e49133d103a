package partition

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"
)

const segmentFileName = "segment_0.log"

// segment wraps the append-only log file for one partition. A single logical
// segment per partition is enough here; rollover is handled elsewhere when it
// ever becomes necessary.
type segment struct {
	log       *os.File
	topic     string
	partition uint32
	active    bool
}

// openSegment creates {logDir}/{partition}/segment_0.log (and any missing
// parent directories) and opens it for appending.
func openSegment(logDir string, topic string, partition uint32) (*segment, error) {
	dir := filepath.Join(logDir, strconv.FormatUint(uint64(partition), 10))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "creating partition dir for %s-%d", topic, partition)
	}

	f, err := os.OpenFile(filepath.Join(dir, segmentFileName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "opening segment log for %s-%d", topic, partition)
	}

	return &segment{
		log:       f,
		topic:     topic,
		partition: partition,
		active:    true,
	}, nil
}

func (s *segment) append(b []byte) error {
	if !s.active {
		return errors.Errorf("segment not active: %s-%d", s.topic, s.partition)
	}
	if _, err := s.log.Write(b); err != nil {
		return errors.Wrapf(err, "appending to segment for %s-%d", s.topic, s.partition)
	}
	return nil
}

func (s *segment) close() error {
	s.active = false
	if err := s.log.Close(); err != nil {
		return errors.Wrapf(err, "closing segment log for %s-%d", s.topic, s.partition)
	}
	return nil
}
