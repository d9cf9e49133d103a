package partition

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenSegmentCreatesPartitionDir(t *testing.T) {
	logDir := t.TempDir()

	s, err := openSegment(logDir, "orders", 3)
	require.NoError(t, err)
	t.Cleanup(func() { s.close() })

	info, err := os.Stat(filepath.Join(logDir, "3", segmentFileName))
	require.NoError(t, err)
	assert.Zero(t, info.Size())
}

func TestSegmentAppend(t *testing.T) {
	logDir := t.TempDir()

	s, err := openSegment(logDir, "orders", 0)
	require.NoError(t, err)

	require.NoError(t, s.append([]byte("abc")))
	require.NoError(t, s.append([]byte("def")))
	require.NoError(t, s.close())

	raw, err := os.ReadFile(filepath.Join(logDir, "0", segmentFileName))
	require.NoError(t, err)
	assert.Equal(t, "abcdef", string(raw))
}

func TestSegmentAppendAfterClose(t *testing.T) {
	logDir := t.TempDir()

	s, err := openSegment(logDir, "orders", 0)
	require.NoError(t, err)
	require.NoError(t, s.close())

	assert.Error(t, s.append([]byte("too late")))
}
