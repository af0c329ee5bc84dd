package agentbuf

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBufferAppendAndReadBack(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	buf := New(dir, "session-1", 1, testLogger())

	require.NoError(t, buf.Append([]byte("first")))
	require.NoError(t, buf.Append([]byte("second")))
	require.Equal(t, uint64(4+5+4+6), buf.Manifest().BytesBuffered)

	buf.Freeze()
	require.True(t, buf.Manifest().Frozen)

	rc, err := buf.OpenReadStream()
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, uint64(len(data)), buf.Manifest().BytesBuffered)
}

func TestBufferAppendAfterFreezeFails(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	buf := New(dir, "session-1", 1, testLogger())
	buf.Freeze()

	err := buf.Append([]byte("too late"))
	require.ErrorIs(t, err, ErrFrozen)
}

func TestBufferOpenReadStreamReusableAcrossRetries(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	buf := New(dir, "session-1", 1, testLogger())
	require.NoError(t, buf.Append([]byte("payload")))
	buf.Freeze()

	for i := 0; i < 3; i++ {
		rc, err := buf.OpenReadStream()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.Equal(t, "payload", string(data[4:]))
		rc.Close()
	}
}

func TestBufferOpenReadStreamRejectsUnfrozen(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	buf := New(dir, "session-1", 1, testLogger())
	_, err := buf.OpenReadStream()
	require.Error(t, err)
}

func TestBufferDeleteIdempotent(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	buf := New(dir, "session-1", 1, testLogger())
	require.NoError(t, buf.Append([]byte("x")))
	require.NoError(t, buf.Delete())
	require.NoError(t, buf.Delete())
}

func TestRescanDiscardsTruncatedTrailingRecord(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "truncated.buf")
	buf := FromManifest(Manifest{FilePath: path}, testLogger())
	require.NoError(t, buf.Append([]byte("complete-one")))
	require.NoError(t, buf.Append([]byte("complete-two")))
	buf.Freeze()

	full, err := os.ReadFile(path)
	require.NoError(t, err)

	// Simulate a crash mid-write: chop off the tail of the second frame.
	truncated := full[:len(full)-3]
	require.NoError(t, os.WriteFile(path, truncated, 0o600))

	bytesBuffered, count, err := Rescan(path)
	require.NoError(t, err)
	require.Equal(t, 1, count)
	require.Equal(t, uint64(4+len("complete-one")), bytesBuffered)
}

func TestRescanMissingFileIsEmpty(t *testing.T) {
	t.Parallel()

	bytesBuffered, count, err := Rescan(filepath.Join(t.TempDir(), "missing.buf"))
	require.NoError(t, err)
	require.Zero(t, bytesBuffered)
	require.Zero(t, count)
}
