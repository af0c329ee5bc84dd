// Package agentbuf implements the append-only, file-backed log buffer
// that backs a single session. A Buffer accumulates length-prefixed
// records until frozen, at which point it becomes read-only and eligible
// for upload.
package agentbuf

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// ErrFrozen is returned by Append once the buffer has been frozen.
// Appending after freeze is a programmer error on the caller's part — the
// Buffer stays usable, the offending record is simply rejected.
var ErrFrozen = errors.New("agentbuf: append to frozen buffer")

// Manifest is the persistable snapshot of a Buffer's identity and state.
type Manifest struct {
	SequenceNumber int    `json:"sequence_number"`
	FilePath       string `json:"file_path"`
	BytesBuffered  uint64 `json:"bytes_buffered"`
	Frozen         bool   `json:"frozen"`
}

// Buffer is a single append-only record file belonging to one session. At
// most one Buffer per session is unfrozen ("the tail") at a time.
type Buffer struct {
	mu       sync.Mutex
	manifest Manifest
	file     *os.File
	logger   *slog.Logger
}

// FileName derives the on-disk file name for a session's Nth buffer. Kept
// deterministic so recovery can reassociate orphaned files with a session
// purely from its UUID and sequence number.
func FileName(sessionUUID string, sequenceNumber int) string {
	return fmt.Sprintf("%s.%06d.buf", sessionUUID, sequenceNumber)
}

// New allocates a fresh, unfrozen Buffer rooted at dir.
func New(dir, sessionUUID string, sequenceNumber int, logger *slog.Logger) *Buffer {
	return &Buffer{
		manifest: Manifest{
			SequenceNumber: sequenceNumber,
			FilePath:       filepath.Join(dir, FileName(sessionUUID, sequenceNumber)),
		},
		logger: logger,
	}
}

// FromManifest reconstructs a Buffer handle over an existing file, as done
// during startup recovery. It does not touch the file; callers that need
// an authoritative byte count after a crash should call Rescan separately.
func FromManifest(m Manifest, logger *slog.Logger) *Buffer {
	return &Buffer{manifest: m, logger: logger}
}

// Manifest returns a snapshot of the buffer's current persistable state.
func (b *Buffer) Manifest() Manifest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.manifest
}

// Append writes one length-prefixed record to the buffer file. Failures
// are logged and returned; the buffer itself remains usable for the next
// call — a single lost record does not invalidate the session.
func (b *Buffer) Append(payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.manifest.Frozen {
		b.logger.Error("agentbuf: append to frozen buffer rejected", "path", b.manifest.FilePath)
		return ErrFrozen
	}

	f, err := b.openForAppendLocked()
	if err != nil {
		b.logger.Warn("agentbuf: failed to open buffer for append", "path", b.manifest.FilePath, "error", err)
		return fmt.Errorf("agentbuf: open for append: %w", err)
	}

	frame := frame(payload)
	n, err := f.Write(frame)
	if err != nil {
		b.logger.Warn("agentbuf: buffer append failed", "path", b.manifest.FilePath, "error", err)
		return fmt.Errorf("agentbuf: write: %w", err)
	}

	b.manifest.BytesBuffered += uint64(n)
	return nil
}

// Freeze marks the buffer read-only and closes the underlying file handle.
// Idempotent.
func (b *Buffer) Freeze() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.manifest.Frozen {
		return
	}
	b.manifest.Frozen = true

	if b.file != nil {
		if err := b.file.Sync(); err != nil {
			b.logger.Warn("agentbuf: sync on freeze failed", "path", b.manifest.FilePath, "error", err)
		}
		b.file.Close()
		b.file = nil
	}
}

// OpenReadStream opens a fresh read handle over a frozen buffer's
// contents. Each call returns an independent reader positioned at the
// start of the file, so a failed upload attempt can simply call this
// again to retry rather than needing to rewind anything.
func (b *Buffer) OpenReadStream() (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.manifest.Frozen {
		return nil, errors.New("agentbuf: cannot read an unfrozen buffer")
	}

	f, err := os.Open(b.manifest.FilePath)
	if err != nil {
		return nil, fmt.Errorf("agentbuf: open for read: %w", err)
	}
	return f, nil
}

// Delete removes the buffer's backing file. Idempotent — a missing file
// is not an error.
func (b *Buffer) Delete() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.file != nil {
		b.file.Close()
		b.file = nil
	}

	if err := os.Remove(b.manifest.FilePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("agentbuf: delete: %w", err)
	}
	return nil
}

func (b *Buffer) openForAppendLocked() (*os.File, error) {
	if b.file != nil {
		return b.file, nil
	}
	f, err := os.OpenFile(b.manifest.FilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	b.file = f
	return f, nil
}

func frame(payload []byte) []byte {
	out := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(out, uint32(len(payload)))
	copy(out[4:], payload)
	return out
}

// Rescan recomputes the intact byte count of a buffer file by walking its
// length-prefixed frames from the start. A truncated trailing frame —
// the signature of a crash mid-write — is discarded along with everything
// after it; recordCount and the returned byte total cover only complete
// records. A missing file is treated as empty, not an error.
func Rescan(path string) (bytesBuffered uint64, recordCount int, err error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, 0, nil
		}
		return 0, 0, fmt.Errorf("agentbuf: rescan open: %w", err)
	}
	defer f.Close()

	prefix := make([]byte, 4)
	for {
		if _, readErr := io.ReadFull(f, prefix); readErr != nil {
			break
		}
		n := binary.BigEndian.Uint32(prefix)
		read, readErr := io.CopyN(io.Discard, f, int64(n))
		if readErr != nil || uint32(read) != n {
			break
		}
		bytesBuffered += uint64(4 + n)
		recordCount++
	}
	return bytesBuffered, recordCount, nil
}
