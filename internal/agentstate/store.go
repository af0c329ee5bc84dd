// Package agentstate persists the coordinator's session/buffer manifests
// to a single JSON document using the write-temp-then-rename pattern, so
// a crash mid-save never leaves a torn file behind.
package agentstate

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// orphanSweepConcurrency bounds how many orphan files are deleted at
// once, so a large, long-neglected state directory doesn't open
// thousands of file descriptors at startup.
const orphanSweepConcurrency = 8

// BufferManifest is the persistable snapshot of one buffer.
type BufferManifest struct {
	SequenceNumber int    `json:"sequence_number"`
	FilePath       string `json:"file_path"`
	BytesBuffered  uint64 `json:"bytes_buffered"`
	Frozen         bool   `json:"frozen"`
}

// SessionManifest is the persistable snapshot of one session and its
// buffers.
type SessionManifest struct {
	UUID     string         `json:"uuid"`
	AppToken string         `json:"app_token"`
	UserID   string         `json:"user_id,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`

	BeginDate     time.Time  `json:"begin_date"`
	LastActivity  time.Time  `json:"last_activity"`
	SuspendedDate *time.Time `json:"suspended_date,omitempty"`
	EndDate       *time.Time `json:"end_date,omitempty"`

	Invalid     bool `json:"invalid"`
	Abnormal    bool `json:"abnormal"`
	BeginPosted bool `json:"begin_posted"`
	EndPosted   bool `json:"end_posted"`

	MaximumBufferSize    uint64 `json:"maximum_buffer_size"`
	BufferSequenceNumber int    `json:"buffer_sequence_number"`

	Buffers []BufferManifest `json:"buffers,omitempty"`
}

type document struct {
	Sessions []SessionManifest `json:"sessions"`
}

const stateFileName = "state.json"

// Store manages the single on-disk state document plus the directory of
// buffer files it references.
type Store struct {
	dir    string
	path   string
	logger *slog.Logger
}

// New creates the state directory (if needed) and returns a Store rooted
// there.
func New(dir string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("agentstate: create dir: %w", err)
	}
	return &Store{dir: dir, path: filepath.Join(dir, stateFileName), logger: logger}, nil
}

// Dir returns the directory buffer files should be created under.
func (s *Store) Dir() string { return s.dir }

// Load reads the state document. A missing or corrupt document is
// treated as "no prior sessions" rather than a fatal error — a fresh
// install or a damaged disk shouldn't prevent the agent from starting.
func (s *Store) Load() []SessionManifest {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("agentstate: failed to read state document, starting empty", "error", err)
		}
		return nil
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		s.logger.Warn("agentstate: corrupt state document, starting empty", "path", s.path, "error", err)
		return nil
	}
	return doc.Sessions
}

// Save atomically replaces the state document with sessions via a
// write-to-temp-then-rename, so a crash mid-write never corrupts the
// previous, still-valid document.
func (s *Store) Save(sessions []SessionManifest) error {
	data, err := json.MarshalIndent(document{Sessions: sessions}, "", "  ")
	if err != nil {
		return fmt.Errorf("agentstate: marshal: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("agentstate: write temp: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("agentstate: rename: %w", err)
	}
	return nil
}

// SweepOrphans removes buffer files under the state directory that no
// session in sessions references. Deletions run concurrently, bounded,
// since they're independent filesystem operations with no shared state;
// any failures are aggregated rather than aborting the sweep early.
func (s *Store) SweepOrphans(sessions []SessionManifest, orphanDeleter func(path string) error) error {
	referenced := make(map[string]bool)
	for _, sess := range sessions {
		for _, b := range sess.Buffers {
			referenced[b.FilePath] = true
		}
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("agentstate: read dir: %w", err)
	}

	var (
		mu   sync.Mutex
		errs error
	)

	g := new(errgroup.Group)
	g.SetLimit(orphanSweepConcurrency)

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		full := filepath.Join(s.dir, e.Name())
		if full == s.path || strings.HasSuffix(full, ".tmp") || referenced[full] {
			continue
		}

		g.Go(func() error {
			if delErr := orphanDeleter(full); delErr != nil {
				mu.Lock()
				errs = multierr.Append(errs, fmt.Errorf("agentstate: remove orphan %s: %w", full, delErr))
				mu.Unlock()
			}
			return nil
		})
	}

	g.Wait() //nolint:errcheck // errGroup.Go here never returns non-nil; failures are aggregated via errs above
	return errs
}
