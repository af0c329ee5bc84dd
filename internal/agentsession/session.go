// Package agentsession implements the session state machine: a bounded
// run of logging activity identified by a UUID, backed by an ordered
// chain of append-only buffers. All mutation here is expected to run on
// a single serial worker goroutine owned by the coordinator package —
// Session itself does no internal locking beyond what's needed to let
// ToManifest() be read from elsewhere for diagnostics.
package agentsession

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/centauriapp/agentcore/internal/agentbuf"
)

// State is the session's lifecycle position, derived from its flags
// rather than stored directly so there is exactly one source of truth.
type State int

const (
	StateActive State = iota
	StateSuspended
	StateEnded
	StateInvalid
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateSuspended:
		return "suspended"
	case StateEnded:
		return "ended"
	case StateInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Session is one bounded run of logging activity. Keys in Metadata that
// begin with "_" are reserved for environment fields the coordinator
// stamps in at creation time; host-supplied session info may not
// overwrite them once set.
type Session struct {
	mu sync.Mutex

	uuid     string
	appToken string
	userID   string
	metadata map[string]any

	beginDate     time.Time
	lastActivity  time.Time
	suspendedDate time.Time // zero value: not currently suspended
	endDate       time.Time

	invalid     bool
	abnormal    bool
	beginPosted bool
	endPosted   bool

	maximumBufferSize    uint64
	bufferSequenceNumber int

	buffers []*agentbuf.Buffer // ordered oldest-to-newest; last is the tail unless ended
	bufDir  string
	logger  *slog.Logger
}

const reservedFieldPrefix = "_"

// mergeMetadata copies sessionInfo and then unconditionally overlays
// envFields on top — envFields is agent-owned and every key in it is
// expected to carry the reserved "_" prefix.
func mergeMetadata(sessionInfo, envFields map[string]any) map[string]any {
	merged := make(map[string]any, len(sessionInfo)+len(envFields))
	for k, v := range sessionInfo {
		merged[k] = v
	}
	for k, v := range envFields {
		merged[k] = v
	}
	return merged
}

// New begins a fresh session with a newly allocated UUID and a single
// empty tail buffer.
func New(appToken, userID string, sessionInfo, envFields map[string]any, maximumBufferSize uint64, bufDir string, logger *slog.Logger) *Session {
	now := time.Now()
	s := &Session{
		uuid:                 uuid.NewString(),
		appToken:             appToken,
		userID:               userID,
		metadata:             mergeMetadata(sessionInfo, envFields),
		beginDate:            now,
		lastActivity:         now,
		maximumBufferSize:    maximumBufferSize,
		bufferSequenceNumber: 1,
		bufDir:               bufDir,
		logger:               logger,
	}
	s.buffers = []*agentbuf.Buffer{agentbuf.New(bufDir, s.uuid, 1, logger)}
	return s
}

func (s *Session) UUID() string     { return s.uuid }
func (s *Session) AppToken() string { return s.appToken }
func (s *Session) UserID() string   { return s.userID }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

func (s *Session) stateLocked() State {
	switch {
	case s.invalid:
		return StateInvalid
	case !s.endDate.IsZero():
		return StateEnded
	case !s.suspendedDate.IsZero():
		return StateSuspended
	default:
		return StateActive
	}
}

// Duration reports wall-clock time since the session began.
func (s *Session) Duration(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.beginDate)
}

// IdleSeconds reports how long the session has been suspended, or zero
// if it isn't currently suspended.
func (s *Session) IdleSeconds(now time.Time) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.suspendedDate.IsZero() {
		return 0
	}
	return now.Sub(s.suspendedDate).Seconds()
}

// BufferMessage appends an already-serialized record to the tail buffer
// and reports whether the tail has crossed the auto-flush threshold —
// the coordinator should call FreezeTailAndRotate when true.
func (s *Session) BufferMessage(payload []byte, now time.Time) (thresholdCrossed bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stateLocked() != StateActive {
		return false, fmt.Errorf("agentsession: cannot buffer message into %s session", s.stateLocked())
	}

	s.lastActivity = now
	tail := s.buffers[len(s.buffers)-1]
	if err := tail.Append(payload); err != nil {
		return false, err
	}

	return tail.Manifest().BytesBuffered >= s.maximumBufferSize, nil
}

// FreezeTailAndRotate freezes the current tail buffer and starts a new
// one, returning the frozen buffer so the caller can schedule it for
// upload. Safe to call even if the tail is already below threshold (e.g.
// an explicit flush).
func (s *Session) FreezeTailAndRotate() *agentbuf.Buffer {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st := s.stateLocked(); st == StateEnded || st == StateInvalid || len(s.buffers) == 0 {
		return nil // ended and invalid sessions get no new tail
	}
	tail := s.buffers[len(s.buffers)-1]
	if tail.Manifest().BytesBuffered == 0 && !tail.Manifest().Frozen {
		return nil // nothing accumulated yet; not worth rotating
	}
	tail.Freeze()

	s.bufferSequenceNumber++
	next := agentbuf.New(s.bufDir, s.uuid, s.bufferSequenceNumber, s.logger)
	s.buffers = append(s.buffers, next)

	return tail
}

// Suspend transitions Active -> Suspended, recording the suspension time
// used by IdleSeconds and a later Resume's timeout check.
func (s *Session) Suspend(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stateLocked() != StateActive {
		return
	}
	s.suspendedDate = now
}

// Resume transitions Suspended -> Active if the idle timeout has not
// elapsed. It reports true if the timeout was exceeded instead — the
// caller must then End this session and begin a new one.
func (s *Session) Resume(now time.Time, idleTimeout time.Duration) (timedOut bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stateLocked() != StateSuspended {
		return false
	}
	if now.Sub(s.suspendedDate) > idleTimeout {
		return true
	}
	s.suspendedDate = time.Time{}
	s.lastActivity = now
	return false
}

// End transitions to Ended. abnormal marks a session recovered at
// startup with no matching clean shutdown, rather than an explicit call.
func (s *Session) End(now time.Time, abnormal bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stateLocked() == StateEnded || s.stateLocked() == StateInvalid {
		return
	}
	s.endDate = now
	s.abnormal = abnormal
	if len(s.buffers) > 0 {
		s.buffers[len(s.buffers)-1].Freeze()
	}
}

// Invalidate marks the session permanently unrecoverable — e.g. its
// begin notification was permanently rejected by the server. All
// buffered data for an invalid session is discarded, never retried.
func (s *Session) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invalid = true
}

func (s *Session) MarkBeginPosted() {
	s.mu.Lock()
	s.beginPosted = true
	s.mu.Unlock()
}

func (s *Session) MarkEndPosted() {
	s.mu.Lock()
	s.endPosted = true
	s.mu.Unlock()
}

// NeedsBeginNotification reports whether the begin-session request still
// needs to be sent.
func (s *Session) NeedsBeginNotification() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.beginPosted && !s.invalid
}

// NeedsEndNotification reports whether the end-session request still
// needs to be sent.
func (s *Session) NeedsEndNotification() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked() == StateEnded && !s.endPosted
}

// FrozenBuffers returns frozen buffers in sequence order, eligible for
// upload.
func (s *Session) FrozenBuffers() []*agentbuf.Buffer {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*agentbuf.Buffer
	for _, b := range s.buffers {
		if b.Manifest().Frozen {
			out = append(out, b)
		}
	}
	return out
}

// RemoveBuffer drops a buffer (after its upload has resolved, success or
// permanent failure) from tracking and deletes its backing file.
func (s *Session) RemoveBuffer(sequenceNumber int) {
	s.mu.Lock()
	var target *agentbuf.Buffer
	kept := s.buffers[:0]
	for _, b := range s.buffers {
		if b.Manifest().SequenceNumber == sequenceNumber {
			target = b
			continue
		}
		kept = append(kept, b)
	}
	s.buffers = kept
	s.mu.Unlock()

	if target != nil {
		if err := target.Delete(); err != nil {
			s.logger.Warn("agentsession: failed to delete buffer file", "session", s.uuid, "error", err)
		}
	}
}

// ReadyForCleanup reports whether the session has nothing left to do:
// its lifecycle notifications have posted (or it's invalid) and no
// buffers remain.
func (s *Session) ReadyForCleanup() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buffers) > 0 {
		return false
	}
	if s.invalid {
		return true
	}
	return s.beginPosted && s.endPosted
}

// DiscardAllBuffers drops and deletes every remaining buffer without
// uploading them — used once a session has been invalidated.
func (s *Session) DiscardAllBuffers() error {
	s.mu.Lock()
	toDelete := s.buffers
	s.buffers = nil
	s.mu.Unlock()

	var errs error
	for _, b := range toDelete {
		if err := b.Delete(); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

// Metadata returns the merged, immutable session metadata.
func (s *Session) Metadata() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]any, len(s.metadata))
	for k, v := range s.metadata {
		out[k] = v
	}
	return out
}
