package agentsession

import (
	"log/slog"

	"github.com/centauriapp/agentcore/internal/agentbuf"
	"github.com/centauriapp/agentcore/internal/agentstate"
)

// ToManifest snapshots the session for persistence.
func (s *Session) ToManifest() agentstate.SessionManifest {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := agentstate.SessionManifest{
		UUID:                 s.uuid,
		AppToken:             s.appToken,
		UserID:               s.userID,
		Metadata:             s.metadata,
		BeginDate:            s.beginDate,
		LastActivity:         s.lastActivity,
		Invalid:              s.invalid,
		Abnormal:             s.abnormal,
		BeginPosted:          s.beginPosted,
		EndPosted:            s.endPosted,
		MaximumBufferSize:    s.maximumBufferSize,
		BufferSequenceNumber: s.bufferSequenceNumber,
	}
	if !s.suspendedDate.IsZero() {
		t := s.suspendedDate
		m.SuspendedDate = &t
	}
	if !s.endDate.IsZero() {
		t := s.endDate
		m.EndDate = &t
	}
	for _, b := range s.buffers {
		bm := b.Manifest()
		m.Buffers = append(m.Buffers, agentstate.BufferManifest{
			SequenceNumber: bm.SequenceNumber,
			FilePath:       bm.FilePath,
			BytesBuffered:  bm.BytesBuffered,
			Frozen:         bm.Frozen,
		})
	}
	return m
}

// FromManifest reconstructs a Session from a previously persisted
// manifest, as done during startup recovery. Buffer byte counts are
// taken from the manifest as-is; callers that distrust a count after an
// unclean shutdown should rescan the buffer file separately via
// agentbuf.Rescan and overwrite it before resuming uploads.
func FromManifest(m agentstate.SessionManifest, bufDir string, logger *slog.Logger) *Session {
	s := &Session{
		uuid:                 m.UUID,
		appToken:             m.AppToken,
		userID:               m.UserID,
		metadata:             m.Metadata,
		beginDate:            m.BeginDate,
		lastActivity:         m.LastActivity,
		invalid:              m.Invalid,
		abnormal:             m.Abnormal,
		beginPosted:          m.BeginPosted,
		endPosted:            m.EndPosted,
		maximumBufferSize:    m.MaximumBufferSize,
		bufferSequenceNumber: m.BufferSequenceNumber,
		bufDir:               bufDir,
		logger:               logger,
	}
	if m.SuspendedDate != nil {
		s.suspendedDate = *m.SuspendedDate
	}
	if m.EndDate != nil {
		s.endDate = *m.EndDate
	}
	for _, bm := range m.Buffers {
		s.buffers = append(s.buffers, agentbuf.FromManifest(agentbuf.Manifest{
			SequenceNumber: bm.SequenceNumber,
			FilePath:       bm.FilePath,
			BytesBuffered:  bm.BytesBuffered,
			Frozen:         bm.Frozen,
		}, logger))
	}
	return s
}

// ReplaceBufferManifest overwrites the in-memory manifest of the buffer
// with the given sequence number — used by startup recovery after an
// agentbuf.Rescan recomputes a trustworthy byte count and freezes the
// tail of an abnormally terminated session.
func (s *Session) ReplaceBufferManifest(bm agentbuf.Manifest, logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, b := range s.buffers {
		if b.Manifest().SequenceNumber == bm.SequenceNumber {
			s.buffers[i] = agentbuf.FromManifest(bm, logger)
			return
		}
	}
}
