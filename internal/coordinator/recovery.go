package coordinator

import (
	"os"
	"time"

	"github.com/centauriapp/agentcore/internal/agentbuf"
	"github.com/centauriapp/agentcore/internal/agentsession"
	"github.com/centauriapp/agentcore/internal/agentstate"
)

// recoverOnStartup loads persisted Sessions, marks any still mid-flight
// at the last save as ended abnormally (the process that owned them
// died), rescans their tail buffers for a trustworthy byte count, and
// schedules every recovered Session for drain. Runs once, enqueued from
// New before the Coordinator is handed to the caller.
func (c *Coordinator) recoverOnStartup() {
	manifests := c.store.Load()

	for _, m := range manifests {
		s := agentsession.FromManifest(m, c.store.Dir(), c.logger)

		if s.State() == agentsession.StateActive || s.State() == agentsession.StateSuspended {
			c.recoverAbnormalTail(s, m)
			s.End(time.Now(), true)
			c.logger.Warn("coordinator: recovered abnormally terminated session", "session", s.UUID())
		}

		c.sessions[s.UUID()] = s
		c.scheduleDrain(s)
	}

	if err := c.store.SweepOrphans(manifests, os.Remove); err != nil {
		c.logger.Warn("coordinator: orphan sweep encountered errors", "error", err)
	}
}

// recoverAbnormalTail overwrites the in-memory tail buffer's manifest
// with a rescanned, trustworthy byte count and marks it frozen, since a
// crash mid-write means the persisted byte count may describe a
// truncated trailing record.
func (c *Coordinator) recoverAbnormalTail(s *agentsession.Session, m agentstate.SessionManifest) {
	if len(m.Buffers) == 0 {
		return
	}
	tail := m.Buffers[len(m.Buffers)-1]

	bytesBuffered, recordCount, err := agentbuf.Rescan(tail.FilePath)
	if err != nil {
		c.logger.Warn("coordinator: failed to rescan tail buffer during recovery",
			"session", s.UUID(), "path", tail.FilePath, "error", err)
		return
	}

	c.logger.Info("coordinator: rescanned tail buffer during recovery",
		"session", s.UUID(), "sequence", tail.SequenceNumber, "records", recordCount, "bytes", bytesBuffered)

	// The file itself may still hold a truncated trailing frame past
	// bytesBuffered; trim it so a later upload's Content-Length (built
	// from the manifest) matches what the file actually contains.
	if err := os.Truncate(tail.FilePath, int64(bytesBuffered)); err != nil {
		c.logger.Warn("coordinator: failed to truncate tail buffer to rescanned length",
			"session", s.UUID(), "path", tail.FilePath, "error", err)
	}

	s.ReplaceBufferManifest(agentbuf.Manifest{
		SequenceNumber: tail.SequenceNumber,
		FilePath:       tail.FilePath,
		BytesBuffered:  bytesBuffered,
		Frozen:         true,
	}, c.logger)
}
