package coordinator

import "github.com/centauriapp/agentcore/internal/agentsession"

// SessionSnapshot is a read-only view of one tracked Session, for status
// reporting hosts (the demo CLI's `status` command).
type SessionSnapshot struct {
	UUID               string
	AppToken           string
	State              string
	Current            bool
	FrozenBuffers      int
	FrozenBytesPending uint64
	BeginPosted        bool
	EndPosted          bool
	PendingUploads     bool
}

// Snapshot reports the current state of every tracked Session. Safe to
// call from any goroutine; blocks briefly for the worker to respond.
func (c *Coordinator) Snapshot() []SessionSnapshot {
	result := make(chan []SessionSnapshot, 1)
	c.enqueue(func() {
		out := make([]SessionSnapshot, 0, len(c.sessions))
		for _, s := range c.sessions {
			frozen := s.FrozenBuffers()
			var pendingBytes uint64
			for _, b := range frozen {
				pendingBytes += b.Manifest().BytesBuffered
			}
			out = append(out, SessionSnapshot{
				UUID:               s.UUID(),
				AppToken:           s.AppToken(),
				State:              s.State().String(),
				Current:            s == c.current,
				FrozenBuffers:      len(frozen),
				FrozenBytesPending: pendingBytes,
				BeginPosted:        !s.NeedsBeginNotification() || s.State() == agentsession.StateInvalid,
				EndPosted:          !s.NeedsEndNotification(),
				PendingUploads:     len(frozen) > 0,
			})
		}
		result <- out
	})
	return <-result
}
