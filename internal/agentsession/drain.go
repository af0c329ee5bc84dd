package agentsession

import (
	"github.com/centauriapp/agentcore/internal/agentbuf"
	"github.com/centauriapp/agentcore/internal/transmit"
)

// DrainHooks carries the wire-format and transport knowledge that Session
// itself doesn't have: how to build and enqueue a begin/buffer/end
// request against the ingestion endpoint. Session owns ordering and
// state transitions; the coordinator package supplies these hooks so
// Session never needs to import transmit beyond the Outcome type.
type DrainHooks struct {
	EnqueueBegin  func(s *Session, callback func(transmit.Outcome))
	EnqueueBuffer func(s *Session, buf *agentbuf.Buffer, callback func(transmit.Outcome))
	EnqueueEnd    func(s *Session, callback func(transmit.Outcome))
}

// Drain enumerates frozen buffers in sequence order and hands them to
// the transmitter via hooks, posting begin/end notifications as needed.
// onDone is invoked once with whether the session is now ready for
// cleanup (no state left to persist). TemporaryFailure outcomes never
// reach here — the transmitter retries those internally and only calls
// back on Success or PermanentFailure.
func (s *Session) Drain(hooks DrainHooks, onDone func(readyForCleanup bool)) {
	if s.State() == StateInvalid {
		_ = s.DiscardAllBuffers()
		onDone(true)
		return
	}

	if s.NeedsBeginNotification() {
		hooks.EnqueueBegin(s, func(outcome transmit.Outcome) {
			switch outcome {
			case transmit.Success:
				s.MarkBeginPosted()
				s.drainBuffers(hooks, onDone)
			case transmit.PermanentFailure:
				s.Invalidate()
				_ = s.DiscardAllBuffers()
				onDone(true)
			}
		})
		return
	}

	s.drainBuffers(hooks, onDone)
}

func (s *Session) drainBuffers(hooks DrainHooks, onDone func(readyForCleanup bool)) {
	bufs := s.FrozenBuffers()

	var step func(i int)
	step = func(i int) {
		if i >= len(bufs) {
			s.drainEnd(hooks, onDone)
			return
		}
		buf := bufs[i]
		if buf.Manifest().BytesBuffered == 0 {
			// An empty buffer (e.g. a tail frozen by End before anything
			// was appended) has no file to upload; drop it without a request.
			s.RemoveBuffer(buf.Manifest().SequenceNumber)
			step(i + 1)
			return
		}
		hooks.EnqueueBuffer(s, buf, func(outcome transmit.Outcome) {
			if outcome == transmit.Success || outcome == transmit.PermanentFailure {
				s.RemoveBuffer(buf.Manifest().SequenceNumber)
			}
			step(i + 1)
		})
	}
	step(0)
}

func (s *Session) drainEnd(hooks DrainHooks, onDone func(readyForCleanup bool)) {
	if !s.NeedsEndNotification() {
		onDone(s.ReadyForCleanup())
		return
	}
	hooks.EnqueueEnd(s, func(outcome transmit.Outcome) {
		if outcome == transmit.Success {
			s.MarkEndPosted()
		}
		onDone(s.ReadyForCleanup())
	})
}
