package coordinator

import (
	"time"

	"github.com/centauriapp/agentcore/internal/agentsession"
	"github.com/centauriapp/agentcore/internal/logrecord"
)

const envFieldAgentKey = "_agent"

// envFields are the agent-owned session metadata entries, reserved by
// their "_" prefix (§3 binding) and stamped at session creation — the
// environment metadata collection itself (OS version, locale, hardware
// model) is a frontend concern out of scope here, so this stays minimal.
func envFields() map[string]any {
	return map[string]any{envFieldAgentKey: "agentcore"}
}

// BeginSession starts a new current Session, ending whatever session was
// already current first — a host calling beginSession twice in a row is
// not an error, just an implicit endSession of the prior one.
func (c *Coordinator) BeginSession(appToken string) {
	c.enqueue(func() {
		if c.current != nil {
			c.endSessionLocked(c.current, false)
		}
		c.startSessionLocked(appToken)
		c.persist()
	})
}

func (c *Coordinator) startSessionLocked(appToken string) {
	s := agentsession.New(appToken, c.cfg.UserID, c.cfg.SessionInfo, envFields(), c.cfg.AutoFlushThreshold, c.store.Dir(), c.logger)
	c.sessions[s.UUID()] = s
	c.current = s
	c.scheduleDrain(s)
}

func (c *Coordinator) endSessionLocked(s *agentsession.Session, abnormal bool) {
	s.End(time.Now(), abnormal)
	c.scheduleDrain(s)
	if c.current == s {
		c.current = nil
	}
}

// EndSession ends the current Session, if any, and schedules its
// remaining state for drain.
func (c *Coordinator) EndSession() {
	c.enqueue(func() {
		if c.current == nil {
			return
		}
		c.endSessionLocked(c.current, false)
		c.persist()
	})
}

// Suspend marks the current Session suspended and flushes whatever has
// accumulated so far.
func (c *Coordinator) Suspend() {
	c.enqueue(func() {
		if c.current == nil {
			return
		}
		c.current.Suspend(time.Now())
		c.flushLocked()
	})
}

// Resume continues the current Session if the idle timeout has not
// elapsed; otherwise it ends that session (its uploads are unaffected —
// they need not wait for the new session's end) and begins a fresh one
// bound to the same app token.
func (c *Coordinator) Resume() {
	c.enqueue(func() {
		if c.current == nil {
			return
		}
		prev := c.current
		if timedOut := prev.Resume(time.Now(), c.cfg.SessionIdleTimeout.Duration); timedOut {
			c.endSessionLocked(prev, false)
			c.startSessionLocked(prev.AppToken())
		}
		c.persist()
	})
}

// Flush explicitly drains every Session that has something to send:
// it freezes each live Session's tail buffer first, so a flush also
// captures whatever has accumulated below the auto-flush threshold.
func (c *Coordinator) Flush() {
	c.enqueue(c.flushLocked)
}

func (c *Coordinator) flushLocked() {
	for _, s := range c.sessions {
		s.FreezeTailAndRotate()
		if len(s.FrozenBuffers()) > 0 || s.NeedsBeginNotification() || s.NeedsEndNotification() {
			c.scheduleDrain(s)
		}
	}
	c.persist()
}

// BeginLogging resumes delivering Log records to the current Session.
// Session lifecycle events (begin/end/suspend/resume) are unaffected by
// this gate either way.
func (c *Coordinator) BeginLogging() {
	c.enqueue(func() { c.loggingEnabled = true })
}

// EndLogging discards subsequent Log calls until the next BeginLogging.
func (c *Coordinator) EndLogging() {
	c.enqueue(func() { c.loggingEnabled = false })
}

// Log tags a message with environment fields on the caller's own
// goroutine (the augmenter must never be deferred onto the worker — see
// logrecord.Tagger) and, once serialized, hands the finished record to
// the session worker for buffering. Dropped silently if logging is
// currently off or there is no current Session.
func (c *Coordinator) Log(severity *logrecord.Severity, tags, message string) {
	rec := &logrecord.Record{Timestamp: time.Now(), Severity: severity, Tags: tags, Message: message}
	if ok := c.currentTagger().Apply(rec); !ok {
		// A re-entrant call from inside the augmenter itself — drop it,
		// per logrecord.Tagger's own re-entrancy contract.
		return
	}

	payload, err := rec.Encode()
	if err != nil {
		c.logger.Error("coordinator: failed to encode log record", "error", err)
		return
	}

	c.enqueue(func() {
		if !c.loggingEnabled || c.current == nil {
			return
		}

		crossed, err := c.current.BufferMessage(payload, time.Now())
		if err != nil {
			c.logger.Warn("coordinator: failed to buffer log record", "session", c.current.UUID(), "error", err)
			return
		}
		if crossed {
			if tail := c.current.FreezeTailAndRotate(); tail != nil {
				c.scheduleDrain(c.current)
			}
		}
		c.persist()
	})
}
