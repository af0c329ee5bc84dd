package coordinator

import (
	"fmt"
	"io"
	"net/http"

	"github.com/centauriapp/agentcore/internal/agentbuf"
	"github.com/centauriapp/agentcore/internal/agentsession"
	"github.com/centauriapp/agentcore/internal/transmit"
)

// scheduleDrain runs Session.Drain on the worker goroutine. Every hook
// callback below re-enters the worker via enqueue before touching Session
// or Coordinator state, so a response arriving on the transmit worker
// always hops back onto the session worker before it mutates anything —
// the completion-hop rule this package is built around.
//
// A Drain pass spans many of these hops (one per begin/buffer/end
// request), so it is never finished by the time scheduleDrain returns.
// If another trigger (e.g. a threshold-crossing Log) calls scheduleDrain
// for the same session while a pass is still in flight, starting a
// second Drain concurrently would see the same not-yet-posted state and
// re-send the same request. Instead, a session already draining just
// records that another pass is wanted once the current one finishes.
func (c *Coordinator) scheduleDrain(s *agentsession.Session) {
	c.enqueue(func() {
		uuid := s.UUID()
		if c.draining[uuid] {
			c.redrainPending[uuid] = true
			return
		}
		c.draining[uuid] = true

		s.Drain(c.drainHooks(), func(readyForCleanup bool) {
			c.enqueue(func() {
				delete(c.draining, uuid)
				redrain := c.redrainPending[uuid]
				delete(c.redrainPending, uuid)

				if readyForCleanup && !redrain {
					delete(c.sessions, uuid)
				}
				c.persist()

				if redrain {
					c.scheduleDrain(s)
				}
			})
		})
	})
}

func (c *Coordinator) drainHooks() agentsession.DrainHooks {
	return agentsession.DrainHooks{
		EnqueueBegin: func(s *agentsession.Session, cb func(transmit.Outcome)) {
			params := map[string]any{
				"uuid":      s.UUID(),
				"app_token": s.AppToken(),
				"user_id":   s.UserID(),
				"metadata":  s.Metadata(),
			}
			err := c.tx.EnqueueJSON(http.MethodPost, "/session", params, func(o transmit.Outcome) {
				c.enqueue(func() { cb(o) })
			})
			if err != nil {
				c.logger.Error("coordinator: failed to enqueue begin request", "session", s.UUID(), "error", err)
				c.enqueue(func() { cb(transmit.PermanentFailure) })
			}
		},
		EnqueueBuffer: func(s *agentsession.Session, buf *agentbuf.Buffer, cb func(transmit.Outcome)) {
			path := fmt.Sprintf("/session/%s/log", s.UUID())
			c.tx.EnqueueStream(http.MethodPost, path, func() (io.ReadCloser, int64, error) {
				rc, err := buf.OpenReadStream()
				if err != nil {
					return nil, 0, err
				}
				return rc, int64(buf.Manifest().BytesBuffered), nil
			}, func(o transmit.Outcome) {
				c.enqueue(func() { cb(o) })
			})
		},
		EnqueueEnd: func(s *agentsession.Session, cb func(transmit.Outcome)) {
			path := fmt.Sprintf("/session/%s/end", s.UUID())
			params := map[string]any{"uuid": s.UUID()}
			err := c.tx.EnqueueJSON(http.MethodPost, path, params, func(o transmit.Outcome) {
				c.enqueue(func() { cb(o) })
			})
			if err != nil {
				c.logger.Error("coordinator: failed to enqueue end request", "session", s.UUID(), "error", err)
				c.enqueue(func() { cb(transmit.PermanentFailure) })
			}
		},
	}
}
