// Package coordinator implements the process-wide singleton that owns
// session lifecycle, buffer rotation, persistence, and upload scheduling.
// Every mutating operation is marshaled onto a single serial worker
// goroutine; no ingress call blocks beyond enqueueing its work.
package coordinator

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/centauriapp/agentcore/internal/agentsession"
	"github.com/centauriapp/agentcore/internal/agentstate"
	"github.com/centauriapp/agentcore/internal/config"
	"github.com/centauriapp/agentcore/internal/logrecord"
	"github.com/centauriapp/agentcore/internal/transmit"
)

// Coordinator is the single point of entry for the agent core. Construct
// one via Configure; ingress methods are safe to call from any goroutine.
type Coordinator struct {
	cfg    *config.Config
	store  *agentstate.Store
	tx     *transmit.Transmitter
	logger *slog.Logger

	taggerMu sync.RWMutex
	tagger   *logrecord.Tagger

	work   chan func()
	closed chan struct{}

	// current/sessions/loggingEnabled/draining/redrainPending are only
	// ever touched from the worker goroutine, so they need no lock of
	// their own.
	current        *agentsession.Session
	sessions       map[string]*agentsession.Session
	loggingEnabled bool

	// draining/redrainPending guard against two overlapping Drain passes
	// for the same session: a Drain's begin/buffer/end hooks resolve
	// asynchronously (hopping through the transmit worker and back), so
	// a second scheduleDrain for a session already mid-drain would
	// otherwise observe the same unposted state and re-enqueue the same
	// request. Keyed by session UUID.
	draining       map[string]bool
	redrainPending map[string]bool
}

var (
	sharedMu sync.Mutex
	shared   *Coordinator
)

// Shared returns the process-wide Coordinator, or nil if Configure has
// not yet been called.
func Shared() *Coordinator {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	return shared
}

// Configure constructs the shared Coordinator instance, performing
// startup recovery before returning, and installs it as the process-wide
// instance returned by Shared. Call once at host startup, before any
// ingress call — there is deliberately no implicit lazy construction,
// since construction does I/O.
func Configure(cfg *config.Config, tx *transmit.Transmitter, logger *slog.Logger) (*Coordinator, error) {
	c, err := New(cfg, tx, logger)
	if err != nil {
		return nil, err
	}
	sharedMu.Lock()
	shared = c
	sharedMu.Unlock()
	return c, nil
}

// New builds a Coordinator without installing it as the shared instance
// — mainly useful for tests that want isolation from other packages'
// use of Shared.
func New(cfg *config.Config, tx *transmit.Transmitter, logger *slog.Logger) (*Coordinator, error) {
	store, err := agentstate.New(cfg.StateDir, logger)
	if err != nil {
		return nil, fmt.Errorf("coordinator: open state store: %w", err)
	}

	tx.SetBaseURL(baseURL(cfg))

	c := &Coordinator{
		cfg:            cfg,
		store:          store,
		tx:             tx,
		logger:         logger,
		tagger:         logrecord.NewTagger(nil),
		work:           make(chan func(), 256),
		closed:         make(chan struct{}),
		sessions:       make(map[string]*agentsession.Session),
		draining:       make(map[string]bool),
		redrainPending: make(map[string]bool),
		loggingEnabled: true,
	}

	go c.runWorker()

	done := make(chan struct{})
	c.enqueue(func() {
		c.recoverOnStartup()
		close(done)
	})
	<-done

	return c, nil
}

func baseURL(cfg *config.Config) string {
	scheme := "http"
	if cfg.UseHTTPS {
		scheme = "https"
	}
	return scheme + "://" + cfg.CollectorHost
}

// SetUserInfoAugmenter installs the host's per-record augmenter, run
// synchronously on the caller's goroutine for every Log call. It replaces
// any previously installed augmenter and is safe to call concurrently
// with Log.
func (c *Coordinator) SetUserInfoAugmenter(fn logrecord.Augmenter) {
	c.taggerMu.Lock()
	c.tagger = logrecord.NewTagger(fn)
	c.taggerMu.Unlock()
}

func (c *Coordinator) currentTagger() *logrecord.Tagger {
	c.taggerMu.RLock()
	defer c.taggerMu.RUnlock()
	return c.tagger
}

// Close stops the worker goroutine owned by this Coordinator. The
// Transmitter passed to New/Configure is not closed — callers own its
// lifecycle independently.
func (c *Coordinator) Close() {
	close(c.closed)
}

func (c *Coordinator) enqueue(fn func()) {
	select {
	case c.work <- fn:
	case <-c.closed:
	}
}

func (c *Coordinator) runWorker() {
	for {
		select {
		case fn := <-c.work:
			fn()
		case <-c.closed:
			return
		}
	}
}

// Sync blocks until every ingress call enqueued before it has been
// processed by the worker. Mainly useful for short-lived hosts (like the
// demo CLI) that need a deterministic point to read status or exit at.
func (c *Coordinator) Sync() {
	done := make(chan struct{})
	c.enqueue(func() { close(done) })
	<-done
}

// persist snapshots every known session and writes the state document.
// Called after every mutating event on the worker goroutine so a crash
// never loses more than the in-flight operation.
func (c *Coordinator) persist() {
	manifests := make([]agentstate.SessionManifest, 0, len(c.sessions))
	for _, s := range c.sessions {
		manifests = append(manifests, s.ToManifest())
	}
	if err := c.store.Save(manifests); err != nil {
		c.logger.Error("coordinator: failed to persist state", "error", err)
	}
}
