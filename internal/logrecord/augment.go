package logrecord

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
)

// Augmenter is supplied by the host application and invoked synchronously,
// on the logging call's own goroutine, to add ambient fields (user IDs,
// build numbers, whatever the host considers worth stamping on every
// entry) to fields before the record is handed off to the session worker.
//
// Augmenter must not itself log. A re-entrant call from within an
// Augmenter invocation is detected and the offending record is dropped
// rather than deadlocking or recursing.
type Augmenter func(fields map[string]any)

// Tagger runs an Augmenter under a per-goroutine re-entrancy guard and
// stamps the calling goroutine's ID into ThreadID. Safe for concurrent use
// by many caller goroutines; each gets its own reentrancy slot.
type Tagger struct {
	augment Augmenter

	mu     sync.Mutex
	active map[uint64]bool

	dropped atomic.Int64
}

func NewTagger(augment Augmenter) *Tagger {
	return &Tagger{augment: augment, active: make(map[uint64]bool)}
}

// Apply fills in ThreadID and, if an Augmenter is configured, its fields.
// It reports false if the record was dropped because the calling goroutine
// is already inside an Augmenter invocation.
func (t *Tagger) Apply(r *Record) bool {
	id := goroutineID()
	r.ThreadID = strconv.FormatUint(id, 10)

	if t.augment == nil {
		return true
	}

	t.mu.Lock()
	if t.active[id] {
		t.mu.Unlock()
		t.dropped.Add(1)
		return false
	}
	t.active[id] = true
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		delete(t.active, id)
		t.mu.Unlock()
	}()

	if r.Fields == nil {
		r.Fields = make(map[string]any)
	}
	t.augment(r.Fields)
	return true
}

// Dropped reports how many records were discarded because the Augmenter
// tried to log from inside itself.
func (t *Tagger) Dropped() int64 {
	return t.dropped.Load()
}

// goroutineID extracts the current goroutine's numeric ID by parsing the
// header line of a short stack trace. It exists solely to key the
// reentrancy guard above, not as a general-purpose identity mechanism —
// the runtime gives no supported way to ask for this directly.
func goroutineID() uint64 {
	buf := make([]byte, 64)
	buf = buf[:runtime.Stack(buf, false)]
	buf = bytes.TrimPrefix(buf, []byte("goroutine "))
	if i := bytes.IndexByte(buf, ' '); i >= 0 {
		buf = buf[:i]
	}
	id, _ := strconv.ParseUint(string(buf), 10, 64)
	return id
}
