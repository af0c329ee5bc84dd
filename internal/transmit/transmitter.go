// Package transmit implements the single background worker that drains an
// ordered job queue of HTTP requests against the ingestion endpoint,
// classifying failures as temporary (pause, backoff, retry at the head of
// the queue) or permanent (drop, report failure to the caller).
package transmit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
)

// Outcome is the terminal result of one transmit attempt, mirroring the
// three-way classification the ingestion endpoint's responses produce.
type Outcome int

const (
	Success Outcome = iota
	TemporaryFailure
	PermanentFailure
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case TemporaryFailure:
		return "temporary_failure"
	case PermanentFailure:
		return "permanent_failure"
	default:
		return "unknown"
	}
}

const (
	minBackoff     = 30 * time.Second
	maxBackoff     = 1 * time.Hour
	backoffJitterP = 20
)

func newBackoff() retry.Backoff {
	b := retry.NewExponential(minBackoff)
	b = retry.WithJitterPercent(backoffJitterP, b)
	b = retry.WithCappedDuration(maxBackoff, b)
	return b
}

type jobKind int

const (
	kindRequest jobKind = iota
	kindMarker
)

// job is one unit of queued work. A request job carries either a fixed
// JSON body or an openStream func invoked fresh on every attempt, so a
// retried upload reopens the (unmodified, frozen) source file rather than
// reusing an already-drained reader.
type job struct {
	kind       jobKind
	method     string
	path       string
	jsonBody   []byte
	openStream func() (io.ReadCloser, int64, error)
	callback   func(Outcome)
	markerFn   func()
	attempts   int
}

// Transmitter owns the process-wide upload queue. There is exactly one
// background goroutine draining it; all queue mutation happens under the
// mutex so pause/resume/enqueue/requeue-at-head compose safely.
type Transmitter struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending []*job
	paused  bool
	stopped bool

	baseURL string
	headers map[string]string

	client      *http.Client
	logger      *slog.Logger
	backoff     retry.Backoff
	newBackoffF func() retry.Backoff // overridable in tests for fast backoff
}

// New constructs a Transmitter and starts its background worker.
// Callers must call Close when done to stop the worker goroutine.
func New(logger *slog.Logger) *Transmitter {
	return newWithBackoffFactory(logger, newBackoff)
}

func newWithBackoffFactory(logger *slog.Logger, backoffFactory func() retry.Backoff) *Transmitter {
	t := &Transmitter{
		headers:     make(map[string]string),
		client:      &http.Client{Timeout: 60 * time.Second},
		logger:      logger,
		newBackoffF: backoffFactory,
		backoff:     backoffFactory(),
	}
	t.cond = sync.NewCond(&t.mu)
	go t.run()
	return t
}

// Close stops the background worker. Queued jobs are abandoned; their
// callbacks are never invoked.
func (t *Transmitter) Close() {
	t.mu.Lock()
	t.stopped = true
	t.cond.Broadcast()
	t.mu.Unlock()
}

// SetBaseURL updates the URL prefix applied to subsequently enqueued
// requests. Existing jobs already built are unaffected.
func (t *Transmitter) SetBaseURL(base string) {
	t.mu.Lock()
	t.baseURL = base
	t.mu.Unlock()
}

// SetHeader sets a header applied to every subsequent outgoing request.
func (t *Transmitter) SetHeader(name, value string) {
	t.mu.Lock()
	t.headers[name] = value
	t.mu.Unlock()
}

// Pause stops the worker from issuing new requests until Resume is
// called. Used by hosts that want to hold uploads during, e.g., a known
// network-unavailable period.
func (t *Transmitter) Pause() {
	t.mu.Lock()
	t.paused = true
	t.mu.Unlock()
}

// Resume releases a Pause (either host-initiated or backoff-initiated).
func (t *Transmitter) Resume() {
	t.mu.Lock()
	t.paused = false
	t.mu.Unlock()
	t.cond.Broadcast()
}

// Paused reports whether the worker is currently withholding requests.
func (t *Transmitter) Paused() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.paused
}

// EnqueueJSON appends a JSON-bodied request job to the tail of the queue.
// callback is invoked exactly once, from the worker goroutine, with the
// terminal outcome — TemporaryFailure never reaches the callback; it is
// handled internally via backoff and re-queue at the head.
func (t *Transmitter) EnqueueJSON(method, path string, params map[string]any, callback func(Outcome)) error {
	var body []byte
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("transmit: marshal params: %w", err)
		}
		body = b
	}
	t.push(&job{kind: kindRequest, method: method, path: path, jsonBody: body, callback: callback})
	return nil
}

// EnqueueStream appends a streamed-body request job. open is called fresh
// on every attempt (including retries), so it should hand back an
// independent reader over unmodified source data each time.
func (t *Transmitter) EnqueueStream(method, path string, open func() (io.ReadCloser, int64, error), callback func(Outcome)) {
	t.push(&job{kind: kindRequest, method: method, path: path, openStream: open, callback: callback})
}

// EnqueueMarker appends a no-op job whose sole purpose is to run fn once
// every job enqueued before it has resolved. Used to detect "the queue
// has drained up to this point" without polling.
func (t *Transmitter) EnqueueMarker(fn func()) {
	t.push(&job{kind: kindMarker, markerFn: fn})
}

func (t *Transmitter) push(j *job) {
	t.mu.Lock()
	t.pending = append(t.pending, j)
	t.mu.Unlock()
	t.cond.Signal()
}

func (t *Transmitter) run() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for {
		for !t.stopped && (len(t.pending) == 0 || t.paused) {
			t.cond.Wait()
		}
		if t.stopped {
			return
		}

		j := t.pending[0]
		t.pending = t.pending[1:]

		t.mu.Unlock()
		t.process(j)
		t.mu.Lock()
	}
}

func (t *Transmitter) process(j *job) {
	if j.kind == kindMarker {
		j.markerFn()
		return
	}

	outcome, err := t.attempt(j)
	switch outcome {
	case Success:
		t.onSuccess()
		j.callback(Success)
	case PermanentFailure:
		if err != nil {
			t.logger.Warn("transmit: permanent failure", "path", j.path, "error", err)
		}
		j.callback(PermanentFailure)
	case TemporaryFailure:
		t.logger.Warn("transmit: temporary failure, backing off", "path", j.path, "attempt", j.attempts, "error", err)
		t.requeueAtHeadWithBackoff(j)
	}
}

func (t *Transmitter) attempt(j *job) (Outcome, error) {
	var body io.Reader
	var length int64 = -1
	var closer io.Closer

	switch {
	case j.jsonBody != nil:
		body = bytes.NewReader(j.jsonBody)
		length = int64(len(j.jsonBody))
	case j.openStream != nil:
		rc, n, err := j.openStream()
		if err != nil {
			return TemporaryFailure, fmt.Errorf("open stream body: %w", err)
		}
		body, length, closer = rc, n, rc
	}
	if closer != nil {
		defer closer.Close()
	}

	t.mu.Lock()
	url := t.baseURL + j.path
	headers := make(map[string]string, len(t.headers))
	for k, v := range t.headers {
		headers[k] = v
	}
	t.mu.Unlock()

	req, err := http.NewRequestWithContext(context.Background(), j.method, url, body)
	if err != nil {
		return PermanentFailure, fmt.Errorf("build request: %w", err)
	}
	if length >= 0 {
		req.ContentLength = length
	}
	if j.jsonBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return TemporaryFailure, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body) //nolint:errcheck // draining for keep-alive reuse; errors don't change classification

	return classify(resp.StatusCode), nil
}

func classify(statusCode int) Outcome {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return Success
	case isRetryableStatus(statusCode):
		return TemporaryFailure
	default:
		return PermanentFailure
	}
}

// isRetryableStatus mirrors the standard "worth another attempt" set:
// request timeout, rate limiting, and 5xx server errors.
func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return true
	default:
		return code >= http.StatusInternalServerError
	}
}

func (t *Transmitter) onSuccess() {
	t.mu.Lock()
	t.backoff = t.newBackoffF()
	t.mu.Unlock()
}

func (t *Transmitter) requeueAtHeadWithBackoff(j *job) {
	j.attempts++

	t.mu.Lock()
	delay, _ := t.backoff.Next()
	t.pending = append([]*job{j}, t.pending...)
	t.paused = true
	t.mu.Unlock()

	time.AfterFunc(delay, t.Resume)
}
