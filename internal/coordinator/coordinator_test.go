package coordinator

import (
	"encoding/binary"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/centauriapp/agentcore/internal/agentsession"
	"github.com/centauriapp/agentcore/internal/config"
	"github.com/centauriapp/agentcore/internal/logrecord"
	"github.com/centauriapp/agentcore/internal/transmit"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func infoSeverity() *logrecord.Severity {
	s := logrecord.SeverityInfo
	return &s
}

// recordingServer counts requests per exact path and retains the most
// recently received body per path, always answering 2xx, so tests can
// assert on request counts and actual delivered content without
// exercising retry behavior. countSuffix/bodySuffix aggregate/look up
// across every path ending in suffix — handy for "/log" or "/end" where
// the uuid segment varies per session.
func recordingServer(t *testing.T) (srv *httptest.Server, countPath func(path string) int32, countSuffix func(suffix string) int32, bodySuffix func(suffix string) []byte) {
	t.Helper()
	var (
		mu     sync.Mutex
		counts = make(map[string]*int32)
		bodies = make(map[string][]byte)
	)

	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		if counts[r.URL.Path] == nil {
			var n int32
			counts[r.URL.Path] = &n
		}
		atomic.AddInt32(counts[r.URL.Path], 1)
		bodies[r.URL.Path] = body
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	countPath = func(path string) int32 {
		mu.Lock()
		defer mu.Unlock()
		if counts[path] == nil {
			return 0
		}
		return atomic.LoadInt32(counts[path])
	}
	countSuffix = func(suffix string) int32 {
		mu.Lock()
		defer mu.Unlock()
		var total int32
		for k, v := range counts {
			if strings.HasSuffix(k, suffix) {
				total += atomic.LoadInt32(v)
			}
		}
		return total
	}
	bodySuffix = func(suffix string) []byte {
		mu.Lock()
		defer mu.Unlock()
		for k, b := range bodies {
			if strings.HasSuffix(k, suffix) {
				return b
			}
		}
		return nil
	}
	return srv, countPath, countSuffix, bodySuffix
}

func testConfig(t *testing.T, srv *httptest.Server) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.StateDir = t.TempDir()
	cfg.AutoFlushThreshold = 1024
	cfg.CollectorHost = strings.TrimPrefix(srv.URL, "http://")
	cfg.SessionIdleTimeout = config.Duration{Duration: 5 * time.Second}
	return cfg
}

func newTestCoordinator(t *testing.T, cfg *config.Config) *Coordinator {
	t.Helper()
	tx := transmit.New(testLogger())
	c, err := New(cfg, tx, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() {
		c.Close()
		tx.Close()
	})
	return c
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func TestHappyPathBeginLogEnd(t *testing.T) {
	t.Parallel()

	srv, countPath, countSuffix, bodySuffix := recordingServer(t)
	cfg := testConfig(t, srv)
	c := newTestCoordinator(t, cfg)

	c.BeginSession("APP")
	c.BeginLogging()
	c.Sync()

	for i := 0; i < 10; i++ {
		c.Log(infoSeverity(), "", "hello")
	}
	c.Sync()

	c.EndSession()
	c.Sync()

	waitUntil(t, func() bool { return len(c.Snapshot()) == 0 })

	require.EqualValues(t, 1, countPath("/session"))
	require.EqualValues(t, 1, countSuffix("/log"))
	require.EqualValues(t, 1, countSuffix("/end"))

	logBody := bodySuffix("/log")
	require.NotEmpty(t, logBody, "buffered log upload body must not be empty")
	require.Contains(t, string(logBody), "hello")
}

func TestThresholdCrossingRotatesBuffers(t *testing.T) {
	t.Parallel()

	srv, _, countSuffix, _ := recordingServer(t)
	cfg := testConfig(t, srv)
	cfg.AutoFlushThreshold = 256
	c := newTestCoordinator(t, cfg)

	c.BeginSession("APP")
	c.Sync()

	big := strings.Repeat("x", 100)
	for i := 0; i < 20; i++ {
		c.Log(infoSeverity(), "", big)
	}
	c.Sync()

	c.EndSession()
	c.Sync()

	waitUntil(t, func() bool { return len(c.Snapshot()) == 0 })
	require.GreaterOrEqual(t, countSuffix("/log"), int32(2))
}

func TestSuspendResumeWithinTimeoutKeepsUUID(t *testing.T) {
	t.Parallel()

	srv, _, _, _ := recordingServer(t)
	cfg := testConfig(t, srv)
	cfg.SessionIdleTimeout = config.Duration{Duration: time.Hour}
	c := newTestCoordinator(t, cfg)

	c.BeginSession("APP")
	c.Sync()

	var uuid string
	for _, s := range c.Snapshot() {
		if s.Current {
			uuid = s.UUID
		}
	}
	require.NotEmpty(t, uuid)

	c.Suspend()
	c.Resume()
	c.Sync()

	var after string
	for _, s := range c.Snapshot() {
		if s.Current {
			after = s.UUID
		}
	}
	require.Equal(t, uuid, after)
}

func TestSuspendResumeOverTimeoutStartsNewSession(t *testing.T) {
	t.Parallel()

	srv, _, _, _ := recordingServer(t)
	cfg := testConfig(t, srv)
	cfg.SessionIdleTimeout = config.Duration{Duration: 10 * time.Millisecond}
	c := newTestCoordinator(t, cfg)

	c.BeginSession("APP")
	c.Sync()

	var uuid string
	for _, s := range c.Snapshot() {
		if s.Current {
			uuid = s.UUID
		}
	}

	c.Suspend()
	c.Sync()
	time.Sleep(50 * time.Millisecond)
	c.Resume()
	c.Sync()

	var after string
	var total int
	for _, s := range c.Snapshot() {
		total++
		if s.Current {
			after = s.UUID
		}
	}
	require.NotEqual(t, uuid, after)
	require.Equal(t, 2, total)
}

func TestBeginSessionWhileOneCurrentEndsThePrior(t *testing.T) {
	t.Parallel()

	srv, _, _, _ := recordingServer(t)
	cfg := testConfig(t, srv)
	c := newTestCoordinator(t, cfg)

	c.BeginSession("A")
	c.Sync()
	var first string
	for _, s := range c.Snapshot() {
		if s.Current {
			first = s.UUID
		}
	}

	c.BeginSession("B")
	c.Sync()

	foundFirstEnded := false
	var second string
	for _, s := range c.Snapshot() {
		if s.UUID == first {
			require.Equal(t, agentsession.StateEnded.String(), s.State)
			foundFirstEnded = true
		}
		if s.Current {
			second = s.UUID
		}
	}
	require.True(t, foundFirstEnded)
	require.NotEqual(t, first, second)
}

func TestTemporaryFailureRetriesThenDelivers(t *testing.T) {
	t.Parallel()

	var logAttempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body) //nolint:errcheck
		if strings.Contains(r.URL.Path, "/log") && logAttempts.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	cfg := config.DefaultConfig()
	cfg.StateDir = t.TempDir()
	cfg.AutoFlushThreshold = 1
	cfg.CollectorHost = strings.TrimPrefix(srv.URL, "http://")

	tx := transmit.New(testLogger())
	c, err := New(cfg, tx, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close(); tx.Close() })

	c.BeginSession("APP")
	c.Sync()
	c.Log(infoSeverity(), "", "x")
	c.Sync()
	c.EndSession()
	c.Sync()

	// The 503 pauses the transmitter for its production backoff (30s
	// minimum); release the pause by hand instead of waiting it out.
	waitUntil(t, tx.Paused)
	tx.Resume()

	waitUntil(t, func() bool { return len(c.Snapshot()) == 0 })
	require.GreaterOrEqual(t, logAttempts.Load(), int32(2))
}

func TestRecoveryEndsAbnormalSessionAndDrains(t *testing.T) {
	t.Parallel()

	srv, countPath, countSuffix, _ := recordingServer(t)
	cfg := testConfig(t, srv)
	stateDir := cfg.StateDir

	// Simulate a prior process that began a session, buffered one record
	// into its tail buffer, and then crashed mid-write — no end_posted,
	// no clean end_date, and a truncated trailing frame on disk.
	bufPath := filepath.Join(stateDir, "deadbeef-0000.000001.buf")
	writeTornBuffer(t, bufPath)

	doc := map[string]any{
		"sessions": []map[string]any{
			{
				"uuid":                   "deadbeef-0000",
				"app_token":              "APP",
				"begin_date":             time.Now().Add(-time.Minute),
				"last_activity":          time.Now().Add(-time.Minute),
				"invalid":                false,
				"abnormal":               false,
				"begin_posted":           true,
				"end_posted":             false,
				"maximum_buffer_size":    1024,
				"buffer_sequence_number": 1,
				"buffers": []map[string]any{
					{"sequence_number": 1, "file_path": bufPath, "bytes_buffered": 999, "frozen": false},
				},
			},
		},
	}
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(stateDir, "state.json"), data, 0o600))

	c := newTestCoordinator(t, cfg)

	waitUntil(t, func() bool { return len(c.Snapshot()) == 0 })
	require.GreaterOrEqual(t, countSuffix("/log"), int32(1))
	require.GreaterOrEqual(t, countSuffix("/end"), int32(1))
	require.EqualValues(t, 0, countPath("/session")) // begin already posted, never resent
}

func writeTornBuffer(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o700))

	var buf []byte
	record := []byte(`{"message":"intact"}`)
	prefix := make([]byte, 4)
	binary.BigEndian.PutUint32(prefix, uint32(len(record)))
	buf = append(buf, prefix...)
	buf = append(buf, record...)

	// Append a truncated trailing frame: a length prefix promising more
	// bytes than follow, simulating a crash mid-write.
	prefix2 := make([]byte, 4)
	binary.BigEndian.PutUint32(prefix2, 50)
	buf = append(buf, prefix2...)
	buf = append(buf, []byte("short")...)

	require.NoError(t, os.WriteFile(path, buf, 0o600))
}
