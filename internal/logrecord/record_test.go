package logrecord

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRecordEncodeRoundTrip(t *testing.T) {
	t.Parallel()

	sev := SeverityWarning
	rec := &Record{
		Timestamp: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Severity:  &sev,
		Tags:      "network,retry",
		Message:   "connection reset",
		ThreadID:  "7",
		Fields:    map[string]any{"attempt": float64(3)},
	}

	data, err := rec.Encode()
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))

	require.Equal(t, "warning", decoded["severity"])
	require.Equal(t, "connection reset", decoded["message"])
	require.Equal(t, "network,retry", decoded["tags"])
	require.Equal(t, float64(3), decoded["fields"].(map[string]any)["attempt"])
}

func TestRecordEncodeOmitsUnsetSeverity(t *testing.T) {
	t.Parallel()

	rec := &Record{Timestamp: time.Now(), Message: "hello"}
	data, err := rec.Encode()
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	_, present := decoded["severity"]
	require.False(t, present)
}

func TestSeverityString(t *testing.T) {
	t.Parallel()

	require.Equal(t, "error", SeverityError.String())
	require.Equal(t, "debug", SeverityDebug.String())
	require.Equal(t, "unknown", Severity(99).String())
}
