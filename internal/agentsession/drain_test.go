package agentsession

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/centauriapp/agentcore/internal/agentbuf"
	"github.com/centauriapp/agentcore/internal/transmit"
)

func TestDrainHappyPath(t *testing.T) {
	t.Parallel()

	s := New("token", "user-1", nil, nil, 4, t.TempDir(), testLogger())
	_, err := s.BufferMessage([]byte("hello"), time.Now())
	require.NoError(t, err)
	s.End(time.Now(), false)

	var beginCalled, endCalled bool
	var bufferCalls []int

	hooks := DrainHooks{
		EnqueueBegin: func(sess *Session, cb func(transmit.Outcome)) {
			beginCalled = true
			cb(transmit.Success)
		},
		EnqueueBuffer: func(sess *Session, buf *agentbuf.Buffer, cb func(transmit.Outcome)) {
			bufferCalls = append(bufferCalls, buf.Manifest().SequenceNumber)
			cb(transmit.Success)
		},
		EnqueueEnd: func(sess *Session, cb func(transmit.Outcome)) {
			endCalled = true
			cb(transmit.Success)
		},
	}

	var ready bool
	s.Drain(hooks, func(r bool) { ready = r })

	require.True(t, beginCalled)
	require.True(t, endCalled)
	require.Equal(t, []int{1}, bufferCalls)
	require.True(t, ready)
	require.Empty(t, s.FrozenBuffers())
}

func TestDrainPermanentBeginFailureInvalidatesAndDiscards(t *testing.T) {
	t.Parallel()

	s := New("token", "user-1", nil, nil, 4, t.TempDir(), testLogger())
	_, err := s.BufferMessage([]byte("hello"), time.Now())
	require.NoError(t, err)

	var bufferCalled bool
	hooks := DrainHooks{
		EnqueueBegin: func(sess *Session, cb func(transmit.Outcome)) {
			cb(transmit.PermanentFailure)
		},
		EnqueueBuffer: func(sess *Session, buf *agentbuf.Buffer, cb func(transmit.Outcome)) {
			bufferCalled = true
			cb(transmit.Success)
		},
		EnqueueEnd: func(sess *Session, cb func(transmit.Outcome)) {
			cb(transmit.Success)
		},
	}

	var ready bool
	s.Drain(hooks, func(r bool) { ready = r })

	require.False(t, bufferCalled)
	require.True(t, ready)
	require.Equal(t, StateInvalid, s.State())
}

func TestDrainSkipsBeginWhenAlreadyPosted(t *testing.T) {
	t.Parallel()

	s := New("token", "user-1", nil, nil, 4, t.TempDir(), testLogger())
	s.MarkBeginPosted()
	_, err := s.BufferMessage([]byte("hello"), time.Now())
	require.NoError(t, err)
	s.End(time.Now(), false)
	s.MarkEndPosted()

	var beginCalled bool
	hooks := DrainHooks{
		EnqueueBegin: func(sess *Session, cb func(transmit.Outcome)) {
			beginCalled = true
			cb(transmit.Success)
		},
		EnqueueBuffer: func(sess *Session, buf *agentbuf.Buffer, cb func(transmit.Outcome)) {
			cb(transmit.Success)
		},
		EnqueueEnd: func(sess *Session, cb func(transmit.Outcome)) {
			cb(transmit.Success)
		},
	}

	var ready bool
	s.Drain(hooks, func(r bool) { ready = r })

	require.False(t, beginCalled)
	require.True(t, ready)
}
