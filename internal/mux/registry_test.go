package mux

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"termforge/internal/eventbus"
)

func newTestRegistry() *Registry {
	return NewRegistry(zap.NewNop(), eventbus.New(zap.NewNop()))
}

func TestConnectLocalSendInputAndDrainOutput(t *testing.T) {
	r := newTestRegistry()
	id := SessionID("local-1")

	require.NoError(t, r.ConnectLocal(id, LocalOptions{Cols: 80, Rows: 24}))
	defer r.Disconnect(id)

	require.NoError(t, r.SendInput(id, []byte("echo hello-termforge\n")))

	var chunks []OutputChunk
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		got, err := r.DrainOutput(id)
		require.NoError(t, err)
		chunks = append(chunks, got...)
		found := false
		for _, c := range chunks {
			if strings.Contains(c.Output, "hello-termforge") {
				found = true
				break
			}
		}
		if found {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	require.NotEmpty(t, chunks, "expected at least one output chunk from the local shell")
	assertSequenceMonotonicNoGaps(t, chunks)
}

func TestConnectWithDuplicateIDFails(t *testing.T) {
	r := newTestRegistry()
	id := SessionID("dup-1")
	require.NoError(t, r.ConnectLocal(id, LocalOptions{Cols: 80, Rows: 24}))
	defer r.Disconnect(id)

	err := r.ConnectLocal(id, LocalOptions{Cols: 80, Rows: 24})
	require.Error(t, err)
	merr, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, ErrOperationFailed, merr.Kind)
}

func TestDisconnectIsIdempotent(t *testing.T) {
	r := newTestRegistry()
	id := SessionID("idempotent-1")
	require.NoError(t, r.ConnectLocal(id, LocalOptions{Cols: 80, Rows: 24}))

	require.NoError(t, r.Disconnect(id))
	require.NoError(t, r.Disconnect(id), "a second disconnect of the same id must not error")
	require.NoError(t, r.Disconnect(SessionID("never-existed")), "disconnecting an unknown id must not error")

	assert.False(t, r.HasSession(id))
}

func TestOperationsOnUnknownSessionReturnSessionNotFound(t *testing.T) {
	r := newTestRegistry()
	id := SessionID("ghost")

	_, err := r.DrainOutput(id)
	assertSessionNotFound(t, err)

	_, err = r.GetReplay(id)
	assertSessionNotFound(t, err)

	err = r.SendInput(id, []byte("x"))
	assertSessionNotFound(t, err)

	err = r.Resize(id, ResizeRequest{Cols: 1, Rows: 1})
	assertSessionNotFound(t, err)

	err = r.Upload(id, "task", "/tmp/a", "/tmp/b")
	assertSessionNotFound(t, err)

	_, err = r.ProbePath(id)
	assertSessionNotFound(t, err)
}

func TestGetReplaySnapshotIsAPrefixOfDrainOutput(t *testing.T) {
	r := newTestRegistry()
	id := SessionID("replay-1")
	require.NoError(t, r.ConnectLocal(id, LocalOptions{Cols: 80, Rows: 24}))
	defer r.Disconnect(id)

	require.NoError(t, r.SendInput(id, []byte("echo replay-check\n")))

	deadline := time.Now().Add(5 * time.Second)
	var replay []OutputChunk
	for time.Now().Before(deadline) {
		var err error
		replay, err = r.GetReplay(id)
		require.NoError(t, err)
		if len(replay) > 0 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	require.NotEmpty(t, replay, "output produced inside the initial window must be captured for replay")
	assertSequenceMonotonicNoGaps(t, replay)

	var drained []OutputChunk
	deadline = time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) && len(drained) < len(replay) {
		got, err := r.DrainOutput(id)
		require.NoError(t, err)
		drained = append(drained, got...)
		time.Sleep(20 * time.Millisecond)
	}
	require.GreaterOrEqual(t, len(drained), len(replay))
	assert.Equal(t, replay, drained[:len(replay)], "replay must be a prefix of the drained output stream")
}

func assertSequenceMonotonicNoGaps(t *testing.T, chunks []OutputChunk) {
	t.Helper()
	for i := 1; i < len(chunks); i++ {
		assert.Equal(t, chunks[i-1].Seq+1, chunks[i].Seq, "sequence numbers must increase by exactly 1 with no gaps")
	}
	if len(chunks) > 0 {
		assert.GreaterOrEqual(t, chunks[0].Seq, uint64(1))
	}
}

func assertSessionNotFound(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
	merr, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, ErrSessionNotFound, merr.Kind)
}
