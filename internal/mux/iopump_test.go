package mux

import (
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"termforge/internal/eventbus"
)

// newPipeBackedEntry wires an entry's transport to an io.Pipe so tests can
// drive the shell's "output" deterministically without spawning a real PTY.
func newPipeBackedEntry(t *testing.T) (*entry, *io.PipeWriter) {
	t.Helper()
	pr, pw := io.Pipe()
	tr := &TransportSession{
		kind: transportLocal,
		shell: shellChannel{
			Writer: io.Discard,
			resize: func(cols, rows uint32) error { return nil },
			close:  func() error { return pr.Close() },
		},
	}
	tr.reader = newShellReader(pr)

	e := newEntry(SessionID("pipe-entry"), tr, sessionConfig{}, zap.NewNop(), eventbus.New(zap.NewNop()))
	return e, pw
}

func waitForChunks(t *testing.T, e *entry, n int, timeout time.Duration) []OutputChunk {
	t.Helper()
	deadline := time.Now().Add(timeout)
	var drained []OutputChunk
	for time.Now().Before(deadline) {
		drained = append(drained, e.output.drain()...)
		if len(drained) >= n {
			return drained
		}
		time.Sleep(5 * time.Millisecond)
	}
	return drained
}

func TestIOPumpFlushesOnTimeThresholdInInitialRegime(t *testing.T) {
	e, pw := newPipeBackedEntry(t)
	go e.runIOPump()
	defer func() {
		e.markTerminating()
		pw.Close()
		<-e.pumpDone
	}()

	_, err := pw.Write([]byte("short"))
	require.NoError(t, err)

	chunks := waitForChunks(t, e, 1, 2*time.Second)
	require.Len(t, chunks, 1)
	assert.Equal(t, "short", chunks[0].Output)
	assert.Equal(t, uint64(1), chunks[0].Seq)
}

func TestIOPumpFlushesImmediatelyOnSizeThreshold(t *testing.T) {
	e, pw := newPipeBackedEntry(t)
	go e.runIOPump()
	defer func() {
		e.markTerminating()
		pw.Close()
		<-e.pumpDone
	}()

	payload := strings.Repeat("x", initialSizeThreshold+1)
	start := time.Now()
	_, err := pw.Write([]byte(payload))
	require.NoError(t, err)

	chunks := waitForChunks(t, e, 1, 1*time.Second)
	require.Len(t, chunks, 1)
	assert.Less(t, time.Since(start), initialTimeThreshold, "a size-threshold flush should not wait for the time threshold")
	assert.Equal(t, payload, chunks[0].Output)
}

func TestIOPumpSequenceIsMonotonicAcrossMultipleChunks(t *testing.T) {
	e, pw := newPipeBackedEntry(t)
	go e.runIOPump()
	defer func() {
		e.markTerminating()
		pw.Close()
		<-e.pumpDone
	}()

	for i := 0; i < 3; i++ {
		_, err := pw.Write([]byte(strings.Repeat("y", initialSizeThreshold+1)))
		require.NoError(t, err)
	}

	chunks := waitForChunks(t, e, 3, 2*time.Second)
	require.GreaterOrEqual(t, len(chunks), 3)
	assertSequenceMonotonicNoGaps(t, chunks)
}

func TestIOPumpCapturesReplayDuringInitialWindowOnly(t *testing.T) {
	e, pw := newPipeBackedEntry(t)
	go e.runIOPump()
	defer func() {
		e.markTerminating()
		pw.Close()
		<-e.pumpDone
	}()

	_, err := pw.Write([]byte(strings.Repeat("z", initialSizeThreshold+1)))
	require.NoError(t, err)
	waitForChunks(t, e, 1, 1*time.Second)

	replay := e.replay.snapshot()
	require.NotEmpty(t, replay, "chunks emitted inside the initial window must be captured for replay")

	// Once the window has closed, newly emitted chunks are not captured.
	time.Sleep(time.Until(e.startedAt.Add(initialWindow)) + 50*time.Millisecond)
	_, err = pw.Write([]byte("after-window"))
	require.NoError(t, err)
	require.NotEmpty(t, waitForChunks(t, e, 1, 1*time.Second))
	assert.Len(t, e.replay.snapshot(), len(replay), "chunks emitted after the initial window must not be captured for replay")
}
