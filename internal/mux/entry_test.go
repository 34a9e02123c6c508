package mux

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"termforge/internal/eventbus"
)

func newTestEntry(t *testing.T) *entry {
	t.Helper()
	tr := &TransportSession{}
	return newEntry(SessionID("test"), tr, sessionConfig{}, zap.NewNop(), eventbus.New(zap.NewNop()))
}

func TestMarkTerminatingIsIdempotent(t *testing.T) {
	e := newTestEntry(t)
	assert.False(t, e.stopped())

	e.markTerminating()
	assert.True(t, e.stopped())

	require.NotPanics(t, func() {
		e.markTerminating()
		e.markTerminating()
	})
	assert.True(t, e.stopped())
}

func TestResizeCoalescesToMostRecentRequest(t *testing.T) {
	e := newTestEntry(t)
	r := newTestRegistry()
	r.put(e.id, e)

	require.NoError(t, r.Resize(e.id, ResizeRequest{Cols: 80, Rows: 24}))
	select {
	case e.resize <- ResizeRequest{Cols: 100, Rows: 30}:
		t.Fatal("resize channel should already be full at capacity 1")
	default:
	}
	require.NoError(t, r.Resize(e.id, ResizeRequest{Cols: 120, Rows: 40}))

	// Registry.Resize drains the stale pending request and replaces it, so
	// only the most recent size is left for entry.drainResize to apply.
	select {
	case req := <-e.resize:
		assert.Equal(t, ResizeRequest{Cols: 120, Rows: 40}, req)
	default:
		t.Fatal("expected the buffered resize request")
	}
}
