package mux

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplayBufferSnapshotIsPrefixAndIdempotent(t *testing.T) {
	rb := newReplayBuffer()
	for i := uint64(1); i <= 5; i++ {
		rb.append(OutputChunk{Seq: i, Output: "x"})
	}

	first := rb.snapshot()
	second := rb.snapshot()
	require.Equal(t, first, second, "snapshot must not mutate or remove buffered chunks")

	for i, c := range first {
		assert.Equal(t, uint64(i+1), c.Seq)
	}
}

func TestReplayBufferCapsAtReplayBufferCap(t *testing.T) {
	rb := newReplayBuffer()
	for i := 0; i < replayBufferCap+10; i++ {
		rb.append(OutputChunk{Seq: uint64(i)})
	}
	assert.Len(t, rb.snapshot(), replayBufferCap)
}

func TestOutputQueueDrainsEverythingOnce(t *testing.T) {
	q := newOutputQueue()
	q.push(OutputChunk{Seq: 1, Output: "a"})
	q.push(OutputChunk{Seq: 2, Output: "b"})

	drained := q.drain()
	require.Len(t, drained, 2)
	assert.Empty(t, q.drain(), "a second drain must return nothing new")
}

func TestOutputQueueDropsOldestOnOverflow(t *testing.T) {
	q := newOutputQueue()
	big := make([]byte, outputQueueCapBytes/2+1)
	for i := range big {
		big[i] = 'a'
	}
	q.push(OutputChunk{Seq: 1, Output: string(big)})
	q.push(OutputChunk{Seq: 2, Output: string(big)})
	q.push(OutputChunk{Seq: 3, Output: string(big)})

	drained := q.drain()
	require.NotEmpty(t, drained)
	// The oldest chunk (Seq 1) must have been evicted; the newest survives.
	assert.Equal(t, uint64(3), drained[len(drained)-1].Seq)
	for _, c := range drained {
		assert.NotEqual(t, uint64(1), c.Seq)
	}
}
