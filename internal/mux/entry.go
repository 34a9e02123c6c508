package mux

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"termforge/internal/eventbus"
)

// lifecycleState models the SessionEntry transitions from §3:
// Connecting -> Running -> Terminating -> Gone.
type lifecycleState int32

const (
	stateConnecting lifecycleState = iota
	stateRunning
	stateTerminating
)

// sessionConfig is the subset of SessionEntry.config the spec calls out;
// it is descriptive only, never used to re-establish the connection.
type sessionConfig struct {
	Host     string
	Port     int
	Username string
}

// entry is the Registry's per-session value: the transport, its background
// handles, the output queue and replay buffer, and the input sink.
type entry struct {
	id     SessionID
	config sessionConfig

	transport *TransportSession

	output  *outputQueue
	replay  *replayBuffer
	input   chan InputItem
	resize  chan ResizeRequest
	nextSeq atomic.Uint64

	state      atomic.Int32
	startedAt  time.Time
	stopOnce   sync.Once
	stopCh     chan struct{}
	pumpDone   chan struct{}
	proberDone chan struct{}

	log *zap.Logger
	bus *eventbus.Bus
}

// InputItem is an opaque byte payload the UI enqueues for the shell.
type InputItem []byte

func newEntry(id SessionID, t *TransportSession, cfg sessionConfig, log *zap.Logger, bus *eventbus.Bus) *entry {
	e := &entry{
		id:         id,
		config:     cfg,
		transport:  t,
		output:     newOutputQueue(),
		replay:     newReplayBuffer(),
		input:      make(chan InputItem, 4096),
		resize:     make(chan ResizeRequest, 1),
		startedAt:  time.Now(),
		stopCh:     make(chan struct{}),
		pumpDone:   make(chan struct{}),
		proberDone: make(chan struct{}),
		log:        log.With(zap.String("session_id", string(id))),
		bus:        bus,
	}
	e.state.Store(int32(stateConnecting))
	return e
}

func (e *entry) setState(s lifecycleState) {
	e.state.Store(int32(s))
}

func (e *entry) stopped() bool {
	select {
	case <-e.stopCh:
		return true
	default:
		return false
	}
}

// markTerminating flips the stop flag exactly once. Idempotent by design so
// disconnect can be called any number of times (§4.7, testable property 5).
func (e *entry) markTerminating() {
	e.stopOnce.Do(func() {
		e.setState(stateTerminating)
		close(e.stopCh)
	})
}
