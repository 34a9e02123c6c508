package mux

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"termforge/internal/eventbus"
	"termforge/internal/metrics"
)

// Registry is the Session Registry from §4.1: the single process-wide table
// of live sessions. The map itself is guarded by mu, a many-reader/
// single-writer lock; mu is never held while an entry performs I/O, only
// while the map is being read or mutated.
type Registry struct {
	mu       sync.RWMutex
	sessions map[SessionID]*entry

	log *zap.Logger
	bus *eventbus.Bus
}

// NewRegistry builds an empty registry bound to the given logger and event
// bus, both shared process-wide.
func NewRegistry(log *zap.Logger, bus *eventbus.Bus) *Registry {
	return &Registry{
		sessions: make(map[SessionID]*entry),
		log:      log,
		bus:      bus,
	}
}

// ConnectRemote establishes a new SSH session under id and starts its I/O
// pump and status prober. id must not already be registered.
func (r *Registry) ConnectRemote(id SessionID, opts ConnectOptions) error {
	if r.HasSession(id) {
		return errOperation(fmt.Sprintf("session %s already exists", id))
	}

	t, err := connectRemote(opts)
	if err != nil {
		if merr, ok := err.(*Error); ok {
			metrics.Get().SessionCreateFail.WithLabelValues(string(merr.Kind)).Inc()
		}
		return err
	}

	e := newEntry(id, t, sessionConfig{Host: opts.Host, Port: opts.Port, Username: opts.Username}, r.log, r.bus)
	r.put(id, e)
	metrics.Get().SessionsActive.Inc()
	metrics.Get().SessionsTotal.WithLabelValues("remote").Inc()

	go e.runIOPump()
	go e.runStatusProber()
	return nil
}

// ConnectLocal spawns a local PTY session under id. id must not already be
// registered.
func (r *Registry) ConnectLocal(id SessionID, opts LocalOptions) error {
	if r.HasSession(id) {
		return errOperation(fmt.Sprintf("session %s already exists", id))
	}

	t, err := connectLocal(opts)
	if err != nil {
		if merr, ok := err.(*Error); ok {
			metrics.Get().SessionCreateFail.WithLabelValues(string(merr.Kind)).Inc()
		}
		return err
	}

	e := newEntry(id, t, sessionConfig{}, r.log, r.bus)
	r.put(id, e)
	metrics.Get().SessionsActive.Inc()
	metrics.Get().SessionsTotal.WithLabelValues("local").Inc()

	go e.runIOPump()
	// No status prober for local sessions; runStatusProber exits
	// immediately via transport.isLocal() but is still spawned so
	// Disconnect's drain logic is uniform across both kinds.
	go e.runStatusProber()
	return nil
}

// SendInput enqueues bytes for the shell. Never blocks on the transport: it
// only pushes onto the entry's bounded input channel, which the I/O Pump
// drains on its own schedule (§4.3).
func (r *Registry) SendInput(id SessionID, data []byte) error {
	e, ok := r.get(id)
	if !ok {
		return errSessionNotFound(id)
	}
	select {
	case e.input <- InputItem(data):
		return nil
	default:
		return errChannel("input queue full")
	}
}

// Resize coalesces a pending geometry change for the session.
func (r *Registry) Resize(id SessionID, req ResizeRequest) error {
	e, ok := r.get(id)
	if !ok {
		return errSessionNotFound(id)
	}
	select {
	case e.resize <- req:
	default:
		// Drain the stale pending request and replace it (§9: coalesce to
		// the most recently requested size).
		select {
		case <-e.resize:
		default:
		}
		e.resize <- req
	}
	return nil
}

// DrainOutput removes and returns every chunk buffered for delivery since
// the last drain.
func (r *Registry) DrainOutput(id SessionID) ([]OutputChunk, error) {
	e, ok := r.get(id)
	if !ok {
		return nil, errSessionNotFound(id)
	}
	return e.output.drain(), nil
}

// GetReplay returns every chunk captured during the initial buffering
// window, in order. It never removes anything.
func (r *Registry) GetReplay(id SessionID) ([]OutputChunk, error) {
	e, ok := r.get(id)
	if !ok {
		return nil, errSessionNotFound(id)
	}
	return e.replay.snapshot(), nil
}

// Upload dispatches an async SFTP transfer on the session's transport.
func (r *Registry) Upload(id SessionID, taskID, localPath, remotePath string) error {
	e, ok := r.get(id)
	if !ok {
		return errSessionNotFound(id)
	}
	e.upload(taskID, localPath, remotePath)
	return nil
}

// ProbePath resolves the remote shell's working directory. For a local
// session it returns this process's working directory (where the local
// shell was started); later directory changes inside the shell are not seen.
func (r *Registry) ProbePath(id SessionID) (string, error) {
	e, ok := r.get(id)
	if !ok {
		return "", errSessionNotFound(id)
	}
	return e.probePath()
}

// HasSession reports whether id is currently registered, regardless of its
// lifecycle state.
func (r *Registry) HasSession(id SessionID) bool {
	_, ok := r.get(id)
	return ok
}

// Disconnect tears a session down and removes it from the table.
// Idempotent: disconnecting an unknown or already-terminating id is not an
// error (§4.7, testable property 5).
func (r *Registry) Disconnect(id SessionID) error {
	e, ok := r.take(id)
	if !ok {
		return nil
	}
	r.teardown(e)
	return nil
}

// DisconnectAll tears down every live session, e.g. on process shutdown.
func (r *Registry) DisconnectAll() error {
	r.mu.Lock()
	all := make([]*entry, 0, len(r.sessions))
	for _, e := range r.sessions {
		all = append(all, e)
	}
	r.sessions = make(map[SessionID]*entry)
	r.mu.Unlock()

	for _, e := range all {
		r.teardown(e)
	}
	return nil
}

// teardown stops the pump/prober goroutines and closes the transport. It
// runs with no registry lock held, so it never blocks other sessions'
// operations (§4.1 concurrency contract).
func (r *Registry) teardown(e *entry) {
	e.markTerminating()
	<-e.pumpDone
	<-e.proberDone
	if err := e.transport.close(); err != nil {
		r.log.Warn("transport close failed", zap.String("session_id", string(e.id)), zap.Error(err))
	}
	metrics.Get().SessionsActive.Dec()
}

func (r *Registry) put(id SessionID, e *entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[id] = e
}

func (r *Registry) get(id SessionID) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[id]
	return e, ok
}

func (r *Registry) take(id SessionID) (*entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	return e, ok
}
