package mux

import (
	"time"

	"go.uber.org/zap"

	"termforge/internal/metrics"
)

// inputBurstLimit bounds how many queued input items the pump drains per
// loop iteration, so a flood of input cannot starve the read side for more
// than "one cycle" (§4.3 write-path contract).
const inputBurstLimit = 32

// runIOPump is the single reader/writer of the interactive shell channel.
// It owns batching, sequencing, replay capture and fan-out, per §4.3.
func (e *entry) runIOPump() {
	defer close(e.pumpDone)
	e.setState(stateRunning)

	windowEnd := e.startedAt.Add(initialWindow)
	inInitialRegime := true

	pending := make([]byte, 0, normalSizeThreshold*2)
	var pendingSince time.Time

	idle := time.NewTicker(time.Millisecond)
	defer idle.Stop()

	for {
		if e.stopped() {
			return
		}

		e.drainResize()

		data, ok, readErr := e.transport.tryReadShell()
		madeProgress := false
		if ok {
			if len(pending) == 0 {
				pendingSince = time.Now()
			}
			pending = append(pending, data...)
			madeProgress = true
		}

		wrote := e.drainInputBurst()
		madeProgress = madeProgress || wrote

		if readErr != nil {
			// 0 bytes / fatal error: flush whatever is pending, then the
			// session moves to Terminating (§4.3 "Read outcomes").
			if len(pending) > 0 {
				e.emitChunk(pending, inInitialRegime && time.Now().Before(windowEnd))
				pending = pending[:0]
			}
			e.markTerminating()
			return
		}

		now := time.Now()
		windowOpen := now.Before(windowEnd)

		if inInitialRegime && !windowOpen {
			// Window just expired: flush immediately and drop into the
			// normal regime, per §4.3.
			if len(pending) > 0 {
				e.emitChunk(pending, true)
				pending = pending[:0]
				pendingSince = time.Time{}
			}
			inInitialRegime = false
		}

		sizeThreshold, timeThreshold := normalSizeThreshold, normalTimeThreshold
		captureReplay := false
		if inInitialRegime && windowOpen {
			sizeThreshold, timeThreshold = initialSizeThreshold, initialTimeThreshold
			captureReplay = true
		}

		shouldEmit := len(pending) >= sizeThreshold
		if !shouldEmit && !pendingSince.IsZero() && now.Sub(pendingSince) >= timeThreshold {
			shouldEmit = true
		}
		if shouldEmit && len(pending) > 0 {
			e.emitChunk(pending, captureReplay)
			pending = pending[:0]
			pendingSince = time.Time{}
		}

		if !madeProgress {
			// WouldBlock: yield to the scheduler instead of busy-looping.
			<-idle.C
		}
	}
}

// drainResize applies at most the most recently requested size, coalescing
// any backlog (§9 open question, resolved in favor of coalescing).
func (e *entry) drainResize() {
	var latest ResizeRequest
	got := false
	for {
		select {
		case req := <-e.resize:
			latest = req
			got = true
			continue
		default:
		}
		break
	}
	if !got {
		return
	}
	if err := e.transport.resize(latest); err != nil {
		e.log.Warn("resize failed", zap.Error(err))
	}
}

// drainInputBurst writes up to inputBurstLimit queued input items to the
// shell, each under its own single write+flush mutex hold. A write failure
// is recorded but never tears down the session (§4.3).
func (e *entry) drainInputBurst() bool {
	wrote := false
	for i := 0; i < inputBurstLimit; i++ {
		select {
		case item := <-e.input:
			if err := e.transport.write(item); err != nil {
				e.log.Warn("input write failed", zap.Error(err))
			}
			wrote = true
		default:
			return wrote
		}
	}
	return wrote
}

// emitChunk assigns the next sequence number, stamps the chunk, optionally
// captures it into the replay buffer, and fans it out to both delivery
// paths (event bus + drain_output queue), per §4.3's emission contract.
func (e *entry) emitChunk(data []byte, captureReplay bool) {
	seq := e.nextSeq.Add(1)
	chunk := OutputChunk{
		Seq:    seq,
		Output: string(data),
		TS:     time.Now().UnixMilli(),
	}
	if captureReplay {
		e.replay.append(chunk)
	}
	e.bus.Publish(topicOutput(e.id), chunk)
	e.output.push(chunk)

	regime := "normal"
	if captureReplay {
		regime = "initial"
	}
	metrics.Get().ChunksEmittedTotal.WithLabelValues(regime).Inc()
}
