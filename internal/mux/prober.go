package mux

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"termforge/internal/metrics"
)

// statusCmd is the single composite command run per tick (§4.4 note: one
// exec amortizes channel-open cost). Each section falls back to a
// whitespace-separated default so a missing /proc file or tool never
// produces an empty line the parser can't index into.
const statusCmd = `awk '/^cpu /{print $2+$3+$4+$5+$6+$7+$8, $5}' /proc/stat 2>/dev/null || echo "0 0"
free -b 2>/dev/null | awk '/Mem:/{t=$2; u=$3} END{printf "%.0f %.0f\n", t, u}' || echo "0 0"
df -P / 2>/dev/null | awk 'NR==2{gsub(/%/,"",$5); s=$2; u=$3; p=$5} END{printf "%.0f %.0f %.0f\n", s, u, p}' || echo "0 0 0"
awk 'NR>2{rx+=$2; tx+=$10} END{print rx+0, tx+0}' /proc/net/dev 2>/dev/null || echo "0 0"`

// probeSample is the prior tick's raw counters, needed to derive rates.
type probeSample struct {
	have      bool
	cpuTotal  float64
	cpuIdle   float64
	netRx     float64
	netTx     float64
	sampledAt time.Time
}

// runStatusProber emits a ServerStatus on ssh-status-<id> roughly every
// 1.5s while the session is Running (§4.4). Remote sessions only.
func (e *entry) runStatusProber() {
	defer close(e.proberDone)
	if e.transport.isLocal() {
		return
	}

	ticker := time.NewTicker(probeInterval)
	defer ticker.Stop()

	var prev probeSample

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			if e.stopped() {
				return
			}
			sample, status, err := e.probeOnce(prev)
			if err != nil {
				// Parse/exec failures are fatal-for-tick only (§4.4):
				// skip this emission, keep the session alive.
				e.log.Debug("status probe tick failed", zap.Error(err))
				metrics.Get().ProbeFailures.Inc()
				continue
			}
			prev = sample
			metrics.Get().ProbeLatency.Observe(float64(status.LatencyMs) / 1000)
			metrics.Get().ProbeCPUUsagePct.Set(status.CPUUsagePct)
			e.bus.Publish(topicStatus(e.id), status)
		}
	}
}

// probeOnce runs one probe tick: acquire the transport under blocking mode,
// run the composite command, measure latency, and parse the four lines.
func (e *entry) probeOnce(prev probeSample) (probeSample, ServerStatus, error) {
	var status ServerStatus
	var sample probeSample
	started := time.Now()

	err := e.retryOnContention(func() error {
		return e.transport.withBlocking(func() error {
			r, err := e.transport.newExecChannel(statusCmd)
			if err != nil {
				return err
			}
			out, err := io.ReadAll(r)
			if err != nil {
				return err
			}
			status.LatencyMs = time.Since(started).Milliseconds()
			sample, status, err = parseStatus(out, prev, status.LatencyMs)
			return err
		})
	})
	return sample, status, err
}

// retryOnContention yields and retries fn within one tick when the
// transport is busy opening another channel (§4.4: "tolerate channel
// creation contention ... yields and retries within the same tick").
func (e *entry) retryOnContention(fn func() error) error {
	const maxAttempts = 5
	var lastErr error
	for i := 0; i < maxAttempts; i++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !isWouldBlock(lastErr) {
			return lastErr
		}
		time.Sleep(time.Millisecond * time.Duration(5*(i+1)))
	}
	return lastErr
}

func isWouldBlock(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "administratively prohibited") ||
		strings.Contains(msg, "too many") ||
		strings.Contains(msg, "channel open failed")
}

func parseStatus(out []byte, prev probeSample, latencyMs int64) (probeSample, ServerStatus, error) {
	scanner := bufio.NewScanner(bytes.NewReader(out))
	lines := make([]string, 0, 4)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	if len(lines) < 4 {
		return probeSample{}, ServerStatus{}, fmt.Errorf("status probe: expected 4 lines, got %d", len(lines))
	}

	cpuTotal, cpuIdle, err := parseTwoFloats(lines[0])
	if err != nil {
		return probeSample{}, ServerStatus{}, fmt.Errorf("parse cpu line: %w", err)
	}
	memTotal, memUsed, err := parseTwoFloats(lines[1])
	if err != nil {
		return probeSample{}, ServerStatus{}, fmt.Errorf("parse mem line: %w", err)
	}
	diskFields := strings.Fields(lines[2])
	if len(diskFields) < 3 {
		return probeSample{}, ServerStatus{}, fmt.Errorf("parse disk line: need 3 fields, got %d", len(diskFields))
	}
	diskUsagePct, err := strconv.ParseFloat(diskFields[2], 64)
	if err != nil {
		diskUsagePct = 0
	}
	netRx, netTx, err := parseTwoFloats(lines[3])
	if err != nil {
		return probeSample{}, ServerStatus{}, fmt.Errorf("parse net line: %w", err)
	}

	now := time.Now()
	sample := probeSample{have: true, cpuTotal: cpuTotal, cpuIdle: cpuIdle, netRx: netRx, netTx: netTx, sampledAt: now}

	status := ServerStatus{
		MemTotal:     uint64(memTotal),
		MemUsed:      uint64(memUsed),
		DiskUsagePct: clamp(diskUsagePct),
		LatencyMs:    latencyMs,
	}
	if memTotal > 0 {
		status.MemUsagePct = clamp(100 * memUsed / memTotal)
	}

	if prev.have {
		deltaTotal := cpuTotal - prev.cpuTotal
		deltaIdle := cpuIdle - prev.cpuIdle
		if deltaTotal > 0 {
			status.CPUUsagePct = clamp(100 * (1 - deltaIdle/deltaTotal))
		}
		elapsed := now.Sub(prev.sampledAt).Seconds()
		if elapsed > 0 {
			status.NetDownBps = maxFloat(0, netRx-prev.netRx) / elapsed
			status.NetUpBps = maxFloat(0, netTx-prev.netTx) / elapsed
		}
	}

	return sample, status, nil
}

func parseTwoFloats(line string) (float64, float64, error) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return 0, 0, fmt.Errorf("expected 2 fields, got %d", len(fields))
	}
	a, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, 0, err
	}
	b, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return 0, 0, err
	}
	return a, b, nil
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
