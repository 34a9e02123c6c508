// Package mux implements the session multiplexer: the in-process service
// that owns every live SSH or local-PTY session, pumps bidirectional byte
// streams between the UI layer and remote shells, runs per-session status
// probes, and drives SFTP uploads alongside an interactive shell.
package mux

import "time"

// SessionID is an opaque, immutable identifier for a live session. It is
// unique across the process lifetime and safe to use as a map key.
type SessionID string

// CredentialKind discriminates the two supported SSH authentication modes.
type CredentialKind int

const (
	// CredentialPassword authenticates with a plain password.
	CredentialPassword CredentialKind = iota
	// CredentialPrivateKey authenticates with a private key, optionally
	// protected by a passphrase.
	CredentialPrivateKey
)

// Credential carries the materialized secret the UI resolved from its
// keychain prior to calling Connect. The multiplexer never persists it.
type Credential struct {
	Kind       CredentialKind
	Password   string
	PrivateKey []byte
	Passphrase string
}

// OutputChunk is the only unit of terminal output delivery. Seq is
// monotonically increasing per session, starting at 1.
type OutputChunk struct {
	Seq    uint64 `json:"seq"`
	Output string `json:"output"`
	TS     int64  `json:"ts"` // milliseconds since epoch
}

// ResizeRequest carries a requested PTY geometry change.
type ResizeRequest struct {
	Cols uint32
	Rows uint32
}

// UploadState is the lifecycle state of an in-flight SFTP upload.
type UploadState string

const (
	UploadPending   UploadState = "pending"
	UploadUploading UploadState = "uploading"
	UploadSuccess   UploadState = "success"
	UploadError     UploadState = "error"
)

// UploadTask is the progress record emitted on the upload-progress event.
type UploadTask struct {
	TaskID        string      `json:"task_id"`
	SessionID     SessionID   `json:"session_id"`
	LocalPath     string      `json:"local_path"`
	RemotePath    string      `json:"remote_path"`
	TotalBytes    int64       `json:"total_bytes"`
	UploadedBytes int64       `json:"uploaded_bytes"`
	State         UploadState `json:"state"`
	SpeedBps      float64     `json:"speed_bps"`
	Error         string      `json:"error,omitempty"`
	Progress      float64     `json:"progress"`
}

// ServerStatus is a point-in-time sample of remote host health, produced
// by the status prober roughly every 1.5s for remote sessions.
type ServerStatus struct {
	CPUUsagePct  float64 `json:"cpu_usage_pct"`
	MemUsagePct  float64 `json:"mem_usage_pct"`
	MemTotal     uint64  `json:"mem_total"`
	MemUsed      uint64  `json:"mem_used"`
	DiskUsagePct float64 `json:"disk_usage_pct"`
	NetUpBps     float64 `json:"net_up_bps"`
	NetDownBps   float64 `json:"net_down_bps"`
	LatencyMs    int64   `json:"latency_ms"`
}

// ConnectOptions describes a new remote connection request.
type ConnectOptions struct {
	Host       string
	Port       int
	Username   string
	Credential Credential
	Cols       uint32
	Rows       uint32
}

// LocalOptions describes a new local PTY session request.
type LocalOptions struct {
	Cols uint32
	Rows uint32
}

const (
	// initialWindow is the initial buffering window (§4.3): while inside
	// it, batching favors latency and chunks are cloned into the replay
	// buffer.
	initialWindow = 2 * time.Second

	// Batching thresholds, see the regime table in §4.3.
	initialSizeThreshold = 200
	initialTimeThreshold = 100 * time.Millisecond
	normalSizeThreshold  = 1024
	normalTimeThreshold  = 20 * time.Millisecond

	// readChunkSize is the maximum non-blocking read per pump iteration.
	readChunkSize = 4096

	// sftpChunkSize is the per-iteration read size for uploads.
	sftpChunkSize = 512 * 1024

	// sftpYield is the pause between upload chunks so the interactive
	// pump keeps making progress on the shared transport.
	sftpYield = 5 * time.Millisecond

	// probeInterval is the approximate status-probe cadence.
	probeInterval = 1500 * time.Millisecond

	// tcpConnectTimeout bounds address resolution plus TCP connect.
	tcpConnectTimeout = 30 * time.Second

	// outputQueueCapBytes caps the in-memory fan-out queue per session
	// (open question in §9: size cap not defined upstream; we pick 8 MiB
	// and drop the oldest chunks on overflow while still emitting the
	// event, so a slow/absent drain_output consumer cannot grow the
	// process unbounded).
	outputQueueCapBytes = 8 * 1024 * 1024

	// replayBufferCap bounds the number of chunks retained for replay;
	// the window is time-bounded (2s) so this is a generous backstop.
	replayBufferCap = 4096
)
