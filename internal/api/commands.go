// Package api exposes the multiplexer's command surface (§6) over HTTP:
// one gin handler per command, plus a websocket endpoint bridging the
// event bus to the UI process. The handlers are thin — each decodes its
// request, calls the registry, and maps the result to the documented
// success/error wire shape.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"termforge/internal/eventbus"
	"termforge/internal/mux"
)

// Handler wires the command surface to a Registry and event Bus.
type Handler struct {
	registry *mux.Registry
	bus      *eventbus.Bus
	log      *zap.Logger
}

// NewHandler builds a command-surface handler bound to registry and bus.
func NewHandler(registry *mux.Registry, bus *eventbus.Bus, log *zap.Logger) *Handler {
	return &Handler{registry: registry, bus: bus, log: log}
}

// Register mounts every command and the event websocket onto r.
func (h *Handler) Register(r gin.IRouter) {
	r.POST("/commands/connect_ssh", h.ConnectSSH)
	r.POST("/commands/disconnect_ssh", h.DisconnectSSH)
	r.POST("/commands/send_ssh_input", h.SendSSHInput)
	r.POST("/commands/get_ssh_output", h.GetSSHOutput)
	r.POST("/commands/get_buffered_ssh_output", h.GetBufferedSSHOutput)
	r.POST("/commands/upload_file_sftp", h.UploadFileSFTP)
	r.POST("/commands/probe_remote_path", h.ProbeRemotePath)
	r.POST("/commands/connect_local", h.ConnectLocal)
	r.POST("/commands/disconnect_local", h.DisconnectLocal)
	r.GET("/events", h.bus.ServeWS(h))
}

// HandleIncoming implements eventbus.Dispatcher for ssh-input-<id> and
// ssh-resize-<id> messages published by the UI over the event socket.
func (h *Handler) HandleIncoming(topic string, data json.RawMessage) {
	id, kind, ok := parseIncomingTopic(topic)
	if !ok {
		return
	}
	switch kind {
	case "input":
		var payload struct {
			Input string `json:"input"`
		}
		if err := json.Unmarshal(data, &payload); err != nil {
			h.log.Debug("malformed ssh-input event", zap.Error(err))
			return
		}
		if err := h.registry.SendInput(id, []byte(payload.Input)); err != nil {
			h.log.Debug("send_input from event socket failed", zap.String("session_id", string(id)), zap.Error(err))
		}
	case "resize":
		var payload struct {
			Cols uint32 `json:"cols"`
			Rows uint32 `json:"rows"`
		}
		if err := json.Unmarshal(data, &payload); err != nil {
			h.log.Debug("malformed ssh-resize event", zap.Error(err))
			return
		}
		if err := h.registry.Resize(id, mux.ResizeRequest{Cols: payload.Cols, Rows: payload.Rows}); err != nil {
			h.log.Debug("resize from event socket failed", zap.String("session_id", string(id)), zap.Error(err))
		}
	}
}

func writeError(c *gin.Context, err error) {
	if merr, ok := err.(*mux.Error); ok {
		c.JSON(http.StatusOK, gin.H{
			"ok":      false,
			"kind":    merr.Kind,
			"message": merr.Message,
		})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "kind": mux.ErrOperationFailed, "message": err.Error()})
}

func writeOK(c *gin.Context, data interface{}) {
	if data == nil {
		c.JSON(http.StatusOK, gin.H{"ok": true})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "data": data})
}

// ConnectSSH implements connect_ssh.
func (h *Handler) ConnectSSH(c *gin.Context) {
	var req struct {
		SessionID string `json:"sessionId" binding:"required"`
		IP        string `json:"ip" binding:"required"`
		Port      int    `json:"port" binding:"required"`
		Username  string `json:"username" binding:"required"`
		Password  string `json:"password"`
		Cols      uint32 `json:"cols"`
		Rows      uint32 `json:"rows"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, mux.BadRequest(err.Error()))
		return
	}

	err := h.registry.ConnectRemote(mux.SessionID(req.SessionID), mux.ConnectOptions{
		Host:     req.IP,
		Port:     req.Port,
		Username: req.Username,
		Credential: mux.Credential{
			Kind:     mux.CredentialPassword,
			Password: req.Password,
		},
		Cols: req.Cols,
		Rows: req.Rows,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	writeOK(c, nil)
}

// DisconnectSSH implements disconnect_ssh.
func (h *Handler) DisconnectSSH(c *gin.Context) {
	var req struct {
		SessionID string `json:"sessionId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, mux.BadRequest(err.Error()))
		return
	}
	_ = h.registry.Disconnect(mux.SessionID(req.SessionID))
	writeOK(c, nil)
}

// SendSSHInput implements send_ssh_input.
func (h *Handler) SendSSHInput(c *gin.Context) {
	var req struct {
		SessionID string `json:"sessionId" binding:"required"`
		Input     string `json:"input"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, mux.BadRequest(err.Error()))
		return
	}
	if err := h.registry.SendInput(mux.SessionID(req.SessionID), []byte(req.Input)); err != nil {
		writeError(c, err)
		return
	}
	writeOK(c, nil)
}

// GetSSHOutput implements get_ssh_output.
func (h *Handler) GetSSHOutput(c *gin.Context) {
	var req struct {
		SessionID string `json:"sessionId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, mux.BadRequest(err.Error()))
		return
	}
	chunks, err := h.registry.DrainOutput(mux.SessionID(req.SessionID))
	if err != nil {
		writeError(c, err)
		return
	}
	writeOK(c, chunks)
}

// GetBufferedSSHOutput implements get_buffered_ssh_output.
func (h *Handler) GetBufferedSSHOutput(c *gin.Context) {
	var req struct {
		SessionID string `json:"sessionId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, mux.BadRequest(err.Error()))
		return
	}
	chunks, err := h.registry.GetReplay(mux.SessionID(req.SessionID))
	if err != nil {
		writeError(c, err)
		return
	}
	writeOK(c, chunks)
}

// UploadFileSFTP implements upload_file_sftp.
func (h *Handler) UploadFileSFTP(c *gin.Context) {
	var req struct {
		SessionID  string `json:"sessionId" binding:"required"`
		TaskID     string `json:"taskId" binding:"required"`
		LocalPath  string `json:"localPath" binding:"required"`
		RemotePath string `json:"remotePath" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, mux.BadRequest(err.Error()))
		return
	}
	if err := h.registry.Upload(mux.SessionID(req.SessionID), req.TaskID, req.LocalPath, req.RemotePath); err != nil {
		writeError(c, err)
		return
	}
	writeOK(c, nil)
}

// ProbeRemotePath implements probe_remote_path.
func (h *Handler) ProbeRemotePath(c *gin.Context) {
	var req struct {
		SessionID string `json:"sessionId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, mux.BadRequest(err.Error()))
		return
	}
	path, err := h.registry.ProbePath(mux.SessionID(req.SessionID))
	if err != nil {
		writeError(c, err)
		return
	}
	writeOK(c, path)
}

// ConnectLocal implements connect_local.
func (h *Handler) ConnectLocal(c *gin.Context) {
	var req struct {
		SessionID string `json:"sessionId" binding:"required"`
		Cols      uint32 `json:"cols"`
		Rows      uint32 `json:"rows"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, mux.BadRequest(err.Error()))
		return
	}
	if err := h.registry.ConnectLocal(mux.SessionID(req.SessionID), mux.LocalOptions{Cols: req.Cols, Rows: req.Rows}); err != nil {
		writeError(c, err)
		return
	}
	writeOK(c, nil)
}

// DisconnectLocal implements disconnect_local.
func (h *Handler) DisconnectLocal(c *gin.Context) {
	var req struct {
		SessionID string `json:"sessionId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, mux.BadRequest(err.Error()))
		return
	}
	_ = h.registry.Disconnect(mux.SessionID(req.SessionID))
	writeOK(c, nil)
}
