package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"termforge/internal/store"
)

// SessionsHandler exposes CRUD over the session-metadata store (§6
// "Persisted state"). This is the external collaborator's own surface —
// distinct from the command surface in Handler — kept separate so it's
// obvious the registry never depends on it.
type SessionsHandler struct {
	store *store.Store
}

// NewSessionsHandler builds a metadata CRUD handler backed by s.
func NewSessionsHandler(s *store.Store) *SessionsHandler {
	return &SessionsHandler{store: s}
}

// Register mounts the metadata CRUD routes onto r.
func (h *SessionsHandler) Register(r gin.IRouter) {
	r.GET("/sessions", h.List)
	r.POST("/sessions", h.Upsert)
	r.GET("/sessions/:id", h.Get)
	r.DELETE("/sessions/:id", h.Delete)
	r.POST("/sessions/:id/favorite", h.ToggleFavorite)
	r.GET("/groups", h.ListGroups)
	r.POST("/groups", h.UpsertGroup)
	r.GET("/tags", h.ListTags)
	r.POST("/tags", h.UpsertTag)
	r.POST("/sessions/:id/groups/:groupId", h.LinkGroup)
	r.POST("/sessions/:id/tags/:tagId", h.LinkTag)
}

func (h *SessionsHandler) List(c *gin.Context) {
	sessions, err := h.store.ListSessions()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "data": sessions})
}

func (h *SessionsHandler) Get(c *gin.Context) {
	sess, err := h.store.GetSession(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"ok": false, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "data": sess})
}

func (h *SessionsHandler) Upsert(c *gin.Context) {
	var req struct {
		ID             string `json:"id"`
		Addr           string `json:"addr" binding:"required"`
		Port           int    `json:"port" binding:"required"`
		ServerName     string `json:"serverName"`
		Username       string `json:"username" binding:"required"`
		AuthType       string `json:"authType" binding:"required"`
		PrivateKeyPath string `json:"privateKeyPath"`
		IsFavorite     bool   `json:"isFavorite"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "message": err.Error()})
		return
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	sess := &store.Session{
		ID:             req.ID,
		Addr:           req.Addr,
		Port:           req.Port,
		ServerName:     req.ServerName,
		Username:       req.Username,
		AuthType:       req.AuthType,
		PrivateKeyPath: req.PrivateKeyPath,
		IsFavorite:     req.IsFavorite,
		CreatedAt:      time.Now().UTC(),
	}
	if err := h.store.UpsertSession(sess); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "data": sess})
}

func (h *SessionsHandler) Delete(c *gin.Context) {
	if err := h.store.DeleteSession(c.Param("id")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *SessionsHandler) ToggleFavorite(c *gin.Context) {
	var req struct {
		IsFavorite bool `json:"isFavorite"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "message": err.Error()})
		return
	}
	if err := h.store.ToggleFavorite(c.Param("id"), req.IsFavorite); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *SessionsHandler) ListGroups(c *gin.Context) {
	groups, err := h.store.ListGroups()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "data": groups})
}

func (h *SessionsHandler) ListTags(c *gin.Context) {
	tags, err := h.store.ListTags()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "data": tags})
}

func (h *SessionsHandler) UpsertGroup(c *gin.Context) {
	var req struct {
		ID   string `json:"id"`
		Name string `json:"name" binding:"required"`
		Sort int64  `json:"sort"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "message": err.Error()})
		return
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	group := &store.Group{ID: req.ID, Name: req.Name, Sort: req.Sort}
	if err := h.store.UpsertGroup(group); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "data": group})
}

func (h *SessionsHandler) UpsertTag(c *gin.Context) {
	var req struct {
		ID    string `json:"id"`
		Name  string `json:"name" binding:"required"`
		Color string `json:"color"`
		Sort  int64  `json:"sort"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "message": err.Error()})
		return
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	tag := &store.Tag{ID: req.ID, Name: req.Name, Color: req.Color, Sort: req.Sort}
	if err := h.store.UpsertTag(tag); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "data": tag})
}

func (h *SessionsHandler) LinkGroup(c *gin.Context) {
	if err := h.store.LinkSessionGroup(c.Param("id"), c.Param("groupId")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *SessionsHandler) LinkTag(c *gin.Context) {
	if err := h.store.LinkSessionTag(c.Param("id"), c.Param("tagId")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
