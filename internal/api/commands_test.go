package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"termforge/internal/eventbus"
	"termforge/internal/mux"
)

func newTestHandler() (*Handler, *gin.Engine) {
	gin.SetMode(gin.TestMode)
	bus := eventbus.New(zap.NewNop())
	registry := mux.NewRegistry(zap.NewNop(), bus)
	h := NewHandler(registry, bus, zap.NewNop())
	r := gin.New()
	h.Register(r)
	return h, r
}

func doJSON(t *testing.T, r *gin.Engine, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	buf, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(buf))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

type wireResponse struct {
	OK      bool            `json:"ok"`
	Kind    string          `json:"kind"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) wireResponse {
	t.Helper()
	var resp wireResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestConnectLocalSendInputAndGetOutputEndToEnd(t *testing.T) {
	_, r := newTestHandler()

	connectRec := doJSON(t, r, "/commands/connect_local", map[string]interface{}{
		"sessionId": "api-local-1",
		"cols":      80,
		"rows":      24,
	})
	resp := decodeResponse(t, connectRec)
	require.True(t, resp.OK, resp.Message)

	inputRec := doJSON(t, r, "/commands/send_ssh_input", map[string]interface{}{
		"sessionId": "api-local-1",
		"input":     "echo hi\n",
	})
	resp = decodeResponse(t, inputRec)
	require.True(t, resp.OK, resp.Message)

	outputRec := doJSON(t, r, "/commands/get_ssh_output", map[string]interface{}{
		"sessionId": "api-local-1",
	})
	resp = decodeResponse(t, outputRec)
	require.True(t, resp.OK, resp.Message)

	disconnectRec := doJSON(t, r, "/commands/disconnect_local", map[string]interface{}{
		"sessionId": "api-local-1",
	})
	resp = decodeResponse(t, disconnectRec)
	assert.True(t, resp.OK)
}

func TestSendInputToUnknownSessionReturnsSessionNotFoundKind(t *testing.T) {
	_, r := newTestHandler()

	rec := doJSON(t, r, "/commands/send_ssh_input", map[string]interface{}{
		"sessionId": "ghost",
		"input":     "x",
	})
	resp := decodeResponse(t, rec)
	assert.False(t, resp.OK)
	assert.Equal(t, string(mux.ErrSessionNotFound), resp.Kind)
}

func TestMalformedRequestReturnsOperationFailedKind(t *testing.T) {
	_, r := newTestHandler()

	req := httptest.NewRequest(http.MethodPost, "/commands/connect_ssh", bytes.NewReader([]byte("not json")))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	resp := decodeResponse(t, rec)
	assert.False(t, resp.OK)
	assert.Equal(t, string(mux.ErrOperationFailed), resp.Kind)
}

func TestDisconnectLocalIsIdempotentOverHTTP(t *testing.T) {
	_, r := newTestHandler()

	require.True(t, decodeResponse(t, doJSON(t, r, "/commands/connect_local", map[string]interface{}{
		"sessionId": "api-idem-1", "cols": 80, "rows": 24,
	})).OK)

	first := decodeResponse(t, doJSON(t, r, "/commands/disconnect_local", map[string]interface{}{"sessionId": "api-idem-1"}))
	second := decodeResponse(t, doJSON(t, r, "/commands/disconnect_local", map[string]interface{}{"sessionId": "api-idem-1"}))
	assert.True(t, first.OK)
	assert.True(t, second.OK)
}

func TestHandleIncomingRoutesInputEvent(t *testing.T) {
	h, r := newTestHandler()
	require.True(t, decodeResponse(t, doJSON(t, r, "/commands/connect_local", map[string]interface{}{
		"sessionId": "api-incoming-1", "cols": 80, "rows": 24,
	})).OK)
	defer h.registry.Disconnect(mux.SessionID("api-incoming-1"))

	payload, err := json.Marshal(map[string]string{"input": "echo via-event\n"})
	require.NoError(t, err)
	h.HandleIncoming("ssh-input-api-incoming-1", payload)
}

func TestHandleIncomingIgnoresUnknownTopics(t *testing.T) {
	h, _ := newTestHandler()
	assert.NotPanics(t, func() {
		h.HandleIncoming("something-unrelated", json.RawMessage(`{}`))
	})
}
