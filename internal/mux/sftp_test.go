package mux

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrimTrailingWhitespace(t *testing.T) {
	assert.Equal(t, "/home/user", trimTrailingWhitespace("/home/user\n"))
	assert.Equal(t, "/home/user", trimTrailingWhitespace("/home/user\r\n"))
	assert.Equal(t, "/home/user", trimTrailingWhitespace("/home/user   "))
	assert.Equal(t, "", trimTrailingWhitespace("\n\n"))
}

func TestProbePathLocalReturnsWorkingDirectory(t *testing.T) {
	r := newTestRegistry()
	id := SessionID("probe-local")
	require.NoError(t, r.ConnectLocal(id, LocalOptions{Cols: 80, Rows: 24}))
	defer r.Disconnect(id)

	path, err := r.ProbePath(id)
	require.NoError(t, err)
	assert.NotEmpty(t, path)
}

func TestUploadOfMissingLocalFileReportsErrorWithoutBlockingTheSession(t *testing.T) {
	r := newTestRegistry()
	id := SessionID("upload-missing")
	require.NoError(t, r.ConnectLocal(id, LocalOptions{Cols: 80, Rows: 24}))
	defer r.Disconnect(id)

	sub, unsubscribe := r.bus.Subscribe(topicUploadProgress, 8)
	defer unsubscribe()

	require.NoError(t, r.Upload(id, "task-1", "/no/such/file-termforge-test", "/remote/path"))

	select {
	case env := <-sub:
		assert.Equal(t, topicUploadProgress, env.Topic)
		assert.Contains(t, string(env.Payload), `"error"`)
	case <-time.After(2 * time.Second):
		t.Fatal("expected an upload-progress error event")
	}

	// The shell must still be usable: Upload never blocks the pump.
	require.NoError(t, r.SendInput(id, []byte("echo still-alive\n")))
}
