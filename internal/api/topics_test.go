package api

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"termforge/internal/mux"
)

func TestParseIncomingTopicInput(t *testing.T) {
	id, kind, ok := parseIncomingTopic("ssh-input-abc123")
	assert.True(t, ok)
	assert.Equal(t, mux.SessionID("abc123"), id)
	assert.Equal(t, "input", kind)
}

func TestParseIncomingTopicResize(t *testing.T) {
	id, kind, ok := parseIncomingTopic("ssh-resize-abc123")
	assert.True(t, ok)
	assert.Equal(t, mux.SessionID("abc123"), id)
	assert.Equal(t, "resize", kind)
}

func TestParseIncomingTopicUnknown(t *testing.T) {
	_, _, ok := parseIncomingTopic("upload-progress")
	assert.False(t, ok)
}
