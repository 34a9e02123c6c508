package api

import (
	"strings"

	"termforge/internal/mux"
)

// parseIncomingTopic recognizes the two incoming named events from §6:
// ssh-input-<id> and ssh-resize-<id>. It returns ok=false for anything
// else, including the outgoing ssh-status-/ssh-output-/upload-progress
// topics the UI never publishes to.
func parseIncomingTopic(topic string) (id mux.SessionID, kind string, ok bool) {
	switch {
	case strings.HasPrefix(topic, "ssh-input-"):
		return mux.SessionID(strings.TrimPrefix(topic, "ssh-input-")), "input", true
	case strings.HasPrefix(topic, "ssh-resize-"):
		return mux.SessionID(strings.TrimPrefix(topic, "ssh-resize-")), "resize", true
	default:
		return "", "", false
	}
}
