package mux

// Outgoing event topic names from §6, published by entries and subscribed
// to by the UI process. Incoming topic names (ssh-input-<id>,
// ssh-resize-<id>) are parsed in internal/api/topics.go, the only place
// that needs to go from topic string back to a session id.
const (
	topicUploadProgress = "upload-progress"
)

func topicOutput(id SessionID) string {
	return "ssh-output-" + string(id)
}

func topicStatus(id SessionID) string {
	return "ssh-status-" + string(id)
}
