package models

// Chat status values announced over the notification channel while a turn is
// being processed.
const (
	StatusStarted    = "started"
	StatusGenerating = "generating"
	StatusCompleted  = "completed"
	StatusError      = "error"
	StatusSkipped    = "skipped"
)

// ChatStatusEvent announces turn-processing progress for one session.
type ChatStatusEvent struct {
	SessionID string `json:"sessionId"`
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	Details   string `json:"details,omitempty"`
}

// SessionCreatedEvent announces a newly branched session.
type SessionCreatedEvent struct {
	SourceSessionID string `json:"sourceSessionId"`
	NewSessionID    string `json:"newSessionId"`
	Group           int    `json:"group,omitempty"`
}

// ImageAsset is the metadata for one generated image stored alongside a
// version snapshot (images.json).
type ImageAsset struct {
	ID       string `json:"id"`
	FileName string `json:"fileName"`
	Prompt   string `json:"prompt"`
}
