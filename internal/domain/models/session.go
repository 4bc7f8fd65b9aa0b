package models

import (
	"time"
)

// Session is the metadata for one editable page session.
//
// CurrentVersion and LastTurn are monotonic: they only ever increase through
// CommitFiles/BeginTurn and are reset backwards only by UndoLastTurn, which
// restores a previously recorded pair. Version numbers are never reused.
type Session struct {
	ID                     string    `json:"id"`
	Group                  int       `json:"group"`
	CurrentVersion         int       `json:"currentVersion"`
	LastTurn               int       `json:"lastTurn"`
	ImageGenerationAllowed bool      `json:"imageGenerationAllowed"`
	UpdatedAt              time.Time `json:"updatedAt"`
}

// SessionRecord is the on-disk shape of session.json. LastTurn is not
// persisted; it is rehydrated from the context log on first access.
type SessionRecord struct {
	ID                     string    `json:"id"`
	UpdatedAt              time.Time `json:"updatedAt"`
	Group                  int       `json:"group"`
	CurrentVersion         int       `json:"currentVersion"`
	ImageGenerationAllowed bool      `json:"imageGenerationAllowed"`
}

// Record converts the session to its persisted form.
func (s *Session) Record() SessionRecord {
	return SessionRecord{
		ID:                     s.ID,
		UpdatedAt:              s.UpdatedAt,
		Group:                  s.Group,
		CurrentVersion:         s.CurrentVersion,
		ImageGenerationAllowed: s.ImageGenerationAllowed,
	}
}
