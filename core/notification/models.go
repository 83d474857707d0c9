package notification

import "time"

// Notification is a user-addressed in-app message, persisted until read (or expired).
type Notification struct {
	ID        string            `json:"id"`
	UserID    string            `json:"user_id"`
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	Link      string            `json:"link,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Read      bool              `json:"read"`
	ExpiresAt *time.Time        `json:"expires_at,omitempty"`
	CreatedAt time.Time         `json:"created_at"` // UTC
}
