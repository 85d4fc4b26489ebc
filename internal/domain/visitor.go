package domain

import (
	"time"
)

// Visitor represents an anonymous widget user identified by a device cookie.
type Visitor struct {
	VisitorID  string    `json:"visitor_id"`
	Origin     string    `json:"origin,omitempty"`
	UserAgent  string    `json:"user_agent,omitempty"`
	LastSeenAt time.Time `json:"last_seen_at"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// SessionTTL returns the time until the visitor's chat session expires.
// Returns 0 if it has already expired.
func (v *Visitor) SessionTTL(sessionDuration time.Duration) time.Duration {
	expiresAt := v.LastSeenAt.Add(sessionDuration)
	ttl := time.Until(expiresAt)
	if ttl < 0 {
		return 0
	}
	return ttl
}
