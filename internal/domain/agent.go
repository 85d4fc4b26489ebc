package domain

import (
	"strings"
	"time"
)

// VirtualAgent is a configured bot persona scoped to one subject area.
type VirtualAgent struct {
	ID             int64     `json:"id"`
	Name           string    `json:"name"`
	Specialty      string    `json:"specialty,omitempty"`
	Description    string    `json:"description,omitempty"`
	WelcomeMessage string    `json:"welcome_message,omitempty"`
	Keywords       string    `json:"keywords,omitempty"` // comma-separated classifier keywords
	Active         bool      `json:"active"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// KeywordList splits the stored comma-separated keywords, lowercased and
// trimmed, skipping empties.
func (a *VirtualAgent) KeywordList() []string {
	if a.Keywords == "" {
		return nil
	}
	parts := strings.Split(a.Keywords, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ContentUnit is one retrievable knowledge document attached to an agent.
type ContentUnit struct {
	ID        int64     `json:"id"`
	AgentID   int64     `json:"agent_id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Keywords  string    `json:"keywords,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
