package widget

import (
	"sync"
	"time"

	"github.com/campuschat/campuschat/internal/domain"
)

// History is a fixed-capacity ring of chat messages. When full, appending
// overwrites the oldest entry, bounding widget memory on long conversations.
type History struct {
	mu    sync.RWMutex
	items []domain.ChatMessage
	cap   int
	head  int // write position
	full  bool
}

// NewHistory creates a history ring. Capacity <= 0 defaults to 200 messages.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = 200
	}
	return &History{
		items: make([]domain.ChatMessage, capacity),
		cap:   capacity,
	}
}

// Append records a message, evicting the oldest when full.
func (h *History) Append(role domain.MessageRole, content string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.items[h.head] = domain.ChatMessage{
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}
	h.head = (h.head + 1) % h.cap
	if h.head == 0 {
		h.full = true
	}
}

// Messages returns the retained messages in arrival order.
func (h *History) Messages() []domain.ChatMessage {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if !h.full {
		out := make([]domain.ChatMessage, h.head)
		copy(out, h.items[:h.head])
		return out
	}

	out := make([]domain.ChatMessage, 0, h.cap)
	out = append(out, h.items[h.head:]...)
	out = append(out, h.items[:h.head]...)
	return out
}

// Len returns the number of retained messages.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.full {
		return h.cap
	}
	return h.head
}

// Reset clears the history.
func (h *History) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.head = 0
	h.full = false
}
