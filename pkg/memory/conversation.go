// Package memory provides per-agent short-term conversation memory and
// long-term semantic recall behind a pluggable backend.
package memory

import (
	"maps"
	"strings"
	"sync"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// DefaultMaxMessages bounds a conversation created without an explicit size.
const DefaultMaxMessages = 10

type Message struct {
	Role      Role           `json:"role"`
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Conversation is a FIFO window of messages; the oldest message is evicted on overflow.
type Conversation struct {
	mu       sync.Mutex
	max      int
	messages []Message
	now      func() time.Time
}

func NewConversation(maxMessages int) *Conversation {
	if maxMessages <= 0 {
		maxMessages = DefaultMaxMessages
	}

	return &Conversation{
		max:      maxMessages,
		messages: make([]Message, 0, maxMessages),
		now:      time.Now,
	}
}

func (c *Conversation) Add(role Role, content string, metadata map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.messages) == c.max {
		copy(c.messages, c.messages[1:])
		c.messages = c.messages[:c.max-1]
	}

	c.messages = append(c.messages, Message{
		Role:      role,
		Content:   content,
		Timestamp: c.now().UTC(),
		Metadata:  maps.Clone(metadata),
	})
}

// Last returns up to n of the most recent messages, oldest first. n <= 0 returns all.
func (c *Conversation) Last(n int) []Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := 0
	if n > 0 && n < len(c.messages) {
		start = len(c.messages) - n
	}

	out := make([]Message, len(c.messages)-start)
	copy(out, c.messages[start:])

	return out
}

// Transcript renders the last n messages as "role: content" lines.
func (c *Conversation) Transcript(n int) string {
	messages := c.Last(n)

	lines := make([]string, len(messages))
	for i, msg := range messages {
		lines[i] = string(msg.Role) + ": " + msg.Content
	}

	return strings.Join(lines, "\n")
}

func (c *Conversation) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.messages)
}

func (c *Conversation) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.messages = c.messages[:0]
}
