package session

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/opsagent/orchestrator/internal/plan"
)

var (
	// ErrConversationNotFound is returned when a conversation doesn't exist
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrConversationExpired is returned when a conversation has expired
	ErrConversationExpired = errors.New("conversation expired")
)

const (
	DefaultTTL        = 24 * time.Hour
	DefaultMaxHistory = 100
	DefaultCacheSize  = 1000

	titleRunes = 28
)

// Conversation is a titled, ordered chat between a user and the assistant.
type Conversation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Message is one turn of a conversation.
type Message struct {
	Role      string    `json:"role"` // "user" or "assistant"
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// IsExpired checks if the conversation has expired
func (c *Conversation) IsExpired() bool {
	return !c.ExpiresAt.IsZero() && time.Now().After(c.ExpiresAt)
}

// Turns converts the stored messages into planner history.
func (c *Conversation) Turns() []plan.Turn {
	out := make([]plan.Turn, 0, len(c.Messages))
	for _, m := range c.Messages {
		out = append(out, plan.Turn{Role: m.Role, Text: m.Text})
	}
	return out
}

// Store persists conversations.
type Store interface {
	Create(ctx context.Context, userID string) (*Conversation, error)
	Get(ctx context.Context, id string) (*Conversation, error)
	AppendMessages(ctx context.Context, id string, msgs ...Message) (*Conversation, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, userID string) ([]*Conversation, error)
}

// TitleFrom derives a conversation title from the first user message.
func TitleFrom(text string) string {
	t := strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(t) <= titleRunes {
		return t
	}
	return string([]rune(t)[:titleRunes]) + "…"
}

// apply appends msgs, trims the oldest beyond maxHistory and sets the
// title on the first user message.
func apply(c *Conversation, maxHistory int, msgs []Message) {
	now := time.Now()
	for _, m := range msgs {
		if m.Timestamp.IsZero() {
			m.Timestamp = now
		}
		if c.Title == "" && m.Role == "user" {
			c.Title = TitleFrom(m.Text)
		}
		c.Messages = append(c.Messages, m)
	}
	if maxHistory > 0 && len(c.Messages) > maxHistory {
		c.Messages = append([]Message(nil), c.Messages[len(c.Messages)-maxHistory:]...)
	}
	c.UpdatedAt = now
}

func clone(c *Conversation) *Conversation {
	cp := *c
	cp.Messages = append([]Message(nil), c.Messages...)
	return &cp
}
