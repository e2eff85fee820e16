// Package store persists chat conversations.
//
// A ConversationStore is the durable record; a SessionCache holds the live
// copy of each active session with an expiry.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a conversation does not exist.
var ErrNotFound = errors.New("conversation not found")

// Turn roles.
const (
	RoleUser               = "user"
	RoleAssistant          = "assistant"
	RoleAssistantReasoning = "assistant_reasoning"
)

// Turn is one role-tagged message.
type Turn struct {
	Role    string `json:"type" dynamodbav:"type"`
	Content string `json:"content" dynamodbav:"content"`
}

// Conversation is a named record of ordered turns.
type Conversation struct {
	ID        string    `json:"id" dynamodbav:"id"`
	Title     string    `json:"title,omitempty" dynamodbav:"title,omitempty"`
	Turns     []Turn    `json:"messages" dynamodbav:"messages"`
	UpdatedAt time.Time `json:"updated_at" dynamodbav:"updated_at"`
	// StoredTurns is how many turns the durable store already holds. Only
	// the session cache carries it.
	StoredTurns int `json:"stored_turns,omitempty" dynamodbav:"-"`
}

// Clone returns a deep copy.
func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	out := *c
	out.Turns = append([]Turn(nil), c.Turns...)
	return &out
}

// ConversationStore is the durable conversation record.
type ConversationStore interface {
	// EnsureSchema creates the backing table when it is missing.
	EnsureSchema(ctx context.Context) error
	Save(ctx context.Context, conv *Conversation) error
	Get(ctx context.Context, id string) (*Conversation, error)
}

// SessionCache holds active sessions for a limited time.
type SessionCache interface {
	Put(ctx context.Context, conv *Conversation, ttl time.Duration) error
	Get(ctx context.Context, id string) (*Conversation, error)
	// List returns the IDs of live sessions, sorted.
	List(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, id string) error
}
