// Package store defines the chat domain records and the repository
// interfaces implemented by the SQL and MongoDB backends.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a record does not exist or is not owned by
	// the caller.
	ErrNotFound = errors.New("store: record not found")
	// ErrDuplicate is returned when a unique constraint (user email) is violated.
	ErrDuplicate = errors.New("store: duplicate record")
)

// Message roles persisted by the store.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// UserFact is one extracted piece of profile information.
type UserFact struct {
	Category  string    `json:"category" bson:"category"`
	Info      string    `json:"info" bson:"info"`
	CreatedAt time.Time `json:"createdAt,omitzero" bson:"createdAt"`
}

// User is an account.
type User struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	UserInfo     []UserFact `json:"userInfo"`
	CreatedAt    time.Time  `json:"createdAt"`
}

// Conversation groups the messages of one chat thread.
type Conversation struct {
	ID            string    `json:"_id"`
	UserID        string    `json:"user"`
	Title         string    `json:"title"`
	CreatedAt     time.Time `json:"createdAt"`
	LastMessageAt time.Time `json:"lastMessageAt"`
}

// Attachment describes an uploaded file referenced by a message.
type Attachment struct {
	ID          string `json:"_id" bson:"_id"`
	Filename    string `json:"filename" bson:"filename"`
	ContentType string `json:"contentType" bson:"contentType"`
	URL         string `json:"url" bson:"url"`
	Size        int64  `json:"size" bson:"size"`
}

// Message is one persisted chat turn.
type Message struct {
	ID             string       `json:"_id"`
	ConversationID string       `json:"conversationId"`
	UserID         string       `json:"user"`
	Role           string       `json:"role"`
	Content        string       `json:"content"`
	Attachments    []Attachment `json:"attachments,omitempty"`
	CreatedAt      time.Time    `json:"createdAt"`
}

// UserUpdate carries the whitelisted profile fields a user may change.
// Nil fields are left untouched.
type UserUpdate struct {
	Name     *string
	UserInfo *[]UserFact
}

// UserStore persists accounts.
type UserStore interface {
	CreateUser(ctx context.Context, u *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	UpdateUser(ctx context.Context, id string, upd UserUpdate) (*User, error)
	AppendUserInfo(ctx context.Context, id string, facts []UserFact) error
}

// ConversationStore persists conversations. Every call is scoped to the
// owning user; a conversation owned by someone else reads as ErrNotFound.
type ConversationStore interface {
	CreateConversation(ctx context.Context, c *Conversation) error
	GetConversation(ctx context.Context, userID, id string) (*Conversation, error)
	ListConversations(ctx context.Context, userID string) ([]Conversation, error)
	RenameConversation(ctx context.Context, userID, id, title string) (*Conversation, error)
	TouchConversation(ctx context.Context, userID, id string, at time.Time) error
	// DeleteConversation removes the conversation and all of its messages.
	DeleteConversation(ctx context.Context, userID, id string) error
}

// MessageStore persists messages.
type MessageStore interface {
	CreateMessage(ctx context.Context, m *Message) error
	// ListMessages returns the conversation's messages ascending by CreatedAt.
	ListMessages(ctx context.Context, userID, conversationID string) ([]Message, error)
	// RecentMessages returns at most limit of the newest messages, still in
	// ascending order.
	RecentMessages(ctx context.Context, conversationID string, limit int) ([]Message, error)
}

// Store is the full repository used by the service layer.
type Store interface {
	UserStore
	ConversationStore
	MessageStore

	Ping(ctx context.Context) error
	Close() error
}
