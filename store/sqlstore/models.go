package sqlstore

import (
	"time"

	"github.com/Ellipog/chat/store"
)

type userModel struct {
	ID           string           `gorm:"primaryKey;size:36"`
	Name         string           `gorm:"size:200;not null"`
	Email        string           `gorm:"size:320;not null;uniqueIndex"`
	PasswordHash string           `gorm:"size:100;not null"`
	UserInfo     []store.UserFact `gorm:"serializer:json"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (userModel) TableName() string { return "users" }

func (m *userModel) toRecord() *store.User {
	return &store.User{
		ID:           m.ID,
		Name:         m.Name,
		Email:        m.Email,
		PasswordHash: m.PasswordHash,
		UserInfo:     m.UserInfo,
		CreatedAt:    m.CreatedAt,
	}
}

type conversationModel struct {
	ID            string    `gorm:"primaryKey;size:36"`
	UserID        string    `gorm:"size:36;not null;index:idx_conversations_user_last,priority:1"`
	Title         string    `gorm:"size:200;not null"`
	CreatedAt     time.Time `gorm:"not null"`
	LastMessageAt time.Time `gorm:"not null;index:idx_conversations_user_last,priority:2"`
}

func (conversationModel) TableName() string { return "conversations" }

func (m *conversationModel) toRecord() *store.Conversation {
	return &store.Conversation{
		ID:            m.ID,
		UserID:        m.UserID,
		Title:         m.Title,
		CreatedAt:     m.CreatedAt,
		LastMessageAt: m.LastMessageAt,
	}
}

type messageModel struct {
	ID             string             `gorm:"primaryKey;size:36"`
	ConversationID string             `gorm:"size:36;not null;index:idx_messages_conversation_created,priority:1"`
	UserID         string             `gorm:"size:36;not null;index"`
	Role           string             `gorm:"size:16;not null"`
	Content        string             `gorm:"type:text;not null"`
	Attachments    []store.Attachment `gorm:"serializer:json"`
	CreatedAt      time.Time          `gorm:"not null;index:idx_messages_conversation_created,priority:2"`
}

func (messageModel) TableName() string { return "messages" }

func (m *messageModel) toRecord() store.Message {
	return store.Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		UserID:         m.UserID,
		Role:           m.Role,
		Content:        m.Content,
		Attachments:    m.Attachments,
		CreatedAt:      m.CreatedAt,
	}
}
