package mongostore

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/Ellipog/chat/store"
)

const (
	usersCollection         = "users"
	conversationsCollection = "conversations"
	messagesCollection      = "messages"
)

type userDocument struct {
	ID        bson.ObjectID    `bson:"_id"`
	Name      string           `bson:"name"`
	Email     string           `bson:"email"`
	Password  string           `bson:"password"`
	UserInfo  []store.UserFact `bson:"userInfo"`
	CreatedAt time.Time        `bson:"createdAt"`
}

func (d *userDocument) toRecord() *store.User {
	info := d.UserInfo
	if info == nil {
		info = []store.UserFact{}
	}
	return &store.User{
		ID:           d.ID.Hex(),
		Name:         d.Name,
		Email:        d.Email,
		PasswordHash: d.Password,
		UserInfo:     info,
		CreatedAt:    d.CreatedAt,
	}
}

type conversationDocument struct {
	ID            bson.ObjectID `bson:"_id"`
	User          bson.ObjectID `bson:"user"`
	Title         string        `bson:"title"`
	CreatedAt     time.Time     `bson:"createdAt"`
	LastMessageAt time.Time     `bson:"lastMessageAt"`
}

func (d *conversationDocument) toRecord() *store.Conversation {
	return &store.Conversation{
		ID:            d.ID.Hex(),
		UserID:        d.User.Hex(),
		Title:         d.Title,
		CreatedAt:     d.CreatedAt,
		LastMessageAt: d.LastMessageAt,
	}
}

type messageDocument struct {
	ID             bson.ObjectID      `bson:"_id"`
	User           bson.ObjectID      `bson:"user"`
	ConversationID bson.ObjectID      `bson:"conversationId"`
	Content        string             `bson:"content"`
	Role           string             `bson:"role"`
	CreatedAt      time.Time          `bson:"createdAt"`
	Attachments    []store.Attachment `bson:"attachments,omitempty"`
}

func (d *messageDocument) toRecord() store.Message {
	return store.Message{
		ID:             d.ID.Hex(),
		ConversationID: d.ConversationID.Hex(),
		UserID:         d.User.Hex(),
		Role:           d.Role,
		Content:        d.Content,
		Attachments:    d.Attachments,
		CreatedAt:      d.CreatedAt,
	}
}

// objectID parses a hex id. Malformed ids cannot match any document, so
// they read as store.ErrNotFound.
func objectID(hex string) (bson.ObjectID, error) {
	id, err := bson.ObjectIDFromHex(hex)
	if err != nil {
		return bson.ObjectID{}, store.ErrNotFound
	}
	return id, nil
}
