package mongostore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap"

	"github.com/Ellipog/chat/store"
)

func TestObjectID(t *testing.T) {
	id := bson.NewObjectID()
	got, err := objectID(id.Hex())
	require.NoError(t, err)
	assert.Equal(t, id, got)

	_, err = objectID("not-an-id")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = objectID("")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDocumentsToRecords(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	uid, cid := bson.NewObjectID(), bson.NewObjectID()

	u := (&userDocument{ID: uid, Name: "Ada", Email: "ada@example.com", Password: "h", CreatedAt: now}).toRecord()
	assert.Equal(t, uid.Hex(), u.ID)
	assert.Equal(t, "h", u.PasswordHash)
	assert.NotNil(t, u.UserInfo, "missing userInfo decodes to an empty list")

	c := (&conversationDocument{ID: cid, User: uid, Title: "Go", CreatedAt: now, LastMessageAt: now}).toRecord()
	assert.Equal(t, uid.Hex(), c.UserID)
	assert.Equal(t, "Go", c.Title)

	m := (&messageDocument{
		ID: bson.NewObjectID(), User: uid, ConversationID: cid, Role: store.RoleAssistant,
		Content: "hi", CreatedAt: now,
		Attachments: []store.Attachment{{ID: "a", Filename: "f.txt"}},
	}).toRecord()
	assert.Equal(t, cid.Hex(), m.ConversationID)
	assert.Equal(t, store.RoleAssistant, m.Role)
	require.Len(t, m.Attachments, 1)
}

func TestDocumentBSONFieldNames(t *testing.T) {
	doc := messageDocument{ID: bson.NewObjectID(), ConversationID: bson.NewObjectID(), Role: "user", Content: "x"}
	raw, err := bson.Marshal(doc)
	require.NoError(t, err)

	var m bson.M
	require.NoError(t, bson.Unmarshal(raw, &m))
	for _, key := range []string{"_id", "user", "conversationId", "content", "role", "createdAt"} {
		assert.Contains(t, m, key)
	}
	assert.NotContains(t, m, "attachments", "empty attachments are omitted")
}

func TestOwnedFilter(t *testing.T) {
	uid, cid := bson.NewObjectID(), bson.NewObjectID()
	f, err := ownedFilter(uid.Hex(), cid.Hex())
	require.NoError(t, err)
	assert.Equal(t, cid, f["_id"])
	assert.Equal(t, uid, f["user"])

	_, err = ownedFilter("bad", cid.Hex())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(context.Background(), Options{Database: "chat"}, zap.NewNop())
	assert.Error(t, err)
}

// TestStore_Integration runs against a live server when CHAT_TEST_MONGO_URI is set.
func TestStore_Integration(t *testing.T) {
	uri := os.Getenv("CHAT_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("CHAT_TEST_MONGO_URI not set")
	}
	ctx := context.Background()
	dbName := "chat_test_" + bson.NewObjectID().Hex()

	s, err := Connect(ctx, uri, dbName, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.client.Database(dbName).Drop(context.Background())
		_ = s.Close()
	})

	u := &store.User{Name: "Ada", Email: "ada@example.com", PasswordHash: "h"}
	require.NoError(t, s.CreateUser(ctx, u))
	assert.ErrorIs(t, s.CreateUser(ctx, &store.User{Email: "ADA@example.com"}), store.ErrDuplicate)

	c := &store.Conversation{UserID: u.ID, Title: "Chat"}
	require.NoError(t, s.CreateConversation(ctx, c))
	for _, content := range []string{"one", "two", "three"} {
		require.NoError(t, s.CreateMessage(ctx, &store.Message{ConversationID: c.ID, UserID: u.ID, Role: store.RoleUser, Content: content}))
		time.Sleep(2 * time.Millisecond)
	}

	recent, err := s.RecentMessages(ctx, c.ID, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "two", recent[0].Content)

	require.NoError(t, s.AppendUserInfo(ctx, u.ID, []store.UserFact{{Category: "Hobby", Info: "Chess"}}))
	got, err := s.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Len(t, got.UserInfo, 1)

	require.NoError(t, s.DeleteConversation(ctx, u.ID, c.ID))
	msgs, err := s.ListMessages(ctx, u.ID, c.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}
