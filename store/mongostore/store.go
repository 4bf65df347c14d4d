// Package mongostore implements store.Store on MongoDB with the document
// layout of the users, conversations and messages collections.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
	"go.uber.org/zap"

	"github.com/Ellipog/chat/store"
)

const defaultOpTimeout = 5 * time.Second

// Options configures the Mongo store.
type Options struct {
	Client   *mongo.Client
	Database string
	Timeout  time.Duration
}

// Store MongoDB 实现
type Store struct {
	client        *mongo.Client
	users         *mongo.Collection
	conversations *mongo.Collection
	messages      *mongo.Collection
	timeout       time.Duration
	now           func() time.Time
	logger        *zap.Logger
}

var _ store.Store = (*Store)(nil)

// Connect 按 URI 建立客户端连接并创建 Store
func Connect(ctx context.Context, uri, database string, logger *zap.Logger) (*Store, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	s, err := New(ctx, Options{Client: client, Database: database}, logger)
	if err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx))
		return nil, err
	}
	return s, nil
}

// New returns a Store backed by an existing client and ensures indexes.
func New(ctx context.Context, opts Options, logger *zap.Logger) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}

	db := opts.Client.Database(opts.Database)
	s := &Store{
		client:        opts.Client,
		users:         db.Collection(usersCollection),
		conversations: db.Collection(conversationsCollection),
		messages:      db.Collection(messagesCollection),
		timeout:       timeout,
		now:           func() time.Time { return time.Now().UTC() },
		logger:        logger.With(zap.String("component", "mongostore")),
	}

	ictx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := s.ensureIndexes(ictx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	if _, err := s.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return fmt.Errorf("ensure users index: %w", err)
	}
	if _, err := s.conversations.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "user", Value: 1}, {Key: "lastMessageAt", Value: -1}},
	}); err != nil {
		return fmt.Errorf("ensure conversations index: %w", err)
	}
	if _, err := s.messages.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "conversationId", Value: 1}, {Key: "createdAt", Value: 1}},
	}); err != nil {
		return fmt.Errorf("ensure messages index: %w", err)
	}
	return nil
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// =============================================================================
// Users
// =============================================================================

func (s *Store) CreateUser(ctx context.Context, u *store.User) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	doc := userDocument{
		ID:        bson.NewObjectID(),
		Name:      u.Name,
		Email:     strings.ToLower(strings.TrimSpace(u.Email)),
		Password:  u.PasswordHash,
		UserInfo:  u.UserInfo,
		CreatedAt: s.now(),
	}
	if doc.UserInfo == nil {
		doc.UserInfo = []store.UserFact{}
	}
	if _, err := s.users.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return store.ErrDuplicate
		}
		return fmt.Errorf("create user: %w", err)
	}
	*u = *doc.toRecord()
	return nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*store.User, error) {
	oid, err := objectID(id)
	if err != nil {
		return nil, err
	}
	return s.findUser(ctx, bson.M{"_id": oid})
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*store.User, error) {
	return s.findUser(ctx, bson.M{"email": strings.ToLower(strings.TrimSpace(email))})
}

func (s *Store) findUser(ctx context.Context, filter bson.M) (*store.User, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var doc userDocument
	if err := s.users.FindOne(ctx, filter).Decode(&doc); err != nil {
		return nil, mapErr(err)
	}
	return doc.toRecord(), nil
}

func (s *Store) UpdateUser(ctx context.Context, id string, upd store.UserUpdate) (*store.User, error) {
	oid, err := objectID(id)
	if err != nil {
		return nil, err
	}
	set := bson.M{}
	if upd.Name != nil {
		set["name"] = *upd.Name
	}
	if upd.UserInfo != nil {
		set["userInfo"] = *upd.UserInfo
	}
	if len(set) == 0 {
		return s.GetUser(ctx, id)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var doc userDocument
	err = s.users.FindOneAndUpdate(ctx, bson.M{"_id": oid}, bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&doc)
	if err != nil {
		return nil, mapErr(err)
	}
	return doc.toRecord(), nil
}

func (s *Store) AppendUserInfo(ctx context.Context, id string, facts []store.UserFact) error {
	if len(facts) == 0 {
		return nil
	}
	oid, err := objectID(id)
	if err != nil {
		return err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.users.UpdateOne(ctx, bson.M{"_id": oid},
		bson.M{"$push": bson.M{"userInfo": bson.M{"$each": facts}}})
	if err != nil {
		return fmt.Errorf("append user info: %w", err)
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

// =============================================================================
// Conversations
// =============================================================================

func (s *Store) CreateConversation(ctx context.Context, c *store.Conversation) error {
	uid, err := objectID(c.UserID)
	if err != nil {
		return err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	now := s.now()
	doc := conversationDocument{
		ID:            bson.NewObjectID(),
		User:          uid,
		Title:         c.Title,
		CreatedAt:     now,
		LastMessageAt: now,
	}
	if _, err := s.conversations.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}
	*c = *doc.toRecord()
	return nil
}

func ownedFilter(userID, id string) (bson.M, error) {
	oid, err := objectID(id)
	if err != nil {
		return nil, err
	}
	uid, err := objectID(userID)
	if err != nil {
		return nil, err
	}
	return bson.M{"_id": oid, "user": uid}, nil
}

func (s *Store) GetConversation(ctx context.Context, userID, id string) (*store.Conversation, error) {
	filter, err := ownedFilter(userID, id)
	if err != nil {
		return nil, err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var doc conversationDocument
	if err := s.conversations.FindOne(ctx, filter).Decode(&doc); err != nil {
		return nil, mapErr(err)
	}
	return doc.toRecord(), nil
}

func (s *Store) ListConversations(ctx context.Context, userID string) ([]store.Conversation, error) {
	uid, err := objectID(userID)
	if err != nil {
		return []store.Conversation{}, nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	cur, err := s.conversations.Find(ctx, bson.M{"user": uid},
		options.Find().SetSort(bson.D{{Key: "lastMessageAt", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	var docs []conversationDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}

	out := make([]store.Conversation, 0, len(docs))
	for i := range docs {
		out = append(out, *docs[i].toRecord())
	}
	return out, nil
}

func (s *Store) RenameConversation(ctx context.Context, userID, id, title string) (*store.Conversation, error) {
	filter, err := ownedFilter(userID, id)
	if err != nil {
		return nil, err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var doc conversationDocument
	err = s.conversations.FindOneAndUpdate(ctx, filter, bson.M{"$set": bson.M{"title": title}},
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&doc)
	if err != nil {
		return nil, mapErr(err)
	}
	return doc.toRecord(), nil
}

func (s *Store) TouchConversation(ctx context.Context, userID, id string, at time.Time) error {
	filter, err := ownedFilter(userID, id)
	if err != nil {
		return err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.conversations.UpdateOne(ctx, filter, bson.M{"$set": bson.M{"lastMessageAt": at.UTC()}})
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

// DeleteConversation 先删消息再删会话；中途失败时剩下的是没有消息的会话，而不是孤儿消息
func (s *Store) DeleteConversation(ctx context.Context, userID, id string) error {
	filter, err := ownedFilter(userID, id)
	if err != nil {
		return err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.conversations.FindOne(ctx, filter).Err(); err != nil {
		return mapErr(err)
	}
	if _, err := s.messages.DeleteMany(ctx, bson.M{"conversationId": filter["_id"]}); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	if _, err := s.conversations.DeleteOne(ctx, filter); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return nil
}

// =============================================================================
// Messages
// =============================================================================

func (s *Store) CreateMessage(ctx context.Context, m *store.Message) error {
	cid, err := objectID(m.ConversationID)
	if err != nil {
		return err
	}
	uid, err := objectID(m.UserID)
	if err != nil {
		return err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	doc := messageDocument{
		ID:             bson.NewObjectID(),
		User:           uid,
		ConversationID: cid,
		Content:        m.Content,
		Role:           m.Role,
		CreatedAt:      m.CreatedAt,
		Attachments:    m.Attachments,
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = s.now()
	}
	if _, err := s.messages.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("create message: %w", err)
	}
	*m = doc.toRecord()
	return nil
}

func (s *Store) ListMessages(ctx context.Context, userID, conversationID string) ([]store.Message, error) {
	cid, err := objectID(conversationID)
	if err != nil {
		return []store.Message{}, nil
	}
	uid, err := objectID(userID)
	if err != nil {
		return []store.Message{}, nil
	}
	return s.findMessages(ctx, bson.M{"conversationId": cid, "user": uid},
		options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}}), false)
}

func (s *Store) RecentMessages(ctx context.Context, conversationID string, limit int) ([]store.Message, error) {
	cid, err := objectID(conversationID)
	if err != nil {
		return []store.Message{}, nil
	}
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	return s.findMessages(ctx, bson.M{"conversationId": cid}, opts, true)
}

func (s *Store) findMessages(ctx context.Context, filter bson.M, opts *options.FindOptionsBuilder, reverse bool) ([]store.Message, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	cur, err := s.messages.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find messages: %w", err)
	}
	var docs []messageDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("find messages: %w", err)
	}
	if reverse {
		slices.Reverse(docs)
	}

	out := make([]store.Message, 0, len(docs))
	for i := range docs {
		out = append(out, docs[i].toRecord())
	}
	return out, nil
}

// =============================================================================
// Lifecycle
// =============================================================================

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func mapErr(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return store.ErrNotFound
	}
	return err
}
