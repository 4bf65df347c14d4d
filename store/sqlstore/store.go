// Package sqlstore implements store.Store on top of GORM. It runs on sqlite
// (pure Go, glebarez), postgres and mysql.
package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Ellipog/chat/store"
)

// Store GORM 实现
type Store struct {
	db     *gorm.DB
	now    func() time.Time
	logger *zap.Logger
}

var _ store.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New 创建 Store 并执行自动迁移
func New(db *gorm.DB, logger *zap.Logger, opts ...Option) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		db:     db,
		now:    time.Now,
		logger: logger.With(zap.String("component", "sqlstore")),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := db.AutoMigrate(&userModel{}, &conversationModel{}, &messageModel{}); err != nil {
		return nil, fmt.Errorf("failed to auto migrate: %w", err)
	}
	return s, nil
}

// =============================================================================
// Users
// =============================================================================

func (s *Store) CreateUser(ctx context.Context, u *store.User) error {
	m := userModel{
		ID:           uuid.NewString(),
		Name:         u.Name,
		Email:        strings.ToLower(strings.TrimSpace(u.Email)),
		PasswordHash: u.PasswordHash,
		UserInfo:     u.UserInfo,
		CreatedAt:    s.now(),
	}
	if m.UserInfo == nil {
		m.UserInfo = []store.UserFact{}
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&userModel{}).Where("email = ?", m.Email).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return store.ErrDuplicate
		}
		return tx.Create(&m).Error
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) || isDuplicateKey(err) {
			return store.ErrDuplicate
		}
		return fmt.Errorf("create user: %w", err)
	}

	*u = *m.toRecord()
	return nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*store.User, error) {
	var m userModel
	if err := s.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return nil, mapErr(err)
	}
	return m.toRecord(), nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*store.User, error) {
	var m userModel
	err := s.db.WithContext(ctx).First(&m, "email = ?", strings.ToLower(strings.TrimSpace(email))).Error
	if err != nil {
		return nil, mapErr(err)
	}
	return m.toRecord(), nil
}

func (s *Store) UpdateUser(ctx context.Context, id string, upd store.UserUpdate) (*store.User, error) {
	var m userModel
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&m, "id = ?", id).Error; err != nil {
			return err
		}
		if upd.Name != nil {
			m.Name = *upd.Name
		}
		if upd.UserInfo != nil {
			m.UserInfo = *upd.UserInfo
		}
		return tx.Save(&m).Error
	})
	if err != nil {
		return nil, mapErr(err)
	}
	return m.toRecord(), nil
}

// AppendUserInfo 在事务内读取-追加-写回，避免并发分析任务互相覆盖
func (s *Store) AppendUserInfo(ctx context.Context, id string, facts []store.UserFact) error {
	if len(facts) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m userModel
		if err := tx.First(&m, "id = ?", id).Error; err != nil {
			return err
		}
		m.UserInfo = append(m.UserInfo, facts...)
		return tx.Save(&m).Error
	})
	return mapErr(err)
}

// =============================================================================
// Conversations
// =============================================================================

func (s *Store) CreateConversation(ctx context.Context, c *store.Conversation) error {
	now := s.now()
	m := conversationModel{
		ID:            uuid.NewString(),
		UserID:        c.UserID,
		Title:         c.Title,
		CreatedAt:     now,
		LastMessageAt: now,
	}
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}
	*c = *m.toRecord()
	return nil
}

func (s *Store) GetConversation(ctx context.Context, userID, id string) (*store.Conversation, error) {
	var m conversationModel
	err := s.db.WithContext(ctx).First(&m, "id = ? AND user_id = ?", id, userID).Error
	if err != nil {
		return nil, mapErr(err)
	}
	return m.toRecord(), nil
}

func (s *Store) ListConversations(ctx context.Context, userID string) ([]store.Conversation, error) {
	var rows []conversationModel
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("last_message_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}

	out := make([]store.Conversation, 0, len(rows))
	for i := range rows {
		out = append(out, *rows[i].toRecord())
	}
	return out, nil
}

func (s *Store) RenameConversation(ctx context.Context, userID, id, title string) (*store.Conversation, error) {
	res := s.db.WithContext(ctx).Model(&conversationModel{}).
		Where("id = ? AND user_id = ?", id, userID).
		Update("title", title)
	if res.Error != nil {
		return nil, fmt.Errorf("rename conversation: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, store.ErrNotFound
	}
	return s.GetConversation(ctx, userID, id)
}

func (s *Store) TouchConversation(ctx context.Context, userID, id string, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&conversationModel{}).
		Where("id = ? AND user_id = ?", id, userID).
		Update("last_message_at", at)
	if res.Error != nil {
		return fmt.Errorf("touch conversation: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteConversation(ctx context.Context, userID, id string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m conversationModel
		if err := tx.First(&m, "id = ? AND user_id = ?", id, userID).Error; err != nil {
			return err
		}
		if err := tx.Where("conversation_id = ?", id).Delete(&messageModel{}).Error; err != nil {
			return err
		}
		return tx.Delete(&m).Error
	})
	return mapErr(err)
}

// =============================================================================
// Messages
// =============================================================================

func (s *Store) CreateMessage(ctx context.Context, msg *store.Message) error {
	m := messageModel{
		ID:             uuid.NewString(),
		ConversationID: msg.ConversationID,
		UserID:         msg.UserID,
		Role:           msg.Role,
		Content:        msg.Content,
		Attachments:    msg.Attachments,
		CreatedAt:      msg.CreatedAt,
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now()
	}
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return fmt.Errorf("create message: %w", err)
	}
	*msg = m.toRecord()
	return nil
}

func (s *Store) ListMessages(ctx context.Context, userID, conversationID string) ([]store.Message, error) {
	var rows []messageModel
	err := s.db.WithContext(ctx).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return toMessages(rows), nil
}

func (s *Store) RecentMessages(ctx context.Context, conversationID string, limit int) ([]store.Message, error) {
	q := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var rows []messageModel
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("recent messages: %w", err)
	}
	slices.Reverse(rows)
	return toMessages(rows), nil
}

// =============================================================================
// Lifecycle
// =============================================================================

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close 关闭底层连接
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toMessages(rows []messageModel) []store.Message {
	out := make([]store.Message, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toRecord())
	}
	return out
}

func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return store.ErrNotFound
	case isDuplicateKey(err):
		return store.ErrDuplicate
	default:
		return err
	}
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate")
}
