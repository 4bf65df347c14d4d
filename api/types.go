package api

import (
	"github.com/Ellipog/chat/store"
)

// =============================================================================
// 🔐 认证
// =============================================================================

// RegisterRequest 注册请求
type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginRequest 登录请求
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// User 返回给客户端的用户信息，不含密码哈希
type User struct {
	ID       string           `json:"id"`
	Name     string           `json:"name"`
	Email    string           `json:"email"`
	UserInfo []store.UserFact `json:"userInfo"`
}

// NewUser 从存储记录构造 User
func NewUser(u *store.User) User {
	info := u.UserInfo
	if info == nil {
		info = []store.UserFact{}
	}
	return User{ID: u.ID, Name: u.Name, Email: u.Email, UserInfo: info}
}

// AuthResponse 注册与登录的响应
type AuthResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

// =============================================================================
// 👤 用户
// =============================================================================

// UserUpdates 允许修改的用户字段，缺省字段保持不变
type UserUpdates struct {
	Name     *string           `json:"name,omitempty"`
	UserInfo *[]store.UserFact `json:"userInfo,omitempty"`
}

// UpdateUserRequest 更新当前用户
type UpdateUserRequest struct {
	Updates UserUpdates `json:"updates"`
}

// =============================================================================
// 💬 会话与消息
// =============================================================================

// RenameConversationRequest 重命名会话
type RenameConversationRequest struct {
	Title string `json:"title"`
}

// SendMessageRequest 发送用户消息；ConversationID 为空时创建新会话
type SendMessageRequest struct {
	Message        string             `json:"message"`
	ConversationID string             `json:"conversationId,omitempty"`
	Attachments    []store.Attachment `json:"attachments,omitempty"`
}

// SendMessageResponse 发送结果
type SendMessageResponse struct {
	ConversationID  string              `json:"conversationId"`
	NewConversation *store.Conversation `json:"newConversation"`
	NewInfo         []store.UserFact    `json:"newInfo"`
	AnalysisError   string              `json:"analysisError,omitempty"`
}

// AnalyzeRequest 抽取用户资料；UserInfo 缺省时使用当前档案
type AnalyzeRequest struct {
	Message  string           `json:"message"`
	UserInfo []store.UserFact `json:"userInfo,omitempty"`
}

// AnalyzeResponse 新抽取的用户资料
type AnalyzeResponse struct {
	NewInfo []store.UserFact `json:"newInfo"`
}

// StreamRequest 流式回复请求，WebSocket 首条消息使用相同结构
type StreamRequest struct {
	Message        string           `json:"message"`
	ConversationID string           `json:"conversationId"`
	UserInfo       []store.UserFact `json:"userInfo,omitempty"`
}

// UploadResponse 上传结果
type UploadResponse struct {
	Attachments []store.Attachment `json:"attachments"`
}
