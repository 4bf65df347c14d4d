package handlers

import (
	"errors"
	"net/http"
	"net/mail"
	"strings"

	"go.uber.org/zap"

	"github.com/Ellipog/chat/api"
	"github.com/Ellipog/chat/auth"
	"github.com/Ellipog/chat/store"
	"github.com/Ellipog/chat/types"
)

// =============================================================================
// 🔐 认证 Handler
// =============================================================================

// AuthHandler 处理注册、登录与令牌校验
type AuthHandler struct {
	users  store.UserStore
	tokens *auth.TokenManager
	logger *zap.Logger
}

// NewAuthHandler 创建认证处理器
func NewAuthHandler(users store.UserStore, tokens *auth.TokenManager, logger *zap.Logger) *AuthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthHandler{
		users:  users,
		tokens: tokens,
		logger: logger.With(zap.String("component", "auth_handler")),
	}
}

// HandleRegister 处理 POST /api/auth/register
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req api.RegisterRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Email = normalizeEmail(req.Email)
	if apiErr := validateRegister(&req); apiErr != nil {
		WriteError(w, apiErr, h.logger)
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		WriteError(w, types.NewError(types.ErrInternalError, "Server error").WithCause(err), h.logger)
		return
	}

	user := &store.User{
		Name:         req.Name,
		Email:        req.Email,
		PasswordHash: hash,
		UserInfo:     []store.UserFact{},
	}
	if err := h.users.CreateUser(r.Context(), user); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			WriteError(w, types.NewError(types.ErrConflict, "User already exists").
				WithHTTPStatus(http.StatusBadRequest), h.logger)
			return
		}
		WriteError(w, types.NewError(types.ErrPersistenceFailed, "Server error").WithCause(err), h.logger)
		return
	}

	h.logger.Info("user registered", zap.String("user_id", user.ID))
	h.writeAuth(w, user)
}

// HandleLogin 处理 POST /api/auth/login；未知邮箱与错误密码返回同一错误
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req api.LoginRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	invalidCreds := types.NewError(types.ErrAuthentication, "Invalid credentials")

	user, err := h.users.GetUserByEmail(r.Context(), normalizeEmail(req.Email))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			WriteError(w, invalidCreds, h.logger)
			return
		}
		WriteServiceError(w, err, h.logger)
		return
	}

	if err := auth.ComparePassword(user.PasswordHash, req.Password); err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			WriteError(w, invalidCreds, h.logger)
			return
		}
		WriteServiceError(w, err, h.logger)
		return
	}

	h.writeAuth(w, user)
}

// HandleValidate 处理 GET /api/auth/validate，返回令牌对应的当前用户
func (h *AuthHandler) HandleValidate(w http.ResponseWriter, r *http.Request) {
	uid, ok := currentUser(w, r, h.logger)
	if !ok {
		return
	}

	user, err := h.users.GetUser(r.Context(), uid)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			WriteError(w, types.NewError(types.ErrNotFound, "User not found"), h.logger)
			return
		}
		WriteServiceError(w, err, h.logger)
		return
	}

	WriteSuccess(w, map[string]api.User{"user": api.NewUser(user)})
}

func (h *AuthHandler) writeAuth(w http.ResponseWriter, user *store.User) {
	token, err := h.tokens.Issue(user.ID)
	if err != nil {
		WriteError(w, types.NewError(types.ErrInternalError, "Server error").WithCause(err), h.logger)
		return
	}
	WriteSuccess(w, api.AuthResponse{Token: token, User: api.NewUser(user)})
}

func validateRegister(req *api.RegisterRequest) *types.Error {
	switch {
	case req.Name == "":
		return types.NewError(types.ErrInvalidRequest, "Name is required")
	case req.Email == "":
		return types.NewError(types.ErrInvalidRequest, "Email is required")
	case req.Password == "":
		return types.NewError(types.ErrInvalidRequest, "Password is required")
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		return types.NewError(types.ErrInvalidRequest, "Email is invalid")
	}
	// bcrypt 只使用前 72 字节
	if len(req.Password) > 72 {
		return types.NewError(types.ErrInvalidRequest, "Password is too long")
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
