package handlers

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/Ellipog/chat/api"
	"github.com/Ellipog/chat/store"
	"github.com/Ellipog/chat/types"
)

// UserHandler 处理当前用户资料的修改
type UserHandler struct {
	users  store.UserStore
	logger *zap.Logger
}

// NewUserHandler 创建用户处理器
func NewUserHandler(users store.UserStore, logger *zap.Logger) *UserHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UserHandler{users: users, logger: logger.With(zap.String("component", "user_handler"))}
}

// HandleUpdate 处理 PUT /api/user。只允许修改调用者本人的 name 与 userInfo
func (h *UserHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	uid, ok := currentUser(w, r, h.logger)
	if !ok {
		return
	}

	var req api.UpdateUserRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	upd := store.UserUpdate{UserInfo: req.Updates.UserInfo}
	if req.Updates.Name != nil {
		name := strings.TrimSpace(*req.Updates.Name)
		if name == "" {
			WriteError(w, types.NewError(types.ErrInvalidRequest, "Name cannot be empty"), h.logger)
			return
		}
		upd.Name = &name
	}
	if upd.Name == nil && upd.UserInfo == nil {
		WriteError(w, types.NewError(types.ErrInvalidRequest, "No updates provided"), h.logger)
		return
	}
	if upd.UserInfo != nil {
		for _, f := range *upd.UserInfo {
			if strings.TrimSpace(f.Category) == "" || strings.TrimSpace(f.Info) == "" {
				WriteError(w, types.NewError(types.ErrInvalidRequest, "User info entries need category and info"), h.logger)
				return
			}
		}
	}

	user, err := h.users.UpdateUser(r.Context(), uid, upd)
	if err != nil {
		WriteServiceError(w, notFoundAs(err, "User not found"), h.logger)
		return
	}
	WriteSuccess(w, map[string]api.User{"user": api.NewUser(user)})
}
