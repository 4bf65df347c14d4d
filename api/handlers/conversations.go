package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/Ellipog/chat/api"
	"github.com/Ellipog/chat/chat"
	"github.com/Ellipog/chat/types"
)

// =============================================================================
// 🗂️ 会话 Handler
// =============================================================================

// ConversationHandler 会话与消息列表接口
type ConversationHandler struct {
	svc    *chat.Service
	logger *zap.Logger
}

// NewConversationHandler 创建会话处理器
func NewConversationHandler(svc *chat.Service, logger *zap.Logger) *ConversationHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConversationHandler{svc: svc, logger: logger.With(zap.String("component", "conversation_handler"))}
}

// HandleList 处理 GET /api/chat/conversations
func (h *ConversationHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	uid, ok := currentUser(w, r, h.logger)
	if !ok {
		return
	}
	convs, err := h.svc.ListConversations(r.Context(), uid)
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}
	WriteSuccess(w, map[string]any{"conversations": convs})
}

// HandleRename 处理 PUT /api/chat/conversations/{id}
func (h *ConversationHandler) HandleRename(w http.ResponseWriter, r *http.Request) {
	uid, ok := currentUser(w, r, h.logger)
	if !ok {
		return
	}
	id, ok := conversationID(w, r, h.logger)
	if !ok {
		return
	}

	var req api.RenameConversationRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	conv, err := h.svc.RenameConversation(r.Context(), uid, id, req.Title)
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}
	WriteSuccess(w, map[string]any{"conversation": conv})
}

// HandleDelete 处理 DELETE /api/chat/conversations/{id}
func (h *ConversationHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	uid, ok := currentUser(w, r, h.logger)
	if !ok {
		return
	}
	id, ok := conversationID(w, r, h.logger)
	if !ok {
		return
	}

	if err := h.svc.DeleteConversation(r.Context(), uid, id); err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}
	WriteSuccess(w, map[string]string{"id": id})
}

// HandleMessages 处理 GET /api/chat/messages?conversationId=
func (h *ConversationHandler) HandleMessages(w http.ResponseWriter, r *http.Request) {
	uid, ok := currentUser(w, r, h.logger)
	if !ok {
		return
	}
	msgs, err := h.svc.ListMessages(r.Context(), uid, r.URL.Query().Get("conversationId"))
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}
	WriteSuccess(w, map[string]any{"messages": msgs})
}

func conversationID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (string, bool) {
	id := r.PathValue("id")
	if id == "" {
		WriteError(w, types.NewError(types.ErrInvalidRequest, "Conversation ID is required"), logger)
		return "", false
	}
	return id, true
}
