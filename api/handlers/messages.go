package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/Ellipog/chat/api"
	"github.com/Ellipog/chat/chat"
	"github.com/Ellipog/chat/store"
)

// =============================================================================
// 💬 消息 Handler
// =============================================================================

// MessageHandler 发送消息与用户资料分析
type MessageHandler struct {
	svc    *chat.Service
	users  store.UserStore
	logger *zap.Logger
}

// NewMessageHandler 创建消息处理器
func NewMessageHandler(svc *chat.Service, users store.UserStore, logger *zap.Logger) *MessageHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MessageHandler{svc: svc, users: users, logger: logger.With(zap.String("component", "message_handler"))}
}

// HandleSend 处理 POST /api/chat/message。
// 发送与分析并行执行；分析失败通过 analysisError 返回，不影响发送结果。
func (h *MessageHandler) HandleSend(w http.ResponseWriter, r *http.Request) {
	uid, ok := currentUser(w, r, h.logger)
	if !ok {
		return
	}

	var req api.SendMessageRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	res, err := h.svc.SendMessage(r.Context(), chat.SendMessageInput{
		UserID:         uid,
		Message:        req.Message,
		ConversationID: req.ConversationID,
		Attachments:    req.Attachments,
	})
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}

	newInfo := res.NewInfo
	if newInfo == nil {
		newInfo = []store.UserFact{}
	}
	WriteSuccess(w, api.SendMessageResponse{
		ConversationID:  res.ConversationID,
		NewConversation: res.NewConversation,
		NewInfo:         newInfo,
		AnalysisError:   res.AnalysisError,
	})
}

// HandleAnalyze 处理 POST /api/chat/analyze；未提供 userInfo 时使用当前档案
func (h *MessageHandler) HandleAnalyze(w http.ResponseWriter, r *http.Request) {
	uid, ok := currentUser(w, r, h.logger)
	if !ok {
		return
	}

	var req api.AnalyzeRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	known := req.UserInfo
	if known == nil {
		user, err := h.users.GetUser(r.Context(), uid)
		if err != nil {
			WriteServiceError(w, notFoundAs(err, "User not found"), h.logger)
			return
		}
		known = user.UserInfo
	}

	facts, err := h.svc.Analyze(r.Context(), uid, req.Message, known)
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}
	WriteSuccess(w, api.AnalyzeResponse{NewInfo: facts})
}
