package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/Ellipog/chat/api"
	"github.com/Ellipog/chat/chat"
	"github.com/Ellipog/chat/llm/streaming"
)

// =============================================================================
// 🌊 流式回复 Handler
// =============================================================================

// StreamHandler 通过 SSE 或 WebSocket 推送模型回复
type StreamHandler struct {
	svc            *chat.Service
	originPatterns []string
	logger         *zap.Logger
}

// NewStreamHandler 创建流式处理器。originPatterns 为允许的 WebSocket 来源，
// 为空时只接受同源连接
func NewStreamHandler(svc *chat.Service, originPatterns []string, logger *zap.Logger) *StreamHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamHandler{
		svc:            svc,
		originPatterns: originPatterns,
		logger:         logger.With(zap.String("component", "stream_handler")),
	}
}

// HandleStream 处理 POST /api/chat/stream（SSE）。
// 开始输出前的错误按普通 JSON 错误返回，之后的错误以错误事件结束流。
func (h *StreamHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	uid, ok := currentUser(w, r, h.logger)
	if !ok {
		return
	}

	var req api.StreamRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	st, err := h.svc.PrepareStream(r.Context(), chat.StreamInput{
		UserID:         uid,
		ConversationID: req.ConversationID,
		Message:        req.Message,
		UserInfo:       req.UserInfo,
		Framing:        streaming.FramingSSE,
	})
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}

	// 流的时长由上游决定，不受服务器 WriteTimeout 约束
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil {
		h.logger.Debug("write deadline not cleared", zap.Error(err))
	}

	transport := streaming.NewHTTPTransport(w, st.Encoder().ContentType())
	res, err := st.Run(r.Context(), transport, streaming.Hooks{})
	if err != nil && !transport.Committed() {
		WriteServiceError(w, err, h.logger)
		return
	}

	h.logger.Debug("sse stream finished",
		zap.String("conversation_id", req.ConversationID),
		zap.String("outcome", string(res.Outcome)),
		zap.Int("flushes", res.Flushes),
		zap.Bool("persisted", res.Persisted),
	)
}

// HandleWebSocket 处理 GET /api/chat/ws。
// 客户端以 StreamRequest 作为首条文本消息，随后每个事件为一条文本消息；
// 客户端关闭连接即取消流。
func (h *StreamHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	uid, ok := currentUser(w, r, h.logger)
	if !ok {
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		h.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(maxJSONBody)

	ctx := r.Context()
	readCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	var req api.StreamRequest
	err = wsjson.Read(readCtx, conn, &req)
	cancel()
	if err != nil {
		h.logger.Debug("websocket request not received", zap.Error(err))
		conn.Close(websocket.StatusUnsupportedData, "expected a JSON stream request")
		return
	}

	st, err := h.svc.PrepareStream(ctx, chat.StreamInput{
		UserID:         uid,
		ConversationID: req.ConversationID,
		Message:        req.Message,
		UserInfo:       req.UserInfo,
		Framing:        streaming.FramingNone,
	})
	if err != nil {
		h.rejectSocket(ctx, conn, err)
		return
	}

	// CloseRead 在客户端关闭或断开时取消 streamCtx
	streamCtx := conn.CloseRead(ctx)
	res, err := st.Run(streamCtx, streaming.NewWebSocketTransport(streamCtx, conn), streaming.Hooks{})
	switch {
	case err != nil:
		conn.Close(websocket.StatusInternalError, streaming.StreamFailedMessage)
	case res.Outcome == streaming.OutcomeCancelled:
		// 客户端已离开，由 CloseNow 释放连接
	default:
		conn.Close(websocket.StatusNormalClosure, "")
	}

	h.logger.Debug("websocket stream finished",
		zap.String("conversation_id", req.ConversationID),
		zap.String("outcome", string(res.Outcome)),
		zap.Int("flushes", res.Flushes),
		zap.Bool("persisted", res.Persisted),
	)
}

// rejectSocket 发送与 HTTP 接口相同的错误信封后关闭连接
func (h *StreamHandler) rejectSocket(ctx context.Context, conn *websocket.Conn, err error) {
	apiErr := ToAPIError(err)
	status := apiErr.HTTPStatus
	if status == 0 {
		status = mapErrorCodeToHTTPStatus(apiErr.Code)
	}

	if werr := wsjson.Write(ctx, conn, Response{
		Success:   false,
		Error:     &ErrorInfo{Code: string(apiErr.Code), Message: apiErr.Message, Retryable: apiErr.Retryable},
		Timestamp: time.Now(),
	}); werr != nil && !errors.Is(werr, context.Canceled) {
		h.logger.Debug("websocket error not delivered", zap.Error(werr))
	}

	code := websocket.StatusPolicyViolation
	if status >= http.StatusInternalServerError {
		code = websocket.StatusInternalError
		h.logger.Error("stream rejected", zap.Error(err))
	}
	conn.Close(code, apiErr.Message)
}
