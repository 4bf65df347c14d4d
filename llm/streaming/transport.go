package streaming

import (
	"context"
	"errors"
	"net/http"

	"github.com/coder/websocket"
)

// Transport carries encoded events to the client. Write blocking is the
// backpressure point: the controller does not read the next fragment until
// the previous event has been handed off.
type Transport interface {
	Write(p []byte) error
	Flush() error
}

// Committer is implemented by transports that can still report a failure
// out of band until their first write (for example an HTTP response whose
// headers have not been sent).
type Committer interface {
	Committed() bool
}

// ErrTransportClosed is returned by writes after the client went away.
var ErrTransportClosed = errors.New("streaming: transport closed")

// HTTPTransport streams events over a chunked HTTP response. Headers are
// committed on the first write so a failure before any output can still be
// answered with an ordinary error response.
type HTTPTransport struct {
	w           http.ResponseWriter
	flusher     http.Flusher
	contentType string
	committed   bool
}

// NewHTTPTransport wraps w. contentType usually comes from Encoder.ContentType.
func NewHTTPTransport(w http.ResponseWriter, contentType string) *HTTPTransport {
	f, _ := w.(http.Flusher)
	return &HTTPTransport{w: w, flusher: f, contentType: contentType}
}

func (t *HTTPTransport) commit() {
	if t.committed {
		return
	}
	h := t.w.Header()
	h.Set("Content-Type", t.contentType)
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	t.w.WriteHeader(http.StatusOK)
	t.committed = true
}

func (t *HTTPTransport) Write(p []byte) error {
	t.commit()
	if _, err := t.w.Write(p); err != nil {
		return errors.Join(ErrTransportClosed, err)
	}
	return nil
}

func (t *HTTPTransport) Flush() error {
	t.commit()
	if t.flusher != nil {
		t.flusher.Flush()
	}
	return nil
}

func (t *HTTPTransport) Committed() bool { return t.committed }

// WebSocketTransport sends each event as one text message.
type WebSocketTransport struct {
	ctx  context.Context
	conn *websocket.Conn
}

// NewWebSocketTransport writes on conn using ctx for every message.
func NewWebSocketTransport(ctx context.Context, conn *websocket.Conn) *WebSocketTransport {
	return &WebSocketTransport{ctx: ctx, conn: conn}
}

func (t *WebSocketTransport) Write(p []byte) error {
	if err := t.conn.Write(t.ctx, websocket.MessageText, p); err != nil {
		return errors.Join(ErrTransportClosed, err)
	}
	return nil
}

// Flush is a no-op: every websocket message is sent as a complete frame.
func (t *WebSocketTransport) Flush() error { return nil }
