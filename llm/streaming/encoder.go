package streaming

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Ellipog/chat/llm"
)

// Encoder turns buffer slices and terminal signals into self-delimited
// outbound events. One encoder is fixed for the lifetime of a stream.
type Encoder interface {
	// ContentType is the media type announced to HTTP clients.
	ContentType() string
	// Partial encodes a flushed slice.
	Partial(text string) ([]byte, error)
	// Terminal encodes the completion marker. A nil result means the
	// policy signals completion by closing the stream.
	Terminal(fullText string) ([]byte, error)
	// Error encodes a terminal error. A nil result means no error frame.
	Error(err error) ([]byte, error)
}

// FinalEncoder is implemented by encoders that mark the slice drained on
// upstream exhaustion differently from interval flushes.
type FinalEncoder interface {
	Final(text string) ([]byte, error)
}

// Framing selects how structured records are delimited.
type Framing int

const (
	// FramingSSE prefixes each record with "data: " and ends it with a blank line.
	FramingSSE Framing = iota
	// FramingNone emits bare JSON, for message-oriented transports such as WebSocket.
	FramingNone
)

// StreamFailedMessage is the error text clients receive in the error event.
const StreamFailedMessage = "Stream processing failed"

type partialEvent struct {
	Message   string `json:"message"`
	UserInfo  any    `json:"userInfo,omitempty"`
	IsPartial bool   `json:"isPartial"`
}

type completeEvent struct {
	Message    string `json:"message"`
	UserInfo   any    `json:"userInfo,omitempty"`
	IsComplete bool   `json:"isComplete"`
}

type errorEvent struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// StructuredEncoder emits one JSON record per event. Context is carried
// verbatim in every record under "userInfo". JSON string escaping keeps
// newlines inside content from ever forming an event boundary.
type StructuredEncoder struct {
	Context any
	Framing Framing
}

// NewStructuredEncoder returns an SSE-framed structured encoder.
func NewStructuredEncoder(context any) *StructuredEncoder {
	return &StructuredEncoder{Context: context, Framing: FramingSSE}
}

func (e *StructuredEncoder) ContentType() string {
	if e.Framing == FramingSSE {
		return "text/event-stream"
	}
	return "application/json"
}

func (e *StructuredEncoder) Partial(text string) ([]byte, error) {
	return e.frame(partialEvent{Message: text, UserInfo: e.Context, IsPartial: true})
}

// Final encodes the last drained slice with isPartial=false.
func (e *StructuredEncoder) Final(text string) ([]byte, error) {
	return e.frame(partialEvent{Message: text, UserInfo: e.Context})
}

func (e *StructuredEncoder) Terminal(fullText string) ([]byte, error) {
	return e.frame(completeEvent{Message: fullText, UserInfo: e.Context, IsComplete: true})
}

func (e *StructuredEncoder) Error(err error) ([]byte, error) {
	return e.frame(errorEvent{Error: StreamFailedMessage, Details: errorDetails(err)})
}

func (e *StructuredEncoder) frame(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	if e.Framing == FramingNone {
		return data, nil
	}

	var buf bytes.Buffer
	buf.Grow(len(data) + 8)
	buf.WriteString("data: ")
	buf.Write(data)
	buf.WriteString("\n\n")
	return buf.Bytes(), nil
}

// errorDetails keeps upstream messages but never leaks wrapped causes.
func errorDetails(err error) string {
	if err == nil {
		return ""
	}
	var le *llm.Error
	if errors.As(err, &le) {
		return le.Message
	}
	return err.Error()
}

// RawEncoder emits the literal text of each slice with no envelope.
// Completion is signaled only by closing the stream.
type RawEncoder struct{}

func (RawEncoder) ContentType() string { return "text/plain; charset=utf-8" }

func (RawEncoder) Partial(text string) ([]byte, error) { return []byte(text), nil }

func (RawEncoder) Terminal(string) ([]byte, error) { return nil, nil }

func (RawEncoder) Error(error) ([]byte, error) { return nil, nil }

// NewEncoder builds the encoder named by the stream.encoding setting.
func NewEncoder(name string, context any) (Encoder, error) {
	switch name {
	case "", "structured":
		return NewStructuredEncoder(context), nil
	case "raw":
		return RawEncoder{}, nil
	default:
		return nil, fmt.Errorf("unknown stream encoding %q", name)
	}
}
