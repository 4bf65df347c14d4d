package streaming

import "context"

// Sink durably records the final text of a stream. The controller calls it
// at most once per stream and only after the upstream generator is exhausted.
type Sink interface {
	Complete(ctx context.Context, fullText string) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, fullText string) error

func (f SinkFunc) Complete(ctx context.Context, fullText string) error {
	return f(ctx, fullText)
}

// NopSink discards the result.
var NopSink Sink = SinkFunc(func(context.Context, string) error { return nil })
