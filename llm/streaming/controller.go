package streaming

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Ellipog/chat/llm"
)

var (
	// ErrAlreadyRunning is returned when Run is called on a stream in flight.
	ErrAlreadyRunning = errors.New("streaming: controller already running")
	// ErrSinkFailed wraps a completion sink failure surfaced as fatal.
	ErrSinkFailed = errors.New("streaming: completion sink failed")
)

// State is the lifecycle position of a Controller.
type State int

const (
	StateIdle State = iota
	StateStreaming
	StateFlushing
	StateCompleting
	StateErroring
	StateCancelling
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateFlushing:
		return "flushing"
	case StateCompleting:
		return "completing"
	case StateErroring:
		return "erroring"
	case StateCancelling:
		return "cancelling"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Outcome is how a stream ended.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeFailed    Outcome = "failed"
)

// Source opens the upstream generator. The controller calls it lazily from
// Run with a context it cancels on client disconnect or Cancel.
type Source func(ctx context.Context) (<-chan llm.StreamChunk, error)

// ProviderSource streams req from p.
func ProviderSource(p llm.Provider, req *llm.ChatRequest) Source {
	return func(ctx context.Context) (<-chan llm.StreamChunk, error) {
		return p.Stream(ctx, req)
	}
}

// Config holds per-stream policy.
type Config struct {
	FlushInterval time.Duration
	SentenceFlush bool
	// SinkFailureFatal turns a sink error into an error event and a Run error.
	SinkFailureFatal bool
	// PersistEmpty invokes the sink even when no text was produced.
	PersistEmpty bool
	// PersistPartialOnCancel hands the text received so far to the sink
	// when the stream is cancelled.
	PersistPartialOnCancel bool
	// SinkTimeout bounds the sink call. Zero means no bound.
	SinkTimeout time.Duration
}

// DefaultConfig returns the standard policy: 100ms interval, sentence
// flushing, discard on cancel, non-fatal sink failures, skip empty persist.
func DefaultConfig() Config {
	return Config{
		FlushInterval: 100 * time.Millisecond,
		SentenceFlush: true,
		SinkTimeout:   10 * time.Second,
	}
}

// Hooks are typed callbacks invoked on the Run goroutine.
type Hooks struct {
	OnPartial  func(text string)
	OnComplete func(fullText string)
	OnError    func(err error)
}

// Recorder receives per-stream metrics.
type Recorder interface {
	RecordStream(outcome string, fragments, flushes int, duration time.Duration)
	RecordSinkFailure()
}

// Result summarises a finished stream.
type Result struct {
	Text      string
	Outcome   Outcome
	Fragments int
	Flushes   int
	Persisted bool
	SinkErr   error
}

// Option configures a Controller.
type Option func(*Controller)

func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock replaces time.Now for flush timing.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

func WithHooks(h Hooks) Option {
	return func(c *Controller) { c.hooks = h }
}

func WithRecorder(r Recorder) Option {
	return func(c *Controller) { c.recorder = r }
}

// Controller drives one stream: it reads fragments from the source, feeds
// the ChunkBuffer, writes encoded events to the transport and invokes the
// sink once on completion. A Controller is single use.
type Controller struct {
	cfg       Config
	encoder   Encoder
	sink      Sink
	transport Transport
	hooks     Hooks
	recorder  Recorder
	logger    *zap.Logger
	now       func() time.Time

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	result Result

	buf     *ChunkBuffer
	flushes int
}

// New creates a Controller in the Idle state.
func New(cfg Config, encoder Encoder, sink Sink, transport Transport, opts ...Option) *Controller {
	if sink == nil {
		sink = NopSink
	}
	c := &Controller{
		cfg:       cfg,
		encoder:   encoder,
		sink:      sink,
		transport: transport,
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("component", "stream_controller"))
	return c
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	if c.state != StateClosed {
		c.state = s
	}
	c.mu.Unlock()
}

// Cancel aborts the stream. It is safe to call from any goroutine, at any
// time, any number of times. Cancelling an Idle controller closes it.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateClosed:
	case StateIdle:
		c.state = StateClosed
		c.result.Outcome = OutcomeCancelled
	default:
		if c.cancel != nil {
			c.cancel()
		}
	}
}

// Run streams the source to the transport until exhaustion, failure or
// cancellation. Cancellation, whether by ctx or Cancel, is not an error.
// Calling Run on a closed controller returns the previous result.
func (c *Controller) Run(ctx context.Context, source Source) (Result, error) {
	c.mu.Lock()
	switch c.state {
	case StateIdle:
	case StateClosed:
		res := c.result
		c.mu.Unlock()
		return res, nil
	default:
		c.mu.Unlock()
		return Result{}, ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.state = StateStreaming
	c.mu.Unlock()
	defer cancel()

	start := c.now()
	c.buf = NewChunkBuffer(FlushPolicy{
		Interval:      c.cfg.FlushInterval,
		SentenceFlush: c.cfg.SentenceFlush,
	}, c.now)
	c.logger.Debug("stream started")

	res, err := c.consume(ctx, source)
	c.finish(res, start)
	return res, err
}

func (c *Controller) consume(ctx context.Context, source Source) (Result, error) {
	chunks, err := source(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return c.cancelled(ctx), nil
		}
		return c.fail(err)
	}

	for {
		if ctx.Err() != nil {
			return c.cancelled(ctx), nil
		}

		select {
		case <-ctx.Done():
			return c.cancelled(ctx), nil

		case chunk, ok := <-chunks:
			if !ok {
				// Providers close the channel when ctx is cancelled too.
				if ctx.Err() != nil {
					return c.cancelled(ctx), nil
				}
				return c.complete(ctx)
			}
			// A fragment that raced with cancellation is dropped.
			if ctx.Err() != nil {
				return c.cancelled(ctx), nil
			}
			if chunk.Err != nil {
				return c.fail(chunk.Err)
			}
			slice, flush := c.buf.Append(chunk.Delta.Content)
			if !flush {
				continue
			}
			if err := c.emitPartial(slice, false); err != nil {
				c.logger.Debug("client went away", zap.Error(err))
				c.cancel()
				return c.cancelled(ctx), nil
			}
		}
	}
}

func (c *Controller) emitPartial(slice string, final bool) error {
	c.setState(StateFlushing)
	defer c.setState(StateStreaming)

	var (
		data []byte
		err  error
	)
	if fe, ok := c.encoder.(FinalEncoder); ok && final {
		data, err = fe.Final(slice)
	} else {
		data, err = c.encoder.Partial(slice)
	}
	if err != nil {
		return err
	}
	if err := c.write(data); err != nil {
		return err
	}
	c.flushes++
	if c.hooks.OnPartial != nil {
		c.hooks.OnPartial(slice)
	}
	return nil
}

func (c *Controller) write(data []byte) error {
	if data == nil {
		return nil
	}
	if err := c.transport.Write(data); err != nil {
		return err
	}
	return c.transport.Flush()
}

func (c *Controller) complete(ctx context.Context) (Result, error) {
	c.setState(StateCompleting)

	// Upstream is exhausted: a failed final write no longer prevents
	// the response from being recorded.
	writable := true
	if slice, ok := c.buf.Drain(); ok {
		if err := c.emitPartial(slice, true); err != nil {
			c.logger.Debug("final flush failed", zap.Error(err))
			writable = false
		}
		c.setState(StateCompleting)
	}

	res := c.snapshot(OutcomeCompleted)

	if res.Text != "" || c.cfg.PersistEmpty {
		res.Persisted, res.SinkErr = c.persist(ctx, res.Text)
		if res.SinkErr != nil && c.cfg.SinkFailureFatal {
			err := fmt.Errorf("%w: %w", ErrSinkFailed, res.SinkErr)
			res.Outcome = OutcomeFailed
			c.setState(StateErroring)
			if writable {
				c.emitError(err)
			}
			if c.hooks.OnError != nil {
				c.hooks.OnError(err)
			}
			return res, err
		}
	}

	if writable {
		data, err := c.encoder.Terminal(res.Text)
		if err == nil {
			err = c.write(data)
		}
		if err != nil {
			c.logger.Debug("terminal event not delivered", zap.Error(err))
		}
	}
	if c.hooks.OnComplete != nil {
		c.hooks.OnComplete(res.Text)
	}
	return res, nil
}

func (c *Controller) persist(ctx context.Context, text string) (bool, error) {
	sctx := context.WithoutCancel(ctx)
	if c.cfg.SinkTimeout > 0 {
		var cancel context.CancelFunc
		sctx, cancel = context.WithTimeout(sctx, c.cfg.SinkTimeout)
		defer cancel()
	}

	if err := c.sink.Complete(sctx, text); err != nil {
		c.logger.Error("completion sink failed", zap.Error(err), zap.Int("bytes", len(text)))
		if c.recorder != nil {
			c.recorder.RecordSinkFailure()
		}
		return false, err
	}
	return true, nil
}

func (c *Controller) fail(err error) (Result, error) {
	c.setState(StateErroring)
	c.logger.Warn("upstream stream failed", zap.Error(err))

	c.emitError(err)
	if c.hooks.OnError != nil {
		c.hooks.OnError(err)
	}
	return c.snapshot(OutcomeFailed), err
}

// emitError writes a best-effort error event. Transports that have not
// committed any output are left untouched so the caller can answer with an
// ordinary error response.
func (c *Controller) emitError(err error) {
	if cm, ok := c.transport.(Committer); ok && !cm.Committed() {
		return
	}
	data, encErr := c.encoder.Error(err)
	if encErr != nil {
		return
	}
	if werr := c.write(data); werr != nil {
		c.logger.Debug("error event not delivered", zap.Error(werr))
	}
}

func (c *Controller) cancelled(ctx context.Context) Result {
	c.setState(StateCancelling)
	c.logger.Debug("stream cancelled", zap.Int("fragments", c.buf.Fragments()))

	res := c.snapshot(OutcomeCancelled)
	if c.cfg.PersistPartialOnCancel && res.Text != "" {
		res.Persisted, res.SinkErr = c.persist(ctx, res.Text)
	}
	return res
}

func (c *Controller) snapshot(o Outcome) Result {
	return Result{
		Text:      c.buf.Text(),
		Outcome:   o,
		Fragments: c.buf.Fragments(),
		Flushes:   c.flushes,
	}
}

func (c *Controller) finish(res Result, start time.Time) {
	c.mu.Lock()
	c.state = StateClosed
	c.result = res
	c.mu.Unlock()

	d := c.now().Sub(start)
	if c.recorder != nil {
		c.recorder.RecordStream(string(res.Outcome), res.Fragments, res.Flushes, d)
	}
	if res.Outcome == OutcomeCompleted {
		c.logger.Info("stream completed",
			zap.Int("fragments", res.Fragments),
			zap.Int("bytes", len(res.Text)),
			zap.Int("flushes", res.Flushes),
			zap.Bool("persisted", res.Persisted),
			zap.Duration("duration", d),
		)
	}
}
