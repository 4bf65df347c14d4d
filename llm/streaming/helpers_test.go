package streaming

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Ellipog/chat/llm"
)

// syncClock is a fake clock shared between the source goroutine and the controller.
type syncClock struct {
	mu sync.Mutex
	t  time.Time
}

func newSyncClock() *syncClock { return &syncClock{t: epoch} }

func (c *syncClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *syncClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// recordingTransport captures every write. It fails once failAt writes
// have succeeded when failAt > 0.
type recordingTransport struct {
	mu      sync.Mutex
	writes  [][]byte
	flushes int
	failAt  int
}

func (r *recordingTransport) Write(p []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAt > 0 && len(r.writes) >= r.failAt {
		return ErrTransportClosed
	}
	r.writes = append(r.writes, append([]byte(nil), p...))
	return nil
}

func (r *recordingTransport) Flush() error {
	r.mu.Lock()
	r.flushes++
	r.mu.Unlock()
	return nil
}

type sseRecord struct {
	Message    string `json:"message"`
	UserInfo   any    `json:"userInfo"`
	IsPartial  bool   `json:"isPartial"`
	IsComplete bool   `json:"isComplete"`
	Error      string `json:"error"`
	Details    string `json:"details"`
}

func (r *recordingTransport) records() []sseRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]sseRecord, 0, len(r.writes))
	for _, w := range r.writes {
		body := bytes.TrimSuffix(bytes.TrimPrefix(w, []byte("data: ")), []byte("\n\n"))
		var rec sseRecord
		if err := json.Unmarshal(body, &rec); err != nil {
			panic(err)
		}
		out = append(out, rec)
	}
	return out
}

// partialText joins every content record, the final drained slice included.
func (r *recordingTransport) partialText() string {
	var sb strings.Builder
	for _, rec := range r.records() {
		if !rec.IsComplete && rec.Error == "" {
			sb.WriteString(rec.Message)
		}
	}
	return sb.String()
}

// committingTransport behaves like HTTPTransport with respect to Committer.
type committingTransport struct {
	recordingTransport
}

func (c *committingTransport) Committed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.writes) > 0
}

// countingSink records every invocation.
type countingSink struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (s *countingSink) Complete(_ context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, text)
	return s.err
}

func (s *countingSink) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// scriptedSource emits fragments in order, honouring cancellation. before
// runs ahead of each send and may advance a clock. When before is set an
// empty chunk follows every fragment: its send only completes once the
// controller has finished with the fragment, so the next clock step cannot
// overtake it. A non-nil failWith is sent as a terminal error chunk after
// the fragments.
type scriptedSource struct {
	fragments []string
	before    func(i int)
	failWith  *llm.Error
	openErr   error

	opened atomic.Int32
	sent   atomic.Int32
	done   chan struct{}
}

func (s *scriptedSource) Source() Source {
	s.done = make(chan struct{})
	return func(ctx context.Context) (<-chan llm.StreamChunk, error) {
		s.opened.Add(1)
		if s.openErr != nil {
			close(s.done)
			return nil, s.openErr
		}
		ch := make(chan llm.StreamChunk)
		go func() {
			defer close(s.done)
			defer close(ch)
			for i, f := range s.fragments {
				if s.before != nil {
					s.before(i)
				}
				select {
				case ch <- llm.StreamChunk{Delta: llm.Message{Role: llm.RoleAssistant, Content: f}}:
					s.sent.Add(1)
				case <-ctx.Done():
					return
				}
				if s.before != nil {
					select {
					case ch <- llm.StreamChunk{}:
					case <-ctx.Done():
						return
					}
				}
			}
			if s.failWith != nil {
				select {
				case ch <- llm.StreamChunk{Err: s.failWith}:
				case <-ctx.Done():
				}
			}
		}()
		return ch, nil
	}
}

func (s *scriptedSource) wait() {
	if s.done != nil {
		<-s.done
	}
}

type fakeRecorder struct {
	outcomes     []string
	sinkFailures int
}

func (f *fakeRecorder) RecordStream(outcome string, _, _ int, _ time.Duration) {
	f.outcomes = append(f.outcomes, outcome)
}

func (f *fakeRecorder) RecordSinkFailure() { f.sinkFailures++ }

var errBoom = errors.New("boom")
