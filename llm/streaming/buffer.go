package streaming

import (
	"regexp"
	"strings"
	"time"
)

// sentenceEnd matches a fragment that closes a sentence.
var sentenceEnd = regexp.MustCompile(`[.!?]\s*$`)

// FlushPolicy decides when buffered text is pushed downstream.
type FlushPolicy struct {
	// Interval is the maximum time text may sit in the buffer while new
	// fragments keep arriving. A zero interval flushes on every fragment.
	Interval time.Duration
	// SentenceFlush flushes as soon as a fragment ends with . ! or ?
	SentenceFlush bool
}

// ChunkBuffer accumulates fragments for a single stream and reports when
// the pending slice should be flushed. It is not safe for concurrent use;
// the owning Controller is its only caller.
type ChunkBuffer struct {
	policy    FlushPolicy
	now       func() time.Time
	pending   strings.Builder
	text      strings.Builder
	lastFlush time.Time
	fragments int
}

// NewChunkBuffer creates a buffer whose flush clock starts now.
func NewChunkBuffer(policy FlushPolicy, now func() time.Time) *ChunkBuffer {
	if now == nil {
		now = time.Now
	}
	b := &ChunkBuffer{policy: policy, now: now}
	b.lastFlush = now()
	return b
}

// Append adds a fragment. When a flush trigger fires it returns the pending
// slice, which is cleared. Empty fragments are ignored entirely.
func (b *ChunkBuffer) Append(fragment string) (string, bool) {
	if fragment == "" {
		return "", false
	}

	b.pending.WriteString(fragment)
	b.text.WriteString(fragment)
	b.fragments++

	t := b.now()
	if t.Sub(b.lastFlush) >= b.policy.Interval ||
		(b.policy.SentenceFlush && sentenceEnd.MatchString(fragment)) {
		return b.flush(t), true
	}
	return "", false
}

// Drain flushes whatever is pending regardless of policy.
func (b *ChunkBuffer) Drain() (string, bool) {
	if b.pending.Len() == 0 {
		return "", false
	}
	return b.flush(b.now()), true
}

func (b *ChunkBuffer) flush(t time.Time) string {
	s := b.pending.String()
	b.pending.Reset()
	b.lastFlush = t
	return s
}

// Text returns every fragment appended so far, in arrival order.
func (b *ChunkBuffer) Text() string { return b.text.String() }

// Pending returns text not yet flushed.
func (b *ChunkBuffer) Pending() string { return b.pending.String() }

// Fragments returns the number of non-empty fragments appended.
func (b *ChunkBuffer) Fragments() int { return b.fragments }

// LastFlush returns the time of the most recent flush or reset.
func (b *ChunkBuffer) LastFlush() time.Time { return b.lastFlush }

// Reset discards all state and restarts the flush clock at t.
func (b *ChunkBuffer) Reset(t time.Time) {
	b.pending.Reset()
	b.text.Reset()
	b.fragments = 0
	b.lastFlush = t
}
