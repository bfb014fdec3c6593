package streaming

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/opsagent/orchestrator/internal/metrics"
)

// Notice types.
const (
	NoticeInvoked    = "invoked"
	NoticeFinished   = "finished"
	NoticeToolCall   = "tool_call"
	NoticeToolResult = "tool_result"
)

// DefaultBacklog bounds the queued notices per session.
const DefaultBacklog = 1024

// Notice is one progress message for a session. Message is the text sent on
// the wire.
type Notice struct {
	SessionID string    `json:"session_id"`
	Seq       uint64    `json:"seq"`
	Type      string    `json:"type"`
	Source    string    `json:"source,omitempty"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Marshal returns JSON for the notice payload.
func (n Notice) Marshal() []byte {
	b, _ := json.Marshal(n)
	return b
}

// Sink receives a copy of every published notice. Forward must not block.
type Sink interface {
	Forward(n Notice)
}

// Bus routes notices from producers to at most one consumer per session.
// Sessions exist only while a consumer is open; notices for any other
// session are dropped.
type Bus struct {
	mu       sync.RWMutex
	sessions map[string]*Consumer
	backlog  int
	sinks    []Sink
	logger   *zap.Logger
}

// Option configures a Bus.
type Option func(*Bus)

// WithBacklog sets the per-session queue bound.
func WithBacklog(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.backlog = n
		}
	}
}

// WithSink mirrors published notices to s.
func WithSink(s Sink) Option {
	return func(b *Bus) { b.sinks = append(b.sinks, s) }
}

// NewBus creates an empty registry.
func NewBus(logger *zap.Logger, opts ...Option) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Bus{
		sessions: make(map[string]*Consumer),
		backlog:  DefaultBacklog,
		logger:   logger,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Open attaches a consumer to the session, creating the entry. A consumer
// already attached to the session is terminated and replaced.
func (b *Bus) Open(sessionID string) *Consumer {
	c := newConsumer(sessionID, b.backlog)
	b.mu.Lock()
	prev := b.sessions[sessionID]
	b.sessions[sessionID] = c
	b.mu.Unlock()

	if prev != nil {
		prev.abandon()
		b.logger.Debug("Replaced stream consumer", zap.String("session_id", sessionID))
	} else {
		metrics.ActiveStreams.Inc()
	}
	return c
}

// Publish enqueues a notice for the session's consumer without blocking.
func (b *Bus) Publish(sessionID string, n Notice) {
	n.SessionID = sessionID
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}
	for _, s := range b.sinks {
		s.Forward(n)
	}

	b.mu.RLock()
	c := b.sessions[sessionID]
	b.mu.RUnlock()
	if c == nil {
		return
	}
	if !c.push(n) {
		metrics.StreamNoticesDropped.Inc()
		return
	}
	metrics.StreamNotices.WithLabelValues(n.Type).Inc()
}

// Close ends the session. Its consumer drains what is queued and then sees
// the end of the stream.
func (b *Bus) Close(sessionID string) {
	b.mu.Lock()
	c := b.sessions[sessionID]
	delete(b.sessions, sessionID)
	b.mu.Unlock()

	if c != nil {
		c.finish()
		metrics.ActiveStreams.Dec()
	}
}

// Detach removes c if it is still the session's consumer and discards its
// queue.
func (b *Bus) Detach(c *Consumer) {
	b.mu.Lock()
	current := b.sessions[c.sessionID] == c
	if current {
		delete(b.sessions, c.sessionID)
	}
	b.mu.Unlock()

	c.abandon()
	if current {
		metrics.ActiveStreams.Dec()
	}
}

// IsOpen reports whether a consumer is attached to the session.
func (b *Bus) IsOpen(sessionID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.sessions[sessionID]
	return ok
}

// Emitter returns a producer handle bound to one session.
func (b *Bus) Emitter(sessionID string) Emitter {
	return Emitter{bus: b, sessionID: sessionID}
}

// Consumer is the read side of one session's conduit.
type Consumer struct {
	sessionID string
	backlog   int

	mu      sync.Mutex
	queue   []Notice
	nextSeq uint64
	done    bool
	ready   chan struct{}
}

func newConsumer(sessionID string, backlog int) *Consumer {
	return &Consumer{
		sessionID: sessionID,
		backlog:   backlog,
		nextSeq:   1,
		ready:     make(chan struct{}, 1),
	}
}

// SessionID returns the session this consumer reads.
func (c *Consumer) SessionID() string { return c.sessionID }

// Next blocks until a notice is available. It returns false once the
// session has ended and the queue is drained, or when ctx is done.
func (c *Consumer) Next(ctx context.Context) (Notice, bool) {
	for {
		c.mu.Lock()
		if len(c.queue) > 0 {
			n := c.queue[0]
			c.queue[0] = Notice{}
			c.queue = c.queue[1:]
			c.mu.Unlock()
			return n, true
		}
		if c.done {
			c.mu.Unlock()
			return Notice{}, false
		}
		c.mu.Unlock()

		select {
		case <-c.ready:
		case <-ctx.Done():
			return Notice{}, false
		}
	}
}

func (c *Consumer) push(n Notice) bool {
	c.mu.Lock()
	if c.done || len(c.queue) >= c.backlog {
		c.mu.Unlock()
		return false
	}
	n.Seq = c.nextSeq
	c.nextSeq++
	c.queue = append(c.queue, n)
	c.mu.Unlock()
	c.wake()
	return true
}

func (c *Consumer) finish() {
	c.mu.Lock()
	c.done = true
	c.mu.Unlock()
	c.wake()
}

func (c *Consumer) abandon() {
	c.mu.Lock()
	c.done = true
	c.queue = nil
	c.mu.Unlock()
	c.wake()
}

func (c *Consumer) wake() {
	select {
	case c.ready <- struct{}{}:
	default:
	}
}
