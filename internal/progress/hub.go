package progress

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/research-pipeline/internal/model"
)

// DefaultIdleTimeout is how long a stream may go without writes before the
// janitor removes it.
const DefaultIdleTimeout = 5 * time.Minute

// Publisher accepts events for a session. The hub implements it; components
// that report progress depend on this interface only.
type Publisher interface {
	Publish(sessionID string, ev Event) (Event, bool)
}

// Publish sends ev through p when p is non-nil.
func Publish(p Publisher, sessionID string, ev Event) {
	if p == nil {
		return
	}
	p.Publish(sessionID, ev)
}

// Options configures a Hub.
type Options struct {
	IdleTimeout    time.Duration
	HistoryLimit   int
	SubscriberSize int
	NowFunc        func() time.Time
}

func (o Options) withDefaults() Options {
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = DefaultIdleTimeout
	}
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = defaultHistory
	}
	if o.SubscriberSize <= 0 {
		o.SubscriberSize = defaultSubscriber
	}
	if o.NowFunc == nil {
		o.NowFunc = time.Now
	}
	return o
}

// Hub owns the streams of every active session. It is constructed once per
// process and injected where progress is reported or consumed.
type Hub struct {
	opts Options

	mu      sync.Mutex
	streams map[string]*Stream
	// swept holds the last sequence of live streams removed for idleness.
	swept map[string]int64
}

var _ Publisher = (*Hub)(nil)

// NewHub returns an empty hub.
func NewHub(opts Options) *Hub {
	return &Hub{
		opts:    opts.withDefaults(),
		streams: make(map[string]*Stream),
		swept:   make(map[string]int64),
	}
}

// Open returns the session's open stream, replacing a closed one or creating
// it if absent. A new stream starts with a connection event. A stream that
// replaces one swept for idleness continues its sequence.
func (h *Hub) Open(sessionID string) *Stream {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.streams[sessionID]; ok && !s.Closed() {
		return s
	}
	s := newStream(sessionID, h.opts.NowFunc, h.opts.HistoryLimit, h.opts.SubscriberSize)
	if seq, ok := h.swept[sessionID]; ok {
		s.seq = seq
		delete(h.swept, sessionID)
	}
	s.Emit(Event{
		Type:    EventConnection,
		Message: "stream opened",
		Data:    map[string]any{"sessionId": sessionID},
	})
	h.streams[sessionID] = s
	return s
}

// Stream returns the session's stream, open or closed.
func (h *Hub) Stream(sessionID string) (*Stream, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.streams[sessionID]
	return s, ok
}

// Publish emits ev on the session's stream, opening one if needed. Events
// for a stream that has already ended are dropped.
func (h *Hub) Publish(sessionID string, ev Event) (Event, bool) {
	s, ok := h.Stream(sessionID)
	if !ok {
		s = h.Open(sessionID)
	}
	return s.Emit(ev)
}

// Subscribe attaches to the session's stream. See Stream.Subscribe.
func (h *Hub) Subscribe(ctx context.Context, sessionID string, since int64) (<-chan Event, func(), error) {
	s, ok := h.Stream(sessionID)
	if !ok {
		return nil, nil, model.NewError(model.ErrNotFound, sessionID, nil)
	}
	ch, cancel := s.Subscribe(ctx, since)
	return ch, cancel, nil
}

// Sweep removes streams without writes for the idle window, closing any
// subscribers still attached. It returns the number removed.
func (h *Hub) Sweep() int {
	cutoff := h.opts.NowFunc().Add(-h.opts.IdleTimeout)

	h.mu.Lock()
	var idle []*Stream
	for id, s := range h.streams {
		if s.idleSince().Before(cutoff) {
			idle = append(idle, s)
			delete(h.streams, id)
			if !s.Closed() {
				h.swept[id] = s.Sequence()
			}
		}
	}
	h.mu.Unlock()

	for _, s := range idle {
		s.close()
		zap.L().Debug("progress: removed idle stream", zap.String("session_id", s.SessionID()))
	}
	return len(idle)
}

// Run sweeps on every tick until ctx is done.
func (h *Hub) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := h.Sweep(); n > 0 {
				zap.L().Info("progress: swept idle streams", zap.Int("removed", n))
			}
		}
	}
}

// Len returns the number of tracked streams.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.streams)
}

// Close ends every stream.
func (h *Hub) Close() {
	h.mu.Lock()
	streams := h.streams
	h.streams = make(map[string]*Stream)
	h.swept = make(map[string]int64)
	h.mu.Unlock()
	for _, s := range streams {
		s.close()
	}
}
