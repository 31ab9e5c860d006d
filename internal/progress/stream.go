package progress

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultHistory    = 1000
	defaultSubscriber = 64
)

// Stream is the ordered event log of one session. Emit assigns sequence
// numbers under the stream lock, so subscribers observe strictly increasing
// sequences. Delivery is best effort: a subscriber whose buffer is full
// misses the event and can detect the gap from the sequence.
type Stream struct {
	sessionID     string
	correlationID string
	now           func() time.Time
	historyLimit  int
	bufSize       int

	mu        sync.Mutex
	seq       int64
	history   []Event
	phases    map[string]PhaseStatus
	subs      map[int]chan Event
	nextSub   int
	closed    bool
	lastWrite time.Time
}

func newStream(sessionID string, now func() time.Time, historyLimit, bufSize int) *Stream {
	s := &Stream{
		sessionID:     sessionID,
		correlationID: uuid.NewString(),
		now:           now,
		historyLimit:  historyLimit,
		bufSize:       bufSize,
		phases:        make(map[string]PhaseStatus),
		subs:          make(map[int]chan Event),
		lastWrite:     now(),
	}
	for _, p := range StreamPhases() {
		s.phases[p] = StatusPending
	}
	return s
}

// SessionID returns the session the stream belongs to.
func (s *Stream) SessionID() string { return s.sessionID }

// CorrelationID identifies every event of this stream.
func (s *Stream) CorrelationID() string { return s.correlationID }

// Emit stamps ev and delivers it. It returns false, dropping ev, once the
// stream has closed.
func (s *Stream) Emit(ev Event) (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ev, false
	}

	s.seq++
	ev.Sequence = s.seq
	ev.CorrelationID = s.correlationID
	if ev.Timestamp.IsZero() {
		ev.Timestamp = s.now().UTC()
	}
	s.lastWrite = s.now()

	switch ev.Type {
	case EventPhaseStart:
		s.phases[ev.Phase] = StatusInProgress
	case EventPhaseComplete:
		s.phases[ev.Phase] = StatusCompleted
	case EventPhaseError:
		s.phases[ev.Phase] = StatusFailed
	}

	s.history = append(s.history, ev)
	if over := len(s.history) - s.historyLimit; over > 0 {
		s.history = append(s.history[:0:0], s.history[over:]...)
	}

	for id, ch := range s.subs {
		select {
		case ch <- ev:
		default:
			zap.L().Debug("progress: subscriber buffer full, dropping event",
				zap.String("session_id", s.sessionID),
				zap.Int("subscriber", id),
				zap.Int64("sequence", ev.Sequence),
			)
		}
	}

	if ev.Terminal() {
		s.closeLocked()
	}
	return ev, true
}

// Subscribe returns a channel that first replays the retained events with a
// sequence above since and then carries live events. A since ahead of the
// stream belongs to an earlier stream and replays everything retained. The
// channel closes when the stream closes, when cancel is called, or when ctx
// is done.
func (s *Stream) Subscribe(ctx context.Context, since int64) (<-chan Event, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if since > s.seq {
		since = 0
	}
	replay := s.sinceLocked(since)
	ch := make(chan Event, len(replay)+s.bufSize)
	for _, ev := range replay {
		ch <- ev
	}
	if s.closed {
		close(ch)
		return ch, func() {}
	}

	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if c, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(c)
			}
		})
	}
	stop := context.AfterFunc(ctx, cancel)
	return ch, func() {
		stop()
		cancel()
	}
}

// Since returns the retained events with a sequence above seq.
func (s *Stream) Since(seq int64) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sinceLocked(seq)
}

func (s *Stream) sinceLocked(seq int64) []Event {
	for i, ev := range s.history {
		if ev.Sequence > seq {
			return append([]Event(nil), s.history[i:]...)
		}
	}
	return nil
}

// Phases returns a snapshot of every phase status.
func (s *Stream) Phases() map[string]PhaseStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.phases)
}

// Sequence returns the last assigned sequence number.
func (s *Stream) Sequence() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

// Closed reports whether the terminal event has been emitted.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Subscribers returns the number of live subscribers.
func (s *Stream) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

func (s *Stream) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastWrite
}

// close ends the stream without a terminal event.
func (s *Stream) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
}

func (s *Stream) closeLocked() {
	if s.closed {
		return
	}
	s.closed = true
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
}
