// Package progress streams ordered phase and progress events for research
// sessions to any number of observers.
package progress

import (
	"time"

	"github.com/sells-group/research-pipeline/internal/model"
)

// EventType is the reserved event vocabulary of the stream protocol.
type EventType string

const (
	EventConnection        EventType = "connection"
	EventPhaseStart        EventType = "phase-start"
	EventProgress          EventType = "progress"
	EventPhaseComplete     EventType = "phase-complete"
	EventPhaseError        EventType = "phase-error"
	EventDataUpdate        EventType = "data-update"
	EventDiscoveryComplete EventType = "discovery-complete"
	EventNotification      EventType = "notification"
	EventError             EventType = "error"
)

// PhaseStatus is the lifecycle state of one stream phase.
type PhaseStatus string

const (
	StatusPending    PhaseStatus = "pending"
	StatusInProgress PhaseStatus = "in_progress"
	StatusCompleted  PhaseStatus = "completed"
	StatusFailed     PhaseStatus = "failed"
)

// Discovery sub-phases reported on the stream.
const (
	PhaseSitemapDiscovery = "sitemap_discovery"
	PhaseHomepageCrawl    = "homepage_crawl"
	PhasePatternDiscovery = "pattern_discovery"
	PhaseBlogDiscovery    = "blog_discovery"
	PhaseValidation       = "validation"
)

// DiscoveryPhases lists the discovery sub-phases in execution order.
func DiscoveryPhases() []string {
	return []string{
		PhaseSitemapDiscovery,
		PhaseHomepageCrawl,
		PhasePatternDiscovery,
		PhaseBlogDiscovery,
		PhaseValidation,
	}
}

// StreamPhases is every phase a stream tracks: the discovery sub-phases
// followed by the pipeline phases.
func StreamPhases() []string {
	out := DiscoveryPhases()
	for _, p := range model.AllPhases() {
		out = append(out, string(p))
	}
	return out
}

// Counter reports progress through a bounded unit of work.
type Counter struct {
	Current int `json:"current"`
	Total   int `json:"total"`
}

// Event is one message on a session stream. Sequence, CorrelationID and
// Timestamp are assigned by the stream.
type Event struct {
	Type          EventType      `json:"type"`
	Phase         string         `json:"phase,omitempty"`
	CorrelationID string         `json:"correlationId"`
	Timestamp     time.Time      `json:"timestamp"`
	Sequence      int64          `json:"sequence"`
	Status        PhaseStatus    `json:"status,omitempty"`
	Complete      bool           `json:"complete,omitempty"`
	Message       string         `json:"message,omitempty"`
	Progress      *Counter       `json:"progress,omitempty"`
	Data          map[string]any `json:"data,omitempty"`
}

// Terminal reports whether ev ends its stream.
func (ev Event) Terminal() bool {
	switch ev.Type {
	case EventError:
		return true
	case EventPhaseComplete, EventDiscoveryComplete:
		return ev.Complete
	}
	return false
}

// PhaseStarted returns a phase-start event.
func PhaseStarted(phase, msg string) Event {
	return Event{Type: EventPhaseStart, Phase: phase, Status: StatusInProgress, Message: msg}
}

// PhaseCompleted returns a phase-complete event. final marks the stream's
// terminal event.
func PhaseCompleted(phase string, final bool, data map[string]any) Event {
	return Event{Type: EventPhaseComplete, Phase: phase, Status: StatusCompleted, Complete: final, Data: data}
}

// PhaseFailed returns a phase-error event.
func PhaseFailed(phase string, err error) Event {
	ev := Event{Type: EventPhaseError, Phase: phase, Status: StatusFailed}
	if err != nil {
		ev.Message = err.Error()
		ev.Data = map[string]any{"kind": model.ErrorKind(err)}
	}
	return ev
}

// Progressed returns a progress event for current of total units.
func Progressed(phase string, current, total int, msg string) Event {
	return Event{Type: EventProgress, Phase: phase, Message: msg, Progress: &Counter{Current: current, Total: total}}
}

// DataUpdated returns a data-update event carrying data.
func DataUpdated(phase string, data map[string]any) Event {
	return Event{Type: EventDataUpdate, Phase: phase, Data: data}
}

// Failed returns the terminal error event.
func Failed(err error) Event {
	ev := Event{Type: EventError}
	if err != nil {
		ev.Message = err.Error()
		ev.Data = map[string]any{"kind": model.ErrorKind(err)}
	}
	return ev
}

// DiscoveryCompleted returns a discovery-complete event. final marks the
// stream's terminal event.
func DiscoveryCompleted(final bool, data map[string]any) Event {
	return Event{Type: EventDiscoveryComplete, Complete: final, Data: data}
}

// Aborted returns the terminal event for a session stopped by its owner.
func Aborted(reason string) Event {
	return Event{Type: EventError, Message: reason, Data: map[string]any{"kind": "aborted"}}
}

// Notified returns a notification event.
func Notified(phase, msg string, data map[string]any) Event {
	return Event{Type: EventNotification, Phase: phase, Message: msg, Data: data}
}
