package model

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// Sentinel errors classify pipeline failures. Wrap them with PipelineError to
// attach diagnosis context; errors.Is still matches the sentinel.
var (
	ErrValidation             = eris.New("validation error")
	ErrNotFound               = eris.New("not found")
	ErrVersionConflict        = eris.New("version conflict")
	ErrConcurrentExecution    = eris.New("concurrent execution")
	ErrInvalidPhaseTransition = eris.New("invalid phase transition")
	ErrEnrichmentSource       = eris.New("enrichment source error")
	ErrNetwork                = eris.New("network error")
	ErrTimeout                = eris.New("timeout")
)

// PipelineError carries the session, phase, scraper and url a failure belongs
// to. Kind is one of the sentinel errors above.
type PipelineError struct {
	Kind      error
	SessionID string
	Phase     Phase
	ScraperID string
	URL       string
	Err       error
}

func (e *PipelineError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	var ctx []string
	if e.SessionID != "" {
		ctx = append(ctx, "session="+e.SessionID)
	}
	if e.Phase != "" {
		ctx = append(ctx, "phase="+string(e.Phase))
	}
	if e.ScraperID != "" {
		ctx = append(ctx, "scraper="+e.ScraperID)
	}
	if e.URL != "" {
		ctx = append(ctx, "url="+e.URL)
	}
	if len(ctx) > 0 {
		fmt.Fprintf(&b, " [%s]", strings.Join(ctx, " "))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the sentinel kind and the underlying cause.
func (e *PipelineError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NewError builds a PipelineError of the given kind.
func NewError(kind error, sessionID string, err error) *PipelineError {
	return &PipelineError{Kind: kind, SessionID: sessionID, Err: err}
}

// WithPhase sets the phase and returns e.
func (e *PipelineError) WithPhase(p Phase) *PipelineError {
	e.Phase = p
	return e
}

// WithScraper sets the scraper id and returns e.
func (e *PipelineError) WithScraper(id string) *PipelineError {
	e.ScraperID = id
	return e
}

// WithURL sets the url and returns e.
func (e *PipelineError) WithURL(u string) *PipelineError {
	e.URL = u
	return e
}

// Validationf returns a validation error with a formatted message.
func Validationf(format string, args ...any) error {
	return &PipelineError{Kind: ErrValidation, Err: fmt.Errorf(format, args...)}
}

// ErrorKind returns a short stable label for err, suitable for API payloads
// and per-item error records.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrVersionConflict):
		return "version_conflict"
	case errors.Is(err, ErrConcurrentExecution):
		return "concurrent_execution"
	case errors.Is(err, ErrInvalidPhaseTransition):
		return "invalid_phase_transition"
	case errors.Is(err, ErrEnrichmentSource):
		return "enrichment_source"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrNetwork):
		return "network"
	default:
		return "internal"
	}
}
