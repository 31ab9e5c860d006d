package model

import (
	"slices"
	"time"
)

// Phase is a named stage of the research pipeline.
type Phase string

const (
	PhaseDiscovery  Phase = "DISCOVERY"
	PhaseScraping   Phase = "SCRAPING"
	PhaseEnrichment Phase = "ENRICHMENT"
	PhaseGeneration Phase = "GENERATION"
)

// AllPhases returns the pipeline phases in execution order.
func AllPhases() []Phase {
	return []Phase{PhaseDiscovery, PhaseScraping, PhaseEnrichment, PhaseGeneration}
}

// Valid reports whether p is one of the known phases.
func (p Phase) Valid() bool {
	return slices.Contains(AllPhases(), p)
}

// SessionStatus is the lifecycle status of a research session.
type SessionStatus string

const (
	SessionStatusInitialized      SessionStatus = "INITIALIZED"
	SessionStatusInProgress       SessionStatus = "IN_PROGRESS"
	SessionStatusAwaitingApproval SessionStatus = "AWAITING_APPROVAL"
	SessionStatusCompleted        SessionStatus = "COMPLETED"
	SessionStatusAborted          SessionStatus = "ABORTED"
	SessionStatusFailed           SessionStatus = "FAILED"
)

// Terminal reports whether no further phase may run in this status.
func (s SessionStatus) Terminal() bool {
	switch s {
	case SessionStatusCompleted, SessionStatusAborted, SessionStatusFailed:
		return true
	}
	return false
}

// PhaseMode controls how phases are sequenced.
type PhaseMode string

const (
	// PhaseModeSequential walks the configured phases in pipeline order.
	PhaseModeSequential PhaseMode = "sequential"
	// PhaseModeSingle runs exactly the listed phases in list order.
	PhaseModeSingle PhaseMode = "single"
)

// PhaseControl is the caller-supplied policy for phase execution.
type PhaseControl struct {
	Mode            PhaseMode `json:"mode" yaml:"mode"`
	RequireApproval bool      `json:"requireApproval" yaml:"require_approval"`
	Phases          []Phase   `json:"phases" yaml:"phases"`
	StopAfter       *Phase    `json:"stopAfter,omitempty" yaml:"stop_after,omitempty"`
}

// DefaultPhaseControl runs every phase sequentially with approval gates.
func DefaultPhaseControl() PhaseControl {
	return PhaseControl{
		Mode:            PhaseModeSequential,
		RequireApproval: true,
		Phases:          AllPhases(),
	}
}

// Validate checks the mode, that the phase list is non-empty with known
// phases and no repeats, and that StopAfter is one of them.
func (pc PhaseControl) Validate() error {
	switch pc.Mode {
	case PhaseModeSequential, PhaseModeSingle:
	default:
		return Validationf("unknown phase mode %q", pc.Mode)
	}
	if len(pc.Phases) == 0 {
		return Validationf("at least one phase is required")
	}
	seen := make(map[Phase]bool, len(pc.Phases))
	for _, p := range pc.Phases {
		if !p.Valid() {
			return Validationf("unknown phase %q", p)
		}
		if seen[p] {
			return Validationf("phase %s listed twice", p)
		}
		seen[p] = true
	}
	if pc.StopAfter != nil && !seen[*pc.StopAfter] {
		return Validationf("stopAfter %s is not a configured phase", *pc.StopAfter)
	}
	return nil
}

// Allows reports whether phase is part of the configured phase list.
func (pc PhaseControl) Allows(phase Phase) bool {
	return slices.Contains(pc.Phases, phase)
}

// Ordered returns the configured phases in the order they execute. In
// sequential mode that is pipeline order regardless of list order.
func (pc PhaseControl) Ordered() []Phase {
	if pc.Mode == PhaseModeSingle {
		return slices.Clone(pc.Phases)
	}
	out := make([]Phase, 0, len(pc.Phases))
	for _, p := range AllPhases() {
		if pc.Allows(p) {
			out = append(out, p)
		}
	}
	return out
}

// Next returns the phase that follows current, or false when current is the
// last configured phase or the StopAfter phase. An empty current yields the
// first phase.
func (pc PhaseControl) Next(current Phase) (Phase, bool) {
	ordered := pc.Ordered()
	if current == "" {
		if len(ordered) == 0 {
			return "", false
		}
		return ordered[0], true
	}
	if pc.StopAfter != nil && *pc.StopAfter == current {
		return "", false
	}
	i := slices.Index(ordered, current)
	if i < 0 || i+1 >= len(ordered) {
		return "", false
	}
	return ordered[i+1], true
}

// SessionOptions carries per-session execution options.
type SessionOptions struct {
	ScraperID   string `json:"scraperId,omitempty" yaml:"scraper_id,omitempty"`
	MaxPages    int    `json:"maxPages,omitempty" yaml:"max_pages,omitempty"`
	CompanyName string `json:"companyName,omitempty" yaml:"company_name,omitempty"`
}

// PhaseResult is the persisted outcome of one phase execution.
type PhaseResult struct {
	Phase       Phase          `json:"phase"`
	Success     bool           `json:"success"`
	DurationMs  int64          `json:"durationMs"`
	Summary     map[string]any `json:"summary,omitempty"`
	Errors      []ItemError    `json:"errors,omitempty"`
	CompletedAt time.Time      `json:"completedAt"`
}

// ResearchSession tracks one domain's research lifecycle.
type ResearchSession struct {
	ID             string                `json:"id"`
	OwnerID        string                `json:"ownerId,omitempty"`
	Domain         string                `json:"domain"`
	CompanyName    string                `json:"companyName"`
	CurrentPhase   Phase                 `json:"currentPhase,omitempty"`
	PhaseControl   PhaseControl          `json:"phaseControl"`
	Options        SessionOptions        `json:"options"`
	Status         SessionStatus         `json:"status"`
	DiscoveredURLs []string              `json:"discoveredUrls"`
	MergedData     MergedDataset         `json:"mergedData"`
	PhaseResults   map[Phase]PhaseResult `json:"phaseResults,omitempty"`
	Error          string                `json:"error,omitempty"`
	Version        int64                 `json:"version"`
	CreatedAt      time.Time             `json:"createdAt"`
	UpdatedAt      time.Time             `json:"updatedAt"`
	CompletedAt    *time.Time            `json:"completedAt,omitempty"`
}

// SessionPatch is a partial update applied by Store.UpdateSession. Nil fields
// are left untouched.
type SessionPatch struct {
	CompanyName    *string
	CurrentPhase   *Phase
	Status         *SessionStatus
	DiscoveredURLs []string
	MergedData     *MergedDataset
	PhaseResult    *PhaseResult
	Error          *string
	CompletedAt    *time.Time
}

// Apply writes the non-nil patch fields onto s. Version and UpdatedAt are the
// store's responsibility.
func (p SessionPatch) Apply(s *ResearchSession) {
	if p.CompanyName != nil {
		s.CompanyName = *p.CompanyName
	}
	if p.CurrentPhase != nil {
		s.CurrentPhase = *p.CurrentPhase
	}
	if p.Status != nil {
		s.Status = *p.Status
	}
	if p.DiscoveredURLs != nil {
		s.DiscoveredURLs = MergeURLSet(s.DiscoveredURLs, p.DiscoveredURLs)
	}
	if p.MergedData != nil {
		s.MergedData = *p.MergedData
	}
	if p.PhaseResult != nil {
		if s.PhaseResults == nil {
			s.PhaseResults = make(map[Phase]PhaseResult)
		}
		s.PhaseResults[p.PhaseResult.Phase] = *p.PhaseResult
	}
	if p.Error != nil {
		s.Error = *p.Error
	}
	if p.CompletedAt != nil {
		t := *p.CompletedAt
		s.CompletedAt = &t
	}
}

// MergeURLSet returns the union of existing and add, preserving first-seen
// order and dropping blanks.
func MergeURLSet(existing, add []string) []string {
	seen := make(map[string]bool, len(existing)+len(add))
	out := make([]string, 0, len(existing)+len(add))
	for _, list := range [][]string{existing, add} {
		for _, u := range list {
			if u == "" || seen[u] {
				continue
			}
			seen[u] = true
			out = append(out, u)
		}
	}
	return out
}

// Clone returns a deep copy of the session so stores never hand out aliases
// to their internal state.
func (s *ResearchSession) Clone() *ResearchSession {
	if s == nil {
		return nil
	}
	c := *s
	c.PhaseControl.Phases = slices.Clone(s.PhaseControl.Phases)
	if s.PhaseControl.StopAfter != nil {
		p := *s.PhaseControl.StopAfter
		c.PhaseControl.StopAfter = &p
	}
	c.DiscoveredURLs = slices.Clone(s.DiscoveredURLs)
	c.MergedData = s.MergedData.Clone()
	if s.PhaseResults != nil {
		c.PhaseResults = make(map[Phase]PhaseResult, len(s.PhaseResults))
		for k, v := range s.PhaseResults {
			c.PhaseResults[k] = v
		}
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}
