// Package orchestrator drives a research session through its phases. Every
// phase transition is caller initiated: a phase only runs inside an
// ExecutePhase or ApproveAndContinue call.
package orchestrator

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/net/idna"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sells-group/research-pipeline/internal/discovery"
	"github.com/sells-group/research-pipeline/internal/executor"
	"github.com/sells-group/research-pipeline/internal/generate"
	"github.com/sells-group/research-pipeline/internal/intel"
	"github.com/sells-group/research-pipeline/internal/lock"
	"github.com/sells-group/research-pipeline/internal/model"
	"github.com/sells-group/research-pipeline/internal/progress"
	"github.com/sells-group/research-pipeline/internal/store"
)

// Discoverer finds the URLs a session will scrape.
type Discoverer interface {
	Discover(ctx context.Context, sessionID, domain string) (*discovery.Result, error)
}

// Scraper runs one scraper over a session's URLs.
type Scraper interface {
	Execute(ctx context.Context, req executor.Request) (*executor.ExecutionResult, error)
}

// Enricher gathers external intelligence for a company.
type Enricher interface {
	Enrich(ctx context.Context, sessionID, companyName, domain string) (*model.ExternalIntelligence, error)
}

// Deps are the collaborators a Service delegates phases to.
type Deps struct {
	Store     store.Store
	Locks     lock.Manager
	Hub       *progress.Hub
	Discovery Discoverer
	Scraper   Scraper
	Intel     Enricher
	Generator generate.Generator
}

// Config tunes a Service.
type Config struct {
	ConflictAttempts int
	// DefaultScraper is used when the session does not name one.
	DefaultScraper string
	// IntelMaxAgeHours and RefreshThreshold decide whether stored
	// intelligence is reused by the enrichment phase.
	IntelMaxAgeHours int
	RefreshThreshold float64
}

func (c Config) withDefaults() Config {
	if c.ConflictAttempts <= 0 {
		c.ConflictAttempts = store.DefaultConflictAttempts
	}
	if c.DefaultScraper == "" {
		c.DefaultScraper = "auto"
	}
	if c.IntelMaxAgeHours <= 0 {
		c.IntelMaxAgeHours = 24
	}
	return c
}

// Service implements the session lifecycle.
type Service struct {
	deps Deps
	cfg  Config
	now  func() time.Time

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

// New returns a Service.
func New(deps Deps, cfg Config) *Service {
	return &Service{
		deps:    deps,
		cfg:     cfg.withDefaults(),
		now:     time.Now,
		running: make(map[string]context.CancelFunc),
	}
}

// InitRequest describes a session to create.
type InitRequest struct {
	Domain       string               `json:"domain"`
	OwnerID      string               `json:"ownerId,omitempty"`
	CompanyName  string               `json:"companyName,omitempty"`
	PhaseControl *model.PhaseControl  `json:"phaseControl,omitempty"`
	Options      model.SessionOptions `json:"options"`
}

// InitResult is the outcome of InitializeSession. Created is false when an
// owner's existing session was returned.
type InitResult struct {
	Session *model.ResearchSession `json:"session"`
	Created bool                   `json:"created"`
}

// Result reports the phases one call ran and where the session stopped.
type Result struct {
	Phases    []model.PhaseResult    `json:"phases"`
	Status    model.SessionStatus    `json:"status"`
	NextPhase model.Phase            `json:"nextPhase,omitempty"`
	Session   *model.ResearchSession `json:"-"`
}

// InitializeSession validates and normalizes the domain, then creates the
// session and its progress stream. With an owner, an existing unfinished
// session for the same domain is returned instead.
func (s *Service) InitializeSession(ctx context.Context, req InitRequest) (*InitResult, error) {
	domain, err := NormalizeDomain(req.Domain)
	if err != nil {
		return nil, err
	}
	pc := model.DefaultPhaseControl()
	if req.PhaseControl != nil {
		pc = *req.PhaseControl
		if pc.Mode == "" {
			pc.Mode = model.PhaseModeSequential
		}
	}
	if err := pc.Validate(); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(req.CompanyName)
	if name == "" {
		name = strings.TrimSpace(req.Options.CompanyName)
	}
	if name == "" {
		name = CompanyNameFromDomain(domain)
	}

	seed := &model.ResearchSession{
		OwnerID:      req.OwnerID,
		Domain:       domain,
		CompanyName:  name,
		PhaseControl: pc,
		Options:      req.Options,
	}
	created := true
	sess := seed
	if req.OwnerID != "" {
		sess, created, err = s.deps.Store.GetOrCreateUserSession(ctx, seed)
	} else {
		err = s.deps.Store.CreateSession(ctx, seed)
	}
	if err != nil {
		return nil, eris.Wrap(err, "orchestrator: create session")
	}

	if s.deps.Hub != nil {
		s.deps.Hub.Open(sess.ID)
	}
	zap.L().Info("orchestrator: session initialized",
		zap.String("session_id", sess.ID),
		zap.String("domain", domain),
		zap.String("owner_id", req.OwnerID),
		zap.Bool("created", created),
	)
	return &InitResult{Session: sess, Created: created}, nil
}

// ExecutePhase runs phase, which must be the session's first configured
// phase. With autoApprove, or when the session does not require approval,
// following phases run in the same call until the configured stop point.
func (s *Service) ExecutePhase(ctx context.Context, sessionID string, phase model.Phase, autoApprove bool) (*Result, error) {
	if !phase.Valid() {
		return nil, model.NewError(model.ErrValidation, sessionID, eris.Errorf("unknown phase %q", phase))
	}
	sess, err := s.deps.Store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := checkStart(sess, phase, model.SessionStatusInitialized); err != nil {
		return nil, err
	}
	return s.run(ctx, sessionID, phase, autoApprove, model.SessionStatusInitialized)
}

// ApproveAndContinue runs the phase after the one awaiting approval. The
// session's approval policy still applies to that phase.
func (s *Service) ApproveAndContinue(ctx context.Context, sessionID string) (*Result, error) {
	sess, err := s.deps.Store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status != model.SessionStatusAwaitingApproval {
		return nil, model.NewError(model.ErrInvalidPhaseTransition, sessionID,
			eris.Errorf("session is %s, not awaiting approval", sess.Status))
	}
	next, ok := sess.PhaseControl.Next(sess.CurrentPhase)
	if !ok {
		return nil, model.NewError(model.ErrInvalidPhaseTransition, sessionID,
			eris.Errorf("no phase follows %s", sess.CurrentPhase))
	}
	return s.run(ctx, sessionID, next, false, model.SessionStatusAwaitingApproval)
}

// checkStart verifies phase may start from the session's current state.
func checkStart(sess *model.ResearchSession, phase model.Phase, from model.SessionStatus) error {
	switch {
	case sess.Status.Terminal():
		return model.NewError(model.ErrInvalidPhaseTransition, sess.ID,
			eris.Errorf("session is %s", sess.Status)).WithPhase(phase)
	case sess.Status == model.SessionStatusInProgress:
		return model.NewError(model.ErrConcurrentExecution, sess.ID,
			eris.Errorf("phase %s is running", sess.CurrentPhase)).WithPhase(phase)
	case sess.Status != from:
		return model.NewError(model.ErrInvalidPhaseTransition, sess.ID,
			eris.Errorf("session is %s", sess.Status)).WithPhase(phase)
	}
	if !sess.PhaseControl.Allows(phase) {
		return model.NewError(model.ErrInvalidPhaseTransition, sess.ID,
			eris.Errorf("phase %s is not configured for this session", phase)).WithPhase(phase)
	}
	var want model.Phase
	if from == model.SessionStatusAwaitingApproval {
		want, _ = sess.PhaseControl.Next(sess.CurrentPhase)
	} else {
		want, _ = sess.PhaseControl.Next("")
	}
	if phase != want {
		return model.NewError(model.ErrInvalidPhaseTransition, sess.ID,
			eris.Errorf("expected phase %s, got %s", want, phase)).WithPhase(phase)
	}
	return nil
}

// run claims the session and executes phases from first until a gate, the
// stop point or a failure.
func (s *Service) run(ctx context.Context, sessionID string, first model.Phase, autoApprove bool, from model.SessionStatus) (*Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if !s.register(sessionID, cancel) {
		return nil, model.NewError(model.ErrConcurrentExecution, sessionID,
			eris.New("a phase is already running")).WithPhase(first)
	}
	defer s.unregister(sessionID)

	inProgress := model.SessionStatusInProgress
	_, err := store.UpdateWithRetry(ctx, s.deps.Store, sessionID, s.cfg.ConflictAttempts,
		func(cur *model.ResearchSession) (model.SessionPatch, error) {
			if err := checkStart(cur, first, from); err != nil {
				return model.SessionPatch{}, err
			}
			return model.SessionPatch{Status: &inProgress, CurrentPhase: &first}, nil
		})
	if err != nil {
		return nil, err
	}

	res := &Result{}
	phase := first
	for {
		pr, sess, err := s.runPhase(ctx, sessionID, phase)
		if err != nil {
			return s.fail(ctx, sessionID, phase, pr, res, err)
		}
		res.Phases = append(res.Phases, *pr)

		next, hasNext := sess.PhaseControl.Next(phase)
		gated := sess.PhaseControl.RequireApproval && !autoApprove && hasNext

		var status model.SessionStatus
		var completedAt *time.Time
		switch {
		case gated:
			status = model.SessionStatusAwaitingApproval
		case !hasNext:
			status = model.SessionStatusCompleted
			t := s.now().UTC()
			completedAt = &t
		default:
			status = model.SessionStatusInProgress
		}

		cur := phase
		settled := false
		sess, err = store.UpdateWithRetry(context.WithoutCancel(ctx), s.deps.Store, sessionID, s.cfg.ConflictAttempts,
			func(c *model.ResearchSession) (model.SessionPatch, error) {
				patch := model.SessionPatch{PhaseResult: pr, CurrentPhase: &cur}
				settled = c.Status.Terminal()
				if settled {
					return patch, nil
				}
				st := status
				if st == model.SessionStatusInProgress {
					patch.CurrentPhase = &next
				}
				patch.Status = &st
				patch.CompletedAt = completedAt
				return patch, nil
			})
		if err != nil {
			return nil, eris.Wrapf(err, "orchestrator: persist %s result", phase)
		}
		res.Session = sess
		res.Status = sess.Status

		if settled {
			zap.L().Warn("orchestrator: session settled during phase",
				zap.String("session_id", sessionID),
				zap.String("phase", string(phase)),
				zap.String("status", string(sess.Status)),
			)
			return res, nil
		}
		switch status {
		case model.SessionStatusAwaitingApproval:
			res.NextPhase = next
			progress.Publish(s.publisher(), sessionID, progress.Notified(string(phase),
				"awaiting approval", map[string]any{"nextPhase": string(next)}))
			return res, nil
		case model.SessionStatusCompleted:
			progress.Publish(s.publisher(), sessionID, progress.PhaseCompleted(string(phase), true, map[string]any{
				"status": string(status),
			}))
			return res, nil
		}
		progress.Publish(s.publisher(), sessionID, progress.PhaseCompleted(string(phase), false, pr.Summary))
		if err := ctx.Err(); err != nil {
			return s.fail(ctx, sessionID, next, nil, res, eris.Wrap(err, "orchestrator: cancelled"))
		}
		phase = next
	}
}

// runPhase delegates phase and returns its result with a fresh session read.
func (s *Service) runPhase(ctx context.Context, sessionID string, phase model.Phase) (*model.PhaseResult, *model.ResearchSession, error) {
	sess, err := s.deps.Store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	log := zap.L().With(zap.String("session_id", sessionID), zap.String("phase", string(phase)))
	progress.Publish(s.publisher(), sessionID, progress.PhaseStarted(string(phase), ""))
	log.Info("orchestrator: phase started")

	start := s.now()
	var summary map[string]any
	var itemErrs []model.ItemError
	success := true

	switch phase {
	case model.PhaseDiscovery:
		summary, err = s.discover(ctx, sess)
	case model.PhaseScraping:
		summary, itemErrs, success, err = s.scrape(ctx, sess)
	case model.PhaseEnrichment:
		summary, err = s.enrich(ctx, sess)
	case model.PhaseGeneration:
		summary, err = s.generate(ctx, sess)
	default:
		err = model.NewError(model.ErrValidation, sessionID, eris.Errorf("unknown phase %q", phase))
	}

	pr := &model.PhaseResult{
		Phase:       phase,
		Success:     success && err == nil,
		DurationMs:  s.now().Sub(start).Milliseconds(),
		Summary:     summary,
		Errors:      itemErrs,
		CompletedAt: s.now().UTC(),
	}
	if err != nil {
		log.Error("orchestrator: phase failed", zap.Int64("duration_ms", pr.DurationMs), zap.Error(err))
		return pr, sess, err
	}
	log.Info("orchestrator: phase complete", zap.Int64("duration_ms", pr.DurationMs), zap.Bool("success", pr.Success))
	return pr, sess, nil
}

func (s *Service) discover(ctx context.Context, sess *model.ResearchSession) (map[string]any, error) {
	if s.deps.Discovery == nil {
		return nil, eris.New("orchestrator: discovery is not configured")
	}
	res, err := s.deps.Discovery.Discover(ctx, sess.ID, sess.Domain)
	if err != nil {
		return nil, err
	}
	if len(res.URLs) > 0 {
		_, err = store.UpdateWithRetry(ctx, s.deps.Store, sess.ID, s.cfg.ConflictAttempts,
			func(*model.ResearchSession) (model.SessionPatch, error) {
				return model.SessionPatch{DiscoveredURLs: res.URLs}, nil
			})
		if err != nil {
			return nil, eris.Wrap(err, "orchestrator: save discovered urls")
		}
	}
	return map[string]any{
		"urls":       len(res.URLs),
		"candidates": res.Candidates,
		"rejected":   res.Rejected,
		"sources":    res.Sources,
		"robots":     res.Robots,
	}, nil
}

// scrape reports success=false without an error when the run fetched no
// page; the session keeps going with whatever it has.
func (s *Service) scrape(ctx context.Context, sess *model.ResearchSession) (map[string]any, []model.ItemError, bool, error) {
	if s.deps.Scraper == nil {
		return nil, nil, false, eris.New("orchestrator: scraper is not configured")
	}
	scraperID := sess.Options.ScraperID
	if scraperID == "" {
		scraperID = s.cfg.DefaultScraper
	}
	res, err := s.deps.Scraper.Execute(ctx, executor.Request{
		SessionID: sess.ID,
		ScraperID: scraperID,
		PhaseTag:  string(model.PhaseScraping),
	})
	if err != nil {
		return nil, nil, false, err
	}
	return map[string]any{
		"scraperId":  res.ScraperID,
		"pages":      res.NewData.Pages,
		"dataPoints": res.NewData.DataPoints,
		"errors":     len(res.Errors),
	}, res.Errors, res.Success, nil
}

func (s *Service) enrich(ctx context.Context, sess *model.ResearchSession) (map[string]any, error) {
	cached, err := s.deps.Store.GetIntelligence(ctx, sess.ID)
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		return nil, err
	}
	if cached != nil && !intel.NeedsRefresh(&cached.Summary, s.cfg.IntelMaxAgeHours, s.cfg.RefreshThreshold, s.now()) {
		zap.L().Info("orchestrator: reusing stored intelligence",
			zap.String("session_id", sess.ID),
			zap.Float64("completeness", cached.Summary.Completeness),
		)
		return intelSummary(cached, true), nil
	}
	if s.deps.Intel == nil {
		return nil, eris.New("orchestrator: enrichment is not configured")
	}
	out, err := s.deps.Intel.Enrich(ctx, sess.ID, sess.CompanyName, sess.Domain)
	if err != nil {
		return nil, err
	}
	return intelSummary(out, false), nil
}

func intelSummary(in *model.ExternalIntelligence, cached bool) map[string]any {
	return map[string]any{
		"completeness":   in.Summary.Completeness,
		"classification": string(in.Summary.Classification),
		"populated":      in.Summary.Populated,
		"failed":         in.Summary.Failed,
		"cached":         cached,
	}
}

func (s *Service) generate(ctx context.Context, sess *model.ResearchSession) (map[string]any, error) {
	if s.deps.Generator == nil {
		return nil, eris.New("orchestrator: generator is not configured")
	}
	in, err := s.deps.Store.GetIntelligence(ctx, sess.ID)
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		return nil, err
	}
	report, err := s.deps.Generator.Generate(ctx, sess, in)
	if err != nil {
		return nil, err
	}
	progress.Publish(s.publisher(), sess.ID, progress.DataUpdated(string(model.PhaseGeneration), map[string]any{
		"title": report.Title,
	}))
	return report.Summary(), nil
}

// fail marks the session FAILED unless it was settled meanwhile, emits the
// phase error and the terminal error event, and returns err.
func (s *Service) fail(ctx context.Context, sessionID string, phase model.Phase, pr *model.PhaseResult, res *Result, cause error) (*Result, error) {
	if pr == nil {
		pr = &model.PhaseResult{Phase: phase, CompletedAt: s.now().UTC()}
	}
	pr.Success = false
	msg := cause.Error()
	failed := model.SessionStatusFailed

	settled := false
	sess, err := store.UpdateWithRetry(context.WithoutCancel(ctx), s.deps.Store, sessionID, s.cfg.ConflictAttempts,
		func(c *model.ResearchSession) (model.SessionPatch, error) {
			patch := model.SessionPatch{PhaseResult: pr}
			settled = c.Status.Terminal()
			if settled {
				return patch, nil
			}
			patch.Status = &failed
			patch.Error = &msg
			return patch, nil
		})
	if err != nil {
		zap.L().Error("orchestrator: record failure",
			zap.String("session_id", sessionID),
			zap.String("phase", string(phase)),
			zap.Error(err),
		)
	} else {
		res.Session = sess
		res.Status = sess.Status
	}
	res.Phases = append(res.Phases, *pr)

	if err == nil && settled {
		if sess.Status == model.SessionStatusAborted {
			return res, model.NewError(model.ErrInvalidPhaseTransition, sessionID, eris.New("session was aborted")).WithPhase(phase)
		}
		return res, model.NewError(model.ErrInvalidPhaseTransition, sessionID,
			eris.Errorf("session was settled as %s", sess.Status)).WithPhase(phase)
	}
	progress.Publish(s.publisher(), sessionID, progress.PhaseFailed(string(phase), cause))
	progress.Publish(s.publisher(), sessionID, progress.Failed(cause))

	var pe *model.PipelineError
	if errors.As(cause, &pe) {
		return res, cause
	}
	return res, model.NewError(kindOf(cause), sessionID, cause).WithPhase(phase)
}

func kindOf(err error) error {
	for _, k := range []error{
		model.ErrValidation, model.ErrNotFound, model.ErrVersionConflict,
		model.ErrConcurrentExecution, model.ErrInvalidPhaseTransition,
		model.ErrEnrichmentSource, model.ErrTimeout, model.ErrNetwork,
	} {
		if errors.Is(err, k) {
			return k
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return model.ErrTimeout
	}
	return model.ErrNetwork
}

// AbortSession stops the session: the status becomes ABORTED, any running
// phase is cancelled and every lock the session holds is released. Aborting
// an aborted session is a no-op.
func (s *Service) AbortSession(ctx context.Context, sessionID string) (*model.ResearchSession, error) {
	aborted := model.SessionStatusAborted
	already := false
	sess, err := store.UpdateWithRetry(ctx, s.deps.Store, sessionID, s.cfg.ConflictAttempts,
		func(cur *model.ResearchSession) (model.SessionPatch, error) {
			switch cur.Status {
			case model.SessionStatusAborted:
				already = true
				return model.SessionPatch{}, errAlreadyAborted
			case model.SessionStatusCompleted, model.SessionStatusFailed:
				return model.SessionPatch{}, model.NewError(model.ErrInvalidPhaseTransition, sessionID,
					eris.Errorf("session is %s", cur.Status))
			}
			return model.SessionPatch{Status: &aborted}, nil
		})
	if already {
		return s.deps.Store.GetSession(ctx, sessionID)
	}
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if cancel, ok := s.running[sessionID]; ok {
		cancel()
	}
	s.mu.Unlock()

	if s.deps.Locks != nil {
		n, err := s.deps.Locks.ReleaseSession(context.WithoutCancel(ctx), sessionID)
		if err != nil {
			zap.L().Warn("orchestrator: release session locks", zap.String("session_id", sessionID), zap.Error(err))
		} else if n > 0 {
			zap.L().Info("orchestrator: released session locks", zap.String("session_id", sessionID), zap.Int("locks", n))
		}
	}
	progress.Publish(s.publisher(), sessionID, progress.Aborted("session aborted"))
	zap.L().Info("orchestrator: session aborted", zap.String("session_id", sessionID))
	return sess, nil
}

var errAlreadyAborted = eris.New("session already aborted")

// Status returns the session.
func (s *Service) Status(ctx context.Context, sessionID string) (*model.ResearchSession, error) {
	return s.deps.Store.GetSession(ctx, sessionID)
}

// List returns the sessions matching f.
func (s *Service) List(ctx context.Context, f store.SessionFilter) ([]model.ResearchSession, error) {
	return s.deps.Store.ListSessions(ctx, f)
}

// Intelligence returns the stored enrichment result for the session.
func (s *Service) Intelligence(ctx context.Context, sessionID string) (*model.ExternalIntelligence, error) {
	if _, err := s.deps.Store.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.deps.Store.GetIntelligence(ctx, sessionID)
}

// Hub returns the progress hub, which may be nil.
func (s *Service) Hub() *progress.Hub {
	return s.deps.Hub
}

func (s *Service) publisher() progress.Publisher {
	if s.deps.Hub == nil {
		return nil
	}
	return s.deps.Hub
}

func (s *Service) register(sessionID string, cancel context.CancelFunc) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.running[sessionID]; ok {
		return false
	}
	s.running[sessionID] = cancel
	return true
}

func (s *Service) unregister(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, sessionID)
}

// NormalizeDomain reduces a domain or URL to its lower-case ASCII host,
// keeping an explicit port.
func NormalizeDomain(raw string) (string, error) {
	d := strings.ToLower(strings.TrimSpace(raw))
	if i := strings.Index(d, "://"); i >= 0 {
		d = d[i+3:]
	}
	if i := strings.IndexAny(d, "/?#"); i >= 0 {
		d = d[:i]
	}
	if i := strings.LastIndexByte(d, '@'); i >= 0 {
		d = d[i+1:]
	}
	d = strings.TrimPrefix(d, "www.")
	if d == "" {
		return "", model.Validationf("domain is required")
	}

	host, port := d, ""
	if h, p, err := net.SplitHostPort(d); err == nil {
		host, port = h, p
	}
	host = strings.TrimSuffix(host, ".")
	if ip := net.ParseIP(strings.Trim(host, "[]")); ip == nil {
		ascii, err := idna.Lookup.ToASCII(host)
		if err != nil {
			return "", model.Validationf("invalid domain %q: %v", raw, err)
		}
		if !strings.Contains(ascii, ".") && ascii != "localhost" {
			return "", model.Validationf("invalid domain %q", raw)
		}
		host = ascii
	}
	if port != "" {
		return net.JoinHostPort(host, port), nil
	}
	return host, nil
}

// CompanyNameFromDomain derives a display name from the first label of the
// domain: "acme-widgets.com" becomes "Acme Widgets".
func CompanyNameFromDomain(domain string) string {
	host := domain
	if h, _, err := net.SplitHostPort(domain); err == nil {
		host = h
	}
	label, _, _ := strings.Cut(host, ".")
	words := strings.FieldsFunc(label, func(r rune) bool { return r == '-' || r == '_' })
	if len(words) == 0 {
		return domain
	}
	return cases.Title(language.English).String(strings.Join(words, " "))
}
