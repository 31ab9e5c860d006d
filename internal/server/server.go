// Package server exposes the session lifecycle over HTTP under /api/v1, with
// progress events available as Server-Sent Events or over a websocket.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/research-pipeline/internal/model"
	"github.com/sells-group/research-pipeline/internal/orchestrator"
	"github.com/sells-group/research-pipeline/internal/progress"
	"github.com/sells-group/research-pipeline/internal/store"
)

// OwnerHeader carries the caller identity used to scope sessions.
const OwnerHeader = "X-Owner-ID"

// Sessions is the lifecycle the API drives. *orchestrator.Service
// implements it.
type Sessions interface {
	InitializeSession(ctx context.Context, req orchestrator.InitRequest) (*orchestrator.InitResult, error)
	ExecutePhase(ctx context.Context, sessionID string, phase model.Phase, autoApprove bool) (*orchestrator.Result, error)
	ApproveAndContinue(ctx context.Context, sessionID string) (*orchestrator.Result, error)
	AbortSession(ctx context.Context, sessionID string) (*model.ResearchSession, error)
	Status(ctx context.Context, sessionID string) (*model.ResearchSession, error)
	List(ctx context.Context, f store.SessionFilter) ([]model.ResearchSession, error)
	Intelligence(ctx context.Context, sessionID string) (*model.ExternalIntelligence, error)
}

var _ Sessions = (*orchestrator.Service)(nil)

// Options configures the handler.
type Options struct {
	Hub            *progress.Hub
	AllowedOrigins []string
	// Heartbeat is the keep-alive interval on event streams. Default 15s.
	Heartbeat time.Duration
}

type server struct {
	svc  Sessions
	hub  *progress.Hub
	opts Options
}

// New returns the API handler.
func New(svc Sessions, opts Options) http.Handler {
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = 15 * time.Second
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	s := &server{svc: svc, hub: opts.Hub, opts: opts}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", OwnerHeader, "Last-Event-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)
	r.Route("/api/v1/sessions", func(r chi.Router) {
		r.Post("/", s.createSession)
		r.Get("/", s.listSessions)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.getSession)
			r.Post("/execute", s.executePhase)
			r.Post("/approve", s.approve)
			r.Post("/abort", s.abort)
			r.Get("/intelligence", s.intelligence)
			r.Get("/events", s.events)
			r.Get("/ws", s.socket)
		})
	})
	return r
}

func (s *server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createRequest struct {
	Domain       string               `json:"domain"`
	CompanyName  string               `json:"companyName,omitempty"`
	PhaseControl *model.PhaseControl  `json:"phaseControl,omitempty"`
	Options      model.SessionOptions `json:"options"`
}

func (s *server) createSession(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := s.svc.InitializeSession(r.Context(), orchestrator.InitRequest{
		Domain:       req.Domain,
		OwnerID:      r.Header.Get(OwnerHeader),
		CompanyName:  req.CompanyName,
		PhaseControl: req.PhaseControl,
		Options:      req.Options,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	status := http.StatusCreated
	if !res.Created {
		status = http.StatusOK
	}
	writeJSON(w, status, map[string]any{
		"sessionId": res.Session.ID,
		"session":   res.Session,
	})
}

func (s *server) listSessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	owner := r.Header.Get(OwnerHeader)
	f := store.SessionFilter{
		OwnerID: owner,
		Unowned: owner == "",
		Domain:  q.Get("domain"),
		Status:  model.SessionStatus(q.Get("status")),
	}
	f.Limit, _ = strconv.Atoi(q.Get("limit"))
	f.Offset, _ = strconv.Atoi(q.Get("offset"))

	sessions, err := s.svc.List(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if sessions == nil {
		sessions = []model.ResearchSession{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (s *server) getSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.owned(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

type executeRequest struct {
	Phase       model.Phase `json:"phase"`
	AutoApprove bool        `json:"autoApprove"`
}

// executePhase runs detached from the request context so a dropped client
// does not fail the session; abort is the way to stop a phase.
func (s *server) executePhase(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if !decode(w, r, &req) {
		return
	}
	if _, ok := s.owned(w, r); !ok {
		return
	}
	res, err := s.svc.ExecutePhase(context.WithoutCancel(r.Context()), chi.URLParam(r, "id"), req.Phase, req.AutoApprove)
	s.writeResult(w, r, res, err)
}

func (s *server) approve(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.owned(w, r); !ok {
		return
	}
	res, err := s.svc.ApproveAndContinue(context.WithoutCancel(r.Context()), chi.URLParam(r, "id"))
	s.writeResult(w, r, res, err)
}

func (s *server) writeResult(w http.ResponseWriter, r *http.Request, res *orchestrator.Result, err error) {
	if err != nil {
		if res != nil {
			writeErrorWith(w, r, err, map[string]any{"result": res, "session": res.Session})
			return
		}
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": res, "session": res.Session})
}

func (s *server) abort(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.owned(w, r); !ok {
		return
	}
	sess, err := s.svc.AbortSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "aborted", "session": sess})
}

func (s *server) intelligence(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.owned(w, r); !ok {
		return
	}
	in, err := s.svc.Intelligence(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, in)
}

// owned loads the session in the URL. A session that belongs to another
// owner is reported as not found.
func (s *server) owned(w http.ResponseWriter, r *http.Request) (*model.ResearchSession, bool) {
	id := chi.URLParam(r, "id")
	sess, err := s.svc.Status(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}
	// Without the header only owner-less sessions are visible.
	if sess.OwnerID != r.Header.Get(OwnerHeader) {
		writeError(w, r, model.NewError(model.ErrNotFound, id, nil))
		return nil, false
	}
	return sess, true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v); err != nil {
		writeError(w, r, model.Validationf("invalid request body: %v", err))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps an error kind to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrVersionConflict),
		errors.Is(err, model.ErrConcurrentExecution),
		errors.Is(err, model.ErrInvalidPhaseTransition):
		return http.StatusConflict
	case errors.Is(err, model.ErrEnrichmentSource), errors.Is(err, model.ErrNetwork):
		return http.StatusBadGateway
	case errors.Is(err, model.ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	writeErrorWith(w, r, err, nil)
}

func writeErrorWith(w http.ResponseWriter, r *http.Request, err error, extra map[string]any) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		zap.L().Error("api: request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
	}
	body := map[string]any{
		"error": err.Error(),
		"kind":  model.ErrorKind(err),
	}
	for k, v := range extra {
		body[k] = v
	}
	writeJSON(w, status, body)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
