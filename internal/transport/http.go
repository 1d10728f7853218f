// Package transport exposes the report collaborator over HTTP. The
// authorization gate is enforced here as well as in the client session.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/rpggio/civicsync/internal/domain/report"
	"github.com/rpggio/civicsync/internal/domain/user"
	"github.com/rpggio/civicsync/internal/evidence"
	"github.com/rpggio/civicsync/internal/identity"
	"github.com/rpggio/civicsync/internal/obs"
)

const (
	maxJSONBody      = 1 << 20
	defaultHeartbeat = 15 * time.Second
)

// Reports is the persistence surface served by the API.
type Reports interface {
	Select(ctx context.Context, q report.Query) ([]report.Report, error)
	Get(ctx context.Context, id string) (*report.Report, error)
	Insert(ctx context.Context, row report.NewRow) (*report.Report, error)
	Update(ctx context.Context, id string, patch report.Patch) (*report.Report, error)
	Subscribe(ctx context.Context) (report.Subscription, error)
}

// Profiles saves the caller's own user record.
type Profiles interface {
	Save(ctx context.Context, u *user.User) error
}

// Options configures the HTTP server.
type Options struct {
	// Auth authenticates /v1 routes. It must place the user in the
	// request context with identity.WithUser.
	Auth     func(http.Handler) http.Handler
	Evidence evidence.Store
	Profiles Profiles
	// MCP, when set, is mounted at /mcp. It authenticates on its own.
	MCP            http.Handler
	Metrics        *obs.Metrics
	MetricsHandler http.Handler
	// CreatesPerSecond limits report creation per user. Zero disables it.
	CreatesPerSecond float64
	CreateBurst      int
	Heartbeat        time.Duration
	Logger           *slog.Logger
}

// Server wires HTTP handlers.
type Server struct {
	reports   Reports
	evidence  evidence.Store
	profiles  Profiles
	limiter   *userLimiter
	heartbeat time.Duration
	logger    *slog.Logger
}

// NewServer creates an HTTP server router with middleware.
func NewServer(reports Reports, opts Options) *chi.Mux {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = defaultHeartbeat
	}

	srv := &Server{
		reports:   reports,
		evidence:  opts.Evidence,
		profiles:  opts.Profiles,
		limiter:   newUserLimiter(opts.CreatesPerSecond, opts.CreateBurst),
		heartbeat: opts.Heartbeat,
		logger:    opts.Logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	if opts.Metrics != nil {
		r.Use(func(next http.Handler) http.Handler {
			return opts.Metrics.Instrument(routePattern, next)
		})
	}

	r.Get("/health", srv.handleHealth)
	if opts.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", opts.MetricsHandler)
	}
	if opts.MCP != nil {
		r.Handle("/mcp", opts.MCP)
	}

	r.Route("/v1", func(r chi.Router) {
		if opts.Auth != nil {
			r.Use(opts.Auth)
		}
		r.Use(requireUser)

		r.Get("/reports", srv.handleList)
		r.Post("/reports", srv.handleCreate)
		r.Get("/reports/changes", srv.handleChanges)
		r.Get("/reports/{id}", srv.handleGet)
		r.Patch("/reports/{id}", srv.handleUpdate)
		r.Post("/evidence/{kind}", srv.handleEvidence)
		r.Put("/users/me", srv.handleProfile)
	})

	return r
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := identity.FromContext(r.Context()); !ok {
			writeAPIError(w, http.StatusUnauthorized, &APIError{Code: CodeUnauthorized, Message: "no authenticated user"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func caller(r *http.Request) user.User {
	u, _ := identity.FromContext(r.Context())
	return u
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	apiErr, status := MapError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeAPIError(w, status, apiErr)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeAPIError(w, http.StatusBadRequest, &APIError{Code: CodeBadRequest, Message: "invalid JSON body: " + err.Error()})
		return false
	}
	return true
}

// handleList serves GET /v1/reports. Citizens only ever see their own rows;
// employees may narrow by user_id.
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	u := caller(r)
	values := r.URL.Query()

	q := report.Query{
		ReporterID: values.Get("user_id"),
		Ascending:  values.Get("order") == "asc",
	}
	if !u.IsEmployee() {
		q.ReporterID = u.ID
	}
	for _, raw := range values["status"] {
		st := report.Status(raw)
		if !st.Valid() {
			writeAPIError(w, http.StatusUnprocessableEntity, &APIError{Code: CodeValidation, Message: "unknown status " + raw, Fields: []string{"status"}})
			return
		}
		q.Statuses = append(q.Statuses, st)
	}
	if raw := values.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeAPIError(w, http.StatusUnprocessableEntity, &APIError{Code: CodeValidation, Message: "limit must be a non-negative integer", Fields: []string{"limit"}})
			return
		}
		q.Limit = n
	}

	rows, err := s.reports.Select(r.Context(), q)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if rows == nil {
		rows = []report.Report{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	u := caller(r)
	rep, err := s.reports.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !u.IsEmployee() && rep.ReporterID != u.ID {
		s.fail(w, r, report.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// handleCreate serves POST /v1/reports. The row is normalised like a local
// draft and always attributed to the caller.
func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	u := caller(r)
	if !s.limiter.Allow(u.ID) {
		writeAPIError(w, http.StatusTooManyRequests, &APIError{Code: CodeRateLimited, Message: "too many reports, slow down"})
		return
	}

	var row report.NewRow
	if !decodeJSON(w, r, &row) {
		return
	}
	if row.Status != "" && row.Status != report.StatusPending {
		s.fail(w, r, &report.ValidationError{Fields: []string{"status"}})
		return
	}

	draft := report.NormalizeDraft(report.Draft{
		Title:            row.Title,
		Description:      row.Description,
		Category:         row.Category,
		Priority:         row.Priority,
		LocationAddress:  row.LocationAddress,
		LocationLat:      row.LocationLat,
		LocationLng:      row.LocationLng,
		OriginalImageRef: row.OriginalImageRef,
		AudioRef:         row.AudioRef,
		AIAnalysis:       row.AIAnalysis,
	})
	if err := report.ValidateDraft(draft); err != nil {
		s.fail(w, r, err)
		return
	}

	created, err := s.reports.Insert(r.Context(), report.NewRowFromDraft(draft, u.ID))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	u := caller(r)
	if !u.IsEmployee() {
		s.fail(w, r, report.ErrForbidden)
		return
	}

	var patch report.Patch
	if !decodeJSON(w, r, &patch) {
		return
	}

	updated, err := s.reports.Update(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.Info("report updated via api", "report_id", updated.ID, "status", updated.Status, "actor", u.ID)
	writeJSON(w, http.StatusOK, updated)
}

type evidenceResponse struct {
	Ref evidence.Ref `json:"ref"`
}

func (s *Server) handleEvidence(w http.ResponseWriter, r *http.Request) {
	if s.evidence == nil {
		writeAPIError(w, http.StatusServiceUnavailable, &APIError{Code: CodeInternal, Message: "evidence storage is not configured"})
		return
	}
	u := caller(r)
	kind := evidence.Kind(chi.URLParam(r, "kind"))
	if kind == evidence.KindCompletionImage && !u.IsEmployee() {
		s.fail(w, r, report.ErrForbidden)
		return
	}

	ref, err := s.evidence.Put(r.Context(), kind, r.Header.Get("Content-Type"), r.Body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, evidenceResponse{Ref: ref})
}

type profileRequest struct {
	FullName string  `json:"full_name"`
	Email    string  `json:"email"`
	Phone    *string `json:"phone,omitempty"`
}

// handleProfile serves PUT /v1/users/me. The user type comes from the
// token and cannot be changed here.
func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	if s.profiles == nil {
		writeAPIError(w, http.StatusServiceUnavailable, &APIError{Code: CodeInternal, Message: "profiles are not configured"})
		return
	}
	u := caller(r)

	var req profileRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	u.FullName = req.FullName
	u.Email = req.Email
	u.Phone = req.Phone

	if err := s.profiles.Save(r.Context(), &u); err != nil {
		if !errors.Is(err, user.ErrInvalidInput) {
			s.logger.Error("saving profile", "user_id", u.ID, "error", err)
		}
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}
