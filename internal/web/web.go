package web

import (
	"context"
	"crypto/subtle"
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ithappened/internal/config"
	"ithappened/internal/ics"
	appLog "ithappened/internal/log"
	"ithappened/internal/metrics"
	"ithappened/internal/model"
	"ithappened/internal/screen"
)

// dateLayout mimics a en-US locale date string.
const dateLayout = "1/2/2006, 3:04:05 PM"

//go:embed templates/*.html
var templateFS embed.FS

var screenTemplate = template.Must(template.ParseFS(templateFS, "templates/screen.html"))

// Server renders the event list screen and routes user actions to the
// screen controller.
type Server struct {
	cfg      *config.Config
	ctrl     *screen.Controller
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	loc      *time.Location
	mux      *http.ServeMux
	now      func() time.Time
}

// NewServer constructs a new Server. m and g may be nil; g defaults to
// the Prometheus default gatherer.
func NewServer(cfg *config.Config, ctrl *screen.Controller, m *metrics.Metrics, g prometheus.Gatherer) *Server {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	s := &Server{
		cfg:      cfg,
		ctrl:     ctrl,
		metrics:  m,
		gatherer: g,
		loc:      cfg.Location(),
		mux:      http.NewServeMux(),
		now:      time.Now,
	}
	s.registerRoutes()
	return s
}

// Handler returns the root http.Handler with logging and optional basic
// auth applied.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		h = s.basicAuthMiddleware(h)
	}
	return loggingMiddleware(h)
}

// ListenAndServe serves on cfg.Listen until ctx is canceled, then shuts
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		// Create/delete/refresh wait for the events API before redirecting.
		WriteTimeout: s.cfg.RequestTimeout()*2 + 5*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	s.handle("GET /{$}", "screen", s.handleScreen)
	s.handle("GET /api/state", "state", s.handleState)
	s.handle("GET /events.ics", "ics", s.handleICS)
	s.handle("GET /preview.png", "preview", s.handlePreview)
	s.handle("POST /refresh", "refresh", s.handleRefresh)
	s.handle("POST /events", "create", s.handleCreate)
	s.handle("POST /events/{id}/delete", "delete", s.handleDelete)
}

// handle registers h under pattern and counts its responses by route.
func (s *Server) handle(pattern, route string, h http.HandlerFunc) {
	s.mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		rw := wrapResponseWriter(w)
		h(rw, r)
		if s.metrics != nil {
			s.metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(rw.Status())).Inc()
		}
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// screenView is the template model for the screen.
type screenView struct {
	Status      string
	Pending     bool
	Error       string
	Refreshing  bool
	Name        string
	Description string
	CanDelete   bool
	Events      []eventView
}

type eventView struct {
	ID          int64
	Name        string
	Description string
	Date        string
}

func (s *Server) viewFor(snap screen.Snapshot) screenView {
	v := screenView{
		Status:      snap.Status.String(),
		Pending:     !snap.Status.Settled(),
		Error:       snap.Error,
		Refreshing:  snap.Refreshing,
		Name:        snap.Name,
		Description: snap.Description,
		CanDelete:   snap.CanDelete,
		Events:      make([]eventView, 0, len(snap.Events)),
	}
	for _, e := range snap.Events {
		v.Events = append(v.Events, eventView{
			ID:          e.ID,
			Name:        e.Name,
			Description: e.Description,
			Date:        e.Time().In(s.loc).Format(dateLayout),
		})
	}
	return v
}

func (s *Server) handleScreen(w http.ResponseWriter, _ *http.Request) {
	view := s.viewFor(s.ctrl.Snapshot())
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	if err := screenTemplate.Execute(w, view); err != nil {
		appLog.Error("failed to render screen", err)
	}
}

// stateResponse is the JSON shape of /api/state.
type stateResponse struct {
	Status      string        `json:"status"`
	Events      []model.Event `json:"events"`
	Error       string        `json:"error,omitempty"`
	Refreshing  bool          `json:"refreshing"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	CanDelete   bool          `json:"can_delete"`
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	snap := s.ctrl.Snapshot()
	events := snap.Events
	if events == nil {
		events = []model.Event{}
	}
	writeJSON(w, http.StatusOK, stateResponse{
		Status:      snap.Status.String(),
		Events:      events,
		Error:       snap.Error,
		Refreshing:  snap.Refreshing,
		Name:        snap.Name,
		Description: snap.Description,
		CanDelete:   snap.CanDelete,
	})
}

func (s *Server) handleICS(w http.ResponseWriter, _ *http.Request) {
	snap := s.ctrl.Snapshot()
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="events.ics"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(ics.Export(snap.Events, s.now())))
}

// handlePreview serves the PNG written by the last -capture run.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	http.ServeFile(w, r, s.cfg.CapturePath)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.Refresh(r.Context()); err != nil && !errors.Is(err, screen.ErrSuperseded) {
		appLog.Error("refresh failed", err)
	}
	redirectToScreen(w, r)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form")
		return
	}
	err := s.ctrl.Submit(r.Context(), r.PostForm.Get("name"), r.PostForm.Get("description"))
	if err != nil && !errors.Is(err, screen.ErrSuperseded) {
		appLog.Error("create failed", err)
	}
	redirectToScreen(w, r)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if s.cfg.ReadOnly {
		http.NotFound(w, r)
		return
	}
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "id must be an integer")
		return
	}

	if err := s.ctrl.Delete(r.Context(), id); err != nil {
		if errors.Is(err, screen.ErrDeleteDisabled) {
			http.NotFound(w, r)
			return
		}
		if !errors.Is(err, screen.ErrSuperseded) {
			appLog.Error("delete failed", err, "id", id)
		}
	}
	redirectToScreen(w, r)
}

func redirectToScreen(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health and /metrics with
// HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="ithappened", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
