package web

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"ithappened/internal/config"
	appLog "ithappened/internal/log"
	"ithappened/internal/metrics"
	"ithappened/internal/model"
	"ithappened/internal/screen"
)

func init() {
	appLog.SetOutput(io.Discard)
}

type stubService struct {
	mu      sync.Mutex
	events  []model.Event
	lists   int
	creates []model.CreateEventRequest
	deletes []int64
}

func (s *stubService) List(context.Context) ([]model.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lists++
	return append([]model.Event(nil), s.events...), nil
}

func (s *stubService) Create(_ context.Context, req model.CreateEventRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creates = append(s.creates, req)
	s.events = append(s.events, model.Event{ID: int64(len(s.events) + 10), Date: 9000, Name: req.Name, Description: req.Description})
	return nil
}

func (s *stubService) Delete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletes = append(s.deletes, id)
	return nil
}

func newTestServer(t *testing.T, cfg *config.Config, svc *stubService, load bool) (*Server, *prometheus.Registry) {
	t.Helper()
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	cfg.Timezone = "UTC"
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	ctrl := screen.New(svc, screen.Options{ReadOnly: cfg.ReadOnly, Metrics: m})
	if load {
		if err := ctrl.Load(context.Background()); err != nil {
			t.Fatalf("Load: %v", err)
		}
	}
	return NewServer(cfg, ctrl, m, reg), reg
}

func do(h http.Handler, method, target string, form url.Values) *httptest.ResponseRecorder {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req := httptest.NewRequest(method, target, body)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func sampleEvents() []model.Event {
	return []model.Event{
		{ID: 1, Date: 1000, Name: "Alpha", Description: "d1"},
		{ID: 2, Date: 2000, Name: "Bravo", Description: "d2"},
	}
}

func TestScreenRendersNewestFirst(t *testing.T) {
	s, _ := newTestServer(t, nil, &stubService{events: sampleEvents()}, true)

	rec := do(s.Handler(), http.MethodGet, "/", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `data-status="loaded"`) {
		t.Error("missing loaded status marker")
	}
	a, b := strings.Index(body, "Alpha"), strings.Index(body, "Bravo")
	if a < 0 || b < 0 || b > a {
		t.Errorf("want Bravo before Alpha (Bravo=%d Alpha=%d)", b, a)
	}
	if !strings.Contains(body, "1/1/1970, 12:00:02 AM") {
		t.Error("missing formatted date for Bravo")
	}
	if !strings.Contains(body, `action="/events/2/delete"`) {
		t.Error("missing delete form")
	}
}

func TestScreenBeforeLoadShowsLoading(t *testing.T) {
	s, _ := newTestServer(t, nil, &stubService{}, false)
	body := do(s.Handler(), http.MethodGet, "/", nil).Body.String()
	if !strings.Contains(body, "Loading...") || !strings.Contains(body, `data-status="idle"`) {
		t.Errorf("unexpected body:\n%s", body)
	}
}

func TestScreenEmptyIsNotLoading(t *testing.T) {
	s, _ := newTestServer(t, nil, &stubService{}, true)
	body := do(s.Handler(), http.MethodGet, "/", nil).Body.String()
	if strings.Contains(body, "Loading...") || !strings.Contains(body, "No events yet.") {
		t.Errorf("unexpected body:\n%s", body)
	}
}

func TestCreateForm(t *testing.T) {
	svc := &stubService{}
	s, _ := newTestServer(t, nil, svc, true)

	rec := do(s.Handler(), http.MethodPost, "/events", url.Values{"name": {"Party"}, "description": {"Cake"}})
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/" {
		t.Fatalf("got %d %q, want 303 to /", rec.Code, rec.Header().Get("Location"))
	}
	if len(svc.creates) != 1 || svc.creates[0].Name != "Party" {
		t.Errorf("creates = %+v", svc.creates)
	}
	if svc.lists != 2 {
		t.Errorf("lists = %d, want 2 (initial + after create)", svc.lists)
	}
}

func TestCreateFormEmptyFieldSendsNothing(t *testing.T) {
	svc := &stubService{}
	s, _ := newTestServer(t, nil, svc, false)

	rec := do(s.Handler(), http.MethodPost, "/events", url.Values{"name": {""}, "description": {"x"}})
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(svc.creates) != 0 || svc.lists != 0 {
		t.Errorf("creates=%d lists=%d, want none", len(svc.creates), svc.lists)
	}
}

func TestDeleteRoute(t *testing.T) {
	svc := &stubService{events: sampleEvents()}
	s, _ := newTestServer(t, nil, svc, true)

	rec := do(s.Handler(), http.MethodPost, "/events/2/delete", nil)
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(svc.deletes) != 1 || svc.deletes[0] != 2 {
		t.Errorf("deletes = %v", svc.deletes)
	}

	rec = do(s.Handler(), http.MethodPost, "/events/abc/delete", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("non-integer id: status = %d, want 400", rec.Code)
	}
}

func TestDeleteRouteReadOnly(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.ReadOnly = true
	svc := &stubService{events: sampleEvents()}
	s, _ := newTestServer(t, cfg, svc, true)

	if rec := do(s.Handler(), http.MethodPost, "/events/2/delete", nil); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	if len(svc.deletes) != 0 {
		t.Errorf("deletes = %v", svc.deletes)
	}
	if body := do(s.Handler(), http.MethodGet, "/", nil).Body.String(); strings.Contains(body, "/delete") {
		t.Error("read-only screen still offers delete")
	}
}

func TestRefreshRoute(t *testing.T) {
	svc := &stubService{}
	s, _ := newTestServer(t, nil, svc, false)

	rec := do(s.Handler(), http.MethodPost, "/refresh", nil)
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("status = %d", rec.Code)
	}
	if svc.lists != 1 {
		t.Errorf("lists = %d, want 1", svc.lists)
	}
}

func TestStateJSON(t *testing.T) {
	s, _ := newTestServer(t, nil, &stubService{events: sampleEvents()}, true)

	rec := do(s.Handler(), http.MethodGet, "/api/state", nil)
	var got stateResponse
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Status != "loaded" || len(got.Events) != 2 || got.Events[0].ID != 2 || !got.CanDelete {
		t.Errorf("state = %+v", got)
	}
}

func TestICSExport(t *testing.T) {
	s, _ := newTestServer(t, nil, &stubService{events: sampleEvents()}, true)

	rec := do(s.Handler(), http.MethodGet, "/events.ics", nil)
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/calendar") {
		t.Errorf("Content-Type = %q", ct)
	}
	body := rec.Body.String()
	if strings.Count(body, "BEGIN:VEVENT") != 2 || !strings.Contains(body, "SUMMARY:Bravo") {
		t.Errorf("unexpected feed:\n%s", body)
	}
}

func TestBasicAuth(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BasicAuth = &config.BasicAuthConfig{Username: "user", Password: "secret"}
	s, _ := newTestServer(t, cfg, &stubService{}, true)
	h := s.Handler()

	if rec := do(h, http.MethodGet, "/api/state", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("no credentials: status = %d, want 401", rec.Code)
	}
	if rec := do(h, http.MethodGet, "/health", nil); rec.Code != http.StatusOK {
		t.Errorf("/health: status = %d, want 200", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/state", nil)
	req.SetBasicAuth("user", "secret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("with credentials: status = %d, want 200", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t, nil, &stubService{events: sampleEvents()}, true)
	h := s.Handler()
	do(h, http.MethodGet, "/", nil)

	body := do(h, http.MethodGet, "/metrics", nil).Body.String()
	for _, want := range []string{
		`ithappened_http_requests_total{route="screen",status="200"} 1`,
		`ithappened_screen_events 2`,
		`ithappened_screen_status{status="loaded"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

// slowListService blocks List while armed until the call is canceled.
type slowListService struct {
	stubService
	armed   bool
	started chan struct{}
}

func (s *slowListService) List(ctx context.Context) ([]model.Event, error) {
	s.mu.Lock()
	armed := s.armed
	s.armed = false
	s.mu.Unlock()
	if armed {
		close(s.started)
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return s.stubService.List(ctx)
}

func TestDeleteSupersededReloadIsNotAnError(t *testing.T) {
	var logs bytes.Buffer
	appLog.SetOutput(&logs)
	t.Cleanup(func() { appLog.SetOutput(io.Discard) })

	svc := &slowListService{stubService: stubService{events: sampleEvents()}, started: make(chan struct{})}
	cfg := config.DefaultConfig()
	cfg.Timezone = "UTC"
	ctrl := screen.New(svc, screen.Options{})
	s := NewServer(cfg, ctrl, nil, prometheus.NewRegistry())

	svc.mu.Lock()
	svc.armed = true
	svc.mu.Unlock()

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() { done <- do(s.Handler(), http.MethodPost, "/events/2/delete", nil) }()
	<-svc.started

	if err := ctrl.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	rec := <-done
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("status = %d", rec.Code)
	}
	if strings.Contains(logs.String(), "delete failed") {
		t.Errorf("superseded reload logged as failure:\n%s", logs.String())
	}
	if snap := ctrl.Snapshot(); snap.Status != screen.StatusLoaded {
		t.Errorf("status = %v", snap.Status)
	}
}
