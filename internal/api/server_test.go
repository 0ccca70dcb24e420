package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/h1v3-io/threadkeeper/internal/logbuf"
	"github.com/h1v3-io/threadkeeper/internal/scheduler"
)

// mockBotService implements BotService for testing.
type mockBotService struct {
	connected  bool
	guilds     []string
	jobs       []scheduler.JobInfo
	reports    []ReconcileReport
	reconciled int
}

func (m *mockBotService) Connector() string         { return "discord" }
func (m *mockBotService) Connected() bool           { return m.connected }
func (m *mockBotService) Guilds() []string          { return m.guilds }
func (m *mockBotService) Jobs() []scheduler.JobInfo { return m.jobs }
func (m *mockBotService) Reconcile(context.Context) []ReconcileReport {
	m.reconciled++
	return m.reports
}

type stubMetrics struct{}

func (stubMetrics) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	io.WriteString(w, "threadkeeper_commands_total 3\n")
}

func newTestServer(svc BotService, key string, logs LogQuerier) *Server {
	return NewServer(svc, Config{Host: "127.0.0.1", Port: 0, Key: key}, nil, logs, stubMetrics{})
}

func do(t *testing.T, srv *Server, method, path, key string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	srv := newTestServer(&mockBotService{connected: true, guilds: []string{"g1", "g2"}}, "secret", nil)
	w := do(t, srv, "GET", "/api/health", "")

	if w.Code != http.StatusOK {
		t.Errorf("status = %d", w.Code)
	}
	var body HealthResponse
	json.NewDecoder(w.Body).Decode(&body)
	if body.Status != "ok" || !body.Connected || body.Guilds != 2 || body.Connector != "discord" {
		t.Errorf("body = %+v", body)
	}
}

func TestHealth_Degraded(t *testing.T) {
	srv := newTestServer(&mockBotService{}, "", nil)
	w := do(t, srv, "GET", "/api/health", "")

	var body HealthResponse
	json.NewDecoder(w.Body).Decode(&body)
	if w.Code != http.StatusOK || body.Status != "degraded" || body.Connected {
		t.Errorf("status = %d body = %+v", w.Code, body)
	}
}

func TestGuilds(t *testing.T) {
	srv := newTestServer(&mockBotService{guilds: []string{"g1"}}, "", nil)
	w := do(t, srv, "GET", "/api/guilds", "")

	var guilds []string
	json.NewDecoder(w.Body).Decode(&guilds)
	if w.Code != http.StatusOK || len(guilds) != 1 || guilds[0] != "g1" {
		t.Errorf("status = %d guilds = %v", w.Code, guilds)
	}

	w = do(t, newTestServer(&mockBotService{}, "", nil), "GET", "/api/guilds", "")
	if strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("empty guilds body = %q", w.Body.String())
	}
}

func TestJobs(t *testing.T) {
	svc := &mockBotService{jobs: []scheduler.JobInfo{{Name: "reconcile", Schedule: "@every 1h"}}}
	w := do(t, newTestServer(svc, "", nil), "GET", "/api/jobs", "")

	var jobs []scheduler.JobInfo
	json.NewDecoder(w.Body).Decode(&jobs)
	if len(jobs) != 1 || jobs[0].Name != "reconcile" {
		t.Errorf("jobs = %+v", jobs)
	}
}

func TestReconcile(t *testing.T) {
	svc := &mockBotService{
		connected: true,
		reports: []ReconcileReport{
			{GuildID: "g1", Scanned: 4, Renamed: 1},
			{GuildID: "g2", Error: "list active threads: 503"},
		},
	}
	srv := newTestServer(svc, "", nil)
	w := do(t, srv, "POST", "/api/reconcile", "")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var reports []ReconcileReport
	json.NewDecoder(w.Body).Decode(&reports)
	if len(reports) != 2 || reports[0].Renamed != 1 || reports[1].Error == "" {
		t.Errorf("reports = %+v", reports)
	}
	if svc.reconciled != 1 {
		t.Errorf("reconciled = %d", svc.reconciled)
	}
}

func TestReconcile_Disconnected(t *testing.T) {
	svc := &mockBotService{}
	w := do(t, newTestServer(svc, "", nil), "POST", "/api/reconcile", "")

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
	if svc.reconciled != 0 {
		t.Error("reconcile ran while disconnected")
	}
}

func TestReconcile_MethodNotAllowed(t *testing.T) {
	w := do(t, newTestServer(&mockBotService{connected: true}, "", nil), "GET", "/api/reconcile", "")
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", w.Code)
	}
}

func TestAuth(t *testing.T) {
	srv := newTestServer(&mockBotService{connected: true}, "secret", nil)

	for _, path := range []string{"/api/guilds", "/api/jobs", "/api/logs", "/metrics"} {
		if w := do(t, srv, "GET", path, ""); w.Code != http.StatusUnauthorized {
			t.Errorf("%s without key: status = %d", path, w.Code)
		}
		if w := do(t, srv, "GET", path, "wrong"); w.Code != http.StatusUnauthorized {
			t.Errorf("%s wrong key: status = %d", path, w.Code)
		}
		if w := do(t, srv, "GET", path, "secret"); w.Code != http.StatusOK {
			t.Errorf("%s valid key: status = %d", path, w.Code)
		}
	}
}

func TestMetrics(t *testing.T) {
	w := do(t, newTestServer(&mockBotService{}, "", nil), "GET", "/metrics", "")
	if !strings.Contains(w.Body.String(), "threadkeeper_commands_total") {
		t.Errorf("body = %q", w.Body.String())
	}

	noMetrics := NewServer(&mockBotService{}, Config{}, nil, nil, nil)
	if w := do(t, noMetrics, "GET", "/metrics", ""); w.Code != http.StatusNotFound {
		t.Errorf("status without metrics = %d", w.Code)
	}
}

func TestCORS(t *testing.T) {
	w := do(t, newTestServer(&mockBotService{}, "", nil), "OPTIONS", "/api/guilds", "")

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS header")
	}
}

func TestGetLogs(t *testing.T) {
	buf := logbuf.New(50)
	logger := slog.New(logbuf.NewHandler(slog.NewTextHandler(io.Discard, nil), buf))
	logger.Debug("gateway heartbeat", "component", "discord")
	logger.Info("thread status updated", "component", "statussync", "thread_id", "t1")
	logger.Warn("thread status sync denied", "component", "bot", "request_id", "r1")
	logger.Error("reconcile failed", "component", "bot")

	srv := newTestServer(&mockBotService{}, "", buf)

	tests := []struct {
		query string
		want  []string
	}{
		{"", []string{"gateway heartbeat", "thread status updated", "thread status sync denied", "reconcile failed"}},
		{"?level=warn", []string{"thread status sync denied", "reconcile failed"}},
		{"?component=statussync", []string{"thread status updated"}},
		{"?request_id=r1", []string{"thread status sync denied"}},
		{"?limit=1", []string{"reconcile failed"}},
		{"?since=1h", []string{"gateway heartbeat", "thread status updated", "thread status sync denied", "reconcile failed"}},
		{"?since=" + strconv.FormatInt(time.Now().Add(time.Hour).UnixMilli(), 10), nil},
	}
	for _, tt := range tests {
		w := do(t, srv, "GET", "/api/logs"+tt.query, "")
		var entries []logbuf.Entry
		if err := json.NewDecoder(w.Body).Decode(&entries); err != nil {
			t.Fatalf("%s: decode: %v", tt.query, err)
		}
		var got []string
		for _, e := range entries {
			got = append(got, e.Message)
		}
		if strings.Join(got, "|") != strings.Join(tt.want, "|") {
			t.Errorf("logs%s = %v, want %v", tt.query, got, tt.want)
		}
	}
}

func TestGetLogs_NoBuffer(t *testing.T) {
	w := do(t, newTestServer(&mockBotService{}, "", nil), "GET", "/api/logs", "")
	if w.Code != http.StatusOK || strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("status = %d body = %q", w.Code, w.Body.String())
	}
}

func TestMount_BypassesAPIKey(t *testing.T) {
	srv := newTestServer(&mockBotService{}, "secret", nil)
	srv.Mount("POST /api/webhook/{name}", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, r.PathValue("name"))
	}))

	w := do(t, srv, "POST", "/api/webhook/ci", "")
	if w.Code != http.StatusOK || w.Body.String() != "ci" {
		t.Errorf("status = %d body = %q", w.Code, w.Body.String())
	}
}

func TestHealth_LogBufferStats(t *testing.T) {
	buf := logbuf.New(2)
	logger := slog.New(logbuf.NewHandler(slog.NewTextHandler(io.Discard, nil), buf))
	for i := 0; i < 5; i++ {
		logger.Info("gateway heartbeat")
	}

	w := do(t, newTestServer(&mockBotService{connected: true}, "", buf), "GET", "/api/health", "")
	var body HealthResponse
	json.NewDecoder(w.Body).Decode(&body)
	if body.LogEntries != 2 || body.LogsDropped != 3 {
		t.Errorf("log stats = %d entries, %d dropped", body.LogEntries, body.LogsDropped)
	}
}
