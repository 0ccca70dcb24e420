package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/h1v3-io/threadkeeper/internal/logbuf"
	"github.com/h1v3-io/threadkeeper/internal/scheduler"
)

// LogQuerier abstracts log entry querying so tests can supply a fake.
type LogQuerier interface {
	Query(f logbuf.Filter) []logbuf.Entry
	Len() (n int, dropped uint64)
}

// ReconcileReport is one guild's reconcile outcome.
type ReconcileReport struct {
	GuildID string `json:"guild_id"`
	Scanned int    `json:"scanned"`
	Renamed int    `json:"renamed"`
	Failed  int    `json:"failed"`
	Error   string `json:"error,omitempty"`
}

// BotService is the interface the API server needs from the running bot.
type BotService interface {
	Connector() string
	Connected() bool
	Guilds() []string
	Jobs() []scheduler.JobInfo
	Reconcile(ctx context.Context) []ReconcileReport
}

// Config holds API server configuration.
type Config struct {
	Host string
	Port int
	Key  string // API key for Bearer auth
}

// Server is the ops REST API.
type Server struct {
	svc     BotService
	cfg     Config
	logger  *slog.Logger
	logs    LogQuerier
	started time.Time
	mux     *http.ServeMux
	srv     *http.Server
}

// NewServer creates a new API server. logs and metrics may be nil.
func NewServer(svc BotService, cfg Config, logger *slog.Logger, logs LogQuerier, metrics http.Handler) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		svc:     svc,
		cfg:     cfg,
		logger:  logger,
		logs:    logs,
		started: time.Now(),
	}
	mux := http.NewServeMux()
	s.mux = mux
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/guilds", s.requireAuth(s.handleGuilds))
	mux.HandleFunc("GET /api/jobs", s.requireAuth(s.handleJobs))
	mux.HandleFunc("POST /api/reconcile", s.requireAuth(s.handleReconcile))
	mux.HandleFunc("GET /api/logs", s.requireAuth(s.handleGetLogs))
	if metrics != nil {
		mux.HandleFunc("GET /metrics", s.requireAuth(metrics.ServeHTTP))
	}

	s.srv = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           s.corsMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Mount registers h outside the API key check. Handlers mounted this way
// authenticate requests themselves. Call before Start.
func (s *Server) Mount(pattern string, h http.Handler) {
	s.mux.Handle(pattern, h)
}

// Start begins listening. Blocks until context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.srv.Shutdown(shutCtx)
	}()

	s.logger.Info("api server starting", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Handler returns the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// --- Middleware ---

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Key == "" {
			next(w, r)
			return
		}
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != s.cfg.Key {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next(w, r)
	}
}

// --- Handlers ---

// HealthResponse is the body of GET /api/health.
type HealthResponse struct {
	Status    string `json:"status"` // "ok" or "degraded"
	Connector string `json:"connector"`
	Connected bool   `json:"connected"`
	Guilds    int    `json:"guilds"`
	Uptime    string `json:"uptime"`
	// LogEntries and LogsDropped describe the in-memory log buffer.
	LogEntries  int    `json:"log_entries"`
	LogsDropped uint64 `json:"logs_dropped"`
}

// The endpoint answers 200 even when degraded: a dropped gateway
// reconnects on its own and restarting the process would not help.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := HealthResponse{
		Status:    "ok",
		Connector: s.svc.Connector(),
		Connected: s.svc.Connected(),
		Guilds:    len(s.svc.Guilds()),
		Uptime:    time.Since(s.started).Round(time.Second).String(),
	}
	if !resp.Connected {
		resp.Status = "degraded"
	}
	if s.logs != nil {
		resp.LogEntries, resp.LogsDropped = s.logs.Len()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGuilds(w http.ResponseWriter, _ *http.Request) {
	guilds := s.svc.Guilds()
	if guilds == nil {
		guilds = []string{}
	}
	writeJSON(w, http.StatusOK, guilds)
}

func (s *Server) handleJobs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Jobs())
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	if !s.svc.Connected() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "gateway not connected"})
		return
	}
	reports := s.svc.Reconcile(r.Context())
	if reports == nil {
		reports = []ReconcileReport{}
	}
	s.logger.Info("reconcile requested via api", "guilds", len(reports))
	writeJSON(w, http.StatusOK, reports)
}

func (s *Server) handleGetLogs(w http.ResponseWriter, r *http.Request) {
	if s.logs == nil {
		writeJSON(w, http.StatusOK, []logbuf.Entry{})
		return
	}

	q := r.URL.Query()
	f := logbuf.Filter{
		MinLevel:  slog.LevelDebug,
		Limit:     200,
		Component: q.Get("component"),
		RequestID: q.Get("request_id"),
	}
	if l := q.Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			f.Limit = n
		}
	}
	if lvl := q.Get("level"); lvl != "" {
		f.MinLevel = logbuf.ParseLevel(lvl)
	}
	if since := q.Get("since"); since != "" {
		if ms, err := strconv.ParseInt(since, 10, 64); err == nil {
			f.Since = time.UnixMilli(ms)
		} else if d, err := time.ParseDuration(since); err == nil {
			f.Since = time.Now().Add(-d)
		}
	}

	entries := s.logs.Query(f)
	if entries == nil {
		entries = []logbuf.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
