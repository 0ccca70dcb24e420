package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestGlyph(t *testing.T) {
	tests := []struct {
		args []string
		want string
	}{
		{[]string{"glyph", "resolved", "🟡 Fix login bug"}, "🟢 Fix login bug"},
		{[]string{"glyph", "pending", "Null", "pointer"}, "🟡 Null pointer"},
		{[]string{"glyph", "locked", "🟢🟡 Done"}, "🟢 Done"},
	}
	for _, tt := range tests {
		out, err := run(t, tt.args...)
		if err != nil {
			t.Fatalf("%v: %v", tt.args, err)
		}
		if strings.TrimSpace(out) != tt.want {
			t.Errorf("%v = %q, want %q", tt.args, out, tt.want)
		}
	}
}

func TestGlyph_UnknownStatus(t *testing.T) {
	if _, err := run(t, "glyph", "done", "title"); err == nil {
		t.Error("expected error for unknown status")
	}
	if _, err := run(t, "glyph", "pending"); err == nil {
		t.Error("expected error for missing title")
	}
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/health" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"status":"ok","connected":true}`))
	}))
	defer srv.Close()

	out, err := run(t, "--addr", srv.URL, "health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if !strings.Contains(out, `"status": "ok"`) {
		t.Errorf("out = %q", out)
	}
}

func TestAPIKeySent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer s3cret" {
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`["g1","g2"]`))
	}))
	defer srv.Close()

	if _, err := run(t, "--addr", srv.URL, "guilds"); err == nil || !strings.Contains(err.Error(), "HTTP 401") {
		t.Errorf("expected 401, got %v", err)
	}
	out, err := run(t, "--addr", srv.URL, "--key", "s3cret", "guilds")
	if err != nil {
		t.Fatalf("guilds: %v", err)
	}
	if out != "g1\ng2\n" {
		t.Errorf("out = %q", out)
	}
}

func TestReconcile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/reconcile" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		w.Write([]byte(`[{"guild_id":"g1","scanned":4,"renamed":1,"failed":0},{"guild_id":"g2","error":"unavailable"}]`))
	}))
	defer srv.Close()

	out, err := run(t, "--addr", srv.URL, "reconcile")
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !strings.Contains(out, "g1  scanned=4 renamed=1 failed=0") || !strings.Contains(out, "g2  error: unavailable") {
		t.Errorf("out = %q", out)
	}
}

func TestLogs(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Write([]byte(`[{"time":"2024-05-01T09:00:00Z","level":"WARN","message":"thread status sync denied","component":"bot","request_id":"r1","attrs":{"thread_id":"t1"}}]`))
	}))
	defer srv.Close()

	out, err := run(t, "--addr", srv.URL, "logs", "--level", "warn", "--component", "bot", "--limit", "5")
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	for _, want := range []string{"level=warn", "component=bot", "limit=5"} {
		if !strings.Contains(gotQuery, want) {
			t.Errorf("query %q missing %s", gotQuery, want)
		}
	}
	if !strings.Contains(out, "[bot] thread status sync denied request_id=r1 thread_id=t1") {
		t.Errorf("out = %q", out)
	}
}

func TestConfigValidate(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.yaml")
	os.WriteFile(good, []byte("discord:\n  token: abc\n"), 0o644)
	bad := filepath.Join(dir, "bad.json")
	os.WriteFile(bad, []byte(`{"sync":{"reconcile_schedule":"whenever"},"discord":{"token":"x"}}`), 0o644)

	out, err := run(t, "config", "validate", good)
	if err != nil || !strings.Contains(out, "config is valid") {
		t.Errorf("good: out = %q err = %v", out, err)
	}
	if _, err := run(t, "config", "validate", bad); err == nil {
		t.Error("expected invalid config error")
	}
}
