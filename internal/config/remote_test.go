package config

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const remoteYAML = `
sync:
  channels: [bugs, releases]
  reconcile_schedule: "*/15 * * * *"
list:
  limit: 10
`

func TestLoadFromURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/threadkeeper.yaml" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		w.Write([]byte(remoteYAML))
	}))
	defer srv.Close()

	cfg, err := LoadFromURL(context.Background(), RemoteOptions{
		URL:    srv.URL + "/threadkeeper.yaml",
		APIKey: "test-key",
		Token:  "local-token",
	})
	if err != nil {
		t.Fatalf("LoadFromURL: %v", err)
	}
	if cfg.Discord.Token != "local-token" {
		t.Errorf("token = %q", cfg.Discord.Token)
	}
	if strings.Join(cfg.Sync.Channels, ",") != "bugs,releases" {
		t.Errorf("channels = %v", cfg.Sync.Channels)
	}
	if cfg.List.Limit != 10 || cfg.List.ParticipantScan != DefaultParticipantScan {
		t.Errorf("list = %+v", cfg.List)
	}
}

func TestLoadFromURL_ContentTypeYAML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/yaml")
		w.Write([]byte(remoteYAML))
	}))
	defer srv.Close()

	cfg, err := LoadFromURL(context.Background(), RemoteOptions{URL: srv.URL + "/config", Token: "t"})
	if err != nil {
		t.Fatalf("LoadFromURL: %v", err)
	}
	if cfg.Sync.ReconcileSchedule != "*/15 * * * *" {
		t.Errorf("schedule = %q", cfg.Sync.ReconcileSchedule)
	}
}

func TestLoadFromURL_Unauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := LoadFromURL(context.Background(), RemoteOptions{URL: srv.URL, APIKey: "wrong", Token: "t"})
	if err == nil || !strings.Contains(err.Error(), "HTTP 401") {
		t.Fatalf("expected HTTP 401 error, got %v", err)
	}
}

func TestLoadFromURL_InvalidJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	_, err := LoadFromURL(context.Background(), RemoteOptions{URL: srv.URL + "/config.json", Token: "t"})
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestLoadFromURL_MissingToken(t *testing.T) {
	t.Setenv("THREADKEEPER_DISCORD_TOKEN", "")
	t.Setenv("DISCORD_BOT_TOKEN", "")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"sync":{"channels":["bugs"]}}`))
	}))
	defer srv.Close()

	_, err := LoadFromURL(context.Background(), RemoteOptions{URL: srv.URL + "/config.json"})
	if err == nil || !strings.Contains(err.Error(), "discord.token") {
		t.Fatalf("expected token error, got %v", err)
	}
}
