package config

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"
)

// RemoteOptions holds parameters for fetching config from a config service.
type RemoteOptions struct {
	URL    string // e.g. https://config.example.com/threadkeeper.yaml
	APIKey string // sent as a bearer token when set
	// Token, when set, overrides the fetched discord.token. Keeps the
	// credential out of the shared document.
	Token string
}

// LoadFromURL fetches the configuration document over HTTP and parses it
// like Load. The format follows the URL's extension, or the response
// Content-Type when the extension says nothing.
func LoadFromURL(ctx context.Context, opts RemoteOptions) (*Config, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, opts.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("remote: create request: %w", err)
	}
	if opts.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+opts.APIKey)
	}
	req.Header.Set("Accept", "application/json, application/yaml")

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("remote: fetch config: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("remote: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("remote: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	name := req.URL.Path
	if path.Ext(name) == "" && strings.Contains(resp.Header.Get("Content-Type"), "yaml") {
		name = "remote.yaml"
	}
	cfg, err := parse(name, body)
	if err != nil {
		return nil, fmt.Errorf("remote: %w", err)
	}

	if opts.Token != "" {
		cfg.Discord.Token = opts.Token
	} else if cfg.Discord.Token == "" {
		cfg.Discord.Token = discordTokenFromEnv()
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("remote: %w", err)
	}
	return cfg, nil
}
