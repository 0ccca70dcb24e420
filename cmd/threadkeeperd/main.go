package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/time/rate"

	apiPkg "github.com/h1v3-io/threadkeeper/internal/api"
	"github.com/h1v3-io/threadkeeper/internal/bot"
	"github.com/h1v3-io/threadkeeper/internal/config"
	"github.com/h1v3-io/threadkeeper/internal/connector/discord"
	"github.com/h1v3-io/threadkeeper/internal/logbuf"
	"github.com/h1v3-io/threadkeeper/internal/metrics"
	"github.com/h1v3-io/threadkeeper/internal/query"
	"github.com/h1v3-io/threadkeeper/internal/scheduler"
	"github.com/h1v3-io/threadkeeper/internal/statussync"
	"github.com/h1v3-io/threadkeeper/internal/thread"
	"github.com/h1v3-io/threadkeeper/internal/webhook"
)

func main() {
	configPath := flag.String("config", os.Getenv("THREADKEEPER_CONFIG"), "Path to config JSON or YAML file")
	configURL := flag.String("config-url", os.Getenv("THREADKEEPER_CONFIG_URL"), "URL to fetch the config document from")
	configKey := flag.String("config-key", os.Getenv("THREADKEEPER_CONFIG_KEY"), "Bearer key for -config-url")
	token := flag.String("token", os.Getenv("THREADKEEPER_DISCORD_TOKEN"), "Discord bot token; overrides the one in a -config-url document")
	verbose := flag.Bool("v", false, "Verbose logging")
	flag.Parse()

	// Set up logging
	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}
	logBuf := logbuf.New(2000)
	jsonHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	logger := slog.New(logbuf.NewHandler(jsonHandler, logBuf))
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load config (3 modes: file, url, env)
	if err := config.LoadDotEnv(); err != nil {
		logger.Warn("ignoring .env", "error", err)
	}
	if *configURL != "" && *configPath == "" {
		logger.Info("loading config from url", "url", *configURL)
	}
	cfg, err := loadConfig(ctx, configSource{
		Path:  *configPath,
		URL:   *configURL,
		Key:   *configKey,
		Token: *token,
	})
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	allow := thread.NewAllowList(cfg.Sync.Channels...)
	logger.Info("threadkeeperd starting",
		"channels", cfg.Sync.Channels,
		"managed_channels", allow.Len(),
		"guild_id", cfg.Discord.GuildID,
		"reconcile_schedule", cfg.Sync.ReconcileSchedule,
	)

	m := metrics.New()

	// 1. Discord connector; its REST side backs the handlers.
	conn, err := discord.New(discord.Config{
		Token:   cfg.Discord.Token,
		GuildID: cfg.Discord.GuildID,
	}, nil, logger.With("component", "discord"))
	if err != nil {
		logger.Error("failed to init discord connector", "error", err)
		os.Exit(1)
	}
	platform := conn.Platform()

	// 2. Handlers
	q := query.New(platform, logger.With("component", "query"))
	q.Metrics = m
	q.Limit = cfg.List.Limit
	q.ParticipantScan = cfg.List.ParticipantScan
	q.ParticipantShow = cfg.List.ParticipantShow

	syncer := statussync.New(platform, allow, logger.With("component", "statussync"))
	syncer.Metrics = m
	syncer.Limiter = rate.NewLimiter(rate.Limit(cfg.Sync.RenameRate), cfg.Sync.RenameBurst)

	b := bot.New(q, syncer, logger.With("component", "bot"), m)
	conn.SetHandler(b)

	// 3. Scheduler
	sched := scheduler.New(logger.With("component", "scheduler"))
	if cfg.Sync.ReconcileSchedule != "" {
		err := sched.AddJob("reconcile", cfg.Sync.ReconcileSchedule, func(ctx context.Context) {
			if !conn.Connected() {
				logger.Warn("skipping reconcile: gateway not connected")
				return
			}
			b.Reconcile(ctx, conn.Guilds())
		})
		if err != nil {
			logger.Error("failed to schedule reconcile", "error", err)
			os.Exit(1)
		}
	}
	go safeGo(logger, "scheduler", func() { sched.Start(ctx) })

	// 4. Connector. A failed start (bad token, command registration
	// rejected) stops the process.
	go safeGo(logger, "discord", func() {
		if err := conn.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("discord connector failed", "error", err)
			cancel()
		}
	})

	// 5. API server
	if cfg.API.Port != 0 {
		svc := &botServiceAdapter{bot: b, conn: conn, sched: sched}
		apiSrv := apiPkg.NewServer(svc, apiPkg.Config{
			Host: cfg.API.Host,
			Port: cfg.API.Port,
			Key:  cfg.API.Key,
		}, logger.With("component", "api"), logBuf, m.Handler())

		if len(cfg.Webhooks) > 0 {
			endpoints := make(map[string]webhook.EndpointConfig, len(cfg.Webhooks))
			for name, wh := range cfg.Webhooks {
				endpoints[name] = webhook.EndpointConfig{Secret: wh.Secret, BearerToken: wh.BearerToken}
			}
			apiSrv.Mount("POST /api/webhook/{name}", webhook.New(webhook.Config{Endpoints: endpoints}, syncer, logger.With("component", "webhook")))
			logger.Info("webhook endpoints enabled", "count", len(endpoints))
		}

		go safeGo(logger, "api-server", func() {
			if err := apiSrv.Start(ctx); err != nil {
				logger.Error("api server failed", "error", err)
			}
		})
	}

	// 6. Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", "signal", sig)
	case <-ctx.Done():
	}
	cancel()
	conn.Stop()
	logger.Info("threadkeeperd stopped")
}

// configSource selects one of the three config modes: file, url, env.
type configSource struct {
	Path  string
	URL   string
	Key   string
	Token string
}

func loadConfig(ctx context.Context, src configSource) (*config.Config, error) {
	switch {
	case src.Path != "":
		return config.Load(src.Path)
	case src.URL != "":
		return config.LoadFromURL(ctx, config.RemoteOptions{URL: src.URL, APIKey: src.Key, Token: src.Token})
	}
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// safeGo runs fn with panic recovery.
func safeGo(logger *slog.Logger, name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("goroutine panicked", "name", name, "panic", fmt.Sprintf("%v", r))
		}
	}()
	fn()
}

// botServiceAdapter implements api.BotService.
type botServiceAdapter struct {
	bot   *bot.Bot
	conn  *discord.Connector
	sched *scheduler.Scheduler
}

func (a *botServiceAdapter) Connector() string { return a.conn.Name() }

func (a *botServiceAdapter) Connected() bool { return a.conn.Connected() }

func (a *botServiceAdapter) Guilds() []string { return a.conn.Guilds() }

func (a *botServiceAdapter) Jobs() []scheduler.JobInfo { return a.sched.Jobs() }

func (a *botServiceAdapter) Reconcile(ctx context.Context) []apiPkg.ReconcileReport {
	results := a.bot.Reconcile(ctx, a.conn.Guilds())
	reports := make([]apiPkg.ReconcileReport, len(results))
	for i, r := range results {
		reports[i] = apiPkg.ReconcileReport{
			GuildID: r.GuildID,
			Scanned: r.Scanned,
			Renamed: r.Renamed,
			Failed:  r.Failed,
		}
		if r.Err != nil {
			reports[i].Error = r.Err.Error()
		}
	}
	return reports
}
