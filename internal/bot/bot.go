// Package bot is the application context: it owns the command table and
// routes connector callbacks to the thread listing and status handlers.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"

	"github.com/h1v3-io/threadkeeper/internal/connector"
	"github.com/h1v3-io/threadkeeper/internal/metrics"
	"github.com/h1v3-io/threadkeeper/internal/query"
	"github.com/h1v3-io/threadkeeper/internal/statussync"
	"github.com/h1v3-io/threadkeeper/internal/thread"
)

type commandFunc func(ctx context.Context, inv connector.Invocation, r connector.Responder) error

type command struct {
	description string
	run         commandFunc
}

// Bot implements connector.Handler.
type Bot struct {
	query    *query.Service
	sync     *statussync.Synchronizer
	logger   *slog.Logger
	metrics  *metrics.Metrics
	commands map[string]command
}

// New wires the command table to q and sync. m may be nil.
func New(q *query.Service, sync *statussync.Synchronizer, logger *slog.Logger, m *metrics.Metrics) *Bot {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bot{
		query:   q,
		sync:    sync,
		logger:  logger,
		metrics: m,
	}
	b.commands = map[string]command{
		"list":   {description: "List the most recently created active threads in this channel", run: q.List},
		"lock":   {description: "Lock this thread and mark it as resolved", run: sync.Lock},
		"unlock": {description: "Unlock this thread and mark it as pending", run: sync.Unlock},
	}
	return b
}

// Commands returns the slash command definitions, sorted by name.
func (b *Bot) Commands() []*discordgo.ApplicationCommand {
	names := make([]string, 0, len(b.commands))
	for name := range b.commands {
		names = append(names, name)
	}
	sort.Strings(names)

	cmds := make([]*discordgo.ApplicationCommand, 0, len(names))
	for _, name := range names {
		cmds = append(cmds, &discordgo.ApplicationCommand{
			Name:        name,
			Description: b.commands[name].description,
		})
	}
	return cmds
}

// HandleCommand dispatches a slash command. Failures to reply are logged;
// nothing propagates to the connector.
func (b *Bot) HandleCommand(ctx context.Context, inv connector.Invocation, r connector.Responder) {
	logger := b.logger.With(
		"request_id", uuid.NewString(),
		"command", inv.Command,
		"guild_id", inv.GuildID,
		"channel_id", inv.ChannelID,
		"user_id", inv.UserID,
	)
	defer recoverCommand(ctx, logger, r)

	cmd, ok := b.commands[inv.Command]
	if !ok {
		logger.Warn("unknown command")
		b.metrics.Command(inv.Command, "unknown")
		if err := r.Send(ctx, connector.Reply{Content: "Unknown command.", Ephemeral: true}); err != nil {
			logger.Error("reply failed", "error", err)
		}
		return
	}

	logger.Debug("command received")
	if err := cmd.run(ctx, inv, r); err != nil {
		logger.Error("command reply failed", "error", err)
	}
}

// HandleThreadCreate applies the pending glyph to new threads.
func (b *Bot) HandleThreadCreate(ctx context.Context, th *discordgo.Channel) {
	if th == nil {
		return
	}
	logger := b.eventLogger("thread_create", th)
	defer recoverHandler(logger)
	b.metrics.Event("thread_create")

	if err := b.sync.OnThreadCreate(ctx, th); err != nil {
		logEventError(logger, err)
	}
}

// HandleThreadUpdate re-applies the glyph after lock state changes.
func (b *Bot) HandleThreadUpdate(ctx context.Context, before, after *discordgo.Channel) {
	if after == nil {
		return
	}
	logger := b.eventLogger("thread_update", after)
	defer recoverHandler(logger)
	b.metrics.Event("thread_update")

	if err := b.sync.OnThreadUpdate(ctx, before, after); err != nil {
		logEventError(logger, err)
	}
}

// GuildReconcile is the outcome of one guild's reconcile sweep.
type GuildReconcile struct {
	GuildID string
	statussync.ReconcileResult
	Err error
}

// Reconcile runs a glyph reconcile sweep over each guild in turn. Guilds
// not reached before ctx is done are left out of the result.
func (b *Bot) Reconcile(ctx context.Context, guildIDs []string) []GuildReconcile {
	var out []GuildReconcile
	for _, guildID := range guildIDs {
		if ctx.Err() != nil {
			break
		}
		logger := b.logger.With("request_id", uuid.NewString(), "guild_id", guildID)
		res, err := b.sync.Reconcile(ctx, guildID)
		out = append(out, GuildReconcile{GuildID: guildID, ReconcileResult: res, Err: err})
		if err != nil {
			logger.Error("reconcile failed", "error", err)
			continue
		}
		logger.Info("reconcile finished", "scanned", res.Scanned, "renamed", res.Renamed, "failed", res.Failed)
	}
	return out
}

func (b *Bot) eventLogger(event string, th *discordgo.Channel) *slog.Logger {
	return b.logger.With(
		"request_id", uuid.NewString(),
		"event", event,
		"guild_id", th.GuildID,
		"thread_id", th.ID,
		"parent_id", th.ParentID,
	)
}

// Events have no invoking user, so failures only reach the log.
func logEventError(logger *slog.Logger, err error) {
	if thread.IsPermissionDenied(err) {
		logger.Warn("thread status sync denied", "error", err)
		return
	}
	logger.Error("thread status sync failed", "error", err)
}

const msgInternalError = "Something went wrong while handling this command."

// recoverCommand recovers like recoverHandler and then tries one failure
// reply, so a deferred interaction is not left pending.
func recoverCommand(ctx context.Context, logger *slog.Logger, r connector.Responder) {
	p := recover()
	if p == nil {
		return
	}
	logger.Error("handler panicked", "panic", fmt.Sprintf("%v", p))

	defer func() {
		if p := recover(); p != nil {
			logger.Error("failure reply panicked", "panic", fmt.Sprintf("%v", p))
		}
	}()
	if err := r.Send(ctx, connector.Reply{Content: msgInternalError, Ephemeral: true}); err != nil {
		logger.Error("failure reply failed", "error", err)
	}
}

func recoverHandler(logger *slog.Logger) {
	if r := recover(); r != nil {
		logger.Error("handler panicked", "panic", fmt.Sprintf("%v", r))
	}
}
