package discord

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"

	"github.com/h1v3-io/threadkeeper/internal/connector"
	"github.com/h1v3-io/threadkeeper/internal/thread"
)

// Config holds Discord connector configuration.
type Config struct {
	Token   string // Bot token
	GuildID string // Optional: register commands in this guild only (empty = global)
}

// Connector implements connector.Connector for Discord via the gateway.
type Connector struct {
	session   *discordgo.Session
	config    Config
	handler   connector.Handler
	logger    *slog.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	connected atomic.Bool
}

// New creates a Discord connector. The gateway is not opened until Start.
func New(cfg Config, handler connector.Handler, logger *slog.Logger) (*Connector, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("discord: token is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}
	// Thread events arrive with the guilds intent; no message content is read.
	session.Identify.Intents = discordgo.IntentsGuilds
	// Handlers run on their own goroutines so slow history fetches never
	// hold up the gateway.
	session.SyncEvents = false
	// State keeps the pre-update copy of threads for ThreadUpdate.BeforeUpdate.
	session.StateEnabled = true

	return &Connector{
		session: session,
		config:  cfg,
		handler: handler,
		logger:  logger,
	}, nil
}

func (c *Connector) Name() string { return "discord" }

// SetHandler replaces the event handler. It must be called before Start.
func (c *Connector) SetHandler(h connector.Handler) { c.handler = h }

// Platform exposes the REST side of the session to the handlers.
func (c *Connector) Platform() thread.Platform { return &restPlatform{session: c.session} }

// Connected reports whether the gateway connection is currently up.
func (c *Connector) Connected() bool { return c.connected.Load() }

// Guilds returns the ids of the guilds the bot is a member of.
func (c *Connector) Guilds() []string {
	c.session.State.RLock()
	defer c.session.State.RUnlock()
	ids := make([]string, 0, len(c.session.State.Guilds))
	for _, g := range c.session.State.Guilds {
		ids = append(ids, g.ID)
	}
	return ids
}

// Start opens the gateway, registers the command table and dispatches events.
// Blocks until context is cancelled.
func (c *Connector) Start(ctx context.Context) error {
	if c.handler == nil {
		return fmt.Errorf("discord: no handler set")
	}
	c.ctx, c.cancel = context.WithCancel(ctx)

	c.session.AddHandler(c.handleReady)
	c.session.AddHandler(c.handleConnect)
	c.session.AddHandler(c.handleDisconnect)
	c.session.AddHandler(c.handleInteraction)
	c.session.AddHandler(c.handleThreadCreate)
	c.session.AddHandler(c.handleThreadUpdate)

	if err := c.session.Open(); err != nil {
		return fmt.Errorf("discord: open gateway: %w", err)
	}
	defer c.session.Close()

	appID := c.session.State.User.ID
	cmds, err := c.session.ApplicationCommandBulkOverwrite(appID, c.config.GuildID, c.handler.Commands(), discordgo.WithContext(c.ctx))
	if err != nil {
		return fmt.Errorf("discord: register commands: %w", err)
	}
	c.logger.Info("discord commands registered", "count", len(cmds), "guild_id", c.config.GuildID)

	c.logger.Info("discord connector started", "user", c.session.State.User.Username)
	<-c.ctx.Done()
	c.logger.Info("discord connector stopped")
	return c.ctx.Err()
}

// Stop gracefully shuts down the connector.
func (c *Connector) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	return nil
}

func (c *Connector) handleReady(_ *discordgo.Session, r *discordgo.Ready) {
	c.logger.Info("discord session ready", "user", r.User.Username, "guilds", len(r.Guilds))
}

func (c *Connector) handleConnect(_ *discordgo.Session, _ *discordgo.Connect) {
	c.connected.Store(true)
	c.logger.Debug("discord gateway connected")
}

func (c *Connector) handleDisconnect(_ *discordgo.Session, _ *discordgo.Disconnect) {
	c.connected.Store(false)
	c.logger.Warn("discord gateway disconnected")
}

func (c *Connector) handleInteraction(s *discordgo.Session, ic *discordgo.InteractionCreate) {
	inv, ok := invocationFrom(ic.Interaction)
	if !ok {
		return
	}
	c.handler.HandleCommand(c.ctx, inv, newResponder(s, ic.Interaction))
}

func (c *Connector) handleThreadCreate(_ *discordgo.Session, ev *discordgo.ThreadCreate) {
	// THREAD_CREATE is also sent when the bot is added to an existing
	// private thread; only genuinely new threads get the pending glyph.
	if !ev.NewlyCreated {
		return
	}
	c.handler.HandleThreadCreate(c.ctx, ev.Channel)
}

func (c *Connector) handleThreadUpdate(_ *discordgo.Session, ev *discordgo.ThreadUpdate) {
	c.handler.HandleThreadUpdate(c.ctx, ev.BeforeUpdate, ev.Channel)
}

// invocationFrom extracts a slash command invocation. Other interaction
// types (components, autocomplete) are ignored.
func invocationFrom(i *discordgo.Interaction) (connector.Invocation, bool) {
	if i == nil || i.Type != discordgo.InteractionApplicationCommand {
		return connector.Invocation{}, false
	}
	inv := connector.Invocation{
		Command:   i.ApplicationCommandData().Name,
		GuildID:   i.GuildID,
		ChannelID: i.ChannelID,
	}
	switch {
	case i.Member != nil && i.Member.User != nil:
		inv.UserID = i.Member.User.ID
	case i.User != nil:
		inv.UserID = i.User.ID
	}
	return inv, true
}
