package connector

import (
	"context"

	"github.com/bwmarrin/discordgo"
)

// Connector is the interface for the external messaging platform.
type Connector interface {
	// Name returns the connector type (e.g., "discord").
	Name() string
	// Start opens the platform connection and dispatches events. Blocks until context is cancelled.
	Start(ctx context.Context) error
	// Stop gracefully shuts down the connector.
	Stop() error
}

// Invocation is a slash command received from the platform.
type Invocation struct {
	Command   string // command name without the leading slash
	GuildID   string // empty for direct messages
	ChannelID string // channel or thread the command was typed in
	UserID    string
}

// Reply is a message sent back to the invoker of a command.
type Reply struct {
	Content   string
	Embeds    []*discordgo.MessageEmbed
	Ephemeral bool // visible to the invoker only
}

// Responder answers a single invocation.
type Responder interface {
	// Defer acknowledges the invocation without content. The next Send is
	// delivered as a follow-up message.
	Defer(ctx context.Context) error
	Send(ctx context.Context, r Reply) error
}

// Handler receives commands and thread events from a connector.
// Each call runs on its own goroutine.
type Handler interface {
	// Commands returns the command table to register with the platform.
	Commands() []*discordgo.ApplicationCommand
	HandleCommand(ctx context.Context, inv Invocation, r Responder)
	HandleThreadCreate(ctx context.Context, th *discordgo.Channel)
	// HandleThreadUpdate receives the thread as it was before the update,
	// when known, and after it.
	HandleThreadUpdate(ctx context.Context, before, after *discordgo.Channel)
}
