package thread

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// Scope is the place a command was invoked from. Plain channels and threads
// both satisfy it, so resolution never has to switch on concrete types.
type Scope interface {
	ID() string
	// ParentID is empty for top-level channels.
	ParentID() string
	IsThread() bool
	IsText() bool
}

type channelScope struct {
	ch *discordgo.Channel
}

// ChannelScope adapts a platform channel (or thread) to Scope.
func ChannelScope(ch *discordgo.Channel) Scope {
	return channelScope{ch: ch}
}

func (s channelScope) ID() string       { return s.ch.ID }
func (s channelScope) ParentID() string { return s.ch.ParentID }
func (s channelScope) IsThread() bool   { return s.ch.IsThread() }

func (s channelScope) IsText() bool {
	switch s.ch.Type {
	case discordgo.ChannelTypeGuildText, discordgo.ChannelTypeGuildNews:
		return true
	}
	return false
}

// Resolve returns the text channel that owns scope: the channel itself, or
// the parent when scope is a thread. Any other shape yields ErrNotTextChannel.
func Resolve(ctx context.Context, p Platform, scope Scope) (*discordgo.Channel, error) {
	if scope == nil {
		return nil, ErrNotTextChannel
	}
	id := scope.ID()
	if scope.IsThread() {
		id = scope.ParentID()
	} else if !scope.IsText() {
		return nil, ErrNotTextChannel
	}
	if id == "" {
		return nil, ErrNotTextChannel
	}

	ch, err := p.Channel(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("thread: resolve channel %s: %w", id, err)
	}
	if !ChannelScope(ch).IsText() {
		return nil, ErrNotTextChannel
	}
	return ch, nil
}
