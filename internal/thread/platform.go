// Package thread holds the data contract shared by the thread listing and
// status synchronization handlers: the status glyph convention, the channel
// allow-list, ranking, scope resolution and the platform interface.
package thread

import (
	"context"
	"errors"
	"net/http"

	"github.com/bwmarrin/discordgo"
)

var (
	// ErrNotTextChannel is returned when an invocation does not resolve to a
	// text channel, either directly or through a thread's parent.
	ErrNotTextChannel = errors.New("thread: not a text channel or a thread in one")
	// ErrNotThread is returned when an operation requires a thread.
	ErrNotThread = errors.New("thread: not a thread")
)

// HistoryQuery selects a window of a channel's message history.
type HistoryQuery struct {
	Limit       int
	OldestFirst bool // oldest messages of the channel, ascending
}

// Platform is the subset of the Discord REST API the handlers use.
// Results are never cached; every call reads the platform.
type Platform interface {
	Channel(ctx context.Context, channelID string) (*discordgo.Channel, error)
	// ActiveThreads returns every active (non-archived) thread visible in the guild.
	ActiveThreads(ctx context.Context, guildID string) ([]Thread, error)
	// Messages returns channel history. Newest-first unless q.OldestFirst.
	Messages(ctx context.Context, channelID string, q HistoryQuery) ([]*discordgo.Message, error)
	EditThread(ctx context.Context, threadID string, edit *discordgo.ChannelEdit) (*discordgo.Channel, error)
}

// IsPermissionDenied reports whether err is the platform refusing an action
// for lack of access or permissions.
func IsPermissionDenied(err error) bool {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) {
		return false
	}
	if restErr.Message != nil {
		switch restErr.Message.Code {
		case discordgo.ErrCodeMissingAccess, discordgo.ErrCodeMissingPermissions:
			return true
		}
	}
	return restErr.Response != nil && restErr.Response.StatusCode == http.StatusForbidden
}

// Describe returns the most useful human-readable detail of err, preferring
// the platform's own error message.
func Describe(err error) string {
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Message != nil && restErr.Message.Message != "" {
		return restErr.Message.Message
	}
	return err.Error()
}
