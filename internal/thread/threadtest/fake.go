// Package threadtest provides in-memory fakes of the platform and of
// command responders for handler tests.
package threadtest

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/h1v3-io/threadkeeper/internal/connector"
	"github.com/h1v3-io/threadkeeper/internal/thread"
)

// Snowflake builds a platform id whose embedded timestamp is t.
func Snowflake(t time.Time, seq int) string {
	ms := t.UnixMilli() - 1420070400000
	return strconv.FormatInt(ms<<22|int64(seq&0xfff), 10)
}

// Edit records a single EditThread call.
type Edit struct {
	ThreadID string
	Name     string
	Locked   *bool
}

// Platform is an in-memory thread.Platform. Failures are injected through
// Errors, keyed by "channel:<id>", "threads:<guild>", "messages:<id>" and
// "edit:<id>". A single history query fails with
// "messages:<id>:oldest", "messages:<id>:newest" (limit 1) or
// "messages:<id>:scan" (any other newest-first page).
type Platform struct {
	mu       sync.Mutex
	channels map[string]*discordgo.Channel
	created  map[string]time.Time
	history  map[string][]*discordgo.Message // oldest first
	Errors   map[string]error
	Edits    []Edit
	Calls    []string
}

// NewPlatform returns an empty fake platform.
func NewPlatform() *Platform {
	return &Platform{
		channels: make(map[string]*discordgo.Channel),
		created:  make(map[string]time.Time),
		history:  make(map[string][]*discordgo.Message),
		Errors:   make(map[string]error),
	}
}

// AddChannel registers a plain guild text channel.
func (p *Platform) AddChannel(guildID, id, name string) *discordgo.Channel {
	ch := &discordgo.Channel{ID: id, GuildID: guildID, Name: name, Type: discordgo.ChannelTypeGuildText}
	p.put(ch)
	return ch
}

// AddThread registers a public thread under parentID.
func (p *Platform) AddThread(guildID, parentID, id, name string, locked bool) *discordgo.Channel {
	th := &discordgo.Channel{
		ID:             id,
		GuildID:        guildID,
		ParentID:       parentID,
		Name:           name,
		Type:           discordgo.ChannelTypeGuildPublicThread,
		ThreadMetadata: &discordgo.ThreadMetadata{Locked: locked},
	}
	p.put(th)
	return th
}

// SetCreated sets the creation time ActiveThreads reports for thread id.
func (p *Platform) SetCreated(id string, t time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.created[id] = t
}

// Put registers an arbitrary channel.
func (p *Platform) Put(ch *discordgo.Channel) { p.put(ch) }

func (p *Platform) put(ch *discordgo.Channel) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.channels[ch.ID] = ch
}

// AddMessage appends a message to channelID's history.
func (p *Platform) AddMessage(channelID, id string, author *discordgo.User, ts time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.history[channelID] = append(p.history[channelID], &discordgo.Message{
		ID:        id,
		ChannelID: channelID,
		Author:    author,
		Timestamp: ts,
	})
}

// Get returns a copy of the stored channel.
func (p *Platform) Get(id string) *discordgo.Channel {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch, ok := p.channels[id]
	if !ok {
		return nil
	}
	return clone(ch)
}

func (p *Platform) fail(key string) error {
	p.Calls = append(p.Calls, key)
	return p.Errors[key]
}

func (p *Platform) Channel(_ context.Context, channelID string) (*discordgo.Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.fail("channel:" + channelID); err != nil {
		return nil, err
	}
	ch, ok := p.channels[channelID]
	if !ok {
		return nil, fmt.Errorf("unknown channel %s", channelID)
	}
	return clone(ch), nil
}

func (p *Platform) ActiveThreads(_ context.Context, guildID string) ([]thread.Thread, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.fail("threads:" + guildID); err != nil {
		return nil, err
	}
	var out []thread.Thread
	for _, ch := range p.channels {
		if ch.GuildID != guildID || !ch.IsThread() {
			continue
		}
		if ch.ThreadMetadata != nil && ch.ThreadMetadata.Archived {
			continue
		}
		out = append(out, thread.Thread{Channel: clone(ch), Created: p.created[ch.ID]})
	}
	// map order is random; the platform returns id order
	slices.SortFunc(out, func(a, b thread.Thread) int { return compareIDs(a.ID, b.ID) })
	return out, nil
}

func (p *Platform) Messages(_ context.Context, channelID string, q thread.HistoryQuery) ([]*discordgo.Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.fail("messages:" + channelID); err != nil {
		return nil, err
	}
	if err := p.Errors["messages:"+channelID+":"+historyKind(q)]; err != nil {
		return nil, err
	}
	all := p.history[channelID]
	n := min(q.Limit, len(all))
	if q.OldestFirst {
		return slices.Clone(all[:n]), nil
	}
	out := slices.Clone(all[len(all)-n:])
	slices.Reverse(out)
	return out, nil
}

func (p *Platform) EditThread(_ context.Context, threadID string, edit *discordgo.ChannelEdit) (*discordgo.Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.fail("edit:" + threadID); err != nil {
		return nil, err
	}
	ch, ok := p.channels[threadID]
	if !ok {
		return nil, fmt.Errorf("unknown channel %s", threadID)
	}
	p.Edits = append(p.Edits, Edit{ThreadID: threadID, Name: edit.Name, Locked: edit.Locked})
	if edit.Name != "" {
		ch.Name = edit.Name
	}
	if edit.Locked != nil {
		if ch.ThreadMetadata == nil {
			ch.ThreadMetadata = &discordgo.ThreadMetadata{}
		}
		ch.ThreadMetadata.Locked = *edit.Locked
	}
	return clone(ch), nil
}

func historyKind(q thread.HistoryQuery) string {
	switch {
	case q.OldestFirst:
		return "oldest"
	case q.Limit == 1:
		return "newest"
	}
	return "scan"
}

func clone(ch *discordgo.Channel) *discordgo.Channel {
	c := *ch
	if ch.ThreadMetadata != nil {
		md := *ch.ThreadMetadata
		c.ThreadMetadata = &md
	}
	return &c
}

func compareIDs(a, b string) int {
	if len(a) != len(b) {
		return len(a) - len(b)
	}
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// Responder records what a handler sent back.
type Responder struct {
	Deferred bool
	Replies  []connector.Reply
	// DeferErr and SendErr are returned by Defer and Send when set.
	DeferErr error
	SendErr  error
}

func (r *Responder) Defer(context.Context) error {
	if r.DeferErr != nil {
		return r.DeferErr
	}
	r.Deferred = true
	return nil
}

func (r *Responder) Send(_ context.Context, reply connector.Reply) error {
	if r.SendErr != nil {
		return r.SendErr
	}
	r.Replies = append(r.Replies, reply)
	return nil
}

// Last returns the most recent reply, or the zero Reply.
func (r *Responder) Last() connector.Reply {
	if len(r.Replies) == 0 {
		return connector.Reply{}
	}
	return r.Replies[len(r.Replies)-1]
}

// RESTError builds a platform error with the given HTTP status and error code.
func RESTError(status, code int, msg string) *discordgo.RESTError {
	return &discordgo.RESTError{
		Response: &http.Response{StatusCode: status, Status: http.StatusText(status)},
		Message:  &discordgo.APIErrorMessage{Code: code, Message: msg},
	}
}
