package discord

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/h1v3-io/threadkeeper/internal/connector"
	"github.com/h1v3-io/threadkeeper/internal/thread"
)

// restPlatform implements thread.Platform over the session's REST client.
// It deliberately bypasses the state cache.
type restPlatform struct {
	session *discordgo.Session
}

func (p *restPlatform) Channel(ctx context.Context, channelID string) (*discordgo.Channel, error) {
	ch, err := p.session.Channel(channelID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("discord: get channel %s: %w", channelID, err)
	}
	return ch, nil
}

func (p *restPlatform) ActiveThreads(ctx context.Context, guildID string) ([]thread.Thread, error) {
	// Requested directly: discordgo drops thread_metadata.create_timestamp.
	endpoint := discordgo.EndpointGuildActiveThreads(guildID)
	body, err := p.session.RequestWithBucketID("GET", endpoint, nil, endpoint, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("discord: active threads of %s: %w", guildID, err)
	}
	threads, err := decodeActiveThreads(body)
	if err != nil {
		return nil, fmt.Errorf("discord: active threads of %s: %w", guildID, err)
	}
	return threads, nil
}

// threadCreated holds the field of a thread object discordgo does not model.
type threadCreated struct {
	ThreadMetadata *struct {
		CreateTimestamp *time.Time `json:"create_timestamp"`
	} `json:"thread_metadata"`
}

// decodeActiveThreads decodes a list active guild threads response.
func decodeActiveThreads(body []byte) ([]thread.Thread, error) {
	var list struct {
		Threads []json.RawMessage `json:"threads"`
	}
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, err
	}
	threads := make([]thread.Thread, 0, len(list.Threads))
	for _, raw := range list.Threads {
		var ch discordgo.Channel
		if err := json.Unmarshal(raw, &ch); err != nil {
			return nil, err
		}
		th := thread.Thread{Channel: &ch}
		var extra threadCreated
		if err := json.Unmarshal(raw, &extra); err == nil &&
			extra.ThreadMetadata != nil && extra.ThreadMetadata.CreateTimestamp != nil {
			th.Created = *extra.ThreadMetadata.CreateTimestamp
		}
		threads = append(threads, th)
	}
	return threads, nil
}

func (p *restPlatform) Messages(ctx context.Context, channelID string, q thread.HistoryQuery) ([]*discordgo.Message, error) {
	// Messages after snowflake 0 are the oldest of the channel; the API
	// still returns each page newest first.
	after := ""
	if q.OldestFirst {
		after = "0"
	}
	msgs, err := p.session.ChannelMessages(channelID, q.Limit, "", after, "", discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("discord: messages of %s: %w", channelID, err)
	}
	if q.OldestFirst {
		slices.Reverse(msgs)
	}
	return msgs, nil
}

func (p *restPlatform) EditThread(ctx context.Context, threadID string, edit *discordgo.ChannelEdit) (*discordgo.Channel, error) {
	ch, err := p.session.ChannelEdit(threadID, edit, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("discord: edit thread %s: %w", threadID, err)
	}
	return ch, nil
}

// interactionResponder answers one interaction: an initial response, or a
// follow-up message once the interaction has been deferred.
type interactionResponder struct {
	session     *discordgo.Session
	interaction *discordgo.Interaction
	deferred    bool
}

func newResponder(s *discordgo.Session, i *discordgo.Interaction) *interactionResponder {
	return &interactionResponder{session: s, interaction: i}
}

func (r *interactionResponder) Defer(ctx context.Context) error {
	err := r.session.InteractionRespond(r.interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("discord: defer interaction: %w", err)
	}
	r.deferred = true
	return nil
}

func (r *interactionResponder) Send(ctx context.Context, reply connector.Reply) error {
	flags := replyFlags(reply)
	if r.deferred {
		_, err := r.session.FollowupMessageCreate(r.interaction, true, &discordgo.WebhookParams{
			Content: reply.Content,
			Embeds:  reply.Embeds,
			Flags:   flags,
		}, discordgo.WithContext(ctx))
		if err != nil {
			return fmt.Errorf("discord: follow-up message: %w", err)
		}
		return nil
	}

	err := r.session.InteractionRespond(r.interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: reply.Content,
			Embeds:  reply.Embeds,
			Flags:   flags,
		},
	}, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("discord: respond to interaction: %w", err)
	}
	return nil
}

func replyFlags(reply connector.Reply) discordgo.MessageFlags {
	if reply.Ephemeral {
		return discordgo.MessageFlagsEphemeral
	}
	return 0
}
