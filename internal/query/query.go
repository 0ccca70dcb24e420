// Package query answers the /list command: the most recently created active
// threads of a channel, enriched from their message history.
package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/h1v3-io/threadkeeper/internal/connector"
	"github.com/h1v3-io/threadkeeper/internal/metrics"
	"github.com/h1v3-io/threadkeeper/internal/thread"
)

// Defaults for Service limits.
const (
	DefaultLimit           = 5
	DefaultParticipantScan = 50
	DefaultParticipantShow = 5
)

const (
	msgNotTextChannel = "This command must be used in a text channel or a thread inside one."
	msgNoThreads      = "There are no active threads in this channel."
)

// Summary is one listed thread with its best-effort history details.
// Zero values mean the detail could not be fetched.
type Summary struct {
	Thread       *discordgo.Channel
	Creator      *discordgo.User
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Participants []*discordgo.User // distinct human authors, newest first
	// ParticipantsKnown is false when the history scan failed.
	ParticipantsKnown bool
}

// Service lists active threads.
type Service struct {
	platform thread.Platform
	logger   *slog.Logger

	Metrics         *metrics.Metrics
	Limit           int // threads listed
	ParticipantScan int // newest messages scanned for participants
	ParticipantShow int // participants mentioned before "and N more..."
}

// New creates a Service with default limits.
func New(p thread.Platform, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		platform:        p,
		logger:          logger,
		Limit:           DefaultLimit,
		ParticipantScan: DefaultParticipantScan,
		ParticipantShow: DefaultParticipantShow,
	}
}

// List handles one /list invocation. The returned error is only non-nil when
// a reply could not be delivered.
func (s *Service) List(ctx context.Context, inv connector.Invocation, r connector.Responder) error {
	logger := s.logger.With("channel_id", inv.ChannelID, "guild_id", inv.GuildID)

	channel, err := s.resolve(ctx, inv)
	if err != nil {
		if !errors.Is(err, thread.ErrNotTextChannel) {
			logger.Warn("list: channel resolution failed", "error", err)
		}
		s.Metrics.Command("list", "rejected")
		return r.Send(ctx, connector.Reply{Content: msgNotTextChannel, Ephemeral: true})
	}

	// Enrichment costs up to three history calls per thread; acknowledge first.
	if err := r.Defer(ctx); err != nil {
		s.Metrics.Command("list", "failed")
		return fmt.Errorf("query: defer reply: %w", err)
	}

	all, err := s.platform.ActiveThreads(ctx, inv.GuildID)
	if err != nil {
		logger.Error("list: fetch active threads failed", "error", err)
		s.Metrics.Command("list", "failed")
		return r.Send(ctx, connector.Reply{Content: "Failed to fetch threads: " + thread.Describe(err)})
	}
	threads := thread.InChannel(all, channel.ID)
	if len(threads) == 0 {
		s.Metrics.Command("list", "empty")
		return r.Send(ctx, connector.Reply{Content: msgNoThreads})
	}

	ranked := thread.Rank(threads, s.Limit)
	summaries := make([]Summary, 0, len(ranked))
	for _, th := range ranked {
		summaries = append(summaries, s.Summarize(ctx, th.Channel))
	}

	s.Metrics.Command("list", "ok")
	logger.Info("listed threads", "active", len(threads), "shown", len(summaries))
	return r.Send(ctx, connector.Reply{
		Embeds: []*discordgo.MessageEmbed{Render(inv.GuildID, summaries, len(threads), s.ParticipantShow)},
	})
}

func (s *Service) resolve(ctx context.Context, inv connector.Invocation) (*discordgo.Channel, error) {
	if inv.GuildID == "" {
		return nil, thread.ErrNotTextChannel
	}
	here, err := s.platform.Channel(ctx, inv.ChannelID)
	if err != nil {
		return nil, fmt.Errorf("query: fetch channel %s: %w", inv.ChannelID, err)
	}
	return thread.Resolve(ctx, s.platform, thread.ChannelScope(here))
}

// Summarize fetches creator, timestamps and participants for th. Each
// detail fails independently and is left at its zero value on error.
func (s *Service) Summarize(ctx context.Context, th *discordgo.Channel) Summary {
	sum := Summary{Thread: th}
	logger := s.logger.With("thread_id", th.ID)

	if first, err := s.edgeMessage(ctx, th.ID, true); err != nil {
		logger.Warn("list: oldest message lookup failed", "error", err)
		s.Metrics.EnrichmentFailed("creator")
	} else if first != nil {
		sum.Creator = first.Author
		sum.CreatedAt = first.Timestamp
	}

	if last, err := s.edgeMessage(ctx, th.ID, false); err != nil {
		logger.Warn("list: newest message lookup failed", "error", err)
		s.Metrics.EnrichmentFailed("updated")
	} else if last != nil {
		sum.UpdatedAt = last.Timestamp
	}

	msgs, err := s.platform.Messages(ctx, th.ID, thread.HistoryQuery{Limit: s.ParticipantScan})
	if err != nil {
		logger.Warn("list: participant scan failed", "error", err)
		s.Metrics.EnrichmentFailed("participants")
		return sum
	}
	sum.Participants = Participants(msgs)
	sum.ParticipantsKnown = true
	return sum
}

func (s *Service) edgeMessage(ctx context.Context, channelID string, oldest bool) (*discordgo.Message, error) {
	msgs, err := s.platform.Messages(ctx, channelID, thread.HistoryQuery{Limit: 1, OldestFirst: oldest})
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, nil
	}
	return msgs[0], nil
}

// Participants returns the distinct non-bot authors of msgs in the order
// they first appear.
func Participants(msgs []*discordgo.Message) []*discordgo.User {
	seen := make(map[string]bool)
	var users []*discordgo.User
	for _, m := range msgs {
		if m == nil || m.Author == nil || m.Author.Bot || seen[m.Author.ID] {
			continue
		}
		seen[m.Author.ID] = true
		users = append(users, m.Author)
	}
	return users
}
