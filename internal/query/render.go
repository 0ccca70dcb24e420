package query

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
)

const (
	embedColor  = 0x5865F2
	unknownUser = "Unknown"
	unknownTime = "?"
)

// maxEmbedChars is the platform's limit on the combined text of one embed.
const maxEmbedChars = 6000

// Render builds the /list reply embed. active is the number of matching
// threads before truncation. Trailing summaries are dropped when the embed
// would exceed the platform's size limit; the footer counts what is shown.
func Render(guildID string, sums []Summary, active, show int) *discordgo.MessageEmbed {
	n := len(sums)
	for {
		embed := renderEmbed(guildID, sums[:n], active, show)
		if n <= 1 || EmbedChars(embed) <= maxEmbedChars {
			return embed
		}
		n--
	}
}

func renderEmbed(guildID string, sums []Summary, active, show int) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title: "🧵 Active threads",
		Color: embedColor,
	}
	for i, sum := range sums {
		value := renderSummary(guildID, sum, show)
		if i < len(sums)-1 {
			value += "\n\u200b"
		}
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  sum.Thread.Name,
			Value: value,
		})
	}
	embed.Footer = &discordgo.MessageEmbedFooter{
		Text: fmt.Sprintf("Showing %d of %d active threads", len(sums), active),
	}
	return embed
}

// EmbedChars counts the characters the platform checks against its embed
// size limit.
func EmbedChars(e *discordgo.MessageEmbed) int {
	n := utf8.RuneCountInString(e.Title) + utf8.RuneCountInString(e.Description)
	for _, f := range e.Fields {
		n += utf8.RuneCountInString(f.Name) + utf8.RuneCountInString(f.Value)
	}
	if e.Footer != nil {
		n += utf8.RuneCountInString(e.Footer.Text)
	}
	if e.Author != nil {
		n += utf8.RuneCountInString(e.Author.Name)
	}
	return n
}

func renderSummary(guildID string, sum Summary, show int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[Open thread](%s)\n", ThreadURL(guildID, sum.Thread.ID))

	creator := unknownUser
	if sum.Creator != nil {
		creator = sum.Creator.Mention()
	}
	fmt.Fprintf(&b, "**Created by:** %s\n", creator)
	fmt.Fprintf(&b, "**Created:** %s\n", timestamp(sum.CreatedAt))
	fmt.Fprintf(&b, "**Last updated:** %s\n", timestamp(sum.UpdatedAt))

	if !sum.ParticipantsKnown {
		fmt.Fprintf(&b, "**Participants:** %s", unknownUser)
	} else {
		fmt.Fprintf(&b, "**Participants (%d):** %s", len(sum.Participants), Mentions(sum.Participants, show))
	}
	return b.String()
}

// ThreadURL is the web link to a thread.
func ThreadURL(guildID, threadID string) string {
	return fmt.Sprintf("https://discord.com/channels/%s/%s", guildID, threadID)
}

// Mentions renders up to show users as mentions, followed by an overflow
// count when there are more.
func Mentions(users []*discordgo.User, show int) string {
	if len(users) == 0 {
		return "None"
	}
	n := min(show, len(users))
	parts := make([]string, 0, n)
	for _, u := range users[:n] {
		parts = append(parts, u.Mention())
	}
	out := strings.Join(parts, ", ")
	if extra := len(users) - n; extra > 0 {
		out += fmt.Sprintf(" and %d more...", extra)
	}
	return out
}

// timestamp renders t as platform timestamp markup, shown in the reader's
// own timezone.
func timestamp(t time.Time) string {
	if t.IsZero() {
		return unknownTime
	}
	return fmt.Sprintf("<t:%d:f>", t.Unix())
}
