package thread

import (
	"cmp"
	"slices"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
)

// Thread is an active thread as listed by the platform. Created is the
// thread's own creation time, zero when the platform did not report it
// (threads created before 2022-01-09).
type Thread struct {
	*discordgo.Channel
	Created time.Time
}

// CreatedAt returns th.Created, falling back to the time encoded in the
// snowflake id. A thread started from an existing message shares that
// message's id, so the id alone can predate the thread by years. The zero
// time is returned when neither is usable.
func CreatedAt(th Thread) time.Time {
	if !th.Created.IsZero() {
		return th.Created
	}
	t, err := discordgo.SnowflakeTimestamp(th.ID)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Rank orders threads newest-created first and keeps at most limit of them.
// Ties fall back to the id, so the order is deterministic.
// The input slice is not modified.
func Rank(threads []Thread, limit int) []Thread {
	ranked := slices.Clone(threads)
	slices.SortStableFunc(ranked, func(a, b Thread) int {
		if c := CreatedAt(b).Compare(CreatedAt(a)); c != 0 {
			return c
		}
		return compareSnowflakes(b.ID, a.ID)
	})
	if limit >= 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}

// compareSnowflakes orders decimal ids numerically without parsing them.
func compareSnowflakes(a, b string) int {
	if c := cmp.Compare(len(a), len(b)); c != 0 {
		return c
	}
	return strings.Compare(a, b)
}

// InChannel returns the threads whose parent is channelID.
func InChannel(threads []Thread, channelID string) []Thread {
	var out []Thread
	for _, th := range threads {
		if th.Channel != nil && th.ParentID == channelID {
			out = append(out, th)
		}
	}
	return out
}

// Locked reports the thread's lock flag; channels without thread metadata
// are treated as unlocked.
func Locked(ch *discordgo.Channel) bool {
	return ch.ThreadMetadata != nil && ch.ThreadMetadata.Locked
}
