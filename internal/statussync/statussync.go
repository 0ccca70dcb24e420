// Package statussync keeps the status glyph at the front of thread names in
// step with the thread's locked flag.
//
// The glyph lives only in the thread name on the platform; nothing is stored
// locally. Every path compares the normalized name with the current one and
// skips the edit when they match, so repeated delivery of the same event is
// harmless. Concurrent renames of the same thread by other actors are
// last-write-wins.
package statussync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/time/rate"

	"github.com/h1v3-io/threadkeeper/internal/connector"
	"github.com/h1v3-io/threadkeeper/internal/metrics"
	"github.com/h1v3-io/threadkeeper/internal/thread"
)

const msgNotThread = "This command must be used inside a thread."

// Synchronizer applies status glyphs on lock/unlock commands and thread events.
type Synchronizer struct {
	platform thread.Platform
	allow    thread.AllowList
	logger   *slog.Logger

	Metrics *metrics.Metrics
	// Limiter paces renames issued by Reconcile. Nil means unpaced.
	Limiter *rate.Limiter
}

// New creates a Synchronizer managing threads under allow-listed channels.
func New(p thread.Platform, allow thread.AllowList, logger *slog.Logger) *Synchronizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Synchronizer{
		platform: p,
		allow:    allow,
		logger:   logger,
	}
}

// Lock locks the thread the command was invoked in and marks it resolved.
func (s *Synchronizer) Lock(ctx context.Context, inv connector.Invocation, r connector.Responder) error {
	return s.setLocked(ctx, inv, r, true)
}

// Unlock unlocks the thread the command was invoked in and marks it pending.
func (s *Synchronizer) Unlock(ctx context.Context, inv connector.Invocation, r connector.Responder) error {
	return s.setLocked(ctx, inv, r, false)
}

func (s *Synchronizer) setLocked(ctx context.Context, inv connector.Invocation, r connector.Responder, locked bool) error {
	verb, done := "unlock", "🔓 Thread unlocked and marked as pending."
	if locked {
		verb, done = "lock", "🔒 Thread locked and marked as resolved."
	}
	logger := s.logger.With("command", verb, "channel_id", inv.ChannelID, "user_id", inv.UserID)

	th, err := s.platform.Channel(ctx, inv.ChannelID)
	if err != nil {
		logger.Error("fetch invoking channel failed", "error", err)
		s.Metrics.Command(verb, "failed")
		return r.Send(ctx, connector.Reply{Content: fmt.Sprintf("Failed to %s thread: %s", verb, thread.Describe(err)), Ephemeral: true})
	}
	if !thread.ChannelScope(th).IsThread() {
		s.Metrics.Command(verb, "rejected")
		return r.Send(ctx, connector.Reply{Content: msgNotThread, Ephemeral: true})
	}

	renamed, err := s.applyLock(ctx, th, locked)
	if err != nil {
		if thread.IsPermissionDenied(err) {
			logger.Warn("thread edit denied", "thread_id", th.ID, "error", err)
			s.Metrics.Command(verb, "permission_denied")
			return r.Send(ctx, connector.Reply{Content: fmt.Sprintf("I don't have permission to %s this thread.", verb)})
		}
		logger.Error("thread edit failed", "thread_id", th.ID, "error", err)
		s.Metrics.Command(verb, "failed")
		return r.Send(ctx, connector.Reply{Content: fmt.Sprintf("Failed to %s thread: %s", verb, thread.Describe(err))})
	}

	logger.Info("thread "+verb+"ed", "thread_id", th.ID, "renamed", renamed)
	s.Metrics.Command(verb, "ok")
	return r.Send(ctx, connector.Reply{Content: done})
}

// applyLock sets th's locked flag and matching glyph in a single edit.
func (s *Synchronizer) applyLock(ctx context.Context, th *discordgo.Channel, locked bool) (bool, error) {
	edit := &discordgo.ChannelEdit{Locked: &locked}
	if name := thread.Normalize(th.Name, thread.StatusFor(locked)); name != th.Name {
		edit.Name = name
	}
	if _, err := s.platform.EditThread(ctx, th.ID, edit); err != nil {
		return false, err
	}
	return edit.Name != "", nil
}

// SetStatus locks (Resolved) or unlocks (Pending) the thread with the given
// ID and normalizes its glyph. Like the commands, it ignores the allow-list.
func (s *Synchronizer) SetStatus(ctx context.Context, threadID string, st thread.Status) error {
	th, err := s.platform.Channel(ctx, threadID)
	if err != nil {
		return fmt.Errorf("statussync: fetch thread %s: %w", threadID, err)
	}
	if !thread.ChannelScope(th).IsThread() {
		return thread.ErrNotThread
	}
	if thread.Locked(th) == (st == thread.Resolved) && thread.Normalize(th.Name, st) == th.Name {
		s.Metrics.Rename("webhook", "unchanged")
		return nil
	}
	renamed, err := s.applyLock(ctx, th, st == thread.Resolved)
	if err != nil {
		s.Metrics.Rename("webhook", "failed")
		return fmt.Errorf("statussync: edit thread %s: %w", threadID, err)
	}
	s.Metrics.Rename("webhook", "renamed")
	s.logger.Info("thread status updated",
		"thread_id", th.ID,
		"trigger", "webhook",
		"status", st.String(),
		"renamed", renamed,
	)
	return nil
}

// OnThreadUpdate rewrites the glyph when the locked flag flipped. before
// may be nil when the previous state is unknown; the glyph is then checked
// against after's flag directly.
func (s *Synchronizer) OnThreadUpdate(ctx context.Context, before, after *discordgo.Channel) error {
	if after == nil || after.ThreadMetadata == nil {
		return nil
	}
	if before != nil && before.ThreadMetadata != nil && before.ThreadMetadata.Locked == after.ThreadMetadata.Locked {
		return nil
	}
	// Updates caused by our own lock edits already carry the right glyph.
	st := thread.StatusFor(after.ThreadMetadata.Locked)
	if thread.Normalize(after.Name, st) == after.Name {
		return nil
	}

	ok, err := s.managed(ctx, after)
	if err != nil || !ok {
		return err
	}
	_, err = s.rename(ctx, after, st, "update")
	return err
}

// OnThreadCreate marks a new thread under an allow-listed channel as pending.
func (s *Synchronizer) OnThreadCreate(ctx context.Context, th *discordgo.Channel) error {
	if th == nil || thread.HasStatus(th.Name, thread.Pending) {
		return nil
	}
	ok, err := s.managed(ctx, th)
	if err != nil || !ok {
		return err
	}
	_, err = s.rename(ctx, th, thread.Pending, "create")
	return err
}

// managed reports whether th's parent channel is on the allow-list.
func (s *Synchronizer) managed(ctx context.Context, th *discordgo.Channel) (bool, error) {
	if th.ParentID == "" {
		return false, nil
	}
	parent, err := s.platform.Channel(ctx, th.ParentID)
	if err != nil {
		return false, fmt.Errorf("statussync: fetch parent %s: %w", th.ParentID, err)
	}
	return s.allow.Contains(parent.Name), nil
}

// rename sets th's glyph to st, skipping the edit when the name is already
// normalized. It reports whether an edit was issued.
func (s *Synchronizer) rename(ctx context.Context, th *discordgo.Channel, st thread.Status, trigger string) (bool, error) {
	name := thread.Normalize(th.Name, st)
	if name == th.Name {
		s.Metrics.Rename(trigger, "unchanged")
		return false, nil
	}
	if _, err := s.platform.EditThread(ctx, th.ID, &discordgo.ChannelEdit{Name: name}); err != nil {
		s.Metrics.Rename(trigger, "failed")
		return false, fmt.Errorf("statussync: rename thread %s: %w", th.ID, err)
	}
	s.Metrics.Rename(trigger, "renamed")
	s.logger.Info("thread status updated",
		"thread_id", th.ID,
		"trigger", trigger,
		"status", st.String(),
		"name", name,
	)
	return true, nil
}

// ReconcileResult counts what a reconcile sweep did.
type ReconcileResult struct {
	Scanned int // active threads under allow-listed channels
	Renamed int
	Failed  int
}

// Reconcile brings every active thread under an allow-listed channel of the
// guild in line with its locked flag. It heals events missed while the bot
// was offline. Individual rename failures are counted and logged; the sweep
// stops early only when ctx is done or the thread list cannot be fetched.
func (s *Synchronizer) Reconcile(ctx context.Context, guildID string) (ReconcileResult, error) {
	var res ReconcileResult
	threads, err := s.platform.ActiveThreads(ctx, guildID)
	if err != nil {
		return res, fmt.Errorf("statussync: list active threads: %w", err)
	}

	parents := make(map[string]bool)
	for _, th := range threads {
		if th.Channel == nil || th.ThreadMetadata == nil || th.ParentID == "" {
			continue
		}
		allowed, seen := parents[th.ParentID]
		if !seen {
			allowed, err = s.managed(ctx, th.Channel)
			if err != nil {
				s.logger.Warn("reconcile: parent lookup failed", "thread_id", th.ID, "error", err)
				continue
			}
			parents[th.ParentID] = allowed
		}
		if !allowed {
			continue
		}
		res.Scanned++

		st := thread.StatusFor(th.ThreadMetadata.Locked)
		if thread.Normalize(th.Name, st) == th.Name {
			continue
		}
		if s.Limiter != nil {
			if err := s.Limiter.Wait(ctx); err != nil {
				return res, err
			}
		}
		if _, err := s.rename(ctx, th.Channel, st, "reconcile"); err != nil {
			if errors.Is(err, context.Canceled) {
				return res, err
			}
			res.Failed++
			s.logger.Warn("reconcile: rename failed", "thread_id", th.ID, "permission_denied", thread.IsPermissionDenied(err), "error", err)
			continue
		}
		res.Renamed++
	}
	return res, nil
}
