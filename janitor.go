package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"wisp/internal/directory"
	"wisp/internal/wire"
)

// RunJanitor is the single background sweeper: it ticks every interval,
// evicts TTL-expired messages, expires idle sessions, and reaps empty idle
// channels, coordinating with live handlers purely through the Directory's
// own lock. Grounded on the snapshot-under-lock-then-notify-outside-lock
// shape of a periodic maintenance goroutine; writes are done after the
// Directory has already released its lock for each step.
func RunJanitor(ctx context.Context, dir *directory.Directory, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweepOnce(dir)
		}
	}
}

func sweepOnce(dir *directory.Directory) {
	now := time.Now()

	msgResult := dir.SweepMessages(now)
	for _, ev := range msgResult.Channels {
		notice := wire.NoticeFrame(fmt.Sprintf("SECURITY: %d messages have been automatically deleted", ev.Count))
		dir.BroadcastToIDs(ev.MemberIDs, notice)
	}
	for userID, count := range msgResult.Users {
		notice := wire.NoticeFrame(fmt.Sprintf("SECURITY: %d messages have been automatically deleted", count))
		if err := dir.UnicastByUserID(userID, notice); err != nil {
			slog.Warn("janitor: private eviction notice failed", "user_id", userID, "err", err)
		}
	}

	expired := dir.SweepSessions(now)
	for _, userID := range expired {
		notice := wire.NoticeFrame("SECURITY: You have been disconnected due to inactivity.")
		if err := dir.UnicastByUserID(userID, notice); err != nil {
			slog.Warn("janitor: inactivity notice failed", "user_id", userID, "err", err)
		}
		removed, affected := dir.RemoveUser(userID)
		if removed == nil {
			continue
		}
		for _, remaining := range affected {
			dir.BroadcastToIDs(remaining, wire.SystemLine(removed.Username+" has disconnected"))
		}
		// Removing the user from the Directory doesn't by itself unblock the
		// handler goroutine sitting in a read on this socket; close it so
		// that goroutine observes the disconnect and runs its own teardown.
		_ = removed.Writer.Close()
		dir.MarkSessionExpired()
		slog.Info("janitor: expired idle session", "user_id", userID, "username", removed.Username)
	}

	dropped := dir.SweepChannels(now)
	if len(dropped) > 0 {
		slog.Info("janitor: reaped idle channels", "count", len(dropped), "channels", dropped)
	}
}
