package main

import (
	"net"
	"testing"
	"time"

	"wisp/internal/directory"
)

type discardConn struct{ net.Conn }

func (discardConn) Write(b []byte) (int, error) { return len(b), nil }
func (discardConn) Close() error                { return nil }

func newSweepTestUser(dir *directory.Directory, id, username string) *directory.User {
	u := &directory.User{
		ID:       id,
		Username: username,
		Channels: make(map[string]struct{}),
		Writer:   directory.NewSocketWriter(discardConn{}),
		Session:  &directory.Session{ID: "s-" + id, UserID: id, StartedAt: time.Now(), LastActivity: time.Now()},
	}
	dir.AddUser(u)
	return u
}

func TestSweepOnceEvictsExpiredMessages(t *testing.T) {
	dir := directory.New(directory.Config{MessageTTL: 10 * time.Millisecond})
	u := newSweepTestUser(dir, "u1", "alice")
	dir.JoinChannel(u.ID, "#x", u.Username)
	dir.PostChannelMessage(u.ID, "#x", []byte("hello"), nil)

	time.Sleep(20 * time.Millisecond)
	sweepOnce(dir)

	stats := dir.Stats()
	if stats.MessagesEvicted == 0 {
		t.Fatal("expected at least one evicted message counted")
	}
}

func TestSweepOnceExpiresIdleSessions(t *testing.T) {
	dir := directory.New(directory.Config{SessionTimeout: 10 * time.Millisecond})
	u := newSweepTestUser(dir, "u1", "alice")
	u.Session.LastActivity = time.Now().Add(-time.Hour)

	sweepOnce(dir)

	if dir.UserCount() != 0 {
		t.Fatal("expected idle session to be removed")
	}
	if dir.Stats().SessionsExpired != 1 {
		t.Fatalf("expected sessions_expired=1, got %d", dir.Stats().SessionsExpired)
	}
}

func TestSweepOnceAfterChannelEmptiedByPart(t *testing.T) {
	dir := directory.New(directory.Config{})
	u := newSweepTestUser(dir, "u1", "alice")
	dir.JoinChannel(u.ID, "#x", u.Username)
	dir.PartChannel(u.ID, "#x")
	// #x was already deleted synchronously by PartChannel when it emptied
	// (RemoveUser likewise deletes a channel it empties), so SweepChannels
	// has nothing to reap here. This test just confirms sweepOnce doesn't
	// panic on a directory with a user and no channels.
	sweepOnce(dir)
}
