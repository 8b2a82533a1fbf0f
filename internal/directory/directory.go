// Package directory implements the single shared, lock-guarded record of
// users, channels, and message histories — the invariant custodian for the
// whole server. One *Directory is constructed at startup and shared by every
// connection handler and the janitor.
package directory

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Sentinel errors surfaced as one ERROR line back to the caller; handler
// formats the text, Directory only classifies the failure.
var (
	ErrChannelNotFound  = errors.New("no such channel")
	ErrNotInChannel     = errors.New("not in channel")
	ErrUserNotFound     = errors.New("no such user")
	ErrAlreadyConnected = errors.New("user id already connected")
)

// ChannelSummary is a read-only snapshot used by LIST.
type ChannelSummary struct {
	Name        string
	Topic       string
	MemberCount int
}

// Directory holds every piece of cross-connection mutable state. A single
// RWMutex guards it, matching the single-lock design adequate for the
// expected small-N deployment (dozens of concurrent users); sharding by
// channel/user is a documented future option, not required now.
type Directory struct {
	mu       sync.RWMutex
	users    map[string]*User    // keyed by user id
	channels map[string]*Channel // keyed by channel name

	messageTTL     time.Duration // 0 = never expire
	sessionTimeout time.Duration // 0 = never expire

	maxConnections int // 0 = unlimited
	perIPLimit     int // 0 = unlimited
	rateLimit      int // commands/sec, 0 = unlimited
	ipConns        map[string]int

	rateWindows map[string]*rateWindow // keyed by user id

	messagesBroadcast atomic.Uint64
	messagesEvicted   atomic.Uint64
	sessionsExpired   atomic.Uint64
}

type rateWindow struct {
	windowStart time.Time
	count       int
}

// Config bundles the startup-time knobs the Listener reads from flags/env.
type Config struct {
	MessageTTL     time.Duration
	SessionTimeout time.Duration
	MaxConnections int
	PerIPLimit     int
	RateLimit      int
}

// New returns an empty Directory configured per cfg.
func New(cfg Config) *Directory {
	return &Directory{
		users:          make(map[string]*User),
		channels:       make(map[string]*Channel),
		messageTTL:     cfg.MessageTTL,
		sessionTimeout: cfg.SessionTimeout,
		maxConnections: cfg.MaxConnections,
		perIPLimit:     cfg.PerIPLimit,
		rateLimit:      cfg.RateLimit,
		ipConns:        make(map[string]int),
		rateWindows:    make(map[string]*rateWindow),
	}
}

// --- Admission control -----------------------------------------------------

// CanConnect reports whether a new connection from ip is allowed under the
// configured total/per-IP caps. 0 means unlimited, consistent with the
// TTL/timeout zero-means-never convention used elsewhere.
func (d *Directory) CanConnect(ip string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.maxConnections > 0 && len(d.users) >= d.maxConnections {
		return false
	}
	if d.perIPLimit > 0 && d.ipConns[ip] >= d.perIPLimit {
		return false
	}
	return true
}

// TrackIPConnect increments the connection count for ip.
func (d *Directory) TrackIPConnect(ip string) {
	if ip == "" {
		return
	}
	d.mu.Lock()
	d.ipConns[ip]++
	d.mu.Unlock()
}

// TrackIPDisconnect decrements the connection count for ip.
func (d *Directory) TrackIPDisconnect(ip string) {
	if ip == "" {
		return
	}
	d.mu.Lock()
	d.ipConns[ip]--
	if d.ipConns[ip] <= 0 {
		delete(d.ipConns, ip)
	}
	d.mu.Unlock()
}

// CheckRate reports whether userID may issue another command this second.
// A violation does not tear the connection down; the handler writes an
// ERROR line and continues.
func (d *Directory) CheckRate(userID string) bool {
	if d.rateLimit <= 0 {
		return true
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	w, ok := d.rateWindows[userID]
	now := time.Now()
	if !ok {
		d.rateWindows[userID] = &rateWindow{windowStart: now, count: 1}
		return true
	}
	if now.Sub(w.windowStart) >= time.Second {
		w.windowStart = now
		w.count = 1
		return true
	}
	w.count++
	return w.count <= d.rateLimit
}

// --- User lifecycle ---------------------------------------------------------

// AddUser registers a newly authenticated user. Returns ErrAlreadyConnected
// if the user id is already present, preserving invariant 7 (exactly one
// User per live authenticated socket).
func (d *Directory) AddUser(u *User) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.users[u.ID]; exists {
		return ErrAlreadyConnected
	}
	d.users[u.ID] = u
	return nil
}

// RemoveUser removes userID from the Directory and every channel it was a
// member of, wiping its private history in the process. It returns the
// removed user (for the caller to broadcast a disconnect notice with, and to
// release its writer) and the list of channels it was a member of at the
// moment of removal, along with each channel's remaining member ids — the
// caller broadcasts the disconnect notice to those members outside any lock.
func (d *Directory) RemoveUser(userID string) (removed *User, affected map[string][]string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	u, ok := d.users[userID]
	if !ok {
		return nil, nil
	}

	affected = make(map[string][]string)
	for chanName := range u.Channels {
		ch, ok := d.channels[chanName]
		if !ok {
			continue
		}
		delete(ch.Members, userID)
		ch.LastActivity = time.Now()
		remaining := make([]string, 0, len(ch.Members))
		for id := range ch.Members {
			remaining = append(remaining, id)
		}
		affected[chanName] = remaining
		if len(ch.Members) == 0 {
			delete(d.channels, chanName)
		}
	}

	u.PrivateHistory = secureZeroAll(u.PrivateHistory)
	delete(d.users, userID)
	delete(d.rateWindows, userID)
	return u, affected
}

// FindUserByUsername does a linear scan — O(n), acceptable for the small N
// this design targets (spec §4.C).
func (d *Directory) FindUserByUsername(name string) (*User, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, u := range d.users {
		if u.Username == name {
			return u, true
		}
	}
	return nil, false
}

func (d *Directory) userByID(id string) (*User, bool) {
	u, ok := d.users[id]
	return u, ok
}

// UserCount returns the number of live users.
func (d *Directory) UserCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.users)
}

// --- Channel membership ------------------------------------------------------

func (d *Directory) getOrCreateChannelLocked(name string) *Channel {
	ch, ok := d.channels[name]
	if !ok {
		now := time.Now()
		ch = &Channel{
			Name:         name,
			Members:      make(map[string]struct{}),
			CreatedAt:    now,
			LastActivity: now,
		}
		d.channels[name] = ch
	}
	return ch
}

// JoinResult describes the outcome of a successful JoinChannel call.
type JoinResult struct {
	Channel        *Channel
	OtherMemberIDs []string
}

// JoinChannel creates the channel if absent, adds membership both ways, and
// stores a SYSTEM history entry for the join — the only operation that
// appends a SYSTEM entry, per spec (PART/QUIT do not).
func (d *Directory) JoinChannel(userID, channelName, username string) (*JoinResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	u, ok := d.userByID(userID)
	if !ok {
		return nil, ErrUserNotFound
	}

	ch := d.getOrCreateChannelLocked(channelName)
	ch.Members[userID] = struct{}{}
	u.Channels[channelName] = struct{}{}
	ch.LastActivity = time.Now()

	ch.History = appendHistory(ch.History, &ChatMessage{
		Sender:    "SYSTEM",
		Content:   []byte(username + " has joined " + channelName),
		Timestamp: time.Now(),
	})

	others := make([]string, 0, len(ch.Members))
	for id := range ch.Members {
		if id != userID {
			others = append(others, id)
		}
	}
	return &JoinResult{Channel: ch, OtherMemberIDs: others}, nil
}

// PartResult describes the outcome of a successful PartChannel call.
type PartResult struct {
	RemainingMemberIDs []string
	ChannelDeleted     bool
}

// PartChannel removes both-way membership. If the channel becomes empty it
// is deleted immediately (the 24h idle grace period only applies to
// channels that are already empty when the janitor finds them, per spec
// §3's Channel lifecycle — PART's own emptiness check is immediate).
func (d *Directory) PartChannel(userID, channelName string) (*PartResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	u, ok := d.userByID(userID)
	if !ok {
		return nil, ErrUserNotFound
	}
	ch, ok := d.channels[channelName]
	if !ok {
		return nil, ErrChannelNotFound
	}
	if _, member := ch.Members[userID]; !member {
		return nil, ErrNotInChannel
	}

	remaining := make([]string, 0, len(ch.Members)-1)
	for id := range ch.Members {
		if id != userID {
			remaining = append(remaining, id)
		}
	}

	delete(ch.Members, userID)
	delete(u.Channels, channelName)
	ch.LastActivity = time.Now()

	deleted := false
	if len(ch.Members) == 0 {
		delete(d.channels, channelName)
		deleted = true
	}
	return &PartResult{RemainingMemberIDs: remaining, ChannelDeleted: deleted}, nil
}

// --- Messaging ---------------------------------------------------------------

// PostChannelMessage requires membership, appends to the channel history,
// and returns the message plus the ids of every other member to fan out to.
func (d *Directory) PostChannelMessage(userID, channelName string, content, encrypted []byte) (*ChatMessage, []string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	u, ok := d.userByID(userID)
	if !ok {
		return nil, nil, ErrUserNotFound
	}
	if _, member := u.Channels[channelName]; !member {
		return nil, nil, ErrNotInChannel
	}
	ch, ok := d.channels[channelName]
	if !ok {
		return nil, nil, ErrChannelNotFound
	}

	msg := &ChatMessage{Sender: u.Username, Content: content, Encrypted: encrypted, Timestamp: time.Now()}
	ch.History = appendHistory(ch.History, msg)
	ch.LastActivity = time.Now()

	others := make([]string, 0, len(ch.Members))
	for id := range ch.Members {
		if id != userID {
			others = append(others, id)
		}
	}
	d.messagesBroadcast.Add(1)
	return msg, others, nil
}

// PostPrivateMessage finds the recipient by username and appends the
// message to both parties' private histories.
func (d *Directory) PostPrivateMessage(senderID, recipientUsername string, content, encrypted []byte) (msg *ChatMessage, recipient *User, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	sender, ok := d.userByID(senderID)
	if !ok {
		return nil, nil, ErrUserNotFound
	}
	var recv *User
	for _, u := range d.users {
		if u.Username == recipientUsername {
			recv = u
			break
		}
	}
	if recv == nil {
		return nil, nil, ErrUserNotFound
	}

	// Each party gets its own copy of the message, not a shared pointer: a
	// secure-delete on one party's retained history (SECURECLEAR, QUIT's
	// SECURE_DELETE, or TTL eviction) zeroes that copy's bytes in place and
	// must never reach into the other party's independently-retained copy.
	now := time.Now()
	msg = &ChatMessage{Sender: sender.Username, Content: cloneBytes(content), Encrypted: cloneBytes(encrypted), Timestamp: now}
	recvCopy := &ChatMessage{Sender: sender.Username, Content: cloneBytes(content), Encrypted: cloneBytes(encrypted), Timestamp: now}
	sender.PrivateHistory = appendHistory(sender.PrivateHistory, msg)
	recv.PrivateHistory = appendHistory(recv.PrivateHistory, recvCopy)
	d.messagesBroadcast.Add(1)
	return msg, recv, nil
}

// cloneBytes returns an independent copy of b, or nil if b is nil/empty.
func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// --- Queries -----------------------------------------------------------------

// ListChannels returns a snapshot of every channel for LIST.
func (d *Directory) ListChannels() []ChannelSummary {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]ChannelSummary, 0, len(d.channels))
	for _, ch := range d.channels {
		out = append(out, ChannelSummary{Name: ch.Name, Topic: ch.Topic, MemberCount: len(ch.Members)})
	}
	return out
}

// WhoChannel returns the usernames of a channel's members for WHO.
func (d *Directory) WhoChannel(channelName string) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ch, ok := d.channels[channelName]
	if !ok {
		return nil, ErrChannelNotFound
	}
	out := make([]string, 0, len(ch.Members))
	for id := range ch.Members {
		if u, ok := d.users[id]; ok {
			out = append(out, u.Username)
		}
	}
	return out, nil
}

// NamesChannel returns the usernames of a channel's members for NAMES.
func (d *Directory) NamesChannel(channelName string) ([]string, error) {
	return d.WhoChannel(channelName)
}

// Topic returns a channel's current topic.
func (d *Directory) Topic(channelName string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ch, ok := d.channels[channelName]
	if !ok {
		return "", ErrChannelNotFound
	}
	return ch.Topic, nil
}

// SetTopic sets a channel's topic; it returns ErrNotInChannel unless the
// setter is a member (spec §9 supplement: TOPIC is member-gated, not
// owner-gated).
func (d *Directory) SetTopic(userID, channelName, topic string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	ch, ok := d.channels[channelName]
	if !ok {
		return ErrChannelNotFound
	}
	if _, member := ch.Members[userID]; !member {
		return ErrNotInChannel
	}
	ch.Topic = topic
	return nil
}

// --- Secure delete -----------------------------------------------------------

// SecureClearUser wipes userID's private history in place and returns how
// many messages were cleared.
func (d *Directory) SecureClearUser(userID string) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.userByID(userID)
	if !ok {
		return 0, ErrUserNotFound
	}
	n := len(u.PrivateHistory)
	u.PrivateHistory = secureZeroAll(u.PrivateHistory)
	d.messagesEvicted.Add(uint64(n))
	return n, nil
}

// SecureDeleteOnQuit wipes userID's private history and strips every
// message it sent from the histories of channels it is currently a member
// of. Per spec §9's documented asymmetry, messages this user sent into
// other users' private DMs are NOT stripped — only channel histories and
// this user's own private history are touched. This is preserved as
// specified, not fixed, even though it reads as inconsistent.
func (d *Directory) SecureDeleteOnQuit(userID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.userByID(userID)
	if !ok {
		return ErrUserNotFound
	}

	for chanName := range u.Channels {
		ch, ok := d.channels[chanName]
		if !ok {
			continue
		}
		kept := ch.History[:0]
		for _, m := range ch.History {
			if m.Sender == u.Username {
				secureZero(m)
				d.messagesEvicted.Add(1)
				continue
			}
			kept = append(kept, m)
		}
		ch.History = kept
	}

	d.messagesEvicted.Add(uint64(len(u.PrivateHistory)))
	u.PrivateHistory = secureZeroAll(u.PrivateHistory)
	return nil
}

// --- Broadcast / unicast -----------------------------------------------------

// Broadcast delivers frame to every member of channelName except
// excludeUserID (pass "" to exclude no one). Per-member write failures are
// logged, not propagated — a dead peer is the read path's problem.
func (d *Directory) Broadcast(channelName string, frame []byte, excludeUserID string) {
	d.mu.RLock()
	ch, ok := d.channels[channelName]
	if !ok {
		d.mu.RUnlock()
		return
	}
	targets := make([]*User, 0, len(ch.Members))
	for id := range ch.Members {
		if id == excludeUserID {
			continue
		}
		if u, ok := d.users[id]; ok {
			targets = append(targets, u)
		}
	}
	d.mu.RUnlock()

	for _, u := range targets {
		if err := u.Writer.Write(frame); err != nil {
			slog.Warn("broadcast write failed", "user_id", u.ID, "channel", channelName, "err", err)
		}
	}
}

// BroadcastEach delivers a per-recipient frame to every member of
// channelName except excludeUserID, built by calling format once per target
// after a single lock-guarded membership snapshot — the same
// snapshot-then-write-outside-the-lock shape as Broadcast, for the case
// where each recipient's frame names that recipient and so can't be shared
// verbatim across the fan-out.
func (d *Directory) BroadcastEach(channelName, excludeUserID string, format func(*User) []byte) {
	d.mu.RLock()
	ch, ok := d.channels[channelName]
	if !ok {
		d.mu.RUnlock()
		return
	}
	targets := make([]*User, 0, len(ch.Members))
	for id := range ch.Members {
		if id == excludeUserID {
			continue
		}
		if u, ok := d.users[id]; ok {
			targets = append(targets, u)
		}
	}
	d.mu.RUnlock()

	for _, u := range targets {
		if err := u.Writer.Write(format(u)); err != nil {
			slog.Warn("broadcast write failed", "user_id", u.ID, "channel", channelName, "err", err)
		}
	}
}

// BroadcastToIDs delivers frame to an explicit snapshot of user ids, used
// when the caller already computed the target set under its own lock
// section (e.g. RemoveUser's affected-channel members).
func (d *Directory) BroadcastToIDs(ids []string, frame []byte) {
	d.mu.RLock()
	targets := make([]*User, 0, len(ids))
	for _, id := range ids {
		if u, ok := d.users[id]; ok {
			targets = append(targets, u)
		}
	}
	d.mu.RUnlock()

	for _, u := range targets {
		if err := u.Writer.Write(frame); err != nil {
			slog.Warn("broadcast write failed", "user_id", u.ID, "err", err)
		}
	}
}

// UnicastByUserID writes frame to a single user's socket by id.
func (d *Directory) UnicastByUserID(userID string, frame []byte) error {
	d.mu.RLock()
	u, ok := d.users[userID]
	d.mu.RUnlock()
	if !ok {
		return ErrUserNotFound
	}
	return u.Writer.Write(frame)
}

// --- Stats -------------------------------------------------------------------

// Stats is a point-in-time snapshot used by the metrics endpoint.
type Stats struct {
	Sessions          int
	Channels          int
	MessagesBroadcast uint64
	MessagesEvicted   uint64
	SessionsExpired   uint64
}

// Stats returns a snapshot of directory-wide counters.
func (d *Directory) Stats() Stats {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return Stats{
		Sessions:          len(d.users),
		Channels:          len(d.channels),
		MessagesBroadcast: d.messagesBroadcast.Load(),
		MessagesEvicted:   d.messagesEvicted.Load(),
		SessionsExpired:   d.sessionsExpired.Load(),
	}
}
