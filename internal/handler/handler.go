// Package handler drives one accepted connection end-to-end: handshake,
// registration, command dispatch, and disciplined teardown with secure
// buffer wiping. One Handler is spawned per socket by the root Listener.
package handler

import (
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"wisp/internal/codec"
	"wisp/internal/directory"
	"wisp/internal/token"
	"wisp/internal/wire"
)

const alphanumeric = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

const (
	// tcpKeepAlive is the OS-level keepalive interval for accepted sockets.
	tcpKeepAlive = 60 * time.Second

	// sessionKeySize is the per-session AEAD key length (AES-256).
	sessionKeySize = 32

	// sessionIDLength is the length of the random alphanumeric session id.
	sessionIDLength = 32
)

// Handler owns one connection's lifecycle.
type Handler struct {
	conn         net.Conn
	dir          *directory.Directory
	verifier     *token.Verifier
	messageTTL   time.Duration
	log          *slog.Logger
	handshakeBuf int
	commandBuf   int
	readTimeout  time.Duration
}

// Config bundles the per-handler knobs the Listener holds and passes down.
type Config struct {
	Directory    *directory.Directory
	Verifier     *token.Verifier
	MessageTTL   time.Duration
	HandshakeBuf int
	CommandBuf   int
	ReadTimeout  time.Duration
}

// New constructs a Handler for an already-accepted connection.
func New(conn net.Conn, cfg Config) *Handler {
	return &Handler{
		conn:         conn,
		dir:          cfg.Directory,
		verifier:     cfg.Verifier,
		messageTTL:   cfg.MessageTTL,
		log:          slog.With("remote_addr", conn.RemoteAddr().String()),
		handshakeBuf: cfg.HandshakeBuf,
		commandBuf:   cfg.CommandBuf,
		readTimeout:  cfg.ReadTimeout,
	}
}

// Serve runs the full CONNECTED -> ... -> CLOSED state machine. It always
// closes the connection before returning.
func (h *Handler) Serve() {
	defer h.conn.Close()

	if tc, ok := h.conn.(*net.TCPConn); ok {
		_ = tc.SetKeepAlive(true)
		_ = tc.SetKeepAlivePeriod(tcpKeepAlive)
	}

	identity, err := h.handshake()
	if err != nil {
		h.log.Warn("handshake failed", "err", err)
		_, _ = h.conn.Write(wire.ErrorFrame(fmt.Sprintf("Authentication failed: %s", err)))
		return
	}

	u, sess, err := h.register(identity)
	if err != nil {
		h.log.Warn("registration failed", "err", err)
		_, _ = h.conn.Write(wire.ErrorFrame(fmt.Sprintf("Authentication failed: %s", err)))
		return
	}

	h.welcome(u.ID)
	h.log.Info("session started", "user_id", u.ID, "username", u.Username, "session_id", sess.ID)

	h.commandLoop(u)
	h.teardown(u)
}

func (h *Handler) handshake() (*token.Identity, error) {
	_ = h.conn.SetReadDeadline(time.Now().Add(h.readTimeout))
	lr := wire.NewLineReader(h.conn, h.handshakeBuf)
	raw, err := lr.ReadLine()
	if err != nil && raw == "" {
		return nil, errors.New("no token presented")
	}
	raw = strings.TrimSpace(raw)
	identity, err := h.verifier.Verify(raw)
	if err != nil {
		return nil, err
	}
	if len(identity.AllowedIPs) > 0 && !ipAllowed(identity.AllowedIPs, h.conn.RemoteAddr()) {
		return nil, errors.New("source address not permitted for this token")
	}
	return identity, nil
}

// ipAllowed reports whether remote's host matches one of allowed verbatim.
// A malformed remote address (e.g. a non-IP transport in tests) fails
// closed rather than silently skipping the check.
func ipAllowed(allowed []string, remote net.Addr) bool {
	host, _, err := net.SplitHostPort(remote.String())
	if err != nil {
		host = remote.String()
	}
	for _, ip := range allowed {
		if ip == host {
			return true
		}
	}
	return false
}

func (h *Handler) register(identity *token.Identity) (*directory.User, *directory.Session, error) {
	sessID, err := randomAlphanumeric(sessionIDLength)
	if err != nil {
		return nil, nil, fmt.Errorf("session id generation: %w", err)
	}
	var key [sessionKeySize]byte
	if _, err := rand.Read(key[:]); err != nil {
		return nil, nil, fmt.Errorf("key generation: %w", err)
	}

	now := time.Now()
	sess := &directory.Session{
		ID:            sessID,
		UserID:        identity.UserID,
		StartedAt:     now,
		LastActivity:  now,
		EncryptionKey: key,
		RemoteAddr:    h.conn.RemoteAddr().String(),
	}
	u := &directory.User{
		ID:         identity.UserID,
		Username:   identity.Username,
		ProfilePic: identity.ProfilePic,
		Channels:   make(map[string]struct{}),
		Writer:     directory.NewSocketWriter(h.conn),
		Session:    sess,
	}
	if err := h.dir.AddUser(u); err != nil {
		return nil, nil, err
	}
	return u, sess, nil
}

func (h *Handler) welcome(uid string) {
	_, _ = h.conn.Write(wire.Welcome(uid))
	minutes := "unlimited"
	if h.messageTTL > 0 {
		minutes = strconv.Itoa(int(h.messageTTL.Minutes()))
		_, _ = h.conn.Write(wire.NoticeFrame(fmt.Sprintf("Messages in this session expire after %s minutes.", minutes)))
		return
	}
	_, _ = h.conn.Write(wire.NoticeFrame("Messages in this session do not expire."))
}

func (h *Handler) commandLoop(u *directory.User) {
	lr := wire.NewLineReader(h.conn, h.commandBuf)
	for {
		_ = h.conn.SetReadDeadline(time.Now().Add(h.readTimeout))
		line, err := lr.ReadLine()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue // idle: loop and wait for the next read
			}
			if line == "" {
				return // EOF or a fatal read error with nothing buffered: graceful close
			}
		}
		if line == "" {
			continue
		}

		h.dir.TouchSession(u.ID)
		cmd := wire.ParseCommand(line)

		if !h.dir.CheckRate(u.ID) {
			_, _ = h.conn.Write(wire.ErrorFrame("rate limit exceeded"))
			continue
		}

		quit, reason := h.dispatch(u, cmd)
		if quit {
			h.secureDeleteOnQuit(u, reason)
			return
		}
	}
}

// dispatch runs one command. quit is true when the connection should tear
// down: on QUIT, or when the command's error is fatal per isFatal.
func (h *Handler) dispatch(u *directory.User, cmd wire.Command) (quit bool, quitReason string) {
	var err error
	switch cmd.Verb {
	case "JOIN":
		err = h.handleJoin(u, cmd)
	case "PART":
		err = h.handlePart(u, cmd)
	case "PRIVMSG":
		err = h.handlePrivmsg(u, cmd)
	case "LIST":
		err = h.handleList(u)
	case "WHO":
		err = h.handleWho(u, cmd)
	case "TOPIC":
		err = h.handleTopic(u, cmd)
	case "NAMES":
		err = h.handleNames(u, cmd)
	case "PING":
		err = h.handlePing(u, cmd)
	case "SECURECLEAR":
		err = h.handleSecureClear(u)
	case "QUIT":
		reason := strings.TrimSpace(wire.TrailingContent(strings.TrimSpace(cmd.Arg1 + " " + cmd.Rest)))
		return true, reason
	default:
		err = fmt.Errorf("Unknown command: %s", cmd.Verb)
	}

	if err != nil {
		_, _ = h.conn.Write(wire.ErrorFrame(err.Error()))
		if isFatal(err) {
			return true, ""
		}
	}
	return false, ""
}

func (h *Handler) handleJoin(u *directory.User, cmd wire.Command) error {
	if cmd.Arg1 == "" {
		return errors.New("JOIN requires a channel")
	}
	chanName := cmd.Arg1
	result, err := h.dir.JoinChannel(u.ID, chanName, u.Username)
	if err != nil {
		return err
	}
	_, _ = h.conn.Write(wire.SelfJoin(u.ID, chanName))
	h.dir.BroadcastToIDs(result.OtherMemberIDs, wire.SystemLine(u.Username+" has joined "+chanName))
	return nil
}

func (h *Handler) handlePart(u *directory.User, cmd wire.Command) error {
	if cmd.Arg1 == "" {
		return errors.New("PART requires a channel")
	}
	chanName := cmd.Arg1
	// Broadcast while the user is still a member so the broadcast is
	// observed before the membership/channel disappears, per the
	// ordering guarantee in spec §5. u.Channels is only written by this
	// connection's own goroutine, so reading it here needs no lock.
	if _, member := u.Channels[chanName]; member {
		h.dir.Broadcast(chanName, wire.SystemLine(u.Username+" has left "+chanName), u.ID)
	}
	if _, err := h.dir.PartChannel(u.ID, chanName); err != nil {
		return err
	}
	return nil
}

func (h *Handler) handlePrivmsg(u *directory.User, cmd wire.Command) error {
	if cmd.Arg1 == "" || cmd.Rest == "" {
		return errors.New("PRIVMSG requires a target and message")
	}
	target := cmd.Arg1
	content := []byte(wire.TrailingContent(cmd.Rest))
	encrypted := h.sealForHistory(u, content)

	if strings.HasPrefix(target, "#") {
		if _, _, err := h.dir.PostChannelMessage(u.ID, target, content, encrypted); err != nil {
			return err
		}
		h.dir.BroadcastEach(target, u.ID, func(recipient *directory.User) []byte {
			return wire.ChannelBroadcast(target, recipient.Username, content)
		})
		return nil
	}

	_, recipient, err := h.dir.PostPrivateMessage(u.ID, target, content, encrypted)
	if err != nil {
		return errors.New("no such user: " + target)
	}
	_ = recipient.Writer.Write(wire.PrivateMessage(u.Username, content))
	return nil
}

// sealForHistory produces the AEAD ciphertext stored alongside a message's
// plaintext, using the sending session's own key and its next nonce value.
// The counter is only ever touched by this connection's own goroutine, so
// no lock is needed to keep it monotonic and collision-free (invariant:
// no two messages in a session share a nonce). A sealing failure is not
// fatal to delivery; the message still carries its plaintext, it just
// loses its encrypted-history copy.
func (h *Handler) sealForHistory(u *directory.User, content []byte) []byte {
	counter := u.Session.NonceCounter
	u.Session.NonceCounter++
	ciphertext, err := codec.Encrypt(u.Session.EncryptionKey[:], counter, content)
	if err != nil {
		h.log.Warn("seal failed", "user_id", u.ID, "err", err)
		return nil
	}
	return ciphertext
}

func (h *Handler) handleList(u *directory.User) error {
	for _, ch := range h.dir.ListChannels() {
		_, _ = h.conn.Write(wire.ListEntry(u.ID, ch.Name, ch.MemberCount, ch.Topic))
	}
	_, _ = h.conn.Write(wire.EndOfList(u.ID))
	return nil
}

func (h *Handler) handleWho(u *directory.User, cmd wire.Command) error {
	if cmd.Arg1 == "" {
		return errors.New("WHO requires a channel")
	}
	members, err := h.dir.WhoChannel(cmd.Arg1)
	if err != nil {
		return err
	}
	for _, username := range members {
		_, _ = h.conn.Write(wire.WhoEntry(u.ID, cmd.Arg1, username))
	}
	_, _ = h.conn.Write(wire.EndOfWho(u.ID, cmd.Arg1))
	return nil
}

func (h *Handler) handleTopic(u *directory.User, cmd wire.Command) error {
	if cmd.Arg1 == "" {
		return errors.New("TOPIC requires a channel")
	}
	if cmd.Rest == "" {
		topic, err := h.dir.Topic(cmd.Arg1)
		if err != nil {
			return err
		}
		_, _ = h.conn.Write(wire.NoticeFrame(fmt.Sprintf("Topic for %s: %s", cmd.Arg1, topic)))
		return nil
	}
	newTopic := wire.TrailingContent(cmd.Rest)
	if err := h.dir.SetTopic(u.ID, cmd.Arg1, newTopic); err != nil {
		return err
	}
	h.dir.Broadcast(cmd.Arg1, wire.NoticeFrame(fmt.Sprintf("%s changed the topic to: %s", u.Username, newTopic)), "")
	return nil
}

func (h *Handler) handleNames(u *directory.User, cmd wire.Command) error {
	if cmd.Arg1 == "" {
		return errors.New("NAMES requires a channel")
	}
	members, err := h.dir.NamesChannel(cmd.Arg1)
	if err != nil {
		return err
	}
	_, _ = h.conn.Write(wire.NoticeFrame(fmt.Sprintf("%s: %s", cmd.Arg1, strings.Join(members, " "))))
	return nil
}

func (h *Handler) handlePing(u *directory.User, cmd wire.Command) error {
	payload := wire.TrailingContent(strings.TrimSpace(cmd.Arg1 + " " + cmd.Rest))
	_, _ = h.conn.Write([]byte(fmt.Sprintf("PONG :%s\r\n", payload)))
	return nil
}

func (h *Handler) handleSecureClear(u *directory.User) error {
	if _, err := h.dir.SecureClearUser(u.ID); err != nil {
		return err
	}
	_, _ = h.conn.Write(wire.NoticeFrame("All your messages have been securely deleted"))
	return nil
}

func (h *Handler) secureDeleteOnQuit(u *directory.User, reason string) {
	if strings.Contains(reason, "SECURE_DELETE") {
		if err := h.dir.SecureDeleteOnQuit(u.ID); err != nil {
			h.log.Warn("secure delete on quit failed", "user_id", u.ID, "err", err)
		}
	}
}

func (h *Handler) teardown(u *directory.User) {
	removed, affected := h.dir.RemoveUser(u.ID)
	if removed == nil {
		return
	}
	for _, remaining := range affected {
		h.dir.BroadcastToIDs(remaining, wire.SystemLine(u.Username+" has disconnected"))
	}
	h.log.Info("session ended", "user_id", u.ID, "username", u.Username)
}

// isFatal reports whether err forces a teardown even mid-command-loop: a
// *token.Error, or any error whose text contains "authentication" or
// "token" (case-insensitive). No command in the table re-invokes token
// verification, so after the handshake only the substring match fires —
// for an error text that echoes client input containing "token", such as
// "Unknown command: TOKEN" or "no such user: token".
func isFatal(err error) bool {
	var authErr *token.Error
	if errors.As(err, &authErr) {
		return true
	}
	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "authentication") || strings.Contains(lower, "token")
}

func randomAlphanumeric(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	out := make([]byte, n)
	for i, b := range buf {
		out[i] = alphanumeric[int(b)%len(alphanumeric)]
	}
	return string(out), nil
}
