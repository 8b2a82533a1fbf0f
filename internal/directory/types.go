package directory

import (
	"net"
	"sync"
	"time"
)

// HistoryCap is the maximum number of ChatMessages retained in any one
// channel history or user private history; the oldest entry is evicted once
// the cap is exceeded.
const HistoryCap = 100

// ChannelIdleTTL is how long an empty channel may sit idle before the
// janitor reaps it.
const ChannelIdleTTL = 24 * time.Hour

// ChatMessage is one delivered line. Content and Encrypted are []byte, not
// string, so a secure-delete can actually overwrite the backing array in
// place — a Go string's backing array is immutable and can't be wiped this
// way.
type ChatMessage struct {
	Sender    string
	Content   []byte
	Encrypted []byte
	Timestamp time.Time
}

// Session is the authenticated lifetime of one connected User.
type Session struct {
	ID            string
	UserID        string
	StartedAt     time.Time
	LastActivity  time.Time
	EncryptionKey [32]byte
	NonceCounter  uint64
	RemoteAddr    string
}

// SocketWriter is a shared, lockable handle to the outbound side of a
// connection. Both the owning handler and the janitor write through it, so
// its own mutex — independent of the Directory lock — prevents interleaved
// writes within a single frame.
type SocketWriter struct {
	mu   sync.Mutex
	conn net.Conn
}

// NewSocketWriter wraps conn for exclusive, lock-protected writes.
func NewSocketWriter(conn net.Conn) *SocketWriter {
	return &SocketWriter{conn: conn}
}

// Write sends data atomically with respect to any other writer of this
// socket. Errors are returned, never panicked on; callers typically log and
// continue, since a dead peer is expected to surface again via read-path EOF.
func (w *SocketWriter) Write(data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err := w.conn.Write(data)
	return err
}

// Close closes the underlying socket. Used by the janitor to unblock a
// handler's read loop when it forcibly evicts an idle session — the
// handler's own teardown then runs as it would for any peer-initiated close.
func (w *SocketWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.Close()
}

// User is one authenticated connection.
type User struct {
	ID             string
	Username       string
	ProfilePic     []byte
	Channels       map[string]struct{}
	Writer         *SocketWriter
	Session        *Session
	PrivateHistory []*ChatMessage
}

// Channel is a named multicast group.
type Channel struct {
	Name         string
	Topic        string
	Members      map[string]struct{} // user ids
	History      []*ChatMessage
	CreatedAt    time.Time
	LastActivity time.Time
}

func appendHistory(history []*ChatMessage, msg *ChatMessage) []*ChatMessage {
	history = append(history, msg)
	if len(history) > HistoryCap {
		secureZero(history[0])
		history = history[1:]
	}
	return history
}
