// Package wire implements the line-oriented IRC-subset wire protocol: CRLF
// framing across reads, the lossy two-space verb/arg1/rest split, and the
// literal byte formats of every frame the server writes.
package wire

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// LineReader reads CRLF- or LF-terminated lines from an underlying stream,
// buffering across reads the way bufio.Reader.ReadString does — a client is
// never guaranteed to send one line per TCP read.
type LineReader struct {
	r *bufio.Reader
}

// NewLineReader wraps r with the given buffer size (4096 for the handshake
// frame, 1024 for command frames per spec §6).
func NewLineReader(r io.Reader, bufSize int) *LineReader {
	return &LineReader{r: bufio.NewReaderSize(r, bufSize)}
}

// ReadLine reads up to and including the next '\n', trims a trailing "\r\n"
// or "\n", and returns the line with its terminator stripped. io.EOF is
// returned once the stream is closed with no further data.
func (lr *LineReader) ReadLine() (string, error) {
	line, err := lr.r.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	line = strings.TrimSuffix(line, "\n")
	line = strings.TrimSuffix(line, "\r")
	return line, err
}

// Command is a parsed client line: verb uppercased, arg1 the first
// whitespace-delimited token after the verb, rest everything after that
// (including further spaces) — the spec's deliberately lossy "split on the
// first two spaces" parse, not full IRC param/trailing framing.
type Command struct {
	Verb string
	Arg1 string
	Rest string
}

// ParseCommand splits line on its first two spaces into (verb, arg1, rest).
func ParseCommand(line string) Command {
	line = strings.TrimSpace(line)
	first := strings.IndexByte(line, ' ')
	if first < 0 {
		return Command{Verb: strings.ToUpper(line)}
	}
	verb := line[:first]
	remainder := line[first+1:]

	second := strings.IndexByte(remainder, ' ')
	if second < 0 {
		return Command{Verb: strings.ToUpper(verb), Arg1: remainder}
	}
	return Command{
		Verb: strings.ToUpper(verb),
		Arg1: remainder[:second],
		Rest: remainder[second+1:],
	}
}

// TrailingContent strips a leading ':' from a trailing parameter, per
// classic IRC trailing-param convention (e.g. "PRIVMSG #x :hello" -> "hello").
func TrailingContent(rest string) string {
	return strings.TrimPrefix(rest, ":")
}

// --- Outbound frame formats (all CRLF-terminated, byte-for-byte per spec) ---

// SelfJoin is written to a user confirming its own JOIN.
func SelfJoin(uid, channel string) []byte {
	return []byte(fmt.Sprintf(":%s JOIN %s\r\n", uid, channel))
}

// ChannelBroadcast is the per-recipient frame for a channel PRIVMSG; the
// wire format names the individual recipient's username, so this is
// formatted once per target rather than shared verbatim across the
// fan-out.
func ChannelBroadcast(channel, recipientUsername string, content []byte) []byte {
	return []byte(fmt.Sprintf(":%s PRIVMSG %s :%s\r\n", channel, recipientUsername, content))
}

// PrivateMessage is delivered to the recipient of a direct message.
func PrivateMessage(senderUsername string, content []byte) []byte {
	return []byte(fmt.Sprintf("PRIVMSG %s :%s\r\n", senderUsername, content))
}

// ErrorFrame is the ERROR line written back on any per-command failure.
func ErrorFrame(reason string) []byte {
	return []byte(fmt.Sprintf("ERROR :%s\r\n", reason))
}

// NoticeFrame is the NOTICE line used for out-of-band server messages.
func NoticeFrame(text string) []byte {
	return []byte(fmt.Sprintf("NOTICE :%s\r\n", text))
}

// SystemLine is the unprefixed "* <text>" broadcast line used for
// join/part/disconnect system announcements.
func SystemLine(text string) []byte {
	return []byte(fmt.Sprintf("* %s\r\n", text))
}

// Welcome is numeric 001, sent once at the end of the handshake.
func Welcome(uid string) []byte {
	return []byte(fmt.Sprintf(":server 001 %s :Welcome to wisp\r\n", uid))
}

// EndOfWho is numeric 315, terminating a WHO listing.
func EndOfWho(uid, channel string) []byte {
	return []byte(fmt.Sprintf(":server 315 %s %s :End of WHO list\r\n", uid, channel))
}

// ListEntry is numeric 322, one line per channel in a LIST reply.
func ListEntry(uid, channel string, memberCount int, topic string) []byte {
	return []byte(fmt.Sprintf(":server 322 %s %s %d :%s\r\n", uid, channel, memberCount, topic))
}

// EndOfList is numeric 323, terminating a LIST reply.
func EndOfList(uid string) []byte {
	return []byte(fmt.Sprintf(":server 323 %s :End of LIST\r\n", uid))
}

// WhoEntry is numeric 352, one line per member in a WHO reply.
func WhoEntry(uid, channel, memberUsername string) []byte {
	return []byte(fmt.Sprintf(":server 352 %s %s %s\r\n", uid, channel, memberUsername))
}
