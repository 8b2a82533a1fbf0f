package wire

import (
	"bufio"
	"io"
	"strings"
	"testing"
	"testing/iotest"
)

func TestReadLineAcrossPartialReads(t *testing.T) {
	// Deliver the input one byte per Read call, so every line arrives in
	// fragments; this exercises buffering across reads, CRLF trimming and
	// multiple lines.
	input := "JOIN #lobby\r\nPRIVMSG #lobby :hi\r\n"
	lr := NewLineReader(iotest.OneByteReader(strings.NewReader(input)), 1024)

	line1, err := lr.ReadLine()
	if err != nil {
		t.Fatalf("ReadLine 1: %v", err)
	}
	if line1 != "JOIN #lobby" {
		t.Fatalf("unexpected line: %q", line1)
	}

	line2, err := lr.ReadLine()
	if err != nil {
		t.Fatalf("ReadLine 2: %v", err)
	}
	if line2 != "PRIVMSG #lobby :hi" {
		t.Fatalf("unexpected line: %q", line2)
	}
}

func TestReadLineEOFWithNoTrailingNewline(t *testing.T) {
	lr := NewLineReader(strings.NewReader("QUIT"), 1024)
	line, err := lr.ReadLine()
	if err != io.EOF && err != bufio.ErrBufferFull {
		// bufio.ReadString returns the partial content plus io.EOF.
	}
	if line != "QUIT" {
		t.Fatalf("expected partial line on EOF, got %q (err=%v)", line, err)
	}
}

func TestParseCommandTwoSpaceSplit(t *testing.T) {
	cmd := ParseCommand("privmsg #lobby :hello world")
	if cmd.Verb != "PRIVMSG" {
		t.Fatalf("expected uppercased verb, got %q", cmd.Verb)
	}
	if cmd.Arg1 != "#lobby" {
		t.Fatalf("unexpected arg1: %q", cmd.Arg1)
	}
	if cmd.Rest != ":hello world" {
		t.Fatalf("unexpected rest: %q", cmd.Rest)
	}
}

func TestParseCommandNoArgs(t *testing.T) {
	cmd := ParseCommand("list")
	if cmd.Verb != "LIST" || cmd.Arg1 != "" || cmd.Rest != "" {
		t.Fatalf("unexpected parse: %+v", cmd)
	}
}

func TestParseCommandOneArg(t *testing.T) {
	cmd := ParseCommand("JOIN #lobby")
	if cmd.Verb != "JOIN" || cmd.Arg1 != "#lobby" || cmd.Rest != "" {
		t.Fatalf("unexpected parse: %+v", cmd)
	}
}

func TestTrailingContentStripsColon(t *testing.T) {
	if got := TrailingContent(":hello there"); got != "hello there" {
		t.Fatalf("unexpected trailing content: %q", got)
	}
}

func TestFrameFormatsAreCRLFTerminated(t *testing.T) {
	frames := [][]byte{
		SelfJoin("u1", "#lobby"),
		ChannelBroadcast("#lobby", "bob", []byte("hi")),
		PrivateMessage("alice", []byte("hi")),
		ErrorFrame("bad command"),
		NoticeFrame("hello"),
		SystemLine("alice has joined #lobby"),
		Welcome("u1"),
		EndOfWho("u1", "#lobby"),
		ListEntry("u1", "#lobby", 3, "topic"),
		EndOfList("u1"),
		WhoEntry("u1", "#lobby", "bob"),
	}
	for _, f := range frames {
		if !strings.HasSuffix(string(f), "\r\n") {
			t.Fatalf("frame not CRLF-terminated: %q", f)
		}
	}
}
