package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"wisp/internal/directory"
	"wisp/internal/handler"
	"wisp/internal/token"
)

// Server binds the TCP listener, accepts sockets, and spawns one handler
// goroutine per connection, sharing the single Directory it is given with
// every handler; the Janitor is started by runServe, not by Server. It is
// generalized from a WebSocket/HTTPS accept loop
// down to a bare line-oriented TCP listener — the wire protocol here is raw
// TCP, not WebSocket, so there is no HTTP upgrade step.
type Server struct {
	addr       string
	dir        *directory.Directory
	verifier   *token.Verifier
	messageTTL time.Duration
}

// NewServer constructs a Server. The Directory and Janitor are expected to
// already exist by this point; Server only owns the accept loop. messageTTL
// is passed straight through to every handler's welcome NOTICE, so it must
// match the TTL the Directory itself was configured with.
func NewServer(addr string, dir *directory.Directory, verifier *token.Verifier, messageTTL time.Duration) *Server {
	return &Server{addr: addr, dir: dir, verifier: verifier, messageTTL: messageTTL}
}

// Run binds addr and accepts connections until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", s.addr)
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	slog.Info("listening", "addr", s.addr)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			slog.Warn("accept error", "err", err)
			continue
		}

		remoteIP := hostOf(conn.RemoteAddr())
		if !s.dir.CanConnect(remoteIP) {
			slog.Warn("connection refused: admission limit", "remote_ip", remoteIP)
			_ = conn.Close()
			continue
		}
		s.dir.TrackIPConnect(remoteIP)

		go func() {
			defer s.dir.TrackIPDisconnect(remoteIP)
			h := handler.New(conn, handler.Config{
				Directory:    s.dir,
				Verifier:     s.verifier,
				MessageTTL:   s.messageTTL,
				HandshakeBuf: handshakeBufSize,
				CommandBuf:   commandBufSize,
				ReadTimeout:  readTimeout,
			})
			h.Serve()
		}()
	}
}

func hostOf(addr net.Addr) string {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
