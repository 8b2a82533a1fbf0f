package main

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"wisp/internal/directory"
	"wisp/internal/token"
)

func TestServerAcceptsAndAuthenticates(t *testing.T) {
	dir := directory.New(directory.Config{})
	verifier := token.NewVerifier([]byte("server-test-secret-value-123456"))
	srv := NewServer("127.0.0.1:0", dir, verifier, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()
	srv.addr = addr

	go srv.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	claims := &token.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Sub:      "u1",
		Username: "alice",
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, _ := tok.SignedString([]byte("server-test-secret-value-123456"))
	conn.Write([]byte(signed + "\r\n"))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	r := bufio.NewReader(conn)

	welcome, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read welcome: %v", err)
	}
	if !strings.Contains(welcome, "001") {
		t.Fatalf("expected 001 welcome numeric, got %q", welcome)
	}

	notice, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read notice: %v", err)
	}
	if !strings.Contains(notice, "60 minutes") {
		t.Fatalf("expected TTL NOTICE naming the configured 60 minutes, got %q", notice)
	}
}
