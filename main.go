package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"wisp/internal/directory"
	"wisp/internal/token"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type serveOptions struct {
	addr                string
	messageTTLHours     float64
	sessionTimeoutHours float64
	metricsAddr         string
	secret              []byte
	maxConnections      int
	perIPLimit          int
	rateLimit           int
}

func runServe(opts serveOptions) error {
	dir := directory.New(directory.Config{
		MessageTTL:     hoursToDuration(opts.messageTTLHours),
		SessionTimeout: hoursToDuration(opts.sessionTimeoutHours),
		MaxConnections: opts.maxConnections,
		PerIPLimit:     opts.perIPLimit,
		RateLimit:      opts.rateLimit,
	})
	verifier := token.NewVerifier(opts.secret)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		slog.Info("shutting down")
		cancel()
	}()

	go RunJanitor(ctx, dir, janitorInterval)

	go func() {
		if err := RunMetrics(ctx, dir, opts.metricsAddr); err != nil {
			slog.Error("metrics server failed", "err", err)
		}
	}()

	srv := NewServer(opts.addr, dir, verifier, hoursToDuration(opts.messageTTLHours))
	return srv.Run(ctx)
}

// hoursToDuration converts an hour count to a Duration, preserving the
// documented "0 = never expire" convention (spec §9/§10 Open Question
// decision) by passing 0 straight through rather than rounding to some
// minimum duration.
func hoursToDuration(hours float64) time.Duration {
	if hours <= 0 {
		return 0
	}
	return time.Duration(hours * float64(time.Hour))
}
