package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Version is the build version, overridable at link time with
// -ldflags "-X main.Version=...".
var Version = "dev"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "wisp",
		Short: "wisp is an ephemeral, line-protocol chat server",
	}
	root.AddCommand(newServeCmd(), newVersionCmd(), newTokenCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("wisp %s\n", Version)
		},
	}
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve [bind-addr] [message_ttl_hours] [session_timeout_hours]",
		Short: "Run the chat server",
		Args:  cobra.MaximumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			v.SetEnvPrefix("WISP")
			v.AutomaticEnv()
			// Flags are declared with hyphens; bind each one under the
			// underscore key read below (and mapped to WISP_<KEY> by
			// AutomaticEnv).
			for _, name := range []string{"addr", "message-ttl-hours", "session-timeout-hours", "secret-file", "metrics-addr", "max-connections", "per-ip-limit", "rate-limit"} {
				_ = v.BindPFlag(strings.ReplaceAll(name, "-", "_"), cmd.Flags().Lookup(name))
			}

			v.SetDefault("addr", "0.0.0.0:6667")
			v.SetDefault("message_ttl_hours", 1.0)
			v.SetDefault("session_timeout_hours", 1.0)
			v.SetDefault("metrics_addr", ":9667")
			v.SetDefault("max_connections", defaultMaxConnections)
			v.SetDefault("per_ip_limit", defaultPerIPLimit)
			v.SetDefault("rate_limit", defaultRateLimit)

			// Positional args preserve the original one-liner shape
			// (<bind-addr> [message_ttl_hours] [session_timeout_hours])
			// when flags and env vars are left at their defaults.
			addr := v.GetString("addr")
			if len(args) > 0 {
				addr = args[0]
			}
			messageTTLHours := v.GetFloat64("message_ttl_hours")
			if len(args) > 1 {
				h, err := strconv.ParseFloat(args[1], 64)
				if err != nil {
					return fmt.Errorf("invalid message_ttl_hours: %w", err)
				}
				messageTTLHours = h
			}
			sessionTimeoutHours := v.GetFloat64("session_timeout_hours")
			if len(args) > 2 {
				h, err := strconv.ParseFloat(args[2], 64)
				if err != nil {
					return fmt.Errorf("invalid session_timeout_hours: %w", err)
				}
				sessionTimeoutHours = h
			}

			secret, err := loadSecret(v.GetString("secret_file"))
			if err != nil {
				return err
			}

			return runServe(serveOptions{
				addr:                addr,
				messageTTLHours:     messageTTLHours,
				sessionTimeoutHours: sessionTimeoutHours,
				metricsAddr:         v.GetString("metrics_addr"),
				secret:              secret,
				maxConnections:      v.GetInt("max_connections"),
				perIPLimit:          v.GetInt("per_ip_limit"),
				rateLimit:           v.GetInt("rate_limit"),
			})
		},
	}

	cmd.Flags().String("addr", "0.0.0.0:6667", "TCP bind address")
	cmd.Flags().Float64("message-ttl-hours", 1.0, "message TTL in hours (0 = never expire)")
	cmd.Flags().Float64("session-timeout-hours", 1.0, "session inactivity timeout in hours (0 = never expire)")
	cmd.Flags().String("secret-file", "", "path to a file containing the HS256 signing secret")
	cmd.Flags().String("metrics-addr", ":9667", "address for the /metrics HTTP endpoint")
	cmd.Flags().Int("max-connections", defaultMaxConnections, "maximum total connections (0 = unlimited)")
	cmd.Flags().Int("per-ip-limit", defaultPerIPLimit, "maximum connections per IP (0 = unlimited)")
	cmd.Flags().Int("rate-limit", defaultRateLimit, "maximum commands/second per session (0 = unlimited)")

	return cmd
}

func newTokenCmd() *cobra.Command {
	token := &cobra.Command{
		Use:   "token",
		Short: "Developer helpers for minting test tokens (not the production issuer)",
	}
	token.AddCommand(newTokenIssueCmd())
	return token
}

func newTokenIssueCmd() *cobra.Command {
	var sub, username, secretFile string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Mint a bearer token for local testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := loadSecret(secretFile)
			if err != nil {
				return err
			}
			now := time.Now()
			claims := jwt.MapClaims{
				"sub":      sub,
				"username": username,
				"iat":      now.Unix(),
				"exp":      now.Add(ttl).Unix(),
			}
			tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
			signed, err := tok.SignedString(secret)
			if err != nil {
				return err
			}
			fmt.Println(signed)
			return nil
		},
	}
	cmd.Flags().StringVar(&sub, "sub", "", "user id (required)")
	cmd.Flags().StringVar(&username, "username", "", "display name (required)")
	cmd.Flags().StringVar(&secretFile, "secret-file", "", "path to the HS256 signing secret (required)")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("sub")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("secret-file")
	return cmd
}

func loadSecret(path string) ([]byte, error) {
	if path == "" {
		if env := os.Getenv("WISP_SECRET"); env != "" {
			return []byte(env), nil
		}
		return nil, fmt.Errorf("a signing secret is required: set --secret-file or WISP_SECRET")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading secret file: %w", err)
	}
	return data, nil
}
