package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/gosuda/portal-chat/chat-client/credential"
	"github.com/gosuda/portal-chat/chat-client/history"
	"github.com/gosuda/portal-chat/chat-client/session"
	"github.com/gosuda/portal-chat/chat-client/transport"
)

var rootCmd = &cobra.Command{
	Use:   "chat-client",
	Short: "Join a portal chat room from the terminal",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if envErr != nil {
			return envErr
		}
		return setupLogging(cfg.LogLevel, cfg.LogPretty)
	},
	RunE: runClient,
}

var saveTokenCmd = &cobra.Command{
	Use:   "save-token",
	Short: "Store --token and --username in the token file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Token == "" || cfg.Username == "" {
			return errors.New("--token and --username are required")
		}
		path := cfg.TokenFile
		if path == "" {
			path = defaultTokenFile()
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return err
		}
		if err := credential.WriteFile(path, credential.Credential{Token: cfg.Token, Username: cfg.Username}); err != nil {
			return fmt.Errorf("write token file: %w", err)
		}
		log.Info().Str("path", path).Msg("[chat] token saved")
		return nil
	},
}

var (
	cfg    config
	envErr error
)

func init() {
	envErr = parseEnv(&cfg)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfg.ServerURL, "server-url", cfg.ServerURL, "chat server base URL (http or https)")
	flags.StringVar(&cfg.Room, "room", cfg.Room, "room to join")
	flags.StringVar(&cfg.Token, "token", cfg.Token, "access token (overrides the token file)")
	flags.StringVar(&cfg.Username, "username", cfg.Username, "username the token belongs to")
	flags.StringVar(&cfg.TokenFile, "token-file", cfg.TokenFile, "JSON token file written by save-token")
	flags.IntVar(&cfg.ReconnectMax, "reconnect-max", cfg.ReconnectMax, "automatic reconnect attempts (0 disables)")
	flags.DurationVar(&cfg.ReconnectInitial, "reconnect-initial", cfg.ReconnectInitial, "first reconnect delay")
	flags.DurationVar(&cfg.ReconnectMaxInterval, "reconnect-max-interval", cfg.ReconnectMaxInterval, "upper bound for reconnect delays")
	flags.DurationVar(&cfg.HistoryTimeout, "history-timeout", cfg.HistoryTimeout, "history request timeout")
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	flags.BoolVar(&cfg.LogPretty, "log-pretty", cfg.LogPretty, "human-readable console logs")

	rootCmd.AddCommand(saveTokenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("execute chat-client command")
	}
}

func runClient(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := session.New(session.Config{
		Credentials: cfg.provider(),
		History:     &history.Client{BaseURL: cfg.ServerURL, Timeout: cfg.HistoryTimeout, Logger: &log.Logger},
		Transport:   &transport.WebSocket{BaseURL: cfg.ServerURL, Logger: &log.Logger},
		Reconnect:   cfg.reconnectPolicy(),
		Logger:      &log.Logger,
	})
	defer c.Close()

	out := cmd.OutOrStdout()
	r := newRenderer(out)
	updates, cancel := c.Subscribe()
	defer cancel()
	go func() {
		for {
			select {
			case <-updates:
				r.render(c.Snapshot())
			case <-ctx.Done():
				return
			}
		}
	}()

	if err := c.Enter(ctx, cfg.Room); err != nil {
		return fmt.Errorf("enter %s: %w", cfg.Room, err)
	}

	lines := make(chan string)
	go readLines(cmd.InOrStdin(), lines)
	for {
		select {
		case <-ctx.Done():
			return c.Exit(context.Background())
		case line, ok := <-lines:
			if !ok {
				return c.Exit(context.Background())
			}
			if quit := handleLine(ctx, c, out, line); quit {
				return c.Exit(context.Background())
			}
		}
	}
}

func readLines(in io.Reader, lines chan<- string) {
	defer close(lines)
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		lines <- sc.Text()
	}
}

// handleLine runs one line of user input and reports whether to quit.
func handleLine(ctx context.Context, c *session.Controller, out io.Writer, line string) bool {
	switch cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " "); cmd {
	case "":
		return false
	case "/quit", "/exit":
		return true
	case "/join":
		if err := c.Enter(ctx, arg); err != nil {
			fmt.Fprintf(out, "-- cannot join %q: %v\n", arg, err)
		}
		return false
	case "/leave":
		_ = c.Exit(ctx)
		return false
	case "/who":
		s := c.Snapshot()
		fmt.Fprintf(out, "-- online (%d): %v\n", len(s.Online), s.Online)
		return false
	}
	if err := c.Send(ctx, line); err != nil {
		switch {
		case errors.Is(err, session.ErrEmptyMessage):
		case errors.Is(err, session.ErrNotConnected):
			fmt.Fprintf(out, "-- %s\n", c.State().Placeholder())
		default:
			fmt.Fprintf(out, "-- send failed: %v\n", err)
		}
	}
	return false
}
