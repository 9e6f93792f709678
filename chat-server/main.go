package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"gosuda.org/portal/portal/core/cryptoops"
	"gosuda.org/portal/sdk"

	"github.com/gosuda/portal-chat/chat-server/room"
)

var rootCmd = &cobra.Command{
	Use:   "chat-server",
	Short: "Portal chat room server (history API + websocket rooms)",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if envErr != nil {
			return envErr
		}
		return setupLogging(cfg.LogLevel, cfg.LogPretty)
	},
	RunE: runServer,
}

var issueTokenCmd = &cobra.Command{
	Use:   "issue-token",
	Short: "Print a signed access token for local testing",
	RunE:  runIssueToken,
}

var (
	cfg    config
	envErr error

	flagUsername string
	flagUserID   string
)

func init() {
	envErr = parseEnv(&cfg)

	flags := rootCmd.PersistentFlags()
	flags.StringSliceVar(&cfg.Relays, "server-url", cfg.Relays, "relayserver base URL(s); repeat or comma-separated (from env RELAY if set)")
	flags.IntVar(&cfg.Port, "port", cfg.Port, "local HTTP port (negative to disable)")
	flags.StringVar(&cfg.Name, "name", cfg.Name, "backend display name")
	flags.StringVar(&cfg.DataPath, "data-path", cfg.DataPath, "optional directory to persist chat history via PebbleDB")
	flags.StringVar(&cfg.CredKey, "cred-key", cfg.CredKey, "optional credential key to use for the listener (base64 encoded)")
	flags.StringVar(&cfg.JWTSecret, "jwt-secret", cfg.JWTSecret, "HS256 secret for access tokens")
	flags.DurationVar(&cfg.TokenTTL, "token-ttl", cfg.TokenTTL, "access token lifetime")
	flags.IntVar(&cfg.HistoryLimit, "history-limit", cfg.HistoryLimit, "messages returned by the history endpoint")
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	flags.BoolVar(&cfg.LogPretty, "log-pretty", cfg.LogPretty, "human-readable console logs")

	issueTokenCmd.Flags().StringVar(&flagUsername, "username", "", "username to embed in the token")
	issueTokenCmd.Flags().StringVar(&flagUserID, "user-id", "1", "user id to embed in the token")
	_ = issueTokenCmd.MarkFlagRequired("username")
	rootCmd.AddCommand(issueTokenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("execute chat-server command")
	}
}

func runIssueToken(cmd *cobra.Command, args []string) error {
	tokens := room.NewTokenIssuer(cfg.JWTSecret, cfg.TokenTTL, cfg.Name)
	tok, err := tokens.Issue(flagUserID, flagUsername)
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), tok)
	return err
}

func runServer(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store *room.MessageStore
	if cfg.DataPath != "" {
		s, err := room.OpenMessageStore(cfg.DataPath)
		if err != nil {
			log.Warn().Err(err).Msg("[chat] open store failed; running in memory only")
		} else {
			store = s
			log.Info().Str("path", cfg.DataPath).Msg("[chat] history store opened")
		}
	}
	hub := room.NewHub(store, cfg.HistoryLimit, &log.Logger)
	tokens := room.NewTokenIssuer(cfg.JWTSecret, cfg.TokenTTL, cfg.Name)
	handler := room.NewHandler(hub, tokens)

	clients, listeners, err := listenRelays(cfg.Relays, cfg.Name, cfg.CredKey)
	if err != nil {
		return err
	}
	if len(listeners) == 0 && cfg.Port < 0 {
		return fmt.Errorf("no relay servers and no local port; nothing to serve")
	}

	for i, ln := range listeners {
		idx := i
		go func() {
			if err := http.Serve(ln, handler); err != nil && err != http.ErrServerClosed && ctx.Err() == nil {
				log.Error().Err(err).Int("listener", idx).Msg("[chat] relay http error")
			}
		}()
	}

	var httpSrv *http.Server
	if cfg.Port >= 0 {
		httpSrv = &http.Server{Addr: fmt.Sprintf(":%d", cfg.Port), Handler: handler, ReadHeaderTimeout: 5 * time.Second, IdleTimeout: 60 * time.Second}
		log.Info().Msgf("[chat] serving locally at http://127.0.0.1:%d", cfg.Port)
		go func() {
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Warn().Err(err).Msg("[chat] local http stopped")
			}
		}()
	}

	<-ctx.Done()
	closeRelays(clients, listeners)
	if httpSrv != nil {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := httpSrv.Shutdown(sctx); err != nil && err != context.Canceled {
			log.Error().Err(err).Msg("[chat] http server shutdown error")
		}
		cancel()
	}
	hub.CloseAll()
	hub.Wait()
	if err := store.Close(); err != nil {
		log.Warn().Err(err).Msg("[chat] store close error")
	}
	log.Info().Msg("[chat] shutdown complete")
	return nil
}

// listenRelays opens one relay listener per URL, sharing a single credential.
func listenRelays(urls []string, name, credKey string) ([]*sdk.RDClient, []net.Listener, error) {
	cred := sdk.NewCredential()
	if credKey != "" {
		key, err := base64.StdEncoding.DecodeString(credKey)
		if err != nil {
			return nil, nil, fmt.Errorf("decode cred key: %w", err)
		}
		cred, err = cryptoops.NewCredentialFromPrivateKey(key)
		if err != nil {
			return nil, nil, fmt.Errorf("new credential from private key: %w", err)
		}
	}
	var clients []*sdk.RDClient
	var listeners []net.Listener
	for _, raw := range urls {
		for _, p := range strings.Split(raw, ",") {
			u := strings.TrimSpace(p)
			if u == "" {
				continue
			}
			client, err := sdk.NewClient(func(c *sdk.RDClientConfig) { c.BootstrapServers = []string{u} })
			if err != nil {
				log.Error().Err(err).Str("url", u).Msg("[chat] new relay client failed")
				continue
			}
			clients = append(clients, client)
			ln, err := client.Listen(cred, name, []string{"http/1.1"})
			if err != nil {
				closeRelays(clients, listeners)
				return nil, nil, fmt.Errorf("listen (%s): %w", u, err)
			}
			log.Info().Str("relay", u).Str("name", name).Msg("[chat] published via relay")
			listeners = append(listeners, ln)
		}
	}
	return clients, listeners, nil
}

// closeRelays releases listeners before the clients that own them.
func closeRelays[C io.Closer](clients []C, listeners []net.Listener) {
	for _, ln := range listeners {
		_ = ln.Close()
	}
	for _, c := range clients {
		_ = c.Close()
	}
}
