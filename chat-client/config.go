package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/portal-chat/chat-client/credential"
	"github.com/gosuda/portal-chat/chat-client/session"
)

type config struct {
	ServerURL            string        `env:"CHAT_SERVER_URL" envDefault:"http://localhost:8000"`
	Room                 string        `env:"CHAT_ROOM" envDefault:"general"`
	Token                string        `env:"CHAT_TOKEN"`
	Username             string        `env:"CHAT_USERNAME"`
	TokenFile            string        `env:"CHAT_TOKEN_FILE"`
	ReconnectMax         int           `env:"CHAT_RECONNECT_MAX" envDefault:"5"`
	ReconnectInitial     time.Duration `env:"CHAT_RECONNECT_INITIAL" envDefault:"500ms"`
	ReconnectMaxInterval time.Duration `env:"CHAT_RECONNECT_MAX_INTERVAL" envDefault:"15s"`
	HistoryTimeout       time.Duration `env:"CHAT_HISTORY_TIMEOUT" envDefault:"10s"`
	LogLevel             string        `env:"CHAT_LOG_LEVEL" envDefault:"warn"`
	LogPretty            bool          `env:"CHAT_LOG_PRETTY"`
}

// parseEnv loads configuration from environment variables.
func parseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

func defaultTokenFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "portal-chat-token.json"
	}
	return filepath.Join(dir, "portal-chat", "token.json")
}

// provider picks an explicit token when one is given and falls back to the
// token file otherwise.
func (c config) provider() credential.Provider {
	if c.Token != "" {
		return credential.NewStatic(c.Token, c.Username)
	}
	path := c.TokenFile
	if path == "" {
		path = defaultTokenFile()
	}
	return credential.File{Path: path}
}

func (c config) reconnectPolicy() session.ReconnectPolicy {
	p := session.DefaultReconnectPolicy()
	p.MaxAttempts = c.ReconnectMax
	p.InitialInterval = c.ReconnectInitial
	p.MaxInterval = c.ReconnectMaxInterval
	return p
}

func setupLogging(level string, pretty bool) error {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("log level %q: %w", level, err)
	}
	zerolog.SetGlobalLevel(lvl)
	if pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
	return nil
}
