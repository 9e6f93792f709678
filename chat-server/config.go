package main

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type config struct {
	Name         string        `env:"CHAT_NAME" envDefault:"portal-chat"`
	Port         int           `env:"CHAT_PORT" envDefault:"8000"`
	DataPath     string        `env:"CHAT_DATA_PATH"`
	JWTSecret    string        `env:"CHAT_JWT_SECRET" envDefault:"insecure-dev-secret"`
	TokenTTL     time.Duration `env:"CHAT_TOKEN_TTL" envDefault:"60m"`
	HistoryLimit int           `env:"CHAT_HISTORY_LIMIT" envDefault:"50"`
	Relays       []string      `env:"RELAY" envSeparator:","`
	CredKey      string        `env:"CHAT_CRED_KEY"`
	LogLevel     string        `env:"CHAT_LOG_LEVEL" envDefault:"info"`
	LogPretty    bool          `env:"CHAT_LOG_PRETTY"`
}

// parseEnv loads configuration from environment variables.
func parseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
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
