// Package config loads server settings from the environment, with an
// optional .env file for development.
package config

import (
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is the full server configuration.
type Config struct {
	// Addr is the listen address for the websocket endpoint.
	Addr string `env:"WHISPERD_ADDR" envDefault:"0.0.0.0:5000"`
	// DBPath is the bbolt database file.
	DBPath string `env:"WHISPERD_DB" envDefault:"whisperd.db"`
	// LogLevel is a zerolog level name.
	LogLevel string `env:"WHISPERD_LOG_LEVEL" envDefault:"info"`
	// LogFormat is "console" or "json".
	LogFormat string `env:"WHISPERD_LOG_FORMAT" envDefault:"console"`
	// Origin is the accepted websocket Origin header; "*" accepts any.
	Origin string `env:"WHISPERD_ORIGIN" envDefault:"*"`
}

// Load reads .env (if present) and then the environment.
func Load() (Config, error) {
	_ = godotenv.Load()
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
