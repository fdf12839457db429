// Package config loads cmd/nostrelay-probe's configuration: a .env file
// if present, falling back to the process environment, parsed via
// caarlos0/env's generic ParseAs.
package config

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// ProbeConfig is the environment surface for cmd/nostrelay-probe.
type ProbeConfig struct {
	NostrRelays     []string `env:"NOSTR_RELAYS" envSeparator:";"`
	NostrPrivateKey string   `env:"NOSTR_PRIVATE_KEY"`
	SocksProxy      string   `env:"SOCKS_PROXY"`
}

// DefaultRelays is used when NOSTR_RELAYS is unset.
var DefaultRelays = []string{"wss://relay.damus.io", "wss://nos.lol"}

// LoadConfig loads and marshals configuration from a .env file in the
// user's home directory, falling back to one in the working directory,
// falling back to the os environment variables directly.
func LoadConfig[T any]() (*T, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		slog.Error("error loading home directory", "error", err)
	}
	if _, err := os.Stat(homeDir + "/.env"); err == nil {
		return loadFromEnv[T](homeDir + "/.env")
	} else if _, err := os.Stat(".env"); err == nil {
		return loadFromEnv[T](".env")
	}
	return loadFromEnv[T]("")
}

func loadFromEnv[T any](path string) (*T, error) {
	if err := godotenv.Load(path); err != nil {
		cfg, err := env.ParseAs[T]()
		if err != nil {
			fmt.Printf("%+v\n", err)
		}
		return &cfg, nil
	}

	cfg, err := env.ParseAs[T]()
	if err != nil {
		fmt.Printf("%+v\n", err)
	}
	return &cfg, nil
}
