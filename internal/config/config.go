package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/subosito/gotenv"
)

type Config struct {
	Server  ServerConfig
	Storage StorageConfig
	Twilio  TwilioConfig
	OpenAI  OpenAIConfig
	Auth    AuthConfig
	Portal  PortalConfig
	Log     LogConfig
}

type ServerConfig struct {
	Port int
}

type StorageConfig struct {
	DataDir string
}

type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	FromNumber string
}

// Configured reports whether all Twilio credentials are present.
func (t TwilioConfig) Configured() bool {
	return t.AccountSID != "" && t.AuthToken != "" && t.FromNumber != ""
}

type OpenAIConfig struct {
	APIKey string
	Model  string
}

type AuthConfig struct {
	// APIToken protects the HTTP API (bearer auth).
	APIToken string
	// CronSecret authenticates external cron triggers.
	CronSecret string
}

type PortalConfig struct {
	// URL is the review portal address included in reminder messages.
	URL string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server:  ServerConfig{Port: 4000},
		Storage: StorageConfig{DataDir: defaultDataDir()},
		OpenAI:  OpenAIConfig{Model: "gpt-4o-mini"},
		Portal:  PortalConfig{URL: "http://localhost:4000"},
		Log:     LogConfig{Level: "info"},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".revport"
	}
	return filepath.Join(home, ".revport")
}

// Load reads configuration from an optional .env file in the working
// directory, then applies REVPORT_* environment variables over the defaults.
// Environment variables always win over .env values.
//
// Twilio and OpenAI credentials are optional at load time; features that
// need them fail with a not-configured error when invoked. The API token is
// required because every mutating endpoint sits behind it.
func Load() (Config, error) {
	_ = gotenv.Load()
	return loadFromEnv()
}

func loadFromEnv() (Config, error) {
	cfg := defaults()
	applyEnvOverrides(&cfg)

	if cfg.Auth.APIToken == "" {
		return Config{}, fmt.Errorf("missing required config: API token. Set it via environment variable REVPORT_API_TOKEN or a .env file")
	}
	return cfg, nil
}
