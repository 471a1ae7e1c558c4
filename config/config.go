package config

import (
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"
)

// Config holds all application configuration
type Config struct {
	// Discord configuration
	DiscordToken string

	// Database configuration
	DatabaseURL string

	// Invite tracking tunables
	DeletedInviteMatchWindow time.Duration // window to match deleted invites to member joins
	DeletedInviteRetention   time.Duration // how long deleted invites stay in the bridge buffer
	ResetConfirmTimeout      time.Duration // how long a /reset confirmation prompt stays live

	// Logging
	LogFile string // optional file the audit log is appended to

	// Environment
	Environment string // "development", "production" or "test"
}

var (
	instance *Config
	once     sync.Once
)

// Get returns the global configuration instance
func Get() *Config {
	once.Do(func() {
		var err error
		instance, err = load()
		if err != nil {
			panic(fmt.Sprintf("failed to load config: %v", err))
		}
	})
	return instance
}

// load loads configuration from environment variables
func load() (*Config, error) {
	config := &Config{
		DiscordToken: os.Getenv("DISCORD_TOKEN"),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		LogFile:      os.Getenv("LOG_FILE"),
		Environment:  os.Getenv("ENVIRONMENT"),

		// Defaults tuned for the gateway's delete/join event race
		DeletedInviteMatchWindow: 5 * time.Second,
		DeletedInviteRetention:   30 * time.Second,
		ResetConfirmTimeout:      30 * time.Second,
	}

	if window := os.Getenv("DELETED_INVITE_MATCH_WINDOW_SECONDS"); window != "" {
		if parsed, err := strconv.Atoi(window); err == nil && parsed > 0 {
			config.DeletedInviteMatchWindow = time.Duration(parsed) * time.Second
		}
	}
	if retention := os.Getenv("DELETED_INVITE_RETENTION_SECONDS"); retention != "" {
		if parsed, err := strconv.Atoi(retention); err == nil && parsed > 0 {
			config.DeletedInviteRetention = time.Duration(parsed) * time.Second
		}
	}

	if config.Environment == "" {
		config.Environment = "development"
	}

	if config.Environment != "test" {
		// Validate required configuration
		if config.DiscordToken == "" {
			return nil, fmt.Errorf("DISCORD_TOKEN is required")
		}
		if config.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required")
		}
	}

	return config, nil
}
