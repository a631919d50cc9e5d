// Package config holds all tunable knobs for the backend. Values are read
// from the environment (optionally a yaml file) via viper, with defaults
// matching the behaviour the product shipped with.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full application configuration.
type Config struct {
	Port string `mapstructure:"port"`
	Env  string `mapstructure:"env"`

	DatabaseDSN   string `mapstructure:"database_dsn"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`

	JWTSecret   string `mapstructure:"jwt_secret"`
	AdminSecret string `mapstructure:"admin_secret"`

	TelegramBotToken    string `mapstructure:"telegram_bot_token"`
	TelegramAdminChatID int64  `mapstructure:"telegram_admin_chat_id"`

	// Session timing.
	WaitingTimeout     time.Duration `mapstructure:"waiting_timeout"`
	HeartbeatInterval  time.Duration `mapstructure:"heartbeat_interval"`
	TypingDebounce     time.Duration `mapstructure:"typing_debounce"`
	ReloadGraceWindow  time.Duration `mapstructure:"reload_grace_window"`
	HiddenCleanupDelay time.Duration `mapstructure:"hidden_cleanup_delay"`
	StaleSessionWindow time.Duration `mapstructure:"stale_session_window"`

	// Matchmaking.
	CandidateLimit    int           `mapstructure:"candidate_limit"`
	MatchMaxAttempts  int           `mapstructure:"match_max_attempts"`
	MatchRetryBackoff time.Duration `mapstructure:"match_retry_backoff"`

	// Room protocol.
	HistoryWindow int `mapstructure:"history_window"`
	MaxMessageLen int `mapstructure:"max_message_len"`

	// Announcements.
	AnnouncementPrice    int           `mapstructure:"announcement_price"`
	AnnouncementDuration time.Duration `mapstructure:"announcement_duration"`
	AnnouncementMaxLen   int           `mapstructure:"announcement_max_len"`
}

// Load reads configuration from the environment and, if present, a
// config.yaml in the working directory. Missing values fall back to the
// defaults below.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("port", "8080")
	v.SetDefault("env", "development")
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("redis_db", 0)

	v.SetDefault("waiting_timeout", 3*time.Minute)
	v.SetDefault("heartbeat_interval", 15*time.Second)
	v.SetDefault("typing_debounce", 2*time.Second)
	v.SetDefault("reload_grace_window", 3*time.Second)
	v.SetDefault("hidden_cleanup_delay", 10*time.Minute)
	v.SetDefault("stale_session_window", 30*time.Minute)

	v.SetDefault("candidate_limit", 10)
	v.SetDefault("match_max_attempts", 3)
	v.SetDefault("match_retry_backoff", 500*time.Millisecond)

	v.SetDefault("history_window", 100)
	v.SetDefault("max_message_len", 2000)

	v.SetDefault("announcement_price", 15)
	v.SetDefault("announcement_duration", 10*time.Minute)
	v.SetDefault("announcement_max_len", 200)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	if cfg.Env == "production" {
		if cfg.DatabaseDSN == "" {
			return nil, fmt.Errorf("database_dsn is required in production")
		}
		if cfg.JWTSecret == "" {
			return nil, fmt.Errorf("jwt_secret is required in production")
		}
		if cfg.AdminSecret == "" {
			return nil, fmt.Errorf("admin_secret is required in production")
		}
	}

	return &cfg, nil
}

// Default returns a Config populated with the built-in defaults only. Tests
// use it and shrink the timing knobs.
func Default() *Config {
	return &Config{
		Port:                 "8080",
		Env:                  "development",
		RedisAddr:            "localhost:6379",
		WaitingTimeout:       3 * time.Minute,
		HeartbeatInterval:    15 * time.Second,
		TypingDebounce:       2 * time.Second,
		ReloadGraceWindow:    3 * time.Second,
		HiddenCleanupDelay:   10 * time.Minute,
		StaleSessionWindow:   30 * time.Minute,
		CandidateLimit:       10,
		MatchMaxAttempts:     3,
		MatchRetryBackoff:    500 * time.Millisecond,
		HistoryWindow:        100,
		MaxMessageLen:        2000,
		AnnouncementPrice:    15,
		AnnouncementDuration: 10 * time.Minute,
		AnnouncementMaxLen:   200,
	}
}
