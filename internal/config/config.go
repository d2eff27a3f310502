package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix = "COLLABBOARD"

	defaultHTTPAddress           = "0.0.0.0:3001"
	defaultDatabasePath          = "collabboard.db"
	defaultLogLevel              = "info"
	defaultTokenTTLMinutes       = 24 * 60
	defaultPresenceWindowSeconds = 30
	defaultSessionTTLSeconds     = 60
	defaultReapIntervalSeconds   = 5 * 60
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress   string
	DatabasePath  string
	LogLevel      string
	SigningSecret string
	TokenTTL      time.Duration

	// PresenceWindow bounds which sessions count as "here now" when a
	// joiner asks for the active-user list. SessionTTL is the separate,
	// longer staleness threshold the reaper garbage-collects against.
	PresenceWindow time.Duration
	SessionTTL     time.Duration
	ReapInterval   time.Duration
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("token.ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("collab.presence_window_seconds", defaultPresenceWindowSeconds)
	configViper.SetDefault("collab.session_ttl_seconds", defaultSessionTTLSeconds)
	configViper.SetDefault("collab.reap_interval_seconds", defaultReapIntervalSeconds)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:    configViper.GetString("http.address"),
		DatabasePath:   configViper.GetString("database.path"),
		LogLevel:       configViper.GetString("log.level"),
		SigningSecret:  configViper.GetString("auth.signing_secret"),
		TokenTTL:       time.Duration(configViper.GetInt("token.ttl_minutes")) * time.Minute,
		PresenceWindow: time.Duration(configViper.GetInt("collab.presence_window_seconds")) * time.Second,
		SessionTTL:     time.Duration(configViper.GetInt("collab.session_ttl_seconds")) * time.Second,
		ReapInterval:   time.Duration(configViper.GetInt("collab.reap_interval_seconds")) * time.Second,
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("token.ttl_minutes must be positive")
	}
	if c.PresenceWindow <= 0 {
		return fmt.Errorf("collab.presence_window_seconds must be positive")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("collab.session_ttl_seconds must be positive")
	}
	if c.ReapInterval <= 0 {
		return fmt.Errorf("collab.reap_interval_seconds must be positive")
	}
	return nil
}
