package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                 = "FEEDSYNC"
	defaultHTTPAddress        = "127.0.0.1:8080"
	defaultDatabasePath       = "feedsync.db"
	defaultLogLevel           = "info"
	defaultAccountID          = 1
	defaultPageLimit          = 20
	maxPageLimit              = 100
	defaultRequestsPerSecond  = 5.0
	defaultBurst              = 5
	defaultTimeoutSeconds     = 15
	defaultTokenTTLMinutes    = 30
	defaultFetchConcurrency   = 4
	defaultStreamEnabled      = true
	defaultStreamChannelsList = "main,homeTimeline"
)

var errMissingSigningSecret = errors.New("inspect.signing_secret is required")

// AppConfig captures runtime configuration for one synced account.
type AppConfig struct {
	InstanceURL       string
	InstanceToken     string
	AccountID         int64
	ViewerID          string
	PageLimit         int
	RequestsPerSecond float64
	Burst             int
	Timeout           time.Duration
	FetchConcurrency  int
	DatabasePath      string
	LogLevel          string
	HTTPAddress       string
	SigningSecret     string
	TokenTTL          time.Duration
	StreamEnabled     bool
	StreamChannels    []string
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

	configViper.SetDefault("account.id", defaultAccountID)
	configViper.SetDefault("feed.page_limit", defaultPageLimit)
	configViper.SetDefault("api.requests_per_second", defaultRequestsPerSecond)
	configViper.SetDefault("api.burst", defaultBurst)
	configViper.SetDefault("api.timeout_seconds", defaultTimeoutSeconds)
	configViper.SetDefault("relation.fetch_concurrency", defaultFetchConcurrency)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("inspect.token_ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("stream.enabled", defaultStreamEnabled)
	configViper.SetDefault("stream.channels", defaultStreamChannelsList)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		InstanceURL:       strings.TrimSpace(configViper.GetString("instance.url")),
		InstanceToken:     strings.TrimSpace(configViper.GetString("instance.token")),
		AccountID:         configViper.GetInt64("account.id"),
		ViewerID:          strings.TrimSpace(configViper.GetString("account.user_id")),
		PageLimit:         configViper.GetInt("feed.page_limit"),
		RequestsPerSecond: configViper.GetFloat64("api.requests_per_second"),
		Burst:             configViper.GetInt("api.burst"),
		Timeout:           time.Duration(configViper.GetInt("api.timeout_seconds")) * time.Second,
		FetchConcurrency:  configViper.GetInt("relation.fetch_concurrency"),
		DatabasePath:      strings.TrimSpace(configViper.GetString("database.path")),
		LogLevel:          configViper.GetString("log.level"),
		HTTPAddress:       strings.TrimSpace(configViper.GetString("http.address")),
		SigningSecret:     configViper.GetString("inspect.signing_secret"),
		TokenTTL:          time.Duration(configViper.GetInt("inspect.token_ttl_minutes")) * time.Minute,
		StreamEnabled:     configViper.GetBool("stream.enabled"),
		StreamChannels:    splitList(configViper.GetString("stream.channels")),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

// RequireInspection checks the settings needed to serve or mint inspection tokens.
func (c AppConfig) RequireInspection() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return errMissingSigningSecret
	}
	if c.HTTPAddress == "" {
		return fmt.Errorf("http.address is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("inspect.token_ttl_minutes must be positive")
	}
	return nil
}

func (c AppConfig) validate() error {
	if c.InstanceURL == "" {
		return fmt.Errorf("instance.url is required")
	}
	parsed, err := url.Parse(c.InstanceURL)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return fmt.Errorf("instance.url must be an http(s) url")
	}
	if c.InstanceToken == "" {
		return fmt.Errorf("instance.token is required")
	}
	if c.AccountID <= 0 {
		return fmt.Errorf("account.id must be positive")
	}
	if c.PageLimit < 1 || c.PageLimit > maxPageLimit {
		return fmt.Errorf("feed.page_limit must be between 1 and %d", maxPageLimit)
	}
	if c.RequestsPerSecond < 0 {
		return fmt.Errorf("api.requests_per_second must not be negative")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("api.timeout_seconds must be positive")
	}
	if c.FetchConcurrency < 1 {
		return fmt.Errorf("relation.fetch_concurrency must be positive")
	}
	if c.StreamEnabled && len(c.StreamChannels) == 0 {
		return fmt.Errorf("stream.channels is required when streaming is enabled")
	}
	return nil
}

func splitList(raw string) []string {
	var values []string
	for _, value := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}
