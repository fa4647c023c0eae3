package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix           = "QUORUM"
	defaultHTTPAddress  = "0.0.0.0:8080"
	defaultDatabasePath = "quorum.db"
	defaultLogLevel     = "info"
	defaultTokenTTL     = 12 * time.Hour

	defaultQuestionLimit  = 10
	defaultVoteLimit      = 60
	defaultFeedbackLimit  = 30
	defaultHostLimit      = 120
	defaultRateWindowSecs = 60
)

// RatePolicy describes a single sliding-window quota applied per caller.
type RatePolicy struct {
	Limit  int
	Window time.Duration
}

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress   string
	DatabasePath  string
	LogLevel      string
	SigningSecret string
	HostTokenTTL  time.Duration
	QuestionRate  RatePolicy
	VoteRate      RatePolicy
	FeedbackRate  RatePolicy
	HostRate      RatePolicy
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
	configViper.SetDefault("auth.token_ttl_minutes", int(defaultTokenTTL.Minutes()))
	configViper.SetDefault("rate.window_seconds", defaultRateWindowSecs)
	configViper.SetDefault("rate.question_limit", defaultQuestionLimit)
	configViper.SetDefault("rate.vote_limit", defaultVoteLimit)
	configViper.SetDefault("rate.feedback_limit", defaultFeedbackLimit)
	configViper.SetDefault("rate.host_limit", defaultHostLimit)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	window := time.Duration(configViper.GetInt("rate.window_seconds")) * time.Second
	cfg := AppConfig{
		HTTPAddress:   configViper.GetString("http.address"),
		DatabasePath:  configViper.GetString("database.path"),
		LogLevel:      configViper.GetString("log.level"),
		SigningSecret: configViper.GetString("auth.signing_secret"),
		HostTokenTTL:  time.Duration(configViper.GetInt("auth.token_ttl_minutes")) * time.Minute,
		QuestionRate:  RatePolicy{Limit: configViper.GetInt("rate.question_limit"), Window: window},
		VoteRate:      RatePolicy{Limit: configViper.GetInt("rate.vote_limit"), Window: window},
		FeedbackRate:  RatePolicy{Limit: configViper.GetInt("rate.feedback_limit"), Window: window},
		HostRate:      RatePolicy{Limit: configViper.GetInt("rate.host_limit"), Window: window},
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
	if c.QuestionRate.Limit <= 0 || c.VoteRate.Limit <= 0 || c.FeedbackRate.Limit <= 0 || c.HostRate.Limit <= 0 {
		return fmt.Errorf("rate limits must be positive")
	}
	if c.QuestionRate.Window <= 0 {
		return fmt.Errorf("rate.window_seconds must be positive")
	}
	return nil
}
