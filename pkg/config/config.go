package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App    AppConfig
	API    APIConfig
	State  StateConfig
	Locale LocaleConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.API.validateBaseURL(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"VELOURA_APP_ENV" default:"dev"`
	LogLevel     string `envconfig:"VELOURA_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"VELOURA_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type APIConfig struct {
	BaseURL     string        `envconfig:"VELOURA_API_BASE_URL" required:"true"`
	Timeout     time.Duration `envconfig:"VELOURA_API_TIMEOUT" default:"15s"`
	ChatTimeout time.Duration `envconfig:"VELOURA_CHAT_TIMEOUT" default:"30s"`
	UserAgent   string        `envconfig:"VELOURA_API_USER_AGENT" default:"veloura-storefront-go"`
}

type StateConfig struct {
	Path        string `envconfig:"VELOURA_STATE_PATH" default:"veloura-state.db"`
	AutoMigrate bool   `envconfig:"VELOURA_STATE_AUTO_MIGRATE" default:"true"`
}

type LocaleConfig struct {
	Tag      string `envconfig:"VELOURA_LOCALE" default:"vi-VN"`
	Currency string `envconfig:"VELOURA_CURRENCY" default:"VND"`
}

func (a *APIConfig) validateBaseURL() error {
	u, err := url.Parse(a.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", EnvAPIBaseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must be an http(s) URL, got %q", EnvAPIBaseURL, a.BaseURL)
	}
	a.BaseURL = strings.TrimRight(a.BaseURL, "/")
	return nil
}
