// Package config содержит логику чтения конфигурации клиента Farmart.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации клиента Farmart.
type Config struct {
	APIBaseURL      string        `env:"FARMART_API_ADDRESS"`
	CredentialsPath string        `env:"FARMART_CREDENTIALS_PATH"`
	PhonePrefix     string        `env:"FARMART_PHONE_PREFIX"`
	PollInterval    time.Duration `env:"FARMART_POLL_INTERVAL"`
	RedirectDelay   time.Duration `env:"FARMART_REDIRECT_DELAY"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envAPIBaseURL := cfg.APIBaseURL
	envCredentialsPath := cfg.CredentialsPath
	envPhonePrefix := cfg.PhonePrefix
	envPollInterval := cfg.PollInterval
	envRedirectDelay := cfg.RedirectDelay

	flag.StringVar(&cfg.APIBaseURL, "a", "http://localhost:8000/api", "marketplace backend base URL")
	flag.StringVar(&cfg.CredentialsPath, "c", "", "path to persisted credentials file")
	flag.StringVar(&cfg.PhonePrefix, "p", "254", "required mobile money phone prefix")
	flag.DurationVar(&cfg.PollInterval, "i", 3*time.Second, "order status poll interval")
	flag.DurationVar(&cfg.RedirectDelay, "r", 6*time.Second, "delay before post-payment redirect")

	flag.Parse()

	if envAPIBaseURL != "" {
		cfg.APIBaseURL = envAPIBaseURL
	}
	if envCredentialsPath != "" {
		cfg.CredentialsPath = envCredentialsPath
	}
	if envPhonePrefix != "" {
		cfg.PhonePrefix = envPhonePrefix
	}
	if envPollInterval != 0 {
		cfg.PollInterval = envPollInterval
	}
	if envRedirectDelay != 0 {
		cfg.RedirectDelay = envRedirectDelay
	}

	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = "http://localhost:8000/api"
	}
	if cfg.PhonePrefix == "" {
		cfg.PhonePrefix = "254"
	}

	return cfg, nil
}
