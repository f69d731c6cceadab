// Package config loads runtime settings from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Mode selects which inbound-message handler is active.
const (
	ModeAppointment = "appointment"
	ModeResponses   = "responses"
)

// Config holds the application configuration.
type Config struct {
	DataDir        string        `env:"DATA_DIR" envDefault:"data"`
	HTTPAddr       string        `env:"HTTP_ADDR" envDefault:":5000"`
	BotMode        string        `env:"BOT_MODE" envDefault:"appointment"`
	SendDelay      time.Duration `env:"SEND_DELAY" envDefault:"2s"`
	DebounceWindow time.Duration `env:"DEBOUNCE_WINDOW" envDefault:"3s"`
	CampaignTokens bool          `env:"CAMPAIGN_TOKENS" envDefault:"false"`
	ResetSchedule  string        `env:"RESET_SCHEDULE" envDefault:"0 0 * * *"`
}

// Load parses the configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.BotMode != ModeAppointment && cfg.BotMode != ModeResponses {
		return nil, fmt.Errorf("unknown BOT_MODE %q", cfg.BotMode)
	}
	return cfg, nil
}
