package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

// PollSettings is the interval table consumed by the client poller. It is
// split out of Config so watch tooling can parse it without the server's
// database and redis settings.
type PollSettings struct {
	PollNoPinMillis  int `env:"POLL_NO_PIN_MS" envDefault:"2000"`
	PollActiveMillis int `env:"POLL_ACTIVE_MS" envDefault:"3000"`
}

func (p *PollSettings) PollNoPinInterval() time.Duration {
	return time.Duration(p.PollNoPinMillis) * time.Millisecond
}

func (p *PollSettings) PollActiveInterval() time.Duration {
	return time.Duration(p.PollActiveMillis) * time.Millisecond
}

type Config struct {
	Port                 int    `env:"PORT" envDefault:"8080"`
	DatabaseURL          string `env:"DATABASE_URL,required"`
	RedisURL             string `env:"REDIS_URL,required"`
	PinTTLHours          int    `env:"PIN_TTL_HOURS" envDefault:"24"`
	VerifyAttemptsPerMin int    `env:"VERIFY_ATTEMPTS_PER_MIN" envDefault:"10"`
	LogLevel             string `env:"LOG_LEVEL" envDefault:"info"`
	PollSettings
}

// PinTTL returns the lifetime of a generated PIN.
func (c *Config) PinTTL() time.Duration {
	return time.Duration(c.PinTTLHours) * time.Hour
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) Validate(isProduction bool) error {
	if c.PinTTLHours <= 0 {
		return fmt.Errorf("PIN_TTL_HOURS must be positive")
	}
	if c.PollNoPinMillis <= 0 || c.PollActiveMillis <= 0 {
		return fmt.Errorf("poll intervals must be positive")
	}

	if isProduction {
		if strings.HasPrefix(c.RedisURL, "redis://") {
			log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
		}
	}

	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

func LoadPollSettings() (*PollSettings, error) {
	var settings PollSettings
	if err := env.Parse(&settings); err != nil {
		return nil, fmt.Errorf("failed to parse poll settings: %w", err)
	}
	return &settings, nil
}
