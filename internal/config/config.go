package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config carries the service configuration, loaded from the environment with
// an optional .env file for local development.
type Config struct {
	Addr    string `env:"RHOMBUS_ADDR" envDefault:":8080"`
	Version string `env:"RHOMBUS_VERSION" envDefault:"dev"`
	Commit  string `env:"RHOMBUS_COMMIT" envDefault:"unknown"`

	PostgresDSN string `env:"RHOMBUS_PG_DSN"`

	PolicyBaseURL  string        `env:"RHOMBUS_POLICY_URL" envDefault:"http://localhost:9090"`
	PolicyTimeout  time.Duration `env:"RHOMBUS_POLICY_TIMEOUT" envDefault:"5s"`
	PolicyAttempts int           `env:"RHOMBUS_POLICY_ATTEMPTS" envDefault:"3"`

	RateBurst     int   `env:"RHOMBUS_RATE_BURST" envDefault:"50"`
	RatePerSecond int   `env:"RHOMBUS_RATE_PER_SEC" envDefault:"25"`
	MaxBodyBytes  int64 `env:"RHOMBUS_MAX_BODY_BYTES" envDefault:"1048576"`
}

// Load reads the .env file if present, then parses environment variables.
func Load() (Config, error) {
	// The .env file is optional; a missing file is not an error.
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
