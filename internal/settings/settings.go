// Package settings carries the runtime knobs that live outside the project
// config file: worker count, timeouts, paths. They come from ELFMAGIC_*
// environment variables, optionally seeded from a .env file, and CLI flags
// override them afterwards.
package settings

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Settings holds the runtime configuration.
type Settings struct {
	Workers      int           `env:"WORKERS" envDefault:"4"`
	BuildTimeout time.Duration `env:"BUILD_TIMEOUT" envDefault:"0"`
	CachePath    string        `env:"CACHE_PATH" envDefault:".elfmagic/cache.json"`
	OutDir       string        `env:"OUT_DIR" envDefault:"elves"`
	LogLevel     string        `env:"LOG_LEVEL" envDefault:"info"`
	ReportFile   string        `env:"REPORT_FILE"`
}

// Load reads a .env file when present and parses the ELFMAGIC_ environment.
func Load() (Settings, error) {
	_ = godotenv.Load()

	var s Settings
	if err := env.ParseWithOptions(&s, env.Options{Prefix: "ELFMAGIC_"}); err != nil {
		return Settings{}, fmt.Errorf("parse environment: %w", err)
	}
	if s.Workers < 1 {
		return Settings{}, fmt.Errorf("ELFMAGIC_WORKERS must be at least 1, got %d", s.Workers)
	}
	return s, nil
}
