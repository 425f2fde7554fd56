package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

var (
	ErrParsingConfig = errors.New("config: failed to parse environment")
	ErrEnvFile       = errors.New("config: failed to read env file")
)

// LoadEnv seeds the environment from files. With no arguments it reads
// ./.env when present and silently skips it otherwise.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}
		files = []string{".env"}
	}
	if err := godotenv.Load(files...); err != nil {
		return errors.Join(ErrEnvFile, err)
	}
	return nil
}

// Load parses the environment into a new T.
func Load[T any]() (T, error) {
	var cfg T
	if err := env.Parse(&cfg); err != nil {
		return cfg, errors.Join(ErrParsingConfig, err)
	}
	return cfg, nil
}

// MustLoad is Load that panics on failure.
func MustLoad[T any]() T {
	cfg, err := Load[T]()
	if err != nil {
		panic(fmt.Sprintf("config: %v", err))
	}
	return cfg
}

// App holds process-wide settings shared by every command.
type App struct {
	Name        string `env:"APP_NAME" envDefault:"clinicbilling"`
	Environment string `env:"APP_ENV" envDefault:"development"`
}

// IsProduction reports whether the app runs in a production-like environment.
func (a App) IsProduction() bool {
	switch a.Environment {
	case "production", "prod", "staging", "stage":
		return true
	}
	return false
}
