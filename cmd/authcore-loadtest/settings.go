package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

const (
	backendMemory    = "memory"
	backendPostgres  = "postgres"
	backendMiniredis = "miniredis"
	backendRedis     = "redis"
)

type settings struct {
	Users       int `yaml:"users" env:"LOADTEST_USERS" env-default:"1000"`
	Concurrency int `yaml:"concurrency" env:"LOADTEST_CONCURRENCY" env-default:"64"`
	Ops         int `yaml:"ops" env:"LOADTEST_OPS" env-default:"20000"`
	// LogoutEvery revokes one seeded session in this many during the
	// logout phase.
	LogoutEvery int `yaml:"logout_every" env:"LOADTEST_LOGOUT_EVERY" env-default:"10"`

	Store       string `yaml:"store" env:"LOADTEST_STORE" env-default:"memory"`
	PostgresDSN string `yaml:"postgres_dsn" env:"LOADTEST_POSTGRES_DSN"`
	Cache       string `yaml:"cache" env:"LOADTEST_CACHE" env-default:"miniredis"`
	RedisAddr   string `yaml:"redis_addr" env:"REDIS_ADDR"`
	RedisPrefix string `yaml:"redis_prefix" env:"LOADTEST_REDIS_PREFIX" env-default:"authcore-loadtest:"`

	// SweepInterval of 0 disables the revocation sweep.
	SweepInterval time.Duration `yaml:"sweep_interval" env:"LOADTEST_SWEEP_INTERVAL" env-default:"1m"`

	PrivateKeyFile string `yaml:"private_key_file" env:"LOADTEST_PRIVATE_KEY_FILE"`
	Argon2MemoryKB uint32 `yaml:"argon2_memory_kb" env:"LOADTEST_ARGON2_MEMORY_KB" env-default:"8192"`

	LogLevel    string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	Environment string `yaml:"env" env:"LOADTEST_ENV" env-default:"local"`
}

// loadSettings reads path (YAML) when given, then environment overrides.
// Without a path only the environment and defaults apply.
func loadSettings(path string) (settings, error) {
	var s settings
	var err error
	if path != "" {
		err = cleanenv.ReadConfig(path, &s)
	} else {
		err = cleanenv.ReadEnv(&s)
	}
	if err != nil {
		return settings{}, fmt.Errorf("read settings: %w", err)
	}
	return s, nil
}

func (s settings) validate() error {
	switch {
	case s.Users <= 0, s.Concurrency <= 0, s.Ops <= 0:
		return errors.New("users, concurrency and ops must be > 0")
	case s.LogoutEvery <= 0:
		return errors.New("logout_every must be > 0")
	}
	switch s.Store {
	case backendMemory:
	case backendPostgres:
		if s.PostgresDSN == "" {
			return errors.New("postgres store requires postgres_dsn")
		}
	default:
		return fmt.Errorf("unknown store %q", s.Store)
	}
	switch s.Cache {
	case backendMemory, backendMiniredis:
	case backendRedis:
		if s.RedisAddr == "" {
			return errors.New("redis cache requires redis_addr")
		}
	default:
		return fmt.Errorf("unknown cache %q", s.Cache)
	}
	return nil
}
