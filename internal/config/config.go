// Package config содержит логику чтения конфигурации сервиса краудфандинга.
package config

import (
	"flag"
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации сервиса краудфандинга.
type Config struct {
	RunAddress       string `env:"RUN_ADDRESS"`
	DatabaseURI      string `env:"DATABASE_URI"`
	PinningAddress   string `env:"PINNING_ADDRESS"`
	AdminAddress     string `env:"ADMIN_ADDRESS"`
	AuthSecret       string `env:"AUTH_SECRET"`
	AllowOverfunding bool   `env:"ALLOW_OVERFUNDING"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Значения из окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	envCfg := &Config{}
	if err := env.Parse(envCfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg := &Config{}
	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.PinningAddress, "p", "", "metadata pinning gateway address")
	flag.StringVar(&cfg.AdminAddress, "m", "", "wallet address with moderation capability")
	flag.StringVar(&cfg.AuthSecret, "s", "", "secret key for identity tokens")
	flag.BoolVar(&cfg.AllowOverfunding, "o", false, "accept donations after the goal is met")

	flag.Parse()

	if envCfg.RunAddress != "" {
		cfg.RunAddress = envCfg.RunAddress
	}
	if envCfg.DatabaseURI != "" {
		cfg.DatabaseURI = envCfg.DatabaseURI
	}
	if envCfg.PinningAddress != "" {
		cfg.PinningAddress = envCfg.PinningAddress
	}
	if envCfg.AdminAddress != "" {
		cfg.AdminAddress = envCfg.AdminAddress
	}
	if envCfg.AuthSecret != "" {
		cfg.AuthSecret = envCfg.AuthSecret
	}
	// Для булевого флага важно различать «не задано» и «задано false»,
	// иначе окружение не может отменить флаг -o.
	if _, ok := os.LookupEnv("ALLOW_OVERFUNDING"); ok {
		cfg.AllowOverfunding = envCfg.AllowOverfunding
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	return cfg, nil
}
