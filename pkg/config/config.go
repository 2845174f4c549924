// Package config provides the loader for DVM configuration files and
// environment variables. Values come from an optional YAML file, `.env`
// files via godotenv, and the process environment, in ascending precedence.
package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/cockroachdb/apd/v3"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/denaro-coin/dvm/pkg/utils"
)

// DefaultVMAddress is the well-known receiver that marks ledger outputs as
// VM-bound.
const DefaultVMAddress = "DsmArTjpJNuEBuHB2x4f14cDifdduTtu2CR1BMs1P5RcF"

// Config is the unified configuration of the engine daemon and servers.
type Config struct {
	// VMAddress marks ledger outputs as VM-bound.
	VMAddress string
	// MethodTimeout is the per-call wall-clock budget.
	MethodTimeout time.Duration
	// Smallest is the ledger's minimum monetary unit.
	Smallest *apd.Decimal
	// Bind is the listen address of the read-only query server.
	Bind string
	// LogLevel is a logrus level name.
	LogLevel string

	Database struct {
		User     string
		Password string
		Name     string
		Host     string
		Port     int
	}
}

// Load reads `.env` files, an optional `dvm.yaml`, and the environment, and
// returns the merged configuration.
func Load() (*Config, error) {
	_ = godotenv.Load()
	_ = godotenv.Load("../.env")

	viper.SetConfigName("dvm")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("config")
	_ = viper.ReadInConfig()
	viper.AutomaticEnv()

	cfg := &Config{}
	cfg.VMAddress = stringOr("DVM_ADDRESS", DefaultVMAddress)
	cfg.Bind = stringOr("DVM_BIND", ":8082")
	cfg.LogLevel = stringOr("LOG_LEVEL", "info")
	cfg.MethodTimeout = utils.EnvOrDefaultDuration("CONTRACT_METHOD_TIMEOUT", 10*time.Millisecond)

	smallestText := stringOr("DVM_SMALLEST", "0.000001")
	smallest, _, err := new(apd.Decimal).SetString(smallestText)
	if err != nil {
		return nil, utils.Wrap(err, "parse DVM_SMALLEST")
	}
	if smallest.Sign() <= 0 {
		return nil, fmt.Errorf("DVM_SMALLEST must be positive, got %s", smallestText)
	}
	cfg.Smallest = smallest

	cfg.Database.User = stringOr("DVM_DATABASE_USER", "dvm")
	cfg.Database.Password = stringOr("DVM_DATABASE_PASSWORD", "")
	cfg.Database.Name = stringOr("DVM_DATABASE_NAME", "dvm")
	cfg.Database.Host = stringOr("DVM_DATABASE_HOST", "localhost")
	cfg.Database.Port = utils.EnvOrDefaultInt("DVM_DATABASE_PORT", 5432)
	return cfg, nil
}

// DSN assembles the PostgreSQL connection string for the state store and
// the ledger database.
func (c *Config) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", c.Database.Host, c.Database.Port),
		Path:   c.Database.Name,
	}
	if c.Database.Password != "" {
		u.User = url.UserPassword(c.Database.User, c.Database.Password)
	} else {
		u.User = url.User(c.Database.User)
	}
	return u.String()
}

// stringOr consults viper first so YAML keys and environment variables are
// interchangeable, then falls back to the plain environment and the default.
func stringOr(key, fallback string) string {
	if v := viper.GetString(key); v != "" {
		return v
	}
	return utils.EnvOrDefault(key, fallback)
}
