// Package config loads knoldeck settings from a YAML file, a .env file, the
// environment and command-line flags, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/conorfennell/knoldeck/internal/validation"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "KNOLDECK_"

// Config is the runtime configuration.
type Config struct {
	DB           string        `koanf:"db" validate:"required"`
	Addr         string        `koanf:"addr" validate:"required,hostname_port"`
	ReposDir     string        `koanf:"repos_dir" validate:"required"`
	SyncInterval time.Duration `koanf:"sync_interval" validate:"min=0"`
	DueLimit     int           `koanf:"due_limit" validate:"min=1,max=100"`
	LogLevel     string        `koanf:"log_level" validate:"oneof=debug info warn error"`
	LogFormat    string        `koanf:"log_format" validate:"oneof=text json"`
}

// RegisterFlags adds the configuration flags, with their defaults, to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "Path to a YAML config file")
	fs.String("env-file", ".env", "Path to a dotenv file; missing files are ignored")
	fs.String("db", "knoldeck.db", "Path to the SQLite database file")
	fs.String("addr", "localhost:8080", "Address the HTTP API listens on")
	fs.String("repos-dir", "repos", "Directory git sources are cloned into")
	fs.Duration("sync-interval", 0, "Sync all sources this often; 0 disables periodic sync")
	fs.Int("due-limit", 20, "Default number of due cards returned per request")
	fs.String("log-level", "info", "Log level: debug, info, warn or error")
	fs.String("log-format", "text", "Log format: text or json")
}

// flagKey maps a flag such as --due-limit onto its config key, due_limit.
func flagKey(fs *pflag.FlagSet) func(f *pflag.Flag) (string, interface{}) {
	return func(f *pflag.Flag) (string, interface{}) {
		return strings.ReplaceAll(f.Name, "-", "_"), posflag.FlagVal(fs, f)
	}
}

// envKey maps KNOLDECK_DUE_LIMIT onto due_limit.
func envKey(s string) string {
	return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
}

// Load reads the configuration. Flags registered with RegisterFlags must
// already be parsed. Flag defaults only apply to keys no other layer set.
func Load(fs *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if path, _ := fs.GetString("config"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if path, _ := fs.GetString("env-file"); path != "" {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	if err := k.Load(posflag.ProviderWithFlag(fs, ".", k, flagKey(fs)), nil); err != nil {
		return nil, fmt.Errorf("failed to load flags: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := validation.Struct(cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Logger builds the slog logger described by the config.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	var level slog.Level
	switch c.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
