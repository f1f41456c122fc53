// Package config loads labrunner settings from labrunner.yaml and
// LABRUNNER_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
}

type StorageConfig struct {
	Driver   string `mapstructure:"driver"` // sqlite, postgres
	DBPath   string `mapstructure:"db_path"`
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
}

type SandboxConfig struct {
	Backend        string        `mapstructure:"backend"` // process, docker
	Interpreter    []string      `mapstructure:"interpreter"`
	Image          string        `mapstructure:"image"`
	Images         []string      `mapstructure:"images"`
	Deadline       time.Duration `mapstructure:"deadline"`
	MaxConcurrent  int           `mapstructure:"max_concurrent"`
	MaxOutputBytes int           `mapstructure:"max_output_bytes"`
	MaxMemory      string        `mapstructure:"max_memory"`
	Network        bool          `mapstructure:"network"`
	TempDir        string        `mapstructure:"temp_dir"`
	InputMode      string        `mapstructure:"input_mode"` // stdin, substitute
}

type GuardConfig struct {
	Strategy string   `mapstructure:"strategy"` // denylist, imports, none
	Patterns []string `mapstructure:"patterns"`
	Modules  []string `mapstructure:"modules"`
	Builtins []string `mapstructure:"builtins"`
}

type GradingConfig struct {
	Deadline    time.Duration `mapstructure:"deadline"`
	Parallelism int           `mapstructure:"parallelism"`
}

type ExercisesConfig struct {
	Dir string `mapstructure:"dir"`
}

type LimitsConfig struct {
	GlobalRPS float64 `mapstructure:"global_rps"`
	ClientRPS float64 `mapstructure:"client_rps"`
	Burst     int     `mapstructure:"burst"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
}

type EventsConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type HintsConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	BaseURL  string        `mapstructure:"base_url"`
	APIKey   string        `mapstructure:"api_key"`
	Model    string        `mapstructure:"model"`
	Timeout  time.Duration `mapstructure:"timeout"`
	MaxChars int           `mapstructure:"max_chars"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // console, json
}

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Sandbox   SandboxConfig   `mapstructure:"sandbox"`
	Guard     GuardConfig     `mapstructure:"guard"`
	Grading   GradingConfig   `mapstructure:"grading"`
	Exercises ExercisesConfig `mapstructure:"exercises"`
	Limits    LimitsConfig    `mapstructure:"limits"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Events    EventsConfig    `mapstructure:"events"`
	Hints     HintsConfig     `mapstructure:"hints"`
	Log       LogConfig       `mapstructure:"log"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 2*time.Minute)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.max_body_bytes", 256<<10)

	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.db_path", filepath.Join(os.Getenv("HOME"), ".labrunner", "labrunner.db"))
	v.SetDefault("storage.dsn", "")
	v.SetDefault("storage.max_conns", 10)

	v.SetDefault("sandbox.backend", "process")
	v.SetDefault("sandbox.interpreter", []string{"python3"})
	v.SetDefault("sandbox.image", "python:3.12-alpine")
	v.SetDefault("sandbox.images", []string{"python:3.12-alpine", "python:3.12-slim"})
	v.SetDefault("sandbox.deadline", 5*time.Second)
	v.SetDefault("sandbox.max_concurrent", 8)
	v.SetDefault("sandbox.max_output_bytes", 1<<20)
	v.SetDefault("sandbox.max_memory", "256m")
	v.SetDefault("sandbox.network", false)
	v.SetDefault("sandbox.temp_dir", "")
	v.SetDefault("sandbox.input_mode", "stdin")

	v.SetDefault("guard.strategy", "denylist")
	v.SetDefault("guard.patterns", []string{})
	v.SetDefault("guard.modules", []string{})
	v.SetDefault("guard.builtins", []string{})

	v.SetDefault("grading.deadline", 5*time.Second)
	v.SetDefault("grading.parallelism", 1)

	v.SetDefault("exercises.dir", "exercises")

	v.SetDefault("limits.global_rps", 50.0)
	v.SetDefault("limits.client_rps", 2.0)
	v.SetDefault("limits.burst", 5)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "")

	v.SetDefault("events.brokers", []string{})
	v.SetDefault("events.topic", "labrunner.submissions")

	v.SetDefault("hints.enabled", false)
	v.SetDefault("hints.base_url", "http://localhost:11434/v1/")
	v.SetDefault("hints.api_key", "ollama")
	v.SetDefault("hints.model", "qwen3:14b")
	v.SetDefault("hints.timeout", 20*time.Second)
	v.SetDefault("hints.max_chars", 600)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// Load reads configuration. With an empty path it searches ./labrunner.yaml
// and $HOME/.labrunner/labrunner.yaml and falls back to defaults when neither
// exists; an explicit path must exist.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("labrunner")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.labrunner")
	}

	v.SetEnvPrefix("LABRUNNER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	// Expand environment variables in secrets
	cfg.Auth.JWTSecret = expandEnv(cfg.Auth.JWTSecret)
	cfg.Hints.APIKey = expandEnv(cfg.Hints.APIKey)
	cfg.Storage.DSN = expandEnv(cfg.Storage.DSN)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func expandEnv(s string) string {
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		return os.Getenv(s[2 : len(s)-1])
	}
	return s
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "sqlite":
	case "postgres":
		if c.Storage.DSN == "" {
			return errors.New("storage.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown storage.driver %q", c.Storage.Driver)
	}

	switch c.Sandbox.Backend {
	case "process", "docker":
	default:
		return fmt.Errorf("unknown sandbox.backend %q", c.Sandbox.Backend)
	}
	switch c.Sandbox.InputMode {
	case "stdin", "substitute":
	default:
		return fmt.Errorf("unknown sandbox.input_mode %q", c.Sandbox.InputMode)
	}
	if c.Sandbox.Deadline <= 0 {
		return errors.New("sandbox.deadline must be positive")
	}
	if c.Grading.Deadline <= 0 {
		return errors.New("grading.deadline must be positive")
	}
	if len(c.Sandbox.Interpreter) == 0 {
		return errors.New("sandbox.interpreter must not be empty")
	}

	switch c.Guard.Strategy {
	case "denylist", "imports", "none":
	default:
		return fmt.Errorf("unknown guard.strategy %q", c.Guard.Strategy)
	}
	if c.Guard.Strategy == "none" && c.Sandbox.Backend != "docker" {
		return errors.New("guard.strategy none requires sandbox.backend docker")
	}

	if c.Hints.Enabled && c.Hints.Model == "" {
		return errors.New("hints.model is required when hints are enabled")
	}
	return nil
}
