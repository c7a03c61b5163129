// Package config loads the pen server configuration.
//
// Values are layered: built-in defaults, then an optional TOML file, then
// PEN_* environment variables (a .env file in the working directory is
// loaded into the environment first). Command-line flags are applied last
// by the caller.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config holds server configuration.
type Config struct {
	Port    int    `toml:"port"`
	DBPath  string `toml:"dbPath"`
	DevMode bool   `toml:"devMode"`

	// TrustProxy honours X-Forwarded-For when rate limiting failed keys.
	TrustProxy bool `toml:"trustProxy"`

	Kafka KafkaConfig `toml:"kafka"`
}

// KafkaConfig configures comment event publishing. Publishing is disabled
// when Brokers is empty.
type KafkaConfig struct {
	Brokers   []string `toml:"brokers"`
	Topic     string   `toml:"topic"`
	BatchSize int      `toml:"batchSize"`
}

// Enabled reports whether events should be sent to Kafka.
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0 && k.Topic != ""
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Port: 8080,
		Kafka: KafkaConfig{
			Topic:     "pen.comments",
			BatchSize: 1,
		},
	}
}

// Load builds the configuration from path (optional; "" skips the file)
// and the environment.
func Load(path string) (Config, error) {
	cfg := Default()

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("loading .env: %w", err)
	}

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("PEN_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PEN_PORT: invalid port %q", v)
		}
		c.Port = port
	}
	if v := os.Getenv("PEN_DB"); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv("PEN_DEV_MODE"); v != "" {
		c.DevMode = v == "true"
	}
	if v := os.Getenv("PEN_TRUST_PROXY"); v != "" {
		c.TrustProxy = v == "true"
	}
	if v := os.Getenv("PEN_KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = splitList(v)
	}
	if v := os.Getenv("PEN_KAFKA_TOPIC"); v != "" {
		c.Kafka.Topic = v
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
