// Package config holds the server configuration.
//
// Values come from Default, optionally overlaid by a JSON file with Load,
// and finally by command line flags and environment variables in main.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

var (
	ErrConfigNotFound = errors.New("configuration not found")
	ErrInvalidConfig  = errors.New("invalid configuration")
)

// Duration is a time.Duration that reads and writes as a string like "5m"
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Config is the configuration of the serve command
type Config struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	DatabasePath string `json:"database_path"`
	LogLevel     string `json:"log_level"`

	JWTSecret string   `json:"jwt_secret"`
	TokenTTL  Duration `json:"token_ttl"`

	// Inbound websocket messages per second and burst, per connection
	MessageRate  float64 `json:"message_rate"`
	MessageBurst int     `json:"message_burst"`

	CleanupInterval    Duration `json:"cleanup_interval"`
	CompletedRetention Duration `json:"completed_retention"`
	WaitingRetention   Duration `json:"waiting_retention"`

	NgrokEnabled   bool   `json:"ngrok_enabled"`
	NgrokDomain    string `json:"ngrok_domain"`
	NgrokAuthToken string `json:"-"`
}

// Default returns the configuration used when nothing is overridden
func Default() Config {
	return Config{
		Host:               "",
		Port:               8080,
		DatabasePath:       "data/tictactoe.db",
		LogLevel:           "info",
		TokenTTL:           Duration(24 * time.Hour),
		MessageRate:        10,
		MessageBurst:       20,
		CleanupInterval:    Duration(5 * time.Minute),
		CompletedRetention: Duration(30 * time.Minute),
		WaitingRetention:   Duration(2 * time.Hour),
	}
}

// Load overlays the JSON file at path on the defaults
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return cfg, nil
}

// Validate checks that the configuration can start a server
func (c Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidConfig, c.Port)
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("%w: database path is required", ErrInvalidConfig)
	}
	if len(c.JWTSecret) < 16 {
		return fmt.Errorf("%w: jwt secret must be at least 16 characters", ErrInvalidConfig)
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("%w: token ttl must be positive", ErrInvalidConfig)
	}
	if c.MessageRate <= 0 || c.MessageBurst <= 0 {
		return fmt.Errorf("%w: message rate and burst must be positive", ErrInvalidConfig)
	}
	if c.CleanupInterval < 0 || c.CompletedRetention < 0 || c.WaitingRetention < 0 {
		return fmt.Errorf("%w: cleanup durations must not be negative", ErrInvalidConfig)
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: log level %q", ErrInvalidConfig, c.LogLevel)
	}
	if c.NgrokEnabled && c.NgrokAuthToken == "" {
		return fmt.Errorf("%w: ngrok requires an auth token", ErrInvalidConfig)
	}
	return nil
}

// Addr returns the listen address
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Level returns the parsed log level, info when unset
func (c Config) Level() zerolog.Level {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || c.LogLevel == "" {
		return zerolog.InfoLevel
	}
	return level
}
