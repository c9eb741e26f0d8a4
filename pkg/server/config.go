package server

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"

	rpcerrors "github.com/ajitpratap0/langrpc-go/pkg/errors"
	"github.com/ajitpratap0/langrpc-go/pkg/logging"
	"github.com/ajitpratap0/langrpc-go/pkg/observability"
	"github.com/ajitpratap0/langrpc-go/pkg/transport"
)

// Config holds the tunables of a session. It can be loaded from YAML with
// LoadConfig; options passed to New override it.
type Config struct {
	Name    string `json:"name" yaml:"name"`
	Version string `json:"version" yaml:"version"`

	// MaxConcurrency bounds concurrently running handlers. Zero uses
	// dispatch.DefaultMaxConcurrency.
	MaxConcurrency int `json:"max_concurrency" yaml:"max_concurrency"`
	// ResolveCacheSize is the number of route tokens remembered for resolve
	// requests.
	ResolveCacheSize int `json:"resolve_cache_size" yaml:"resolve_cache_size"`
	// RegistrationDebounce coalesces registry changes before they are
	// pushed to the peer as dynamic registrations.
	RegistrationDebounce time.Duration `json:"registration_debounce" yaml:"registration_debounce"`
	// ShutdownTimeout bounds how long in-flight requests may run after the
	// connection ends.
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`

	Log           LogConfig                 `json:"log" yaml:"log"`
	Transport     transport.TransportConfig `json:"transport" yaml:"transport"`
	Observability observability.Config      `json:"observability" yaml:"observability"`
}

// LogConfig selects the level and rendering of the session logger.
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() Config {
	return Config{
		Name:                 "langrpc-server",
		Version:              "0.1.0",
		ResolveCacheSize:     1024,
		RegistrationDebounce: 50 * time.Millisecond,
		ShutdownTimeout:      5 * time.Second,
		Log:                  LogConfig{Level: "info", Format: string(logging.FormatJSON)},
		Transport:            transport.DefaultTransportConfig(transport.ProtocolLSP),
	}
}

// LoadConfig reads a YAML file on top of DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, rpcerrors.ConfigurationError("read %s: %v", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, rpcerrors.ConfigurationError("parse %s: %v", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	if c.MaxConcurrency < 0 {
		return rpcerrors.ConfigurationError("max_concurrency must not be negative, got %d", c.MaxConcurrency)
	}
	if c.ResolveCacheSize <= 0 {
		return rpcerrors.ConfigurationError("resolve_cache_size must be positive, got %d", c.ResolveCacheSize)
	}
	if c.RegistrationDebounce < 0 {
		return rpcerrors.ConfigurationError("registration_debounce must not be negative")
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return rpcerrors.ConfigurationError("log: %v", err)
	}
	if _, err := logging.ParseFormat(c.Log.Format); err != nil {
		return rpcerrors.ConfigurationError("log: %v", err)
	}
	return nil
}

// NewLogger builds the logger described by c, writing to stderr. Stdout
// usually carries the protocol stream.
func (c LogConfig) NewLogger() (logging.Logger, error) {
	level, err := logging.ParseLevel(c.Level)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(c.Format)
	if err != nil {
		return nil, err
	}
	logger := logging.New(os.Stderr, format)
	logger.SetLevel(level)
	return logger, nil
}

func (c Config) String() string {
	return fmt.Sprintf("%s %s (%s over %s)", c.Name, c.Version, c.Transport.Protocol, c.Transport.Type)
}
