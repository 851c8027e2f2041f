package mesh

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/multierr"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// LoadConfig loads the configuration from a YAML file.
// Keys missing from the file keep their DefaultConfig values.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(path string, config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshaling config YAML: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// Validate reports every invalid setting at once
func (c Config) Validate() error {
	var err error
	if rerr := c.Registration.Validate(); rerr != nil {
		err = multierr.Append(err, fmt.Errorf("registration: %w", rerr))
	}
	switch c.Strategy {
	case "", StrategyClosedForm, StrategyCentroid:
	default:
		err = multierr.Append(err, fmt.Errorf("strategy %q: %w", c.Strategy, ErrUnknownStrategy))
	}
	switch c.Index {
	case "", IndexKDTree, IndexBrute:
	default:
		err = multierr.Append(err, fmt.Errorf("index %q: %w", c.Index, ErrUnknownIndex))
	}
	if c.LogLevel != "" {
		if _, lerr := zapcore.ParseLevel(c.LogLevel); lerr != nil {
			err = multierr.Append(err, fmt.Errorf("logLevel: %v: %w", lerr, ErrInvalidConfig))
		}
	}
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		err = multierr.Append(err, fmt.Errorf("http.port %d out of range: %w", c.HTTP.Port, ErrInvalidConfig))
	}
	return err
}
