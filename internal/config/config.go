// Package config holds the process configuration of servotrim. It is read
// once at startup and never changed afterwards.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/Wale56/cubotino-bus-servo/feetech"
	"github.com/Wale56/cubotino-bus-servo/trim"
)

// Config is the full set of settings. Zero values in a loaded file keep the
// defaults.
type Config struct {
	Port       string        `yaml:"port"`
	BaudRate   int           `yaml:"baud_rate"`
	ServoID    int           `yaml:"servo_id"`
	Protocol   string        `yaml:"protocol"`
	Model      string        `yaml:"model"`
	BusTimeout time.Duration `yaml:"bus_timeout"`

	Wait   Wait   `yaml:"wait"`
	Limits Limits `yaml:"limits"`

	LogLevel string `yaml:"log_level"`
	Progress bool   `yaml:"progress"`
}

// Wait configures how long and how closely a move is watched.
type Wait struct {
	Tolerance       int           `yaml:"tolerance"`
	MaxWait         time.Duration `yaml:"max_wait"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	MaxReadFailures int           `yaml:"max_read_failures"`
}

// Limits bounds operator input.
type Limits struct {
	SpeedMin    int `yaml:"speed_min"`
	SpeedMax    int `yaml:"speed_max"`
	PositionMin int `yaml:"position_min"`
	PositionMax int `yaml:"position_max"`
}

// Default returns the settings for an SC15 on a Raspberry Pi serial header.
func Default() Config {
	w := trim.DefaultWaitConfig()
	l := trim.DefaultLimits()
	return Config{
		Port:       "/dev/serial0",
		BaudRate:   1000000,
		ServoID:    1,
		Protocol:   "scs",
		BusTimeout: 100 * time.Millisecond,
		Wait: Wait{
			Tolerance:       w.Tolerance,
			MaxWait:         w.MaxWait,
			PollInterval:    w.PollInterval,
			MaxReadFailures: w.MaxReadFailures,
		},
		Limits: Limits{
			SpeedMin:    l.SpeedMin,
			SpeedMax:    l.SpeedMax,
			PositionMin: l.PositionMin,
			PositionMax: l.PositionMax,
		},
		LogLevel: "info",
	}
}

// Load reads a YAML file over the defaults. The result is not validated.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return cfg, nil
}

// ProtocolVersion maps the protocol name to its feetech constant.
func (c Config) ProtocolVersion() (int, error) {
	switch strings.ToLower(c.Protocol) {
	case "scs":
		return feetech.ProtocolSCS, nil
	case "sts":
		return feetech.ProtocolSTS, nil
	default:
		return 0, fmt.Errorf("unknown protocol %q (want scs or sts)", c.Protocol)
	}
}

// ServoModel returns the configured model, or the protocol default when none is named.
func (c Config) ServoModel() (*feetech.Model, error) {
	if c.Model != "" {
		m, ok := feetech.GetModel(strings.ToLower(c.Model))
		if !ok {
			return nil, fmt.Errorf("unknown model %q (known: %s)", c.Model, strings.Join(feetech.ListModels(), ", "))
		}
		return m, nil
	}
	version, err := c.ProtocolVersion()
	if err != nil {
		return nil, err
	}
	return feetech.DefaultModel(version), nil
}

// Validate reports every problem with the settings at once.
func (c Config) Validate() error {
	var err error

	if c.Port == "" {
		err = multierr.Append(err, errors.New("port must not be empty"))
	}
	if c.BaudRate <= 0 {
		err = multierr.Append(err, fmt.Errorf("baud_rate must be positive, got %d", c.BaudRate))
	}
	if c.ServoID < 0 || c.ServoID > feetech.MaxServoID {
		err = multierr.Append(err, fmt.Errorf("servo_id must be 0-%d, got %d", feetech.MaxServoID, c.ServoID))
	}
	if c.BusTimeout <= 0 {
		err = multierr.Append(err, fmt.Errorf("bus_timeout must be positive, got %s", c.BusTimeout))
	}

	model, modelErr := c.ServoModel()
	if modelErr != nil {
		err = multierr.Append(err, modelErr)
	} else if version, perr := c.ProtocolVersion(); perr != nil {
		err = multierr.Append(err, perr)
	} else if model.Protocol != version {
		err = multierr.Append(err, fmt.Errorf("model %s does not speak protocol %s", model.Name, c.Protocol))
	}

	w := c.Wait
	if w.Tolerance < 0 {
		err = multierr.Append(err, fmt.Errorf("wait.tolerance must not be negative, got %d", w.Tolerance))
	}
	if w.MaxWait <= 0 {
		err = multierr.Append(err, fmt.Errorf("wait.max_wait must be positive, got %s", w.MaxWait))
	}
	if w.PollInterval <= 0 {
		err = multierr.Append(err, fmt.Errorf("wait.poll_interval must be positive, got %s", w.PollInterval))
	}
	if w.MaxReadFailures < 0 {
		err = multierr.Append(err, fmt.Errorf("wait.max_read_failures must not be negative, got %d", w.MaxReadFailures))
	}

	l := c.Limits
	if l.SpeedMin < 0 || l.SpeedMin > l.SpeedMax || l.SpeedMax > 0xFFFF {
		err = multierr.Append(err, fmt.Errorf("speed limits %d-%d are not a valid range", l.SpeedMin, l.SpeedMax))
	}
	if l.PositionMin < 0 || l.PositionMin > l.PositionMax {
		err = multierr.Append(err, fmt.Errorf("position limits %d-%d are not a valid range", l.PositionMin, l.PositionMax))
	}
	if model != nil && l.PositionMax > model.MaxPosition {
		err = multierr.Append(err, fmt.Errorf("position_max %d exceeds %s range 0-%d", l.PositionMax, model.Name, model.MaxPosition))
	}

	return err
}

// WaitConfig converts the wait settings for the trim package.
func (c Config) WaitConfig() trim.WaitConfig {
	return trim.WaitConfig{
		Tolerance:       c.Wait.Tolerance,
		MaxWait:         c.Wait.MaxWait,
		PollInterval:    c.Wait.PollInterval,
		MaxReadFailures: c.Wait.MaxReadFailures,
	}
}

// TrimLimits converts the input limits for the trim package.
func (c Config) TrimLimits() trim.Limits {
	return trim.Limits{
		SpeedMin:    c.Limits.SpeedMin,
		SpeedMax:    c.Limits.SpeedMax,
		PositionMin: c.Limits.PositionMin,
		PositionMax: c.Limits.PositionMax,
	}
}

// BusConfig returns the bus settings. Call Validate first.
func (c Config) BusConfig() (feetech.BusConfig, error) {
	version, err := c.ProtocolVersion()
	if err != nil {
		return feetech.BusConfig{}, err
	}
	return feetech.BusConfig{
		Port:     c.Port,
		BaudRate: c.BaudRate,
		Protocol: version,
		Timeout:  c.BusTimeout,
	}, nil
}
