package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/Wale56/cubotino-bus-servo/feetech"
	"github.com/Wale56/cubotino-bus-servo/trim"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "servotrim.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "/dev/serial0", cfg.Port)
	assert.Equal(t, 1000000, cfg.BaudRate)
	assert.Equal(t, 1, cfg.ServoID)
	assert.Equal(t, trim.DefaultWaitConfig(), cfg.WaitConfig())
	assert.Equal(t, trim.DefaultLimits(), cfg.TrimLimits())

	model, err := cfg.ServoModel()
	require.NoError(t, err)
	assert.Equal(t, "scs15", model.Name)
}

func TestLoad_OverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
port: /dev/ttyUSB0
servo_id: 3
wait:
  tolerance: 10
  max_wait: 2s
  poll_interval: 50ms
progress: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "/dev/ttyUSB0", cfg.Port)
	assert.Equal(t, 3, cfg.ServoID)
	assert.True(t, cfg.Progress)
	assert.Equal(t, trim.WaitConfig{
		Tolerance:       10,
		MaxWait:         2 * time.Second,
		PollInterval:    50 * time.Millisecond,
		MaxReadFailures: 3,
	}, cfg.WaitConfig())

	// untouched keys keep their defaults
	assert.Equal(t, 1000000, cfg.BaudRate)
	assert.Equal(t, "scs", cfg.Protocol)
	assert.Equal(t, trim.DefaultLimits(), cfg.TrimLimits())
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = Load(writeConfig(t, "wait: [not, a, map]"))
	assert.ErrorContains(t, err, "failed to parse")

	_, err = Load(writeConfig(t, "wait:\n  max_wait: soon\n"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"empty port", func(c *Config) { c.Port = "" }, "port must not be empty"},
		{"baud", func(c *Config) { c.BaudRate = 0 }, "baud_rate"},
		{"servo id high", func(c *Config) { c.ServoID = 254 }, "servo_id"},
		{"servo id negative", func(c *Config) { c.ServoID = -1 }, "servo_id"},
		{"protocol", func(c *Config) { c.Protocol = "dynamixel" }, "unknown protocol"},
		{"model", func(c *Config) { c.Model = "xl320" }, "unknown model"},
		{"model protocol mismatch", func(c *Config) { c.Model = "sts3215" }, "does not speak protocol"},
		{"tolerance", func(c *Config) { c.Wait.Tolerance = -1 }, "wait.tolerance"},
		{"max wait", func(c *Config) { c.Wait.MaxWait = 0 }, "wait.max_wait"},
		{"poll interval", func(c *Config) { c.Wait.PollInterval = -time.Second }, "wait.poll_interval"},
		{"read failures", func(c *Config) { c.Wait.MaxReadFailures = -1 }, "wait.max_read_failures"},
		{"speed range", func(c *Config) { c.Limits.SpeedMin = 3000 }, "speed limits"},
		{"position range", func(c *Config) { c.Limits.PositionMin, c.Limits.PositionMax = 900, 100 }, "position limits"},
		{"position beyond model", func(c *Config) { c.Limits.PositionMax = 2000 }, "exceeds scs15 range"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
}

func TestValidate_ReportsAllProblems(t *testing.T) {
	cfg := Default()
	cfg.Port = ""
	cfg.BaudRate = -1
	cfg.Wait.MaxWait = 0

	assert.Len(t, multierr.Errors(cfg.Validate()), 3)
}

func TestValidate_STSAllowsWiderRange(t *testing.T) {
	cfg := Default()
	cfg.Protocol = "STS"
	cfg.Limits.PositionMax = 4095
	require.NoError(t, cfg.Validate())

	model, err := cfg.ServoModel()
	require.NoError(t, err)
	assert.Equal(t, "sts3215", model.Name)
}

func TestBusConfig(t *testing.T) {
	cfg := Default()
	cfg.Protocol = "sts"
	cfg.BusTimeout = 250 * time.Millisecond

	bus, err := cfg.BusConfig()
	require.NoError(t, err)
	assert.Equal(t, feetech.BusConfig{
		Port:     "/dev/serial0",
		BaudRate: 1000000,
		Protocol: feetech.ProtocolSTS,
		Timeout:  250 * time.Millisecond,
	}, bus)

	cfg.Protocol = "nope"
	_, err = cfg.BusConfig()
	assert.Error(t, err)
}
