// Package transports provides byte-stream transports for a feetech.Bus.
package transports

import (
	"errors"
	"fmt"
	"time"

	"go.bug.st/serial"
)

// SerialConfig describes a serial device.
type SerialConfig struct {
	Port     string
	BaudRate int
	Timeout  time.Duration
}

// SerialTransport is a feetech.Transport over an OS serial port.
type SerialTransport struct {
	port serial.Port
}

// OpenSerial opens cfg.Port as 8N1. On error nothing is left open.
func OpenSerial(cfg SerialConfig) (*SerialTransport, error) {
	if cfg.Port == "" {
		return nil, errors.New("serial port path is required")
	}
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 1000000
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = time.Second
	}

	port, err := serial.Open(cfg.Port, &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s at %d baud: %w", cfg.Port, cfg.BaudRate, err)
	}

	if err := port.SetReadTimeout(cfg.Timeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout on %s: %w", cfg.Port, err)
	}

	return &SerialTransport{port: port}, nil
}

func (t *SerialTransport) Read(p []byte) (int, error) {
	return t.port.Read(p)
}

func (t *SerialTransport) Write(p []byte) (int, error) {
	return t.port.Write(p)
}

func (t *SerialTransport) Close() error {
	return t.port.Close()
}

func (t *SerialTransport) SetReadTimeout(timeout time.Duration) error {
	return t.port.SetReadTimeout(timeout)
}

// Flush drops bytes the driver has buffered but nobody has read.
func (t *SerialTransport) Flush() error {
	return t.port.ResetInputBuffer()
}
