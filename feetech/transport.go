package feetech

import (
	"io"
	"time"
)

// Transport is the byte stream underneath a Bus.
type Transport interface {
	io.ReadWriteCloser

	SetReadTimeout(timeout time.Duration) error

	// Flush discards buffered input.
	Flush() error
}
