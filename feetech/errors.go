package feetech

import (
	"errors"
	"fmt"
)

var (
	ErrTimeout    = errors.New("communication timeout")
	ErrNoResponse = errors.New("no response from servo")
	ErrBusClosed  = errors.New("bus is closed")
	ErrInvalidID  = errors.New("invalid servo ID")

	ErrUnknownModel = errors.New("unknown model number")
)

// CommError is a failure to put a packet on the wire.
type CommError struct {
	Op  string
	Err error
}

func (e *CommError) Error() string {
	return fmt.Sprintf("communication error during %s: %v", e.Op, e.Err)
}

func (e *CommError) Unwrap() error {
	return e.Err
}

// ServoError is a missing, malformed or failing response from a servo.
type ServoError struct {
	ID     int
	Op     string
	Status StatusError
	Err    error
}

func (e *ServoError) Error() string {
	switch {
	case e.Status.HasError():
		return fmt.Sprintf("servo %d %s failed: %s", e.ID, e.Op, e.Status.Error())
	case e.Err != nil:
		return fmt.Sprintf("servo %d %s failed: %v", e.ID, e.Op, e.Err)
	default:
		return fmt.Sprintf("servo %d %s failed", e.ID, e.Op)
	}
}

func (e *ServoError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	if e.Status.HasError() {
		return e.Status
	}
	return nil
}

// IsNoResponse reports whether err means the servo never answered.
func IsNoResponse(err error) bool {
	return errors.Is(err, ErrNoResponse)
}
