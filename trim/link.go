// Package trim drives a single bus servo back and forth between two operator
// chosen positions and reports whether each move settles.
package trim

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/Wale56/cubotino-bus-servo/feetech"
)

// Link is everything the trim session needs from one servo.
// Implementations do not retry; bus errors are returned as they happen.
type Link interface {
	Open(ctx context.Context) error
	Close() error
	ReadPosition(ctx context.Context) (int, error)
	WriteSpeed(ctx context.Context, speed int) error
	WriteTargetPosition(ctx context.Context, position int) error
	SetTorqueEnabled(ctx context.Context, enabled bool) error
}

// ErrLinkClosed is returned by BusLink operations before Open or after Close.
var ErrLinkClosed = errors.New("servo link is not open")

// BusLink is a Link to one servo on a Feetech bus.
type BusLink struct {
	cfg    feetech.BusConfig
	id     int
	model  *feetech.Model
	logger *zap.SugaredLogger

	bus   *feetech.Bus
	servo *feetech.Servo
}

// NewBusLink returns an unopened link to servo id. A nil model picks the
// default for the configured protocol.
func NewBusLink(cfg feetech.BusConfig, id int, model *feetech.Model, logger *zap.SugaredLogger) *BusLink {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &BusLink{cfg: cfg, id: id, model: model, logger: logger}
}

// Open acquires the bus. When it fails nothing needs releasing.
func (l *BusLink) Open(ctx context.Context) error {
	if l.bus != nil {
		return errors.New("servo link already open")
	}

	bus, err := feetech.NewBus(l.cfg)
	if err != nil {
		return fmt.Errorf("open bus: %w", err)
	}

	l.bus = bus
	l.servo = feetech.NewServo(bus, l.id, l.model)
	l.logger.Debugw("bus open", "port", l.cfg.Port, "baud", l.cfg.BaudRate, "servo", l.id, "model", l.servo.Model().Name)
	return nil
}

// Close releases the bus. It is safe to call on an unopened link.
func (l *BusLink) Close() error {
	if l.bus == nil {
		return nil
	}
	err := l.bus.Close()
	l.bus, l.servo = nil, nil
	l.logger.Debugw("bus closed", "servo", l.id)
	return err
}

// Servo exposes the underlying servo handle, or nil when the link is closed.
func (l *BusLink) Servo() *feetech.Servo {
	return l.servo
}

// ReadPosition reads the present position register.
func (l *BusLink) ReadPosition(ctx context.Context) (int, error) {
	if l.servo == nil {
		return 0, ErrLinkClosed
	}
	return l.servo.Position(ctx)
}

// WriteSpeed sets the speed used by subsequent moves.
func (l *BusLink) WriteSpeed(ctx context.Context, speed int) error {
	if l.servo == nil {
		return ErrLinkClosed
	}
	return l.servo.SetSpeed(ctx, speed)
}

// WriteTargetPosition starts a move to position. It does not wait for it.
func (l *BusLink) WriteTargetPosition(ctx context.Context, position int) error {
	if l.servo == nil {
		return ErrLinkClosed
	}
	return l.servo.SetPosition(ctx, position)
}

// SetTorqueEnabled switches holding torque on or off.
func (l *BusLink) SetTorqueEnabled(ctx context.Context, enabled bool) error {
	if l.servo == nil {
		return ErrLinkClosed
	}
	return l.servo.SetTorqueEnabled(ctx, enabled)
}
