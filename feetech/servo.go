package feetech

import (
	"context"
	"fmt"
)

// Servo addresses a single servo on a Bus.
type Servo struct {
	bus   *Bus
	id    int
	model *Model
}

// NewServo returns a handle for servo id. A nil model selects the default
// model of the bus protocol.
func NewServo(bus *Bus, id int, model *Model) *Servo {
	if model == nil {
		model = DefaultModel(bus.Protocol().Version())
	}
	return &Servo{bus: bus, id: id, model: model}
}

// Model returns the model in use.
func (s *Servo) Model() *Model {
	return s.model
}

// Ping returns the model number reported by the servo.
func (s *Servo) Ping(ctx context.Context) (int, error) {
	return s.bus.Ping(ctx, s.id)
}

// DetectModel pings the servo and switches to the matching registered model.
// It returns the reported model number, with ErrUnknownModel when no
// registered model matches; the current model is then kept.
func (s *Servo) DetectModel(ctx context.Context) (int, error) {
	number, err := s.bus.Ping(ctx, s.id)
	if err != nil {
		return 0, err
	}

	model, ok := GetModelByNumber(number)
	if !ok {
		return number, fmt.Errorf("%w: %d", ErrUnknownModel, number)
	}
	s.model = model
	return number, nil
}

// Position reads the present position.
func (s *Servo) Position(ctx context.Context) (int, error) {
	return s.readWord(ctx, RegPresentPosition)
}

// SetPosition writes the goal position.
func (s *Servo) SetPosition(ctx context.Context, position int) error {
	if position < 0 || position > s.model.MaxPosition {
		return fmt.Errorf("position %d out of range for %s (0-%d)", position, s.model.Name, s.model.MaxPosition)
	}
	return s.writeWord(ctx, RegGoalPosition, position)
}

// SetSpeed writes the goal speed used for subsequent position moves.
// Zero means maximum speed.
func (s *Servo) SetSpeed(ctx context.Context, speed int) error {
	if speed < 0 || speed > 0xFFFF {
		return fmt.Errorf("speed %d out of range", speed)
	}
	return s.writeWord(ctx, RegGoalSpeed, speed)
}

// TorqueEnabled reports whether torque is on.
func (s *Servo) TorqueEnabled(ctx context.Context) (bool, error) {
	data, err := s.bus.ReadRegister(ctx, s.id, RegTorqueEnable.Address, RegTorqueEnable.Size)
	if err != nil {
		return false, err
	}
	return data[0] != 0, nil
}

// SetTorqueEnabled switches torque on or off.
func (s *Servo) SetTorqueEnabled(ctx context.Context, enabled bool) error {
	var val byte
	if enabled {
		val = 1
	}
	return s.bus.WriteRegister(ctx, s.id, RegTorqueEnable.Address, []byte{val})
}

func (s *Servo) readWord(ctx context.Context, reg Register) (int, error) {
	data, err := s.bus.ReadRegister(ctx, s.id, reg.Address, reg.Size)
	if err != nil {
		return 0, err
	}
	return int(s.bus.Protocol().DecodeWord(data)), nil
}

func (s *Servo) writeWord(ctx context.Context, reg Register, value int) error {
	return s.bus.WriteRegister(ctx, s.id, reg.Address, s.bus.Protocol().EncodeWord(uint16(value)))
}
