package feetech

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Wale56/cubotino-bus-servo/transports"
)

// Bus serialises packet exchanges with the servos on one serial line.
type Bus struct {
	transport Transport
	protocol  *Protocol
	timeout   time.Duration

	mu          sync.Mutex
	lastCmdTime time.Time
	minCmdGap   time.Duration
	closed      bool
}

// BusConfig configures NewBus.
type BusConfig struct {
	// Transport to use. When nil, Port is opened as a serial device.
	Transport Transport

	// Port is the serial device path, e.g. "/dev/serial0".
	Port string

	// BaudRate defaults to 1000000.
	BaudRate int

	// Protocol is ProtocolSTS (default) or ProtocolSCS.
	Protocol int

	// Timeout bounds each response. Defaults to 1s.
	Timeout time.Duration

	// MinCommandGap is the minimum delay between two packets. Defaults to 1ms.
	MinCommandGap time.Duration
}

// NewBus opens a bus. Errors returned here mean no channel was acquired.
func NewBus(cfg BusConfig) (*Bus, error) {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 1000000
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = time.Second
	}
	if cfg.MinCommandGap == 0 {
		cfg.MinCommandGap = time.Millisecond
	}
	if cfg.Protocol != ProtocolSTS && cfg.Protocol != ProtocolSCS {
		return nil, fmt.Errorf("unsupported protocol version: %d", cfg.Protocol)
	}

	transport := cfg.Transport
	if transport == nil {
		if cfg.Port == "" {
			return nil, errors.New("either Transport or Port must be specified")
		}
		var err error
		transport, err = transports.OpenSerial(transports.SerialConfig{
			Port:     cfg.Port,
			BaudRate: cfg.BaudRate,
			Timeout:  cfg.Timeout,
		})
		if err != nil {
			return nil, err
		}
	}

	return &Bus{
		transport: transport,
		protocol:  NewProtocol(cfg.Protocol),
		timeout:   cfg.Timeout,
		minCmdGap: cfg.MinCommandGap,
	}, nil
}

// Close releases the transport. Closing twice is a no-op.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	return b.transport.Close()
}

// Protocol returns the bus codec.
func (b *Bus) Protocol() *Protocol {
	return b.protocol
}

// Ping checks that servo id answers and returns its model number.
func (b *Bus) Ping(ctx context.Context, id int) (int, error) {
	if err := validateID(id); err != nil {
		return 0, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0, ErrBusClosed
	}

	if err := b.sendLocked(b.protocol.PingPacket(byte(id))); err != nil {
		return 0, &CommError{Op: "ping", Err: err}
	}

	resp, err := b.readStatusLocked(ctx, byte(id), 0)
	if err != nil {
		return 0, &ServoError{ID: id, Op: "ping", Err: err}
	}
	if resp.Error.HasError() {
		return 0, &ServoError{ID: id, Op: "ping", Status: resp.Error}
	}

	data, err := b.readLocked(ctx, byte(id), RegModelNumber.Address, byte(RegModelNumber.Size))
	if err != nil {
		return 0, err
	}

	return int(b.protocol.DecodeWord(data)), nil
}

// ReadRegister reads length bytes starting at address.
func (b *Bus) ReadRegister(ctx context.Context, id int, address byte, length int) ([]byte, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBusClosed
	}

	return b.readLocked(ctx, byte(id), address, byte(length))
}

// WriteRegister writes data starting at address and waits for the status acknowledgement.
func (b *Bus) WriteRegister(ctx context.Context, id int, address byte, data []byte) error {
	if err := validateID(id); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}

	if err := b.sendLocked(b.protocol.WritePacket(byte(id), address, data)); err != nil {
		return &CommError{Op: "write", Err: err}
	}

	resp, err := b.readStatusLocked(ctx, byte(id), 0)
	if err != nil {
		return &ServoError{ID: id, Op: "write", Err: err}
	}
	if resp.Error.HasError() {
		return &ServoError{ID: id, Op: "write", Status: resp.Error}
	}

	return nil
}

func validateID(id int) error {
	if id < 0 || id > MaxServoID {
		return fmt.Errorf("%w: %d (valid range: 0-%d)", ErrInvalidID, id, MaxServoID)
	}
	return nil
}

func (b *Bus) readLocked(ctx context.Context, id, address, length byte) ([]byte, error) {
	if err := b.sendLocked(b.protocol.ReadPacket(id, address, length)); err != nil {
		return nil, &CommError{Op: "read", Err: err}
	}

	resp, err := b.readStatusLocked(ctx, id, int(length))
	if err != nil {
		return nil, &ServoError{ID: int(id), Op: "read", Err: err}
	}
	if resp.Error.HasError() {
		return nil, &ServoError{ID: int(id), Op: "read", Status: resp.Error}
	}
	if len(resp.Parameters) != int(length) {
		return nil, &ServoError{
			ID:  int(id),
			Op:  "read",
			Err: fmt.Errorf("short response: %d of %d bytes", len(resp.Parameters), length),
		}
	}

	return resp.Parameters, nil
}

func (b *Bus) sendLocked(packet []byte) error {
	if elapsed := time.Since(b.lastCmdTime); elapsed < b.minCmdGap {
		time.Sleep(b.minCmdGap - elapsed)
	}

	// Drop anything left over from an earlier, abandoned exchange.
	b.transport.Flush()

	n, err := b.transport.Write(packet)
	if err != nil {
		return fmt.Errorf("write failed: %w", err)
	}
	if n != len(packet) {
		return fmt.Errorf("incomplete write: %d of %d bytes", n, len(packet))
	}

	b.lastCmdTime = time.Now()

	// half-duplex turnaround
	time.Sleep(100 * time.Microsecond)

	return nil
}

func (b *Bus) readStatusLocked(ctx context.Context, id byte, dataLen int) (Packet, error) {
	raw, err := b.readRawLocked(ctx, b.protocol.ResponseLength(dataLen))
	if err != nil {
		return Packet{}, err
	}

	pkt, _, err := b.protocol.Decode(raw)
	if err != nil {
		return Packet{}, err
	}
	if pkt.ID != id {
		return Packet{}, fmt.Errorf("wrong servo ID in response: expected %d, got %d", id, pkt.ID)
	}

	return pkt, nil
}

func (b *Bus) readRawLocked(ctx context.Context, want int) ([]byte, error) {
	buf := make([]byte, want*2)
	got := 0
	deadline := time.Now().Add(b.timeout)

	for got < want {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if time.Now().After(deadline) {
			if got == 0 {
				return nil, ErrNoResponse
			}
			return nil, fmt.Errorf("%w: read %d of %d expected bytes", ErrTimeout, got, want)
		}

		b.transport.SetReadTimeout(max(time.Until(deadline), 10*time.Millisecond))

		n, err := b.transport.Read(buf[got:])
		if err != nil {
			if n == 0 {
				time.Sleep(time.Millisecond)
				continue
			}
			return nil, fmt.Errorf("read error: %w", err)
		}

		got += n
	}

	return buf[:got], nil
}
