// Package feetech talks to Feetech SCS/STS bus servos over a half-duplex serial line.
package feetech

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Protocol versions.
const (
	ProtocolSTS = iota // STS/SMS series, little-endian words
	ProtocolSCS        // SCS series (SC15, SCS0009), big-endian words
)

// Instruction codes.
const (
	InstPing  byte = 0x01
	InstRead  byte = 0x02
	InstWrite byte = 0x03
)

// Special IDs.
const (
	BroadcastID = 0xFE
	MaxServoID  = 0xFD
)

const (
	headerByte = 0xFF

	// header(2) + id + length + error/instruction + checksum
	packetOverhead = 6
)

// StatusError is the error byte of a status packet.
type StatusError byte

const (
	ErrVoltage     StatusError = 1 << 0
	ErrAngleLimit  StatusError = 1 << 1
	ErrOverheat    StatusError = 1 << 2
	ErrRange       StatusError = 1 << 3
	ErrChecksum    StatusError = 1 << 4
	ErrOverload    StatusError = 1 << 5
	ErrInstruction StatusError = 1 << 6
)

var statusNames = []struct {
	flag StatusError
	name string
}{
	{ErrVoltage, "voltage"},
	{ErrAngleLimit, "angle limit"},
	{ErrOverheat, "overheat"},
	{ErrRange, "range"},
	{ErrChecksum, "checksum"},
	{ErrOverload, "overload"},
	{ErrInstruction, "instruction"},
}

func (e StatusError) Error() string {
	if e == 0 {
		return "no error"
	}
	var flags []string
	for _, s := range statusNames {
		if e&s.flag != 0 {
			flags = append(flags, s.name)
		}
	}
	return fmt.Sprintf("servo status error: %v", flags)
}

// HasError reports whether any flag is set.
func (e StatusError) HasError() bool {
	return e != 0
}

// Packet is a decoded instruction or status packet.
type Packet struct {
	ID          byte
	Instruction byte
	Parameters  []byte
	Error       StatusError // status packets only
}

// Protocol encodes instruction packets and decodes status packets for one protocol version.
type Protocol struct {
	version int
	order   binary.ByteOrder
}

// NewProtocol returns a codec for the given protocol version.
func NewProtocol(version int) *Protocol {
	p := &Protocol{version: version, order: binary.LittleEndian}
	if version == ProtocolSCS {
		p.order = binary.BigEndian
	}
	return p
}

// Version returns the protocol version.
func (p *Protocol) Version() int {
	return p.version
}

// EncodeWord converts a 16-bit value to wire order.
func (p *Protocol) EncodeWord(value uint16) []byte {
	buf := make([]byte, 2)
	p.order.PutUint16(buf, value)
	return buf
}

// DecodeWord converts two wire-order bytes to a 16-bit value.
func (p *Protocol) DecodeWord(data []byte) uint16 {
	if len(data) < 2 {
		return 0
	}
	return p.order.Uint16(data)
}

// Encode builds the wire form of an instruction packet.
func (p *Protocol) Encode(pkt Packet) []byte {
	buf := make([]byte, 0, packetOverhead+len(pkt.Parameters))
	buf = append(buf, headerByte, headerByte, pkt.ID, byte(len(pkt.Parameters)+2), pkt.Instruction)
	buf = append(buf, pkt.Parameters...)
	return append(buf, checksum(buf[2:]))
}

// Decode parses the first status packet found in data.
// It returns the packet and the number of bytes consumed, including any garbage before the header.
func (p *Protocol) Decode(data []byte) (Packet, int, error) {
	if len(data) < packetOverhead {
		return Packet{}, 0, errors.New("packet too short")
	}

	start := -1
	for i := 0; i+1 < len(data); i++ {
		if data[i] == headerByte && data[i+1] == headerByte {
			start = i
			break
		}
	}
	if start < 0 {
		return Packet{}, 0, errors.New("header not found")
	}

	frame := data[start:]
	if len(frame) < packetOverhead {
		return Packet{}, 0, errors.New("packet too short after header")
	}

	length := int(frame[3])
	if length < 2 {
		return Packet{}, 0, fmt.Errorf("invalid length field %d", length)
	}
	total := 4 + length
	if len(frame) < total {
		return Packet{}, 0, fmt.Errorf("incomplete packet: need %d bytes, have %d", total, len(frame))
	}

	want := checksum(frame[2 : total-1])
	if got := frame[total-1]; got != want {
		return Packet{}, 0, fmt.Errorf("checksum mismatch: expected 0x%02X, got 0x%02X", want, got)
	}

	pkt := Packet{
		ID:    frame[2],
		Error: StatusError(frame[4]),
	}
	if n := length - 2; n > 0 {
		pkt.Parameters = append([]byte(nil), frame[5:5+n]...)
	}

	return pkt, start + total, nil
}

// ResponseLength is the wire length of a status packet carrying dataLen parameter bytes.
func (p *Protocol) ResponseLength(dataLen int) int {
	return packetOverhead + dataLen
}

// PingPacket builds a PING instruction.
func (p *Protocol) PingPacket(id byte) []byte {
	return p.Encode(Packet{ID: id, Instruction: InstPing})
}

// ReadPacket builds a READ instruction for length bytes starting at address.
func (p *Protocol) ReadPacket(id, address, length byte) []byte {
	return p.Encode(Packet{ID: id, Instruction: InstRead, Parameters: []byte{address, length}})
}

// WritePacket builds a WRITE instruction storing data at address.
func (p *Protocol) WritePacket(id, address byte, data []byte) []byte {
	params := append([]byte{address}, data...)
	return p.Encode(Packet{ID: id, Instruction: InstWrite, Parameters: params})
}

func checksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return ^sum
}
