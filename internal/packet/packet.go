// Package packet decodes the fixed 20-byte TSPV telemetry packet.
package packet

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

/*
Wire layout (20 bytes, multi-byte fields little-endian):

	offset  width  field
	0       1      version
	1       1      packet_id
	2       4      base_epoch (uint32 seconds)
	6       1      tspv[0].status1
	7       1      tspv[0].status2
	8       1      tspv[0].time_offset (int8 seconds)
	9       4      tspv[0].present_value (float32)
	13      1      tspv[1].status1
	14      1      tspv[1].status2
	15      1      tspv[1].time_offset (int8 seconds)
	16      4      tspv[1].present_value (float32)
*/

const (
	Length        = 20 // Fixed packet length in bytes
	SlotsPerPkt   = 2  // Number of TSPV slots carried by one packet
	ReservedID    = 0  // packet_id exempt from sequencing
	MaxID         = 255
	FirstID       = 1 // Canonical successor of MaxID
	baseEpochOff  = 2
	firstSlotOff  = 6
	slotSize      = 7
	presentValOff = 3 // Offset of present_value within a slot
)

var (
	// ErrNilBuffer is returned when Decode is given no buffer at all.
	ErrNilBuffer = errors.New("packet: nil buffer")
	// ErrLength is returned when a buffer is not exactly Length bytes.
	ErrLength = fmt.Errorf("packet: buffer must be %d bytes", Length)
)

// TSPV is one timed telemetry measurement slot.
type TSPV struct {
	Status1      uint8
	Status2      uint8
	TimeOffset   int8 // seconds relative to Packet.BaseEpoch
	PresentValue float32
}

// Packet is one decoded protocol message.
type Packet struct {
	Version   uint8
	PacketID  uint8
	BaseEpoch uint32
	TSPVs     [SlotsPerPkt]TSPV
}

// Epoch returns the absolute time in seconds of the given TSPV relative to the
// packet's base epoch. The addition is signed so offsets before the base epoch
// are preserved.
func (p Packet) Epoch(slot int) int64 {
	return int64(p.BaseEpoch) + int64(p.TSPVs[slot].TimeOffset)
}

// Decode reads a packet from its wire form. It performs no validation beyond
// the buffer being present and of the right length.
func Decode(data []byte) (Packet, error) {
	if data == nil {
		return Packet{}, ErrNilBuffer
	}
	if len(data) != Length {
		return Packet{}, fmt.Errorf("%w, got %d", ErrLength, len(data))
	}

	p := Packet{
		Version:   data[0],
		PacketID:  data[1],
		BaseEpoch: binary.LittleEndian.Uint32(data[baseEpochOff:]),
	}
	for i := range p.TSPVs {
		s := data[firstSlotOff+i*slotSize:]
		p.TSPVs[i] = TSPV{
			Status1:      s[0],
			Status2:      s[1],
			TimeOffset:   int8(s[2]),
			PresentValue: math.Float32frombits(binary.LittleEndian.Uint32(s[presentValOff:])),
		}
	}
	return p, nil
}

// AppendBinary appends the wire form of p to b.
func (p Packet) AppendBinary(b []byte) ([]byte, error) {
	b = append(b, p.Version, p.PacketID)
	b = binary.LittleEndian.AppendUint32(b, p.BaseEpoch)
	for _, t := range p.TSPVs {
		b = append(b, t.Status1, t.Status2, byte(t.TimeOffset))
		b = binary.LittleEndian.AppendUint32(b, math.Float32bits(t.PresentValue))
	}
	return b, nil
}

// Encode returns the 20-byte wire form of p.
func Encode(p Packet) []byte {
	b, _ := p.AppendBinary(make([]byte, 0, Length))
	return b
}

// NextID returns the id that should follow id in normal sequencing, skipping
// the reserved id on wrap.
func NextID(id uint8) uint8 {
	if id == MaxID {
		return FirstID
	}
	return id + 1
}
