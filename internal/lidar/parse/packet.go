package parse

import (
	"encoding/binary"
	"errors"
	"fmt"
)

/*
Velodyne VLP-16 / HDL-32E Data Packet Layout

Both sensors emit 1206-byte UDP payloads on port 2368 in single-return mode.
Captured on the wire each packet is a 1248-byte Ethernet frame: a 42-byte
Ethernet+IPv4+UDP header followed by the payload.

PAYLOAD STRUCTURE (1206 bytes, little-endian):
├── Firing blocks (1200 bytes) - 12 blocks × 100 bytes
│   └── Each block: 2-byte identifier (0xFFEE) + 2-byte rotation + 32 returns × 3 bytes
│       └── Each return: 2-byte distance (2mm units) + 1-byte intensity
├── GPS timestamp (4 bytes) - microseconds past the hour
├── Return mode (1 byte)
└── Sensor type (1 byte) - 0x21 HDL-32E, 0x22 VLP-16

The HDL-32E fills all 32 return slots from 32 lasers. The VLP-16 fires its 16
lasers twice per block; slots 16-31 hold the second firing sequence, which is
why channel numbers are taken modulo the model's laser count.
*/

const (
	FrameHeaderBytes   = 42                                            // Ethernet (14) + IPv4 (20) + UDP (8)
	BlocksPerPacket    = 12                                            // Firing blocks per packet
	LasersPerBlock     = 32                                            // Return slots per firing block
	ReturnBytes        = 3                                             // 2 bytes distance + 1 byte intensity
	BlockHeaderBytes   = 4                                             // 2 bytes identifier + 2 bytes rotation
	BlockBytes         = BlockHeaderBytes + LasersPerBlock*ReturnBytes // 100 bytes
	GPSTimestampOffset = BlocksPerPacket * BlockBytes                  // 1200
	ModeOffset         = GPSTimestampOffset + 4                        // 1204
	SensorTypeOffset   = ModeOffset + 1                                // 1205
	PayloadBytes       = SensorTypeOffset + 1                          // 1206
	FrameBytes         = FrameHeaderBytes + PayloadBytes               // 1248
	RotationUnits      = 36000                                         // Rotation field range, hundredths of a degree
	BlockIdentifier    = 0xEEFF                                        // 0xFFEE on the wire, read little-endian
	DistanceUnitMM     = 2.0                                           // Raw distance LSB in millimetres
)

var (
	// ErrInvalidSize marks a buffer whose length is not a whole data packet.
	ErrInvalidSize = errors.New("invalid packet size")

	// ErrUnknownSensorType marks a packet whose factory byte is neither
	// SensorTypeHDL32E nor SensorTypeVLP16.
	ErrUnknownSensorType = errors.New("unknown sensor type byte")

	// ErrInvalidRotation marks a firing block whose rotation field is >= RotationUnits.
	ErrInvalidRotation = errors.New("rotation out of range")
)

// LaserReturn is one laser's raw echo within a firing block.
type LaserReturn struct {
	Distance  uint16 // 2mm units, 0 = no return
	Intensity uint8
}

// FiringBlock is one rotation position and its 32 return slots.
type FiringBlock struct {
	BlockID  uint16
	Rotation uint16 // hundredths of a degree, [0, 36000)
	Returns  [LasersPerBlock]LaserReturn
}

// DataPacket is the decoded form of one 1206-byte payload.
type DataPacket struct {
	Blocks       [BlocksPerPacket]FiringBlock
	GPSTimestamp uint32
	Mode         uint8
	SensorType   uint8
}

// DecodeFrame validates and decodes a captured link-layer frame. wireLen is
// the original length reported by the capture source and headerLen the number
// of bytes preceding the UDP payload. Packets of any other size are rejected
// rather than partially parsed.
func DecodeFrame(data []byte, wireLen, headerLen int) (*DataPacket, error) {
	if wireLen-headerLen != PayloadBytes {
		return nil, fmt.Errorf("%w: expected %d payload bytes, got %d", ErrInvalidSize, PayloadBytes, wireLen-headerLen)
	}
	if headerLen < 0 || len(data) < headerLen+PayloadBytes {
		return nil, fmt.Errorf("%w: captured %d bytes, need %d", ErrInvalidSize, len(data), headerLen+PayloadBytes)
	}
	return Decode(data[headerLen : headerLen+PayloadBytes])
}

// Decode decodes a bare 1206-byte UDP payload.
func Decode(payload []byte) (*DataPacket, error) {
	if len(payload) != PayloadBytes {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidSize, PayloadBytes, len(payload))
	}

	sensorType := payload[SensorTypeOffset]
	if _, ok := ModelForSensorType(sensorType); !ok {
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownSensorType, sensorType)
	}

	pkt := &DataPacket{
		GPSTimestamp: binary.LittleEndian.Uint32(payload[GPSTimestampOffset : GPSTimestampOffset+4]),
		Mode:         payload[ModeOffset],
		SensorType:   sensorType,
	}

	for b := 0; b < BlocksPerPacket; b++ {
		block := payload[b*BlockBytes : (b+1)*BlockBytes]
		fb := &pkt.Blocks[b]
		fb.BlockID = binary.LittleEndian.Uint16(block[0:2])
		fb.Rotation = binary.LittleEndian.Uint16(block[2:4])
		if fb.Rotation >= RotationUnits {
			return nil, fmt.Errorf("%w: block %d rotation %d", ErrInvalidRotation, b, fb.Rotation)
		}

		off := BlockHeaderBytes
		for j := 0; j < LasersPerBlock; j++ {
			fb.Returns[j] = LaserReturn{
				Distance:  binary.LittleEndian.Uint16(block[off : off+2]),
				Intensity: block[off+2],
			}
			off += ReturnBytes
		}
	}

	return pkt, nil
}

// Model returns the sensor model named by the packet's factory byte.
func (p *DataPacket) Model() SensorModel {
	m, _ := ModelForSensorType(p.SensorType)
	return m
}

// Interpolated returns half the rotation advance between firing blocks 0 and
// 1, handling the 35999 -> 0 wrap. The same value is applied to the second
// half of the return slots in every block of the packet.
func (p *DataPacket) Interpolated() float64 {
	d := int(p.Blocks[1].Rotation) - int(p.Blocks[0].Rotation)
	if d < 0 {
		d += RotationUnits
	}
	return float64(d) / 2.0
}
