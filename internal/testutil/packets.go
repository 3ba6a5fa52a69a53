package testutil

import (
	"encoding/binary"
	"net"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/banshee-data/velocap/internal/lidar/parse"
)

// VelodyneDataPort is the UDP port Velodyne sensors send data packets to.
const VelodyneDataPort = 2368

// PacketBuilder assembles synthetic Velodyne data packets for tests.
// Every block starts with the standard identifier and rotation 0; every
// return starts with distance 0 (no echo).
type PacketBuilder struct {
	payload [parse.PayloadBytes]byte
}

// NewPacketBuilder returns a builder whose sensor-type byte names model.
func NewPacketBuilder(model parse.SensorModel) *PacketBuilder {
	b := &PacketBuilder{}
	for i := 0; i < parse.BlocksPerPacket; i++ {
		binary.LittleEndian.PutUint16(b.payload[i*parse.BlockBytes:], parse.BlockIdentifier)
	}
	b.payload[parse.SensorTypeOffset] = model.SensorType()
	b.payload[parse.ModeOffset] = 0x37 // strongest return
	return b
}

// Rotation sets the rotational position of one firing block.
func (b *PacketBuilder) Rotation(block int, rot uint16) *PacketBuilder {
	binary.LittleEndian.PutUint16(b.payload[block*parse.BlockBytes+2:], rot)
	return b
}

// Rotations sets block i to (start + i*step) mod 36000.
func (b *PacketBuilder) Rotations(start, step int) *PacketBuilder {
	for i := 0; i < parse.BlocksPerPacket; i++ {
		rot := (start + i*step) % parse.RotationUnits
		if rot < 0 {
			rot += parse.RotationUnits
		}
		b.Rotation(i, uint16(rot))
	}
	return b
}

// Return sets the distance and intensity of one return slot.
func (b *PacketBuilder) Return(block, slot int, distance uint16, intensity uint8) *PacketBuilder {
	off := block*parse.BlockBytes + parse.BlockHeaderBytes + slot*parse.ReturnBytes
	binary.LittleEndian.PutUint16(b.payload[off:], distance)
	b.payload[off+2] = intensity
	return b
}

// FillReturns sets every return slot of every block to distance.
func (b *PacketBuilder) FillReturns(distance uint16, intensity uint8) *PacketBuilder {
	for blk := 0; blk < parse.BlocksPerPacket; blk++ {
		for slot := 0; slot < parse.LasersPerBlock; slot++ {
			b.Return(blk, slot, distance, intensity)
		}
	}
	return b
}

// GPSTimestamp sets the trailing timestamp field.
func (b *PacketBuilder) GPSTimestamp(us uint32) *PacketBuilder {
	binary.LittleEndian.PutUint32(b.payload[parse.GPSTimestampOffset:], us)
	return b
}

// SensorType overrides the factory byte, e.g. to build an invalid packet.
func (b *PacketBuilder) SensorType(v byte) *PacketBuilder {
	b.payload[parse.SensorTypeOffset] = v
	return b
}

// Payload returns a copy of the 1206-byte UDP payload.
func (b *PacketBuilder) Payload() []byte {
	out := make([]byte, parse.PayloadBytes)
	copy(out, b.payload[:])
	return out
}

// Frame returns the payload wrapped in an Ethernet/IPv4/UDP frame addressed
// to VelodyneDataPort.
func (b *PacketBuilder) Frame(t testing.TB) []byte {
	t.Helper()
	return EthernetUDPFrame(t, b.Payload(), VelodyneDataPort)
}

// EthernetUDPFrame serialises payload behind 42 bytes of Ethernet, IPv4 and
// UDP headers, as a Velodyne sensor puts it on the wire.
func EthernetUDPFrame(t testing.TB, payload []byte, dstPort int) []byte {
	t.Helper()
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x60, 0x76, 0x88, 0x00, 0x00, 0x01},
		DstMAC:       net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.IPv4(192, 168, 1, 201),
		DstIP:    net.IPv4(255, 255, 255, 255),
	}
	udp := &layers.UDP{
		SrcPort: layers.UDPPort(dstPort),
		DstPort: layers.UDPPort(dstPort),
	}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		t.Fatalf("set checksum layer: %v", err)
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(payload)); err != nil {
		t.Fatalf("serialise frame: %v", err)
	}
	return buf.Bytes()
}
