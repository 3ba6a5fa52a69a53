package network

import (
	"errors"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

var (
	// ErrNotOpen is returned when reading from a source that was never
	// opened or has been closed.
	ErrNotOpen = errors.New("capture source not open")

	// ErrTimeout is returned by NextPacket when no packet arrived within the
	// source's read timeout. Callers re-check their run state and read again.
	ErrTimeout = errors.New("capture read timed out")

	// ErrPCAPUnsupported is returned by live capture in builds without the
	// pcap tag.
	ErrPCAPUnsupported = errors.New("live capture not enabled: rebuild with -tags=pcap")
)

// ethernetUDPHeaderBytes is the Ethernet + IPv4 + UDP header length assumed
// when a frame cannot be decoded down to its UDP layer.
const ethernetUDPHeaderBytes = 42

// Packet is one captured datagram.
type Packet struct {
	// Data holds the captured bytes, starting at the link layer for pcap
	// sources and at the UDP payload for UDPSource.
	Data []byte
	// WireLength is the original length of the packet on the wire, which may
	// exceed len(Data) when the capture was truncated.
	WireLength int
	// HeaderLength is the number of bytes in Data before the UDP payload.
	HeaderLength int
	Timestamp    time.Time
}

// Seconds returns the capture time's Unix seconds.
func (p *Packet) Seconds() int64 { return p.Timestamp.Unix() }

// Micros returns the sub-second part of the capture time in microseconds.
func (p *Packet) Micros() int64 { return int64(p.Timestamp.Nanosecond() / 1000) }

// PacketSource supplies raw packets to the capture pipeline.
type PacketSource interface {
	// Open starts capturing from target: a file path, interface name or
	// listen address depending on the implementation.
	Open(target string) error

	// NextPacket returns the next packet. It returns io.EOF at the end of a
	// finite stream and ErrTimeout when a live source had nothing to read.
	NextPacket() (*Packet, error)

	// Close releases the source. It is safe to call more than once.
	Close() error
}

// udpPayload locates the UDP layer of a link-layer frame. It returns the
// number of bytes preceding the UDP payload and the UDP ports. ok is false
// when the frame does not decode to UDP.
func udpPayload(data []byte, linkType layers.LinkType) (headerLen int, src, dst layers.UDPPort, ok bool) {
	pkt := gopacket.NewPacket(data, linkType, gopacket.DecodeOptions{Lazy: true, NoCopy: true})
	udpLayer := pkt.Layer(layers.LayerTypeUDP)
	if udpLayer == nil {
		return 0, 0, 0, false
	}
	udp, isUDP := udpLayer.(*layers.UDP)
	if !isUDP {
		return 0, 0, 0, false
	}
	// Sum header contents rather than subtracting the payload from the end,
	// since short Ethernet frames carry trailing padding.
	for _, l := range pkt.Layers() {
		headerLen += len(l.LayerContents())
		if l.LayerType() == layers.LayerTypeUDP {
			break
		}
	}
	return headerLen, udp.SrcPort, udp.DstPort, true
}

// filterFrame applies an optional UDP port filter to a link-layer frame and
// works out its header length. port 0 accepts every frame, assuming an
// Ethernet/IPv4/UDP header for frames that do not decode.
func filterFrame(data []byte, linkType layers.LinkType, port int) (headerLen int, keep bool) {
	hl, src, dst, ok := udpPayload(data, linkType)
	if !ok {
		if port != 0 {
			return 0, false
		}
		return ethernetUDPHeaderBytes, true
	}
	if port != 0 && int(dst) != port && int(src) != port {
		return 0, false
	}
	return hl, true
}
