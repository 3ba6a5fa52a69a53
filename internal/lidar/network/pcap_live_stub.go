//go:build !pcap
// +build !pcap

package network

import "time"

// LiveCaptureSupported reports whether this build can capture from a
// network interface.
const LiveCaptureSupported = false

// PCAPLiveSource is a stub implementation when PCAP support is disabled.
// Build with -tags=pcap to enable live capture.
type PCAPLiveSource struct {
	Port    int
	Snaplen int
	Promisc bool
	Timeout time.Duration
}

// NewPCAPLiveSource returns a source whose Open always fails.
func NewPCAPLiveSource(port int) *PCAPLiveSource {
	return &PCAPLiveSource{Port: port, Snaplen: 65535, Promisc: true, Timeout: DefaultReadTimeout}
}

// Open returns ErrPCAPUnsupported.
func (s *PCAPLiveSource) Open(iface string) error { return ErrPCAPUnsupported }

// NextPacket returns ErrNotOpen.
func (s *PCAPLiveSource) NextPacket() (*Packet, error) { return nil, ErrNotOpen }

// Close is a no-op.
func (s *PCAPLiveSource) Close() error { return nil }
