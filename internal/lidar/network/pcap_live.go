//go:build pcap
// +build pcap

package network

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/gopacket/pcap"

	"github.com/banshee-data/velocap/internal/monitoring"
)

// LiveCaptureSupported reports whether this build can capture from a
// network interface.
const LiveCaptureSupported = true

// PCAPLiveSource captures from a network interface through libpcap.
// This type is only functional when building with the 'pcap' build tag.
type PCAPLiveSource struct {
	Port    int // BPF "udp port N" filter, 0 = none
	Snaplen int
	Promisc bool
	Timeout time.Duration

	mu     sync.Mutex
	handle *pcap.Handle
}

// NewPCAPLiveSource returns a live source filtering on UDP port.
func NewPCAPLiveSource(port int) *PCAPLiveSource {
	return &PCAPLiveSource{
		Port:    port,
		Snaplen: 65535,
		Promisc: true,
		Timeout: DefaultReadTimeout,
	}
}

// Open starts capturing on the named interface.
func (s *PCAPLiveSource) Open(iface string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handle != nil {
		return errors.New("live capture already open")
	}
	handle, err := pcap.OpenLive(iface, int32(s.Snaplen), s.Promisc, s.Timeout)
	if err != nil {
		return fmt.Errorf("failed to open interface %s: %w", iface, err)
	}
	if s.Port != 0 {
		filterStr := fmt.Sprintf("udp port %d", s.Port)
		if err := handle.SetBPFFilter(filterStr); err != nil {
			handle.Close()
			return fmt.Errorf("failed to set BPF filter '%s': %w", filterStr, err)
		}
		monitoring.Logf("PCAP BPF filter set: %s", filterStr)
	}
	s.handle = handle
	return nil
}

// NextPacket returns the next captured frame.
func (s *PCAPLiveSource) NextPacket() (*Packet, error) {
	s.mu.Lock()
	handle := s.handle
	s.mu.Unlock()
	if handle == nil {
		return nil, ErrNotOpen
	}

	data, ci, err := handle.ReadPacketData()
	switch {
	case err == pcap.NextErrorTimeoutExpired:
		return nil, ErrTimeout
	case errors.Is(err, io.EOF):
		return nil, io.EOF
	case err != nil:
		return nil, fmt.Errorf("live capture read: %w", err)
	}

	headerLen, _ := filterFrame(data, handle.LinkType(), 0)
	return &Packet{
		Data:         data,
		WireLength:   ci.Length,
		HeaderLength: headerLen,
		Timestamp:    ci.Timestamp,
	}, nil
}

// Close stops the capture.
func (s *PCAPLiveSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle != nil {
		s.handle.Close()
		s.handle = nil
	}
	return nil
}
