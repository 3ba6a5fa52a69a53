package network

import (
	"errors"
	"io"
	"sync"
	"time"
)

// MockSource implements PacketSource for testing.
type MockSource struct {
	mu sync.Mutex

	// Packets holds the packets to return from NextPacket.
	Packets []Packet

	// ReadIndex tracks the current position in Packets.
	ReadIndex int

	// OpenError is returned by Open if set.
	OpenError error

	// EndError is returned once Packets is exhausted. Defaults to io.EOF.
	EndError error

	// Hold makes an exhausted source behave like an idle live sensor:
	// NextPacket sleeps briefly and returns ErrTimeout until Close.
	Hold bool

	// OpenedTarget records the target passed to Open.
	OpenedTarget string

	// OpenCount and CloseCount count calls to Open and Close.
	OpenCount  int
	CloseCount int

	open bool
}

// NewMockSource creates a MockSource that replays packets then reports io.EOF.
func NewMockSource(packets ...Packet) *MockSource {
	return &MockSource{Packets: packets}
}

// AddFrame appends a link-layer frame with a 42-byte header.
func (m *MockSource) AddFrame(data []byte, ts time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Packets = append(m.Packets, Packet{
		Data:         data,
		WireLength:   len(data),
		HeaderLength: ethernetUDPHeaderBytes,
		Timestamp:    ts,
	})
}

// AddPayload appends a bare UDP payload.
func (m *MockSource) AddPayload(payload []byte, ts time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Packets = append(m.Packets, Packet{
		Data:       payload,
		WireLength: len(payload),
		Timestamp:  ts,
	})
}

// Open records the target and returns any configured error.
func (m *MockSource) Open(target string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.OpenCount++
	m.OpenedTarget = target
	if m.OpenError != nil {
		return m.OpenError
	}
	m.open = true
	return nil
}

// NextPacket returns the next packet from the mock buffer.
func (m *MockSource) NextPacket() (*Packet, error) {
	m.mu.Lock()
	if !m.open {
		m.mu.Unlock()
		return nil, ErrNotOpen
	}
	if m.ReadIndex < len(m.Packets) {
		pkt := m.Packets[m.ReadIndex]
		m.ReadIndex++
		m.mu.Unlock()
		return &pkt, nil
	}
	hold, end := m.Hold, m.EndError
	m.mu.Unlock()

	if hold {
		time.Sleep(time.Millisecond)
		return nil, ErrTimeout
	}
	if end != nil {
		return nil, end
	}
	return nil, io.EOF
}

// Close marks the source as closed.
func (m *MockSource) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CloseCount++
	m.open = false
	return nil
}

// IsOpen reports whether Open succeeded and Close has not been called since.
func (m *MockSource) IsOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.open
}

// Remaining returns the number of packets not yet read.
func (m *MockSource) Remaining() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Packets) - m.ReadIndex
}

// ErrMockRead is a convenience read failure for tests.
var ErrMockRead = errors.New("mock read failure")
