package network

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/banshee-data/velocap/internal/monitoring"
)

// Default socket settings for a live Velodyne feed.
const (
	DefaultRcvBuf      = 4 << 20
	DefaultReadTimeout = 100 * time.Millisecond
)

// UDPSource receives sensor datagrams directly from a UDP socket. Packets
// carry the bare payload, so HeaderLength is always 0.
type UDPSource struct {
	RcvBuf      int
	ReadTimeout time.Duration

	mu   sync.Mutex
	conn *net.UDPConn
	buf  []byte
}

// NewUDPSource returns a UDPSource with the default buffer and timeout.
func NewUDPSource() *UDPSource {
	return &UDPSource{RcvBuf: DefaultRcvBuf, ReadTimeout: DefaultReadTimeout}
}

// Open listens on address, e.g. ":2368".
func (s *UDPSource) Open(address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		return fmt.Errorf("UDP source already listening on %s", s.conn.LocalAddr())
	}

	addr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP address: %w", err)
	}
	if s.RcvBuf > 0 {
		if err := conn.SetReadBuffer(s.RcvBuf); err != nil {
			monitoring.Logf("Warning: Failed to set UDP receive buffer size to %d: %v", s.RcvBuf, err)
		}
	}

	s.conn = conn
	s.buf = make([]byte, 2048)
	monitoring.Logf("UDP source listening on %s", conn.LocalAddr())
	return nil
}

// LocalAddr returns the bound address, or nil when not open.
func (s *UDPSource) LocalAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// NextPacket waits up to ReadTimeout for one datagram. A closed socket reads
// as io.EOF.
func (s *UDPSource) NextPacket() (*Packet, error) {
	s.mu.Lock()
	conn, buf := s.conn, s.buf
	s.mu.Unlock()
	if conn == nil {
		return nil, ErrNotOpen
	}

	timeout := s.ReadTimeout
	if timeout <= 0 {
		timeout = DefaultReadTimeout
	}
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		if errors.Is(err, net.ErrClosed) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("failed to set UDP read deadline: %w", err)
	}

	n, _, err := conn.ReadFromUDP(buf)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, ErrTimeout
		}
		if errors.Is(err, net.ErrClosed) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("UDP read error: %w", err)
	}

	data := make([]byte, n)
	copy(data, buf[:n])
	return &Packet{
		Data:       data,
		WireLength: n,
		Timestamp:  time.Now(),
	}, nil
}

// Close closes the socket, unblocking any pending read.
func (s *UDPSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}
