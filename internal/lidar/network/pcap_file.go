package network

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/banshee-data/velocap/internal/monitoring"
)

// pcapngMagic is the block type of a pcapng Section Header Block.
const pcapngMagic = 0x0A0D0D0A

type packetDataReader interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

// PCAPFileSource replays a pcap or pcapng capture file. It is pure Go and
// needs no libpcap.
type PCAPFileSource struct {
	// Port, when non-zero, keeps only UDP datagrams to or from this port.
	Port int

	mu       sync.Mutex
	file     *os.File
	reader   packetDataReader
	filename string
	read     int
	skipped  int
}

// NewPCAPFileSource returns a file source filtering on UDP port (0 = all).
func NewPCAPFileSource(port int) *PCAPFileSource {
	return &PCAPFileSource{Port: port}
}

// Open opens a capture file, detecting pcap or pcapng from its magic number.
func (s *PCAPFileSource) Open(filename string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file != nil {
		return fmt.Errorf("pcap source already open on %s", s.filename)
	}

	f, err := os.Open(filename)
	if err != nil {
		return fmt.Errorf("failed to open PCAP file %s: %w", filename, err)
	}

	br := bufio.NewReader(f)
	magic, err := br.Peek(4)
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to read PCAP header from %s: %w", filename, err)
	}

	var r packetDataReader
	if binary.LittleEndian.Uint32(magic) == pcapngMagic {
		r, err = pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
	} else {
		r, err = pcapgo.NewReader(br)
	}
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to parse PCAP file %s: %w", filename, err)
	}

	s.file = f
	s.reader = r
	s.filename = filename
	s.read = 0
	s.skipped = 0
	monitoring.Logf("PCAP replay opened: %s (link type %v, udp port filter %d)", filename, r.LinkType(), s.Port)
	return nil
}

// NextPacket returns the next frame that passes the port filter.
func (s *PCAPFileSource) NextPacket() (*Packet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.reader == nil {
		return nil, ErrNotOpen
	}

	for {
		data, ci, err := s.reader.ReadPacketData()
		if err != nil {
			if errors.Is(err, io.EOF) {
				monitoring.Debugf("PCAP replay of %s complete: %d packets, %d filtered", s.filename, s.read, s.skipped)
				return nil, io.EOF
			}
			return nil, fmt.Errorf("failed to read PCAP packet: %w", err)
		}

		headerLen, keep := filterFrame(data, s.reader.LinkType(), s.Port)
		if !keep {
			s.skipped++
			continue
		}
		s.read++

		return &Packet{
			Data:         data,
			WireLength:   ci.Length,
			HeaderLength: headerLen,
			Timestamp:    ci.Timestamp,
		}, nil
	}
}

// Close closes the underlying file.
func (s *PCAPFileSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	s.reader = nil
	return err
}
