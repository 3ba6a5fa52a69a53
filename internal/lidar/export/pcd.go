// Package export writes reconstructed frames as PCD v0.7 point cloud files.
package export

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/banshee-data/velocap/internal/lidar/l2frames"
	"github.com/banshee-data/velocap/internal/monitoring"
)

// Format is the DATA encoding of a PCD file.
type Format int

const (
	FormatBinary Format = iota
	FormatASCII
)

func (f Format) String() string {
	switch f {
	case FormatBinary:
		return "binary"
	case FormatASCII:
		return "ascii"
	}
	return fmt.Sprintf("Format(%d)", int(f))
}

// ParseFormat accepts "ascii" or "binary".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "binary", "":
		return FormatBinary, nil
	case "ascii":
		return FormatASCII, nil
	}
	return 0, fmt.Errorf("unsupported PCD format %q", s)
}

// pointSize is the byte size of one binary record: x y z as float32 plus a
// uint8 intensity.
const pointSize = 13

// Frame coordinates are millimetres; PCD files carry metres.
const mmPerMetre = 1000.0

// WritePCD writes f to out. Empty frames produce a valid header with zero
// points.
func WritePCD(out io.Writer, f *l2frames.Frame, format Format) error {
	if format != FormatBinary && format != FormatASCII {
		return fmt.Errorf("unsupported PCD format %v", format)
	}
	w := bufio.NewWriter(out)
	n := f.Len()

	fmt.Fprintf(w, "# .PCD v0.7 - frame %s (%s, ts %d)\n", f.ID, f.Model, f.Timestamp)
	fmt.Fprintf(w, "VERSION .7\n"+
		"FIELDS x y z intensity\n"+
		"SIZE 4 4 4 1\n"+
		"TYPE F F F U\n"+
		"COUNT 1 1 1 1\n")
	fmt.Fprintf(w, "WIDTH %d\nHEIGHT 1\nVIEWPOINT 0 0 0 1 0 0 0\nPOINTS %d\n", n, n)
	fmt.Fprintf(w, "DATA %s\n", format)

	var buf [pointSize]byte
	for _, p := range f.Points {
		x := float32(p.X / mmPerMetre)
		y := float32(p.Y / mmPerMetre)
		z := float32(p.Z / mmPerMetre)
		switch format {
		case FormatBinary:
			binary.LittleEndian.PutUint32(buf[0:], math.Float32bits(x))
			binary.LittleEndian.PutUint32(buf[4:], math.Float32bits(y))
			binary.LittleEndian.PutUint32(buf[8:], math.Float32bits(z))
			buf[12] = p.Intensity
			w.Write(buf[:])
		case FormatASCII:
			fmt.Fprintf(w, "%f %f %f %d\n", x, y, z, p.Intensity)
		}
	}
	return w.Flush()
}

// Sink writes every frame it is given to its own numbered file under Dir.
type Sink struct {
	dir    string
	prefix string
	format Format

	mu  sync.Mutex
	seq int
}

// NewSink creates dir if needed. Files are named <session>_<seq>.pcd; the
// session id is reduced to a safe file name first.
func NewSink(dir, sessionID string, format Format) (*Sink, error) {
	if dir == "" {
		return nil, fmt.Errorf("empty PCD output directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create PCD output directory: %w", err)
	}
	return &Sink{dir: filepath.Clean(dir), prefix: sanitizeFilename(sessionID), format: format}, nil
}

// WriteFrame writes f and returns the path of the new file.
func (s *Sink) WriteFrame(f *l2frames.Frame) (string, error) {
	s.mu.Lock()
	seq := s.seq
	s.seq++
	s.mu.Unlock()

	path := filepath.Join(s.dir, fmt.Sprintf("%s_%06d.pcd", s.prefix, seq))
	file, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if err := WritePCD(file, f, s.format); err != nil {
		file.Close()
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := file.Close(); err != nil {
		return "", err
	}
	monitoring.Debugf("Exported %d points to %s", f.Len(), path)
	return path, nil
}

// Written returns the number of files written so far.
func (s *Sink) Written() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

// sanitizeFilename keeps ASCII letters, digits, '.', '_' and '-', folding
// every other run of characters into one underscore.
func sanitizeFilename(s string) string {
	const maxLen = 64
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		if b.Len() >= maxLen {
			break
		}
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '_', r == '-':
			b.WriteRune(r)
			lastUnderscore = false
		case !lastUnderscore:
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "frames"
	}
	return out
}
