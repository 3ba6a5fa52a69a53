package network

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/velocap/internal/lidar/parse"
	"github.com/banshee-data/velocap/internal/testutil"
)

type fixtureFrame struct {
	data []byte
	ts   time.Time
}

func writePCAP(t *testing.T, frames []fixtureFrame) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "capture.pcap")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := pcapgo.NewWriter(f)
	require.NoError(t, w.WriteFileHeader(65535, layers.LinkTypeEthernet))
	for _, fr := range frames {
		ci := gopacket.CaptureInfo{Timestamp: fr.ts, CaptureLength: len(fr.data), Length: len(fr.data)}
		require.NoError(t, w.WritePacket(ci, fr.data))
	}
	return path
}

func writePCAPNG(t *testing.T, frames []fixtureFrame) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "capture.pcapng")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w, err := pcapgo.NewNgWriter(f, layers.LinkTypeEthernet)
	require.NoError(t, err)
	for _, fr := range frames {
		ci := gopacket.CaptureInfo{Timestamp: fr.ts, CaptureLength: len(fr.data), Length: len(fr.data), InterfaceIndex: 0}
		require.NoError(t, w.WritePacket(ci, fr.data))
	}
	require.NoError(t, w.Flush())
	return path
}

func sampleFrames(t *testing.T) []fixtureFrame {
	t.Helper()
	base := time.Unix(1700000000, 5000)
	vlp := testutil.NewPacketBuilder(parse.ModelVLP16).Rotations(100, 20).FillReturns(1000, 10)
	other := testutil.EthernetUDPFrame(t, []byte("not lidar"), 9999)
	return []fixtureFrame{
		{vlp.Frame(t), base},
		{other, base.Add(time.Millisecond)},
		{vlp.Frame(t), base.Add(2 * time.Millisecond)},
	}
}

func readAll(t *testing.T, src PacketSource) []*Packet {
	t.Helper()
	var out []*Packet
	for {
		pkt, err := src.NextPacket()
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		out = append(out, pkt)
	}
}

func TestPCAPFileSource_FiltersByPort(t *testing.T) {
	path := writePCAP(t, sampleFrames(t))

	src := NewPCAPFileSource(testutil.VelodyneDataPort)
	require.NoError(t, src.Open(path))
	defer src.Close()

	pkts := readAll(t, src)
	require.Len(t, pkts, 2)
	for _, p := range pkts {
		assert.Equal(t, parse.FrameBytes, p.WireLength)
		assert.Equal(t, parse.FrameHeaderBytes, p.HeaderLength)
		_, err := parse.DecodeFrame(p.Data, p.WireLength, p.HeaderLength)
		assert.NoError(t, err)
	}
	assert.Equal(t, int64(1700000000), pkts[0].Seconds())
	assert.Equal(t, int64(5), pkts[0].Micros())
	assert.Equal(t, int64(2005), pkts[1].Micros())
}

func TestPCAPFileSource_NoFilter(t *testing.T) {
	path := writePCAP(t, sampleFrames(t))

	src := NewPCAPFileSource(0)
	require.NoError(t, src.Open(path))
	defer src.Close()

	pkts := readAll(t, src)
	require.Len(t, pkts, 3)
	assert.Equal(t, len(pkts[1].Data), pkts[1].WireLength)
	assert.Equal(t, parse.FrameHeaderBytes, pkts[1].HeaderLength, "padding after a short payload is not header")
}

func TestPCAPFileSource_PCAPNG(t *testing.T) {
	path := writePCAPNG(t, sampleFrames(t))

	src := NewPCAPFileSource(testutil.VelodyneDataPort)
	require.NoError(t, src.Open(path))
	defer src.Close()

	assert.Len(t, readAll(t, src), 2)
}

func TestPCAPFileSource_Errors(t *testing.T) {
	src := NewPCAPFileSource(0)

	_, err := src.NextPacket()
	assert.ErrorIs(t, err, ErrNotOpen)

	assert.Error(t, src.Open(filepath.Join(t.TempDir(), "missing.pcap")))

	garbage := filepath.Join(t.TempDir(), "garbage.pcap")
	require.NoError(t, os.WriteFile(garbage, []byte("definitely not a capture file"), 0o644))
	assert.Error(t, src.Open(garbage))

	path := writePCAP(t, sampleFrames(t))
	require.NoError(t, src.Open(path))
	assert.Error(t, src.Open(path), "double open")

	require.NoError(t, src.Close())
	require.NoError(t, src.Close())
	_, err = src.NextPacket()
	assert.ErrorIs(t, err, ErrNotOpen)
}
