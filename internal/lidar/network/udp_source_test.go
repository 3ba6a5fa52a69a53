package network

import (
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/velocap/internal/lidar/parse"
	"github.com/banshee-data/velocap/internal/testutil"
)

func TestUDPSource_ReceivesPayload(t *testing.T) {
	src := &UDPSource{ReadTimeout: 20 * time.Millisecond}
	require.NoError(t, src.Open("127.0.0.1:0"))
	defer src.Close()

	_, err := src.NextPacket()
	assert.ErrorIs(t, err, ErrTimeout, "idle socket times out")

	conn, err := net.Dial("udp", src.LocalAddr().String())
	require.NoError(t, err)
	defer conn.Close()

	payload := testutil.NewPacketBuilder(parse.ModelHDL32E).FillReturns(42, 1).Payload()
	_, err = conn.Write(payload)
	require.NoError(t, err)

	var pkt *Packet
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		pkt, err = src.NextPacket()
		if errors.Is(err, ErrTimeout) {
			continue
		}
		break
	}
	require.NoError(t, err)
	require.NotNil(t, pkt)
	assert.Equal(t, payload, pkt.Data)
	assert.Equal(t, parse.PayloadBytes, pkt.WireLength)
	assert.Zero(t, pkt.HeaderLength)
	assert.False(t, pkt.Timestamp.IsZero())

	_, err = parse.DecodeFrame(pkt.Data, pkt.WireLength, pkt.HeaderLength)
	assert.NoError(t, err)
}

func TestUDPSource_Lifecycle(t *testing.T) {
	src := NewUDPSource()

	_, err := src.NextPacket()
	assert.ErrorIs(t, err, ErrNotOpen)
	assert.Nil(t, src.LocalAddr())

	assert.Error(t, src.Open("not an address"))

	require.NoError(t, src.Open("127.0.0.1:0"))
	assert.Error(t, src.Open("127.0.0.1:0"), "double open")
	require.NoError(t, src.Close())
	require.NoError(t, src.Close())

	_, err = src.NextPacket()
	assert.ErrorIs(t, err, ErrNotOpen)
}

func TestMockSource(t *testing.T) {
	m := NewMockSource()
	m.AddPayload([]byte{1, 2, 3}, time.Unix(10, 0))

	_, err := m.NextPacket()
	assert.ErrorIs(t, err, ErrNotOpen)

	require.NoError(t, m.Open("sensor"))
	assert.Equal(t, "sensor", m.OpenedTarget)
	assert.True(t, m.IsOpen())

	pkt, err := m.NextPacket()
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, pkt.Data)
	assert.Zero(t, m.Remaining())

	_, err = m.NextPacket()
	assert.ErrorIs(t, err, io.EOF)

	m.EndError = ErrMockRead
	_, err = m.NextPacket()
	assert.ErrorIs(t, err, ErrMockRead)

	m.Hold = true
	_, err = m.NextPacket()
	assert.ErrorIs(t, err, ErrTimeout)

	require.NoError(t, m.Close())
	assert.False(t, m.IsOpen())
	assert.Equal(t, 1, m.CloseCount)
}

func TestPCAPLiveSource_Stub(t *testing.T) {
	if LiveCaptureSupported {
		t.Skip("built with live capture support")
	}
	src := NewPCAPLiveSource(2368)
	assert.ErrorIs(t, src.Open("eth0"), ErrPCAPUnsupported)
	_, err := src.NextPacket()
	assert.ErrorIs(t, err, ErrNotOpen)
	assert.NoError(t, src.Close())
}
