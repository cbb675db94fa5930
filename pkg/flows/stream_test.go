package flows

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamFromCapture(t *testing.T) {
	pkts := []gopacket.Packet{
		tcpPacket(t, t0, clientIP, 40000, serverIP, 80, tcpFlags{syn: true}, nil),
		tcpPacket(t, t0.Add(time.Millisecond), serverIP, 80, clientIP, 40000, tcpFlags{rst: true, ack: true}, nil),
		tcpPacket(t, t0.Add(2*time.Millisecond), clientIP, 40001, serverIP, 22, tcpFlags{syn: true}, nil),
	}

	// Round-trip through a capture file.
	var buf bytes.Buffer
	w := pcapgo.NewWriter(&buf)
	require.NoError(t, w.WriteFileHeader(65535, layers.LinkTypeEthernet))
	for _, p := range pkts {
		ci := p.Metadata().CaptureInfo
		ci.CaptureLength = len(p.Data())
		ci.Length = len(p.Data())
		require.NoError(t, w.WritePacket(ci, p.Data()))
	}

	r, err := pcapgo.NewReader(&buf)
	require.NoError(t, err)
	src := gopacket.NewPacketSource(r, r.LinkType())

	var got []Flow
	for f := range NewTracker().Stream(context.Background(), src.Packets()) {
		got = append(got, f)
	}

	require.Len(t, got, 2)
	assert.Equal(t, FlagREJ, got[0].Record.Flag)
	assert.Equal(t, "http", got[0].Record.Service)
	assert.Equal(t, FlagS0, got[1].Record.Flag, "open connection is flushed at end of capture")
	assert.Equal(t, "ssh", got[1].Record.Service)
	assert.True(t, got[0].Start.Equal(t0))
}

func TestStreamCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	packets := make(chan gopacket.Packet)

	out := NewTracker().Stream(ctx, packets)
	cancel()

	select {
	case _, ok := <-out:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("stream did not stop after cancel")
	}
}
