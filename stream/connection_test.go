package stream

import (
	"bytes"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/vrstream/fec"
	"github.com/opd-ai/vrstream/transport"
)

// mockClock is a TimeProvider tests advance by hand.
type mockClock struct {
	mu  sync.Mutex
	now time.Time
}

func newMockClock() *mockClock {
	return &mockClock{now: time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)}
}

func (c *mockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *mockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// captureTransport records every sent packet instead of touching the
// network.
type captureTransport struct {
	mu      sync.Mutex
	packets []*transport.Packet
	addrs   []net.Addr
}

func (t *captureTransport) Send(packet *transport.Packet, addr net.Addr) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	// Send callers may reuse buffers; keep a stable copy.
	data := make([]byte, len(packet.Data))
	copy(data, packet.Data)
	t.packets = append(t.packets, &transport.Packet{PacketType: packet.PacketType, Data: data})
	t.addrs = append(t.addrs, addr)
	return nil
}

func (t *captureTransport) Close() error        { return nil }
func (t *captureTransport) LocalAddr() net.Addr { return testAddr("host") }
func (t *captureTransport) RegisterHandler(transport.PacketType, transport.PacketHandler) {
}

func (t *captureTransport) sent() []*transport.Packet {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*transport.Packet, len(t.packets))
	copy(out, t.packets)
	return out
}

// testAddr is a trivial net.Addr for wiring connections in tests.
type testAddr string

func (a testAddr) Network() string { return "udp" }
func (a testAddr) String() string  { return string(a) }

func newTestConnection(t *testing.T, cfg *Config) (*Connection, *captureTransport, *mockClock) {
	t.Helper()
	clock := newMockClock()
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.TimeProvider = clock
	tr := &captureTransport{}
	conn, err := NewConnection(cfg, tr, testAddr("client"))
	require.NoError(t, err)
	return conn, tr, clock
}

func TestNewConnection(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *Config
		tr      transport.Transport
		remote  net.Addr
		wantErr bool
	}{
		{
			name:   "nil config uses defaults",
			cfg:    nil,
			tr:     &captureTransport{},
			remote: testAddr("client"),
		},
		{
			name:    "nil transport rejected",
			cfg:     DefaultConfig(),
			tr:      nil,
			remote:  testAddr("client"),
			wantErr: true,
		},
		{
			name:    "nil remote rejected",
			cfg:     DefaultConfig(),
			tr:      &captureTransport{},
			remote:  nil,
			wantErr: true,
		},
		{
			name:    "negative payload size rejected",
			cfg:     &Config{PayloadSize: -1},
			tr:      &captureTransport{},
			remote:  testAddr("client"),
			wantErr: true,
		},
		{
			name: "invalid redundancy config rejected",
			cfg: &Config{
				Redundancy: &RedundancyConfig{Enabled: true, InitialPercentage: -5},
			},
			tr:      &captureTransport{},
			remote:  testAddr("client"),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, err := NewConnection(tt.cfg, tt.tr, tt.remote)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, conn)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, conn)
		})
	}
}

func TestSendVideoFrameProtectedLayout(t *testing.T) {
	// 50000 bytes at 20% redundancy and 1400-byte payloads: 3 packets per
	// shard, 4200-byte blocks, 12 data + 3 parity shards, 45 packets.
	cfg := DefaultConfig()
	cfg.Redundancy = &RedundancyConfig{
		Enabled:           true,
		InitialPercentage: 20,
		MaxPercentage:     20,
		StepPercentage:    5,
		FailureCooldown:   time.Minute,
	}
	conn, tr, _ := newTestConnection(t, cfg)

	frame := make([]byte, 50000)
	for i := range frame {
		frame[i] = byte(i * 31)
	}
	require.NoError(t, conn.SendVideoFrame(frame, 7))

	packets := tr.sent()
	require.Len(t, packets, 45)

	totalBytes := 0
	for i, p := range packets {
		assert.Equal(t, transport.PacketVideoFrame, p.PacketType)

		header, payload, err := UnmarshalVideoPacketHeader(p.Data)
		require.NoError(t, err)
		assert.Equal(t, uint32(i), header.PacketCounter)
		assert.Equal(t, uint32(i), header.FecIndex)
		assert.Equal(t, uint64(7), header.TrackingFrameIndex)
		assert.Equal(t, uint64(1), header.VideoFrameIndex)
		assert.Equal(t, uint32(50000), header.FrameByteSize)
		assert.Equal(t, uint16(20), header.FecPercentage)
		assert.Len(t, payload, 1400)

		totalBytes += len(p.Data)
	}
	assert.Equal(t, 45*(VideoHeaderSize+1400), totalBytes)

	// The data-shard packets in FecIndex order reproduce the frame.
	var reassembled []byte
	for _, p := range packets[:36] {
		_, payload, err := UnmarshalVideoPacketHeader(p.Data)
		require.NoError(t, err)
		reassembled = append(reassembled, payload...)
	}
	assert.Equal(t, frame, reassembled[:len(frame)])
	for _, b := range reassembled[len(frame):] {
		assert.Zero(t, b)
	}
}

func TestSendVideoFrameProtectedRecoversFromLoss(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Redundancy = &RedundancyConfig{
		Enabled:           true,
		InitialPercentage: 20,
		MaxPercentage:     20,
		StepPercentage:    5,
		FailureCooldown:   time.Minute,
	}
	conn, tr, _ := newTestConnection(t, cfg)

	frame := make([]byte, 50000)
	for i := range frame {
		frame[i] = byte(i ^ (i >> 8))
	}
	require.NoError(t, conn.SendVideoFrame(frame, 1))

	geo, err := fec.ComputeGeometry(len(frame), 20, 1400)
	require.NoError(t, err)
	require.Equal(t, 12, geo.DataShards)
	require.Equal(t, 3, geo.ParityShards)

	// Reassemble shards from packets, then drop as many data shards as
	// there is parity and let the codec rebuild them.
	shards := make([][]byte, geo.TotalShards())
	for _, p := range tr.sent() {
		header, payload, err := UnmarshalVideoPacketHeader(p.Data)
		require.NoError(t, err)
		shard := int(header.FecIndex) / geo.ShardPackets
		shards[shard] = append(shards[shard], payload...)
	}

	shards[0] = nil
	shards[5] = nil
	shards[11] = nil

	codec, err := fec.NewCodec(geo.DataShards, geo.ParityShards)
	require.NoError(t, err)
	require.NoError(t, codec.Reconstruct(shards))

	recovered := bytes.Join(shards[:geo.DataShards], nil)
	assert.Equal(t, frame, recovered[:len(frame)])
}

func TestSendVideoFramePlainChunking(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Redundancy = &RedundancyConfig{Enabled: false}
	cfg.PayloadSize = 1000
	conn, tr, _ := newTestConnection(t, cfg)

	frame := make([]byte, 2500)
	for i := range frame {
		frame[i] = byte(i)
	}
	require.NoError(t, conn.SendVideoFrame(frame, 3))

	packets := tr.sent()
	require.Len(t, packets, 3)

	var reassembled []byte
	for i, p := range packets {
		header, payload, err := UnmarshalVideoPacketHeader(p.Data)
		require.NoError(t, err)
		assert.Equal(t, uint32(i), header.FecIndex)
		assert.Equal(t, uint16(0), header.FecPercentage)
		reassembled = append(reassembled, payload...)
	}
	assert.Len(t, packets[2].Data, VideoHeaderSize+500)
	assert.Equal(t, frame, reassembled)
}

func TestSendVideoFrameZeroLength(t *testing.T) {
	conn, tr, _ := newTestConnection(t, nil)

	require.NoError(t, conn.SendVideoFrame(nil, 1))
	assert.Empty(t, tr.sent())

	// The dropped frame still consumed a frame index.
	frame := make([]byte, 100)
	require.NoError(t, conn.SendVideoFrame(frame, 2))
	packets := tr.sent()
	require.NotEmpty(t, packets)
	header, _, err := UnmarshalVideoPacketHeader(packets[0].Data)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), header.VideoFrameIndex)
}

func TestSendVideoFrameRedundancyOverflow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Redundancy = &RedundancyConfig{
		Enabled:           true,
		InitialPercentage: 1000,
		MaxPercentage:     1000,
		StepPercentage:    5,
		FailureCooldown:   time.Minute,
	}
	conn, tr, _ := newTestConnection(t, cfg)

	err := conn.SendVideoFrame(make([]byte, 50000), 1)
	assert.ErrorIs(t, err, fec.ErrRedundancyOverflow)
	assert.Empty(t, tr.sent())

	// Connection stays usable at a workable size.
	require.NoError(t, conn.SendVideoFrame(make([]byte, 1000), 2))
	assert.NotEmpty(t, tr.sent())
}

func TestPacketCounterSpansFrames(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Redundancy = &RedundancyConfig{Enabled: false}
	cfg.PayloadSize = 1000
	conn, tr, _ := newTestConnection(t, cfg)

	require.NoError(t, conn.SendVideoFrame(make([]byte, 2000), 1))
	require.NoError(t, conn.SendVideoFrame(make([]byte, 2000), 2))

	packets := tr.sent()
	require.Len(t, packets, 4)
	for i, p := range packets {
		header, _, err := UnmarshalVideoPacketHeader(p.Data)
		require.NoError(t, err)
		assert.Equal(t, uint32(i), header.PacketCounter)
	}

	last, _, err := UnmarshalVideoPacketHeader(packets[3].Data)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), last.VideoFrameIndex)
}

func TestStatisticsSnapshotCountsWireBytes(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Redundancy = &RedundancyConfig{Enabled: false}
	cfg.PayloadSize = 1000
	conn, _, _ := newTestConnection(t, cfg)

	require.NoError(t, conn.SendVideoFrame(make([]byte, 2500), 1))

	snap := conn.StatisticsSnapshot()
	assert.Equal(t, uint64(3), snap.PacketsSentTotal)
	assert.Equal(t, uint64(3*VideoHeaderSize+2500)*8, snap.BitsSentTotal)
	assert.Equal(t, 0, snap.FecPercentage)
}
