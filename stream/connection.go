package stream

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/vrstream/fec"
	"github.com/opd-ai/vrstream/transport"
)

// Config carries a connection's fixed parameters and external
// collaborators. All fields are set at construction and never change for
// the connection lifetime.
type Config struct {
	// Redundancy configures the adaptive erasure-coding controller.
	// Nil selects DefaultRedundancyConfig().
	Redundancy *RedundancyConfig

	// PayloadSize is the wire-packet payload capacity in bytes.
	// Zero selects MaxVideoPayloadSize.
	PayloadSize int

	// SnapshotInterval is the statistics emission period.
	// Zero selects DefaultSnapshotInterval.
	SnapshotInterval time.Duration

	// TimeProvider supplies the host clock. Nil selects the system clock.
	TimeProvider TimeProvider

	// FrameTimings, when set, returns the host compositor's render, idle,
	// and wait durations in milliseconds for the latest frame. When nil the
	// host-side compositor contribution to the total-latency estimate is
	// zero; the platform fallback lives with the compositor collaborator.
	FrameTimings func() (renderMs, idleMs, waitMs float64)

	// EncodeLatencyAverage, when set, returns the upstream encoder's
	// current moving-average latency in microseconds.
	EncodeLatencyAverage func() uint64

	// OnSnapshot, when set, receives each periodic statistics snapshot.
	OnSnapshot func(Snapshot)
}

// DefaultConfig returns a configuration with production defaults and no
// external collaborators wired.
func DefaultConfig() *Config {
	return &Config{
		Redundancy:       DefaultRedundancyConfig(),
		PayloadSize:      MaxVideoPayloadSize,
		SnapshotInterval: DefaultSnapshotInterval,
	}
}

// Connection owns all mutable streaming state for one client: the
// redundancy percentage, clock offset, packet counters, and statistics.
// Frame submissions and incoming protocol messages are serialized against
// each other at this boundary; packetization for one frame never
// interleaves with another frame's on the same connection.
type Connection struct {
	mu     sync.Mutex
	cfg    *Config
	tr     transport.Transport
	remote net.Addr
	clock  TimeProvider

	redundancy *RedundancyController
	stats      *Aggregator

	// codecs caches erasure codecs by (data, parity) shard counts; frames
	// of similar size reuse the same layout.
	codecs map[[2]int]*fec.Codec

	videoFrameIndex uint64
	packetCounter   uint32

	rtt      uint64 // microseconds, latest probe wins
	timeDiff int64  // host clock minus client clock, microseconds
}

// NewConnection creates a connection sending through tr to remote.
//
// Parameters:
//   - cfg: connection configuration (nil selects DefaultConfig())
//   - tr: transport for outgoing packets
//   - remote: the client's address
//
// Returns:
//   - *Connection: the new connection
//   - error: invalid configuration or missing collaborators
func NewConnection(cfg *Config, tr transport.Transport, remote net.Addr) (*Connection, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if tr == nil {
		return nil, fmt.Errorf("transport cannot be nil")
	}
	if remote == nil {
		return nil, fmt.Errorf("remote address cannot be nil")
	}
	if cfg.PayloadSize == 0 {
		cfg.PayloadSize = MaxVideoPayloadSize
	}
	if cfg.PayloadSize < 0 {
		return nil, fmt.Errorf("payload size must be positive, got %d", cfg.PayloadSize)
	}
	if cfg.TimeProvider == nil {
		cfg.TimeProvider = RealTimeProvider{}
	}

	redundancy, err := NewRedundancyController(cfg.Redundancy)
	if err != nil {
		return nil, fmt.Errorf("configuring redundancy: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function":     "NewConnection",
		"remote_addr":  remote.String(),
		"payload_size": cfg.PayloadSize,
		"redundancy":   redundancy.Enabled(),
	}).Info("Creating stream connection")

	return &Connection{
		cfg:             cfg,
		tr:              tr,
		remote:          remote,
		clock:           cfg.TimeProvider,
		redundancy:      redundancy,
		stats:           NewAggregator(cfg.SnapshotInterval),
		codecs:          make(map[[2]int]*fec.Codec),
		videoFrameIndex: 1,
	}, nil
}

// SendVideoFrame packetizes one encoded video frame and sends it.
//
// The frame is split into wire packets of at most the configured payload
// size. With redundancy enabled, the frame is additionally protected with
// parity shards and every shard is emitted as a fixed number of full-size
// packets, data shards first, then parity shards, in FecIndex order.
// A zero-length frame produces zero packets.
//
// Parameters:
//   - buf: the encoded frame
//   - trackingFrameIndex: the pose frame this video corresponds to
//
// Returns:
//   - error: fec.ErrRedundancyOverflow when the frame cannot be protected
//     at the current redundancy and packet size; the frame is dropped and
//     the connection stays usable
func (c *Connection) SendVideoFrame(buf []byte, trackingFrameIndex uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	videoFrameIndex := c.videoFrameIndex
	c.videoFrameIndex++

	if len(buf) == 0 {
		return nil
	}

	header := VideoPacketHeader{
		TrackingFrameIndex: trackingFrameIndex,
		VideoFrameIndex:    videoFrameIndex,
		SentTime:           c.nowMicros(),
		FrameByteSize:      uint32(len(buf)),
	}

	var err error
	if c.redundancy.Enabled() {
		err = c.sendProtected(buf, header)
	} else {
		c.sendPlain(buf, header)
	}
	if err != nil {
		return err
	}

	c.stats.CountFrame()
	return nil
}

// sendPlain splits the frame into payload chunks without shard math.
// Caller holds the connection lock.
func (c *Connection) sendPlain(buf []byte, header VideoPacketHeader) {
	for offset, index := 0, uint32(0); offset < len(buf); index++ {
		end := offset + c.cfg.PayloadSize
		if end > len(buf) {
			end = len(buf)
		}
		header.FecIndex = index
		c.emitPacket(&header, buf[offset:end])
		offset = end
	}
}

// sendProtected applies the erasure codec and emits every shard's packets
// in FecIndex order. Caller holds the connection lock.
func (c *Connection) sendProtected(buf []byte, header VideoPacketHeader) error {
	pct := c.redundancy.Percentage()
	geo, err := fec.ComputeGeometry(len(buf), pct, c.cfg.PayloadSize)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":     "Connection.SendVideoFrame",
			"frame_length": len(buf),
			"redundancy":   pct,
			"error":        err.Error(),
		}).Error("Frame cannot be protected, dropping")
		return fmt.Errorf("computing shard geometry: %w", err)
	}

	codec, err := c.codecFor(geo)
	if err != nil {
		return err
	}

	shards := c.buildShards(buf, geo)
	if err := codec.Encode(shards); err != nil {
		return fmt.Errorf("encoding frame shards: %w", err)
	}

	header.FecPercentage = uint16(pct)
	fecIndex := uint32(0)
	for _, shard := range shards {
		for j := 0; j < geo.ShardPackets; j++ {
			header.FecIndex = fecIndex
			c.emitPacket(&header, shard[j*geo.PayloadSize:(j+1)*geo.PayloadSize])
			fecIndex++
		}
	}
	return nil
}

// buildShards cuts the frame into data shard views plus parity buffers.
// Full data shards alias the input buffer; only the padded trailing shard
// and the parity shards allocate.
func (c *Connection) buildShards(buf []byte, geo fec.Geometry) [][]byte {
	shards := make([][]byte, geo.TotalShards())
	for i := 0; i < geo.DataShards; i++ {
		start := i * geo.BlockSize
		if end := start + geo.BlockSize; end <= len(buf) {
			shards[i] = buf[start:end]
		} else {
			padded := make([]byte, geo.BlockSize)
			copy(padded, buf[start:])
			shards[i] = padded
		}
	}
	for i := geo.DataShards; i < geo.TotalShards(); i++ {
		shards[i] = make([]byte, geo.BlockSize)
	}
	return shards
}

// codecFor returns a cached codec for the geometry's shard counts.
func (c *Connection) codecFor(geo fec.Geometry) (*fec.Codec, error) {
	key := [2]int{geo.DataShards, geo.ParityShards}
	if codec, ok := c.codecs[key]; ok {
		return codec, nil
	}
	codec, err := fec.NewCodec(geo.DataShards, geo.ParityShards)
	if err != nil {
		return nil, err
	}
	c.codecs[key] = codec
	return codec, nil
}

// emitPacket stamps the global packet counter, sends one video packet, and
// counts its exact wire size. Sends are fire-and-forget; transport errors
// are logged and dropped, redundancy adaptation is the only retry-like
// mechanism in this core.
func (c *Connection) emitPacket(header *VideoPacketHeader, payload []byte) {
	header.PacketCounter = c.packetCounter
	c.packetCounter++

	data := append(header.Marshal(), payload...)
	packet := &transport.Packet{PacketType: transport.PacketVideoFrame, Data: data}
	if err := c.tr.Send(packet, c.remote); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":       "Connection.emitPacket",
			"packet_counter": header.PacketCounter,
			"error":          err.Error(),
		}).Warn("Failed to send video packet")
	}

	c.stats.CountPacket(VideoHeaderSize + len(payload))
}

// sendTimeSync serializes and sends one time-sync message.
func (c *Connection) sendTimeSync(msg TimeSyncMessage) {
	packet := &transport.Packet{PacketType: transport.PacketTimeSync, Data: msg.Marshal()}
	if err := c.tr.Send(packet, c.remote); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Connection.sendTimeSync",
			"mode":     msg.Mode(),
			"error":    err.Error(),
		}).Warn("Failed to send time-sync message")
	}
}

// RedundancyPercentage returns the current adaptive redundancy percentage.
func (c *Connection) RedundancyPercentage() int {
	return c.redundancy.Percentage()
}

// StatisticsSnapshot returns a read-only point-in-time view of the
// connection statistics without resetting any window counters.
func (c *Connection) StatisticsSnapshot() Snapshot {
	snap := c.stats.Snapshot(c.clock.Now())
	snap.FecPercentage = c.redundancy.Percentage()
	return snap
}

// nowMicros returns the host clock in microseconds.
func (c *Connection) nowMicros() uint64 {
	return uint64(c.clock.Now().UnixMicro())
}
