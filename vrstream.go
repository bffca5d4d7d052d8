// Package vrstream implements the host side of a real-time VR video
// streaming protocol: adaptive erasure-coded packetization of encoded
// frames, time synchronization against the headset client, and rolling
// latency/bandwidth statistics.
//
// The Host ties a datagram transport to one stream connection. Video
// encoding, pose prediction, and the compositor are external collaborators
// reached through narrow callbacks on Options.
//
// Example:
//
//	host, err := vrstream.New(vrstream.NewOptions())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer host.Close()
//
//	host.SendVideoFrame(frame, trackingFrameIndex)
package vrstream

import (
	"fmt"
	"net"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/vrstream/stream"
	"github.com/opd-ai/vrstream/transport"
)

// Options contains host configuration. All values are fixed at
// construction.
type Options struct {
	// ListenAddr is the UDP listen address, e.g. ":9944".
	ListenAddr string

	// Redundancy configures adaptive erasure coding. Nil selects the
	// production defaults.
	Redundancy *stream.RedundancyConfig

	// EnableEncryption wraps the transport in Noise-XX sessions. The
	// control channel of a client without a completed session is dropped
	// by the secure transport.
	EnableEncryption bool

	// StaticPrivateKey is the host's X25519 identity key when encryption
	// is enabled. Zero means generate a fresh key.
	StaticPrivateKey [32]byte

	// FrameTimings optionally supplies compositor render/idle/wait
	// durations in milliseconds.
	FrameTimings func() (renderMs, idleMs, waitMs float64)

	// EncodeLatencyAverage optionally supplies the encoder's moving
	// average latency in microseconds.
	EncodeLatencyAverage func() uint64
}

// NewOptions returns options with production defaults.
func NewOptions() *Options {
	return &Options{
		ListenAddr: ":9944",
		Redundancy: stream.DefaultRedundancyConfig(),
	}
}

// StatisticsCallback receives periodic statistics snapshots.
type StatisticsCallback func(stream.Snapshot)

// Host is a streaming host instance: one transport, at most one connected
// client. A new client address replaces the previous connection; latest
// client wins.
type Host struct {
	options   *Options
	transport transport.Transport
	keyPair   *transport.KeyPair

	mu         sync.RWMutex
	conn       *stream.Connection
	clientAddr net.Addr

	statsCallback StatisticsCallback
}

// New creates a streaming host listening for client protocol messages.
//
// Parameters:
//   - options: host configuration (nil selects NewOptions())
//
// Returns:
//   - *Host: the new host
//   - error: transport or key setup failure
func New(options *Options) (*Host, error) {
	if options == nil {
		options = NewOptions()
	}

	base, err := transport.NewUDPTransport(options.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("creating UDP transport: %w", err)
	}

	host := &Host{options: options}

	if options.EnableEncryption {
		keyPair, err := hostKeyPair(options)
		if err != nil {
			base.Close()
			return nil, err
		}
		secure, err := transport.NewSecureTransport(base, keyPair.Private)
		if err != nil {
			base.Close()
			return nil, fmt.Errorf("creating secure transport: %w", err)
		}
		host.keyPair = keyPair
		host.transport = secure
	} else {
		host.transport = base
	}

	host.transport.RegisterHandler(transport.PacketTimeSync, host.handleTimeSync)
	host.transport.RegisterHandler(transport.PacketTrackingUpdate, host.handleTrackingUpdate)
	host.transport.RegisterHandler(transport.PacketVideoErrorReport, host.handleVideoErrorReport)

	logrus.WithFields(logrus.Fields{
		"function":    "New",
		"listen_addr": host.transport.LocalAddr().String(),
		"encryption":  options.EnableEncryption,
	}).Info("Streaming host created")

	return host, nil
}

// hostKeyPair loads or generates the host identity key.
func hostKeyPair(options *Options) (*transport.KeyPair, error) {
	var zero [32]byte
	if options.StaticPrivateKey == zero {
		keyPair, err := transport.GenerateKeyPair()
		if err != nil {
			return nil, fmt.Errorf("generating identity key: %w", err)
		}
		return keyPair, nil
	}
	keyPair, err := transport.FromSecretKey(options.StaticPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("loading identity key: %w", err)
	}
	return keyPair, nil
}

// PublicKey returns the host's identity public key, or zeros when
// encryption is disabled.
func (h *Host) PublicKey() [32]byte {
	if h.keyPair == nil {
		return [32]byte{}
	}
	return h.keyPair.Public
}

// LocalAddr returns the address the host is listening on.
func (h *Host) LocalAddr() net.Addr {
	return h.transport.LocalAddr()
}

// OnStatistics registers a callback for periodic statistics snapshots.
// Must be called before the first client connects.
func (h *Host) OnStatistics(callback StatisticsCallback) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.statsCallback = callback
}

// SendVideoFrame packetizes and sends one encoded frame to the connected
// client. Frames submitted with no client connected are dropped.
func (h *Host) SendVideoFrame(buf []byte, trackingFrameIndex uint64) error {
	conn := h.connection()
	if conn == nil {
		return nil
	}
	return conn.SendVideoFrame(buf, trackingFrameIndex)
}

// PoseTimeOffset returns how far into the future the pose predictor should
// extrapolate, in seconds (negative end-to-end latency). Zero with no
// client connected.
func (h *Host) PoseTimeOffset() float64 {
	conn := h.connection()
	if conn == nil {
		return 0
	}
	return conn.PoseTimeOffset()
}

// StatisticsSnapshot returns a point-in-time view of the current
// connection's statistics.
func (h *Host) StatisticsSnapshot() stream.Snapshot {
	conn := h.connection()
	if conn == nil {
		return stream.Snapshot{}
	}
	return conn.StatisticsSnapshot()
}

// Close shuts down the transport and drops all connection state.
func (h *Host) Close() error {
	h.mu.Lock()
	h.conn = nil
	h.clientAddr = nil
	h.mu.Unlock()
	return h.transport.Close()
}

// connection returns the current client connection, or nil.
func (h *Host) connection() *stream.Connection {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.conn
}

// connectionFor returns the connection for addr, creating one when a new
// client address appears. The latest client address wins; state for the
// previous client is dropped with its connection.
func (h *Host) connectionFor(addr net.Addr) (*stream.Connection, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.conn != nil && h.clientAddr != nil && h.clientAddr.String() == addr.String() {
		return h.conn, nil
	}

	cfg := stream.DefaultConfig()
	cfg.Redundancy = h.options.Redundancy
	cfg.FrameTimings = h.options.FrameTimings
	cfg.EncodeLatencyAverage = h.options.EncodeLatencyAverage
	if h.statsCallback != nil {
		callback := h.statsCallback
		cfg.OnSnapshot = func(snap stream.Snapshot) { callback(snap) }
	}

	conn, err := stream.NewConnection(cfg, h.transport, addr)
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function":    "Host.connectionFor",
		"client_addr": addr.String(),
	}).Info("Client connected")

	h.conn = conn
	h.clientAddr = addr
	return conn, nil
}

// handleTimeSync routes incoming time-sync messages to the connection.
func (h *Host) handleTimeSync(packet *transport.Packet, addr net.Addr) error {
	conn, err := h.connectionFor(addr)
	if err != nil {
		return err
	}
	conn.OnTimeSyncMessage(packet.Data)
	return nil
}

// handleTrackingUpdate acknowledges a tracking submission. The tracking
// payload itself belongs to the pose pipeline; this core only reads the
// leading frame index.
func (h *Host) handleTrackingUpdate(packet *transport.Packet, addr net.Addr) error {
	conn, err := h.connectionFor(addr)
	if err != nil {
		return err
	}
	frameIndex, err := stream.ParseTrackingFrameIndex(packet.Data)
	if err != nil {
		return nil
	}
	conn.OnTrackingUpdate(frameIndex)
	return nil
}

// handleVideoErrorReport forwards the client's direct failure signal.
func (h *Host) handleVideoErrorReport(_ *transport.Packet, addr net.Addr) error {
	conn, err := h.connectionFor(addr)
	if err != nil {
		return err
	}
	conn.OnRedundancyFailureSignal()
	return nil
}
