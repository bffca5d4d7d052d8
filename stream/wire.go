package stream

import (
	"encoding/binary"
	"fmt"
)

// Wire type tags shared with the client. All multi-byte fields are
// little-endian; layouts are fixed and versionless for compatibility with
// the deployed client decoder.
const (
	wireTypeVideo    uint32 = 1
	wireTypeTimeSync uint32 = 2
)

// VideoHeaderSize is the fixed serialized size of a VideoPacketHeader.
const VideoHeaderSize = 42

// MaxVideoPayloadSize is the shard payload capacity of one video packet.
const MaxVideoPayloadSize = 1400

// VideoPacketHeader precedes every video packet payload on the wire.
//
// FecIndex enumerates a frame's packets in reassembly order: all data-shard
// packets first, then parity-shard packets. The receiver needs no other
// ordering information to rebuild the shard set.
type VideoPacketHeader struct {
	PacketCounter      uint32 // monotonic across all video packets on the connection
	TrackingFrameIndex uint64 // upstream pose frame this video corresponds to
	VideoFrameIndex    uint64 // monotonic per packetizer call
	SentTime           uint64 // host clock, microseconds
	FrameByteSize      uint32 // pre-shard frame length
	FecIndex           uint32
	FecPercentage      uint16 // redundancy percentage at time of send
}

// Marshal serializes the header into its fixed 42-byte wire layout.
func (h *VideoPacketHeader) Marshal() []byte {
	buf := make([]byte, VideoHeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], wireTypeVideo)
	binary.LittleEndian.PutUint32(buf[4:8], h.PacketCounter)
	binary.LittleEndian.PutUint64(buf[8:16], h.TrackingFrameIndex)
	binary.LittleEndian.PutUint64(buf[16:24], h.VideoFrameIndex)
	binary.LittleEndian.PutUint64(buf[24:32], h.SentTime)
	binary.LittleEndian.PutUint32(buf[32:36], h.FrameByteSize)
	binary.LittleEndian.PutUint32(buf[36:40], h.FecIndex)
	binary.LittleEndian.PutUint16(buf[40:42], h.FecPercentage)
	return buf
}

// UnmarshalVideoPacketHeader parses the fixed header from the front of a
// video packet, returning the header and the remaining payload bytes.
func UnmarshalVideoPacketHeader(data []byte) (VideoPacketHeader, []byte, error) {
	if len(data) < VideoHeaderSize {
		return VideoPacketHeader{}, nil, fmt.Errorf("%w: video header needs %d bytes, got %d", ErrShortMessage, VideoHeaderSize, len(data))
	}
	if tag := binary.LittleEndian.Uint32(data[0:4]); tag != wireTypeVideo {
		return VideoPacketHeader{}, nil, fmt.Errorf("%w: got %d, want %d", ErrWrongPacketType, tag, wireTypeVideo)
	}

	h := VideoPacketHeader{
		PacketCounter:      binary.LittleEndian.Uint32(data[4:8]),
		TrackingFrameIndex: binary.LittleEndian.Uint64(data[8:16]),
		VideoFrameIndex:    binary.LittleEndian.Uint64(data[16:24]),
		SentTime:           binary.LittleEndian.Uint64(data[24:32]),
		FrameByteSize:      binary.LittleEndian.Uint32(data[32:36]),
		FecIndex:           binary.LittleEndian.Uint32(data[36:40]),
		FecPercentage:      binary.LittleEndian.Uint16(data[40:42]),
	}
	return h, data[VideoHeaderSize:], nil
}

// TimeSyncMode tags the four time-sync message shapes.
type TimeSyncMode uint32

const (
	// ModeClientStats is the client's periodic latency/FPS/loss report.
	ModeClientStats TimeSyncMode = 0
	// ModeLatencyReply is the host's reply to a client stats report,
	// echoing the computed end-to-end latency. Sent only, never received.
	ModeLatencyReply TimeSyncMode = 1
	// ModeRTTProbe is the client's echo of a host timestamp, from which
	// round-trip time and clock offset are derived.
	ModeRTTProbe TimeSyncMode = 2
	// ModeTrackingAck acknowledges a tracking-frame submission with the
	// client-relative host time. Sent only, never received.
	ModeTrackingAck TimeSyncMode = 3
)

// TimeSyncMessage is one of the four time-sync payload shapes. Each shape
// only carries the fields valid for its mode.
type TimeSyncMessage interface {
	// Mode returns the wire mode tag of the message.
	Mode() TimeSyncMode
	// Marshal serializes the message into its fixed wire layout.
	Marshal() []byte
}

// Serialized sizes, common 8-byte prefix (type tag + mode) included.
const (
	timeSyncPrefixSize   = 8
	clientStatsWireSize  = timeSyncPrefixSize + 68
	latencyReplyWireSize = timeSyncPrefixSize + 16
	rttProbeWireSize     = timeSyncPrefixSize + 16
	trackingAckWireSize  = timeSyncPrefixSize + 16
)

// ClientStatsReport (mode 0) is the client's measured latency breakdown and
// frame statistics. Latency fields are microseconds.
type ClientStatsReport struct {
	ClientTime              uint64
	PacketsLostTotal        uint64
	PacketsLostInWindow     uint64
	AverageTotalLatency     uint32
	AverageSendLatency      uint32
	AverageTransportLatency uint32
	AverageDecodeLatency    uint32
	IdleTime                uint32
	FecFailure              bool
	FecFailureInWindow      uint64
	FecFailureTotal         uint64
	FPS                     uint32
}

// Mode returns ModeClientStats.
func (m *ClientStatsReport) Mode() TimeSyncMode { return ModeClientStats }

// Marshal serializes the report into its fixed wire layout.
func (m *ClientStatsReport) Marshal() []byte {
	buf := make([]byte, clientStatsWireSize)
	putTimeSyncPrefix(buf, ModeClientStats)
	binary.LittleEndian.PutUint64(buf[8:16], m.ClientTime)
	binary.LittleEndian.PutUint64(buf[16:24], m.PacketsLostTotal)
	binary.LittleEndian.PutUint64(buf[24:32], m.PacketsLostInWindow)
	binary.LittleEndian.PutUint32(buf[32:36], m.AverageTotalLatency)
	binary.LittleEndian.PutUint32(buf[36:40], m.AverageSendLatency)
	binary.LittleEndian.PutUint32(buf[40:44], m.AverageTransportLatency)
	binary.LittleEndian.PutUint32(buf[44:48], m.AverageDecodeLatency)
	binary.LittleEndian.PutUint32(buf[48:52], m.IdleTime)
	var failure uint32
	if m.FecFailure {
		failure = 1
	}
	binary.LittleEndian.PutUint32(buf[52:56], failure)
	binary.LittleEndian.PutUint64(buf[56:64], m.FecFailureInWindow)
	binary.LittleEndian.PutUint64(buf[64:72], m.FecFailureTotal)
	binary.LittleEndian.PutUint32(buf[72:76], m.FPS)
	return buf
}

// LatencyReply (mode 1) echoes the computed total latency back to the
// client, stamped with the host's current time in microseconds.
type LatencyReply struct {
	ServerTime   uint64
	TotalLatency uint64
}

// Mode returns ModeLatencyReply.
func (m *LatencyReply) Mode() TimeSyncMode { return ModeLatencyReply }

// Marshal serializes the reply into its fixed wire layout.
func (m *LatencyReply) Marshal() []byte {
	buf := make([]byte, latencyReplyWireSize)
	putTimeSyncPrefix(buf, ModeLatencyReply)
	binary.LittleEndian.PutUint64(buf[8:16], m.ServerTime)
	binary.LittleEndian.PutUint64(buf[16:24], m.TotalLatency)
	return buf
}

// RTTProbeEcho (mode 2) carries a host timestamp echoed by the client
// together with the client's own clock reading, both microseconds.
type RTTProbeEcho struct {
	ServerTime uint64
	ClientTime uint64
}

// Mode returns ModeRTTProbe.
func (m *RTTProbeEcho) Mode() TimeSyncMode { return ModeRTTProbe }

// Marshal serializes the echo into its fixed wire layout.
func (m *RTTProbeEcho) Marshal() []byte {
	buf := make([]byte, rttProbeWireSize)
	putTimeSyncPrefix(buf, ModeRTTProbe)
	binary.LittleEndian.PutUint64(buf[8:16], m.ServerTime)
	binary.LittleEndian.PutUint64(buf[16:24], m.ClientTime)
	return buf
}

// TrackingAck (mode 3) acknowledges a tracking-frame submission, carrying
// the host time adjusted into the client's clock domain.
type TrackingAck struct {
	ServerTime         uint64
	TrackingFrameIndex uint64
}

// Mode returns ModeTrackingAck.
func (m *TrackingAck) Mode() TimeSyncMode { return ModeTrackingAck }

// Marshal serializes the acknowledgment into its fixed wire layout.
func (m *TrackingAck) Marshal() []byte {
	buf := make([]byte, trackingAckWireSize)
	putTimeSyncPrefix(buf, ModeTrackingAck)
	binary.LittleEndian.PutUint64(buf[8:16], m.ServerTime)
	binary.LittleEndian.PutUint64(buf[16:24], m.TrackingFrameIndex)
	return buf
}

// putTimeSyncPrefix writes the shared type tag and mode.
func putTimeSyncPrefix(buf []byte, mode TimeSyncMode) {
	binary.LittleEndian.PutUint32(buf[0:4], wireTypeTimeSync)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(mode))
}

// ParseTrackingFrameIndex reads the leading frame index from a tracking
// submission. The remainder of the tracking payload is the pose pipeline's
// concern and is not interpreted here.
func ParseTrackingFrameIndex(data []byte) (uint64, error) {
	if len(data) < 8 {
		return 0, fmt.Errorf("%w: tracking update needs 8 bytes, got %d", ErrShortMessage, len(data))
	}
	return binary.LittleEndian.Uint64(data[0:8]), nil
}

// ParseTimeSync parses a serialized time-sync message, dispatching on its
// mode tag to the matching payload shape.
//
// Returns ErrUnknownMode for modes this host does not handle; the caller is
// expected to drop such messages without mutating state.
func ParseTimeSync(data []byte) (TimeSyncMessage, error) {
	if len(data) < timeSyncPrefixSize {
		return nil, fmt.Errorf("%w: time-sync prefix needs %d bytes, got %d", ErrShortMessage, timeSyncPrefixSize, len(data))
	}
	if tag := binary.LittleEndian.Uint32(data[0:4]); tag != wireTypeTimeSync {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrWrongPacketType, tag, wireTypeTimeSync)
	}

	switch mode := TimeSyncMode(binary.LittleEndian.Uint32(data[4:8])); mode {
	case ModeClientStats:
		return parseClientStats(data)
	case ModeLatencyReply:
		return parseLatencyReply(data)
	case ModeRTTProbe:
		return parseRTTProbe(data)
	case ModeTrackingAck:
		return parseTrackingAck(data)
	default:
		return nil, fmt.Errorf("%w: mode %d", ErrUnknownMode, mode)
	}
}

func parseClientStats(data []byte) (*ClientStatsReport, error) {
	if len(data) < clientStatsWireSize {
		return nil, fmt.Errorf("%w: client stats report needs %d bytes, got %d", ErrShortMessage, clientStatsWireSize, len(data))
	}
	return &ClientStatsReport{
		ClientTime:              binary.LittleEndian.Uint64(data[8:16]),
		PacketsLostTotal:        binary.LittleEndian.Uint64(data[16:24]),
		PacketsLostInWindow:     binary.LittleEndian.Uint64(data[24:32]),
		AverageTotalLatency:     binary.LittleEndian.Uint32(data[32:36]),
		AverageSendLatency:      binary.LittleEndian.Uint32(data[36:40]),
		AverageTransportLatency: binary.LittleEndian.Uint32(data[40:44]),
		AverageDecodeLatency:    binary.LittleEndian.Uint32(data[44:48]),
		IdleTime:                binary.LittleEndian.Uint32(data[48:52]),
		FecFailure:              binary.LittleEndian.Uint32(data[52:56]) != 0,
		FecFailureInWindow:      binary.LittleEndian.Uint64(data[56:64]),
		FecFailureTotal:         binary.LittleEndian.Uint64(data[64:72]),
		FPS:                     binary.LittleEndian.Uint32(data[72:76]),
	}, nil
}

func parseLatencyReply(data []byte) (*LatencyReply, error) {
	if len(data) < latencyReplyWireSize {
		return nil, fmt.Errorf("%w: latency reply needs %d bytes, got %d", ErrShortMessage, latencyReplyWireSize, len(data))
	}
	return &LatencyReply{
		ServerTime:   binary.LittleEndian.Uint64(data[8:16]),
		TotalLatency: binary.LittleEndian.Uint64(data[16:24]),
	}, nil
}

func parseRTTProbe(data []byte) (*RTTProbeEcho, error) {
	if len(data) < rttProbeWireSize {
		return nil, fmt.Errorf("%w: rtt probe echo needs %d bytes, got %d", ErrShortMessage, rttProbeWireSize, len(data))
	}
	return &RTTProbeEcho{
		ServerTime: binary.LittleEndian.Uint64(data[8:16]),
		ClientTime: binary.LittleEndian.Uint64(data[16:24]),
	}, nil
}

func parseTrackingAck(data []byte) (*TrackingAck, error) {
	if len(data) < trackingAckWireSize {
		return nil, fmt.Errorf("%w: tracking ack needs %d bytes, got %d", ErrShortMessage, trackingAckWireSize, len(data))
	}
	return &TrackingAck{
		ServerTime:         binary.LittleEndian.Uint64(data[8:16]),
		TrackingFrameIndex: binary.LittleEndian.Uint64(data[16:24]),
	}, nil
}
