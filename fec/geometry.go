package fec

// MaxShards is the hard ceiling on data + parity shards per frame.
//
// Shards beyond this count would make per-frame parity computation too
// expensive for the frame pacing budget and, more importantly, exceed what
// the receiving side is provisioned to reassemble. ComputeGeometry refuses
// geometries above this limit with ErrRedundancyOverflow.
const MaxShards = 20

// DefaultShardPayloadSize is the default wire-packet payload capacity in
// bytes. One shard spans one or more packets of exactly this size.
const DefaultShardPayloadSize = 1400

// Geometry describes how a single frame is split into shards.
//
// A frame of FrameLength bytes is cut into DataShards blocks of BlockSize
// bytes each (the last block zero-padded), where BlockSize is
// ShardPackets*PayloadSize. ParityShards additional blocks are computed by
// the codec so that roughly ParityShards/DataShards matches the requested
// redundancy percentage.
type Geometry struct {
	FrameLength  int // original (pre-shard) frame size in bytes
	PayloadSize  int // wire-packet payload capacity
	ShardPackets int // packets per shard
	BlockSize    int // ShardPackets * PayloadSize
	DataShards   int
	ParityShards int
}

// TotalShards returns the combined data and parity shard count.
func (g Geometry) TotalShards() int {
	return g.DataShards + g.ParityShards
}

// PacketCount returns the total number of wire packets the frame occupies,
// parity included. Every shard is emitted as exactly ShardPackets packets.
func (g Geometry) PacketCount() int {
	return g.TotalShards() * g.ShardPackets
}

// Padding returns the number of zero bytes appended to the last data shard.
func (g Geometry) Padding() int {
	return g.DataShards*g.BlockSize - g.FrameLength
}

// ParityShardCount returns the parity shard count for a given data shard
// count and redundancy percentage, rounded up so that parity/data is at
// least percentage/100. It is at least 1 for any positive percentage.
func ParityShardCount(dataShards, redundancyPct int) int {
	return (dataShards*redundancyPct + 99) / 100
}

// shardPacketCount computes how many wire packets make up a single shard.
//
// Small shards give finer-grained loss recovery, but the shard count per
// frame is capped at MaxShards. When a frame needs more than maxDataShards
// single-packet shards, multiple packets are combined into one shard.
// maxDataShards is the largest data shard count whose parity still fits
// under MaxShards at the given redundancy percentage.
func shardPacketCount(frameLen, redundancyPct, payloadSize int) int {
	maxDataShards := ((MaxShards-2)*100 + 99 + redundancyPct) / (100 + redundancyPct)
	minBlockSize := (frameLen + maxDataShards - 1) / maxDataShards
	shardPackets := (minBlockSize + payloadSize - 1) / payloadSize
	if shardPackets < 1 {
		shardPackets = 1
	}
	return shardPackets
}

// ComputeGeometry derives the shard layout for one frame.
//
// Parameters:
//   - frameLen: original frame size in bytes (must be positive)
//   - redundancyPct: parity-to-data ratio as a percentage (must be positive)
//   - payloadSize: wire-packet payload capacity (must be positive)
//
// Returns:
//   - Geometry: the computed layout
//   - error: ErrInvalidGeometry for out-of-range inputs, or
//     ErrRedundancyOverflow when the layout would exceed MaxShards
//     (frame too large or redundancy too high for the packet size)
func ComputeGeometry(frameLen, redundancyPct, payloadSize int) (Geometry, error) {
	if frameLen <= 0 || redundancyPct <= 0 || payloadSize <= 0 {
		return Geometry{}, ErrInvalidGeometry
	}

	shardPackets := shardPacketCount(frameLen, redundancyPct, payloadSize)
	blockSize := shardPackets * payloadSize
	dataShards := (frameLen + blockSize - 1) / blockSize
	parityShards := ParityShardCount(dataShards, redundancyPct)

	geo := Geometry{
		FrameLength:  frameLen,
		PayloadSize:  payloadSize,
		ShardPackets: shardPackets,
		BlockSize:    blockSize,
		DataShards:   dataShards,
		ParityShards: parityShards,
	}
	if geo.TotalShards() > MaxShards {
		return Geometry{}, ErrRedundancyOverflow
	}
	return geo, nil
}
