package fec

import (
	"fmt"

	"github.com/klauspost/reedsolomon"
	"github.com/sirupsen/logrus"
)

// Codec is a systematic Reed-Solomon erasure codec for a fixed shard layout.
//
// A Codec is created for a specific (data, parity) shard count pair and may
// be reused across frames sharing that layout. It is safe for concurrent use
// by multiple goroutines; the underlying encoder is stateless per call.
type Codec struct {
	enc          reedsolomon.Encoder
	dataShards   int
	parityShards int
}

// NewCodec creates a codec for the given shard counts.
//
// Parameters:
//   - dataShards: number of data shards (must be at least 1)
//   - parityShards: number of parity shards (must be at least 1)
//
// Returns:
//   - *Codec: the new codec instance
//   - error: ErrRedundancyOverflow when dataShards+parityShards exceeds
//     MaxShards, or the underlying encoder's construction error
func NewCodec(dataShards, parityShards int) (*Codec, error) {
	if dataShards < 1 || parityShards < 1 {
		return nil, fmt.Errorf("%w: data=%d parity=%d", ErrInvalidGeometry, dataShards, parityShards)
	}
	if dataShards+parityShards > MaxShards {
		logrus.WithFields(logrus.Fields{
			"function":      "NewCodec",
			"data_shards":   dataShards,
			"parity_shards": parityShards,
			"max_shards":    MaxShards,
		}).Error("Shard count exceeds codec maximum")
		return nil, fmt.Errorf("%w: %d+%d > %d", ErrRedundancyOverflow, dataShards, parityShards, MaxShards)
	}

	enc, err := reedsolomon.New(dataShards, parityShards)
	if err != nil {
		return nil, fmt.Errorf("creating reed-solomon encoder: %w", err)
	}

	return &Codec{
		enc:          enc,
		dataShards:   dataShards,
		parityShards: parityShards,
	}, nil
}

// DataShards returns the data shard count the codec was built for.
func (c *Codec) DataShards() int { return c.dataShards }

// ParityShards returns the parity shard count the codec was built for.
func (c *Codec) ParityShards() int { return c.parityShards }

// Encode fills the parity shards from the data shards.
//
// shards must contain dataShards+parityShards equal-length slices: the first
// dataShards entries hold frame data (the last one zero-padded to the block
// size), the remainder are pre-allocated parity buffers that Encode
// overwrites.
func (c *Codec) Encode(shards [][]byte) error {
	if err := c.checkShards(shards); err != nil {
		return err
	}
	if err := c.enc.Encode(shards); err != nil {
		return fmt.Errorf("encoding parity shards: %w", err)
	}
	return nil
}

// Reconstruct recovers missing shards in place.
//
// Missing shards are represented as nil entries. Reconstruction succeeds as
// long as at least dataShards entries are present. This mirrors what the
// receiving side performs after loss.
func (c *Codec) Reconstruct(shards [][]byte) error {
	if len(shards) != c.dataShards+c.parityShards {
		return fmt.Errorf("%w: got %d shards, want %d", ErrShardSizeMismatch, len(shards), c.dataShards+c.parityShards)
	}
	if err := c.enc.Reconstruct(shards); err != nil {
		return fmt.Errorf("reconstructing shards: %w", err)
	}
	return nil
}

// checkShards validates shard count and equal lengths before encoding.
func (c *Codec) checkShards(shards [][]byte) error {
	if len(shards) != c.dataShards+c.parityShards {
		return fmt.Errorf("%w: got %d shards, want %d", ErrShardSizeMismatch, len(shards), c.dataShards+c.parityShards)
	}
	size := len(shards[0])
	for i, s := range shards {
		if len(s) != size {
			return fmt.Errorf("%w: shard %d is %d bytes, want %d", ErrShardSizeMismatch, i, len(s), size)
		}
	}
	return nil
}
