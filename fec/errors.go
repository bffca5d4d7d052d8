package fec

import "errors"

// Sentinel errors for fec package operations.
// These errors enable reliable error classification using errors.Is().

var (
	// ErrRedundancyOverflow indicates the frame length and redundancy
	// percentage combination requires more shards than the codec supports.
	// This is a fatal configuration error for the frame being sent; it must
	// never be silently truncated, since truncation would break the
	// any-N-of-(N+M) reconstruction guarantee.
	ErrRedundancyOverflow = errors.New("shard count exceeds codec maximum")

	// ErrInvalidGeometry indicates geometry inputs are out of range
	// (non-positive frame length, payload size, or redundancy percentage).
	ErrInvalidGeometry = errors.New("invalid shard geometry parameters")

	// ErrShardSizeMismatch indicates the shards passed to the codec are not
	// all of equal length.
	ErrShardSizeMismatch = errors.New("shards must be of equal length")
)
