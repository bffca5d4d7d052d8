// Package fec implements the erasure-coding layer used to protect video
// frames against datagram loss.
//
// This package handles shard geometry (how a frame of a given length is cut
// into equal-length data shards plus computed parity shards for a requested
// redundancy percentage) and wraps a systematic Reed-Solomon codec: with N
// data shards and M parity shards, any N of the N+M shards are sufficient to
// reconstruct the original data.
//
// The codec treats shards purely as opaque equal-length byte blocks. It has
// no knowledge of wire packets or headers; packetization lives in the stream
// package.
//
// Example:
//
//	geo, err := fec.ComputeGeometry(frameLen, 20, fec.DefaultShardPayloadSize)
//	if err != nil {
//	    return err
//	}
//	codec, err := fec.NewCodec(geo.DataShards, geo.ParityShards)
package fec
