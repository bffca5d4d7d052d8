package stream

import "errors"

// Sentinel errors for stream package operations.
// These errors enable reliable error classification using errors.Is().

var (
	// ErrShortMessage indicates a wire buffer is smaller than the fixed
	// layout it claims to carry.
	ErrShortMessage = errors.New("message too short")

	// ErrWrongPacketType indicates the wire type tag does not match the
	// expected message family.
	ErrWrongPacketType = errors.New("unexpected packet type tag")

	// ErrUnknownMode indicates a time-sync message carries a mode this host
	// does not understand. Callers ignore these messages; no state is
	// mutated.
	ErrUnknownMode = errors.New("unknown time-sync mode")
)
