// Package stream implements the host-side video transport core: frame
// packetization with adaptive erasure-coded redundancy, the bidirectional
// time-synchronization protocol, and rolling latency/bandwidth statistics.
//
// One Connection owns all per-client mutable state (redundancy percentage,
// clock offset, counters, latency histories) and is driven from two event
// sources: outgoing frame submissions (SendVideoFrame) and incoming protocol
// messages (OnTimeSyncMessage, OnTrackingUpdate, OnRedundancyFailureSignal).
// The two are serialized against each other at the connection boundary.
// Sending is fire-and-forget; the time-sync exchange is correlated only by
// the timestamps embedded in the messages themselves.
package stream
