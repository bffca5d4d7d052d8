package stream

import (
	"sync"
	"time"
)

// DefaultSnapshotInterval is how often the aggregator emits a snapshot and
// resets its in-window counters.
const DefaultSnapshotInterval = 100 * time.Millisecond

// latencyWindowSize is the rolling sample capacity of each latency moving
// average.
const latencyWindowSize = 120

// movingAverage is a fixed-capacity rolling mean.
type movingAverage struct {
	samples []float64
	sum     float64
	next    int
	count   int
}

func newMovingAverage(capacity int) *movingAverage {
	return &movingAverage{samples: make([]float64, capacity)}
}

// Add records one sample, evicting the oldest once the window is full.
func (m *movingAverage) Add(v float64) {
	if m.count == len(m.samples) {
		m.sum -= m.samples[m.next]
	} else {
		m.count++
	}
	m.samples[m.next] = v
	m.sum += v
	m.next = (m.next + 1) % len(m.samples)
}

// Average returns the mean of the recorded samples, 0 when empty.
func (m *movingAverage) Average() float64 {
	if m.count == 0 {
		return 0
	}
	return m.sum / float64(m.count)
}

// Snapshot is an immutable point-in-time view of the aggregator. It is the
// sole channel through which the core reports observability data; the core
// does not format or transmit it.
type Snapshot struct {
	Timestamp time.Time

	PacketsSentTotal    uint64
	PacketsSentInWindow uint64
	BitsSentTotal       uint64
	BitsSentInWindow    uint64

	// Client-reported loss and FEC failure counters, latest report wins.
	PacketsLostTotal    uint64
	PacketsLostInWindow uint64
	FecFailuresTotal    uint64
	FecFailuresInWindow uint64

	// Moving averages, milliseconds.
	TotalLatencyMs     float64
	EncodeLatencyMs    float64
	TransportLatencyMs float64
	DecodeLatencyMs    float64
	PingMs             float64

	ClientFPS float64
	ServerFPS float64

	FecPercentage int
}

// Aggregator maintains the connection's rolling counters and moving
// averages. All methods are safe for concurrent use.
type Aggregator struct {
	mu       sync.RWMutex
	interval time.Duration

	lastSnapshot time.Time

	packetsSentTotal    uint64
	packetsSentInWindow uint64
	bitsSentTotal       uint64
	bitsSentInWindow    uint64
	framesInWindow      uint64

	packetsLostTotal    uint64
	packetsLostInWindow uint64
	fecFailuresTotal    uint64
	fecFailuresInWindow uint64

	totalLatency     *movingAverage
	encodeLatency    *movingAverage
	transportLatency *movingAverage
	decodeLatency    *movingAverage
	ping             *movingAverage
	clientFPS        *movingAverage
}

// NewAggregator creates an aggregator emitting snapshots at the given
// interval (DefaultSnapshotInterval when interval is zero).
func NewAggregator(interval time.Duration) *Aggregator {
	if interval <= 0 {
		interval = DefaultSnapshotInterval
	}
	return &Aggregator{
		interval:         interval,
		totalLatency:     newMovingAverage(latencyWindowSize),
		encodeLatency:    newMovingAverage(latencyWindowSize),
		transportLatency: newMovingAverage(latencyWindowSize),
		decodeLatency:    newMovingAverage(latencyWindowSize),
		ping:             newMovingAverage(latencyWindowSize),
		clientFPS:        newMovingAverage(latencyWindowSize),
	}
}

// CountPacket records one sent packet of the given wire size in bytes.
func (a *Aggregator) CountPacket(bytes int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.packetsSentTotal++
	a.packetsSentInWindow++
	a.bitsSentTotal += uint64(bytes) * 8
	a.bitsSentInWindow += uint64(bytes) * 8
}

// CountFrame records one packetized video frame, feeding the server FPS
// estimate.
func (a *Aggregator) CountFrame() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.framesInWindow++
}

// RecordClientCounters stores the client's cumulative and in-window loss
// and FEC-failure counters, latest report wins.
func (a *Aggregator) RecordClientCounters(lostTotal, lostInWindow, fecTotal, fecInWindow uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.packetsLostTotal = lostTotal
	a.packetsLostInWindow = lostInWindow
	a.fecFailuresTotal = fecTotal
	a.fecFailuresInWindow = fecInWindow
}

// AddLatencySample feeds one measurement into each per-stage latency
// history. Values are milliseconds.
func (a *Aggregator) AddLatencySample(totalMs, encodeMs, transportMs, decodeMs float64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.totalLatency.Add(totalMs)
	a.encodeLatency.Add(encodeMs)
	a.transportLatency.Add(transportMs)
	a.decodeLatency.Add(decodeMs)
}

// AddClientFPS records the client's reported frame rate.
func (a *Aggregator) AddClientFPS(fps float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.clientFPS.Add(fps)
}

// AddPing records one one-way delay estimate (RTT/2) in milliseconds.
func (a *Aggregator) AddPing(ms float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ping.Add(ms)
}

// TotalLatencyAverageMs returns the current end-to-end latency moving
// average in milliseconds.
func (a *Aggregator) TotalLatencyAverageMs() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.totalLatency.Average()
}

// Snapshot returns the current values without resetting any counters.
func (a *Aggregator) Snapshot(now time.Time) Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.buildSnapshot(now)
}

// MaybeSnapshot emits a snapshot and resets the in-window counters when the
// snapshot interval has elapsed since the previous emission. Cumulative
// totals are never reset.
func (a *Aggregator) MaybeSnapshot(now time.Time) (Snapshot, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.lastSnapshot.IsZero() && now.Sub(a.lastSnapshot) < a.interval {
		return Snapshot{}, false
	}

	snap := a.buildSnapshot(now)

	a.packetsSentInWindow = 0
	a.bitsSentInWindow = 0
	a.framesInWindow = 0
	a.packetsLostInWindow = 0
	a.fecFailuresInWindow = 0
	a.lastSnapshot = now

	return snap, true
}

// buildSnapshot assembles a Snapshot from current state. Caller holds at
// least a read lock.
func (a *Aggregator) buildSnapshot(now time.Time) Snapshot {
	var serverFPS float64
	if !a.lastSnapshot.IsZero() {
		if elapsed := now.Sub(a.lastSnapshot).Seconds(); elapsed > 0 {
			serverFPS = float64(a.framesInWindow) / elapsed
		}
	}

	return Snapshot{
		Timestamp:           now,
		PacketsSentTotal:    a.packetsSentTotal,
		PacketsSentInWindow: a.packetsSentInWindow,
		BitsSentTotal:       a.bitsSentTotal,
		BitsSentInWindow:    a.bitsSentInWindow,
		PacketsLostTotal:    a.packetsLostTotal,
		PacketsLostInWindow: a.packetsLostInWindow,
		FecFailuresTotal:    a.fecFailuresTotal,
		FecFailuresInWindow: a.fecFailuresInWindow,
		TotalLatencyMs:      a.totalLatency.Average(),
		EncodeLatencyMs:     a.encodeLatency.Average(),
		TransportLatencyMs:  a.transportLatency.Average(),
		DecodeLatencyMs:     a.decodeLatency.Average(),
		PingMs:              a.ping.Average(),
		ClientFPS:           a.clientFPS.Average(),
		ServerFPS:           serverFPS,
	}
}
