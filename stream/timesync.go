package stream

import (
	"errors"
	"time"

	"github.com/sirupsen/logrus"
)

// OnTimeSyncMessage dispatches one serialized time-sync message from the
// client. Malformed messages and unknown modes are dropped without mutating
// any state; host-only modes received from the network are ignored.
func (c *Connection) OnTimeSyncMessage(data []byte) {
	msg, err := ParseTimeSync(data)
	if err != nil {
		if errors.Is(err, ErrUnknownMode) {
			logrus.WithFields(logrus.Fields{
				"function": "Connection.OnTimeSyncMessage",
			}).Debug("Dropping time-sync message with unknown mode")
		}
		return
	}

	switch m := msg.(type) {
	case *ClientStatsReport:
		c.handleClientStats(m)
	case *RTTProbeEcho:
		c.handleRTTProbe(m)
	default:
		// Mode 1 and mode 3 are host-constructed only.
	}
}

// handleClientStats processes a mode-0 report: blends the client's measured
// latency breakdown with host-side frame timing and the encoder's latency
// average into an end-to-end estimate, replies with mode 1, and feeds the
// aggregator. A flagged FEC failure is forwarded to the redundancy
// controller.
func (c *Connection) handleClientStats(m *ClientStatsReport) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.nowMicros()
	renderMs, idleMs, waitMs := c.frameTimings()
	encodeUs := c.encodeLatencyAverage()

	// Timings mix the latest client report with the most recent host frame;
	// small skew between the two is inherent to the asynchronous exchange.
	totalUs := uint64(m.AverageSendLatency) +
		uint64((renderMs+idleMs+waitMs)*1000) +
		encodeUs +
		uint64(m.AverageTransportLatency) +
		uint64(m.AverageDecodeLatency) +
		uint64(m.IdleTime)

	c.sendTimeSync(&LatencyReply{ServerTime: now, TotalLatency: totalUs})

	c.stats.RecordClientCounters(m.PacketsLostTotal, m.PacketsLostInWindow, m.FecFailureTotal, m.FecFailureInWindow)
	c.stats.AddLatencySample(
		float64(totalUs)/1000,
		float64(encodeUs)/1000,
		float64(m.AverageTransportLatency)/1000,
		float64(m.AverageDecodeLatency)/1000,
	)
	c.stats.AddClientFPS(float64(m.FPS))
	c.stats.AddPing(float64(c.rtt) / 2 / 1000)

	if m.FecFailure {
		c.redundancy.ReportFailure(c.clock.Now())
	}

	c.maybeEmitSnapshot()
}

// handleRTTProbe processes a mode-2 echo: the round-trip time is the age of
// the echoed host timestamp, and the clock offset follows from the
// symmetric-delay assumption. Latest values win; there is no smoothing.
func (c *Connection) handleRTTProbe(m *RTTProbeEcho) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.nowMicros()
	if m.ServerTime > now {
		// Echo of a timestamp we could not have sent yet.
		logrus.WithFields(logrus.Fields{
			"function":    "Connection.handleRTTProbe",
			"server_time": m.ServerTime,
			"now":         now,
		}).Warn("Dropping RTT probe echo from the future")
		return
	}

	rtt := now - m.ServerTime
	c.rtt = rtt
	c.timeDiff = int64(now) - int64(m.ClientTime+rtt/2)

	logrus.WithFields(logrus.Fields{
		"function":  "Connection.handleRTTProbe",
		"rtt_us":    rtt,
		"offset_us": c.timeDiff,
	}).Debug("Updated RTT and clock offset")
}

// OnTrackingUpdate acknowledges a tracking-frame submission with a mode-3
// message carrying the host time translated into the client's clock domain.
// This lets the client correlate pose submissions with host-side processing
// time without a full statistics round trip.
func (c *Connection) OnTrackingUpdate(trackingFrameIndex uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	clientRelative := int64(c.nowMicros()) - c.timeDiff
	c.sendTimeSync(&TrackingAck{
		ServerTime:         uint64(clientRelative),
		TrackingFrameIndex: trackingFrameIndex,
	})
}

// OnRedundancyFailureSignal records a direct decode/FEC failure report, the
// client's dedicated error packet that bypasses the statistics exchange.
func (c *Connection) OnRedundancyFailureSignal() {
	c.redundancy.ReportFailure(c.clock.Now())
}

// PoseTimeOffset returns the negated end-to-end latency moving average in
// seconds. The pose predictor extrapolates tracking data this far forward
// so a pose is current when it reaches the client's display.
func (c *Connection) PoseTimeOffset() float64 {
	return -c.stats.TotalLatencyAverageMs() / 1000
}

// RTT returns the latest round-trip time estimate.
func (c *Connection) RTT() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Duration(c.rtt) * time.Microsecond
}

// ClockOffset returns the latest host-minus-client clock offset estimate.
func (c *Connection) ClockOffset() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Duration(c.timeDiff) * time.Microsecond
}

// frameTimings returns the compositor timing triple or zeros when the
// collaborator is not wired.
func (c *Connection) frameTimings() (renderMs, idleMs, waitMs float64) {
	if c.cfg.FrameTimings != nil {
		return c.cfg.FrameTimings()
	}
	return 0, 0, 0
}

// encodeLatencyAverage returns the encoder's moving average or zero.
func (c *Connection) encodeLatencyAverage() uint64 {
	if c.cfg.EncodeLatencyAverage != nil {
		return c.cfg.EncodeLatencyAverage()
	}
	return 0
}

// maybeEmitSnapshot runs the interval-gated statistics emission. Caller
// holds the connection lock.
func (c *Connection) maybeEmitSnapshot() {
	snap, ok := c.stats.MaybeSnapshot(c.clock.Now())
	if !ok {
		return
	}
	snap.FecPercentage = c.redundancy.Percentage()

	logrus.WithFields(logrus.Fields{
		"function":         "Connection.maybeEmitSnapshot",
		"packets_sent":     snap.PacketsSentTotal,
		"packets_lost":     snap.PacketsLostTotal,
		"total_latency_ms": snap.TotalLatencyMs,
		"ping_ms":          snap.PingMs,
		"client_fps":       snap.ClientFPS,
		"server_fps":       snap.ServerFPS,
		"fec_percentage":   snap.FecPercentage,
	}).Info("Statistics snapshot")

	if c.cfg.OnSnapshot != nil {
		go c.cfg.OnSnapshot(snap)
	}
}
