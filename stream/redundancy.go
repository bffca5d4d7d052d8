package stream

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// RedundancyConfig defines the adaptive redundancy parameters, fixed at
// connection construction.
type RedundancyConfig struct {
	// Enabled toggles erasure-coded redundancy. When false the packetizer
	// sends plain payload chunks and the controller is inert.
	Enabled bool

	// InitialPercentage is the parity-to-data ratio the connection starts
	// with, in percent.
	InitialPercentage int

	// MaxPercentage caps adaptive increases.
	MaxPercentage int

	// StepPercentage is added on each qualifying failure.
	StepPercentage int

	// FailureCooldown is the window within which a failure counts as
	// consecutive with the previous one. Only consecutive failures raise
	// the percentage; the channel is given this long to settle after an
	// isolated failure.
	FailureCooldown time.Duration
}

// DefaultRedundancyConfig returns the redundancy defaults used by
// production deployments: 5% initial, 10% cap, 5% steps, 60 s cooldown.
func DefaultRedundancyConfig() *RedundancyConfig {
	return &RedundancyConfig{
		Enabled:           true,
		InitialPercentage: 5,
		MaxPercentage:     10,
		StepPercentage:    5,
		FailureCooldown:   60 * time.Second,
	}
}

// validate checks the configuration for internally consistent bounds.
func (c *RedundancyConfig) validate() error {
	if !c.Enabled {
		return nil
	}
	if c.InitialPercentage <= 0 {
		return fmt.Errorf("initial redundancy percentage must be positive, got %d", c.InitialPercentage)
	}
	if c.MaxPercentage < c.InitialPercentage {
		return fmt.Errorf("max redundancy percentage %d below initial %d", c.MaxPercentage, c.InitialPercentage)
	}
	if c.StepPercentage <= 0 {
		return fmt.Errorf("redundancy step must be positive, got %d", c.StepPercentage)
	}
	if c.FailureCooldown <= 0 {
		return fmt.Errorf("failure cooldown must be positive, got %v", c.FailureCooldown)
	}
	return nil
}

// RedundancyController owns the connection's current redundancy percentage.
//
// The percentage rises by StepPercentage when a failure report arrives
// within FailureCooldown of the previous failure report, up to
// MaxPercentage. It never decreases from within this core; a higher-level
// policy may rebuild the connection to reset it.
type RedundancyController struct {
	mu          sync.Mutex
	cfg         *RedundancyConfig
	percentage  int
	lastFailure time.Time
}

// NewRedundancyController creates a controller at the configured initial
// percentage.
func NewRedundancyController(cfg *RedundancyConfig) (*RedundancyController, error) {
	if cfg == nil {
		cfg = DefaultRedundancyConfig()
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function": "NewRedundancyController",
		"enabled":  cfg.Enabled,
		"initial":  cfg.InitialPercentage,
		"max":      cfg.MaxPercentage,
		"step":     cfg.StepPercentage,
		"cooldown": cfg.FailureCooldown,
	}).Info("Creating redundancy controller")

	return &RedundancyController{
		cfg:        cfg,
		percentage: cfg.InitialPercentage,
	}, nil
}

// Enabled reports whether redundancy is active for this connection.
func (rc *RedundancyController) Enabled() bool {
	return rc.cfg.Enabled
}

// Percentage returns the current redundancy percentage. The packetizer
// reads this on every frame.
func (rc *RedundancyController) Percentage() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.percentage
}

// ReportFailure records one client-reported decode/FEC failure.
//
// An increase happens only when this failure falls within the cooldown
// window of the previous failure report: failures arriving faster than the
// channel can settle indicate sustained loss rather than a stray drop. The
// failure timestamp is updated regardless of whether an increase happened,
// so the next report is measured against this one.
func (rc *RedundancyController) ReportFailure(now time.Time) {
	if !rc.cfg.Enabled {
		return
	}

	rc.mu.Lock()
	defer rc.mu.Unlock()

	if !rc.lastFailure.IsZero() && now.Sub(rc.lastFailure) < rc.cfg.FailureCooldown {
		if rc.percentage < rc.cfg.MaxPercentage {
			rc.percentage += rc.cfg.StepPercentage
			if rc.percentage > rc.cfg.MaxPercentage {
				rc.percentage = rc.cfg.MaxPercentage
			}
			logrus.WithFields(logrus.Fields{
				"function":       "RedundancyController.ReportFailure",
				"new_percentage": rc.percentage,
				"max_percentage": rc.cfg.MaxPercentage,
			}).Info("Raised redundancy after consecutive failures")
		}
	} else {
		logrus.WithFields(logrus.Fields{
			"function":   "RedundancyController.ReportFailure",
			"percentage": rc.percentage,
		}).Debug("Isolated failure, redundancy unchanged")
	}

	rc.lastFailure = now
}
