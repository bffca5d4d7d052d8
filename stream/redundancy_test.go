package stream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRedundancyConfig() *RedundancyConfig {
	return &RedundancyConfig{
		Enabled:           true,
		InitialPercentage: 5,
		MaxPercentage:     20,
		StepPercentage:    5,
		FailureCooldown:   time.Second,
	}
}

func TestRedundancyConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*RedundancyConfig)
		wantErr bool
	}{
		{name: "defaults valid", mutate: func(*RedundancyConfig) {}},
		{
			name:   "disabled skips validation",
			mutate: func(c *RedundancyConfig) { c.Enabled = false; c.InitialPercentage = -1 },
		},
		{
			name:    "zero initial",
			mutate:  func(c *RedundancyConfig) { c.InitialPercentage = 0 },
			wantErr: true,
		},
		{
			name:    "max below initial",
			mutate:  func(c *RedundancyConfig) { c.MaxPercentage = c.InitialPercentage - 1 },
			wantErr: true,
		},
		{
			name:    "zero step",
			mutate:  func(c *RedundancyConfig) { c.StepPercentage = 0 },
			wantErr: true,
		},
		{
			name:    "zero cooldown",
			mutate:  func(c *RedundancyConfig) { c.FailureCooldown = 0 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultRedundancyConfig()
			tt.mutate(cfg)
			_, err := NewRedundancyController(cfg)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRedundancyIsolatedFailureDoesNotIncrease(t *testing.T) {
	rc, err := NewRedundancyController(testRedundancyConfig())
	require.NoError(t, err)

	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	rc.ReportFailure(now)
	assert.Equal(t, 5, rc.Percentage())

	// Well past the cooldown: still isolated, still no increase.
	rc.ReportFailure(now.Add(time.Hour))
	assert.Equal(t, 5, rc.Percentage())
}

func TestRedundancyConsecutiveFailuresIncrease(t *testing.T) {
	rc, err := NewRedundancyController(testRedundancyConfig())
	require.NoError(t, err)

	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

	// First failure primes the window.
	rc.ReportFailure(now)
	assert.Equal(t, 5, rc.Percentage())

	// Three reports 10ms apart, each within the cooldown of the previous
	// report, each raise the percentage.
	for i, want := range []int{10, 15, 20} {
		now = now.Add(10 * time.Millisecond)
		rc.ReportFailure(now)
		assert.Equal(t, want, rc.Percentage(), "report %d", i+1)
	}

	// A failure after the channel settled does not raise it further.
	rc.ReportFailure(now.Add(2 * time.Second))
	assert.Equal(t, 20, rc.Percentage())
}

func TestRedundancyNeverExceedsMax(t *testing.T) {
	cfg := testRedundancyConfig()
	cfg.MaxPercentage = 12 // not a multiple of the step
	rc, err := NewRedundancyController(cfg)
	require.NoError(t, err)

	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		rc.ReportFailure(now)
		now = now.Add(10 * time.Millisecond)
	}
	assert.Equal(t, 12, rc.Percentage())
}

func TestRedundancyNeverDecreases(t *testing.T) {
	rc, err := NewRedundancyController(testRedundancyConfig())
	require.NoError(t, err)

	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	previous := rc.Percentage()
	for i := 0; i < 50; i++ {
		rc.ReportFailure(now)
		current := rc.Percentage()
		assert.GreaterOrEqual(t, current, previous)
		previous = current
		// Mix of spacings inside and outside the cooldown.
		if i%3 == 0 {
			now = now.Add(2 * time.Second)
		} else {
			now = now.Add(100 * time.Millisecond)
		}
	}
}

func TestRedundancyDisabledControllerInert(t *testing.T) {
	rc, err := NewRedundancyController(&RedundancyConfig{Enabled: false})
	require.NoError(t, err)
	assert.False(t, rc.Enabled())

	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	rc.ReportFailure(now)
	rc.ReportFailure(now.Add(time.Millisecond))
	assert.Equal(t, 0, rc.Percentage())
}
