package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsinghua-fib-lab/masstraffic-sim/utils/config"
)

func TestDefaultIsValid(t *testing.T) {
	c := config.Default()
	require.NoError(t, c.Validate())
	assert.Equal(t, 4, c.Vehicle.LaneChange.MaxNextVehicles)
	assert.InDelta(t, 0.1, c.Vehicle.DownstreamFlowDensityQueryFraction, 1e-9)
}

func TestLoadOverridesDefaults(t *testing.T) {
	c, err := config.Load([]byte(`
control:
  step:
    total: 100
    interval: 0.5
  seed: 7
density:
  num_partitions: 4
`))
	require.NoError(t, err)
	assert.EqualValues(t, 100, c.Control.Step.Total)
	assert.InDelta(t, 0.5, c.Control.Step.Interval, 1e-9)
	assert.EqualValues(t, 7, c.Control.Seed)
	assert.Equal(t, 4, c.Density.NumPartitions)
	// 未出现的字段保持默认值
	assert.InDelta(t, 300.0, c.Vehicle.Acceleration, 1e-9)
	assert.Equal(t, "trunk", c.Lane.Tags.Trunk)
}

func TestLoadRejectsUnknownField(t *testing.T) {
	_, err := config.Load([]byte("control:\n  unknown: 1\n"))
	assert.Error(t, err)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	_, err := config.Load([]byte(`
control:
  step:
    interval: 0
vehicle:
  stopping_distance_range: {min: 10, max: 5}
`))
	require.ErrorIs(t, err, config.ErrInvalidConfig)
	assert.Contains(t, err.Error(), "control.step.interval")
	assert.Contains(t, err.Error(), "stopping_distance_range")
}

func TestLaneTagLookup(t *testing.T) {
	lc := config.Default().Lane
	lc.SpeedLimits = []config.LaneSpeedLimit{
		{Filter: config.LaneTagFilter{Any: []string{"trunk"}}, SpeedLimitMPH: 65},
		{SpeedLimitMPH: 25},
	}
	lc.Densities = []config.LaneDensity{
		{Filter: config.LaneTagFilter{Any: []string{"traffic"}, None: []string{"trunk"}}, Density: 0.3},
	}

	v, ok := lc.SpeedLimitForTags([]string{"traffic", "trunk"})
	assert.True(t, ok)
	assert.InDelta(t, 65*config.MPHToCMPerSecond, v, 1e-9)
	v, ok = lc.SpeedLimitForTags([]string{"traffic"})
	assert.True(t, ok)
	assert.InDelta(t, 25*config.MPHToCMPerSecond, v, 1e-9)

	assert.InDelta(t, 0.3, lc.MaxDensityForTags([]string{"traffic"}), 1e-9)
	assert.InDelta(t, lc.DefaultMaxDensity, lc.MaxDensityForTags([]string{"traffic", "trunk"}), 1e-9)
}

func TestNewRuntimeConfig(t *testing.T) {
	c := config.Default()
	rc := config.NewRuntimeConfig(c)
	assert.Equal(t, c.Control, rc.C)
	assert.Equal(t, c, rc.All)
}
