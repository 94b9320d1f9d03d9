package telemetry

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gocarina/gocsv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOutputManagerDisabled(t *testing.T) {
	om, err := NewOutputManager("")
	require.NoError(t, err)
	assert.Nil(t, om)
	assert.NoError(t, om.WriteVehicles([]VehicleRecord{{Step: 1}}))
	assert.NoError(t, om.WriteLanes([]LaneRecord{{Step: 1}}))
	assert.NoError(t, om.WriteIntersections([]IntersectionRecord{{Step: 1}}))
	assert.Empty(t, om.Dir())
	assert.NoError(t, om.Close())
}

func TestWriteHeaderOnce(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	om, err := NewOutputManager(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, om.Dir())

	require.NoError(t, om.WriteLanes([]LaneRecord{
		{Step: 0, Lane: 1, Vehicles: 2, Space: 1500, Basic: 0.25, Functional: 0.5, Downstream: 0.5, Open: true},
		{Step: 0, Lane: 2},
	}))
	require.NoError(t, om.WriteLanes(nil))
	require.NoError(t, om.WriteLanes([]LaneRecord{{Step: 30, Lane: 1, Vehicles: 1}}))
	require.NoError(t, om.WriteIntersections([]IntersectionRecord{{Step: 30, Junction: 7, Period: 2, Remaining: 4.5}}))
	require.NoError(t, om.Close())

	data, err := os.ReadFile(filepath.Join(dir, "lanes.csv"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "step,lane,vehicles,space,basic,functional,downstream,open", lines[0])

	var lanes []LaneRecord
	require.NoError(t, gocsv.UnmarshalBytes(data, &lanes))
	require.Len(t, lanes, 3)
	assert.Equal(t, int32(2), lanes[0].Vehicles)
	assert.True(t, lanes[0].Open)
	assert.Equal(t, int32(30), lanes[2].Step)

	var intersections []IntersectionRecord
	data, err = os.ReadFile(filepath.Join(dir, "intersections.csv"))
	require.NoError(t, err)
	require.NoError(t, gocsv.UnmarshalBytes(data, &intersections))
	require.Len(t, intersections, 1)
	assert.Equal(t, 2, intersections[0].Period)
	assert.InDelta(t, 4.5, intersections[0].Remaining, 1e-9)

	// 未写入的文件只创建不写表头
	data, err = os.ReadFile(filepath.Join(dir, "vehicles.csv"))
	require.NoError(t, err)
	assert.Empty(t, data)
}
