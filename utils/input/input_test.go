package input_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsinghua-fib-lab/masstraffic-sim/utils/config"
	"github.com/tsinghua-fib-lab/masstraffic-sim/utils/input"
)

const network = `
lanes:
  - id: 0
    points: [{x: 0, y: 0}, {x: 1000, y: 0}]
    tags: [traffic]
    next: [1]
  - id: 1
    points: [{x: 1000, y: 0}, {x: 2000, y: 0}]
    tags: [traffic]
vehicles:
  - lane: 0
    distance: 500
    radius: 100
`

func TestParseYAML(t *testing.T) {
	n, err := input.Parse([]byte(network), false)
	require.NoError(t, err)
	require.Len(t, n.Lanes, 2)
	assert.Equal(t, []int32{1}, n.Lanes[0].Next)
	assert.Equal(t, 1000., n.Lanes[1].Points[0].X)
	assert.NoError(t, n.Validate())
}

func TestParseRejectsUnknownField(t *testing.T) {
	_, err := input.Parse([]byte("lanes: []\nroads: []\n"), false)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	n, err := input.Parse([]byte(network), false)
	require.NoError(t, err)
	n.Lanes[0].Next = []int32{7}
	n.Vehicles[0].Radius = 0
	n.Lanes = append(n.Lanes, input.Lane{ID: 1, Points: []input.Point{{}}})
	err = n.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, input.ErrInvalidInput)
	assert.Contains(t, err.Error(), "unknown lane 7")
	assert.Contains(t, err.Error(), "duplicated lane id 1")
	assert.Contains(t, err.Error(), "radius must be positive")
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "network.yaml")
	require.NoError(t, os.WriteFile(path, []byte(network), 0o644))
	in, err := input.Load(context.Background(), config.Input{File: path})
	require.NoError(t, err)
	assert.Len(t, in.Lanes, 2)
	assert.Len(t, in.Vehicles, 1)

	_, err = input.Load(context.Background(), config.Input{File: filepath.Join(dir, "missing.yaml")})
	assert.Error(t, err)
}
