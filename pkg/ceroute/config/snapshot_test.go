package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/randalmurphal/ceroute/pkg/ceroute/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const brokerYAML = `
version: 3
ports:
  - id: ticks
    direction: input
    type: generator
    config:
      interval: 1s
  - id: stdout
    direction: output
    type: printer
routing:
  type: rules
  config:
    default: [stdout]
`

func TestSnapshotFromYAML(t *testing.T) {
	s, err := config.SnapshotFromYAML([]byte(brokerYAML))
	require.NoError(t, err)
	require.NoError(t, s.Validate())

	assert.Equal(t, "3", s.Version)
	assert.Equal(t, []config.PortID{"ticks"}, s.Inputs())
	assert.Equal(t, []config.PortID{"stdout"}, s.Outputs())
	assert.Equal(t, "rules", s.Routing.Type)
	assert.Equal(t, []string{"stdout"}, s.Routing.Config.StringSlice("default", nil))

	ticks, ok := s.Port("ticks")
	require.True(t, ok)
	assert.Equal(t, config.DirectionInput, ticks.Direction)
	assert.Equal(t, "generator", ticks.Type)
	assert.Equal(t, "1s", ticks.Config.String("interval", ""))
}

func TestSnapshotFromFileJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broker.json")
	doc := `{"version":"a","ports":[{"id":"out","direction":"output","type":"printer"}]}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	s, err := config.SnapshotFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "a", s.Version)
	assert.Equal(t, "broadcast", s.Routing.Type, "routing defaults to broadcast")
	require.Len(t, s.Ports, 1)
}

func TestParseSnapshotRejectsBadDirection(t *testing.T) {
	_, err := config.SnapshotFromYAML([]byte(`
ports:
  - id: x
    direction: sideways
    type: printer
`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, config.ErrInvalidConfiguration))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		snap    *config.Snapshot
		wantErr string
	}{
		{
			name: "valid",
			snap: &config.Snapshot{
				Ports:   []config.PortSpec{{ID: "a", Direction: config.DirectionInput, Type: "generator"}},
				Routing: config.RoutingSpec{Type: "broadcast"},
			},
		},
		{
			name: "duplicate id",
			snap: &config.Snapshot{
				Ports: []config.PortSpec{
					{ID: "a", Direction: config.DirectionInput, Type: "generator"},
					{ID: "a", Direction: config.DirectionOutput, Type: "printer"},
				},
				Routing: config.RoutingSpec{Type: "broadcast"},
			},
			wantErr: `duplicate port id "a"`,
		},
		{
			name: "empty id",
			snap: &config.Snapshot{
				Ports:   []config.PortSpec{{Direction: config.DirectionInput, Type: "generator"}},
				Routing: config.RoutingSpec{Type: "broadcast"},
			},
			wantErr: "empty id",
		},
		{
			name: "missing direction and type",
			snap: &config.Snapshot{
				Ports:   []config.PortSpec{{ID: "a"}},
				Routing: config.RoutingSpec{Type: "broadcast"},
			},
			wantErr: "no valid direction",
		},
		{
			name:    "missing routing",
			snap:    &config.Snapshot{},
			wantErr: "routing type is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.snap.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, config.ErrInvalidConfiguration)
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestDiff(t *testing.T) {
	spec := func(id config.PortID, dir config.Direction, blob map[string]any) config.PortSpec {
		return config.PortSpec{ID: id, Direction: dir, Type: "printer", Config: config.New(blob)}
	}
	prev := &config.Snapshot{Ports: []config.PortSpec{
		spec("keep", config.DirectionOutput, map[string]any{"format": "text"}),
		spec("change", config.DirectionOutput, map[string]any{"format": "text"}),
		spec("drop", config.DirectionInput, nil),
	}}
	next := &config.Snapshot{Ports: []config.PortSpec{
		spec("keep", config.DirectionOutput, map[string]any{"format": "text"}),
		spec("change", config.DirectionOutput, map[string]any{"format": "json"}),
		spec("new", config.DirectionOutput, nil),
	}}

	want := config.Diff{
		Removed:   []config.PortID{"drop"},
		Added:     []config.PortID{"new"},
		Changed:   []config.PortID{"change"},
		Unchanged: []config.PortID{"keep"},
	}
	if diff := cmp.Diff(want, prev.Diff(next)); diff != "" {
		t.Errorf("Diff() mismatch (-want +got):\n%s", diff)
	}

	assert.True(t, next.Diff(next).Empty(), "identical snapshot must not touch ports")

	var none *config.Snapshot
	assert.Equal(t, []config.PortID{"keep", "change", "new"}, none.Diff(next).Added)
}

func TestSnapshotEqualIgnoresVersion(t *testing.T) {
	a, err := config.SnapshotFromYAML([]byte(brokerYAML))
	require.NoError(t, err)
	b, err := config.SnapshotFromYAML([]byte(brokerYAML))
	require.NoError(t, err)
	b.Version = "4"

	assert.True(t, a.Equal(b))

	b.Routing = config.RoutingSpec{Type: "broadcast"}
	assert.False(t, a.Equal(b))
}

func TestParseDirection(t *testing.T) {
	d, err := config.ParseDirection(" Output ")
	require.NoError(t, err)
	assert.Equal(t, config.DirectionOutput, d)
	assert.Equal(t, "output", d.String())

	_, err = config.ParseDirection("")
	assert.Error(t, err)
	assert.Equal(t, "unknown", config.DirectionUnknown.String())
}
