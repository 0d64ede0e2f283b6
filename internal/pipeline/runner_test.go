package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/crmflow/crmflow/pkg/connector/core"
	"github.com/crmflow/crmflow/pkg/connector/registry"
	jsonpool "github.com/crmflow/crmflow/pkg/json"
	"github.com/crmflow/crmflow/pkg/metrics"
	"github.com/crmflow/crmflow/pkg/pool"
)

type fakeSource struct {
	streams     []*core.NamedStream
	state       core.State
	initialized bool
	closed      bool
}

func (s *fakeSource) Name() string                                         { return "fake" }
func (s *fakeSource) Initialize(ctx context.Context) error                 { s.initialized = true; return nil }
func (s *fakeSource) Discover(ctx context.Context) ([]*core.Schema, error) { return nil, nil }
func (s *fakeSource) Streams(ctx context.Context) ([]*core.NamedStream, error) {
	return s.streams, nil
}
func (s *fakeSource) Read(ctx context.Context) (*core.RecordStream, error) { return nil, nil }
func (s *fakeSource) GetState() core.State                                 { return s.state }
func (s *fakeSource) SetState(state core.State) error                      { s.state = state; return nil }
func (s *fakeSource) Health(ctx context.Context) error                     { return nil }
func (s *fakeSource) Metrics() map[string]interface{}                      { return nil }
func (s *fakeSource) Close(ctx context.Context) error                      { s.closed = true; return nil }

type fakeDestination struct {
	written     []string
	records     int64
	initialized bool
	closed      bool
}

func (d *fakeDestination) Name() string                         { return "fakedest" }
func (d *fakeDestination) Initialize(ctx context.Context) error { d.initialized = true; return nil }
func (d *fakeDestination) Write(ctx context.Context, stream *core.NamedStream) error {
	d.written = append(d.written, stream.Name)
	for {
		page, err := stream.Pages.Next(ctx)
		if err != nil {
			return err
		}
		if page == nil {
			return nil
		}
		d.records += int64(len(page))
	}
}
func (d *fakeDestination) Health(ctx context.Context) error { return nil }
func (d *fakeDestination) Metrics() map[string]interface{} {
	return map[string]interface{}{"records_written": d.records}
}
func (d *fakeDestination) Close(ctx context.Context) error { d.closed = true; return nil }

func onePage(records int) core.PageIterator {
	done := false
	return core.PageFunc(func(ctx context.Context) ([]*pool.Record, error) {
		if done {
			return nil, nil
		}
		done = true
		page := make([]*pool.Record, 0, records)
		for i := 0; i < records; i++ {
			page = append(page, pool.GetRecord())
		}
		return page, nil
	})
}

func newTestRunner(source core.Source, destination core.Destination, statePath string) *Runner {
	return &Runner{
		source:      source,
		destination: destination,
		statePath:   statePath,
		logger:      zap.NewNop(),
		tracker:     metrics.NewThroughputTracker("fake", "fakedest"),
	}
}

func TestRunWritesStreamsInOrder(t *testing.T) {
	source := &fakeSource{
		state: core.State{},
		streams: []*core.NamedStream{
			{Name: "deals", Mode: core.WriteModeMerge, Pages: onePage(2)},
			{Name: "stages_timing_deals", Mode: core.WriteModeMerge, Pages: onePage(1)},
		},
	}
	dest := &fakeDestination{}

	r := newTestRunner(source, dest, "")
	require.NoError(t, r.Run(context.Background()))

	assert.Equal(t, []string{"deals", "stages_timing_deals"}, dest.written)
	assert.Equal(t, int64(3), dest.records)
	assert.True(t, source.initialized)
	assert.True(t, dest.initialized)
	assert.True(t, source.closed)
	assert.True(t, dest.closed)
}

func TestRunPersistsAndRestoresState(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "state.json")
	previous := core.State{"contact_events_click.occurredAt": "2024-05-01T00:00:00Z"}
	data, err := jsonpool.Marshal(previous)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(statePath, data, 0o644))

	source := &fakeSource{state: core.State{}}
	r := newTestRunner(source, &fakeDestination{}, statePath)
	require.NoError(t, r.Run(context.Background()))

	assert.Equal(t, "2024-05-01T00:00:00Z", source.state["contact_events_click.occurredAt"],
		"previous state is handed to the source before the run")

	saved, err := os.ReadFile(statePath)
	require.NoError(t, err)
	var roundTrip core.State
	require.NoError(t, jsonpool.Unmarshal(saved, &roundTrip))
	assert.Equal(t, "2024-05-01T00:00:00Z", roundTrip["contact_events_click.occurredAt"])
}

func TestNewRunnerFromConfigUsesRegistry(t *testing.T) {
	reg := registry.GetRegistry()
	require.NoError(t, reg.RegisterSource("test-source", func(raw []byte) (core.Source, error) {
		return &fakeSource{state: core.State{}}, nil
	}))
	require.NoError(t, reg.RegisterDestination("test-dest", func(raw []byte) (core.Destination, error) {
		return &fakeDestination{}, nil
	}))

	var cfg FileConfig
	require.NoError(t, yaml.Unmarshal([]byte(`
source:
  type: test-source
  config:
    name: fake
destination:
  type: test-dest
  config:
    name: fakedest
`), &cfg))

	r, err := NewRunnerFromConfig(&cfg)
	require.NoError(t, err)
	require.NoError(t, r.Run(context.Background()))
}

func TestNewRunnerFromConfigRequiresTypes(t *testing.T) {
	_, err := NewRunnerFromConfig(&FileConfig{})
	require.Error(t, err)
}
