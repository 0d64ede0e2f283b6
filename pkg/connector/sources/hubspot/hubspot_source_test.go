package hubspot

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crmflow/crmflow/pkg/config"
	"github.com/crmflow/crmflow/pkg/connector/core"
	"github.com/crmflow/crmflow/pkg/connector/registry"
	"github.com/crmflow/crmflow/pkg/pool"
)

func testConfig(t *testing.T) *config.HubSpotSourceConfig {
	t.Helper()
	cfg := &config.HubSpotSourceConfig{
		BaseConfig: *config.NewBaseConfig("hubspot", "source"),
		APIKey:     "test-token",
	}
	require.NoError(t, cfg.Validate())
	return cfg
}

func newTestSource(t *testing.T, cfg *config.HubSpotSourceConfig, client Client) *HubSpotSource {
	t.Helper()
	s, err := NewHubSpotSource(cfg)
	require.NoError(t, err)
	s.client = client
	return s
}

func TestNewHubSpotSourceRejectsUnknownObject(t *testing.T) {
	cfg := testConfig(t)
	cfg.Objects = []string{"deals", "spaceships"}

	_, err := NewHubSpotSource(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "spaceships")
}

func TestStreamsAssembly(t *testing.T) {
	cfg := testConfig(t)
	cfg.Objects = []string{"deals"}
	cfg.SoftDelete = true
	cfg.PropertiesWithHistory = map[string][]string{"deals": {"dealstage"}}
	cfg.Events = []config.EventStreamConfig{
		{ObjectType: "contacts", EventType: "click", ObjectIDs: []string{"1"}},
	}

	s := newTestSource(t, cfg, &fakeClient{})
	streams, err := s.Streams(context.Background())
	require.NoError(t, err)

	byName := make(map[string]*core.NamedStream, len(streams))
	names := make([]string, 0, len(streams))
	for _, st := range streams {
		byName[st.Name] = st
		names = append(names, st.Name)
	}

	assert.Equal(t, []string{
		"deals",
		"deals_property_history",
		"pipelines_deals",
		"stages_timing_deals",
		"contact_events_click",
	}, names)

	assert.Equal(t, core.WriteModeMerge, byName["deals"].Mode)
	assert.Equal(t, []string{"id"}, byName["deals"].PrimaryKey)

	assert.Equal(t, core.WriteModeMerge, byName["deals_property_history"].Mode)
	assert.Equal(t, []string{"object_id"}, byName["deals_property_history"].PrimaryKey)

	assert.Equal(t, core.WriteModeMerge, byName["stages_timing_deals"].Mode)
	assert.Equal(t, []string{"id", "stage"}, byName["stages_timing_deals"].PrimaryKey)

	assert.Equal(t, core.WriteModeAppend, byName["contact_events_click"].Mode)
}

func TestStreamsRequireInitializedClient(t *testing.T) {
	s, err := NewHubSpotSource(testConfig(t))
	require.NoError(t, err)

	_, err = s.Streams(context.Background())
	require.Error(t, err)
}

func TestStreamsDefaultObjectsIncludeOwners(t *testing.T) {
	s := newTestSource(t, testConfig(t), &fakeClient{})

	streams, err := s.Streams(context.Background())
	require.NoError(t, err)

	var names []string
	for _, st := range streams {
		names = append(names, st.Name)
	}
	for _, want := range []string{"companies", "contacts", "deals", "tickets", "products", "quotes", "owners"} {
		assert.Contains(t, names, want)
	}
}

func TestPropertiesStreamFromLabels(t *testing.T) {
	cfg := testConfig(t)
	cfg.Objects = []string{"deals"}
	cfg.ObjectOverrides = map[string]config.ObjectConfig{
		"deals": {PropertyLabels: []string{"dealstage", "amount"}},
	}

	var fetched []string
	client := &fakeClient{
		fetchPropertyLabel: func(ctx context.Context, objectType ObjectType, propertyName string) (*pool.Record, error) {
			fetched = append(fetched, propertyName)
			rec := pool.GetRecord()
			rec.ID = propertyName
			rec.Data["name"] = propertyName
			rec.Data["label"] = "Label " + propertyName
			return rec, nil
		},
	}

	s := newTestSource(t, cfg, client)
	streams, err := s.Streams(context.Background())
	require.NoError(t, err)

	var props *core.NamedStream
	for _, st := range streams {
		if st.Name == "properties" {
			props = st
		}
	}
	require.NotNil(t, props)
	assert.Equal(t, core.WriteModeReplace, props.Mode)

	records, err := drainPages(context.Background(), props.Pages)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, []string{"dealstage", "amount"}, fetched, "configured order is preserved")
	assert.Equal(t, "Label dealstage", records[0].Data["label"])
}

func TestObjectStreamResolvesPropertiesLazily(t *testing.T) {
	cfg := testConfig(t)
	cfg.Objects = []string{"products"}

	catalogCalls := 0
	var fetchedProps string
	client := &fakeClient{
		listPropertyNames: func(ctx context.Context, objectType ObjectType) ([]string, error) {
			catalogCalls++
			return []string{"custom_weight", "hs_internal"}, nil
		},
		fetchPages: func(endpoint string, params url.Values) core.PageIterator {
			fetchedProps = params.Get("properties")
			return pagesOf([]*pool.Record{recordOf(map[string]interface{}{"id": "p1"})})
		},
	}

	s := newTestSource(t, cfg, client)
	streams, err := s.Streams(context.Background())
	require.NoError(t, err)
	assert.Zero(t, catalogCalls, "assembly issues no API calls")

	var products *core.NamedStream
	for _, st := range streams {
		if st.Name == "products" {
			products = st
		}
	}
	require.NotNil(t, products)

	records, err := drainPages(context.Background(), products.Pages)
	require.NoError(t, err)
	require.Len(t, records, 1)

	assert.Equal(t, 1, catalogCalls)
	assert.Equal(t,
		"createdate,custom_weight,description,hs_lastmodifieddate,hs_object_id,name,price",
		fetchedProps, "defaults plus custom catalog properties, sorted")
}

func TestIncludeHistoryCoversResolvedProperties(t *testing.T) {
	cfg := testConfig(t)
	cfg.Objects = []string{"quotes"}
	cfg.IncludeHistory = true
	noCustom := false
	cfg.IncludeCustomProps = &noCustom

	var gotProps string
	client := &fakeClient{
		fetchHistory: func(endpoint string, properties string) core.PageIterator {
			gotProps = properties
			return emptyPages()
		},
	}

	s := newTestSource(t, cfg, client)
	streams, err := s.Streams(context.Background())
	require.NoError(t, err)

	var history *core.NamedStream
	for _, st := range streams {
		if st.Name == "quotes_property_history" {
			history = st
		}
	}
	require.NotNil(t, history)

	_, err = drainPages(context.Background(), history.Pages)
	require.NoError(t, err)
	assert.Equal(t,
		"hs_createdate,hs_expiration_date,hs_lastmodifieddate,hs_object_id,hs_public_url_key,hs_status,hs_title",
		gotProps, "history falls back to the object's resolved property set")
}

func TestReadTagsRecordsWithStreamName(t *testing.T) {
	cfg := testConfig(t)
	cfg.Objects = []string{"owners"}

	client := &fakeClient{
		fetchPages: func(endpoint string, params url.Values) core.PageIterator {
			if endpoint != crmObjectEndpoints[ObjectTypeOwner] {
				return emptyPages()
			}
			return pagesOf([]*pool.Record{
				recordOf(map[string]interface{}{"id": "o1"}),
				recordOf(map[string]interface{}{"id": "o2"}),
			})
		},
	}

	s := newTestSource(t, cfg, client)
	stream, err := s.Read(context.Background())
	require.NoError(t, err)

	var got []*pool.Record
	for rec := range stream.Records {
		got = append(got, rec)
	}
	require.NoError(t, <-stream.Errors)

	require.Len(t, got, 2)
	for _, rec := range got {
		assert.Equal(t, "owners", rec.GetStreamID())
	}
}

func TestGetStatePersistsEventCursors(t *testing.T) {
	cfg := testConfig(t)
	cfg.Objects = []string{"contacts"}
	cfg.StartDate = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	cfg.Events = []config.EventStreamConfig{
		{ObjectType: "contacts", EventType: "click", ObjectIDs: []string{"A"}},
	}

	client := &fakeClient{
		fetchEvents: func(params url.Values) core.PageIterator {
			return pagesOf([]*pool.Record{
				eventRecord("e1", "click", "2024-05-01T00:00:00Z"),
			})
		},
	}

	s := newTestSource(t, cfg, client)
	streams, err := s.Streams(context.Background())
	require.NoError(t, err)

	for _, st := range streams {
		_, err := drainPages(context.Background(), st.Pages)
		require.NoError(t, err)
	}

	state := s.GetState()
	assert.Equal(t, "2024-05-01T00:00:00Z", state["contact_events_click.occurredAt"])
}

func TestCursorRestoredFromState(t *testing.T) {
	cfg := testConfig(t)
	cfg.Events = []config.EventStreamConfig{
		{ObjectType: "contacts", EventType: "click"},
	}

	s := newTestSource(t, cfg, &fakeClient{})
	require.NoError(t, s.SetState(core.State{
		"contact_events_click.occurredAt": "2024-06-15T00:00:00Z",
	}))

	cursor := s.cursorFor("contact_events_click.occurredAt")
	assert.Equal(t, "2024-06-15T00:00:00Z", cursor.Value())
}

func TestDiscoverSchemas(t *testing.T) {
	cfg := testConfig(t)
	cfg.Objects = []string{"deals"}
	cfg.SoftDelete = true

	s := newTestSource(t, cfg, &fakeClient{})
	schemas, err := s.Discover(context.Background())
	require.NoError(t, err)

	byName := make(map[string]*core.Schema, len(schemas))
	for _, sc := range schemas {
		byName[sc.Name] = sc
	}
	require.Contains(t, byName, "deals")
	require.Contains(t, byName, "pipelines_deals")
	require.Contains(t, byName, "stages_timing_deals")

	fields := make(map[string]core.Field)
	for _, f := range byName["deals"].Fields {
		fields[f.Name] = f
	}
	assert.True(t, fields["id"].Primary)
	assert.Contains(t, fields, "dealstage")
	assert.Contains(t, fields, softDeleteField)
}

func TestDiscoverSchemasMatchStreamNames(t *testing.T) {
	cfg := testConfig(t)
	cfg.Objects = []string{"deals", "contacts"}
	cfg.Events = []config.EventStreamConfig{
		{ObjectType: "contacts", EventType: "click"},
		{ObjectType: "contact", EventType: "view"},
	}

	s := newTestSource(t, cfg, &fakeClient{})

	streams, err := s.Streams(context.Background())
	require.NoError(t, err)
	streamNames := make(map[string]bool, len(streams))
	for _, st := range streams {
		streamNames[st.Name] = true
	}

	schemas, err := s.Discover(context.Background())
	require.NoError(t, err)
	for _, sc := range schemas {
		assert.Contains(t, streamNames, sc.Name)
	}
	assert.True(t, streamNames["contact_events_click"])
	assert.True(t, streamNames["contact_events_view"])
}

func TestSourceRegistered(t *testing.T) {
	assert.True(t, registry.HasSource("hubspot"))
}

func TestHealthRequiresClient(t *testing.T) {
	s, err := NewHubSpotSource(testConfig(t))
	require.NoError(t, err)
	require.Error(t, s.Health(context.Background()))

	s.client = &fakeClient{}
	require.NoError(t, s.Health(context.Background()))
}
