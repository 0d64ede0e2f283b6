package hubspot

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/crmflow/crmflow/pkg/auth"
	"github.com/crmflow/crmflow/pkg/clients"
	"github.com/crmflow/crmflow/pkg/config"
	"github.com/crmflow/crmflow/pkg/connector/base"
	"github.com/crmflow/crmflow/pkg/connector/core"
	"github.com/crmflow/crmflow/pkg/errors"
	"github.com/crmflow/crmflow/pkg/metrics"
	"github.com/crmflow/crmflow/pkg/pool"
	stringpool "github.com/crmflow/crmflow/pkg/strings"
)

const connectorVersion = "1.0.0"

// HubSpotSource assembles the extraction streams for one HubSpot
// portal: object streams, property history, pipelines, stage timing,
// property labels and incremental behavioral events.
type HubSpotSource struct {
	*base.BaseConnector

	config     *config.HubSpotSourceConfig
	client     Client
	httpClient *clients.HTTPClient

	cursors  map[string]*EventCursor
	cursorMu sync.Mutex

	recordsRead int64
}

// NewHubSpotSource creates the source from a validated configuration.
func NewHubSpotSource(cfg *config.HubSpotSourceConfig) (*HubSpotSource, error) {
	if cfg == nil {
		return nil, errors.New(errors.ErrorTypeConfig, "hubspot: configuration is required")
	}

	s := &HubSpotSource{
		BaseConnector: base.NewBaseConnector("hubspot", core.ConnectorTypeSource, connectorVersion),
		config:        cfg,
		cursors:       make(map[string]*EventCursor),
	}
	s.Configure(&cfg.BaseConfig)

	if _, err := s.objectTypes(); err != nil {
		return nil, err
	}
	return s, nil
}

// Initialize builds the authenticated API client. Tests inject a fake
// client before calling it.
func (s *HubSpotSource) Initialize(ctx context.Context) error {
	if s.client != nil {
		return nil
	}

	tokens, err := s.tokenProvider(ctx)
	if err != nil {
		return err
	}

	httpCfg := clients.DefaultHTTPConfig()
	httpCfg.MetricsSource = s.Name()
	if s.config.Performance.RequestsPerSecond > 0 {
		httpCfg.RateLimit = float64(s.config.Performance.RequestsPerSecond)
		httpCfg.RateBurst = s.config.Performance.RequestsPerSecond
	}
	if s.config.Timeouts.Request > 0 {
		httpCfg.RequestTimeout = s.config.Timeouts.Request
	}
	if s.config.Timeouts.Connection > 0 {
		httpCfg.DialTimeout = s.config.Timeouts.Connection
	}
	httpCfg.CircuitBreakerEnabled = s.config.Reliability.CircuitBreaker
	if s.config.Reliability.FailureThreshold > 0 {
		httpCfg.FailureThreshold = s.config.Reliability.FailureThreshold
	}
	if s.config.Reliability.RecoveryTimeout > 0 {
		httpCfg.RecoveryTimeout = s.config.Reliability.RecoveryTimeout
	}

	s.httpClient = clients.NewHTTPClient(httpCfg, s.Logger())
	s.client = newAPIClient(s.config.BaseURL, s.httpClient, tokens, s.config.Performance.BatchSize, s.Logger())

	s.Logger().Info("hubspot source initialized",
		zap.Strings("objects", s.config.Objects),
		zap.Bool("soft_delete", s.config.SoftDelete),
		zap.Int("event_streams", len(s.config.Events)))
	return nil
}

func (s *HubSpotSource) tokenProvider(ctx context.Context) (auth.TokenProvider, error) {
	if s.config.RefreshToken != "" {
		return auth.NewOAuthTokenProvider(ctx, s.config.ClientID, s.config.ClientSecret, s.config.RefreshToken)
	}
	return auth.NewStaticTokenProvider(s.config.APIKey)
}

// objectTypes resolves the configured plural object names, defaulting
// to every known type in stream order.
func (s *HubSpotSource) objectTypes() ([]ObjectType, error) {
	if len(s.config.Objects) == 0 {
		return AllObjects, nil
	}
	types := make([]ObjectType, 0, len(s.config.Objects))
	for _, name := range s.config.Objects {
		ot, ok := ObjectTypeSingular[name]
		if !ok {
			return nil, errors.New(errors.ErrorTypeConfig,
				fmt.Sprintf("hubspot: unknown object type %q", name))
		}
		types = append(types, ot)
	}
	return types, nil
}

// Streams assembles every configured output stream. All iterators are
// lazy; nothing is fetched until the first page is pulled.
func (s *HubSpotSource) Streams(ctx context.Context) ([]*core.NamedStream, error) {
	if s.client == nil {
		return nil, errors.New(errors.ErrorTypeInternal, "hubspot: source not initialized")
	}

	objects, err := s.objectTypes()
	if err != nil {
		return nil, err
	}

	var streams []*core.NamedStream

	for _, ot := range objects {
		plural := ObjectTypePlural[ot]
		streams = append(streams, &core.NamedStream{
			Name:       plural,
			PrimaryKey: []string{"id"},
			Mode:       core.WriteModeMerge,
			Pages:      s.instrument(plural, s.objectPages(ot)),
		})
	}

	for _, ot := range objects {
		if ot == ObjectTypeOwner {
			continue
		}
		plural := ObjectTypePlural[ot]
		historyProps := s.config.PropertiesWithHistory[plural]
		if !s.config.IncludeHistory && len(historyProps) == 0 {
			continue
		}
		name := stringpool.Concat(plural, "_property_history")
		streams = append(streams, &core.NamedStream{
			Name:       name,
			PrimaryKey: []string{"object_id"},
			Mode:       core.WriteModeMerge,
			Pages:      s.instrument(name, s.historyPages(ot, historyProps)),
		})
	}

	for _, plural := range pipelinesObjects {
		name := stringpool.Concat("pipelines_", plural)
		streams = append(streams, &core.NamedStream{
			Name:       name,
			PrimaryKey: []string{"id"},
			Mode:       core.WriteModeMerge,
			Pages: s.instrument(name,
				s.client.FetchRawPages(stringpool.Concat(crmPipelinesEndpoint, "/", plural), nil)),
		})

		ot := ObjectTypeSingular[plural]
		timingName := stringpool.Concat("stages_timing_", plural)
		streams = append(streams, &core.NamedStream{
			Name:       timingName,
			PrimaryKey: []string{"id", "stage"},
			Mode:       core.WriteModeMerge,
			Pages:      s.instrument(timingName, stagesTimingPages(s.client, ot, s.config.SoftDelete)),
		})
	}

	if labels := s.propertyLabelRequests(); len(labels) > 0 {
		streams = append(streams, &core.NamedStream{
			Name:       "properties",
			PrimaryKey: []string{"object_type", "name"},
			Mode:       core.WriteModeReplace,
			Pages:      s.instrument("properties", s.propertyLabelPages(labels)),
		})
	}

	for _, ev := range s.config.Events {
		ot := ObjectType(ev.ObjectType)
		if singular, ok := ObjectTypeSingular[ev.ObjectType]; ok {
			ot = singular
		}
		name := stringpool.Concat(eventStreamPrefix(ot), ev.EventType)
		cursor := s.cursorFor(stringpool.Concat(name, ".occurredAt"))
		streams = append(streams, &core.NamedStream{
			Name:       name,
			PrimaryKey: []string{"id"},
			Mode:       core.WriteModeAppend,
			Pages:      s.instrument(name, eventsPages(s.client, ot, ev.EventType, ev.ObjectIDs, cursor)),
		})
	}

	return streams, nil
}

// objectPages returns the pages for one object stream. Property
// resolution happens at first pull since it may call the catalog.
// Owners carry no property selection.
func (s *HubSpotSource) objectPages(objectType ObjectType) core.PageIterator {
	if objectType == ObjectTypeOwner {
		return fetchObjectPages(s.client, objectType, "", s.config.SoftDelete)
	}

	plural := ObjectTypePlural[objectType]
	return lazyPages(func(ctx context.Context) (core.PageIterator, error) {
		props, err := resolveProps(ctx, s.client, objectType,
			s.config.PropertiesFor(plural), s.config.CustomPropsEnabled(plural))
		if err != nil {
			return nil, err
		}
		return fetchObjectPages(s.client, objectType, props, s.config.SoftDelete), nil
	})
}

// historyPages returns the property-change history pages for one
// object type. Explicitly configured history properties win; otherwise
// the stream covers the object's resolved property set.
func (s *HubSpotSource) historyPages(objectType ObjectType, historyProps []string) core.PageIterator {
	endpoint := crmObjectEndpoints[objectType]
	if len(historyProps) > 0 {
		return s.client.FetchPropertyHistory(endpoint, stringpool.JoinPooled(historyProps, ","))
	}

	plural := ObjectTypePlural[objectType]
	return lazyPages(func(ctx context.Context) (core.PageIterator, error) {
		props, err := resolveProps(ctx, s.client, objectType,
			s.config.PropertiesFor(plural), s.config.CustomPropsEnabled(plural))
		if err != nil {
			return nil, err
		}
		return s.client.FetchPropertyHistory(endpoint, props), nil
	})
}

// propertyLabelRequest names one property whose definition is
// exported.
type propertyLabelRequest struct {
	objectType ObjectType
	property   string
}

func (s *HubSpotSource) propertyLabelRequests() []propertyLabelRequest {
	names := make([]string, 0, len(s.config.ObjectOverrides))
	for name, oc := range s.config.ObjectOverrides {
		if len(oc.PropertyLabels) > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	var requests []propertyLabelRequest
	for _, name := range names {
		ot, ok := ObjectTypeSingular[name]
		if !ok {
			continue
		}
		for _, prop := range s.config.ObjectOverrides[name].PropertyLabels {
			requests = append(requests, propertyLabelRequest{objectType: ot, property: prop})
		}
	}
	return requests
}

// propertyLabelPages fetches every requested definition as one page.
func (s *HubSpotSource) propertyLabelPages(requests []propertyLabelRequest) core.PageIterator {
	done := false
	return core.PageFunc(func(ctx context.Context) ([]*pool.Record, error) {
		if done {
			return nil, nil
		}
		done = true

		records := pool.GetBatchSlice(len(requests))
		for _, req := range requests {
			rec, err := s.client.FetchPropertyLabel(ctx, req.objectType, req.property)
			if err != nil {
				return nil, err
			}
			records = append(records, rec)
		}
		if len(records) == 0 {
			return nil, nil
		}
		return records, nil
	})
}

// cursorFor returns the live cursor for a state key, restoring a
// persisted watermark or seeding from the configured start date.
func (s *HubSpotSource) cursorFor(key string) *EventCursor {
	s.cursorMu.Lock()
	defer s.cursorMu.Unlock()

	if cur, ok := s.cursors[key]; ok {
		return cur
	}
	if v, ok := s.StateValue(key); ok {
		if str, ok := v.(string); ok && str != "" {
			cur := restoreEventCursor(str)
			s.cursors[key] = cur
			return cur
		}
	}

	start := s.config.StartDate
	if start.IsZero() {
		start = defaultStartDate
	}
	cur := newEventCursor(start)
	s.cursors[key] = cur
	return cur
}

// GetState folds the live event cursors into the connector state.
func (s *HubSpotSource) GetState() core.State {
	s.cursorMu.Lock()
	for key, cur := range s.cursors {
		s.UpdateState(key, cur.Value())
	}
	s.cursorMu.Unlock()
	return s.BaseConnector.GetState()
}

// instrument wraps a page iterator with per-stream counters.
func (s *HubSpotSource) instrument(stream string, pages core.PageIterator) core.PageIterator {
	return core.PageFunc(func(ctx context.Context) ([]*pool.Record, error) {
		page, err := pages.Next(ctx)
		if err != nil {
			metrics.RecordsExtracted.WithLabelValues(s.Name(), stream, "failure").Inc()
			return nil, err
		}
		if page != nil {
			metrics.PagesFetched.WithLabelValues(s.Name(), stream).Inc()
			metrics.RecordsExtracted.WithLabelValues(s.Name(), stream, "success").Add(float64(len(page)))
			atomic.AddInt64(&s.recordsRead, int64(len(page)))
		}
		return page, nil
	})
}

// lazyPages defers iterator construction until the first pull.
func lazyPages(init func(ctx context.Context) (core.PageIterator, error)) core.PageIterator {
	var inner core.PageIterator
	failed := false
	return core.PageFunc(func(ctx context.Context) ([]*pool.Record, error) {
		if failed {
			return nil, nil
		}
		if inner == nil {
			it, err := init(ctx)
			if err != nil {
				failed = true
				return nil, err
			}
			inner = it
		}
		return inner.Next(ctx)
	})
}

// Discover describes the streams the current configuration produces.
// It works from configuration alone and issues no API calls.
func (s *HubSpotSource) Discover(ctx context.Context) ([]*core.Schema, error) {
	objects, err := s.objectTypes()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	var schemas []*core.Schema

	for _, ot := range objects {
		plural := ObjectTypePlural[ot]
		fields := []core.Field{{Name: "id", Type: core.FieldTypeString, Primary: true}}

		var names []string
		if spec := s.config.PropertiesFor(plural); spec != nil && !spec.All {
			names = spec.Names
		} else if spec == nil {
			names = defaultProperties[ot]
		}
		for _, name := range names {
			fields = append(fields, core.Field{Name: name, Type: core.FieldTypeString, Nullable: true})
		}
		if s.config.SoftDelete {
			fields = append(fields, core.Field{Name: softDeleteField, Type: core.FieldTypeBool, Nullable: true})
		}
		schemas = append(schemas, &core.Schema{Name: plural, Fields: fields, Version: 1, CreatedAt: now})
	}

	for _, plural := range pipelinesObjects {
		schemas = append(schemas, &core.Schema{
			Name: stringpool.Concat("pipelines_", plural),
			Fields: []core.Field{
				{Name: "id", Type: core.FieldTypeString, Primary: true},
				{Name: "label", Type: core.FieldTypeString, Nullable: true},
				{Name: "stages", Type: core.FieldTypeJSON, Nullable: true},
			},
			Version:   1,
			CreatedAt: now,
		})
		schemas = append(schemas, &core.Schema{
			Name: stringpool.Concat("stages_timing_", plural),
			Fields: []core.Field{
				{Name: "id", Type: core.FieldTypeString, Primary: true},
				{Name: "stage", Type: core.FieldTypeString, Primary: true},
				{Name: stagePropertyPrefix, Type: core.FieldTypeTimestamp, Nullable: true},
			},
			Version:   1,
			CreatedAt: now,
		})
	}

	for _, ev := range s.config.Events {
		ot := ObjectType(ev.ObjectType)
		if singular, ok := ObjectTypeSingular[ev.ObjectType]; ok {
			ot = singular
		}
		schemas = append(schemas, &core.Schema{
			Name: stringpool.Concat(eventStreamPrefix(ot), ev.EventType),
			Fields: []core.Field{
				{Name: "id", Type: core.FieldTypeString, Primary: true},
				{Name: "objectType", Type: core.FieldTypeString},
				{Name: "objectId", Type: core.FieldTypeString},
				{Name: "eventType", Type: core.FieldTypeString},
				{Name: "occurredAt", Type: core.FieldTypeTimestamp},
			},
			Version:   1,
			CreatedAt: now,
		})
	}

	return schemas, nil
}

// Read drains every stream sequentially into one channel, tagging each
// record with its stream name. Event records keep the routed name set
// during extraction.
func (s *HubSpotSource) Read(ctx context.Context) (*core.RecordStream, error) {
	streams, err := s.Streams(ctx)
	if err != nil {
		return nil, err
	}

	bufferSize := s.config.Performance.BufferSize
	if bufferSize <= 0 {
		bufferSize = defaultPageSize
	}
	records := make(chan *pool.Record, bufferSize)
	errc := make(chan error, 1)

	go func() {
		defer close(records)
		defer close(errc)

		metrics.ActiveStreams.WithLabelValues(s.Name()).Set(float64(len(streams)))
		defer metrics.ActiveStreams.WithLabelValues(s.Name()).Set(0)

		for _, stream := range streams {
			for {
				page, err := stream.Pages.Next(ctx)
				if err != nil {
					errc <- errors.Wrap(err, errors.ErrorTypeData,
						fmt.Sprintf("stream %s failed", stream.Name))
					return
				}
				if page == nil {
					break
				}
				for _, rec := range page {
					if rec.GetStreamID() == "" {
						rec.SetStreamID(stream.Name)
					}
					select {
					case records <- rec:
					case <-ctx.Done():
						errc <- ctx.Err()
						return
					}
				}
			}
		}
	}()

	return &core.RecordStream{Records: records, Errors: errc}, nil
}

// Health probes the API with a cheap catalog request.
func (s *HubSpotSource) Health(ctx context.Context) error {
	if s.client == nil {
		return errors.New(errors.ErrorTypeHealth, "hubspot: source not initialized")
	}
	if _, err := s.client.ListPropertyNames(ctx, ObjectTypeContact); err != nil {
		return errors.Wrap(err, errors.ErrorTypeHealth, "hubspot health check failed")
	}
	return nil
}

// Metrics returns connector counters for logging.
func (s *HubSpotSource) Metrics() map[string]interface{} {
	m := map[string]interface{}{
		"records_read":  atomic.LoadInt64(&s.recordsRead),
		"event_streams": len(s.config.Events),
	}
	if s.httpClient != nil {
		stats := s.httpClient.Stats()
		m["http_requests"] = stats.TotalRequests
		m["http_failures"] = stats.FailedRequests
	}
	return m
}

// Close releases the HTTP client.
func (s *HubSpotSource) Close(ctx context.Context) error {
	if s.httpClient != nil {
		if err := s.httpClient.Close(); err != nil {
			s.Logger().Warn("failed to close http client", zap.Error(err))
		}
	}
	return s.BaseConnector.Close(ctx)
}
