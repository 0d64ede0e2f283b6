package hubspot

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"

	"go.uber.org/zap"

	"github.com/crmflow/crmflow/pkg/auth"
	"github.com/crmflow/crmflow/pkg/clients"
	"github.com/crmflow/crmflow/pkg/connector/core"
	"github.com/crmflow/crmflow/pkg/errors"
	"github.com/crmflow/crmflow/pkg/json"
	"github.com/crmflow/crmflow/pkg/pool"
	stringpool "github.com/crmflow/crmflow/pkg/strings"
)

// Client is the API surface the extraction logic consumes. Tests
// substitute a fake; production uses apiClient.
type Client interface {
	// FetchPages returns a lazy page iterator over a paged endpoint.
	// No request is issued until the first Next call.
	FetchPages(endpoint string, params url.Values) core.PageIterator

	// FetchPropertyHistory returns a lazy iterator over property
	// change history records for the given comma-joined properties.
	FetchPropertyHistory(endpoint string, properties string) core.PageIterator

	// FetchEvents returns a lazy page iterator over the behavioral
	// events endpoint for the given query window.
	FetchEvents(params url.Values) core.PageIterator

	// FetchRawPages iterates a paged endpoint whose results are plain
	// JSON objects rather than CRM object envelopes.
	FetchRawPages(endpoint string, params url.Values) core.PageIterator

	// ListPropertyNames returns the property catalog names for an
	// object type.
	ListPropertyNames(ctx context.Context, objectType ObjectType) ([]string, error)

	// FetchPropertyLabel returns the definition record, including the
	// human-readable label, for one property.
	FetchPropertyLabel(ctx context.Context, objectType ObjectType, propertyName string) (*pool.Record, error)
}

// apiClient talks to the HubSpot REST API.
type apiClient struct {
	baseURL  string
	http     *clients.HTTPClient
	tokens   auth.TokenProvider
	pageSize int
	logger   *zap.Logger
}

// newAPIClient builds the production client.
func newAPIClient(baseURL string, httpClient *clients.HTTPClient, tokens auth.TokenProvider, pageSize int, logger *zap.Logger) *apiClient {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return &apiClient{
		baseURL:  baseURL,
		http:     httpClient,
		tokens:   tokens,
		pageSize: pageSize,
		logger:   logger.With(zap.String("component", "hubspot_client")),
	}
}

// objectsPage mirrors the list-endpoint response envelope.
type objectsPage struct {
	Results []objectResult `json:"results"`
	Paging  *paging        `json:"paging"`
}

type objectResult struct {
	ID                    string                            `json:"id"`
	Properties            map[string]interface{}            `json:"properties"`
	PropertiesWithHistory map[string][]propertyHistoryEntry `json:"propertiesWithHistory"`
	Associations          map[string]interface{}            `json:"associations"`
	Archived              bool                              `json:"archived"`
}

type propertyHistoryEntry struct {
	Value           interface{} `json:"value"`
	Timestamp       string      `json:"timestamp"`
	SourceType      string      `json:"sourceType"`
	SourceID        string      `json:"sourceId"`
	UpdatedByUserID interface{} `json:"updatedByUserId"`
}

type paging struct {
	Next *pagingNext `json:"next"`
}

type pagingNext struct {
	After string `json:"after"`
}

// propertyDefinition mirrors /crm/v3/properties entries.
type propertyDefinition struct {
	Name        string `json:"name"`
	Label       string `json:"label"`
	Type        string `json:"type"`
	FieldType   string `json:"fieldType"`
	Description string `json:"description"`
	GroupName   string `json:"groupName"`
}

type propertiesResponse struct {
	Results []propertyDefinition `json:"results"`
}

// get issues an authorized GET and decodes the JSON body into out.
func (c *apiClient) get(ctx context.Context, rawURL string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to build request")
	}
	if err := auth.AuthorizeRequest(ctx, req, c.tokens); err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return errors.New(errors.ErrorTypeRateLimit, "hubspot rate limit exceeded")
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return errors.New(errors.ErrorTypeAuthentication,
			fmt.Sprintf("hubspot returned status %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return errors.New(errors.ErrorTypeConnection,
			fmt.Sprintf("hubspot returned status %d: %s", resp.StatusCode, body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to decode response")
	}
	return nil
}

// buildURL joins the base URL, an endpoint that may already carry a
// query string, and extra params in sorted key order.
func (c *apiClient) buildURL(endpoint string, params url.Values) string {
	ub := stringpool.NewURLBuilder(c.baseURL + endpoint)
	defer ub.Close()

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, v := range params[k] {
			ub.AddParam(k, v)
		}
	}
	return ub.String()
}

// FetchPages returns a lazy iterator over a paged list endpoint.
func (c *apiClient) FetchPages(endpoint string, params url.Values) core.PageIterator {
	after := ""
	done := false
	return core.PageFunc(func(ctx context.Context) ([]*pool.Record, error) {
		for !done {
			p := cloneValues(params)
			if p.Get("limit") == "" {
				p.Set("limit", fmt.Sprintf("%d", c.pageSize))
			}
			if after != "" {
				p.Set("after", after)
			}

			var page objectsPage
			if err := c.get(ctx, c.buildURL(endpoint, p), &page); err != nil {
				done = true
				return nil, err
			}

			if page.Paging != nil && page.Paging.Next != nil && page.Paging.Next.After != "" {
				after = page.Paging.Next.After
			} else {
				done = true
			}

			if len(page.Results) > 0 {
				return flattenObjects(page.Results), nil
			}
		}
		return nil, nil
	})
}

// FetchPropertyHistory iterates history entries, one record per
// (object, property, change).
func (c *apiClient) FetchPropertyHistory(endpoint string, properties string) core.PageIterator {
	after := ""
	done := false
	return core.PageFunc(func(ctx context.Context) ([]*pool.Record, error) {
		for !done {
			p := url.Values{}
			p.Set("propertiesWithHistory", properties)
			p.Set("limit", fmt.Sprintf("%d", historyPageSize))
			if after != "" {
				p.Set("after", after)
			}

			var page objectsPage
			if err := c.get(ctx, c.buildURL(endpoint, p), &page); err != nil {
				done = true
				return nil, err
			}

			if page.Paging != nil && page.Paging.Next != nil && page.Paging.Next.After != "" {
				after = page.Paging.Next.After
			} else {
				done = true
			}

			if len(page.Results) > 0 {
				return flattenHistory(page.Results), nil
			}
		}
		return nil, nil
	})
}

// rawPage covers endpoints such as pipelines whose results carry no
// properties envelope.
type rawPage struct {
	Results []map[string]interface{} `json:"results"`
	Paging  *paging                  `json:"paging"`
}

// FetchRawPages iterates a paged endpoint of plain JSON objects.
func (c *apiClient) FetchRawPages(endpoint string, params url.Values) core.PageIterator {
	after := ""
	done := false
	return core.PageFunc(func(ctx context.Context) ([]*pool.Record, error) {
		for !done {
			p := cloneValues(params)
			if after != "" {
				p.Set("after", after)
			}

			var page rawPage
			if err := c.get(ctx, c.buildURL(endpoint, p), &page); err != nil {
				done = true
				return nil, err
			}

			if page.Paging != nil && page.Paging.Next != nil && page.Paging.Next.After != "" {
				after = page.Paging.Next.After
			} else {
				done = true
			}

			if len(page.Results) > 0 {
				records := pool.GetBatchSlice(len(page.Results))
				for _, obj := range page.Results {
					rec := pool.GetRecord()
					if id, ok := obj["id"].(string); ok {
						rec.ID = id
					}
					for k, v := range obj {
						rec.Data[k] = v
					}
					records = append(records, rec)
				}
				return records, nil
			}
		}
		return nil, nil
	})
}

// eventsPage mirrors the events endpoint response envelope.
type eventsPage struct {
	Results []eventResult `json:"results"`
	Paging  *paging       `json:"paging"`
}

type eventResult struct {
	ID         string                 `json:"id"`
	ObjectType string                 `json:"objectType"`
	ObjectID   string                 `json:"objectId"`
	EventType  string                 `json:"eventType"`
	OccurredAt string                 `json:"occurredAt"`
	Properties map[string]interface{} `json:"properties"`
}

// FetchEvents iterates behavioral event pages for one query window.
func (c *apiClient) FetchEvents(params url.Values) core.PageIterator {
	after := ""
	done := false
	return core.PageFunc(func(ctx context.Context) ([]*pool.Record, error) {
		for !done {
			p := cloneValues(params)
			if p.Get("limit") == "" {
				p.Set("limit", fmt.Sprintf("%d", c.pageSize))
			}
			if after != "" {
				p.Set("after", after)
			}

			var page eventsPage
			if err := c.get(ctx, c.buildURL(webAnalyticsEventsPath, p), &page); err != nil {
				done = true
				return nil, err
			}

			if page.Paging != nil && page.Paging.Next != nil && page.Paging.Next.After != "" {
				after = page.Paging.Next.After
			} else {
				done = true
			}

			if len(page.Results) > 0 {
				return flattenEvents(page.Results), nil
			}
		}
		return nil, nil
	})
}

// flattenEvents turns event envelopes into flat records keeping the
// routing fields at the top level.
func flattenEvents(results []eventResult) []*pool.Record {
	records := pool.GetBatchSlice(len(results))
	for _, ev := range results {
		rec := pool.GetRecord()
		rec.ID = ev.ID
		for k, v := range ev.Properties {
			rec.Data[k] = v
		}
		rec.Data["id"] = ev.ID
		rec.Data["objectType"] = ev.ObjectType
		rec.Data["objectId"] = ev.ObjectID
		rec.Data["eventType"] = ev.EventType
		rec.Data["occurredAt"] = ev.OccurredAt
		records = append(records, rec)
	}
	return records
}

// ListPropertyNames returns the full property catalog names.
func (c *apiClient) ListPropertyNames(ctx context.Context, objectType ObjectType) ([]string, error) {
	ub := stringpool.NewURLBuilder(c.baseURL + crmPropertiesEndpoint)
	ub.AddPath(ObjectTypePlural[objectType])
	rawURL := ub.String()
	ub.Close()

	var resp propertiesResponse
	if err := c.get(ctx, rawURL, &resp); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(resp.Results))
	for _, def := range resp.Results {
		names = append(names, def.Name)
	}
	return names, nil
}

// FetchPropertyLabel returns one property definition as a record.
func (c *apiClient) FetchPropertyLabel(ctx context.Context, objectType ObjectType, propertyName string) (*pool.Record, error) {
	ub := stringpool.NewURLBuilder(c.baseURL + crmPropertiesEndpoint)
	ub.AddPath(ObjectTypePlural[objectType], propertyName)
	rawURL := ub.String()
	ub.Close()

	var def propertyDefinition
	if err := c.get(ctx, rawURL, &def); err != nil {
		return nil, err
	}

	rec := pool.GetRecord()
	rec.ID = def.Name
	rec.Data["object_type"] = string(objectType)
	rec.Data["name"] = def.Name
	rec.Data["label"] = def.Label
	rec.Data["type"] = def.Type
	rec.Data["field_type"] = def.FieldType
	rec.Data["description"] = def.Description
	rec.Data["group_name"] = def.GroupName
	return rec, nil
}

// flattenObjects turns API objects into flat records: properties at
// the top level plus the object id.
func flattenObjects(results []objectResult) []*pool.Record {
	records := pool.GetBatchSlice(len(results))
	for _, obj := range results {
		rec := pool.GetRecord()
		rec.ID = obj.ID
		for k, v := range obj.Properties {
			rec.Data[k] = v
		}
		rec.Data["id"] = obj.ID
		if len(obj.Associations) > 0 {
			rec.Data["associations"] = obj.Associations
		}
		records = append(records, rec)
	}
	return records
}

// flattenHistory expands propertiesWithHistory into one record per
// change entry, keyed by the owning object id.
func flattenHistory(results []objectResult) []*pool.Record {
	var records []*pool.Record
	for _, obj := range results {
		names := make([]string, 0, len(obj.PropertiesWithHistory))
		for name := range obj.PropertiesWithHistory {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			for _, entry := range obj.PropertiesWithHistory[name] {
				rec := pool.GetRecord()
				rec.ID = obj.ID
				rec.Data["object_id"] = obj.ID
				rec.Data["property_name"] = name
				rec.Data["value"] = entry.Value
				rec.Data["timestamp"] = entry.Timestamp
				rec.Data["source_type"] = entry.SourceType
				rec.Data["source_id"] = entry.SourceID
				if entry.UpdatedByUserID != nil {
					rec.Data["updated_by_user_id"] = entry.UpdatedByUserID
				}
				records = append(records, rec)
			}
		}
	}
	return records
}

func cloneValues(params url.Values) url.Values {
	out := url.Values{}
	for k, vs := range params {
		for _, v := range vs {
			out.Add(k, v)
		}
	}
	return out
}
