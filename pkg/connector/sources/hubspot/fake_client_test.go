package hubspot

import (
	"context"
	"net/url"

	"github.com/crmflow/crmflow/pkg/connector/core"
	"github.com/crmflow/crmflow/pkg/pool"
)

// fakeClient satisfies Client with overridable behavior per method.
// Unset methods yield empty results.
type fakeClient struct {
	fetchPages         func(endpoint string, params url.Values) core.PageIterator
	fetchHistory       func(endpoint string, properties string) core.PageIterator
	fetchEvents        func(params url.Values) core.PageIterator
	fetchRawPages      func(endpoint string, params url.Values) core.PageIterator
	listPropertyNames  func(ctx context.Context, objectType ObjectType) ([]string, error)
	fetchPropertyLabel func(ctx context.Context, objectType ObjectType, propertyName string) (*pool.Record, error)
}

func (f *fakeClient) FetchPages(endpoint string, params url.Values) core.PageIterator {
	if f.fetchPages == nil {
		return emptyPages()
	}
	return f.fetchPages(endpoint, params)
}

func (f *fakeClient) FetchPropertyHistory(endpoint string, properties string) core.PageIterator {
	if f.fetchHistory == nil {
		return emptyPages()
	}
	return f.fetchHistory(endpoint, properties)
}

func (f *fakeClient) FetchEvents(params url.Values) core.PageIterator {
	if f.fetchEvents == nil {
		return emptyPages()
	}
	return f.fetchEvents(params)
}

func (f *fakeClient) FetchRawPages(endpoint string, params url.Values) core.PageIterator {
	if f.fetchRawPages == nil {
		return emptyPages()
	}
	return f.fetchRawPages(endpoint, params)
}

func (f *fakeClient) ListPropertyNames(ctx context.Context, objectType ObjectType) ([]string, error) {
	if f.listPropertyNames == nil {
		return nil, nil
	}
	return f.listPropertyNames(ctx, objectType)
}

func (f *fakeClient) FetchPropertyLabel(ctx context.Context, objectType ObjectType, propertyName string) (*pool.Record, error) {
	if f.fetchPropertyLabel == nil {
		rec := pool.GetRecord()
		rec.ID = propertyName
		rec.Data["name"] = propertyName
		return rec, nil
	}
	return f.fetchPropertyLabel(ctx, objectType, propertyName)
}

func emptyPages() core.PageIterator {
	return core.PageFunc(func(ctx context.Context) ([]*pool.Record, error) {
		return nil, nil
	})
}

// pagesOf yields the given pages in order, then exhaustion.
func pagesOf(pages ...[]*pool.Record) core.PageIterator {
	i := 0
	return core.PageFunc(func(ctx context.Context) ([]*pool.Record, error) {
		if i >= len(pages) {
			return nil, nil
		}
		p := pages[i]
		i++
		return p, nil
	})
}

// recordOf builds a record straight from a data map.
func recordOf(data map[string]interface{}) *pool.Record {
	rec := pool.GetRecord()
	for k, v := range data {
		rec.Data[k] = v
	}
	if id, ok := data["id"].(string); ok {
		rec.ID = id
	}
	return rec
}

// drainPages pulls an iterator to exhaustion and returns all records.
func drainPages(ctx context.Context, it core.PageIterator) ([]*pool.Record, error) {
	var all []*pool.Record
	for {
		page, err := it.Next(ctx)
		if err != nil {
			return all, err
		}
		if page == nil {
			return all, nil
		}
		all = append(all, page...)
	}
}
