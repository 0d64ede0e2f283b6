package hubspot

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crmflow/crmflow/pkg/connector/core"
	"github.com/crmflow/crmflow/pkg/pool"
)

func eventRecord(id, eventType, occurredAt string) *pool.Record {
	return recordOf(map[string]interface{}{
		"id":         id,
		"eventType":  eventType,
		"occurredAt": occurredAt,
	})
}

func TestEventsPagesRoutesAndAdvancesCursor(t *testing.T) {
	var queries []url.Values
	client := &fakeClient{
		fetchEvents: func(params url.Values) core.PageIterator {
			queries = append(queries, params)
			switch params.Get("objectId") {
			case "A":
				return pagesOf([]*pool.Record{
					eventRecord("e1", "click", "2024-05-02T00:00:00Z"),
					eventRecord("e2", "view", "2024-05-01T00:00:00Z"),
				})
			case "B":
				return pagesOf([]*pool.Record{
					eventRecord("e3", "click", "2024-04-01T00:00:00Z"),
				})
			default:
				return emptyPages()
			}
		},
	}

	cursor := newEventCursor(time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC))
	records, err := drainPages(context.Background(),
		eventsPages(client, ObjectTypeContact, "", []string{"A", "B"}, cursor))
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, "contact_events_click", records[0].GetStreamID())
	assert.Equal(t, "contact_events_view", records[1].GetStreamID())
	assert.Equal(t, "contact_events_click", records[2].GetStreamID())
	assert.Equal(t, []string{"e1", "e2", "e3"}, []string{records[0].ID, records[1].ID, records[2].ID},
		"object ids are queried in input order")

	assert.Equal(t, "2024-05-02T00:00:00Z", cursor.Value(),
		"cursor lands on the latest observed timestamp, never an earlier one")

	require.Len(t, queries, 2)
	for _, q := range queries {
		assert.Equal(t, "contact", q.Get("objectType"))
		assert.Equal(t, "2024-02-10T00:00:00Z", q.Get("occurredAfter"),
			"the window lower bound is fixed at first pull")
		assert.NotEmpty(t, q.Get("occurredBefore"))
		assert.Equal(t, "-occurredAt", q.Get("sort"))
	}
}

func TestEventsPagesEventTypeFilter(t *testing.T) {
	var query url.Values
	client := &fakeClient{
		fetchEvents: func(params url.Values) core.PageIterator {
			query = params
			return emptyPages()
		},
	}

	cursor := newEventCursor(defaultStartDate)
	_, err := drainPages(context.Background(),
		eventsPages(client, ObjectTypeDeal, "e_visited_page", nil, cursor))
	require.NoError(t, err)

	require.NotNil(t, query, "no object ids still issues one unscoped query")
	assert.Equal(t, "e_visited_page", query.Get("eventType"))
	assert.Empty(t, query.Get("objectId"))
}

func TestEventsPagesWindowFixedAtFirstPull(t *testing.T) {
	client := &fakeClient{
		fetchEvents: func(params url.Values) core.PageIterator {
			return pagesOf([]*pool.Record{
				eventRecord("e1", "click", "2024-06-01T00:00:00Z"),
			})
		},
	}

	cursor := newEventCursor(defaultStartDate)
	it := eventsPages(client, ObjectTypeContact, "", []string{"A"}, cursor)

	page, err := it.Next(context.Background())
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "2024-06-01T00:00:00Z", cursor.Value(),
		"cursor advances while the run is still draining")

	page, err = it.Next(context.Background())
	require.NoError(t, err)
	assert.Nil(t, page)
}

func TestEventCursorObserve(t *testing.T) {
	cursor := newEventCursor(time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, "2024-02-10T00:00:00Z", cursor.Value())

	cursor.Observe("2024-03-01T00:00:00Z")
	assert.Equal(t, "2024-03-01T00:00:00Z", cursor.Value())

	cursor.Observe("2024-02-20T00:00:00Z")
	assert.Equal(t, "2024-03-01T00:00:00Z", cursor.Value(), "earlier timestamps never rewind the cursor")

	cursor.Observe("")
	assert.Equal(t, "2024-03-01T00:00:00Z", cursor.Value())
}

func TestRestoreEventCursor(t *testing.T) {
	cursor := restoreEventCursor("2024-07-04T12:00:00Z")
	assert.Equal(t, "2024-07-04T12:00:00Z", cursor.Value())
}
