package hubspot

import (
	"context"
	"net/url"
	"time"

	"github.com/crmflow/crmflow/pkg/connector/core"
	"github.com/crmflow/crmflow/pkg/metrics"
	"github.com/crmflow/crmflow/pkg/pool"
	stringpool "github.com/crmflow/crmflow/pkg/strings"
)

// EventCursor is the incremental high-water mark on occurredAt. It
// only ever advances; ties at the boundary are re-fetched next run
// because the lower bound is inclusive, so sinks deduplicate by
// (id, occurredAt).
type EventCursor struct {
	last string
}

// newEventCursor seeds a cursor at the given start time.
func newEventCursor(start time.Time) *EventCursor {
	return &EventCursor{last: start.UTC().Format(time.RFC3339)}
}

// restoreEventCursor rebuilds a cursor from a persisted value.
func restoreEventCursor(value string) *EventCursor {
	return &EventCursor{last: value}
}

// Value returns the current watermark.
func (c *EventCursor) Value() string {
	return c.last
}

// Observe advances the watermark when occurredAt is later than the
// stored value. Never rewinds.
func (c *EventCursor) Observe(occurredAt string) {
	if occurredAt == "" {
		return
	}
	if laterTimestamp(occurredAt, c.last) {
		c.last = occurredAt
	}
}

// laterTimestamp compares two ISO timestamps, falling back to string
// comparison when either fails to parse.
func laterTimestamp(a, b string) bool {
	ta, errA := time.Parse(time.RFC3339, a)
	tb, errB := time.Parse(time.RFC3339, b)
	if errA == nil && errB == nil {
		return ta.After(tb)
	}
	return a > b
}

// eventStreamPrefix names the routed streams for one object type.
func eventStreamPrefix(objectType ObjectType) string {
	return stringpool.Concat(string(objectType), "_events_")
}

// eventsPages fetches behavioral events for each object id in input
// order, routing every record to a stream named by its eventType. The
// extraction window is [cursor value at first pull, now at first
// pull); the cursor advances as records are observed. A failing id
// propagates its error; pages already yielded stay delivered.
func eventsPages(client Client, objectType ObjectType, eventType string, objectIDs []string, cursor *EventCursor) core.PageIterator {
	prefix := eventStreamPrefix(objectType)

	// No configured ids means one unscoped query for the object type.
	if len(objectIDs) == 0 {
		objectIDs = []string{""}
	}

	var lowerBound, endDate string
	var current core.PageIterator
	started := false
	idIdx := 0

	return core.PageFunc(func(ctx context.Context) ([]*pool.Record, error) {
		if !started {
			lowerBound = cursor.Value()
			endDate = time.Now().UTC().Format(time.RFC3339)
			started = true
		}

		for {
			if current == nil {
				if idIdx >= len(objectIDs) {
					return nil, nil
				}
				params := url.Values{}
				params.Set("objectType", string(objectType))
				if objectIDs[idIdx] != "" {
					params.Set("objectId", objectIDs[idIdx])
				}
				if eventType != "" {
					params.Set("eventType", eventType)
				}
				params.Set("occurredAfter", lowerBound)
				params.Set("occurredBefore", endDate)
				params.Set("sort", "-occurredAt")
				current = client.FetchEvents(params)
				idIdx++
			}

			page, err := current.Next(ctx)
			if err != nil {
				return nil, err
			}
			if page == nil {
				current = nil
				continue
			}

			routeEvents(prefix, page, cursor)
			return page, nil
		}
	})
}

// routeEvents tags each record with its target stream, derived from
// the eventType observed at runtime, and advances the cursor. Streams
// come into existence on first sight of a new event type; the sink
// creates output handles lazily from the stream tag.
func routeEvents(prefix string, page []*pool.Record, cursor *EventCursor) {
	for _, rec := range page {
		eventType, _ := rec.Data["eventType"].(string)
		streamName := stringpool.Concat(prefix, eventType)
		rec.SetStreamID(streamName)

		if occurredAt, ok := rec.Data["occurredAt"].(string); ok {
			cursor.Observe(occurredAt)
		}

		metrics.EventsRouted.WithLabelValues("hubspot", streamName).Inc()
	}
}
