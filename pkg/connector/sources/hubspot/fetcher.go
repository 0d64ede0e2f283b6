package hubspot

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"github.com/crmflow/crmflow/pkg/connector/core"
	"github.com/crmflow/crmflow/pkg/pool"
)

// fetchObjectPages fetches the live partition of an object type, then,
// when softDelete is set, the archived partition. Archived pages start
// strictly after the live partition is exhausted and every archived
// record carries the is_deleted marker. No dedup is performed across
// partitions; ids appearing in both are left to the sink.
func fetchObjectPages(client Client, objectType ObjectType, props string, softDelete bool) core.PageIterator {
	endpoint := crmObjectEndpoints[objectType]

	params := url.Values{}
	params.Set("limit", strconv.Itoa(defaultPageSize))
	if props != "" {
		params.Set("properties", props)
	}

	const (
		phaseLive = iota
		phaseArchived
		phaseDone
	)

	live := client.FetchPages(endpoint, params)
	var archived core.PageIterator
	phase := phaseLive

	return core.PageFunc(func(ctx context.Context) ([]*pool.Record, error) {
		for {
			switch phase {
			case phaseLive:
				page, err := live.Next(ctx)
				if err != nil {
					phase = phaseDone
					return nil, err
				}
				if page != nil {
					preprocessPage(objectType, page, false)
					return page, nil
				}
				if !softDelete {
					phase = phaseDone
					return nil, nil
				}
				archivedParams := cloneValues(params)
				archivedParams.Set("archived", "true")
				archived = client.FetchPages(endpoint, archivedParams)
				phase = phaseArchived

			case phaseArchived:
				page, err := archived.Next(ctx)
				if err != nil {
					phase = phaseDone
					return nil, err
				}
				if page == nil {
					phase = phaseDone
					return nil, nil
				}
				preprocessPage(objectType, page, true)
				return page, nil

			default:
				return nil, nil
			}
		}
	})
}

// preprocessPage applies per-record normalization: deletion provenance
// on archived records, and splitting semicolon-joined merged-object
// ids on deals.
func preprocessPage(objectType ObjectType, page []*pool.Record, archived bool) {
	for _, rec := range page {
		if archived {
			rec.Data[softDeleteField] = true
		}
		if objectType == ObjectTypeDeal {
			splitMergedObjectIDs(rec)
		}
	}
}

// splitMergedObjectIDs turns the upstream "1;2;3" encoding into a
// proper list.
func splitMergedObjectIDs(rec *pool.Record) {
	v, ok := rec.Data[mergedObjectIDsField]
	if !ok || v == nil {
		return
	}
	if s, ok := v.(string); ok {
		rec.Data[mergedObjectIDsField] = strings.Split(s, ";")
	}
}
