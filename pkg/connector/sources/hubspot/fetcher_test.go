package hubspot

import (
	"context"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crmflow/crmflow/pkg/connector/core"
	"github.com/crmflow/crmflow/pkg/pool"
)

func TestFetchObjectPagesLiveThenArchived(t *testing.T) {
	var requests []url.Values
	client := &fakeClient{
		fetchPages: func(endpoint string, params url.Values) core.PageIterator {
			requests = append(requests, params)
			if params.Get("archived") == "true" {
				return pagesOf([]*pool.Record{
					recordOf(map[string]interface{}{"id": "3"}),
				})
			}
			return pagesOf(
				[]*pool.Record{recordOf(map[string]interface{}{"id": "1"})},
				[]*pool.Record{recordOf(map[string]interface{}{"id": "2"})},
			)
		},
	}

	records, err := drainPages(context.Background(),
		fetchObjectPages(client, ObjectTypeContact, "email,firstname", true))
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, "1", records[0].ID)
	assert.Equal(t, "2", records[1].ID)
	assert.Equal(t, "3", records[2].ID, "archived records come strictly after live ones")

	_, liveMarked := records[0].Data[softDeleteField]
	assert.False(t, liveMarked, "live records carry no deletion marker")
	assert.Equal(t, true, records[2].Data[softDeleteField])

	require.Len(t, requests, 2, "one live fetch, one archived fetch")
	assert.Empty(t, requests[0].Get("archived"))
	assert.Equal(t, "email,firstname", requests[0].Get("properties"))
	assert.Equal(t, "email,firstname", requests[1].Get("properties"))
}

func TestFetchObjectPagesWithoutSoftDelete(t *testing.T) {
	var requests []url.Values
	client := &fakeClient{
		fetchPages: func(endpoint string, params url.Values) core.PageIterator {
			requests = append(requests, params)
			return pagesOf([]*pool.Record{recordOf(map[string]interface{}{"id": "1"})})
		},
	}

	records, err := drainPages(context.Background(),
		fetchObjectPages(client, ObjectTypeContact, "", false))
	require.NoError(t, err)
	require.Len(t, records, 1)

	require.Len(t, requests, 1, "no archived fetch without soft delete")
	assert.Empty(t, requests[0].Get("properties"), "empty property list sends no properties param")
}

func TestFetchObjectPagesSplitsMergedDealIDs(t *testing.T) {
	client := &fakeClient{
		fetchPages: func(endpoint string, params url.Values) core.PageIterator {
			return pagesOf([]*pool.Record{
				recordOf(map[string]interface{}{
					"id":                 "1",
					mergedObjectIDsField: "10;11;12",
				}),
				recordOf(map[string]interface{}{"id": "2"}),
			})
		},
	}

	records, err := drainPages(context.Background(),
		fetchObjectPages(client, ObjectTypeDeal, "", false))
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, []string{"10", "11", "12"}, records[0].Data[mergedObjectIDsField])
	_, hasMerged := records[1].Data[mergedObjectIDsField]
	assert.False(t, hasMerged)
}

func TestStagesTimingPages(t *testing.T) {
	var propertyParams []string
	client := &fakeClient{
		listPropertyNames: func(ctx context.Context, objectType ObjectType) ([]string, error) {
			return []string{"hs_date_entered_open", "dealname", "hs_date_entered_won"}, nil
		},
		fetchPages: func(endpoint string, params url.Values) core.PageIterator {
			propertyParams = append(propertyParams, params.Get("properties"))
			return pagesOf([]*pool.Record{
				recordOf(map[string]interface{}{
					"id":                   "42",
					"hs_date_entered_open": "2024-01-01T00:00:00Z",
					"hs_date_entered_won":  nil,
				}),
			})
		},
	}

	rows, err := drainPages(context.Background(),
		stagesTimingPages(client, ObjectTypeDeal, false))
	require.NoError(t, err)

	require.Len(t, rows, 1)
	assert.Equal(t, "42", rows[0].Data["id"])
	assert.Equal(t, "open", rows[0].Data["stage"])
	assert.Equal(t, "2024-01-01T00:00:00Z", rows[0].Data[stagePropertyPrefix])

	require.Len(t, propertyParams, 1)
	assert.Equal(t, "hs_date_entered_open,hs_date_entered_won", propertyParams[0],
		"only stage-prefixed catalog columns are requested")
}

func TestStagesTimingPagesNoStageColumns(t *testing.T) {
	client := &fakeClient{
		listPropertyNames: func(ctx context.Context, objectType ObjectType) ([]string, error) {
			return []string{"dealname", "amount"}, nil
		},
	}

	rows, err := drainPages(context.Background(),
		stagesTimingPages(client, ObjectTypeDeal, false))
	require.NoError(t, err)
	assert.Empty(t, rows)
}
