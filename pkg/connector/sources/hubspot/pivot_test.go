package hubspot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crmflow/crmflow/pkg/pool"
)

func TestPivotStageProperties(t *testing.T) {
	page := []*pool.Record{
		recordOf(map[string]interface{}{
			"id":                     "1",
			"hs_date_entered_open":   "2024-01-01T00:00:00Z",
			"hs_date_entered_closed": nil,
			"dealname":               "acme",
		}),
	}

	rows := pivotStageProperties(page, stagePropertyPrefix, "id")

	require.Len(t, rows, 1, "nil stage values and non-stage columns produce no rows")
	row := rows[0]
	assert.Equal(t, "1", row.Data["id"])
	assert.Equal(t, "open", row.Data["stage"])
	assert.Equal(t, "2024-01-01T00:00:00Z", row.Data[stagePropertyPrefix])
	assert.Equal(t, "1", row.ID)
}

func TestPivotStagePropertiesMultipleStages(t *testing.T) {
	page := []*pool.Record{
		recordOf(map[string]interface{}{
			"id":                          "7",
			"hs_date_entered_won":         "2024-03-01T00:00:00Z",
			"hs_date_entered_appointment": "2024-02-01T00:00:00Z",
		}),
	}

	rows := pivotStageProperties(page, stagePropertyPrefix, "id")

	require.Len(t, rows, 2)
	assert.Equal(t, "appointment", rows[0].Data["stage"], "rows come out in sorted property order")
	assert.Equal(t, "won", rows[1].Data["stage"])
}

func TestPivotStagePropertiesSkipsRecordsWithoutID(t *testing.T) {
	page := []*pool.Record{
		recordOf(map[string]interface{}{
			"hs_date_entered_open": "2024-01-01T00:00:00Z",
		}),
		recordOf(map[string]interface{}{
			"id":                   nil,
			"hs_date_entered_open": "2024-01-01T00:00:00Z",
		}),
	}

	rows := pivotStageProperties(page, stagePropertyPrefix, "id")
	assert.Empty(t, rows)
}

func TestPivotStagePropertiesNoStageColumns(t *testing.T) {
	page := []*pool.Record{
		recordOf(map[string]interface{}{"id": "9", "dealname": "acme"}),
	}

	rows := pivotStageProperties(page, stagePropertyPrefix, "id")
	assert.Empty(t, rows)
}
