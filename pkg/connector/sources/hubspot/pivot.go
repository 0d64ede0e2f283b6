package hubspot

import (
	"sort"
	"strings"

	"github.com/crmflow/crmflow/pkg/pool"
)

// pivotStageProperties turns wide records carrying one timestamp
// column per pipeline stage into narrow rows, one per (record, stage)
// pair: {id, stage, <prefix>: timestamp}.
//
// Null-valued properties are dropped first. Records lacking the id
// field are discarded. Rows for one input record come out in sorted
// property-name order.
func pivotStageProperties(page []*pool.Record, prefix, idProp string) []*pool.Record {
	var out []*pool.Record
	for _, rec := range page {
		idVal, ok := rec.Data[idProp]
		if !ok || idVal == nil {
			continue
		}

		stageProps := make([]string, 0, 4)
		for name, value := range rec.Data {
			if name == idProp || value == nil {
				continue
			}
			if strings.HasPrefix(name, prefix) {
				stageProps = append(stageProps, name)
			}
		}
		sort.Strings(stageProps)

		for _, name := range stageProps {
			row := pool.GetRecord()
			row.Metadata = rec.Metadata
			if s, ok := idVal.(string); ok {
				row.ID = s
			}
			row.Data[idProp] = idVal
			row.Data["stage"] = strings.TrimPrefix(name, prefix)
			row.Data[prefix] = rec.Data[name]
			out = append(out, row)
		}
	}
	return out
}
