package hubspot

import (
	"context"
	"strings"

	"github.com/crmflow/crmflow/pkg/connector/core"
	"github.com/crmflow/crmflow/pkg/pool"
)

// stagesTimingPages assembles the stage timing stream for one object
// type: list the catalog, keep the stage-prefixed timestamp columns,
// chunk the oversized property list on comma boundaries, fetch each
// chunk (live plus optional archived) and pivot every page.
func stagesTimingPages(client Client, objectType ObjectType, softDelete bool) core.PageIterator {
	var chunks []string
	var current core.PageIterator
	initialized := false
	chunkIdx := 0

	return core.PageFunc(func(ctx context.Context) ([]*pool.Record, error) {
		if !initialized {
			names, err := client.ListPropertyNames(ctx, objectType)
			if err != nil {
				return nil, err
			}
			stageProps := make([]string, 0, len(names))
			for _, name := range names {
				if strings.HasPrefix(name, stagePropertyPrefix) {
					stageProps = append(stageProps, name)
				}
			}
			// Catalog order is preserved; chunking only needs comma
			// boundaries, not sorted input.
			chunks = chunkProps(strings.Join(stageProps, ","), maxPropsLength)
			initialized = true
		}

		for {
			if current == nil {
				if chunkIdx >= len(chunks) {
					return nil, nil
				}
				current = fetchObjectPages(client, objectType, chunks[chunkIdx], softDelete)
				chunkIdx++
			}

			page, err := current.Next(ctx)
			if err != nil {
				return nil, err
			}
			if page == nil {
				current = nil
				continue
			}

			rows := pivotStageProperties(page, stagePropertyPrefix, "id")
			if len(rows) == 0 {
				continue
			}
			return rows, nil
		}
	})
}
