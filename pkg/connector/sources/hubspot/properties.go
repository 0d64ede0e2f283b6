package hubspot

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/crmflow/crmflow/pkg/config"
	stringpool "github.com/crmflow/crmflow/pkg/strings"
)

// PropsTooLongError reports a resolved property list that exceeds the
// query length budget. It is a configuration error, never retried.
type PropsTooLongError struct {
	Limit   int
	Length  int
	Preview string
}

func (e *PropsTooLongError) Error() string {
	return fmt.Sprintf(
		"property list is too long to request: maximum allowed query length is %d symbols, "+
			"while the list of properties `%s`... is %d symbols long; "+
			"narrow the configured properties for the object type",
		e.Limit, e.Preview, e.Length)
}

// resolveProps computes the final comma-joined property string for an
// object type: the configured names (or the full catalog under the ALL
// sentinel), plus custom catalog properties when enabled, deduplicated
// and sorted.
func resolveProps(ctx context.Context, client Client, objectType ObjectType, spec *config.PropertySpec, includeCustom bool) (string, error) {
	var names []string

	switch {
	case spec != nil && spec.All:
		catalog, err := client.ListPropertyNames(ctx, objectType)
		if err != nil {
			return "", err
		}
		names = append(names, catalog...)
	case spec != nil:
		names = append(names, spec.Names...)
	default:
		names = append(names, defaultProperties[objectType]...)
	}

	if includeCustom {
		catalog, err := client.ListPropertyNames(ctx, objectType)
		if err != nil {
			return "", err
		}
		for _, name := range catalog {
			if !strings.HasPrefix(name, customPropsReservedPrefix) {
				names = append(names, name)
			}
		}
	}

	seen := make(map[string]struct{}, len(names))
	unique := names[:0]
	for _, name := range names {
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		unique = append(unique, name)
	}
	sort.Strings(unique)

	props := stringpool.JoinPooled(unique, ",")

	if len(props) > maxPropsLength {
		preview := props
		if len(preview) > 200 {
			preview = preview[:200]
		}
		return "", &PropsTooLongError{
			Limit:   maxPropsLength,
			Length:  len(props),
			Preview: preview,
		}
	}
	return props, nil
}

// chunkProps splits an oversized comma-joined property string into
// chunks of at most maxLen characters, cutting only on comma
// boundaries. Rejoining the chunks with "," reproduces the input.
func chunkProps(props string, maxLen int) []string {
	if props == "" {
		return nil
	}
	if len(props) <= maxLen {
		return []string{props}
	}

	var chunks []string
	idx := 0
	for idx < len(props) {
		remaining := props[idx:]

		var part string
		if len(remaining) <= maxLen {
			part = remaining
		} else {
			window := remaining[:maxLen]
			if cut := strings.LastIndexByte(window, ','); cut >= 0 {
				part = window[:cut]
			} else {
				// A single name longer than the limit cannot be
				// split; emit it whole.
				end := strings.IndexByte(remaining, ',')
				if end < 0 {
					end = len(remaining)
				}
				part = remaining[:end]
			}
		}

		chunks = append(chunks, part)
		// Skip the separator comma consumed by the cut.
		idx += len(part) + 1
	}
	return chunks
}
