// Package core defines the contracts between sources, destinations and
// the pipeline driver.
package core

import (
	"context"
	"time"

	"github.com/crmflow/crmflow/pkg/pool"
)

// ConnectorType distinguishes sources from destinations.
type ConnectorType string

const (
	ConnectorTypeSource      ConnectorType = "source"
	ConnectorTypeDestination ConnectorType = "destination"
)

// State carries resumable connector state across runs.
type State map[string]interface{}

// WriteMode tells a destination how to apply a stream's records.
type WriteMode string

const (
	// WriteModeReplace replaces the stream's previous contents.
	WriteModeReplace WriteMode = "replace"
	// WriteModeMerge upserts records by primary key.
	WriteModeMerge WriteMode = "merge"
	// WriteModeAppend appends records to previous contents.
	WriteModeAppend WriteMode = "append"
)

// PageIterator yields pages of records lazily. Next returns a nil page
// when the stream is exhausted. Implementations are single-consumer;
// no request is issued before the first Next call.
type PageIterator interface {
	Next(ctx context.Context) ([]*pool.Record, error)
}

// PageFunc adapts a function to the PageIterator interface.
type PageFunc func(ctx context.Context) ([]*pool.Record, error)

// Next calls f.
func (f PageFunc) Next(ctx context.Context) ([]*pool.Record, error) {
	return f(ctx)
}

// NamedStream is one logical output of a source: a name, write
// disposition, and a lazy page iterator. Nothing is fetched until the
// consumer pulls the first page.
type NamedStream struct {
	Name       string
	PrimaryKey []string
	Mode       WriteMode
	Pages      PageIterator
}

// RecordStream is a channel view over records, used at the pipeline
// boundary. Errors carries at most one terminal error.
type RecordStream struct {
	Records <-chan *pool.Record
	Errors  <-chan error
}

// Schema describes one stream's shape.
type Schema struct {
	Name      string
	Fields    []Field
	Version   int
	CreatedAt time.Time
}

// Field is a column in a stream schema.
type Field struct {
	Name     string
	Type     FieldType
	Nullable bool
	Primary  bool
}

// FieldType is the logical type of a field.
type FieldType string

const (
	FieldTypeString    FieldType = "string"
	FieldTypeInt       FieldType = "int"
	FieldTypeFloat     FieldType = "float"
	FieldTypeBool      FieldType = "bool"
	FieldTypeTimestamp FieldType = "timestamp"
	FieldTypeJSON      FieldType = "json"
)

// Source is implemented by all source connectors.
type Source interface {
	// Name returns the connector name.
	Name() string

	// Initialize prepares the source. It must be called before
	// Discover, Streams or Read.
	Initialize(ctx context.Context) error

	// Discover returns the schema of each stream the source would
	// produce under its current configuration.
	Discover(ctx context.Context) ([]*Schema, error)

	// Streams assembles the source's output streams. Iterators are
	// lazy; assembling performs no record fetches.
	Streams(ctx context.Context) ([]*NamedStream, error)

	// Read drains all streams into a single channel of records,
	// each tagged with its stream name in metadata.
	Read(ctx context.Context) (*RecordStream, error)

	// State management for incremental streams.
	GetState() State
	SetState(state State) error

	// Health verifies connectivity to the upstream API.
	Health(ctx context.Context) error

	// Metrics returns connector counters for logging.
	Metrics() map[string]interface{}

	// Close releases resources.
	Close(ctx context.Context) error
}

// Destination is implemented by all destination connectors.
type Destination interface {
	// Name returns the connector name.
	Name() string

	// Initialize prepares the destination for writes.
	Initialize(ctx context.Context) error

	// Write consumes a stream to completion, pulling pages from its
	// iterator and applying them per the stream's write mode.
	Write(ctx context.Context, stream *NamedStream) error

	// Health verifies the destination is writable.
	Health(ctx context.Context) error

	// Metrics returns connector counters for logging.
	Metrics() map[string]interface{}

	// Close flushes and releases resources.
	Close(ctx context.Context) error
}

// Connector is the metadata surface shared by both connector kinds.
type Connector interface {
	Name() string
	Type() ConnectorType
	Version() string
}
