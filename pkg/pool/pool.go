// Package pool provides object pooling for crmflow's record pipeline.
// Records flow from source connectors to destinations in page-sized
// batches; pooling the record and page allocations keeps GC pressure
// low on large extractions.
package pool

import (
	"sync"
	"sync/atomic"
	"time"
)

// Pool is a generic typed object pool wrapping sync.Pool with an
// optional reset function and usage statistics.
type Pool[T any] struct {
	pool  sync.Pool
	reset func(T)
	stats struct {
		allocated int64
		inUse     int64
	}
}

// New creates a typed pool with custom allocation and reset functions.
func New[T any](newFn func() T, reset func(T)) *Pool[T] {
	p := &Pool[T]{reset: reset}
	p.pool.New = func() interface{} {
		atomic.AddInt64(&p.stats.allocated, 1)
		return newFn()
	}
	return p
}

// Get retrieves an object from the pool, allocating if empty.
func (p *Pool[T]) Get() T {
	atomic.AddInt64(&p.stats.inUse, 1)
	return p.pool.Get().(T)
}

// Put returns an object to the pool after resetting it.
func (p *Pool[T]) Put(obj T) {
	if p.reset != nil {
		p.reset(obj)
	}
	atomic.AddInt64(&p.stats.inUse, -1)
	p.pool.Put(obj)
}

// Stats returns the allocation count and number of objects in use.
func (p *Pool[T]) Stats() (allocated, inUse int64) {
	return atomic.LoadInt64(&p.stats.allocated), atomic.LoadInt64(&p.stats.inUse)
}

// RecordMetadata carries routing information for a record.
type RecordMetadata struct {
	// StreamID names the output stream the record is routed to
	StreamID string `json:"stream_id,omitempty"`
	// Timestamp when the record was captured
	Timestamp time.Time `json:"timestamp"`
}

// Record is the unified record type flowing between sources and
// destinations. Obtain records from the pool with GetRecord and return
// them with Release.
type Record struct {
	// ID is a unique identifier for the record
	ID string `json:"id"`
	// Data contains the record payload keyed by property name
	Data map[string]interface{} `json:"data"`
	// Metadata contains routing information
	Metadata RecordMetadata `json:"metadata"`
}

var (
	// RecordPool provides pooling for Record objects.
	RecordPool = New(
		func() *Record {
			return &Record{
				Data: make(map[string]interface{}, 16),
			}
		},
		func(r *Record) {
			r.ID = ""
			for k := range r.Data {
				delete(r.Data, k)
			}
			r.Metadata = RecordMetadata{}
		},
	)

	// BatchSlicePool provides pooling for record page slices.
	BatchSlicePool = New(
		func() []*Record {
			return make([]*Record, 0, 100)
		},
		func(s []*Record) {
			for i := range s {
				s[i] = nil
			}
		},
	)
)

// GetRecord retrieves a Record from the global pool with a fresh
// timestamp.
func GetRecord() *Record {
	r := RecordPool.Get()
	r.Metadata.Timestamp = time.Now()
	return r
}

// PutRecord returns a Record to the pool. Safe to call with nil.
func PutRecord(record *Record) {
	if record == nil {
		return
	}
	RecordPool.Put(record)
}

// GetBatchSlice retrieves a record slice with at least the requested
// capacity and zero length.
func GetBatchSlice(capacity int) []*Record {
	batch := BatchSlicePool.Get()
	if cap(batch) < capacity {
		batch = make([]*Record, 0, capacity)
	}
	return batch[:0]
}

// PutBatchSlice returns a record slice to the pool. Safe to call with nil.
func PutBatchSlice(batch []*Record) {
	if batch != nil {
		BatchSlicePool.Put(batch)
	}
}

// SetStreamID sets the output stream the record belongs to.
func (r *Record) SetStreamID(streamID string) {
	r.Metadata.StreamID = streamID
}

// GetStreamID returns the output stream the record belongs to.
func (r *Record) GetStreamID() string {
	return r.Metadata.StreamID
}

// Release returns the record to the pool. The record and its data map
// must not be used after release.
func (r *Record) Release() {
	PutRecord(r)
}
