package types

import (
	"context"
	"database/sql"
	"errors"
)

// LocalService reads, writes, streams and aggregates records against a
// thread-confined embedded database. Every operation runs on the execution
// context of its record type; callers may invoke operations from any
// goroutine.
type LocalService interface {
	// Get streams the records matching spec. The stream emits the current
	// result set, then a fresh result set after each committed change to the
	// record type, until it is closed or the store shuts down.
	Get(ctx context.Context, spec QuerySpec) (*Stream[[]Record], error)

	// GetAggregate emits the reduction described by req once and completes.
	// An invalid NullFloat64 means "no value" (no matches for Max, Min, Sum
	// or Average).
	GetAggregate(ctx context.Context, req AggregationRequest) (*Stream[sql.NullFloat64], error)

	// GetSize emits the number of records matching predicate and completes.
	GetSize(ctx context.Context, rt RecordType, predicate Predicate) (*Stream[int], error)

	// StoreObject upserts rec, replacing any stored record with its ID.
	StoreObject(ctx context.Context, rt RecordType, rec Record) error

	// StoreObjects upserts recs in one transaction.
	StoreObjects(ctx context.Context, rt RecordType, recs []Record) error

	// Update applies mutate to the first record matching predicate inside a
	// transaction. No match is not an error.
	Update(ctx context.Context, rt RecordType, predicate Predicate, mutate func(Record) error) error

	// Delete removes every record matching predicate (all records of the type
	// when predicate is nil).
	Delete(ctx context.Context, rt RecordType, predicate Predicate) error

	// DeleteAndStoreObjects deletes the matches of predicate and then stores
	// recs, atomically.
	DeleteAndStoreObjects(ctx context.Context, rt RecordType, predicate Predicate, recs []Record) error

	// GetIDs applies extract to a detached snapshot of every match and
	// returns the distinct results.
	GetIDs(ctx context.Context, rt RecordType, predicate Predicate, extract func(Record) int) (map[int]struct{}, error)

	// GetMonitoringLog returns a copy of the monitoring counters. When
	// monitoring is disabled the maps are empty.
	GetMonitoringLog() MonitoringLog

	// GlobalInstanceCount returns the number of open handles on the store,
	// across all access layers sharing it.
	GlobalInstanceCount() int

	// LocalInstanceCount returns the number of open handles acquired by this
	// access layer.
	LocalInstanceCount() int

	// Close cancels live streams, waits for their handles to be released and
	// shuts the layer down.
	Close() error
}

// Lifecycle errors.
var (
	ErrDetached        = errors.New("store is detached")
	ErrAlreadyAttached = errors.New("store is already attached")
	ErrServiceClosed   = errors.New("local service is closed")
	ErrNotConfined     = errors.New("handle used outside its execution context")
	ErrHandleClosed    = errors.New("handle is closed")
)
