package types

import (
	"errors"
	"fmt"
	"reflect"
)

// Record is a stored value of some logical record type. RecordID returns the
// identity used for upserts: storing a record whose ID already exists
// replaces the stored record entirely.
type Record interface {
	RecordID() string
}

// RecordType identifies a logical kind of record. It is the key of the
// execution domain its operations run on and of its monitoring counters.
// Two RecordTypes are the same type when their names are equal.
type RecordType struct {
	name   string
	newFn  func() Record
	goType reflect.Type
}

// NewRecordType returns the RecordType named name whose records are *T.
//
// Example:
//
//	type Order struct {
//	    ID    string `json:"id"`
//	    Score int    `json:"score"`
//	}
//	func (o *Order) RecordID() string { return o.ID }
//
//	var Orders = types.NewRecordType[Order]("orders")
func NewRecordType[T any, PT interface {
	*T
	Record
}](name string) RecordType {
	return RecordType{
		name:   name,
		newFn:  func() Record { return PT(new(T)) },
		goType: reflect.TypeOf(PT(nil)),
	}
}

// Name returns the record type name.
func (rt RecordType) Name() string { return rt.name }

func (rt RecordType) String() string { return rt.name }

// IsZero reports whether rt was never initialized.
func (rt RecordType) IsZero() bool { return rt.name == "" || rt.newFn == nil }

// New returns a fresh, empty record of this type. Detached snapshots are
// decoded into values returned by New.
func (rt RecordType) New() Record { return rt.newFn() }

// Accepts reports whether rec has the Go type of this record type.
func (rt RecordType) Accepts(rec Record) bool {
	return rec != nil && reflect.TypeOf(rec) == rt.goType
}

// Validate checks that rt was built with NewRecordType or DocumentType.
func (rt RecordType) Validate() error {
	if rt.IsZero() {
		return ErrInvalidRecordType
	}
	return nil
}

// CheckRecord returns ErrInvalidData when rec is not a record of this type or
// has an empty identity.
func (rt RecordType) CheckRecord(rec Record) error {
	if !rt.Accepts(rec) {
		return fmt.Errorf("%w: %T is not a %s record", ErrInvalidData, rec, rt.name)
	}
	if rec.RecordID() == "" {
		return fmt.Errorf("%s: %w", rt.name, ErrInvalidID)
	}
	return nil
}

// Record operation errors.
var (
	ErrInvalidRecordType  = errors.New("invalid record type")
	ErrInvalidID          = errors.New("invalid record ID")
	ErrInvalidData        = errors.New("invalid record data")
	ErrIdentityChanged    = errors.New("mutation changed record identity")
	ErrInvalidField       = errors.New("invalid field name")
	ErrInvalidAggregation = errors.New("invalid aggregation function")
	ErrFieldRequired      = errors.New("aggregation requires a field name")
	ErrInvalidFilter      = errors.New("invalid filter value")
	ErrInvalidLimit       = errors.New("limit must be positive")
)
