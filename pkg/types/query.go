package types

import (
	"fmt"
	"regexp"
)

// Query is the query-builder capability a Predicate refines. Conditions
// accumulate with AND semantics. Field names address members of the stored
// record; nested members use dots ("owner.name").
type Query interface {
	EqualTo(field string, value any) Query
	NotEqualTo(field string, value any) Query
	GreaterThan(field string, value any) Query
	GreaterThanOrEqualTo(field string, value any) Query
	LessThan(field string, value any) Query
	LessThanOrEqualTo(field string, value any) Query
	In(field string, values ...any) Query
	Contains(field string, substr string) Query
	IsNull(field string) Query
	IsNotNull(field string) Query
	Limit(n int) Query
}

// Predicate narrows a query. A nil Predicate matches every record of the
// queried type.
type Predicate func(Query) Query

// Apply runs p over q, treating a nil predicate as the identity.
func (p Predicate) Apply(q Query) Query {
	if p == nil {
		return q
	}
	return p(q)
}

// And composes predicates left to right. Nil entries are skipped.
func And(preds ...Predicate) Predicate {
	return func(q Query) Query {
		for _, p := range preds {
			q = p.Apply(q)
		}
		return q
	}
}

// Where returns a predicate with a single equality condition.
func Where(field string, value any) Predicate {
	return func(q Query) Query { return q.EqualTo(field, value) }
}

// Direction is a sort direction.
type Direction int

// Sort directions.
const (
	Ascending Direction = iota
	Descending
)

func (d Direction) String() string {
	if d == Descending {
		return "desc"
	}
	return "asc"
}

// SortField orders results by one field.
type SortField struct {
	Field     string
	Direction Direction
}

// Asc and Desc build SortFields.
func Asc(field string) SortField  { return SortField{Field: field, Direction: Ascending} }
func Desc(field string) SortField { return SortField{Field: field, Direction: Descending} }

// QuerySpec describes a read: the record type, an optional predicate and an
// optional sort applied after filtering. Without a sort the store's default
// (insertion) order is used.
type QuerySpec struct {
	RecordType RecordType
	Predicate  Predicate
	Sort       []SortField
}

// Validate checks the record type and sort fields.
func (s QuerySpec) Validate() error {
	if err := s.RecordType.Validate(); err != nil {
		return err
	}
	for _, f := range s.Sort {
		if err := ValidateField(f.Field); err != nil {
			return err
		}
	}
	return nil
}

// AggregationRequest describes a numeric reduction over the records matched
// by Predicate. Field is ignored for Size.
type AggregationRequest struct {
	RecordType RecordType
	Predicate  Predicate
	Function   AggregationFunction
	Field      string
}

// Validate checks the record type, function and field.
func (r AggregationRequest) Validate() error {
	if err := r.RecordType.Validate(); err != nil {
		return err
	}
	if !r.Function.Valid() {
		return fmt.Errorf("%w: %v", ErrInvalidAggregation, r.Function)
	}
	if !r.Function.RequiresField() {
		return nil
	}
	if r.Field == "" {
		return fmt.Errorf("%s: %w", r.Function, ErrFieldRequired)
	}
	return ValidateField(r.Field)
}

var fieldPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)

// ValidateField returns ErrInvalidField unless name is a dotted identifier.
func ValidateField(name string) error {
	if !fieldPattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidField, name)
	}
	return nil
}
