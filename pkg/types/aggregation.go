package types

import (
	"fmt"
	"strings"
)

// AggregationFunction is a numeric reduction applied to a field across the
// records matched by a query.
type AggregationFunction int

// Supported aggregation functions.
const (
	Max AggregationFunction = iota + 1
	Min
	Sum
	Size
	Average
)

var aggregationNames = map[AggregationFunction]string{
	Max:     "max",
	Min:     "min",
	Sum:     "sum",
	Size:    "size",
	Average: "average",
}

func (f AggregationFunction) String() string {
	if name, ok := aggregationNames[f]; ok {
		return name
	}
	return fmt.Sprintf("AggregationFunction(%d)", int(f))
}

// Valid reports whether f is one of the supported functions.
func (f AggregationFunction) Valid() bool {
	_, ok := aggregationNames[f]
	return ok
}

// RequiresField reports whether the function reduces over a named field.
// Size counts matches and ignores the field.
func (f AggregationFunction) RequiresField() bool {
	return f != Size
}

// ParseAggregationFunction returns the function named s (case-insensitive).
// "avg" is accepted as an alias for average.
func ParseAggregationFunction(s string) (AggregationFunction, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if name == "avg" {
		return Average, nil
	}
	for f, n := range aggregationNames {
		if n == name {
			return f, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidAggregation, s)
}
