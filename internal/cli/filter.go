package cli

import (
	"encoding/json"
	"strings"

	"github.com/mesh-intelligence/localservice/pkg/types"
)

// Filter operators, longest first so "<=" is not read as "<".
var filterOps = []string{"!=", ">=", "<=", "=", ">", "<", "~"}

// filter is one parsed field condition.
type filter struct {
	field string
	op    string
	value any
	raw   string
}

// parseFilter splits "field<op>value". The field is everything before the
// first operator character.
func parseFilter(arg string) (filter, error) {
	i := strings.IndexAny(arg, "!=<>~")
	if i <= 0 {
		return filter{}, usageErrorf("filter %q: expected field<op>value", arg)
	}
	f := filter{field: arg[:i]}
	rest := arg[i:]
	for _, op := range filterOps {
		if strings.HasPrefix(rest, op) {
			f.op = op
			f.raw = rest[len(op):]
			break
		}
	}
	if f.op == "" {
		return filter{}, usageErrorf("filter %q: unknown operator", arg)
	}
	if err := types.ValidateField(f.field); err != nil {
		return filter{}, err
	}
	f.value = parseValue(f.raw)
	return f, nil
}

// parseValue reads v as JSON, falling back to the literal string.
func parseValue(v string) any {
	var parsed any
	if err := json.Unmarshal([]byte(v), &parsed); err != nil {
		return v
	}
	return parsed
}

func (f filter) apply(q types.Query) types.Query {
	switch f.op {
	case "=":
		if list, ok := f.value.([]any); ok {
			return q.In(f.field, list...)
		}
		return q.EqualTo(f.field, f.value)
	case "!=":
		return q.NotEqualTo(f.field, f.value)
	case ">":
		return q.GreaterThan(f.field, f.value)
	case ">=":
		return q.GreaterThanOrEqualTo(f.field, f.value)
	case "<":
		return q.LessThan(f.field, f.value)
	case "<=":
		return q.LessThanOrEqualTo(f.field, f.value)
	default:
		return q.Contains(f.field, f.raw)
	}
}

// parseFilters turns filter arguments into a predicate ANDing them. No
// arguments yields a nil predicate, which matches everything.
func parseFilters(args []string) (types.Predicate, error) {
	if len(args) == 0 {
		return nil, nil
	}
	filters := make([]filter, 0, len(args))
	for _, arg := range args {
		f, err := parseFilter(arg)
		if err != nil {
			return nil, err
		}
		filters = append(filters, f)
	}
	return func(q types.Query) types.Query {
		for _, f := range filters {
			q = f.apply(q)
		}
		return q
	}, nil
}

// parseSort reads "field", "field:asc" or "field:desc".
func parseSort(args []string) ([]types.SortField, error) {
	out := make([]types.SortField, 0, len(args))
	for _, arg := range args {
		field, dir, _ := strings.Cut(arg, ":")
		if err := types.ValidateField(field); err != nil {
			return nil, err
		}
		switch strings.ToLower(dir) {
		case "", "asc":
			out = append(out, types.Asc(field))
		case "desc":
			out = append(out, types.Desc(field))
		default:
			return nil, usageErrorf("sort %q: direction must be asc or desc", arg)
		}
	}
	return out, nil
}

// parseAssignments reads "field=value" pairs for update. Values are JSON
// when they parse as JSON and strings otherwise.
func parseAssignments(args []string) (map[string]any, error) {
	out := make(map[string]any, len(args))
	for _, arg := range args {
		field, raw, ok := strings.Cut(arg, "=")
		if !ok || field == "" {
			return nil, usageErrorf("assignment %q: expected field=value", arg)
		}
		if err := types.ValidateField(field); err != nil {
			return nil, err
		}
		out[field] = parseValue(raw)
	}
	return out, nil
}
