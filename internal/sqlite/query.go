package sqlite

import (
	"fmt"
	"math"
	"strings"

	"github.com/mesh-intelligence/localservice/pkg/types"
)

// query collects the conditions a Predicate adds and compiles them to SQL
// over the records table. Values are always bound, never inlined.
type query struct {
	conds []string
	args  []any
	limit int
	err   error
}

var _ types.Query = (*query)(nil)

// jsonPath returns the json_extract path addressing field.
func jsonPath(field string) string { return "$." + field }

func (q *query) field(name string) bool {
	if q.err != nil {
		return false
	}
	if err := types.ValidateField(name); err != nil {
		q.err = err
		return false
	}
	return true
}

func (q *query) compare(field, op string, value any) types.Query {
	if !q.field(field) {
		return q
	}
	v, err := bindValue(value)
	if err != nil {
		q.err = fmt.Errorf("%s: %w", field, err)
		return q
	}
	q.conds = append(q.conds, "json_extract(body, ?) "+op+" ?")
	q.args = append(q.args, jsonPath(field), v)
	return q
}

func (q *query) EqualTo(field string, value any) types.Query {
	if value == nil {
		return q.IsNull(field)
	}
	return q.compare(field, "=", value)
}

func (q *query) NotEqualTo(field string, value any) types.Query {
	if value == nil {
		return q.IsNotNull(field)
	}
	if !q.field(field) {
		return q
	}
	v, err := bindValue(value)
	if err != nil {
		q.err = fmt.Errorf("%s: %w", field, err)
		return q
	}
	// A missing member differs from every value.
	q.conds = append(q.conds, "json_extract(body, ?) IS NOT ?")
	q.args = append(q.args, jsonPath(field), v)
	return q
}

func (q *query) GreaterThan(field string, value any) types.Query {
	return q.compare(field, ">", value)
}

func (q *query) GreaterThanOrEqualTo(field string, value any) types.Query {
	return q.compare(field, ">=", value)
}

func (q *query) LessThan(field string, value any) types.Query {
	return q.compare(field, "<", value)
}

func (q *query) LessThanOrEqualTo(field string, value any) types.Query {
	return q.compare(field, "<=", value)
}

func (q *query) In(field string, values ...any) types.Query {
	if !q.field(field) {
		return q
	}
	if len(values) == 0 {
		q.conds = append(q.conds, "0")
		return q
	}
	placeholders := make([]string, len(values))
	args := []any{jsonPath(field)}
	for i, value := range values {
		v, err := bindValue(value)
		if err != nil {
			q.err = fmt.Errorf("%s: %w", field, err)
			return q
		}
		placeholders[i] = "?"
		args = append(args, v)
	}
	q.conds = append(q.conds, "json_extract(body, ?) IN ("+strings.Join(placeholders, ",")+")")
	q.args = append(q.args, args...)
	return q
}

func (q *query) Contains(field string, substr string) types.Query {
	if !q.field(field) {
		return q
	}
	q.conds = append(q.conds, "instr(json_extract(body, ?), ?) > 0")
	q.args = append(q.args, jsonPath(field), substr)
	return q
}

func (q *query) IsNull(field string) types.Query {
	if !q.field(field) {
		return q
	}
	q.conds = append(q.conds, "json_extract(body, ?) IS NULL")
	q.args = append(q.args, jsonPath(field))
	return q
}

func (q *query) IsNotNull(field string) types.Query {
	if !q.field(field) {
		return q
	}
	q.conds = append(q.conds, "json_extract(body, ?) IS NOT NULL")
	q.args = append(q.args, jsonPath(field))
	return q
}

func (q *query) Limit(n int) types.Query {
	if q.err != nil {
		return q
	}
	if n <= 0 {
		q.err = fmt.Errorf("%w: %d", types.ErrInvalidLimit, n)
		return q
	}
	if q.limit == 0 || n < q.limit {
		q.limit = n
	}
	return q
}

// bindValue converts a predicate value to a driver argument. Booleans bind
// as 0/1, matching what json_extract returns for JSON true/false.
func bindValue(value any) (any, error) {
	switch v := value.(type) {
	case string, int, int8, int16, int32, int64, uint8, uint16, uint32, float32, float64:
		return v, nil
	case uint:
		return unsignedValue(uint64(v))
	case uint64:
		return unsignedValue(v)
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case fmt.Stringer:
		return v.String(), nil
	default:
		return nil, fmt.Errorf("%w: unsupported value type %T", types.ErrInvalidFilter, value)
	}
}

// unsignedValue binds v as int64, the widest integer SQLite stores.
func unsignedValue(v uint64) (any, error) {
	if v > math.MaxInt64 {
		return nil, fmt.Errorf("%w: %d overflows int64", types.ErrInvalidFilter, v)
	}
	return int64(v), nil
}

// compiled is a predicate and sort order lowered to SQL fragments.
type compiled struct {
	where string
	args  []any
	order string
	limit string
}

// compile applies pred to a fresh query over recordType. The WHERE clause
// always restricts to recordType.
func compile(recordType string, pred types.Predicate, sort []types.SortField) (compiled, error) {
	q := &query{}
	if got := pred.Apply(q); got != types.Query(q) {
		return compiled{}, fmt.Errorf("%w: predicate returned a foreign query", types.ErrInvalidFilter)
	}
	if q.err != nil {
		return compiled{}, q.err
	}

	c := compiled{
		where: "record_type = ?",
		args:  append([]any{recordType}, q.args...),
	}
	if len(q.conds) > 0 {
		c.where += " AND " + strings.Join(q.conds, " AND ")
	}

	var order []string
	for _, s := range sort {
		if err := types.ValidateField(s.Field); err != nil {
			return compiled{}, err
		}
		dir := "ASC"
		if s.Direction == types.Descending {
			dir = "DESC"
		}
		order = append(order, fmt.Sprintf("json_extract(body, '%s') %s", jsonPath(s.Field), dir))
	}
	order = append(order, "seq ASC")
	c.order = strings.Join(order, ", ")

	if q.limit > 0 {
		c.limit = fmt.Sprintf(" LIMIT %d", q.limit)
	}
	return c, nil
}

// selectSQL returns the statement listing the matches of c.
func (c compiled) selectSQL() string {
	return "SELECT seq, record_id, body FROM records WHERE " + c.where + " ORDER BY " + c.order + c.limit
}

// matchSQL returns a subquery yielding the seq of every match of c,
// honouring its limit.
func (c compiled) matchSQL() string {
	return "SELECT seq FROM records WHERE " + c.where + " ORDER BY " + c.order + c.limit
}
