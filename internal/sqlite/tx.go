package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mesh-intelligence/localservice/pkg/types"
)

// Tx is a write transaction opened by Handle.Transaction. It is only valid
// inside the callback.
type Tx struct {
	tx      *sql.Tx
	touched map[string]struct{}
}

// FindAll evaluates pred over recordType within the transaction.
func (t *Tx) FindAll(ctx context.Context, recordType string, pred types.Predicate, sort []types.SortField) (Results, error) {
	return findAll(ctx, t.tx, recordType, pred, sort)
}

// FindFirst returns the first match of pred in default order.
func (t *Tx) FindFirst(ctx context.Context, recordType string, pred types.Predicate) (Row, bool, error) {
	first := func(q types.Query) types.Query { return pred.Apply(q).Limit(1) }
	res, err := findAll(ctx, t.tx, recordType, first, nil)
	if err != nil || res.Len() == 0 {
		return Row{}, false, err
	}
	return res.rows[0], true, nil
}

// FindByID returns the record of recordType stored under id.
func (t *Tx) FindByID(ctx context.Context, recordType, id string) (Row, bool, error) {
	var r Row
	var body string
	err := t.tx.QueryRowContext(ctx,
		"SELECT seq, record_id, body FROM records WHERE record_type = ? AND record_id = ?",
		recordType, id).Scan(&r.Seq, &r.ID, &body)
	if errors.Is(err, sql.ErrNoRows) {
		return Row{}, false, nil
	}
	if err != nil {
		return Row{}, false, fmt.Errorf("finding %s %q: %w", recordType, id, err)
	}
	r.Body = []byte(body)
	return r, true, nil
}

// DeleteAll removes every match of pred and returns how many were removed.
func (t *Tx) DeleteAll(ctx context.Context, recordType string, pred types.Predicate) (int64, error) {
	c, err := compile(recordType, pred, nil)
	if err != nil {
		return 0, err
	}
	res, err := t.tx.ExecContext(ctx, "DELETE FROM records WHERE seq IN ("+c.matchSQL()+")", c.args...)
	if err != nil {
		return 0, fmt.Errorf("deleting %s: %w", recordType, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("deleting %s: %w", recordType, err)
	}
	if n > 0 {
		t.touched[recordType] = struct{}{}
	}
	return n, nil
}

// Upsert stores body under (recordType, id), replacing any stored record
// with that identity. A replaced record keeps its position in default order.
func (t *Tx) Upsert(ctx context.Context, recordType, id string, body []byte) error {
	if id == "" {
		return types.ErrInvalidID
	}
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO records (record_type, record_id, body, updated_at) VALUES (?, ?, ?, ?)
ON CONFLICT (record_type, record_id) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`,
		recordType, id, string(body), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("storing %s %q: %w", recordType, id, err)
	}
	t.touched[recordType] = struct{}{}
	return nil
}
