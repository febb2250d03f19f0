package sqlite

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/mesh-intelligence/localservice/pkg/types"
)

// Row is one stored record as read from the database.
type Row struct {
	Seq  int64
	ID   string
	Body json.RawMessage
}

// Decode returns a detached copy of the row as a record of rt.
func (r Row) Decode(rt types.RecordType) (types.Record, error) {
	rec := rt.New()
	if err := json.Unmarshal(r.Body, rec); err != nil {
		return nil, fmt.Errorf("%w: decoding %s %q: %v", types.ErrInvalidData, rt, r.ID, err)
	}
	return rec, nil
}

// Results is the outcome of a FindAll. The zero value is not loaded.
type Results struct {
	rows   []Row
	loaded bool
}

// Loaded reports whether the results reflect a completed evaluation.
func (r Results) Loaded() bool { return r.loaded }

// Len returns the number of matched rows.
func (r Results) Len() int { return len(r.rows) }

// Rows returns the matched rows in result order.
func (r Results) Rows() []Row { return r.rows }

// Detach decodes every row into a fresh record of rt. The returned records
// share no memory with the handle and stay valid after it is closed.
func (r Results) Detach(rt types.RecordType) ([]types.Record, error) {
	out := make([]types.Record, 0, len(r.rows))
	for _, row := range r.rows {
		rec, err := row.Decode(rt)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// EncodeRecord returns the stored form of rec. Records must encode as JSON
// objects so their members can be queried.
func EncodeRecord(rec types.Record) ([]byte, error) {
	body, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("%w: encoding %T: %v", types.ErrInvalidData, rec, err)
	}
	if !bytes.HasPrefix(body, []byte("{")) {
		return nil, fmt.Errorf("%w: %T does not encode as a JSON object", types.ErrInvalidData, rec)
	}
	return body, nil
}
