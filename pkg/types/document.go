package types

import (
	"fmt"
	"reflect"
)

// DocumentIDField is the key holding a Document's identity.
const DocumentIDField = "id"

// Document is a schemaless record: a JSON object whose "id" member is its
// identity. It lets tools work with record types unknown at compile time.
type Document map[string]any

// RecordID returns the "id" member formatted as a string. JSON numbers decode
// as float64, so integral values print without a fraction.
func (d *Document) RecordID() string {
	if d == nil || *d == nil {
		return ""
	}
	switch id := (*d)[DocumentIDField].(type) {
	case nil:
		return ""
	case string:
		return id
	case float64:
		if id == float64(int64(id)) {
			return fmt.Sprintf("%d", int64(id))
		}
		return fmt.Sprintf("%g", id)
	default:
		return fmt.Sprint(id)
	}
}

// DocumentType returns a RecordType named name whose records are *Document.
func DocumentType(name string) RecordType {
	return RecordType{
		name:   name,
		newFn:  func() Record { d := Document{}; return &d },
		goType: reflect.TypeOf((*Document)(nil)),
	}
}
