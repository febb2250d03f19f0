package sqlite

// Every record type shares one table. The body holds the record's JSON
// encoding; seq gives the default (insertion) order and survives upserts.
const (
	createRecords = `CREATE TABLE IF NOT EXISTS records (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    record_type TEXT NOT NULL,
    record_id TEXT NOT NULL,
    body TEXT NOT NULL CHECK (json_valid(body)),
    updated_at TEXT NOT NULL,
    UNIQUE (record_type, record_id)
);`

	idxRecordsType = `CREATE INDEX IF NOT EXISTS idx_records_type ON records(record_type, seq);`
)

// schemaDDL lists the statements run on every Attach.
var schemaDDL = []string{
	createRecords,
	idxRecordsType,
}
