// Package jsonl reads and writes JSON Lines files: one JSON value per line.
// Writes are atomic (temp file, fsync, rename).
package jsonl

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// maxLine bounds a single record.
const maxLine = 16 << 20

// Read reads a JSONL file and returns each non-empty, parseable line as a
// json.RawMessage, plus the number of malformed lines skipped.
func Read(path string) ([]json.RawMessage, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	records, skipped, err := Decode(f)
	if err != nil {
		return nil, 0, fmt.Errorf("reading %s: %w", path, err)
	}
	return records, skipped, nil
}

// Decode reads JSONL from r. Blank lines are ignored; malformed lines are
// skipped and counted.
func Decode(r io.Reader) ([]json.RawMessage, int, error) {
	var records []json.RawMessage
	skipped := 0

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64<<10), maxLine)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if !json.Valid(line) {
			skipped++
			continue
		}
		cp := make([]byte, len(line))
		copy(cp, line)
		records = append(records, json.RawMessage(cp))
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, err
	}
	return records, skipped, nil
}

// Encode writes records to w, one per line. Records are compacted so that
// each occupies exactly one line.
func Encode(w io.Writer, records []json.RawMessage) error {
	bw := bufio.NewWriter(w)
	var buf bytes.Buffer
	for _, rec := range records {
		buf.Reset()
		if err := json.Compact(&buf, rec); err != nil {
			return fmt.Errorf("compacting record: %w", err)
		}
		buf.WriteByte('\n')
		if _, err := bw.Write(buf.Bytes()); err != nil {
			return fmt.Errorf("writing record: %w", err)
		}
	}
	return bw.Flush()
}

// Write atomically replaces path with records. The directory must exist.
func Write(path string, records []json.RawMessage) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".jsonl-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	fail := func(err error) error {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}

	if err := Encode(tmp, records); err != nil {
		return fail(err)
	}
	if err := tmp.Sync(); err != nil {
		return fail(fmt.Errorf("syncing temp file: %w", err))
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}
