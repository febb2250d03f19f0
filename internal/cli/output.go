package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mesh-intelligence/localservice/pkg/types"
)

// render writes v to the command's output as YAML, or as indented JSON under
// --json.
func (a *app) render(cmd *cobra.Command, v any) error {
	out := cmd.OutOrStdout()
	if a.jsonOut {
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal JSON: %w", err)
		}
		_, err = fmt.Fprintln(out, string(data))
		return err
	}

	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("marshal YAML: %w", err)
	}
	return enc.Close()
}

// documents converts a result batch to plain maps for output.
func documents(batch []types.Record) []types.Document {
	out := make([]types.Document, 0, len(batch))
	for _, rec := range batch {
		if d, ok := rec.(*types.Document); ok && d != nil {
			out = append(out, *d)
		}
	}
	return out
}

// readInput returns arg, or standard input when arg is "-".
func readInput(cmd *cobra.Command, arg string) ([]byte, error) {
	if arg != "-" {
		return []byte(arg), nil
	}
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return nil, fmt.Errorf("read stdin: %w", err)
	}
	return data, nil
}

// parseDocuments decodes a JSON object or an array of objects.
func parseDocuments(data []byte) ([]types.Record, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty input", types.ErrInvalidData)
	}

	var docs []types.Document
	if data[0] == '[' {
		if err := json.Unmarshal(data, &docs); err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrInvalidData, err)
		}
	} else {
		var doc types.Document
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrInvalidData, err)
		}
		docs = []types.Document{doc}
	}

	recs := make([]types.Record, len(docs))
	for i := range docs {
		if docs[i] == nil {
			return nil, fmt.Errorf("%w: element %d is not an object", types.ErrInvalidData, i)
		}
		recs[i] = &docs[i]
	}
	return recs, nil
}

// setPath assigns value at a dotted path, creating intermediate objects.
func setPath(doc types.Document, path string, value any) error {
	parts := strings.Split(path, ".")
	m := map[string]any(doc)
	for _, p := range parts[:len(parts)-1] {
		next, ok := m[p]
		if !ok || next == nil {
			child := map[string]any{}
			m[p] = child
			m = child
			continue
		}
		child, ok := next.(map[string]any)
		if !ok {
			return fmt.Errorf("%w: %q is not an object", types.ErrInvalidData, p)
		}
		m = child
	}
	m[parts[len(parts)-1]] = value
	return nil
}
