// Package loader reads transaction batches from CSV or JSON files into the
// raw record form the scoring pipeline consumes.
package loader

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ReadFile loads a batch from path, dispatching on the file extension.
// Supported: .csv and .json (an array of objects).
func ReadFile(path string) ([]map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("loader: %w", err)
	}
	defer func() { _ = f.Close() }()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return ReadJSON(f)
	default:
		return ReadCSV(f)
	}
}

// ReadCSV parses a CSV stream whose first row is the header. Column names
// are trimmed; rows with fewer fields than the header are padded with
// blanks, extra fields are dropped.
func ReadCSV(r io.Reader) ([]map[string]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loader: reading header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	var records []map[string]string
	for line := 2; ; line++ {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("loader: line %d: %w", line, err)
		}
		rec := make(map[string]string, len(header))
		for i, name := range header {
			if name == "" {
				continue
			}
			if i < len(row) {
				rec[name] = row[i]
			} else {
				rec[name] = ""
			}
		}
		records = append(records, rec)
	}
	return records, nil
}

// ReadJSON parses an array of objects. Scalar values are stringified;
// nested objects and arrays are re-encoded as JSON strings under their key
// so the extractor's payload flattening can reach into them. Rows with any
// nesting also get the whole object under "payload".
func ReadJSON(r io.Reader) ([]map[string]string, error) {
	var rows []map[string]any
	dec := json.NewDecoder(r)
	if err := dec.Decode(&rows); err != nil {
		return nil, fmt.Errorf("loader: parsing json: %w", err)
	}

	return Normalize(rows), nil
}

// Normalize converts decoded JSON rows into raw string records.
func Normalize(rows []map[string]any) []map[string]string {
	records := make([]map[string]string, 0, len(rows))
	for _, row := range rows {
		rec := make(map[string]string, len(row))
		nested := false
		for k, v := range row {
			switch t := v.(type) {
			case nil:
				// skip
			case string:
				rec[k] = t
			case bool:
				rec[k] = fmt.Sprintf("%t", t)
			case float64:
				if t == float64(int64(t)) {
					rec[k] = fmt.Sprintf("%d", int64(t))
				} else {
					rec[k] = fmt.Sprintf("%g", t)
				}
			default:
				nested = true
				if blob, err := json.Marshal(v); err == nil {
					rec[k] = string(blob)
				}
			}
		}
		if nested {
			if _, taken := rec["payload"]; !taken {
				if blob, err := json.Marshal(row); err == nil {
					rec["payload"] = string(blob)
				}
			}
		}
		records = append(records, rec)
	}
	return records
}
