package rowbatch

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// LoadRows reads input rows from a CSV, TSV or JSON file. The format is
// sniffed from the content and falls back to the file extension for plain
// text. It returns the rows and the column names in source order.
func LoadRows(path string) ([]*Record, []string, error) {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("detect %s: %w", path, err)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	switch kind := sourceKind(mt, path); kind {
	case "csv":
		return ReadCSV(f, ',')
	case "tsv":
		return ReadCSV(f, '\t')
	case "json":
		rows, err := ReadJSONRows(f)
		if err != nil {
			return nil, nil, err
		}
		return rows, columnUnion(rows), nil
	default:
		return nil, nil, fmt.Errorf("%s (%s): %w", path, mt.String(), ErrUnsupportedSource)
	}
}

func sourceKind(mt *mimetype.MIME, path string) string {
	switch {
	case mt.Is("text/csv"):
		return "csv"
	case mt.Is("text/tab-separated-values"):
		return "tsv"
	case mt.Is("application/json"):
		return "json"
	}
	if !strings.HasPrefix(mt.String(), "text/plain") {
		return ""
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return "csv"
	case ".tsv", ".tab":
		return "tsv"
	case ".json":
		return "json"
	}
	return ""
}

// ReadCSV parses a delimited table with a header line. Cells holding a
// plain JSON number become json.Number; everything else stays a string.
func ReadCSV(r io.Reader, delim rune) ([]*Record, []string, error) {
	cr := csv.NewReader(r)
	cr.Comma = delim
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	var rows []*Record
	for line := 2; ; line++ {
		cells, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read line %d: %w", line, err)
		}
		if len(cells) == 1 && strings.TrimSpace(cells[0]) == "" {
			continue
		}
		rec := NewRecord()
		for i, col := range header {
			cell := ""
			if i < len(cells) {
				cell = cells[i]
			}
			rec.Set(col, cellValue(cell))
		}
		rows = append(rows, rec)
	}
	return rows, header, nil
}

func cellValue(cell string) any {
	trimmed := strings.TrimSpace(cell)
	if trimmed == "" || trimmed != cell {
		return cell
	}
	var n json.Number
	if err := json.Unmarshal([]byte(trimmed), &n); err == nil && n.String() == trimmed {
		return n
	}
	return cell
}

// ReadJSONRows parses a JSON array of objects, keeping key order.
func ReadJSONRows(r io.Reader) ([]*Record, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimSpace(data)
	if !json.Valid(data) {
		return nil, fmt.Errorf("rows: invalid JSON")
	}
	v, err := decodeOrdered(data)
	if err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("rows: expected a JSON array of objects")
	}
	rows := make([]*Record, 0, len(items))
	for i, item := range items {
		rec, ok := item.(*Record)
		if !ok {
			return nil, fmt.Errorf("rows: element %d is not an object", i)
		}
		rows = append(rows, rec)
	}
	return rows, nil
}

func columnUnion(rows []*Record) []string {
	seen := map[string]bool{}
	var cols []string
	for _, rec := range rows {
		for pair := rec.Oldest(); pair != nil; pair = pair.Next() {
			if !seen[pair.Key] {
				seen[pair.Key] = true
				cols = append(cols, pair.Key)
			}
		}
	}
	return cols
}
