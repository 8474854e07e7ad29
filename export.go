package rowbatch

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
)

// Error table columns appended after the original row fields.
const (
	ErrorMessageColumn = "error_message"
	RowIndexColumn     = "row_index"
)

// Table is a flat, string-celled table ready for export.
type Table struct {
	Name    string
	Columns []string
	Rows    [][]string
}

// tableBuilder collects records and tracks the column union in first-seen order.
type tableBuilder struct {
	name    string
	columns []string
	index   map[string]int
	records []*Record
}

func newTableBuilder(name string) *tableBuilder {
	return &tableBuilder{name: name, index: map[string]int{}}
}

func (b *tableBuilder) add(rec *Record) {
	for pair := rec.Oldest(); pair != nil; pair = pair.Next() {
		if _, ok := b.index[pair.Key]; !ok {
			b.index[pair.Key] = len(b.columns)
			b.columns = append(b.columns, pair.Key)
		}
	}
	b.records = append(b.records, rec)
}

func (b *tableBuilder) build() *Table {
	t := &Table{Name: b.name, Columns: b.columns, Rows: make([][]string, 0, len(b.records))}
	for _, rec := range b.records {
		cells := make([]string, len(b.columns))
		for pair := rec.Oldest(); pair != nil; pair = pair.Next() {
			cells[b.index[pair.Key]] = FormatValue(pair.Value)
		}
		t.Rows = append(t.Rows, cells)
	}
	return t
}

// BuildSuccessTable expands every successful row into flat rows.
func BuildSuccessTable(rows []ProcessedRow) *Table {
	b := newTableBuilder("success")
	for _, row := range rows {
		for _, flat := range Expand(row.Fields) {
			b.add(flat)
		}
	}
	return b.build()
}

// BuildErrorTable lists failed rows with their original fields, the error
// message and the input index.
func BuildErrorTable(rows []ErrorRow) *Table {
	b := newTableBuilder("errors")
	for _, row := range rows {
		rec := cloneRecord(row.Fields)
		rec.Set(ErrorMessageColumn, row.Message)
		rec.Set(RowIndexColumn, strconv.Itoa(row.Index))
		b.add(rec)
	}
	return b.build()
}

// Export builds the success and error tables of a result.
func Export(res *Result) (success, errors *Table) {
	return BuildSuccessTable(res.Success), BuildErrorTable(res.Errors)
}

// WriteCSV writes the table with a header line.
func WriteCSV(w io.Writer, t *Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Columns); err != nil {
		return fmt.Errorf("write %s header: %w", t.Name, err)
	}
	if err := cw.WriteAll(t.Rows); err != nil {
		return fmt.Errorf("write %s rows: %w", t.Name, err)
	}
	return nil
}
