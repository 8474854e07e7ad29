package rowbatch

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ColumnType is the declared type of an output column.
type ColumnType string

const (
	TypeString  ColumnType = "string"
	TypeNumber  ColumnType = "number"
	TypeBoolean ColumnType = "boolean"
	TypeObject  ColumnType = "object"
	TypeArray   ColumnType = "array"
)

// OutputColumn describes one field the model is asked to produce. Columns is
// only meaningful for object and array columns: an array of records carries
// its element schema there, an array of scalars leaves it empty.
type OutputColumn struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Type        ColumnType     `json:"type,omitempty"`
	Columns     []OutputColumn `json:"nestedColumns,omitempty"`
}

// kind returns the column type, defaulting to string.
func (c OutputColumn) kind() ColumnType {
	if c.Type == "" {
		return TypeString
	}
	return c.Type
}

const schemaIndentStep = 2

// CompileSchema renders columns as the JSON-like schema block embedded in
// prompts. The output depends only on the column tree, so the preview shown
// to users and the text sent to the model are identical.
func CompileSchema(columns []OutputColumn) string {
	if len(columns) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("{\n")
	writeColumns(&sb, columns, schemaIndentStep)
	sb.WriteString("\n}")
	return sb.String()
}

func writeColumns(sb *strings.Builder, columns []OutputColumn, indent int) {
	pad := strings.Repeat(" ", indent)
	for i, col := range columns {
		if i > 0 {
			sb.WriteString(",\n")
		}
		comment := ""
		if col.Description != "" {
			comment = " // " + col.Description
		}

		typ := col.kind()
		switch {
		case typ == TypeObject && len(col.Columns) > 0:
			sb.WriteString(pad + `"` + col.Name + `": {` + "\n")
			writeColumns(sb, col.Columns, indent+schemaIndentStep)
			sb.WriteString("\n" + pad + "}" + comment)
		case typ == TypeArray && len(col.Columns) > 0:
			sb.WriteString(pad + `"` + col.Name + `": [` + "\n")
			sb.WriteString(pad + "  {\n")
			writeColumns(sb, col.Columns, indent+schemaIndentStep)
			sb.WriteString("\n" + pad + "  }\n")
			sb.WriteString(pad + "]" + comment)
		default:
			sb.WriteString(pad + `"` + col.Name + `": ` + string(typ) + comment)
		}
	}
}

// ValidateColumns checks names, types and nesting of a column tree.
func ValidateColumns(columns []OutputColumn) error {
	return validateColumns(columns, "columns")
}

func validateColumns(columns []OutputColumn, path string) error {
	seen := make(map[string]struct{}, len(columns))
	for i, col := range columns {
		field := fmt.Sprintf("%s[%d]", path, i)
		name := strings.TrimSpace(col.Name)
		if name == "" {
			return &ValidationError{Field: field + ".name", Err: fmt.Errorf("%w: name is empty", ErrInvalidColumn)}
		}
		if _, dup := seen[name]; dup {
			return &ValidationError{Field: field + ".name", Err: fmt.Errorf("%w: duplicate name %q", ErrInvalidColumn, name)}
		}
		seen[name] = struct{}{}

		switch col.kind() {
		case TypeString, TypeNumber, TypeBoolean:
			// nested columns left over from an earlier type are ignored
		case TypeObject, TypeArray:
			if err := validateColumns(col.Columns, field+".nestedColumns"); err != nil {
				return err
			}
		default:
			return &ValidationError{Field: field + ".type", Err: fmt.Errorf("%w: unknown type %q", ErrInvalidColumn, col.Type)}
		}
	}
	return nil
}

// ColumnsFromSample infers a column tree from a sample JSON document.
// Objects become object columns, arrays take their first object element as
// element schema, null becomes string.
func ColumnsFromSample(sample []byte) ([]OutputColumn, error) {
	v, err := decodeOrdered(sample)
	if err != nil {
		return nil, fmt.Errorf("columns from sample: %w", ErrInvalidSample)
	}
	return columnsOf(v, ""), nil
}

func columnsOf(v any, key string) []OutputColumn {
	switch x := v.(type) {
	case *Record:
		return columnsFromRecord(x)
	case []any:
		for _, item := range x {
			if item == nil {
				continue
			}
			if rec, ok := item.(*Record); ok {
				return columnsFromRecord(rec)
			}
			break
		}
		if key == "" {
			key = "items"
		}
		return []OutputColumn{{Name: key, Type: TypeArray}}
	default:
		if key == "" {
			key = "value"
		}
		return []OutputColumn{{Name: key, Type: inferColumnType(v)}}
	}
}

func columnsFromRecord(rec *Record) []OutputColumn {
	cols := make([]OutputColumn, 0, rec.Len())
	for pair := rec.Oldest(); pair != nil; pair = pair.Next() {
		col := OutputColumn{Name: pair.Key, Type: inferColumnType(pair.Value)}
		switch x := pair.Value.(type) {
		case *Record:
			col.Columns = columnsFromRecord(x)
		case []any:
			if first := firstRecord(x); first != nil {
				col.Columns = columnsFromRecord(first)
			}
		}
		cols = append(cols, col)
	}
	return cols
}

func firstRecord(items []any) *Record {
	for _, item := range items {
		if rec, ok := item.(*Record); ok {
			return rec
		}
	}
	return nil
}

func inferColumnType(v any) ColumnType {
	switch v.(type) {
	case *Record:
		return TypeObject
	case []any:
		return TypeArray
	case json.Number, float64, int:
		return TypeNumber
	case bool:
		return TypeBoolean
	default:
		return TypeString
	}
}
