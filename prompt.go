package rowbatch

import "strings"

// SchemaHeader introduces the compiled schema block appended to every prompt.
const SchemaHeader = "\n\n[Output schema]\nPlease output in the following JSON structure:\n"

const (
	placeholderOpen  = "{{"
	placeholderClose = "}}"
)

// RenderPrompt substitutes every {{column}} placeholder whose column exists in
// row with that value's text, then appends the schema block when schemaText
// is not empty. Placeholders naming absent columns are left as written, and
// substituted values are never scanned for further placeholders.
func RenderPrompt(template string, row *Record, schemaText string) string {
	var sb strings.Builder
	sb.Grow(len(template) + len(schemaText) + len(SchemaHeader))

	rest := template
	for {
		start := strings.Index(rest, placeholderOpen)
		if start < 0 {
			break
		}
		nameStart := start + len(placeholderOpen)
		end := strings.Index(rest[nameStart:], placeholderClose)
		if end < 0 {
			break
		}
		name := rest[nameStart : nameStart+end]
		if v, ok := lookup(row, name); ok {
			sb.WriteString(rest[:start])
			sb.WriteString(FormatValue(v))
			rest = rest[nameStart+end+len(placeholderClose):]
			continue
		}
		// no such column: emit one brace and rescan, so "{{{{a}}" still finds {{a}}
		sb.WriteString(rest[:start+1])
		rest = rest[start+1:]
	}
	sb.WriteString(rest)

	if schemaText != "" {
		sb.WriteString(SchemaHeader)
		sb.WriteString(schemaText)
	}
	return sb.String()
}

func lookup(row *Record, name string) (any, bool) {
	if row == nil {
		return nil, false
	}
	return row.Get(name)
}

// Placeholder returns the template token for a column.
func Placeholder(column string) string {
	return placeholderOpen + column + placeholderClose
}
