package rowbatch

// KeySeparator joins parent and child names when flattening.
const KeySeparator = "_"

// Flatten lifts nested object fields into composite parent_child keys.
// Recursion stops at scalars and arrays; arrays are copied as they are.
func Flatten(rec *Record) *Record {
	out := NewRecord()
	flattenInto(out, rec, "")
	return out
}

func flattenInto(out, rec *Record, prefix string) {
	if rec == nil {
		return
	}
	for pair := rec.Oldest(); pair != nil; pair = pair.Next() {
		key := joinKey(prefix, pair.Key)
		if nested, ok := pair.Value.(*Record); ok {
			flattenInto(out, nested, key)
			continue
		}
		out.Set(key, pair.Value)
	}
}

func joinKey(parent, child string) string {
	if parent == "" {
		return child
	}
	return parent + KeySeparator + child
}

// Expand turns one record into flat rows, one per array index. After
// flattening, every non-empty array field contributes its i-th element to
// row i: object elements are flattened under the array's key, scalars are
// stored under the key itself, and arrays shorter than the longest one are
// omitted from the rows past their end. A record without arrays yields
// exactly one row. Arrays left inside elements are stored as JSON text, so
// expanding an already expanded row returns it unchanged.
func Expand(rec *Record) []*Record {
	flat := Flatten(rec)

	maxLen := 0
	for pair := flat.Oldest(); pair != nil; pair = pair.Next() {
		if items, ok := pair.Value.([]any); ok && len(items) > maxLen {
			maxLen = len(items)
		}
	}
	if maxLen == 0 {
		return []*Record{flat}
	}

	rows := make([]*Record, 0, maxLen)
	for i := 0; i < maxLen; i++ {
		row := NewRecord()
		for pair := flat.Oldest(); pair != nil; pair = pair.Next() {
			items, ok := pair.Value.([]any)
			if !ok || len(items) == 0 {
				row.Set(pair.Key, pair.Value)
				continue
			}
			if i >= len(items) {
				continue
			}
			if elem, ok := items[i].(*Record); ok {
				for p := Flatten(elem).Oldest(); p != nil; p = p.Next() {
					row.Set(joinKey(pair.Key, p.Key), settleValue(p.Value))
				}
				continue
			}
			row.Set(pair.Key, settleValue(items[i]))
		}
		rows = append(rows, row)
	}
	return rows
}

// settleValue keeps expanded rows free of arrays.
func settleValue(v any) any {
	if items, ok := v.([]any); ok {
		return FormatValue(items)
	}
	return v
}
