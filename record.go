package rowbatch

import (
	"encoding/json"
	"fmt"
	"strconv"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Record is an insertion-ordered mapping from column name to value.
// Input rows, parsed model output and flattened export rows all share it.
type Record = orderedmap.OrderedMap[string, any]

// NewRecord returns an empty record.
func NewRecord() *Record {
	return orderedmap.New[string, any]()
}

// RecordOf builds a record from alternating key/value arguments.
// It panics when a key is not a string or a value is missing.
func RecordOf(kv ...any) *Record {
	if len(kv)%2 != 0 {
		panic("rowbatch: RecordOf needs key/value pairs")
	}
	r := NewRecord()
	for i := 0; i < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			panic(fmt.Sprintf("rowbatch: RecordOf key %v is not a string", kv[i]))
		}
		r.Set(key, kv[i+1])
	}
	return r
}

// Keys returns the record's keys in insertion order.
func Keys(r *Record) []string {
	if r == nil {
		return nil
	}
	keys := make([]string, 0, r.Len())
	for pair := r.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	return keys
}

// cloneRecord makes a shallow copy; nil yields an empty record.
func cloneRecord(r *Record) *Record {
	out := NewRecord()
	if r == nil {
		return out
	}
	for pair := r.Oldest(); pair != nil; pair = pair.Next() {
		out.Set(pair.Key, pair.Value)
	}
	return out
}

// mergeRecords copies base and overlays every field of top, top winning on
// collisions. Overlaid keys already present in base keep their position.
func mergeRecords(base, top *Record) *Record {
	out := cloneRecord(base)
	if top == nil {
		return out
	}
	for pair := top.Oldest(); pair != nil; pair = pair.Next() {
		out.Set(pair.Key, pair.Value)
	}
	return out
}

// FormatValue renders a record value as cell text. Strings are returned
// verbatim, numbers in their shortest form and composite values as compact JSON.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case uint:
		return strconv.FormatUint(uint64(x), 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	}
}
