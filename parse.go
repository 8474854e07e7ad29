package rowbatch

import (
	"bytes"
	"encoding/json"
	"errors"
	"regexp"
	"strings"

	"github.com/buger/jsonparser"
)

// ResultKey holds model output that could not be read as a JSON object.
const ResultKey = "result"

var (
	fencedObject = regexp.MustCompile("```(?:json)?\\s*(\\{[\\s\\S]*\\})\\s*```")
	fencedArray  = regexp.MustCompile("```(?:json)?\\s*(\\[[\\s\\S]*\\])\\s*```")

	errInvalidJSON = errors.New("invalid JSON")
)

// ParseResponse extracts a JSON value from free-form model output. It tries,
// in order: a fenced code block holding an object, a fenced block holding an
// array, the whole trimmed text, and the widest {...} or [...] span embedded
// in prose. When nothing parses it returns {"result": raw}; it never fails.
func ParseResponse(raw string) any {
	trimmed := strings.TrimSpace(raw)

	for _, re := range []*regexp.Regexp{fencedObject, fencedArray} {
		if m := re.FindStringSubmatch(trimmed); m != nil {
			if v, err := decodeOrdered([]byte(m[1])); err == nil {
				return v
			}
		}
	}

	if v, err := decodeOrdered([]byte(trimmed)); err == nil {
		return v
	}

	if v, ok := parseBetween(trimmed, '{', '}'); ok {
		return v
	}
	if v, ok := parseBetween(trimmed, '[', ']'); ok {
		return v
	}

	return RecordOf(ResultKey, raw)
}

// ParseRecord is ParseResponse with non-object values wrapped as {"result": v}.
func ParseRecord(raw string) *Record {
	return asRecord(ParseResponse(raw))
}

func asRecord(v any) *Record {
	if rec, ok := v.(*Record); ok {
		return rec
	}
	return RecordOf(ResultKey, v)
}

// parseBetween decodes text from the first open rune to the last close rune
// that yields valid JSON, trying the widest span first.
func parseBetween(text string, open, close byte) (any, bool) {
	start := strings.IndexByte(text, open)
	if start < 0 {
		return nil, false
	}
	for end := strings.LastIndexByte(text, close); end > start; end = strings.LastIndexByte(text[:end], close) {
		if v, err := decodeOrdered([]byte(text[start : end+1])); err == nil {
			return v, true
		}
	}
	return nil, false
}

// decodeOrdered decodes a JSON document keeping object key order. Objects
// become *Record, arrays []any and numbers json.Number.
func decodeOrdered(data []byte) (any, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || !json.Valid(data) {
		return nil, errInvalidJSON
	}
	value, dataType, _, err := jsonparser.Get(data)
	if err != nil {
		return nil, err
	}
	return decodeValue(value, dataType)
}

func decodeValue(value []byte, dataType jsonparser.ValueType) (any, error) {
	switch dataType {
	case jsonparser.Object:
		rec := NewRecord()
		if isEmptyContainer(value) {
			return rec, nil
		}
		// ObjectEach hands over keys already unescaped
		err := jsonparser.ObjectEach(value, func(key, v []byte, vt jsonparser.ValueType, _ int) error {
			child, err := decodeValue(v, vt)
			if err != nil {
				return err
			}
			rec.Set(string(key), child)
			return nil
		})
		if err != nil {
			return nil, err
		}
		return rec, nil
	case jsonparser.Array:
		items := []any{}
		if isEmptyContainer(value) {
			return items, nil
		}
		var itemErr error
		_, err := jsonparser.ArrayEach(value, func(v []byte, vt jsonparser.ValueType, _ int, err error) {
			if itemErr != nil {
				return
			}
			if err != nil {
				itemErr = err
				return
			}
			child, err := decodeValue(v, vt)
			if err != nil {
				itemErr = err
				return
			}
			items = append(items, child)
		})
		if err == nil {
			err = itemErr
		}
		if err != nil {
			return nil, err
		}
		return items, nil
	case jsonparser.String:
		return jsonparser.ParseString(value)
	case jsonparser.Number:
		return json.Number(string(value)), nil
	case jsonparser.Boolean:
		return jsonparser.ParseBoolean(value)
	case jsonparser.Null:
		return nil, nil
	default:
		return nil, errInvalidJSON
	}
}

// isEmptyContainer reports whether value is {} or [] with only whitespace inside.
func isEmptyContainer(value []byte) bool {
	inner := bytes.TrimSpace(value)
	if len(inner) < 2 {
		return false
	}
	return len(bytes.TrimSpace(inner[1:len(inner)-1])) == 0
}
