package migrate

import (
	"encoding/json"
	"reflect"
	"strconv"
	"time"
)

// Transform converts one source row to values SQLite stores faithfully:
// booleans become 0/1, arrays and objects become JSON text, times become
// RFC 3339 UTC text and JSON byte payloads become text. Other values pass
// through unchanged.
func Transform(row map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(row))
	for k, v := range row {
		tv, err := transformValue(v)
		if err != nil {
			return nil, err
		}
		out[k] = tv
	}
	return out, nil
}

func transformValue(v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case bool:
		if x {
			return int64(1), nil
		}
		return int64(0), nil
	case json.Number:
		return numberValue(x), nil
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano), nil
	case *time.Time:
		if x == nil {
			return nil, nil
		}
		return x.UTC().Format(time.RFC3339Nano), nil
	case []byte:
		if json.Valid(x) {
			return string(x), nil
		}
		return x, nil
	case json.RawMessage:
		return string(x), nil
	case []any, map[string]any:
		b, err := json.Marshal(x)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	}
	switch reflect.ValueOf(v).Kind() {
	case reflect.Slice, reflect.Array, reflect.Map, reflect.Struct:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	}
	return v, nil
}

// numberValue keeps integers exact and falls back to float64.
func numberValue(n json.Number) any {
	if i, err := strconv.ParseInt(string(n), 10, 64); err == nil {
		return i
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return string(n)
}
