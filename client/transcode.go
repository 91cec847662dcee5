package client

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
)

// Params is the JSON object sent to the gateway. Top-level string values are
// base64 encoded before sending; numbers and booleans pass through.
type Params map[string]any

func encodeParams(p Params) Params {
	out := make(Params, len(p))
	for k, v := range p {
		if s, ok := v.(string); ok {
			out[k] = base64.StdEncoding.EncodeToString([]byte(s))
			continue
		}
		out[k] = v
	}
	return out
}

func mergeParams(params, options Params) Params {
	out := make(Params, len(params)+len(options))
	for k, v := range params {
		out[k] = v
	}
	for k, v := range options {
		out[k] = v
	}
	return out
}

// Field is a response member the gateway reports either as a single object
// (prev_kv) or as a list of objects (kvs, prev_kvs, perm).
type Field struct {
	items []map[string]any
	many  bool
}

// Single wraps one object.
func Single(item map[string]any) Field {
	return Field{items: []map[string]any{item}}
}

// Many wraps a list of objects.
func Many(items []map[string]any) Field {
	return Field{items: items, many: true}
}

// IsMany reports whether the field was a list.
func (f Field) IsMany() bool { return f.many }

// Items returns the objects of the field; a single object yields one item.
func (f Field) Items() []map[string]any { return f.items }

// Len returns the number of objects.
func (f Field) Len() int { return len(f.items) }

// Collapse returns the field in its original shape: one object or a list.
func (f Field) Collapse() any {
	if !f.many {
		if len(f.items) == 0 {
			return nil
		}
		return f.items[0]
	}
	out := make([]any, len(f.items))
	for i, item := range f.items {
		out[i] = item
	}
	return out
}

// fieldOf reads name from body. It returns false when the member is absent
// or null.
func fieldOf(path string, body Body, name string) (Field, bool, error) {
	raw, ok := body[name]
	if !ok || raw == nil {
		return Field{}, false, nil
	}
	if item, ok := asMap(raw); ok {
		return Single(item), true, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return Field{}, false, &ParseError{Path: path, Field: name, Err: fmt.Errorf("unexpected %T", raw)}
	}
	items := make([]map[string]any, 0, len(list))
	for i, elem := range list {
		item, ok := asMap(elem)
		if !ok {
			return Field{}, false, &ParseError{Path: path, Field: fmt.Sprintf("%s[%d]", name, i), Err: fmt.Errorf("unexpected %T", elem)}
		}
		items = append(items, item)
	}
	return Many(items), true, nil
}

// decodeBodyForFields base64-decodes subfields of every object in body[name]
// and writes the result back in the shape the gateway used. A missing member
// leaves body untouched.
func decodeBodyForFields(path string, body Body, name string, subfields ...string) (Body, error) {
	field, ok, err := fieldOf(path, body, name)
	if err != nil || !ok {
		return body, err
	}
	for i, item := range field.items {
		decoded := make(map[string]any, len(item))
		for k, v := range item {
			decoded[k] = v
		}
		for _, sub := range subfields {
			s, ok := decoded[sub].(string)
			if !ok {
				continue
			}
			raw, err := base64.StdEncoding.DecodeString(s)
			if err != nil {
				return body, &ParseError{Path: path, Field: name + "." + sub, Err: err}
			}
			decoded[sub] = string(raw)
		}
		field.items[i] = decoded
	}
	body[name] = field.Collapse()
	return body, nil
}

func decodeStringList(path string, body Body, name string) (Body, error) {
	raw, ok := body[name]
	if !ok || raw == nil {
		return body, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return body, &ParseError{Path: path, Field: name, Err: fmt.Errorf("unexpected %T", raw)}
	}
	out := make([]any, len(list))
	for i, elem := range list {
		s, ok := elem.(string)
		if !ok {
			return body, &ParseError{Path: path, Field: fmt.Sprintf("%s[%d]", name, i), Err: fmt.Errorf("unexpected %T", elem)}
		}
		decoded, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return body, &ParseError{Path: path, Field: fmt.Sprintf("%s[%d]", name, i), Err: err}
		}
		out[i] = string(decoded)
	}
	body[name] = out
	return body, nil
}

// convertFields simplifies a decoded key/value field: a list becomes a
// key to value map, a single object becomes its value.
func convertFields(f Field) any {
	if !f.many {
		if len(f.items) == 0 {
			return ""
		}
		return stringOf(f.items[0]["value"])
	}
	out := make(map[string]string, len(f.items))
	for _, item := range f.items {
		out[stringOf(item["key"])] = stringOf(item["value"])
	}
	return out
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Body:
		return m, true
	}
	return nil, false
}

func stringOf(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case json.Number:
		return s.String()
	case bool:
		return strconv.FormatBool(s)
	}
	return fmt.Sprint(v)
}

func int64Of(v any) int64 {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i
		}
		if f, err := n.Float64(); err == nil {
			return int64(f)
		}
	case string:
		if i, err := strconv.ParseInt(n, 10, 64); err == nil {
			return i
		}
		if u, err := strconv.ParseUint(n, 10, 64); err == nil {
			return int64(u)
		}
	case float64:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	}
	return 0
}

func uint64Of(v any) uint64 {
	switch n := v.(type) {
	case json.Number:
		if u, err := strconv.ParseUint(n.String(), 10, 64); err == nil {
			return u
		}
	case string:
		if u, err := strconv.ParseUint(n, 10, 64); err == nil {
			return u
		}
	}
	return uint64(int64Of(v))
}

func boolOf(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		parsed, _ := strconv.ParseBool(b)
		return parsed
	}
	return false
}
