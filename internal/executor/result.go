package executor

import (
	"bytes"
	"encoding/json"

	gqlerrors "github.com/hanpama/graphcore/internal/gqlerrors"
)

// ExecutionResult represents the result of executing a GraphQL operation.
//
// Executed is false when the request failed before any field was resolved
// (unknown operation, invalid variables); the response then carries no data
// entry at all. When Executed is true, a nil Data means data is null.
type ExecutionResult struct {
	Data     *ResultMap
	Errors   gqlerrors.List
	Executed bool
}

// ResultMap is a response object that keeps its keys in selection order.
type ResultMap struct {
	keys   []string
	values map[string]any
}

func NewResultMap() *ResultMap {
	return &ResultMap{values: make(map[string]any)}
}

// Set stores v under key. The first Set of a key fixes its position.
func (m *ResultMap) Set(key string, v any) {
	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.values[key] = v
}

func (m *ResultMap) Get(key string) (any, bool) {
	v, ok := m.values[key]
	return v, ok
}

func (m *ResultMap) Keys() []string { return m.keys }

func (m *ResultMap) Len() int { return len(m.keys) }

func (m *ResultMap) MarshalJSON() ([]byte, error) {
	if m == nil {
		return []byte("null"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range m.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := json.Marshal(m.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// ToMap converts the result tree into plain maps and slices.
func (m *ResultMap) ToMap() map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m.keys))
	for _, k := range m.keys {
		out[k] = plain(m.values[k])
	}
	return out
}

func plain(v any) any {
	switch t := v.(type) {
	case *ResultMap:
		if t == nil {
			return nil
		}
		return t.ToMap()
	case []any:
		if t == nil {
			return nil
		}
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = plain(item)
		}
		return out
	default:
		return v
	}
}
