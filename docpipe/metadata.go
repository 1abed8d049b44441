// CLAUDE:SUMMARY Canonical ordered metadata (key -> single string or ordered list) and the normalizer backends feed.
package docpipe

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Value is a metadata value: a single string, or an ordered list when the
// property occurred several times.
type Value struct {
	vals []string
	list bool
}

// Single returns a single-string Value.
func Single(s string) Value { return Value{vals: []string{s}} }

// List returns a list Value. A list of one element is still a list.
func List(ss ...string) Value {
	return Value{vals: append([]string(nil), ss...), list: true}
}

// IsList reports whether v is a list.
func (v Value) IsList() bool { return v.list || len(v.vals) > 1 }

// String returns the first value, or "" for an empty Value.
func (v Value) String() string {
	if len(v.vals) == 0 {
		return ""
	}
	return v.vals[0]
}

// Strings returns a copy of all values in encounter order.
func (v Value) Strings() []string { return append([]string(nil), v.vals...) }

// MarshalJSON renders a single value as a JSON string and a list as an array.
func (v Value) MarshalJSON() ([]byte, error) {
	if !v.IsList() && len(v.vals) == 1 {
		return json.Marshal(v.vals[0])
	}
	return json.Marshal(v.vals)
}

// UnmarshalJSON accepts a string or an array of strings.
func (v *Value) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		v.vals = []string{s}
		return nil
	}
	var ss []string
	if err := json.Unmarshal(b, &ss); err != nil {
		return fmt.Errorf("metadata value: %w", err)
	}
	v.vals = ss
	v.list = true
	return nil
}

// Metadata is an ordered mapping from key to Value. The zero value is empty
// and ready to use. Metadata returned by the extractor is a snapshot and is
// never mutated afterwards.
type Metadata struct {
	keys []string
	vals map[string]Value
}

// Len returns the number of keys.
func (m Metadata) Len() int { return len(m.keys) }

// Keys returns keys in first-encounter order.
func (m Metadata) Keys() []string { return append([]string(nil), m.keys...) }

// Get returns the value stored under key.
func (m Metadata) Get(key string) (Value, bool) {
	v, ok := m.vals[key]
	return v, ok
}

// Value returns the first value of key, or "".
func (m Metadata) Value(key string) string {
	return m.vals[key].String()
}

// Values returns all values of key.
func (m Metadata) Values(key string) []string {
	return m.vals[key].Strings()
}

// Map exposes the metadata as a plain associative structure. Single values
// map to string, lists to []string.
func (m Metadata) Map() map[string]any {
	out := make(map[string]any, len(m.keys))
	for _, k := range m.keys {
		v := m.vals[k]
		if !v.IsList() && len(v.vals) == 1 {
			out[k] = v.vals[0]
		} else {
			out[k] = v.Strings()
		}
	}
	return out
}

// MarshalJSON renders the metadata as a JSON object preserving key order.
func (m Metadata) MarshalJSON() ([]byte, error) {
	var sb strings.Builder
	sb.WriteByte('{')
	for i, k := range m.keys {
		if i > 0 {
			sb.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := m.vals[k].MarshalJSON()
		if err != nil {
			return nil, err
		}
		sb.Write(kb)
		sb.WriteByte(':')
		sb.Write(vb)
	}
	sb.WriteByte('}')
	return []byte(sb.String()), nil
}

// UnmarshalJSON decodes an object of strings or string arrays. Key order
// follows the document.
func (m *Metadata) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(strings.NewReader(string(b)))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("metadata: expected object")
	}
	*m = Metadata{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := tok.(string)
		var v Value
		if err := dec.Decode(&v); err != nil {
			return err
		}
		m.set(key, v)
	}
	_, err = dec.Token()
	return err
}

func (m *Metadata) set(key string, v Value) {
	if m.vals == nil {
		m.vals = make(map[string]Value)
	}
	if _, ok := m.vals[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.vals[key] = v
}

// Equal reports whether m and o hold the same keys, in the same order, with
// the same values.
func (m Metadata) Equal(o Metadata) bool {
	if len(m.keys) != len(o.keys) {
		return false
	}
	for i, k := range m.keys {
		if o.keys[i] != k {
			return false
		}
		if m.vals[k].IsList() != o.vals[k].IsList() {
			return false
		}
		a, b := m.vals[k].vals, o.vals[k].vals
		if len(a) != len(b) {
			return false
		}
		for j := range a {
			if a[j] != b[j] {
				return false
			}
		}
	}
	return true
}

// metaBuilder accumulates metadata from a backend. Safe for concurrent use:
// incremental backends add from their worker goroutine while the consumer
// takes snapshots.
type metaBuilder struct {
	mu   sync.Mutex
	keys []string
	vals map[string][]string
}

func newMetaBuilder() *metaBuilder {
	return &metaBuilder{vals: make(map[string][]string)}
}

// add appends values under key, preserving encounter order. Empty strings
// are dropped.
func (b *metaBuilder) add(key string, values ...string) {
	key = strings.TrimSpace(key)
	if key == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := b.vals[key]; !ok {
			b.keys = append(b.keys, key)
		}
		b.vals[key] = append(b.vals[key], v)
	}
}

// set replaces all values under key, keeping its original position.
func (b *metaBuilder) set(key, value string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.vals[key]; !ok {
		b.keys = append(b.keys, key)
	}
	b.vals[key] = []string{value}
}

// addRaw normalizes a backend-native map. Keys are visited in sorted order
// so the result does not depend on map iteration.
func (b *metaBuilder) addRaw(raw map[string]any) error {
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		vals, err := normalizeValue(raw[k])
		if err != nil {
			return newError(KindMalformedDocument, "metadata", fmt.Errorf("key %q: %w", k, err))
		}
		b.add(k, vals...)
	}
	return nil
}

// addStrings normalizes a map[string]string, visiting keys in sorted order.
func (b *metaBuilder) addStrings(raw map[string]string) {
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.add(k, raw[k])
	}
}

func (b *metaBuilder) snapshot() Metadata {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := Metadata{
		keys: append([]string(nil), b.keys...),
		vals: make(map[string]Value, len(b.keys)),
	}
	for _, k := range b.keys {
		m.vals[k] = Value{vals: append([]string(nil), b.vals[k]...)}
	}
	return m
}

// normalizeValue converts a backend-native value into strings. Nested maps
// and arbitrary structs are rejected.
func normalizeValue(v any) ([]string, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case string:
		return []string{x}, nil
	case []string:
		return x, nil
	case bool:
		return []string{strconv.FormatBool(x)}, nil
	case int:
		return []string{strconv.Itoa(x)}, nil
	case int64:
		return []string{strconv.FormatInt(x, 10)}, nil
	case int32:
		return []string{strconv.FormatInt(int64(x), 10)}, nil
	case uint:
		return []string{strconv.FormatUint(uint64(x), 10)}, nil
	case uint64:
		return []string{strconv.FormatUint(x, 10)}, nil
	case float64:
		return []string{strconv.FormatFloat(x, 'f', -1, 64)}, nil
	case float32:
		return []string{strconv.FormatFloat(float64(x), 'f', -1, 32)}, nil
	case time.Time:
		return []string{x.UTC().Format(time.RFC3339)}, nil
	case fmt.Stringer:
		return []string{x.String()}, nil
	case []any:
		out := make([]string, 0, len(x))
		for _, e := range x {
			s, err := normalizeValue(e)
			if err != nil {
				return nil, err
			}
			if len(s) > 1 {
				return nil, fmt.Errorf("nested list")
			}
			out = append(out, s...)
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported metadata value type %T", v)
}
