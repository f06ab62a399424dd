package query

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Key identifies a logical query as an ordered tuple, for example
// Key{"feed", "infinite", map[string]int{"limit": 20}}. Two keys are equal
// when their elements encode to the same canonical JSON, so a filter struct
// and the map decoded from it compare equal.
type Key []any

// Hash returns the canonical encoding used as the store's map key.
func (k Key) Hash() string {
	parts := make([]string, len(k))
	for i, part := range k {
		parts[i] = encodePart(part)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// HasPrefix reports whether the first len(prefix) elements of k equal prefix.
func (k Key) HasPrefix(prefix Key) bool {
	if len(prefix) > len(k) {
		return false
	}
	for i := range prefix {
		if encodePart(k[i]) != encodePart(prefix[i]) {
			return false
		}
	}
	return true
}

// Equal reports structural equality.
func (k Key) Equal(other Key) bool {
	return len(k) == len(other) && k.HasPrefix(other)
}

// With returns a new key extended by parts; k is not modified.
func (k Key) With(parts ...any) Key {
	out := make(Key, 0, len(k)+len(parts))
	out = append(out, k...)
	return append(out, parts...)
}

func (k Key) String() string { return k.Hash() }

// Matching returns a predicate accepting keys under any of the prefixes.
func Matching(prefixes ...Key) func(Key) bool {
	return func(k Key) bool {
		for _, p := range prefixes {
			if k.HasPrefix(p) {
				return true
			}
		}
		return false
	}
}

func overlaps(a, b []Key) bool {
	for _, x := range a {
		for _, y := range b {
			if x.HasPrefix(y) || y.HasPrefix(x) {
				return true
			}
		}
	}
	return false
}

// encodePart marshals v with object fields in sorted order, whatever their
// order in the Go type. Numbers keep their literal form.
func encodePart(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%q", fmt.Sprintf("%#v", v))
	}
	if len(data) == 0 || (data[0] != '{' && data[0] != '[') {
		return string(data)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return string(data)
	}
	canonical, err := json.Marshal(generic)
	if err != nil {
		return string(data)
	}
	return string(canonical)
}
