// Package params builds ordered request parameter sets for TAP calls.
package params

import (
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// Builder accumulates key/value pairs and encodes them in insertion order.
// Setting an existing key replaces its value in place.
type Builder struct {
	keys   []string
	values map[string]string
}

// New returns an empty Builder.
func New() *Builder {
	return &Builder{values: make(map[string]string)}
}

// Set stores a string value.
func (b *Builder) Set(key, value string) *Builder {
	if _, ok := b.values[key]; !ok {
		b.keys = append(b.keys, key)
	}
	b.values[key] = value
	return b
}

// SetInt stores an integer value.
func (b *Builder) SetInt(key string, value int) *Builder {
	return b.Set(key, strconv.Itoa(value))
}

// SetBool stores "true" or "false".
func (b *Builder) SetBool(key string, value bool) *Builder {
	return b.Set(key, strconv.FormatBool(value))
}

// SetIf stores the value only when cond holds.
func (b *Builder) SetIf(cond bool, key, value string) *Builder {
	if cond {
		b.Set(key, value)
	}
	return b
}

// Get returns the value stored under key.
func (b *Builder) Get(key string) (string, bool) {
	v, ok := b.values[key]
	return v, ok
}

// Lookup returns the value of the first key that matches case-insensitively.
func (b *Builder) Lookup(key string) (string, bool) {
	if v, ok := b.values[key]; ok {
		return v, true
	}
	for _, k := range b.keys {
		if strings.EqualFold(k, key) {
			return b.values[k], true
		}
	}
	return "", false
}

// Delete removes a key.
func (b *Builder) Delete(key string) {
	if _, ok := b.values[key]; !ok {
		return
	}
	delete(b.values, key)
	for i, k := range b.keys {
		if k == key {
			b.keys = append(b.keys[:i], b.keys[i+1:]...)
			break
		}
	}
}

// Len returns the number of keys.
func (b *Builder) Len() int {
	if b == nil {
		return 0
	}
	return len(b.keys)
}

// Keys returns the keys in insertion order.
func (b *Builder) Keys() []string {
	out := make([]string, len(b.keys))
	copy(out, b.keys)
	return out
}

// Each calls fn for every pair in insertion order.
func (b *Builder) Each(fn func(key, value string)) {
	if b == nil {
		return
	}
	for _, k := range b.keys {
		fn(k, b.values[k])
	}
}

// Clone returns an independent copy.
func (b *Builder) Clone() *Builder {
	c := New()
	b.Each(func(k, v string) { c.Set(k, v) })
	return c
}

// Encode returns the URL-encoded form in insertion order.
func (b *Builder) Encode() string {
	if b.Len() == 0 {
		return ""
	}
	var sb strings.Builder
	for i, k := range b.keys {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(url.QueryEscape(k))
		sb.WriteByte('=')
		sb.WriteString(url.QueryEscape(b.values[k]))
	}
	return sb.String()
}

// Map returns a copy of the pairs as a map.
func (b *Builder) Map() map[string]string {
	out := make(map[string]string, b.Len())
	b.Each(func(k, v string) { out[k] = v })
	return out
}

// FromMap builds a Builder from a map with keys in sorted order.
func FromMap(m map[string]string) *Builder {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	b := New()
	for _, k := range keys {
		b.Set(k, m[k])
	}
	return b
}
