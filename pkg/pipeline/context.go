package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Context is the key/value state accumulated across a run. It is owned by
// the executor and handed to hooks and renderers by reference. Keys keep
// their first-insertion order; setting an existing key overwrites its value
// in place. Keys are never deleted during a run.
type Context struct {
	keys   []string
	values map[string]string
}

// NewContext returns an empty context.
func NewContext() *Context {
	return &Context{values: make(map[string]string)}
}

// Set stores a value, preserving the key's original position if it exists.
func (c *Context) Set(key, value string) {
	if _, ok := c.values[key]; !ok {
		c.keys = append(c.keys, key)
	}
	c.values[key] = value
}

// Get returns the value for key and whether it is present.
func (c *Context) Get(key string) (string, bool) {
	v, ok := c.values[key]
	return v, ok
}

// Value returns the value for key, or "" when absent.
func (c *Context) Value(key string) string {
	return c.values[key]
}

// Keys returns the keys in insertion order.
func (c *Context) Keys() []string {
	out := make([]string, len(c.keys))
	copy(out, c.keys)
	return out
}

// Len returns the number of entries.
func (c *Context) Len() int {
	return len(c.keys)
}

// Map returns a copy of the entries for template rendering.
func (c *Context) Map() map[string]string {
	out := make(map[string]string, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}

// Clone returns an independent copy.
func (c *Context) Clone() *Context {
	clone := NewContext()
	for _, k := range c.keys {
		clone.Set(k, c.values[k])
	}
	return clone
}

// Merge copies entries from a signal payload into the context. Payload maps
// are unordered, so keys merge in sorted order for a deterministic snapshot.
func (c *Context) Merge(payload map[string]string) {
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		c.Set(k, payload[k])
	}
}

// MarshalJSON writes the context as a JSON object in insertion order, so a
// persisted session snapshot round-trips exactly.
func (c *Context) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range c.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(c.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON restores entries in the order they appear in the object.
func (c *Context) UnmarshalJSON(data []byte) error {
	c.keys = nil
	c.values = make(map[string]string)

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("context snapshot must be a JSON object")
	}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("context snapshot has non-string key %v", keyTok)
		}
		var value string
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("context value for %q: %w", key, err)
		}
		c.Set(key, value)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	return nil
}
