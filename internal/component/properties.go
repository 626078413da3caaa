package component

import (
	"fmt"
	"iter"
)

// Property is one key/value pair of a descriptor.
type Property struct {
	Key   string
	Value string
}

// Properties is an ordered string map with unique keys. The zero value is an
// empty map ready to use.
type Properties []Property

// Props builds Properties from alternating keys and values. A repeated key
// keeps its first position and takes the last value.
func Props(kv ...string) Properties {
	if len(kv)%2 != 0 {
		panic(fmt.Sprintf("component.Props: odd argument count %d", len(kv)))
	}
	var p Properties
	for i := 0; i < len(kv); i += 2 {
		p = p.With(kv[i], kv[i+1])
	}
	return p
}

// Get returns the value for key.
func (p Properties) Get(key string) (string, bool) {
	for _, prop := range p {
		if prop.Key == key {
			return prop.Value, true
		}
	}
	return "", false
}

// With returns a copy of p with key set to value. An existing key is
// updated in place; a new key goes last.
func (p Properties) With(key, value string) Properties {
	out := make(Properties, len(p), len(p)+1)
	copy(out, p)
	for i := range out {
		if out[i].Key == key {
			out[i].Value = value
			return out
		}
	}
	return append(out, Property{Key: key, Value: value})
}

// Keys returns the keys in order.
func (p Properties) Keys() []string {
	keys := make([]string, len(p))
	for i, prop := range p {
		keys[i] = prop.Key
	}
	return keys
}

// All iterates key/value pairs in order.
func (p Properties) All() iter.Seq2[string, string] {
	return func(yield func(string, string) bool) {
		for _, prop := range p {
			if !yield(prop.Key, prop.Value) {
				return
			}
		}
	}
}

// Map returns the properties as an unordered map.
func (p Properties) Map() map[string]string {
	m := make(map[string]string, len(p))
	for _, prop := range p {
		m[prop.Key] = prop.Value
	}
	return m
}
