package frame

// Metadata is an ordered string-to-string mapping. Insertion order is
// irrelevant for lookup but preserved for display and serialization.
type Metadata struct {
	keys   []string
	values map[string]string
}

// NewMetadata creates an empty Metadata.
func NewMetadata() Metadata {
	return Metadata{values: make(map[string]string)}
}

// MetadataFromPairs builds Metadata from alternating key, value strings.
// An odd trailing key is ignored.
func MetadataFromPairs(pairs ...string) Metadata {
	md := NewMetadata()
	for i := 0; i+1 < len(pairs); i += 2 {
		md.Set(pairs[i], pairs[i+1])
	}
	return md
}

// Set inserts or replaces a key. A new key is appended to the display order;
// replacing an existing key keeps its original position.
func (m *Metadata) Set(key, value string) {
	if m.values == nil {
		m.values = make(map[string]string)
	}
	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.values[key] = value
}

// Get returns the value for key.
func (m Metadata) Get(key string) (string, bool) {
	v, ok := m.values[key]
	return v, ok
}

// Keys returns the keys in insertion order. The returned slice is shared;
// callers must not mutate it.
func (m Metadata) Keys() []string {
	return m.keys
}

// Len returns the number of entries.
func (m Metadata) Len() int {
	return len(m.keys)
}

// Clone returns an independent copy.
func (m Metadata) Clone() Metadata {
	out := NewMetadata()
	for _, k := range m.keys {
		out.Set(k, m.values[k])
	}
	return out
}
