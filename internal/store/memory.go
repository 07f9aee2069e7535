package store

import (
	"math"
	"sync"
)

// Memory is a volatile Store. It is safe for concurrent use so tools and
// tests can inspect it while a controller owns it.
type Memory struct {
	mu     sync.Mutex
	values map[Key]uint32
	writes int
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{values: make(map[Key]uint32)}
}

func (m *Memory) load(key Key) (uint32, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok
}

func (m *Memory) save(key Key, v uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.values[key]; ok && old == v {
		return
	}
	m.values[key] = v
	m.writes++
}

func (m *Memory) Uint32(key Key, def uint32) uint32    { return readUint32(m, key, def) }
func (m *Memory) SetUint32(key Key, v uint32)          { m.save(key, v) }
func (m *Memory) Float32(key Key, def float32) float32 { return readFloat32(m, key, def) }
func (m *Memory) SetFloat32(key Key, v float32)        { m.save(key, math.Float32bits(v)) }

// Has reports whether key was ever written.
func (m *Memory) Has(key Key) bool {
	_, ok := m.load(key)
	return ok
}

// Writes returns the number of committed (non-redundant) writes.
func (m *Memory) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// Snapshot returns a copy of all stored words.
func (m *Memory) Snapshot() map[Key]uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[Key]uint32, len(m.values))
	for k, v := range m.values {
		out[k] = v
	}
	return out
}
