package bound

import "github.com/pulseengine/wrt-sub004/internal/coreerr"

// Map is a fixed-capacity keyed store with insertion-ordered iteration. It
// backs the resource table (§4.6) and the component import/export tables,
// where unbounded growth of handle/name maps would violate the "no
// unbounded allocation" requirement.
type Map[K comparable, V any] struct {
	index map[K]int
	keys  []K
	vals  []V
	cap   int
}

func NewMap[K comparable, V any](capacity int) *Map[K, V] {
	return &Map[K, V]{
		index: make(map[K]int, capacity),
		keys:  make([]K, 0, capacity),
		vals:  make([]V, 0, capacity),
		cap:   capacity,
	}
}

func (m *Map[K, V]) Len() int { return len(m.keys) }

// Set inserts or overwrites the value for key. Inserting a new key past
// capacity returns ErrCapacityExceeded.
func (m *Map[K, V]) Set(key K, val V) error {
	if i, ok := m.index[key]; ok {
		m.vals[i] = val
		return nil
	}
	if len(m.keys) >= m.cap {
		return coreerr.ErrCapacityExceeded
	}
	m.index[key] = len(m.keys)
	m.keys = append(m.keys, key)
	m.vals = append(m.vals, val)
	return nil
}

func (m *Map[K, V]) Get(key K) (V, bool) {
	var zero V
	i, ok := m.index[key]
	if !ok {
		return zero, false
	}
	return m.vals[i], true
}

// Delete removes a key by moving the last entry into the removed slot and
// re-indexing it, so deleting any key but the last changes the order of the
// surviving entries; insertion order is not preserved across deletions.
func (m *Map[K, V]) Delete(key K) bool {
	i, ok := m.index[key]
	if !ok {
		return false
	}
	last := len(m.keys) - 1
	m.keys[i] = m.keys[last]
	m.vals[i] = m.vals[last]
	m.index[m.keys[i]] = i
	var zeroK K
	var zeroV V
	m.keys[last] = zeroK
	m.vals[last] = zeroV
	m.keys = m.keys[:last]
	m.vals = m.vals[:last]
	delete(m.index, key)
	return true
}

func (m *Map[K, V]) Iter(fn func(key K, val V) bool) {
	for i, k := range m.keys {
		if !fn(k, m.vals[i]) {
			return
		}
	}
}
