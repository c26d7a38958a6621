package propagate

import "github.com/brentp/intintmap"

// LevelMap is a Store that keeps levels below a limit in a sparse map. Keys
// without a stored level are at the limit.
type LevelMap struct {
	levels  *intintmap.Map
	limit   int
	source  func(key int64) int
	changed func(key int64, old, new int)
}

// NewLevelMap creates a LevelMap for a Graph with limit+1 levels. source
// returns the level the source node contributes to a key. changed, if not nil,
// is called for every committed level change.
func NewLevelMap(limit int, source func(key int64) int, changed func(key int64, old, new int)) *LevelMap {
	return &LevelMap{levels: intintmap.New(256, 0.6), limit: limit, source: source, changed: changed}
}

// SourceLevel returns the level the source contributes to key.
func (m *LevelMap) SourceLevel(key int64) int {
	return m.source(key)
}

// Level returns the stored level of key, or the limit if none is stored.
func (m *LevelMap) Level(key int64) int {
	if l, ok := m.levels.Get(key); ok {
		return int(l)
	}
	return m.limit
}

// SetLevel stores level for key, removing it if it is at or above the limit.
func (m *LevelMap) SetLevel(key int64, level int) {
	old := m.Level(key)
	if level >= m.limit {
		m.levels.Del(key)
	} else {
		m.levels.Put(key, int64(level))
	}
	if m.changed != nil && old != level {
		m.changed(key, old, level)
	}
}

// Contains checks if key has a level below the limit.
func (m *LevelMap) Contains(key int64) bool {
	_, ok := m.levels.Get(key)
	return ok
}

// Len returns the amount of keys with a level below the limit.
func (m *LevelMap) Len() int {
	return m.levels.Size()
}

// Each calls f for every key with a level below the limit.
func (m *LevelMap) Each(f func(key int64, level int)) {
	for kv := range m.levels.Items() {
		f(kv[0], int(kv[1]))
	}
}
