// Package propagate maintains, for every chunk, the lowest level reachable from
// any source, where a level grows by one for every step to one of the eight
// neighbouring chunks. Levels are updated incrementally as sources change.
package propagate

import (
	"github.com/brentp/intintmap"
	"github.com/df-mc/chunkflow/server/world/chunk"
)

// Store holds the committed levels of a Graph. Levels that were never set must
// be reported as Graph.LevelCount()-1 or higher.
type Store interface {
	// SourceLevel returns the level the source contributes to key directly,
	// for example the lowest ticket level at that chunk.
	SourceLevel(key int64) int
	// Level returns the committed level of key.
	Level(key int64) int
	// SetLevel commits a new level for key. It is the only place changes
	// become visible outside the Graph.
	SetLevel(key int64, level int)
}

// Graph is an incremental minimum fixed point over the chunk grid. The source
// node chunk.InvalidKey is connected to every chunk with the level returned by
// Store.SourceLevel.
type Graph struct {
	levelCount int
	store      Store
	queue      *levelQueue
	// computed holds levels that were computed but not yet committed.
	computed *intintmap.Map
}

// New creates a Graph with the amount of levels passed. The highest level,
// levelCount-1, means unreachable.
func New(levelCount int, store Store) *Graph {
	return &Graph{
		levelCount: levelCount,
		store:      store,
		queue:      newLevelQueue(levelCount),
		computed:   intintmap.New(256, 0.6),
	}
}

// LevelCount returns the amount of levels of the graph.
func (g *Graph) LevelCount() int {
	return g.levelCount
}

// HasWork checks if there are computed levels that were not yet committed.
func (g *Graph) HasWork() bool {
	return !g.queue.empty()
}

// Update registers a change of the source level at key. decreased must be true
// only if the new level is lower than the one before.
func (g *Graph) Update(key int64, level int, decreased bool) {
	g.CheckEdge(chunk.InvalidKey, key, level, decreased)
}

// CheckNode schedules key to have its level recomputed from its neighbours.
func (g *Graph) CheckNode(key int64) {
	g.CheckEdge(key, key, g.levelCount-1, false)
}

// RemoveFromQueue drops a pending level computed for key.
func (g *Graph) RemoveFromQueue(key int64) {
	c, ok := g.computed.Get(key)
	if !ok {
		return
	}
	g.computed.Del(key)
	g.queue.dequeue(key, g.priority(g.store.Level(key), int(c)), g.levelCount)
}

// CheckEdge processes a change of the level that reaches to from from.
func (g *Graph) CheckEdge(from, to int64, level int, decreased bool) {
	c, ok := g.computed.Get(to)
	computed := -1
	if ok {
		computed = int(c)
	}
	g.checkEdge(from, to, level, g.store.Level(to), computed, decreased)
}

func (g *Graph) checkEdge(from, to int64, level, current, computed int, decreased bool) {
	if to == chunk.InvalidKey {
		return
	}
	level, current = g.clamp(level), g.clamp(current)
	none := computed < 0
	if none {
		computed = current
	}
	var n int
	if decreased {
		n = min(computed, level)
	} else {
		n = g.clamp(g.computedLevel(to, from, level))
	}
	oldPriority := g.priority(current, computed)
	if current != n {
		newPriority := g.priority(current, n)
		if oldPriority != newPriority && !none {
			g.queue.dequeue(to, oldPriority, newPriority)
		}
		g.queue.enqueue(to, newPriority)
		g.computed.Put(to, int64(n))
	} else if !none {
		g.queue.dequeue(to, oldPriority, g.levelCount)
		g.computed.Del(to)
	}
}

// checkNeighbour propagates the level of from to its neighbour to.
func (g *Graph) checkNeighbour(from, to int64, level int, decreased bool) {
	c, ok := g.computed.Get(to)
	computed := -1
	if ok {
		computed = int(c)
	}
	n := g.clamp(g.levelFromNeighbour(from, to, level))
	if decreased {
		g.checkEdge(from, to, n, g.store.Level(to), computed, true)
		return
	}
	current := computed
	if !ok {
		current = g.clamp(g.store.Level(to))
	}
	if n == current {
		// to may have depended on from: recompute it without from.
		cur := current
		if ok {
			cur = g.store.Level(to)
		}
		g.checkEdge(from, to, g.levelCount-1, cur, computed, false)
	}
}

// RunUpdates commits at most budget computed levels, lowest first, and returns
// the unused budget.
func (g *Graph) RunUpdates(budget int) int {
	for !g.queue.empty() && budget > 0 {
		budget--
		key := g.queue.removeFirst()
		current := g.clamp(g.store.Level(key))
		c, _ := g.computed.Get(key)
		g.computed.Del(key)
		computed := int(c)

		if computed < current {
			g.store.SetLevel(key, computed)
			g.checkNeighboursAfterUpdate(key, computed, true)
		} else if computed > current {
			// The level increased: clear it and recompute from the neighbours
			// that do not depend on it.
			g.store.SetLevel(key, g.levelCount-1)
			if computed != g.levelCount-1 {
				g.queue.enqueue(key, g.priority(g.levelCount-1, computed))
				g.computed.Put(key, int64(computed))
			}
			g.checkNeighboursAfterUpdate(key, current, false)
		}
	}
	return budget
}

// RunAllUpdates commits every pending level.
func (g *Graph) RunAllUpdates() {
	for g.HasWork() {
		g.RunUpdates(1 << 20)
	}
}

func (g *Graph) checkNeighboursAfterUpdate(key int64, level int, decreased bool) {
	if decreased && level >= g.levelCount-2 {
		return
	}
	pos := chunk.PosFromKey(key)
	for dx := int32(-1); dx <= 1; dx++ {
		for dz := int32(-1); dz <= 1; dz++ {
			if dx == 0 && dz == 0 {
				continue
			}
			g.checkNeighbour(key, pos.Add(dx, dz).Key(), level, decreased)
		}
	}
}

// computedLevel returns the lowest level key can get from the source and its
// neighbours, ignoring the edge from excluded.
func (g *Graph) computedLevel(key, excluded int64, level int) int {
	best := level
	pos := chunk.PosFromKey(key)
	for dx := int32(-1); dx <= 1; dx++ {
		for dz := int32(-1); dz <= 1; dz++ {
			n := pos.Add(dx, dz).Key()
			if n == key {
				n = chunk.InvalidKey
			}
			if n == excluded {
				continue
			}
			if l := g.levelFromNeighbour(n, key, g.store.Level(n)); l < best {
				best = l
			}
			if best == 0 {
				return 0
			}
		}
	}
	return best
}

func (g *Graph) levelFromNeighbour(from, to int64, level int) int {
	if from == chunk.InvalidKey {
		return g.store.SourceLevel(to)
	}
	return g.clamp(level) + 1
}

func (g *Graph) priority(a, b int) int {
	return min(a, b, g.levelCount-1)
}

func (g *Graph) clamp(level int) int {
	return max(0, min(level, g.levelCount-1))
}
