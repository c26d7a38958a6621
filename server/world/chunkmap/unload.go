package chunkmap

import (
	"github.com/df-mc/chunkflow/server/world/chunk"
	"github.com/df-mc/chunkflow/server/world/holder"
)

// ProcessUnloads moves holders whose chunks are no longer loaded out of the
// updating holders and saves and drops those whose pending work finished. It
// must be called on the main context.
func (m *Map) ProcessUnloads() {
	for key := range m.toDrop {
		if h := m.updating[key]; h != nil {
			delete(m.updating, key)
			m.pendingUnloads[key] = h
			m.modified = true
			m.scheduleUnload(key, h)
		}
		delete(m.toDrop, key)
	}
	m.unloads.Drain()
}

// scheduleUnload unloads h once all work its data depends on finished. If new
// work was added in the meantime, the unload waits for that work too.
func (m *Map) scheduleUnload(key int64, h *holder.Holder) {
	saveSync := h.SaveSync()
	saveSync.OnComplete(func(struct{}) {
		m.unloads.Push(func() {
			if h.SaveSync() != saveSync {
				m.scheduleUnload(key, h)
				return
			}
			if m.pendingUnloads[key] != h {
				// The chunk was loaded again before its work finished.
				return
			}
			delete(m.pendingUnloads, key)
			if c := h.LatestChunk(); c != nil {
				m.saveChunk(c)
				m.conf.Listener.HandleUnload(c)
			}
		})
	})
}

// Save saves the chunks that changed since they were last saved. If flush is
// false, only chunks that were full chunks since the last save are considered.
// Chunks that generation work is still running on are skipped and saved by a
// later call, their unload or Close. It must be called on the main context.
func (m *Map) Save(flush bool) {
	for _, h := range m.updating {
		if !h.IsReadyForSaving() || (!flush && !h.WasAccessibleSinceLastSave()) {
			continue
		}
		if m.saveHolder(h) {
			h.ResetAccessibleSinceLastSave()
		}
	}
}

// saveHolder saves the latest chunk of h if it changed.
func (m *Map) saveHolder(h *holder.Holder) bool {
	c := h.LatestChunk()
	return c != nil && m.saveChunk(c)
}

// saveChunk stores c if it changed since it was last saved. Chunks that were
// never generated beyond the empty status are not stored.
func (m *Map) saveChunk(c *chunk.Chunk) bool {
	if c.Status() == chunk.StatusEmpty || !c.TryMarkSaved() {
		return false
	}
	if err := m.conf.Provider.Store(c); err != nil {
		c.MarkUnsaved()
		pos := c.Pos()
		m.conf.Log.Error("save chunk: "+err.Error(), "X", pos[0], "Z", pos[1])
		return false
	}
	return true
}
