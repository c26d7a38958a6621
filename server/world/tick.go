package world

import (
	"math"
	"time"

	"github.com/df-mc/chunkflow/server/world/chunk"
)

// ticker implements World ticking methods.
type ticker struct {
	interval time.Duration
}

const (
	tpsSampleSize       = 20
	tpsWarningThreshold = 19.0
)

// tickLoop ticks the World at every interval until it is closed, keeping
// track of the ticks per second.
func (t ticker) tickLoop(w *World) {
	defer w.running.Done()
	tc := time.NewTicker(t.interval)
	defer tc.Stop()
	lastTick := time.Now()
	target := float64(time.Second) / float64(t.interval)
	var (
		durationSum time.Duration
		ticksCount  int
		warned      bool
	)
	for {
		select {
		case <-tc.C:
			tickStart := time.Now()
			duration := tickStart.Sub(lastTick)
			lastTick = tickStart
			if duration > 0 {
				durationSum += duration
				ticksCount++
				if ticksCount >= tpsSampleSize {
					avg := durationSum / time.Duration(ticksCount)
					tps := 1.0 / avg.Seconds()
					w.tps.Store(math.Float64bits(tps))
					if tps < target*tpsWarningThreshold/20 {
						if !warned {
							w.conf.Log.Warn("TPS dropped below threshold.", "tps", tps, "loaded", w.chunks.Len())
							warned = true
						}
					} else {
						warned = false
					}
					durationSum, ticksCount = 0, 0
				}
			}
			<-w.Exec(t.tick)
		case <-w.closing:
			return
		}
	}
}

// tick performs a tick on the World: timed tickets age, levels are
// propagated, generation work is started and unloaded chunks are saved and
// dropped.
func (t ticker) tick(tx *Tx) {
	w := tx.w
	w.currentTick.Add(1)
	w.distance.PurgeStaleTickets()
	w.runUpdates()
	w.chunks.ProcessUnloads()
	t.tickInhabitedTime(w)
}

// tickInhabitedTime increases the inhabited time of every entity ticking
// chunk that has a player nearby.
func (t ticker) tickInhabitedTime(w *World) {
	for pos, status := range w.fullStatus {
		if status != chunk.FullStatusEntityTicking || !w.distance.HasPlayersNearby(pos) {
			continue
		}
		if h := w.chunks.Holder(pos); h != nil {
			if c := h.EntityTickingChunk(); c != nil {
				c.InhabitedTime.Add(1)
			}
		}
	}
}
