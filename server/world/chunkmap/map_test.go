package chunkmap

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/df-mc/chunkflow/server/internal/async"
	"github.com/df-mc/chunkflow/server/world/chunk"
	"github.com/df-mc/chunkflow/server/world/distance"
	"github.com/df-mc/chunkflow/server/world/generation"
	"github.com/df-mc/chunkflow/server/world/holder"
	"github.com/df-mc/chunkflow/server/world/task"
	"github.com/df-mc/chunkflow/server/world/ticket"
	"github.com/df-mc/goleveldb/leveldb"
)

// memProvider keeps stored chunks in memory.
type memProvider struct {
	mu     sync.Mutex
	chunks map[chunk.Pos]*chunk.Chunk
	fail   map[chunk.Pos]error
	stores int
}

func newMemProvider() *memProvider {
	return &memProvider{chunks: make(map[chunk.Pos]*chunk.Chunk), fail: make(map[chunk.Pos]error)}
}

func (p *memProvider) Load(pos chunk.Pos) (*chunk.Chunk, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.fail[pos]; err != nil {
		return nil, err
	}
	c, ok := p.chunks[pos]
	if !ok {
		return nil, leveldb.ErrNotFound
	}
	return chunk.NewAt(pos, c.Status(), c.Payload), nil
}

func (p *memProvider) Store(c *chunk.Chunk) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.chunks[c.Pos()] = chunk.NewAt(c.Pos(), c.Status(), c.Payload)
	p.stores++
	return nil
}

func (p *memProvider) Close() error { return nil }

// recorder is a Generator and Listener that records what happened.
type recorder struct {
	mu        sync.Mutex
	generated map[chunk.Pos][]chunk.Status
	full      map[chunk.Pos]chunk.FullStatus
	unloaded  map[chunk.Pos]bool
}

func newRecorder() *recorder {
	return &recorder{
		generated: make(map[chunk.Pos][]chunk.Status),
		full:      make(map[chunk.Pos]chunk.FullStatus),
		unloaded:  make(map[chunk.Pos]bool),
	}
}

func (r *recorder) AdvanceStage(_ context.Context, c *chunk.Chunk, from, to chunk.Status, region chunk.Region) error {
	if from != to.Parent() {
		return errors.New("stage skipped")
	}
	if region.Centre() != c {
		return errors.New("region not centred on chunk")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.generated[c.Pos()] = append(r.generated[c.Pos()], to)
	return nil
}

func (r *recorder) HandleFullStatusChange(pos chunk.Pos, status chunk.FullStatus) {
	r.full[pos] = status
}

func (r *recorder) HandleUnload(c *chunk.Chunk) {
	r.unloaded[c.Pos()] = true
}

type harness struct {
	m        *Map
	d        *distance.Manager
	main     *task.Mailbox
	provider *memProvider
	rec      *recorder
}

func newHarness() *harness {
	h := &harness{main: task.NewMailbox(), provider: newMemProvider(), rec: newRecorder()}
	h.m = Config{
		Provider:  h.provider,
		Generator: h.rec,
		Main:      async.ExecutorFunc(h.main.Push),
		Pool:      async.Inline,
		Listener:  h.rec,
	}.New()
	h.d = distance.Config{Main: async.ExecutorFunc(h.main.Push)}.New(h.m)
	return h
}

// pump runs update passes until no work is left.
func (h *harness) pump(t *testing.T) {
	t.Helper()
	for i := 0; ; i++ {
		if i > 10000 {
			t.Fatalf("expected work to settle")
		}
		busy := h.d.RunAllUpdates()
		busy = h.m.PromoteChunkMap() || busy
		h.m.RunGenerationTasks()
		h.m.ProcessUnloads()
		ran := h.main.Drain()
		if !busy && ran == 0 && !h.d.HasWork() && !h.m.HasWork() {
			return
		}
	}
}

func TestGenerateFullChunk(t *testing.T) {
	h := newHarness()
	h.d.AddTicket(ticket.Forced, chunk.Pos{}, chunk.FullLevel, 0)
	h.pump(t)

	hd := h.m.Holder(chunk.Pos{})
	if hd == nil || hd.FullChunk() == nil {
		t.Fatalf("expected the centre to be a full chunk")
	}
	if s := hd.FullChunk().Status(); s != chunk.StatusFull {
		t.Fatalf("expected status %v, got %v", chunk.StatusFull, s)
	}
	if s := h.rec.full[chunk.Pos{}]; s != chunk.FullStatusFull {
		t.Fatalf("expected the listener to see a full chunk, got %v", s)
	}
	// Every stage but loading and the full promotion ran once.
	if n := len(h.rec.generated[chunk.Pos{}]); n != chunk.StatusCount-2 {
		t.Fatalf("expected %v generated stages, got %v: %v", chunk.StatusCount-2, n, h.rec.generated[chunk.Pos{}])
	}
	const side = 2*(chunk.MaxLevel-chunk.FullLevel) + 1
	if n := h.m.Len(); n != side*side {
		t.Fatalf("expected %v holders, got %v", side*side, n)
	}
	if h.m.VisibleHolder(chunk.Pos{}) != hd {
		t.Fatalf("expected the visible map to hold the centre")
	}
	for pos, stages := range h.rec.generated {
		for _, s := range stages {
			if want, _ := chunk.GenerationStatus(h.d.Level(pos)); s.IsAfter(want) {
				t.Fatalf("chunk %v at level %v was generated to %v", pos, h.d.Level(pos), s)
			}
		}
	}
}

func TestLoadPersistedChunk(t *testing.T) {
	h := newHarness()
	h.provider.chunks[chunk.Pos{}] = chunk.NewAt(chunk.Pos{}, chunk.StatusFull, []byte("stored"))
	h.d.AddTicket(ticket.Forced, chunk.Pos{}, chunk.FullLevel, 0)
	h.pump(t)

	c := h.m.Holder(chunk.Pos{}).FullChunk()
	if c == nil || string(c.Payload) != "stored" {
		t.Fatalf("expected the stored chunk to be loaded, got %v", c)
	}
	if len(h.rec.generated[chunk.Pos{}]) != 0 {
		t.Fatalf("expected no generation for a persisted chunk, got %v", h.rec.generated[chunk.Pos{}])
	}
}

func TestLoadFailureGeneratesChunk(t *testing.T) {
	h := newHarness()
	h.provider.fail[chunk.Pos{}] = errors.New("disk unreadable")
	h.d.AddTicket(ticket.Forced, chunk.Pos{}, chunk.FullLevel, 0)
	h.pump(t)

	if h.m.Holder(chunk.Pos{}).FullChunk() == nil {
		t.Fatalf("expected the chunk to be generated after a failed load")
	}
	if len(h.rec.generated[chunk.Pos{}]) == 0 {
		t.Fatalf("expected the chunk to be generated")
	}
}

func TestGenerationFailureUnloadsRequest(t *testing.T) {
	h := newHarness()
	h.m.conf.Generator = generation.GeneratorFunc(func(_ context.Context, c *chunk.Chunk, _, to chunk.Status, _ chunk.Region) error {
		if c.Pos() == (chunk.Pos{}) && to == chunk.StatusNoise {
			return errors.New("noise failed")
		}
		return nil
	})
	h.d.AddTicket(ticket.Forced, chunk.Pos{}, chunk.FullLevel, 0)
	h.pump(t)

	hd := h.m.Holder(chunk.Pos{})
	if hd.FullChunk() != nil {
		t.Fatalf("expected the chunk not to become full")
	}
	r, ok := hd.FullFuture().Now()
	if !ok || r.Success() {
		t.Fatalf("expected the full future to fail, got %v (%v)", r, ok)
	}
	if c := hd.ChunkIfPresent(chunk.StatusBiomes); c == nil {
		t.Fatalf("expected the stages before the failure to be kept")
	}
}

func TestUnloadSavesChunks(t *testing.T) {
	h := newHarness()
	h.d.AddTicket(ticket.Forced, chunk.Pos{}, chunk.FullLevel, 0)
	h.pump(t)
	h.d.RemoveTicket(ticket.Forced, chunk.Pos{}, chunk.FullLevel, 0)
	h.pump(t)

	if n := h.m.Len(); n != 0 {
		t.Fatalf("expected all holders to be dropped, got %v", n)
	}
	if n := h.m.Metrics().PendingUnloads; n != 0 {
		t.Fatalf("expected no pending unloads, got %v", n)
	}
	if !h.rec.unloaded[chunk.Pos{}] {
		t.Fatalf("expected the centre to be unloaded")
	}
	c := h.provider.chunks[chunk.Pos{}]
	if c == nil || c.Status() != chunk.StatusFull {
		t.Fatalf("expected the full chunk to be saved, got %v", c)
	}
	if s := h.rec.full[chunk.Pos{}]; s != chunk.FullStatusInaccessible {
		t.Fatalf("expected the chunk to become inaccessible, got %v", s)
	}

	// Loading the chunk again does not generate it again.
	generated := len(h.rec.generated[chunk.Pos{}])
	h.d.AddTicket(ticket.Forced, chunk.Pos{}, chunk.FullLevel, 0)
	h.pump(t)
	if h.m.Holder(chunk.Pos{}).FullChunk() == nil {
		t.Fatalf("expected the chunk to be loaded again")
	}
	if n := len(h.rec.generated[chunk.Pos{}]); n != generated {
		t.Fatalf("expected no new generation, got %v stages", n-generated)
	}
}

func TestSaveOnlyChangedChunks(t *testing.T) {
	h := newHarness()
	h.d.AddTicket(ticket.Forced, chunk.Pos{}, chunk.FullLevel, 0)
	h.pump(t)

	h.m.Save(false)
	if h.provider.chunks[chunk.Pos{}] == nil {
		t.Fatalf("expected the full chunk to be saved")
	}
	if h.provider.chunks[chunk.Pos{5, 5}] != nil {
		t.Fatalf("expected a chunk that was never full not to be saved without a flush")
	}
	stores := h.provider.stores
	h.m.Save(true)
	if h.provider.stores == stores {
		t.Fatalf("expected a flush to save the remaining chunks")
	}
	stores = h.provider.stores
	h.m.Save(true)
	if h.provider.stores != stores {
		t.Fatalf("expected unchanged chunks not to be saved again")
	}
}

func TestChunkRangeNeedsNeighbours(t *testing.T) {
	h := newHarness()
	hd := h.m.UpdateScheduling(chunk.Pos{}, chunk.FullLevel, nil, chunk.AbsentLevel)
	if f := h.m.PrepareEntityTicking(hd); f != holder.UnloadedFuture {
		t.Fatalf("expected an unloaded future without neighbours")
	}
}

func TestUpdateSchedulingRevivesPendingUnload(t *testing.T) {
	h := newHarness()
	hd := h.m.UpdateScheduling(chunk.Pos{}, chunk.FullLevel, nil, chunk.AbsentLevel)
	h.m.UpdateScheduling(chunk.Pos{}, chunk.AbsentLevel, hd, chunk.FullLevel)
	// A generation reference keeps the holder from being unloaded.
	hd.IncreaseGenerationRefCount()
	h.m.ProcessUnloads()
	if n := h.m.Metrics().PendingUnloads; n != 1 {
		t.Fatalf("expected one pending unload, got %v", n)
	}
	if got := h.m.UpdateScheduling(chunk.Pos{}, chunk.FullLevel, nil, chunk.AbsentLevel); got != hd {
		t.Fatalf("expected the pending holder to be revived")
	}
	hd.DecreaseGenerationRefCount()
	h.m.ProcessUnloads()
	if h.m.Holder(chunk.Pos{}) != hd {
		t.Fatalf("expected the revived holder to stay loaded")
	}
}

func TestSaveSkipsChunksInUse(t *testing.T) {
	h := newHarness()
	h.d.AddTicket(ticket.Forced, chunk.Pos{}, chunk.FullLevel, 0)
	h.pump(t)
	h.m.Save(true)

	hd := h.m.Holder(chunk.Pos{})
	hd.FullChunk().MarkUnsaved()
	hd.IncreaseGenerationRefCount()
	stores := h.provider.stores
	h.m.Save(true)
	if h.provider.stores != stores {
		t.Fatalf("expected a chunk used by generation not to be saved")
	}
	if !hd.FullChunk().Unsaved() {
		t.Fatalf("expected the skipped chunk to stay unsaved")
	}
	hd.DecreaseGenerationRefCount()
	h.m.Save(true)
	if h.provider.stores != stores+1 {
		t.Fatalf("expected 1 store once generation released the chunk, got %v", h.provider.stores-stores)
	}
}

func TestCloseFailsPendingFutures(t *testing.T) {
	main := task.NewMailbox()
	// Work handed to the pool never runs, so generation stays in flight.
	var held []func()
	m := Config{
		Provider: newMemProvider(),
		Main:     async.ExecutorFunc(main.Push),
		Pool:     async.ExecutorFunc(func(f func()) { held = append(held, f) }),
	}.New()
	d := distance.Config{Main: async.ExecutorFunc(main.Push)}.New(m)
	d.AddTicket(ticket.Forced, chunk.Pos{}, chunk.FullLevel, 0)
	for range 3 {
		d.RunAllUpdates()
		m.PromoteChunkMap()
		m.RunGenerationTasks()
		main.Drain()
	}

	hd := m.Holder(chunk.Pos{})
	if hd == nil {
		t.Fatalf("expected the chunk to be loaded")
	}
	full, noise := hd.FullFuture(), hd.ScheduleGeneration(chunk.StatusNoise, m)
	if full.IsDone() || noise.IsDone() {
		t.Fatalf("expected generation to be in flight")
	}
	if len(held) == 0 {
		t.Fatalf("expected work to be handed to the pool")
	}
	m.Close()

	for name, f := range map[string]*holder.ChunkFuture{"full": full, "noise": noise} {
		r, ok := f.Now()
		if !ok {
			t.Fatalf("expected the %v future to complete on close", name)
		}
		if !errors.Is(r.Err(), async.ErrUnloaded) {
			t.Fatalf("expected the %v future to be unloaded, got %v", name, r.Err())
		}
	}
	if hd.FullFuture() != holder.UnloadedFuture {
		t.Fatalf("expected the full future to be reset")
	}
	if f := hd.ScheduleGeneration(chunk.StatusNoise, m); f != holder.UnloadedFuture {
		t.Fatalf("expected no generation to be scheduled after close")
	}
}
