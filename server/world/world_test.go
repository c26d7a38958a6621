package world

import (
	"bytes"
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/df-mc/chunkflow/server/internal/async"
	"github.com/df-mc/chunkflow/server/world/chunk"
	"github.com/df-mc/chunkflow/server/world/generation"
	"github.com/df-mc/chunkflow/server/world/holder"
	"github.com/df-mc/chunkflow/server/world/storage"
	"github.com/df-mc/chunkflow/server/world/ticket"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
)

// recordingHandler records the events of a World.
type recordingHandler struct {
	NopHandler
	mu     sync.Mutex
	events []string
}

func (h *recordingHandler) record(e string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, e)
}

func (h *recordingHandler) HandleChunkLoad(_ *Tx, pos chunk.Pos) {
	h.record("load " + pos.String())
}

func (h *recordingHandler) HandleChunkTicking(_ *Tx, pos chunk.Pos, ticking bool) {
	if ticking {
		h.record("ticking " + pos.String())
		return
	}
	h.record("not ticking " + pos.String())
}

func (h *recordingHandler) HandleChunkEntityTicking(_ *Tx, pos chunk.Pos, ticking bool) {
	if ticking {
		h.record("entity ticking " + pos.String())
		return
	}
	h.record("not entity ticking " + pos.String())
}

func (h *recordingHandler) Events() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.events)
}

func newTestWorld(t *testing.T, conf Config) *World {
	t.Helper()
	conf.TickInterval = time.Millisecond
	w := conf.New()
	t.Cleanup(func() { _ = w.Close() })
	return w
}

// waitFor polls cond until it returns true, failing the test after a while.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("expected %v", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestTicketLevelSpreads(t *testing.T) {
	w := newTestWorld(t, Config{})
	<-w.Exec(func(tx *Tx) {
		tx.AddTicket(ticket.Forced, chunk.Pos{}, 0, "a")
		tx.RunUpdates()
		if l := tx.Level(chunk.Pos{1, 0}); l > 1 {
			t.Errorf("expected level 1 or lower next to the ticket, got %v", l)
		}
		if l := tx.Level(chunk.Pos{-7, 7}); l != 7 {
			t.Errorf("expected level 7 at distance 7, got %v", l)
		}
	})
}

func TestLowestTicketWins(t *testing.T) {
	w := newTestWorld(t, Config{})
	pos := chunk.Pos{3, -3}
	<-w.Exec(func(tx *Tx) {
		tx.AddTicket(ticket.Forced, pos, 25, "a")
		tx.AddTicket(ticket.Forced, pos, 22, "b")
		tx.RunUpdates()
		if l := tx.Level(pos); l != 22 {
			t.Errorf("expected level 22, got %v", l)
		}
		tx.RemoveTicket(ticket.Forced, pos, 22, "b")
		tx.RunUpdates()
		if l := tx.Level(pos); l != 25 {
			t.Errorf("expected level 25 after removing the lower ticket, got %v", l)
		}
		tx.RemoveTicket(ticket.Forced, pos, 22, "never added")
		tx.RunUpdates()
		if l := tx.Level(pos); l != 25 {
			t.Errorf("expected removing an unknown ticket to change nothing, got %v", l)
		}
	})
}

func TestPromotionAndDemotion(t *testing.T) {
	w := newTestWorld(t, Config{})
	h := &recordingHandler{}
	w.Handle(h)

	<-w.Exec(func(tx *Tx) {
		tx.AddTicket(ticket.Forced, chunk.Pos{}, chunk.EntityTickingLevel, "a")
	})
	waitFor(t, "the chunk to become entity ticking", func() bool { return w.IsEntityTicking(chunk.Pos{}) })
	if !w.IsLoaded(chunk.Pos{}) || !w.IsTicking(chunk.Pos{}) {
		t.Fatalf("expected an entity ticking chunk to be loaded and ticking")
	}
	if l := w.Level(chunk.Pos{}); l != chunk.EntityTickingLevel {
		t.Fatalf("expected level %v, got %v", chunk.EntityTickingLevel, l)
	}

	<-w.Exec(func(tx *Tx) {
		tx.RemoveTicket(ticket.Forced, chunk.Pos{}, chunk.EntityTickingLevel, "a")
	})
	waitFor(t, "the chunk to be unloaded", func() bool { return w.Level(chunk.Pos{}) == chunk.AbsentLevel })
	if w.IsLoaded(chunk.Pos{}) {
		t.Fatalf("expected the chunk not to be loaded")
	}

	var centre []string
	for _, e := range h.Events() {
		if strings.HasSuffix(e, " "+chunk.Pos{}.String()) {
			centre = append(centre, e)
		}
	}
	want := []string{"load (0, 0)", "ticking (0, 0)", "entity ticking (0, 0)", "not entity ticking (0, 0)", "not ticking (0, 0)"}
	if !slices.Equal(centre, want) {
		t.Fatalf("expected events %v, got %v", want, centre)
	}
}

func TestFailedGenerationUnloadsRequests(t *testing.T) {
	failed := errors.New("noise failed")
	w := newTestWorld(t, Config{
		Generator: generation.GeneratorFunc(func(_ context.Context, c *chunk.Chunk, _, to chunk.Status, _ chunk.Region) error {
			if c.Pos() == (chunk.Pos{}) && to == chunk.StatusNoise {
				return failed
			}
			return nil
		}),
	})
	centre := w.RequestStage(chunk.Pos{}, chunk.StatusFull)
	neighbour := w.RequestStage(chunk.Pos{1, 0}, chunk.StatusFeatures)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for name, f := range map[string]*holder.ChunkFuture{"centre": centre, "neighbour": neighbour} {
		r, err := f.Wait(ctx)
		if err != nil {
			t.Fatalf("expected the %v request to complete: %v", name, err)
		}
		if r.Success() {
			t.Fatalf("expected the %v request to fail", name)
		}
		if !errors.Is(r.Err(), async.ErrUnloaded) {
			t.Fatalf("expected the %v request to be unloaded, got %v", name, r.Err())
		}
	}
}

func TestRequestStageSavesChunk(t *testing.T) {
	dir := t.TempDir()
	db, err := storage.Config{}.Open(dir)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	w := (Config{Provider: db, TickInterval: time.Millisecond}).New()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	r, err := w.RequestStage(chunk.Pos{5, 5}, chunk.StatusFull).Wait(ctx)
	if err != nil {
		t.Fatalf("expected the request to complete: %v", err)
	}
	c, ok := r.Value()
	if !ok || c.Status() != chunk.StatusFull {
		t.Fatalf("expected a full chunk, got %v", r.Err())
	}
	// The request ticket is released once the request completed.
	waitFor(t, "the request ticket to be released", func() bool { return w.Level(chunk.Pos{5, 5}) == chunk.AbsentLevel })
	if err := w.Close(); err != nil {
		t.Fatalf("close world: %v", err)
	}

	db, err = storage.Config{}.Open(dir)
	if err != nil {
		t.Fatalf("reopen db: %v", err)
	}
	defer db.Close()
	stored, err := db.Load(chunk.Pos{5, 5})
	if err != nil {
		t.Fatalf("expected the chunk to be stored: %v", err)
	}
	if stored.Status() != chunk.StatusFull {
		t.Fatalf("expected status %v, got %v", chunk.StatusFull, stored.Status())
	}
}

func TestPlayersLoadChunks(t *testing.T) {
	w := newTestWorld(t, Config{ViewDistance: 2, SimulationDistance: 2})
	id := uuid.New()
	<-w.Exec(func(tx *Tx) {
		tx.AddPlayer(id, mgl64.Vec3{-8, 64, 40})
	})
	// Block -8, 40 lies in chunk (-1, 2).
	waitFor(t, "chunks around the player to tick entities", func() bool {
		return w.IsEntityTicking(chunk.Pos{-1, 2}) && w.IsEntityTicking(chunk.Pos{2, 5})
	})
	<-w.Exec(func(tx *Tx) {
		if !tx.InEntityTickingRange(chunk.Pos{1, 4}) || tx.InEntityTickingRange(chunk.Pos{2, 5}) {
			t.Errorf("expected entities to be simulated up to 2 chunks from the player")
		}
		if !tx.HasPlayersNearby(chunk.Pos{-1, 2}) {
			t.Errorf("expected a player near its own chunk")
		}
		tx.RemovePlayer(id)
	})
	waitFor(t, "chunks to be unloaded after the player left", func() bool {
		return w.Level(chunk.Pos{-1, 2}) == chunk.AbsentLevel
	})
}

func TestTicksAdvance(t *testing.T) {
	w := newTestWorld(t, Config{})
	waitFor(t, "the world to tick", func() bool { return w.CurrentTick() > 3 })
	if m := w.Metrics(); m.Tick < 3 {
		t.Fatalf("expected metrics to report the tick, got %v", m.Tick)
	}
}

func TestRequestAfterClose(t *testing.T) {
	w := newTestWorld(t, Config{})
	if err := w.Close(); err != nil {
		t.Fatalf("close world: %v", err)
	}
	r, ok := w.RequestStage(chunk.Pos{}, chunk.StatusFull).Now()
	if !ok {
		t.Fatalf("expected a request after close to complete immediately")
	}
	if !errors.Is(r.Err(), ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", r.Err())
	}
	// Transactions after close are not run, but must not block.
	<-w.Exec(func(*Tx) { t.Errorf("expected the transaction not to run") })
}

// payloadProvider keeps a copy of the payload of every chunk stored to it.
type payloadProvider struct {
	storage.NopProvider
	mu     sync.Mutex
	stored map[chunk.Pos][]byte
}

func (p *payloadProvider) Store(c *chunk.Chunk) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stored[c.Pos()] = slices.Clone(c.Payload)
	return nil
}

func (p *payloadProvider) Payload(pos chunk.Pos) ([]byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.stored[pos]
	return b, ok
}

func TestSaveWhileGenerating(t *testing.T) {
	p := &payloadProvider{stored: make(map[chunk.Pos][]byte)}
	w := newTestWorld(t, Config{
		Provider: p,
		Generator: generation.GeneratorFunc(func(_ context.Context, c *chunk.Chunk, _, to chunk.Status, _ chunk.Region) error {
			c.Payload = append(c.Payload, byte(to))
			time.Sleep(50 * time.Microsecond)
			return nil
		}),
	})
	f := w.RequestStage(chunk.Pos{}, chunk.StatusFull)

	stop, stopped := make(chan struct{}), make(chan struct{})
	go func() {
		defer close(stopped)
		for {
			select {
			case <-stop:
				return
			default:
				w.Save()
			}
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	r, err := f.Wait(ctx)
	close(stop)
	<-stopped
	if err != nil {
		t.Fatalf("expected the request to complete: %v", err)
	}
	c, ok := r.Value()
	if !ok {
		t.Fatalf("expected a full chunk, got %v", r.Err())
	}
	want := slices.Clone(c.Payload)
	if err := w.Close(); err != nil {
		t.Fatalf("close world: %v", err)
	}
	got, ok := p.Payload(chunk.Pos{})
	if !ok {
		t.Fatalf("expected the chunk to be stored")
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("expected stored payload %v, got %v", want, got)
	}
}

func TestCloseCompletesRequestsInFlight(t *testing.T) {
	var once sync.Once
	started := make(chan struct{})
	w := newTestWorld(t, Config{
		Generator: generation.GeneratorFunc(func(ctx context.Context, c *chunk.Chunk, _, to chunk.Status, _ chunk.Region) error {
			if c.Pos() != (chunk.Pos{5, 5}) || to != chunk.StatusNoise {
				return nil
			}
			once.Do(func() { close(started) })
			<-ctx.Done()
			return ctx.Err()
		}),
	})
	f := w.RequestStage(chunk.Pos{5, 5}, chunk.StatusFull)
	select {
	case <-started:
	case <-time.After(10 * time.Second):
		t.Fatalf("expected generation of the chunk to start")
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close world: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	r, err := f.Wait(ctx)
	if err != nil {
		t.Fatalf("expected the request to complete on close: %v", err)
	}
	if r.Success() {
		t.Fatalf("expected the request to fail")
	}
	if !errors.Is(r.Err(), async.ErrUnloaded) && !errors.Is(r.Err(), ErrClosed) {
		t.Fatalf("expected the request to be unloaded or closed, got %v", r.Err())
	}
}

// closeRequestHandler requests a chunk when the World closes.
type closeRequestHandler struct {
	NopHandler
	f *holder.ChunkFuture
}

func (h *closeRequestHandler) HandleClose(tx *Tx) {
	h.f = tx.RequestStage(chunk.Pos{}, chunk.StatusFull)
}

func TestRequestWhileClosingFails(t *testing.T) {
	w := newTestWorld(t, Config{})
	h := &closeRequestHandler{}
	w.Handle(h)
	if err := w.Close(); err != nil {
		t.Fatalf("close world: %v", err)
	}
	r, ok := h.f.Now()
	if !ok {
		t.Fatalf("expected a request made while closing to complete immediately")
	}
	if !errors.Is(r.Err(), ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", r.Err())
	}
}

// wrappedHandler marks a Handler wrapped by Config.HandlerWrap.
type wrappedHandler struct {
	Handler
}

func TestHandlerWrap(t *testing.T) {
	var wrapped *World
	w := newTestWorld(t, Config{HandlerWrap: func(w *World, h Handler) Handler {
		wrapped = w
		return wrappedHandler{Handler: h}
	}})
	rec := &recordingHandler{}
	w.Handle(rec)
	h, ok := w.Handler().(wrappedHandler)
	if !ok || h.Handler != rec {
		t.Fatalf("expected the handler to be wrapped, got %T", w.Handler())
	}
	if wrapped != w {
		t.Fatalf("expected the wrapper to receive the world")
	}

	// A World without a wrapper is not affected by another World's wrapper.
	other := newTestWorld(t, Config{})
	other.Handle(rec)
	if other.Handler() != Handler(rec) {
		t.Fatalf("expected the handler of another world not to be wrapped, got %T", other.Handler())
	}
}
