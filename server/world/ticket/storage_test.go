package ticket

import (
	"errors"
	"testing"
)

const absent = 45

func TestStorageLowestLevel(t *testing.T) {
	s := NewStorage(absent)
	s.Add(1, New(Forced, 5, 1))
	old, level := s.Add(1, New(Forced, 2, 1))
	if old != 5 || level != 2 {
		t.Fatalf("expected 5 -> 2, got %v -> %v", old, level)
	}
	if l, ok := s.Remove(1, New(Forced, 2, 1)); !ok || l != 5 {
		t.Fatalf("expected level 5 after removal, got %v (%v)", l, ok)
	}
}

func TestStorageIdempotent(t *testing.T) {
	s := NewStorage(absent)
	s.Add(1, New(Forced, 3, "a"))
	if old, level := s.Add(1, New(Forced, 3, "a")); old != level {
		t.Fatalf("expected re-adding to keep the level, got %v -> %v", old, level)
	}
	if len(s.Tickets(1)) != 1 {
		t.Fatalf("expected one ticket, got %v", len(s.Tickets(1)))
	}
	if _, ok := s.Remove(2, New(Forced, 3, "a")); ok {
		t.Fatalf("expected removing an absent ticket to do nothing")
	}
	if _, ok := s.Remove(1, New(Forced, 3, "b")); ok {
		t.Fatalf("expected tickets with a different key not to match")
	}
	if s.Level(1) != 3 {
		t.Fatalf("expected level 3, got %v", s.Level(1))
	}
}

func TestStoragePurge(t *testing.T) {
	s := NewStorage(absent)
	s.Add(1, New(PostTeleport, 10, 0))
	s.Add(1, New(Forced, 20, 0))
	var changes []int
	for range PostTeleport.Timeout {
		s.Purge(func(_ int64, level int) { changes = append(changes, level) })
	}
	if len(changes) != 1 || changes[0] != 20 {
		t.Fatalf("expected a single change to 20, got %v", changes)
	}
	s.Purge(func(int64, int) { t.Fatalf("expected permanent ticket to survive") })
}

func TestStoragePurgeRefreshed(t *testing.T) {
	s := NewStorage(absent)
	s.Add(1, New(Unknown, 10, 0))
	s.Add(1, New(Unknown, 10, 0))
	removed := false
	s.Purge(func(int64, int) { removed = true })
	if !removed || s.Len() != 0 {
		t.Fatalf("expected ticket to expire after its timeout")
	}
}

func TestStorageHas(t *testing.T) {
	s := NewStorage(absent)
	s.Add(4, New(Player, 31, 0))
	if !s.Has(4, Player) || s.Has(4, Forced) {
		t.Fatalf("unexpected ticket types at key")
	}
}

func TestTypeByName(t *testing.T) {
	if typ, err := TypeByName("post_teleport"); err != nil || typ != PostTeleport {
		t.Fatalf("expected PostTeleport, got %v (%v)", typ, err)
	}
	if _, err := TypeByName("teleport"); !errors.Is(err, ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}
}
