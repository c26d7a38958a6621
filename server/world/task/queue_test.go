package task

import (
	"math/rand/v2"
	"testing"
)

func record(out *[]int, v int) func() {
	return func() { *out = append(*out, v) }
}

func TestQueuePopsLowestLevel(t *testing.T) {
	q := NewPriorityQueue(46)
	var ran []int
	q.Submit(record(&ran, 1), 1, 30)
	q.Submit(record(&ran, 2), 2, 3)
	q.Submit(record(&ran, 3), 3, 45)
	for _, want := range []int64{2, 1, 3} {
		b, ok := q.Pop()
		if !ok || b.Key != want {
			t.Fatalf("expected chunk %v, got %v (%v)", want, b.Key, ok)
		}
	}
	if q.HasWork() {
		t.Fatalf("expected empty queue")
	}
}

func TestQueueBatchKeepsOrder(t *testing.T) {
	q := NewPriorityQueue(46)
	var ran []int
	for i := range 5 {
		q.Submit(record(&ran, i), 7, 10)
	}
	b, _ := q.Pop()
	for _, task := range b.Tasks {
		task()
	}
	for i, v := range ran {
		if v != i {
			t.Fatalf("expected submission order, got %v", ran)
		}
	}
}

func TestQueueResort(t *testing.T) {
	q := NewPriorityQueue(46)
	var ran []int
	q.Submit(record(&ran, 0), 1, 10)
	q.Submit(record(&ran, 1), 1, 10)
	q.Submit(record(&ran, 2), 2, 5)
	q.Resort(10, 1, 2)
	if q.Contains(1) && len(q.buckets[10].entries) != 0 {
		t.Fatalf("expected old bucket to be empty after resort")
	}
	b, _ := q.Pop()
	if b.Key != 1 || len(b.Tasks) != 2 {
		t.Fatalf("expected both tasks of chunk 1 first, got chunk %v with %v tasks", b.Key, len(b.Tasks))
	}
	b.Tasks[0]()
	b.Tasks[1]()
	if ran[0] != 0 || ran[1] != 1 {
		t.Fatalf("expected order to be kept, got %v", ran)
	}
}

func TestQueueRelease(t *testing.T) {
	q := NewPriorityQueue(46)
	q.Submit(func() {}, 1, 3)
	q.Release(1, false)
	if !q.Contains(1) {
		t.Fatalf("expected tasks to be kept without clear")
	}
	q.Release(1, true)
	if q.Contains(1) || q.HasWork() {
		t.Fatalf("expected tasks to be dropped with clear")
	}
}

func TestQueueRandomMatchesMinimum(t *testing.T) {
	r := rand.New(rand.NewPCG(3, 4))
	q := NewPriorityQueue(130)
	levels := map[int64]int{}
	for range 2000 {
		switch r.IntN(3) {
		case 0:
			key := int64(r.IntN(50))
			l, ok := levels[key]
			if !ok {
				l = r.IntN(130)
				levels[key] = l
			}
			q.Submit(func() {}, key, l)
		case 1:
			key := int64(r.IntN(50))
			if l, ok := levels[key]; ok {
				n := r.IntN(130)
				q.Resort(l, key, n)
				levels[key] = n
			}
		case 2:
			b, ok := q.Pop()
			if !ok {
				if len(levels) != 0 {
					t.Fatalf("expected work to be left")
				}
				continue
			}
			lowest := 1 << 30
			for _, l := range levels {
				lowest = min(lowest, l)
			}
			if levels[b.Key] != lowest {
				t.Fatalf("expected level %v, popped chunk at level %v", lowest, levels[b.Key])
			}
			delete(levels, b.Key)
		}
	}
}
