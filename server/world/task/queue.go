package task

import "math/bits"

// Batch is the list of tasks queued for a single chunk, in submission order.
type Batch struct {
	Key   int64
	Tasks []func()
}

// PriorityQueue holds lists of tasks per chunk, bucketed by priority level.
// Lower levels are popped first and chunks within a level are popped in the
// order in which they were first queued at that level. PriorityQueue is not
// safe for concurrent use.
type PriorityQueue struct {
	buckets []bucket
	// occupied has a bit set for every non-empty bucket.
	occupied []uint64
	// top is at most the lowest non-empty bucket, or len(buckets) if the queue
	// is empty.
	top int
}

type bucket struct {
	entries    map[int64]*entry
	head, tail *entry
}

type entry struct {
	key        int64
	tasks      []func()
	prev, next *entry
}

// NewPriorityQueue returns an empty PriorityQueue with the amount of levels
// passed.
func NewPriorityQueue(levels int) *PriorityQueue {
	q := &PriorityQueue{
		buckets:  make([]bucket, levels),
		occupied: make([]uint64, (levels+63)/64),
		top:      levels,
	}
	for i := range q.buckets {
		q.buckets[i].entries = make(map[int64]*entry)
	}
	return q
}

// Levels returns the amount of priority levels of the queue.
func (q *PriorityQueue) Levels() int {
	return len(q.buckets)
}

// HasWork checks if any tasks are queued.
func (q *PriorityQueue) HasWork() bool {
	return q.top < len(q.buckets)
}

// Submit adds task to the end of the list of key at level.
func (q *PriorityQueue) Submit(task func(), key int64, level int) {
	level = q.clamp(level)
	q.add(level, key, []func(){task})
	q.top = min(q.top, level)
}

// Resort moves the whole list of key from level old to level new, keeping its
// order. If key already has tasks at new, the moved tasks are appended.
func (q *PriorityQueue) Resort(old int, key int64, new int) {
	if old < 0 || old >= len(q.buckets) {
		return
	}
	tasks := q.remove(old, key)
	if old == q.top {
		q.advance()
	}
	if len(tasks) > 0 {
		new = q.clamp(new)
		q.add(new, key, tasks)
		q.top = min(q.top, new)
	}
}

// Release drops the queued tasks of key if clear is true. Empty lists of key
// are removed either way.
func (q *PriorityQueue) Release(key int64, clear bool) {
	for level := range q.buckets {
		e, ok := q.buckets[level].entries[key]
		if !ok {
			continue
		}
		if clear {
			e.tasks = nil
		}
		if len(e.tasks) == 0 {
			q.remove(level, key)
		}
	}
	q.advance()
}

// Pop removes and returns the tasks of the first chunk at the lowest level.
func (q *PriorityQueue) Pop() (Batch, bool) {
	q.advance()
	if !q.HasWork() {
		return Batch{}, false
	}
	level := q.top
	e := q.buckets[level].head
	q.remove(level, e.key)
	q.advance()
	return Batch{Key: e.key, Tasks: e.tasks}, true
}

// Contains checks if key has tasks queued at any level.
func (q *PriorityQueue) Contains(key int64) bool {
	for level := range q.buckets {
		if _, ok := q.buckets[level].entries[key]; ok {
			return true
		}
	}
	return false
}

// Len returns the amount of chunks with queued tasks.
func (q *PriorityQueue) Len() int {
	n := 0
	for _, b := range q.buckets {
		n += len(b.entries)
	}
	return n
}

func (q *PriorityQueue) add(level int, key int64, tasks []func()) {
	b := &q.buckets[level]
	if e, ok := b.entries[key]; ok {
		e.tasks = append(e.tasks, tasks...)
		return
	}
	e := &entry{key: key, tasks: tasks, prev: b.tail}
	if b.tail != nil {
		b.tail.next = e
	} else {
		b.head = e
	}
	b.tail = e
	b.entries[key] = e
	q.occupied[level/64] |= 1 << (level % 64)
}

func (q *PriorityQueue) remove(level int, key int64) []func() {
	b := &q.buckets[level]
	e, ok := b.entries[key]
	if !ok {
		return nil
	}
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		b.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		b.tail = e.prev
	}
	delete(b.entries, key)
	if b.head == nil {
		q.occupied[level/64] &^= 1 << (level % 64)
	}
	return e.tasks
}

// advance moves top to the lowest non-empty bucket at or after top.
func (q *PriorityQueue) advance() {
	for w := q.top / 64; w < len(q.occupied); w++ {
		word := q.occupied[w]
		if w == q.top/64 {
			word &^= 1<<(q.top%64) - 1
		}
		if word != 0 {
			q.top = w*64 + bits.TrailingZeros64(word)
			return
		}
	}
	q.top = len(q.buckets)
}

func (q *PriorityQueue) clamp(level int) int {
	return max(0, min(level, len(q.buckets)-1))
}
