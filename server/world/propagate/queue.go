package propagate

// levelQueue is a set of keys bucketed by level. Each key is in at most one
// bucket and buckets keep insertion order.
type levelQueue struct {
	heads, tails []*queued
	nodes        map[int64]*queued
	// first is the lowest level that may hold keys. It equals the amount of
	// levels if the queue is empty.
	first int
}

type queued struct {
	key        int64
	level      int
	prev, next *queued
}

func newLevelQueue(levels int) *levelQueue {
	return &levelQueue{
		heads: make([]*queued, levels),
		tails: make([]*queued, levels),
		nodes: make(map[int64]*queued),
		first: levels,
	}
}

func (q *levelQueue) levels() int {
	return len(q.heads)
}

func (q *levelQueue) empty() bool {
	return q.first >= q.levels()
}

func (q *levelQueue) enqueue(key int64, level int) {
	if n, ok := q.nodes[key]; ok {
		if n.level == level {
			return
		}
		q.unlink(n)
	}
	n := &queued{key: key, level: level, prev: q.tails[level]}
	if n.prev != nil {
		n.prev.next = n
	} else {
		q.heads[level] = n
	}
	q.tails[level] = n
	q.nodes[key] = n
	if level < q.first {
		q.first = level
	}
}

// dequeue removes key from the queue. If this empties the lowest bucket, the
// next non-empty bucket below limit becomes the lowest, or limit if there is
// none.
func (q *levelQueue) dequeue(key int64, level, limit int) {
	if n, ok := q.nodes[key]; ok {
		q.unlink(n)
	}
	if q.heads[level] == nil && q.first == level {
		q.advance(limit)
	}
}

func (q *levelQueue) removeFirst() int64 {
	n := q.heads[q.first]
	q.unlink(n)
	if q.heads[q.first] == nil {
		q.advance(q.levels())
	}
	return n.key
}

func (q *levelQueue) advance(limit int) {
	old := q.first
	q.first = limit
	for i := old + 1; i < limit; i++ {
		if q.heads[i] != nil {
			q.first = i
			return
		}
	}
}

func (q *levelQueue) unlink(n *queued) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		q.heads[n.level] = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		q.tails[n.level] = n.prev
	}
	n.prev, n.next = nil, nil
	delete(q.nodes, n.key)
}
