package scheduler

import (
	"container/heap"
	"time"

	"github.com/kode4food/wireflow/pkg/api"
)

type (
	// Owner is one node instance. A redeployed node gets a new generation,
	// so the timers of the instance it replaced never reach it
	Owner struct {
		Node api.NodeID
		Gen  string
	}

	// Key names one timer of an owner
	Key struct {
		Owner Owner
		Name  string
	}

	// Entry is one pending timer. A positive Interval makes it repeat
	Entry struct {
		At       time.Time
		Func     TaskFunc
		Key      Key
		Interval time.Duration
		slot     int
	}

	// Queue orders pending timers by due time. A key holds at most one
	// entry, and the entries of an owner can be dropped together
	Queue struct {
		owners  map[Owner]map[string]*Entry
		pending pending
	}

	pending []*Entry
)

// TimerKey names the timer called name of a node instance
func TimerKey(id api.NodeID, gen, name string) Key {
	return Key{Owner: Owner{Node: id, Gen: gen}, Name: name}
}

func (k Key) String() string {
	return string(k.Owner.Node) + "@" + k.Owner.Gen + ":" + k.Name
}

// NewQueue creates an empty timer queue
func NewQueue() *Queue {
	return &Queue{owners: map[Owner]map[string]*Entry{}}
}

// Add queues e. When the key already has an entry, that entry takes over
// e's due time, function, and interval
func (q *Queue) Add(e *Entry) {
	if e == nil || e.Func == nil || e.At.IsZero() {
		return
	}
	if cur := q.lookup(e.Key); cur != nil {
		cur.At, cur.Func, cur.Interval = e.At, e.Func, e.Interval
		heap.Fix(&q.pending, cur.slot)
		return
	}
	heap.Push(&q.pending, e)
	names, ok := q.owners[e.Key.Owner]
	if !ok {
		names = map[string]*Entry{}
		q.owners[e.Key.Owner] = names
	}
	names[e.Key.Name] = e
}

// Next returns the earliest entry without removing it
func (q *Queue) Next() *Entry {
	if len(q.pending) == 0 {
		return nil
	}
	return q.pending[0]
}

// Pop removes and returns the earliest entry
func (q *Queue) Pop() *Entry {
	if len(q.pending) == 0 {
		return nil
	}
	e := heap.Pop(&q.pending).(*Entry)
	q.forget(e)
	return e
}

// Remove drops the entry of key and reports whether there was one
func (q *Queue) Remove(k Key) bool {
	e := q.lookup(k)
	if e == nil {
		return false
	}
	heap.Remove(&q.pending, e.slot)
	q.forget(e)
	return true
}

// RemoveOwner drops every entry of o and returns how many there were
func (q *Queue) RemoveOwner(o Owner) int {
	names := q.owners[o]
	for _, e := range names {
		heap.Remove(&q.pending, e.slot)
	}
	delete(q.owners, o)
	return len(names)
}

// Len returns the number of pending entries
func (q *Queue) Len() int {
	return len(q.pending)
}

func (q *Queue) lookup(k Key) *Entry {
	return q.owners[k.Owner][k.Name]
}

func (q *Queue) forget(e *Entry) {
	names := q.owners[e.Key.Owner]
	delete(names, e.Key.Name)
	if len(names) == 0 {
		delete(q.owners, e.Key.Owner)
	}
}

func (p pending) Len() int {
	return len(p)
}

func (p pending) Less(i, j int) bool {
	return p[i].At.Before(p[j].At)
}

func (p pending) Swap(i, j int) {
	p[i], p[j] = p[j], p[i]
	p[i].slot = i
	p[j].slot = j
}

func (p *pending) Push(x any) {
	e := x.(*Entry)
	e.slot = len(*p)
	*p = append(*p, e)
}

func (p *pending) Pop() any {
	old := *p
	n := len(old) - 1
	e := old[n]
	old[n] = nil
	*p = old[:n]
	e.slot = -1
	return e
}
