package scheduler

import (
	"container/heap"
	"time"
)

// TaskQueue holds at most one pending due time per block, ordered by due
// time with ties broken by lower block id (keeps output deterministic when
// several blocks are due at once).
//
// Upsert follows the monotonic-earliest policy: a new due time only replaces
// an existing task when it is earlier, so a late explicit request can never
// undo an already-sooner periodic schedule.
//
// Not safe for concurrent use; the scheduler coordinator is the only owner.
type TaskQueue struct {
	h taskHeap
}

type queueItem struct {
	id  int
	due time.Time
	pos int // heap index, maintained by Swap
}

func NewTaskQueue() *TaskQueue {
	return &TaskQueue{h: taskHeap{index: map[int]*queueItem{}}}
}

func (q *TaskQueue) Len() int { return len(q.h.items) }

// Upsert schedules the block's next due time. Returns true if the queue
// changed (new task, or an existing one moved earlier).
func (q *TaskQueue) Upsert(id int, due time.Time) bool {
	if it, ok := q.h.index[id]; ok {
		if !due.Before(it.due) {
			return false
		}
		it.due = due
		heap.Fix(&q.h, it.pos)
		return true
	}
	heap.Push(&q.h, &queueItem{id: id, due: due})
	return true
}

// PeekDue returns the earliest pending due time.
func (q *TaskQueue) PeekDue() (time.Time, bool) {
	if len(q.h.items) == 0 {
		return time.Time{}, false
	}
	return q.h.items[0].due, true
}

// PopDue removes and returns the id of the next task due at or before now.
func (q *TaskQueue) PopDue(now time.Time) (int, bool) {
	if len(q.h.items) == 0 || q.h.items[0].due.After(now) {
		return 0, false
	}
	it := heap.Pop(&q.h).(*queueItem)
	return it.id, true
}

// Remove drops the block's pending task, if any.
func (q *TaskQueue) Remove(id int) {
	if it, ok := q.h.index[id]; ok {
		heap.Remove(&q.h, it.pos)
	}
}

type taskHeap struct {
	items []*queueItem
	index map[int]*queueItem
}

func (h *taskHeap) Len() int { return len(h.items) }

func (h *taskHeap) Less(i, j int) bool {
	a, b := h.items[i], h.items[j]
	if !a.due.Equal(b.due) {
		return a.due.Before(b.due)
	}
	return a.id < b.id
}

func (h *taskHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.items[i].pos = i
	h.items[j].pos = j
}

func (h *taskHeap) Push(x any) {
	it := x.(*queueItem)
	it.pos = len(h.items)
	h.items = append(h.items, it)
	h.index[it.id] = it
}

func (h *taskHeap) Pop() any {
	n := len(h.items)
	it := h.items[n-1]
	h.items[n-1] = nil
	h.items = h.items[:n-1]
	delete(h.index, it.id)
	return it
}
