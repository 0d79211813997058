package scheduler

import (
	"testing"
	"time"
)

func TestQueueEarliestWins(t *testing.T) {
	t.Parallel()
	q := NewTaskQueue()
	base := time.Now()

	q.Upsert(1, base.Add(100*time.Millisecond))

	// A later due time must not displace the existing earlier one.
	if changed := q.Upsert(1, base.Add(500*time.Millisecond)); changed {
		t.Fatal("later upsert replaced an earlier task")
	}
	due, ok := q.PeekDue()
	if !ok || !due.Equal(base.Add(100*time.Millisecond)) {
		t.Fatalf("PeekDue = %v, want %v", due, base.Add(100*time.Millisecond))
	}

	// An earlier due time advances the task.
	if changed := q.Upsert(1, base.Add(10*time.Millisecond)); !changed {
		t.Fatal("earlier upsert did not replace the task")
	}
	due, _ = q.PeekDue()
	if !due.Equal(base.Add(10 * time.Millisecond)) {
		t.Fatalf("PeekDue = %v after advance", due)
	}

	if q.Len() != 1 {
		t.Fatalf("Len = %d, want 1 (no duplicate tasks per block)", q.Len())
	}
}

func TestQueuePopOrder(t *testing.T) {
	t.Parallel()
	q := NewTaskQueue()
	base := time.Now()

	// Same due time: lower block id pops first.
	q.Upsert(3, base)
	q.Upsert(1, base)
	q.Upsert(2, base.Add(time.Millisecond))

	now := base.Add(time.Second)
	var got []int
	for {
		id, ok := q.PopDue(now)
		if !ok {
			break
		}
		got = append(got, id)
	}
	want := []int{1, 3, 2}
	if len(got) != len(want) {
		t.Fatalf("popped %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("popped %v, want %v", got, want)
		}
	}
}

func TestQueuePopDueRespectsNow(t *testing.T) {
	t.Parallel()
	q := NewTaskQueue()
	base := time.Now()
	q.Upsert(1, base.Add(time.Hour))

	if id, ok := q.PopDue(base); ok {
		t.Fatalf("PopDue returned %d for a future task", id)
	}
	if q.Len() != 1 {
		t.Fatal("future task was removed")
	}
}

func TestQueueEmpty(t *testing.T) {
	t.Parallel()
	q := NewTaskQueue()
	if _, ok := q.PeekDue(); ok {
		t.Fatal("PeekDue on empty queue")
	}
	if _, ok := q.PopDue(time.Now()); ok {
		t.Fatal("PopDue on empty queue")
	}
	q.Remove(7) // no-op
}
