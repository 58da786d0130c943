package delivery

import (
	"container/heap"
	"time"
)

// scheduledTask is a record waiting for its next attempt.
type scheduledTask struct {
	recordID string
	at       time.Time
}

// taskHeap is a min-heap of tasks ordered by due time.
type taskHeap []scheduledTask

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool { return h[i].at.Before(h[j].at) }

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x any) { *h = append(*h, x.(scheduledTask)) }

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	*h = old[:n-1]
	return t
}

// retryQueue holds each record at most once, keyed by next attempt time. Not safe for concurrent use.
type retryQueue struct {
	tasks  taskHeap
	queued map[string]struct{}
}

func newRetryQueue() *retryQueue {
	return &retryQueue{queued: make(map[string]struct{})}
}

// push schedules a record. Returns false if it is already queued.
func (q *retryQueue) push(recordID string, at time.Time) bool {
	if _, ok := q.queued[recordID]; ok {
		return false
	}
	heap.Push(&q.tasks, scheduledTask{recordID: recordID, at: at})
	q.queued[recordID] = struct{}{}
	return true
}

// popDue removes and returns the earliest task if it is due at now.
// Otherwise it returns how long until the earliest task is due; wait is negative when empty.
func (q *retryQueue) popDue(now time.Time) (task scheduledTask, ok bool, wait time.Duration) {
	if len(q.tasks) == 0 {
		return scheduledTask{}, false, -1
	}
	next := q.tasks[0]
	if next.at.After(now) {
		return scheduledTask{}, false, next.at.Sub(now)
	}
	heap.Pop(&q.tasks)
	delete(q.queued, next.recordID)
	return next, true, 0
}

func (q *retryQueue) len() int {
	return len(q.tasks)
}
