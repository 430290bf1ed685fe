package jobs

import (
	"container/heap"
	"sync"

	"github.com/casgen-dev/casgen/internal/types"
)

// queueItem is one scheduled job waiting for a worker.
type queueItem struct {
	jobID string
	rank  int   // priority class weight, higher drains first
	seq   int64 // submission order, lower drains first within a class
}

type queueHeap []queueItem

func (h queueHeap) Len() int { return len(h) }

func (h queueHeap) Less(i, j int) bool {
	if h[i].rank != h[j].rank {
		return h[i].rank > h[j].rank
	}
	return h[i].seq < h[j].seq
}

func (h queueHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *queueHeap) Push(x any) { *h = append(*h, x.(queueItem)) }

func (h *queueHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// priorityQueue orders pending jobs high > normal > low, FIFO within a
// class. Pop blocks until an item is available or the queue is closed.
type priorityQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  queueHeap
	seq    int64
	closed bool
}

func newPriorityQueue() *priorityQueue {
	q := &priorityQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push enqueues a job id. Pushing onto a closed queue is a no-op.
func (q *priorityQueue) Push(jobID string, priority types.Priority) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	heap.Push(&q.items, queueItem{
		jobID: jobID,
		rank:  priority.Rank(),
		seq:   q.seq,
	})
	q.seq++
	q.cond.Signal()
}

// Pop blocks until a job is available and returns its id. The second
// return is false once the queue has been closed.
func (q *priorityQueue) Pop() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.closed {
		return "", false
	}
	item := heap.Pop(&q.items).(queueItem)
	return item.jobID, true
}

// Len returns the number of queued jobs.
func (q *priorityQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close wakes all blocked Pop calls and abandons queued items. The
// rows behind them stay pending and re-enter the queue on the next
// boot recovery.
func (q *priorityQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.cond.Broadcast()
}
