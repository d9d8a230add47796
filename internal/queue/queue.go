package queue

import (
	"sync"

	"tipRelay/internal/model"
)

// Queue is the shared FIFO of validated candidates awaiting settlement.
type Queue struct {
	mu    sync.Mutex
	items []model.TipCandidate
}

// New returns an empty queue.
func New() *Queue {
	return &Queue{}
}

// Enqueue appends a candidate and returns the new length.
func (q *Queue) Enqueue(candidate model.TipCandidate) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, candidate)
	return len(q.items)
}

// Len returns the current queue length.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// TakeWindow removes and returns up to max candidates from the front.
// Candidates enqueued after the take are unaffected and stay for the next
// window.
func (q *Queue) TakeWindow(max int) []model.TipCandidate {
	q.mu.Lock()
	defer q.mu.Unlock()
	if max <= 0 || len(q.items) == 0 {
		return nil
	}
	n := max
	if n > len(q.items) {
		n = len(q.items)
	}
	window := make([]model.TipCandidate, n)
	copy(window, q.items[:n])
	q.items = append(q.items[:0:0], q.items[n:]...)
	return window
}
