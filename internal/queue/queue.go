// Package queue provides the in-process task queue: three priority lanes,
// a worker pool with per-pool rate limiting, a chord barrier for beat
// fan-outs and a periodic scheduler for maintenance jobs.
package queue

import (
	"container/heap"
	"errors"
	"sync"
)

// ErrNilTask is returned when attempting to push a nil task.
var ErrNilTask = errors.New("cannot push nil task")

// Lane priorities. Higher values are dequeued first.
const (
	PriorityMaintenanceLow   = 0  // reconciliation, RAG rebuilds, cleanup
	PriorityGenerationMedium = 10 // plan and chapter tasks
	PriorityBeatsHigh        = 20 // beat expansion inside an active pipeline
)

// Lane names used when submitting tasks.
const (
	LaneBeatsHigh        = "beats_high"
	LaneGenerationMedium = "generation_medium"
	LaneMaintenanceLow   = "maintenance_low"
)

// PriorityForLane maps a lane name to its priority. Unknown lanes run at
// medium priority.
func PriorityForLane(lane string) int {
	switch lane {
	case LaneBeatsHigh:
		return PriorityBeatsHigh
	case LaneMaintenanceLow:
		return PriorityMaintenanceLow
	default:
		return PriorityGenerationMedium
	}
}

// PriorityQueue is a thread-safe priority queue for tasks. Higher
// priority tasks are dequeued first; equal priorities dequeue FIFO.
type PriorityQueue struct {
	mu     sync.Mutex
	items  taskHeap
	seq    uint64
	notify chan struct{}
}

// NewPriorityQueue creates an empty queue.
func NewPriorityQueue() *PriorityQueue {
	pq := &PriorityQueue{
		items:  make(taskHeap, 0),
		notify: make(chan struct{}, 1),
	}
	heap.Init(&pq.items)
	return pq
}

// Push adds a task to the queue.
func (pq *PriorityQueue) Push(task *Task) error {
	if task == nil {
		return ErrNilTask
	}

	pq.mu.Lock()
	pq.seq++
	heap.Push(&pq.items, &taskItem{task: task, seq: pq.seq})
	pq.mu.Unlock()

	select {
	case pq.notify <- struct{}{}:
	default:
	}
	return nil
}

// Pop removes and returns the highest priority task. Blocks until a task
// is available or done is closed; returns nil on shutdown.
func (pq *PriorityQueue) Pop(done <-chan struct{}) *Task {
	for {
		pq.mu.Lock()
		if pq.items.Len() > 0 {
			item := heap.Pop(&pq.items).(*taskItem)
			pq.mu.Unlock()
			return item.task
		}
		pq.mu.Unlock()

		select {
		case <-done:
			return nil
		case <-pq.notify:
		}
	}
}

// Len returns the number of queued tasks.
func (pq *PriorityQueue) Len() int {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	return pq.items.Len()
}

// Stats reports queue depth by lane.
func (pq *PriorityQueue) Stats() Stats {
	pq.mu.Lock()
	defer pq.mu.Unlock()

	stats := Stats{Total: pq.items.Len()}
	for _, item := range pq.items {
		switch {
		case item.task.Priority >= PriorityBeatsHigh:
			stats.BeatsHigh++
		case item.task.Priority >= PriorityGenerationMedium:
			stats.GenerationMedium++
		default:
			stats.MaintenanceLow++
		}
	}
	return stats
}

// Stats reports queue depth by lane.
type Stats struct {
	Total            int `json:"total"`
	BeatsHigh        int `json:"beats_high"`
	GenerationMedium int `json:"generation_medium"`
	MaintenanceLow   int `json:"maintenance_low"`
}

type taskItem struct {
	task *Task
	seq  uint64
}

// taskHeap is a max-heap by priority; equal priorities order by seq.
type taskHeap []*taskItem

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].task.Priority != h[j].task.Priority {
		return h[i].task.Priority > h[j].task.Priority
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
}

func (h *taskHeap) Push(x any) {
	*h = append(*h, x.(*taskItem))
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[0 : n-1]
	return item
}
