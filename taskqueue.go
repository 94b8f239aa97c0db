package trafficsim

//
// Task priority queue
//

import (
	"container/heap"
	"sync"
)

// TaskQueue is a priority queue of [Task] ordered by start time. Tasks
// with the same start time are returned in insertion order. The zero
// value is invalid; use [NewTaskQueue] to instantiate.
//
// A TaskQueue is safe for concurrent use: a producer may keep pushing
// while a [Simulation] is consuming it.
type TaskQueue struct {
	// heap contains the queued tasks
	heap taskHeap

	// logger is the logger to use
	logger Logger

	// mu provides mutual exclusion
	mu sync.Mutex

	// notify is posted each time a new task is queued
	notify chan any

	// seq is the insertion counter used to break ties
	seq uint64
}

// NewTaskQueue creates a new empty [TaskQueue].
func NewTaskQueue(logger Logger) *TaskQueue {
	return &TaskQueue{
		heap:   taskHeap{},
		logger: logger,
		mu:     sync.Mutex{},
		notify: make(chan any, 1),
		seq:    0,
	}
}

// Push adds a task to the queue.
func (q *TaskQueue) Push(task Task) {
	q.mu.Lock()
	heap.Push(&q.heap, &queuedTask{task: task, seq: q.seq})
	q.seq++
	q.mu.Unlock()
	q.logger.Debugf("trafficsim: task '%s' scheduled at T=%.2fs", task.Name, task.StartTime)

	select {
	case q.notify <- true:
	default:
	}
}

// AddTask creates a new [Task] using [NewTask] and pushes it.
func (q *TaskQueue) AddTask(startTime float64, callback TaskFunc, name string, args []any, kwargs map[string]any) {
	q.Push(NewTask(startTime, callback, name, args, kwargs))
}

// Pop removes and returns the task with the lowest start time. The
// boolean is false when the queue is empty.
func (q *TaskQueue) Pop() (Task, bool) {
	defer q.mu.Unlock()
	q.mu.Lock()
	if len(q.heap) <= 0 {
		return Task{}, false
	}
	qt := heap.Pop(&q.heap).(*queuedTask)
	return qt.task, true
}

// popDue is like Pop but only returns a task that is due at time t.
func (q *TaskQueue) popDue(t float64) (Task, bool) {
	defer q.mu.Unlock()
	q.mu.Lock()
	if len(q.heap) <= 0 || q.heap[0].task.StartTime > t {
		return Task{}, false
	}
	qt := heap.Pop(&q.heap).(*queuedTask)
	return qt.task, true
}

// Peek returns the task with the lowest start time without removing
// it. The boolean is false when the queue is empty.
func (q *TaskQueue) Peek() (Task, bool) {
	defer q.mu.Unlock()
	q.mu.Lock()
	if len(q.heap) <= 0 {
		return Task{}, false
	}
	return q.heap[0].task, true
}

// Size returns the number of queued tasks.
func (q *TaskQueue) Size() int {
	defer q.mu.Unlock()
	q.mu.Lock()
	return len(q.heap)
}

// Available returns a channel that becomes readable after a Push. The
// notifications are coalesced, so the consumer should Peek after each
// read to find the earliest task.
func (q *TaskQueue) Available() <-chan any {
	return q.notify
}

// queuedTask is a task along with its insertion sequence number.
type queuedTask struct {
	task Task
	seq  uint64
}

// taskHeap implements heap.Interface.
type taskHeap []*queuedTask

var _ heap.Interface = &taskHeap{}

// Len implements heap.Interface
func (h taskHeap) Len() int {
	return len(h)
}

// Less implements heap.Interface
func (h taskHeap) Less(i, j int) bool {
	if h[i].task.StartTime != h[j].task.StartTime {
		return h[i].task.StartTime < h[j].task.StartTime
	}
	return h[i].seq < h[j].seq
}

// Swap implements heap.Interface
func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
}

// Push implements heap.Interface
func (h *taskHeap) Push(x any) {
	*h = append(*h, x.(*queuedTask))
}

// Pop implements heap.Interface
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	qt := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return qt
}
