package queue

import (
	"sync"

	"github.com/tanq16/downpour/internal/task"
)

const (
	MinConcurrent = 1
	MaxConcurrent = 10
)

func clampConcurrent(n int) int {
	if n < MinConcurrent {
		return MinConcurrent
	}
	if n > MaxConcurrent {
		return MaxConcurrent
	}
	return n
}

// TaskQueue is a FIFO list of tasks with a ceiling on how many run at
// once. Queued tasks start as slots open. Task methods that fire
// callbacks are always invoked outside the queue lock.
type TaskQueue struct {
	mu            sync.Mutex
	tasks         []*task.Task
	activeCount   int
	maxConcurrent int
	autoStart     bool
}

func NewTaskQueue(maxConcurrent int) *TaskQueue {
	return &TaskQueue{
		maxConcurrent: clampConcurrent(maxConcurrent),
		autoStart:     true,
	}
}

// Add appends the task and starts it if a slot is free.
func (q *TaskQueue) Add(t *task.Task) {
	if t == nil {
		return
	}
	var toStart []*task.Task
	q.mu.Lock()
	q.tasks = append(q.tasks, t)
	toStart = q.nextStartableLocked()
	q.mu.Unlock()
	startAll(toStart)
}

// Remove erases the task from the queue and cancels it. The cancel
// happens outside the lock to avoid reentrancy deadlocks with the
// finished callback.
func (q *TaskQueue) Remove(taskID int) bool {
	var removed *task.Task
	var toStart []*task.Task

	q.mu.Lock()
	for i, t := range q.tasks {
		if t.ID() == taskID {
			removed = t
			if t.State() == task.Downloading {
				q.activeCount--
			}
			q.tasks = append(q.tasks[:i], q.tasks[i+1:]...)
			break
		}
	}
	if removed != nil {
		toStart = q.nextStartableLocked()
	}
	q.mu.Unlock()

	if removed == nil {
		return false
	}
	startAll(toStart)
	removed.Cancel()
	return true
}

// MoveUp swaps the task with its predecessor; fails at the top.
func (q *TaskQueue) MoveUp(taskID int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, t := range q.tasks {
		if t.ID() == taskID {
			if i == 0 {
				return false
			}
			q.tasks[i-1], q.tasks[i] = q.tasks[i], q.tasks[i-1]
			return true
		}
	}
	return false
}

// MoveDown swaps the task with its successor; fails at the bottom.
func (q *TaskQueue) MoveDown(taskID int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, t := range q.tasks {
		if t.ID() == taskID {
			if i == len(q.tasks)-1 {
				return false
			}
			q.tasks[i], q.tasks[i+1] = q.tasks[i+1], q.tasks[i]
			return true
		}
	}
	return false
}

// OnTaskFinished frees the task's slot. The id lookup guards against
// double-decrementing when Remove raced this callback.
func (q *TaskQueue) OnTaskFinished(taskID int) {
	var toStart []*task.Task

	q.mu.Lock()
	found := false
	for _, t := range q.tasks {
		if t.ID() == taskID {
			found = true
			break
		}
	}
	if found {
		if q.activeCount > 0 {
			q.activeCount--
		}
		toStart = q.nextStartableLocked()
	}
	q.mu.Unlock()

	startAll(toStart)
}

// SetMaxConcurrent clamps and applies the ceiling, starting queued
// tasks if capacity grew.
func (q *TaskQueue) SetMaxConcurrent(n int) {
	var toStart []*task.Task
	q.mu.Lock()
	q.maxConcurrent = clampConcurrent(n)
	toStart = q.nextStartableLocked()
	q.mu.Unlock()
	startAll(toStart)
}

func (q *TaskQueue) MaxConcurrent() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.maxConcurrent
}

func (q *TaskQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// SetAutoStart disables or enables automatic starting (used by tests).
func (q *TaskQueue) SetAutoStart(enabled bool) {
	q.mu.Lock()
	q.autoStart = enabled
	q.mu.Unlock()
}

// AllTaskInfo snapshots every task in queue order.
func (q *TaskQueue) AllTaskInfo() []task.Info {
	q.mu.Lock()
	tasks := make([]*task.Task, len(q.tasks))
	copy(tasks, q.tasks)
	q.mu.Unlock()

	infos := make([]task.Info, 0, len(tasks))
	for _, t := range tasks {
		infos = append(infos, t.Info())
	}
	return infos
}

// nextStartableLocked claims slots for queued tasks in order and
// returns them; the caller starts them after releasing the lock.
func (q *TaskQueue) nextStartableLocked() []*task.Task {
	if !q.autoStart {
		return nil
	}
	var out []*task.Task
	for _, t := range q.tasks {
		if q.activeCount >= q.maxConcurrent {
			break
		}
		if t.State() == task.Queued {
			out = append(out, t)
			q.activeCount++
		}
	}
	return out
}

func startAll(tasks []*task.Task) {
	for _, t := range tasks {
		t.Start()
	}
}
