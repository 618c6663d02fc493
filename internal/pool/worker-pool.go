package pool

import (
	"container/list"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const DefaultWorkers = 16

var ErrPoolClosed = errors.New("worker pool is shut down")

// Unit is the future-like handle for one submitted function.
type Unit struct {
	ID   string
	done chan struct{}
	err  error
}

// Wait blocks until the unit has run and returns its error.
func (u *Unit) Wait() error {
	<-u.done
	return u.err
}

// Done reports without blocking whether the unit has run.
func (u *Unit) Done() bool {
	select {
	case <-u.done:
		return true
	default:
		return false
	}
}

type queued struct {
	unit *Unit
	fn   func() error
}

// WorkerPool runs submitted functions on a fixed set of workers with
// FIFO intake. Shutdown drains the queue gracefully.
type WorkerPool struct {
	mu       sync.Mutex
	cond     *sync.Cond
	queue    *list.List
	shutdown bool
	wg       sync.WaitGroup
}

func NewWorkerPool(workers int) *WorkerPool {
	if workers < 1 {
		workers = DefaultWorkers
	}
	p := &WorkerPool{queue: list.New()}
	p.cond = sync.NewCond(&p.mu)
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker(i)
	}
	return p
}

func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		for p.queue.Len() == 0 && !p.shutdown {
			p.cond.Wait()
		}
		if p.queue.Len() == 0 && p.shutdown {
			p.mu.Unlock()
			return
		}
		front := p.queue.Front()
		p.queue.Remove(front)
		p.mu.Unlock()

		item := front.Value.(*queued)
		item.unit.err = p.run(id, item)
		close(item.unit.done)
	}
}

func (p *WorkerPool) run(workerID int, item *queued) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("op", "pool").Int("worker", workerID).Msgf("work unit %s panicked: %v", item.unit.ID, r)
			err = errors.New("work unit panicked")
		}
	}()
	return item.fn()
}

// Submit enqueues fn without blocking and returns its handle. Fails
// after Shutdown has been called.
func (p *WorkerPool) Submit(fn func() error) (*Unit, error) {
	unit := &Unit{ID: uuid.New().String(), done: make(chan struct{})}

	p.mu.Lock()
	if p.shutdown {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	p.queue.PushBack(&queued{unit: unit, fn: fn})
	p.cond.Signal()
	p.mu.Unlock()

	return unit, nil
}

// Shutdown stops intake, lets queued work finish, and joins the
// workers.
func (p *WorkerPool) Shutdown() {
	p.mu.Lock()
	if p.shutdown {
		p.mu.Unlock()
		return
	}
	p.shutdown = true
	p.cond.Broadcast()
	p.mu.Unlock()
	p.wg.Wait()
}

// Pending returns the number of queued, not-yet-started units.
func (p *WorkerPool) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queue.Len()
}
