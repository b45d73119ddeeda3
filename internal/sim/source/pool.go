package source

import (
	"errors"
	"fmt"
	"sync"

	"voxelstream.ai/internal/sim/chunk"
	"voxelstream.ai/internal/sim/stream"
)

var ErrPoolClosed = errors.New("source: worker pool closed")

type task struct {
	load *stream.Load
	fn   func() (*chunk.Chunk, error)
}

// Pool runs load tasks on a fixed set of goroutines. The queue is unbounded; the chunk map's water
// marks keep it short.
type Pool struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []task
	closed bool
	wg     sync.WaitGroup
}

func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	p := &Pool{}
	p.cond = sync.NewCond(&p.mu)
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.worker()
		}()
	}
	return p
}

// Submit queues fn and returns its pending result.
func (p *Pool) Submit(fn func() (*chunk.Chunk, error)) *stream.Load {
	l := stream.NewLoad()
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		l.Complete(nil, ErrPoolClosed)
		return l
	}
	p.queue = append(p.queue, task{load: l, fn: fn})
	p.mu.Unlock()
	p.cond.Signal()
	return l
}

// Queued returns the number of tasks not yet picked up by a worker.
func (p *Pool) Queued() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Close stops the workers. Tasks still queued complete with ErrPoolClosed.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	rest := p.queue
	p.queue = nil
	p.mu.Unlock()
	p.cond.Broadcast()
	for _, t := range rest {
		t.load.Complete(nil, ErrPoolClosed)
	}
	p.wg.Wait()
}

func (p *Pool) worker() {
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.closed {
			p.cond.Wait()
		}
		if len(p.queue) == 0 {
			p.mu.Unlock()
			return
		}
		t := p.queue[0]
		p.queue[0] = task{}
		p.queue = p.queue[1:]
		p.mu.Unlock()

		run(t)
	}
}

func run(t task) {
	defer func() {
		if r := recover(); r != nil {
			t.load.Complete(nil, fmt.Errorf("load task panicked: %v", r))
		}
	}()
	c, err := t.fn()
	t.load.Complete(c, err)
}
