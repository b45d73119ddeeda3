package stream

import (
	"sync"

	"voxelstream.ai/internal/sim/chunk"
	"voxelstream.ai/internal/sim/cube"
)

// Load is the pending result of a background generate/load task. It completes exactly once; the
// only thing that crosses from the worker to the tick goroutine is the completed value.
type Load struct {
	done  chan struct{}
	once  sync.Once
	chunk *chunk.Chunk
	err   error
}

func NewLoad() *Load {
	return &Load{done: make(chan struct{})}
}

// Completed returns an already finished Load.
func Completed(c *chunk.Chunk, err error) *Load {
	l := NewLoad()
	l.Complete(c, err)
	return l
}

// Complete publishes the result. Calls after the first are ignored.
func (l *Load) Complete(c *chunk.Chunk, err error) {
	l.once.Do(func() {
		l.chunk = c
		l.err = err
		close(l.done)
	})
}

// Done reports whether the result is available without blocking.
func (l *Load) Done() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

// C is closed once the result is available.
func (l *Load) C() <-chan struct{} { return l.done }

// Wait blocks until the load completes.
func (l *Load) Wait() (*chunk.Chunk, error) {
	<-l.done
	return l.chunk, l.err
}

// Loader starts background loads. Implementations must not touch ChunkMap state.
type Loader interface {
	Request(pos cube.ChunkPos) *Load
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(pos cube.ChunkPos) *Load

func (f LoaderFunc) Request(pos cube.ChunkPos) *Load { return f(pos) }
