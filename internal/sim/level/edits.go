package level

import (
	"context"
	"fmt"

	"voxelstream.ai/internal/sim/chunk"
	"voxelstream.ai/internal/sim/cube"
)

type editReq struct {
	x, y, z int
	id      chunk.CellID
	resp    chan error
}

type readReq struct {
	x, y, z int
	resp    chan readResp
}

type readResp struct {
	id  chunk.CellID
	err error
}

// SetCell writes one cell of a resident chunk on the next tick. Viewers that have the chunk are
// sent it again.
func (l *Level) SetCell(ctx context.Context, x, y, z int, id chunk.CellID) error {
	req := editReq{x: x, y: y, z: z, id: id, resp: make(chan error, 1)}
	select {
	case l.edits <- req:
	case <-l.stop:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.resp:
		return err
	case <-l.stop:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cell reads one cell of a resident chunk.
func (l *Level) Cell(ctx context.Context, x, y, z int) (chunk.CellID, error) {
	req := readReq{x: x, y: y, z: z, resp: make(chan readResp, 1)}
	select {
	case l.reads <- req:
	case <-l.stop:
		return 0, ErrStopped
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	select {
	case r := <-req.resp:
		return r.id, r.err
	case <-l.stop:
		return 0, ErrStopped
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (l *Level) applyEdit(req editReq) error {
	pos, x, y, z := cube.LocalCell(req.x, req.y, req.z)
	c, ok := l.src.Map().Chunk(pos)
	if !ok {
		return fmt.Errorf("%w: %v", ErrNotResident, pos)
	}
	prev := c.Get(x, y, z)
	if err := c.Set(x, y, z, req.id); err != nil {
		return err
	}
	if prev != req.id {
		l.invalidate(pos)
	}
	return nil
}

func (l *Level) applyRead(req readReq) readResp {
	pos, x, y, z := cube.LocalCell(req.x, req.y, req.z)
	c, ok := l.src.Map().Chunk(pos)
	if !ok {
		return readResp{err: fmt.Errorf("%w: %v", ErrNotResident, pos)}
	}
	return readResp{id: c.Get(x, y, z)}
}
