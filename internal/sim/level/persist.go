package level

import (
	"context"
	"errors"
	"time"

	"voxelstream.ai/internal/persistence/snapshot"
	"voxelstream.ai/internal/sim/chunk"
	"voxelstream.ai/internal/sim/cube"
)

type snapshotReq struct {
	resp chan snapshotResp
}

type snapshotResp struct {
	snap snapshot.Snapshot
	err  error
}

// RequestSnapshot asks the level loop for a consistent copy of the level store. Loads are flushed
// and dirty chunks saved first. It is safe to call from other goroutines (e.g. HTTP handlers).
func (l *Level) RequestSnapshot(ctx context.Context) (snapshot.Snapshot, error) {
	if l == nil || l.snapshot == nil {
		return snapshot.Snapshot{}, errors.New("snapshot not available")
	}
	req := snapshotReq{resp: make(chan snapshotResp, 1)}
	select {
	case l.snapshot <- req:
	case <-l.stop:
		return snapshot.Snapshot{}, ErrStopped
	case <-ctx.Done():
		return snapshot.Snapshot{}, ctx.Err()
	}
	select {
	case r := <-req.resp:
		return r.snap, r.err
	case <-l.stop:
		return snapshot.Snapshot{}, ErrStopped
	case <-ctx.Done():
		return snapshot.Snapshot{}, ctx.Err()
	}
}

func (l *Level) handleSnapshotRequests(reqs []snapshotReq) {
	if len(reqs) == 0 {
		return
	}
	ctx := context.Background()
	l.src.FlushLoading()
	snap, err := l.exportSnapshot(ctx)
	if err != nil {
		l.log.Error().Err(err).Msg("snapshot failed")
	} else {
		l.log.Info().Uint64("tick", snap.Header.Tick).Int("docs", snap.Docs()).Msg("snapshot exported")
	}
	for _, r := range reqs {
		select {
		case r.resp <- snapshotResp{snap: snap, err: err}:
		default:
			// Requester gave up; don't block the loop.
		}
	}
}

func (l *Level) exportSnapshot(ctx context.Context) (snapshot.Snapshot, error) {
	l.saveDirty()
	if err := l.storage.Flush(ctx); err != nil {
		return snapshot.Snapshot{}, err
	}
	return snapshot.Export(ctx, l.store, snapshot.Header{
		LevelGUID: l.storage.GUID().String(),
		Level:     l.cfg.ID,
		Tick:      l.tick.Load(),
		Created:   time.Now().UTC().Unix(),
	})
}

// saveDirty queues every dirty resident chunk. Records are encoded before this returns, so the
// chunks may be edited again right away.
func (l *Level) saveDirty() int {
	n := 0
	l.src.Map().ForEachResident(func(p cube.ChunkPos, c *chunk.Chunk, _ bool) {
		if c.Dirty() && l.save(c) {
			n++
		}
	})
	return n
}

func (l *Level) saveEvicted(_ cube.ChunkPos, c *chunk.Chunk) {
	if c.Dirty() {
		l.save(c)
	}
}

func (l *Level) save(c *chunk.Chunk) bool {
	if err := l.storage.Enqueue(context.Background(), c); err != nil {
		l.log.Error().Err(err).Str("pos", c.Pos().String()).Msg("queue chunk save")
		return false
	}
	c.MarkClean()
	l.saved.Add(1)
	return true
}
