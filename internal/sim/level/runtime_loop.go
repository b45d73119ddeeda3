package level

import (
	"context"
	"time"
)

// Run drives the level at TickHz until ctx is done or Stop is called. Requests from other
// goroutines are collected between ticks and applied at the start of the next one. On return every
// dirty chunk has been written and the load workers are stopped.
func (l *Level) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(l.cfg.TickHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer l.shutdown()

	var pendingJoins []JoinRequest
	var pendingLeaves []string
	var pendingEdits []editReq
	var pendingReads []readReq
	var pendingSnapshots []snapshotReq

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.stop:
			return nil
		case req := <-l.join:
			pendingJoins = append(pendingJoins, req)
		case id := <-l.leave:
			pendingLeaves = append(pendingLeaves, id)
		case req := <-l.edits:
			pendingEdits = append(pendingEdits, req)
		case req := <-l.reads:
			pendingReads = append(pendingReads, req)
		case req := <-l.snapshot:
			pendingSnapshots = append(pendingSnapshots, req)
		case <-ticker.C:
			l.step(pendingJoins, pendingLeaves, pendingEdits, pendingReads)
			l.handleSnapshotRequests(pendingSnapshots)
			pendingJoins = pendingJoins[:0]
			pendingLeaves = pendingLeaves[:0]
			pendingEdits = pendingEdits[:0]
			pendingReads = pendingReads[:0]
			pendingSnapshots = pendingSnapshots[:0]
		}
	}
}

// StepOnce advances the level by one tick with the same ordering as Run. It must not be used while
// Run is active.
func (l *Level) StepOnce() uint64 {
	tick := l.tick.Load()
	l.step(nil, nil, nil, nil)
	return tick
}

func (l *Level) step(joins []JoinRequest, leaves []string, edits []editReq, reads []readReq) {
	start := time.Now()
	tick := l.tick.Load()

	for _, id := range leaves {
		l.handleLeave(id)
	}
	for _, req := range joins {
		l.handleJoin(req)
	}

	l.src.Tick()

	for _, req := range edits {
		req.resp <- l.applyEdit(req)
	}
	for _, req := range reads {
		req.resp <- l.applyRead(req)
	}

	l.streamChunks()

	if every := l.cfg.SaveEveryTicks; every > 0 && tick > 0 && tick%uint64(every) == 0 {
		if n := l.saveDirty(); n > 0 {
			l.log.Debug().Uint64("tick", tick).Int("chunks", n).Msg("saved dirty chunks")
		}
	}

	l.tick.Add(1)
	l.publishMetrics(float64(time.Since(start).Microseconds()) / 1000)
}

func (l *Level) shutdown() {
	l.src.FlushLoading()
	n := l.saveDirty()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := l.storage.Flush(ctx); err != nil {
		l.log.Error().Err(err).Msg("flush on shutdown")
	}
	l.src.Close()
	l.log.Info().Int("saved", n).Uint64("tick", l.tick.Load()).Msg("level stopped")
}
