package level

import (
	"voxelstream.ai/internal/persistence/levelstore"
	"voxelstream.ai/internal/sim/source"
)

// Metrics is a read-only view of the level runtime, updated by the loop goroutine and read from
// HTTP handlers/tests.
type Metrics struct {
	Tick    uint64 `json:"tick"`
	Viewers int    `json:"viewers"`

	Resident int `json:"resident"`
	Active   int `json:"active"`
	Loading  int `json:"loading"`

	ChunksSent   uint64 `json:"chunks_sent"`
	ChunksUnload uint64 `json:"chunks_unloaded"`
	ChunksSaved  uint64 `json:"chunks_saved"`

	QueueDepths QueueDepths `json:"queue_depths"`

	StepMS float64 `json:"step_ms"`

	Source source.Stats     `json:"source"`
	Store  levelstore.Stats `json:"store"`
}

type QueueDepths struct {
	Join  int `json:"join"`
	Leave int `json:"leave"`
	Edits int `json:"edits"`
}

func (l *Level) Metrics() Metrics {
	if l == nil {
		return Metrics{}
	}
	m, _ := l.metrics.Load().(Metrics)
	return m
}

func (l *Level) publishMetrics(stepMS float64) {
	st := l.src.Stats()
	l.metrics.Store(Metrics{
		Tick:         l.tick.Load(),
		Viewers:      len(l.viewers),
		Resident:     st.Map.Loaded + st.Map.Active,
		Active:       st.Map.Active,
		Loading:      st.Map.Loading,
		ChunksSent:   l.sent.Load(),
		ChunksUnload: l.unloads.Load(),
		ChunksSaved:  l.saved.Load(),
		QueueDepths: QueueDepths{
			Join:  len(l.join),
			Leave: len(l.leave),
			Edits: len(l.edits),
		},
		StepMS: stepMS,
		Source: st,
		Store:  l.storage.Stats(),
	})
}
