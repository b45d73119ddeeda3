package level

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/rs/zerolog"

	"voxelstream.ai/internal/persistence/docstore"
	"voxelstream.ai/internal/persistence/levelstore"
	"voxelstream.ai/internal/protocol"
	"voxelstream.ai/internal/sim/catalogs"
	"voxelstream.ai/internal/sim/cube"
	"voxelstream.ai/internal/sim/source"
	"voxelstream.ai/internal/sim/stream"
)

var (
	ErrStopped     = errors.New("level: stopped")
	ErrNotResident = errors.New("level: chunk not resident")
)

type Config struct {
	ID     string
	TickHz int
	// SaveEveryTicks is the period of the dirty-chunk save; 0 disables it (evictions and shutdown
	// still save).
	SaveEveryTicks int

	// ChunksPerTick caps CHUNK_LOAD payloads sent to one viewer per tick.
	ChunksPerTick   int
	ChunksPerSecond float64
	ChunkBurst      int

	MaxRadius int
	MinChunkY int
	MaxChunkY int

	LowWater  int
	HighWater int
	Workers   int
}

type Deps struct {
	Store     docstore.Store
	Storage   *levelstore.Storage
	Generator source.Generator
	Table     *catalogs.Table
	Journal   source.Journal
	Log       zerolog.Logger
}

type JoinRequest struct {
	Name         string
	Pos          mgl64.Vec3
	Radius       int
	ActiveRadius int
	// Out receives encoded CHUNK_LOAD/CHUNK_UNLOAD messages. The level never blocks on it.
	Out  chan []byte
	Resp chan JoinResponse
}

type JoinResponse struct {
	SessionID string
	Welcome   protocol.WelcomeMsg
	Catalog   protocol.CatalogMsg
	// Anchor follows the viewer; transports move it directly.
	Anchor *stream.Anchor
	Err    error
}

// Level runs one level: a chunk source driven by viewer anchors, persistence of edited chunks and
// the chunk payload stream to viewers. All chunk state is owned by the goroutine in Run.
type Level struct {
	cfg     Config
	log     zerolog.Logger
	store   docstore.Store
	storage *levelstore.Storage
	table   *catalogs.Table
	src     *source.Source

	join     chan JoinRequest
	leave    chan string
	edits    chan editReq
	reads    chan readReq
	snapshot chan snapshotReq
	stop     chan struct{}
	stopped  atomic.Bool

	viewers map[string]*viewer
	order   []string
	tick    atomic.Uint64

	saved   atomic.Uint64
	sent    atomic.Uint64
	unloads atomic.Uint64
	metrics atomic.Value
}

func New(cfg Config, deps Deps) (*Level, error) {
	if deps.Storage == nil || deps.Store == nil || deps.Table == nil || deps.Generator == nil {
		return nil, fmt.Errorf("level: store, storage, table and generator are required")
	}
	if cfg.TickHz <= 0 {
		cfg.TickHz = 20
	}
	if cfg.ChunksPerTick <= 0 {
		cfg.ChunksPerTick = 32
	}
	if cfg.ChunksPerSecond <= 0 {
		cfg.ChunksPerSecond = float64(cfg.ChunksPerTick * cfg.TickHz)
	}
	if cfg.ChunkBurst <= 0 {
		cfg.ChunkBurst = cfg.ChunksPerTick
	}
	l := &Level{
		cfg:      cfg,
		log:      deps.Log.With().Str("level", cfg.ID).Logger(),
		store:    deps.Store,
		storage:  deps.Storage,
		table:    deps.Table,
		join:     make(chan JoinRequest, 64),
		leave:    make(chan string, 64),
		edits:    make(chan editReq, 256),
		reads:    make(chan readReq, 256),
		snapshot: make(chan snapshotReq, 4),
		stop:     make(chan struct{}),
		viewers:  map[string]*viewer{},
	}
	var bounds cube.Bounds
	if cfg.MaxChunkY >= cfg.MinChunkY && (cfg.MinChunkY != 0 || cfg.MaxChunkY != 0) {
		bounds = cube.VerticalBounds(cfg.MinChunkY, cfg.MaxChunkY)
	}
	src, err := source.New(source.Config{
		Level:     cfg.ID,
		Storage:   deps.Storage,
		Generator: deps.Generator,
		Factory:   deps.Storage.Factory(),
		Journal:   deps.Journal,
		Bounds:    bounds,
		LowWater:  cfg.LowWater,
		HighWater: cfg.HighWater,
		MaxRadius: cfg.MaxRadius,
		Workers:   cfg.Workers,
		OnEvict:   l.saveEvicted,
		OnLoadFailed: func(pos cube.ChunkPos, err error) {
			l.log.Error().Err(err).Str("pos", pos.String()).Msg("chunk load failed")
		},
		Log: l.log,
	})
	if err != nil {
		return nil, err
	}
	l.src = src
	l.metrics.Store(Metrics{})
	return l, nil
}

func (l *Level) ID() string { return l.cfg.ID }

func (l *Level) TickHz() int { return l.cfg.TickHz }

// Source exposes the chunk source. It must only be used from the Run goroutine or before Run
// starts.
func (l *Level) Source() *source.Source { return l.src }

// Join registers a viewer; the response arrives after the next tick applies it.
func (l *Level) Join(ctx context.Context, req JoinRequest) (JoinResponse, error) {
	if req.Out == nil {
		return JoinResponse{}, fmt.Errorf("level: join without out channel")
	}
	req.Resp = make(chan JoinResponse, 1)
	select {
	case l.join <- req:
	case <-l.stop:
		return JoinResponse{}, ErrStopped
	case <-ctx.Done():
		return JoinResponse{}, ctx.Err()
	}
	select {
	case r := <-req.Resp:
		return r, r.Err
	case <-l.stop:
		return JoinResponse{}, ErrStopped
	case <-ctx.Done():
		return JoinResponse{}, ctx.Err()
	}
}

// Leave removes a viewer on the next tick. Unknown ids are ignored.
func (l *Level) Leave(sessionID string) {
	select {
	case l.leave <- sessionID:
	case <-l.stop:
	}
}

func (l *Level) Stop() {
	if l.stopped.CompareAndSwap(false, true) {
		close(l.stop)
	}
}

func (l *Level) welcome(sessionID string, st stream.AnchorState) (protocol.WelcomeMsg, protocol.CatalogMsg) {
	pal := l.storage.Palette()
	w := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       sessionID,
		LevelGUID:       l.storage.GUID().String(),
		Level:           l.cfg.ID,
		LevelParams: protocol.LevelParams{
			TickRateHz: l.cfg.TickHz,
			ChunkSize:  [3]int{cube.ChunkEdge, cube.ChunkEdge, cube.ChunkEdge},
			MinChunkY:  l.cfg.MinChunkY,
			MaxChunkY:  l.cfg.MaxChunkY,
			MaxRadius:  l.cfg.MaxRadius,
		},
		Palette:      protocol.DigestRef{Digest: l.table.Digest, Count: pal.Len()},
		Radius:       st.Radius,
		ActiveRadius: st.ActiveRadius,
	}
	c := protocol.CatalogMsg{
		Type:            protocol.TypeCatalog,
		ProtocolVersion: protocol.Version,
		Name:            "cell_palette",
		Digest:          l.table.Digest,
		Part:            1,
		TotalParts:      1,
		Data:            l.table.Keys(),
	}
	return w, c
}
