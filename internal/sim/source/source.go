package source

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	persistlog "voxelstream.ai/internal/persistence/log"
	"voxelstream.ai/internal/persistence/levelstore"
	"voxelstream.ai/internal/sim/chunk"
	"voxelstream.ai/internal/sim/cube"
	"voxelstream.ai/internal/sim/stream"
)

// Generator produces chunks for positions that were never saved. It is called from worker
// goroutines and must not depend on chunk map state.
type Generator interface {
	GenerateChunk(pos cube.ChunkPos) (*chunk.Chunk, error)
}

// Storage is the read side of level storage.
type Storage interface {
	TryLoad(ctx context.Context, pos cube.ChunkPos) (*chunk.Chunk, bool, error)
}

// Journal records decode failures that were masked by regeneration.
type Journal interface {
	RecordDecodeFailure(f persistlog.DecodeFailure) error
}

type Config struct {
	Level     string
	Storage   Storage
	Generator Generator
	Factory   *chunk.Factory
	Journal   Journal

	Bounds    cube.Bounds
	LowWater  int
	HighWater int
	MaxRadius int
	// Workers defaults to runtime.NumCPU().
	Workers int

	OnLoadFailed func(pos cube.ChunkPos, err error)
	OnEvict      func(pos cube.ChunkPos, c *chunk.Chunk)

	Log zerolog.Logger
}

// Source is what a level asks for chunks. HasChunk, Chunk, Tick and the anchor methods belong to
// the tick goroutine.
type Source struct {
	cfg  Config
	log  zerolog.Logger
	pool *Pool
	m    *stream.ChunkMap

	ctx    context.Context
	cancel context.CancelFunc

	stored      atomic.Uint64
	generated   atomic.Uint64
	regenerated atomic.Uint64
	failed      atomic.Uint64
}

func New(cfg Config) (*Source, error) {
	if cfg.Generator == nil {
		return nil, fmt.Errorf("source: generator is required")
	}
	if cfg.Factory == nil {
		return nil, fmt.Errorf("source: factory is required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Source{
		cfg:    cfg,
		log:    cfg.Log,
		pool:   NewPool(cfg.Workers),
		ctx:    ctx,
		cancel: cancel,
	}
	s.m = stream.NewChunkMap(stream.Config{
		Loader:    stream.LoaderFunc(s.request),
		Bounds:    cfg.Bounds,
		LowWater:  cfg.LowWater,
		HighWater: cfg.HighWater,
		MaxRadius: cfg.MaxRadius,
		OnLoadFailed: func(pos cube.ChunkPos, err error) {
			s.failed.Add(1)
			if cfg.OnLoadFailed != nil {
				cfg.OnLoadFailed(pos, err)
			}
		},
		OnEvict: cfg.OnEvict,
		Log:     cfg.Log,
	})
	return s, nil
}

// Map exposes the chunk map for queries.
func (s *Source) Map() *stream.ChunkMap { return s.m }

func (s *Source) AddAnchor(a *stream.Anchor)    { s.m.AddAnchor(a) }
func (s *Source) RemoveAnchor(a *stream.Anchor) { s.m.RemoveAnchor(a) }

// HasChunk reports whether pos is resident. It never does I/O.
func (s *Source) HasChunk(pos cube.ChunkPos) bool {
	st := s.m.State(pos)
	return st == stream.Loaded || st == stream.Active
}

// Chunk returns the chunk at pos, loading it if needed. A resident chunk is returned as is; a
// chunk still loading is waited for; otherwise it is loaded on the calling goroutine without
// becoming resident. Positions outside the level bounds yield a read-only empty chunk.
func (s *Source) Chunk(pos cube.ChunkPos) (*chunk.Chunk, error) {
	if c, ok := s.m.Chunk(pos); ok {
		return c, nil
	}
	if !s.cfg.Bounds.Contains(pos) {
		return s.cfg.Factory.Empty(pos, false), nil
	}
	if l, ok := s.m.Pending(pos); ok {
		return l.Wait()
	}
	return s.load(pos)
}

// Tick advances streaming by one step.
func (s *Source) Tick() { s.m.Update() }

// FlushLoading blocks until no load is in flight.
func (s *Source) FlushLoading() { s.m.FlushLoading() }

// Close cancels queued loads and stops the workers.
func (s *Source) Close() {
	s.cancel()
	s.pool.Close()
}

func (s *Source) request(pos cube.ChunkPos) *stream.Load {
	return s.pool.Submit(func() (*chunk.Chunk, error) {
		if err := s.ctx.Err(); err != nil {
			return nil, err
		}
		return s.load(pos)
	})
}

// load reads pos from storage, falling back to the generator when it was never saved or cannot
// be decoded.
func (s *Source) load(pos cube.ChunkPos) (*chunk.Chunk, error) {
	if s.cfg.Storage != nil {
		c, ok, err := s.cfg.Storage.TryLoad(s.ctx, pos)
		switch {
		case err == nil && ok:
			s.stored.Add(1)
			return c, nil
		case err != nil:
			var de *levelstore.DecodeError
			if !errors.As(err, &de) {
				return nil, fmt.Errorf("load %v: %w", pos, err)
			}
			return s.regenerate(pos, de)
		}
	}
	c, err := s.cfg.Generator.GenerateChunk(pos)
	if err != nil {
		return nil, fmt.Errorf("generate %v: %w", pos, err)
	}
	s.generated.Add(1)
	return c, nil
}

// regenerate replaces an undecodable chunk with generator output. This loses whatever was saved
// there, so it is logged at error level and journaled.
func (s *Source) regenerate(pos cube.ChunkPos, de *levelstore.DecodeError) (*chunk.Chunk, error) {
	s.log.Error().
		Err(de.Err).
		Str("level", s.cfg.Level).
		Str("pos", pos.String()).
		Int32("palette_version", de.PaletteVersion).
		Msg("stored chunk is undecodable; regenerating and discarding saved contents")
	if s.cfg.Journal != nil {
		jerr := s.cfg.Journal.RecordDecodeFailure(persistlog.DecodeFailure{
			Time:           time.Now().UTC().Format(time.RFC3339Nano),
			Level:          s.cfg.Level,
			Pos:            pos.Array(),
			PaletteVersion: de.PaletteVersion,
			Error:          de.Err.Error(),
			Action:         "regenerated",
		})
		if jerr != nil {
			s.log.Error().Err(jerr).Str("pos", pos.String()).Msg("corruption journal write failed")
		}
	}
	c, err := s.cfg.Generator.GenerateChunk(pos)
	if err != nil {
		return nil, fmt.Errorf("regenerate %v: %w", pos, err)
	}
	// The regenerated chunk must replace the bad record on the next save.
	c.MarkDirty()
	s.regenerated.Add(1)
	return c, nil
}

type Stats struct {
	Stored      uint64
	Generated   uint64
	Regenerated uint64
	Failed      uint64
	Queued      int
	Map         stream.Stats
}

func (s *Source) Stats() Stats {
	return Stats{
		Stored:      s.stored.Load(),
		Generated:   s.generated.Load(),
		Regenerated: s.regenerated.Load(),
		Failed:      s.failed.Load(),
		Queued:      s.pool.Queued(),
		Map:         s.m.Stats(),
	}
}
