package levelstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/oriumgames/nbt"
	"github.com/rs/zerolog"

	"voxelstream.ai/internal/persistence/codec"
	"voxelstream.ai/internal/persistence/docstore"
	"voxelstream.ai/internal/persistence/palette"
	"voxelstream.ai/internal/sim/catalogs"
	"voxelstream.ai/internal/sim/chunk"
	"voxelstream.ai/internal/sim/cube"
)

const (
	ChunkCollection = "chunks"
	MetaCollection  = "meta"
	// PaletteName is the palette chunk records are written against.
	PaletteName = "cells"

	metaID = 1
)

var (
	ErrClosed     = errors.New("levelstore: closed")
	ErrOutOfRange = errors.New("levelstore: position outside storable range")
)

// DecodeError reports a stored chunk that exists but could not be decoded.
type DecodeError struct {
	Pos            cube.ChunkPos
	PaletteVersion int32
	Err            error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode chunk %v (palette version %d): %v", e.Pos, e.PaletteVersion, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Meta is the level's identity record.
type Meta struct {
	GUID    string `nbt:"guid"`
	Name    string `nbt:"name"`
	Created int64  `nbt:"created"`
}

type Options struct {
	Store    docstore.Store
	Palettes *palette.Manager
	Table    *catalogs.Table
	// Name is recorded in the level meta when the level is created.
	Name string
	// QueueSize bounds queued writes; Enqueue blocks when it is full.
	QueueSize int
	Log       zerolog.Logger
}

// Storage persists the chunks of one level. Reads and writes may come from any goroutine.
// Writes go through a single writer goroutine; reads consult queued writes first.
type Storage struct {
	chunks  docstore.Collection
	codec   *codec.Codec
	factory *chunk.Factory
	palette *palette.Collection
	meta    Meta
	guid    uuid.UUID
	log     zerolog.Logger

	mu      sync.Mutex
	pending map[cube.ChunkPos]queued
	seq     uint64

	ch     chan req
	wg     sync.WaitGroup
	once   sync.Once
	closed atomic.Bool

	written atomic.Uint64
	failed  atomic.Uint64
}

type queued struct {
	seq uint64
	doc []byte
}

type req struct {
	pos  cube.ChunkPos
	key  int64
	seq  uint64
	doc  []byte
	done chan error
	// flush requests carry only done.
	flush bool
}

// Open loads or creates the level meta, reconciles the cell palette and starts the writer.
func Open(ctx context.Context, opts Options) (*Storage, error) {
	if opts.Store == nil || opts.Palettes == nil || opts.Table == nil {
		return nil, fmt.Errorf("levelstore: store, palettes and table are required")
	}
	pal, err := palette.Register(ctx, opts.Palettes, PaletteName, opts.Table.Cells(), catalogs.Cell.Key)
	if err != nil {
		return nil, err
	}
	chunks, err := opts.Store.Collection(ChunkCollection)
	if err != nil {
		return nil, err
	}
	meta, err := loadMeta(ctx, opts.Store, opts.Name)
	if err != nil {
		return nil, err
	}
	guid, err := uuid.Parse(meta.GUID)
	if err != nil {
		return nil, fmt.Errorf("level meta: guid: %w", err)
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 4096
	}

	factory := chunk.NewFactory(opts.Table)
	s := &Storage{
		chunks:  chunks,
		codec:   codec.New(pal, factory),
		factory: factory,
		palette: pal,
		meta:    meta,
		guid:    guid,
		log:     opts.Log,
		pending: map[cube.ChunkPos]queued{},
		ch:      make(chan req, opts.QueueSize),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func loadMeta(ctx context.Context, store docstore.Store, name string) (Meta, error) {
	col, err := store.Collection(MetaCollection)
	if err != nil {
		return Meta{}, err
	}
	doc, ok, err := col.FindByID(ctx, metaID)
	if err != nil {
		return Meta{}, err
	}
	var m Meta
	if ok {
		if err := nbt.NewDecoderWithEncoding(bytes.NewReader(doc), nbt.BigEndian).Decode(&m); err != nil {
			return Meta{}, fmt.Errorf("level meta: %w", err)
		}
		return m, nil
	}
	m = Meta{GUID: uuid.NewString(), Name: name, Created: time.Now().UTC().Unix()}
	var buf bytes.Buffer
	if err := nbt.NewEncoderWithEncoding(&buf, nbt.BigEndian).Encode(m); err != nil {
		return Meta{}, err
	}
	if err := col.Upsert(ctx, metaID, buf.Bytes()); err != nil {
		return Meta{}, err
	}
	return m, nil
}

func (s *Storage) GUID() uuid.UUID             { return s.guid }
func (s *Storage) Meta() Meta                  { return s.meta }
func (s *Storage) Palette() *palette.Collection { return s.palette }
func (s *Storage) Factory() *chunk.Factory     { return s.factory }
func (s *Storage) Codec() *codec.Codec         { return s.codec }

func key(pos cube.ChunkPos) (int64, error) {
	k, ok := pos.Key()
	if !ok {
		return 0, fmt.Errorf("%w: %v", ErrOutOfRange, pos)
	}
	return k, nil
}

// Contains reports whether a chunk was ever written at pos, queued writes included.
func (s *Storage) Contains(ctx context.Context, pos cube.ChunkPos) (bool, error) {
	if _, ok := s.queuedDoc(pos); ok {
		return true, nil
	}
	k, err := key(pos)
	if err != nil {
		return false, err
	}
	return s.chunks.Contains(ctx, k)
}

// TryLoad returns the stored chunk at pos. ok is false when nothing was stored. A stored chunk that
// cannot be decoded yields a *DecodeError.
func (s *Storage) TryLoad(ctx context.Context, pos cube.ChunkPos) (*chunk.Chunk, bool, error) {
	doc, ok := s.queuedDoc(pos)
	if !ok {
		k, err := key(pos)
		if err != nil {
			return nil, false, err
		}
		doc, ok, err = s.chunks.FindByID(ctx, k)
		if err != nil || !ok {
			return nil, false, err
		}
	}
	c, version, err := s.codec.DecodeDoc(pos, doc)
	if err != nil {
		return nil, false, &DecodeError{Pos: pos, PaletteVersion: version, Err: err}
	}
	return c, true, nil
}

// Write stores c and waits until it is persisted.
func (s *Storage) Write(ctx context.Context, c *chunk.Chunk) error {
	done := make(chan error, 1)
	if err := s.enqueue(ctx, c, done); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Enqueue encodes c on the calling goroutine and hands it to the writer. Later reads observe the
// queued state immediately.
func (s *Storage) Enqueue(ctx context.Context, c *chunk.Chunk) error {
	return s.enqueue(ctx, c, nil)
}

func (s *Storage) enqueue(ctx context.Context, c *chunk.Chunk, done chan error) error {
	if s.closed.Load() {
		return ErrClosed
	}
	k, err := key(c.Pos())
	if err != nil {
		return err
	}
	doc, err := s.codec.EncodeDoc(c)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.seq++
	seq := s.seq
	s.pending[c.Pos()] = queued{seq: seq, doc: doc}
	s.mu.Unlock()

	select {
	case s.ch <- req{pos: c.Pos(), key: k, seq: seq, doc: doc, done: done}:
		return nil
	case <-ctx.Done():
		s.dropQueued(c.Pos(), seq)
		return ctx.Err()
	}
}

// Flush waits until every write queued before the call is persisted.
func (s *Storage) Flush(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	done := make(chan error, 1)
	select {
	case s.ch <- req{flush: true, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close drains queued writes and stops the writer. The underlying store stays open.
func (s *Storage) Close() error {
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
	})
	return nil
}

func (s *Storage) queuedDoc(pos cube.ChunkPos) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.pending[pos]
	return q.doc, ok
}

func (s *Storage) dropQueued(pos cube.ChunkPos, seq uint64) {
	s.mu.Lock()
	if q, ok := s.pending[pos]; ok && q.seq == seq {
		delete(s.pending, pos)
	}
	s.mu.Unlock()
}

func (s *Storage) loop() {
	ctx := context.Background()
	var lastErr error
	for r := range s.ch {
		if r.flush {
			r.done <- lastErr
			lastErr = nil
			continue
		}
		err := s.chunks.Upsert(ctx, r.key, r.doc)
		if err != nil {
			s.failed.Add(1)
			lastErr = err
			// The queued document stays visible so this session keeps reading what it wrote.
			s.log.Error().Err(err).Str("pos", r.pos.String()).Msg("chunk write failed")
		} else {
			s.written.Add(1)
			s.dropQueued(r.pos, r.seq)
		}
		if r.done != nil {
			r.done <- err
		}
	}
}

type Stats struct {
	Written uint64
	Failed  uint64
	Pending int
}

func (s *Storage) Stats() Stats {
	s.mu.Lock()
	n := len(s.pending)
	s.mu.Unlock()
	return Stats{Written: s.written.Load(), Failed: s.failed.Load(), Pending: n}
}
