package stream

import (
	"fmt"

	"github.com/rs/zerolog"

	"voxelstream.ai/internal/sim/chunk"
	"voxelstream.ai/internal/sim/cube"
)

// State is the residency state of one chunk position.
type State uint8

const (
	Unloaded State = iota
	Loading
	Loaded
	Active
)

func (s State) String() string {
	switch s {
	case Unloaded:
		return "unloaded"
	case Loading:
		return "loading"
	case Loaded:
		return "loaded"
	case Active:
		return "active"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

const (
	DefaultLowWater  = 64
	DefaultHighWater = 256
)

type Config struct {
	Loader Loader
	Bounds cube.Bounds

	// Ring expansion stops once HighWater loads are in flight and resumes at LowWater.
	LowWater  int
	HighWater int
	// MaxRadius clamps anchor radii. 0 means no clamp.
	MaxRadius int

	// OnLoadFailed is called on the tick goroutine when a load completes with an error. The
	// position has already been evicted.
	OnLoadFailed func(pos cube.ChunkPos, err error)
	// OnEvict is called on the tick goroutine when a resident chunk leaves the map.
	OnEvict func(pos cube.ChunkPos, c *chunk.Chunk)

	Log zerolog.Logger
}

type entry struct {
	chunk   *chunk.Chunk
	pending *Load
	load    int
	active  int
}

func (e *entry) alive() bool { return e.active > 0 || e.load > 0 }

type counts struct {
	load   int
	active int
}

func (c *counts) take(active bool) bool {
	n := &c.load
	if active {
		n = &c.active
	}
	if *n == 0 {
		return false
	}
	*n--
	return true
}

type awaiting struct {
	pos  cube.ChunkPos
	load *Load
}

type track struct {
	anchor  *Anchor
	applied AnchorState
	// rings 0..cursor-1 of applied are counted in the map.
	cursor int

	// retiring is the footprint left behind by a move. It stays counted until the new footprint has
	// finished expanding, so positions both cover are never evicted and reloaded.
	retiring *footprint
}

type footprint struct {
	state  AnchorState
	cursor int
}

func (t *track) expanding() bool { return t.cursor <= t.applied.Radius }

// ChunkMap is the streaming state machine. It is owned by a single tick goroutine and does no
// locking; only Anchors are read concurrently.
type ChunkMap struct {
	cfg Config
	log zerolog.Logger

	entries  map[cube.ChunkPos]*entry
	awaiting []awaiting
	// loads whose entry was evicted mid-flight; adopted again if the position is re-requested.
	orphans map[cube.ChunkPos]*Load
	// demand still held by anchors for positions whose load failed.
	failed map[cube.ChunkPos]counts

	anchors []*track
	byPtr   map[*Anchor]*track

	throttled bool
	ringBuf   []cube.ChunkPos
}

func NewChunkMap(cfg Config) *ChunkMap {
	if cfg.Loader == nil {
		panic("stream: ChunkMap requires a Loader")
	}
	if cfg.HighWater <= 0 {
		cfg.HighWater = DefaultHighWater
	}
	if cfg.LowWater < 0 || cfg.LowWater > cfg.HighWater {
		cfg.LowWater = min(DefaultLowWater, cfg.HighWater)
	}
	return &ChunkMap{
		cfg:     cfg,
		log:     cfg.Log,
		entries: map[cube.ChunkPos]*entry{},
		orphans: map[cube.ChunkPos]*Load{},
		failed:  map[cube.ChunkPos]counts{},
		byPtr:   map[*Anchor]*track{},
	}
}

// AddAnchor starts streaming around a. Ring 0 is applied immediately; outer rings follow one per
// Update.
func (m *ChunkMap) AddAnchor(a *Anchor) {
	if _, ok := m.byPtr[a]; ok {
		panic("stream: anchor added twice")
	}
	t := &track{anchor: a, applied: m.clamp(a.Current())}
	m.anchors = append(m.anchors, t)
	m.byPtr[a] = t
	m.applyRing(t.applied, 0)
	t.cursor = 1
}

// RemoveAnchor unwinds every ring the anchor applied. Positions whose counts reach zero are evicted
// at once; loads still in flight for them are discarded on completion.
func (m *ChunkMap) RemoveAnchor(a *Anchor) {
	t, ok := m.byPtr[a]
	if !ok {
		panic("stream: removing unknown anchor")
	}
	for k := 0; k < t.cursor; k++ {
		m.releaseRing(t.applied, k)
	}
	m.retire(t)
	delete(m.byPtr, a)
	for i, x := range m.anchors {
		if x == t {
			m.anchors = append(m.anchors[:i], m.anchors[i+1:]...)
			break
		}
	}
}

// Update advances the map by one tick: completed loads are installed first, then moved anchors
// restart from ring 0 at their new position, then each expanding anchor resolves at most one more
// ring unless too many loads are in flight. A moved anchor's old footprint is released once its
// new one is fully expanded.
func (m *ChunkMap) Update() {
	m.poll()

	for _, t := range m.anchors {
		cur := m.clamp(t.anchor.Current())
		if cur != t.applied {
			m.reanchor(t, cur)
		}
	}

	paused := false
	for _, t := range m.anchors {
		if t.expanding() && !paused {
			if m.backpressure() {
				m.log.Debug().Int("in_flight", len(m.awaiting)).Msg("ring expansion paused")
				paused = true
			} else {
				m.applyRing(t.applied, t.cursor)
				t.cursor++
			}
		}
		if !t.expanding() {
			m.retire(t)
		}
	}
}

// FlushLoading blocks until every in-flight load has completed and installs the results.
func (m *ChunkMap) FlushLoading() {
	for _, w := range m.awaiting {
		w.load.Wait()
	}
	m.poll()
}

func (m *ChunkMap) backpressure() bool {
	n := len(m.awaiting)
	if m.throttled && n <= m.cfg.LowWater {
		m.throttled = false
	}
	if !m.throttled && n >= m.cfg.HighWater {
		m.throttled = true
	}
	return m.throttled
}

func (m *ChunkMap) poll() {
	if len(m.awaiting) == 0 {
		return
	}
	keep := m.awaiting[:0]
	for _, w := range m.awaiting {
		if !w.load.Done() {
			keep = append(keep, w)
			continue
		}
		m.complete(w.pos, w.load)
	}
	clear(m.awaiting[len(keep):])
	m.awaiting = keep
}

func (m *ChunkMap) complete(pos cube.ChunkPos, l *Load) {
	c, err := l.Wait()
	e, ok := m.entries[pos]
	if !ok || e.pending != l {
		if m.orphans[pos] == l {
			delete(m.orphans, pos)
		}
		return
	}
	e.pending = nil
	if err == nil && c == nil {
		err = fmt.Errorf("loader returned no chunk")
	}
	if err != nil {
		delete(m.entries, pos)
		f := m.failed[pos]
		f.load += e.load
		f.active += e.active
		m.failed[pos] = f
		m.log.Warn().Err(err).Str("pos", pos.String()).Msg("chunk load failed")
		if m.cfg.OnLoadFailed != nil {
			m.cfg.OnLoadFailed(pos, err)
		}
		return
	}
	e.chunk = c
}

// reanchor moves a track to a new snapshot. Ring 0 of the new snapshot is applied at once and the
// rest grow through Update like a new anchor. The rings counted so far become the retiring
// footprint; an older retiring footprint is released first, since the newer one covers the
// anchor's more recent surroundings.
func (m *ChunkMap) reanchor(t *track, cur AnchorState) {
	m.applyRing(cur, 0)
	m.retire(t)
	t.retiring = &footprint{state: t.applied, cursor: t.cursor}
	t.applied = cur
	t.cursor = 1
}

// retire releases the track's retiring footprint, if any.
func (m *ChunkMap) retire(t *track) {
	if t.retiring == nil {
		return
	}
	for k := 0; k < t.retiring.cursor; k++ {
		m.releaseRing(t.retiring.state, k)
	}
	t.retiring = nil
}

func (m *ChunkMap) clamp(s AnchorState) AnchorState {
	if m.cfg.MaxRadius > 0 && s.Radius > m.cfg.MaxRadius {
		s.Radius = m.cfg.MaxRadius
		s.ActiveRadius = min(s.ActiveRadius, s.Radius)
	}
	return s
}

func (m *ChunkMap) ring(s AnchorState, k int) []cube.ChunkPos {
	m.ringBuf = cube.Shell(m.ringBuf[:0], s.Pos, k)
	m.ringBuf = m.cfg.Bounds.Filter(m.ringBuf)
	return m.ringBuf
}

func (m *ChunkMap) applyRing(s AnchorState, k int) {
	active := k <= s.ActiveRadius
	for _, p := range m.ring(s, k) {
		// Failed positions are not retried while any anchor still holds them.
		if f, failed := m.failed[p]; failed {
			if active {
				f.active++
			} else {
				f.load++
			}
			m.failed[p] = f
			continue
		}
		e, ok := m.entries[p]
		if !ok {
			e = &entry{}
			if l, orphan := m.orphans[p]; orphan {
				delete(m.orphans, p)
				e.pending = l
			} else {
				l := m.cfg.Loader.Request(p)
				e.pending = l
				m.awaiting = append(m.awaiting, awaiting{pos: p, load: l})
			}
			m.entries[p] = e
		}
		if active {
			e.active++
		} else {
			e.load++
		}
	}
}

func (m *ChunkMap) releaseRing(s AnchorState, k int) {
	active := k <= s.ActiveRadius
	for _, p := range m.ring(s, k) {
		m.release(p, active)
	}
}

func (m *ChunkMap) release(p cube.ChunkPos, active bool) {
	if f, ok := m.failed[p]; ok && f.take(active) {
		if f.load == 0 && f.active == 0 {
			delete(m.failed, p)
		} else {
			m.failed[p] = f
		}
		return
	}
	e, ok := m.entries[p]
	if !ok {
		panic(fmt.Sprintf("stream: release of %v which has no entry", p))
	}
	c := counts{load: e.load, active: e.active}
	if !c.take(active) {
		panic(fmt.Sprintf("stream: counter underflow at %v (active=%v)", p, active))
	}
	e.load, e.active = c.load, c.active
	if !e.alive() {
		m.evict(p, e)
	}
}

func (m *ChunkMap) evict(p cube.ChunkPos, e *entry) {
	delete(m.entries, p)
	if e.pending != nil {
		m.orphans[p] = e.pending
		return
	}
	if e.chunk != nil && m.cfg.OnEvict != nil {
		m.cfg.OnEvict(p, e.chunk)
	}
}

// State reports the residency state of p.
func (m *ChunkMap) State(p cube.ChunkPos) State {
	e, ok := m.entries[p]
	switch {
	case !ok:
		return Unloaded
	case e.pending != nil:
		return Loading
	case e.active > 0:
		return Active
	default:
		return Loaded
	}
}

// Chunk returns the resident chunk at p, if any.
func (m *ChunkMap) Chunk(p cube.ChunkPos) (*chunk.Chunk, bool) {
	e, ok := m.entries[p]
	if !ok || e.chunk == nil {
		return nil, false
	}
	return e.chunk, true
}

// Pending returns the in-flight load for p, if the position is loading.
func (m *ChunkMap) Pending(p cube.ChunkPos) (*Load, bool) {
	e, ok := m.entries[p]
	if !ok || e.pending == nil {
		return nil, false
	}
	return e.pending, true
}

// Counts returns the load-only and active reference counts of p.
func (m *ChunkMap) Counts(p cube.ChunkPos) (load, active int) {
	if e, ok := m.entries[p]; ok {
		return e.load, e.active
	}
	return 0, 0
}

// Len returns the number of entries, loading ones included.
func (m *ChunkMap) Len() int { return len(m.entries) }

// InFlight returns the number of loads not yet polled, discarded ones included.
func (m *ChunkMap) InFlight() int { return len(m.awaiting) }

func (m *ChunkMap) Anchors() int { return len(m.anchors) }

// Expanding reports whether any anchor still has rings to resolve.
func (m *ChunkMap) Expanding() bool {
	for _, t := range m.anchors {
		if t.expanding() {
			return true
		}
	}
	return false
}

// Stats summarizes the map for metrics.
type Stats struct {
	Entries  int
	Loading  int
	Loaded   int
	Active   int
	InFlight int
	Anchors  int
	Failed   int
}

func (m *ChunkMap) Stats() Stats {
	s := Stats{Entries: len(m.entries), InFlight: len(m.awaiting), Anchors: len(m.anchors), Failed: len(m.failed)}
	for _, e := range m.entries {
		switch {
		case e.pending != nil:
			s.Loading++
		case e.active > 0:
			s.Active++
		default:
			s.Loaded++
		}
	}
	return s
}

// ForEachResident calls fn for every resident chunk in unspecified order.
func (m *ChunkMap) ForEachResident(fn func(p cube.ChunkPos, c *chunk.Chunk, active bool)) {
	for p, e := range m.entries {
		if e.chunk != nil {
			fn(p, e.chunk, e.active > 0)
		}
	}
}
