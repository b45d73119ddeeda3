package stream

import (
	"sync/atomic"

	"voxelstream.ai/internal/sim/cube"
)

// AnchorState is one immutable snapshot of an anchor. Rings 0..ActiveRadius are active demand,
// rings ActiveRadius+1..Radius are load-only.
type AnchorState struct {
	Pos          cube.ChunkPos
	Radius       int
	ActiveRadius int
}

func (s AnchorState) normalized() AnchorState {
	if s.Radius < 0 {
		s.Radius = 0
	}
	if s.ActiveRadius < 0 {
		s.ActiveRadius = 0
	}
	if s.ActiveRadius > s.Radius {
		s.ActiveRadius = s.Radius
	}
	return s
}

// Anchor is an observer's residency request. It is the one streaming structure shared across
// goroutines: transport code moves it, the tick goroutine reads it through Current. Updates swap a
// whole snapshot, so readers never see a position paired with another update's radius.
type Anchor struct {
	state atomic.Pointer[AnchorState]
}

func NewAnchor(pos cube.ChunkPos, radius, activeRadius int) *Anchor {
	a := &Anchor{}
	a.Set(AnchorState{Pos: pos, Radius: radius, ActiveRadius: activeRadius})
	return a
}

func (a *Anchor) Current() AnchorState {
	return *a.state.Load()
}

func (a *Anchor) Set(s AnchorState) {
	s = s.normalized()
	a.state.Store(&s)
}

// Move changes the position and keeps the radii.
func (a *Anchor) Move(pos cube.ChunkPos) {
	a.update(func(s *AnchorState) { s.Pos = pos })
}

// SetRadius changes the radii and keeps the position.
func (a *Anchor) SetRadius(radius, activeRadius int) {
	a.update(func(s *AnchorState) {
		s.Radius = radius
		s.ActiveRadius = activeRadius
	})
}

func (a *Anchor) update(fn func(*AnchorState)) {
	for {
		old := a.state.Load()
		next := *old
		fn(&next)
		next = next.normalized()
		if a.state.CompareAndSwap(old, &next) {
			return
		}
	}
}
