package level

import (
	"encoding/json"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"voxelstream.ai/internal/protocol"
	"voxelstream.ai/internal/sim/chunk"
	"voxelstream.ai/internal/sim/cube"
	"voxelstream.ai/internal/sim/stream"
)

type viewer struct {
	id      string
	name    string
	anchor  *stream.Anchor
	out     chan []byte
	limiter *rate.Limiter
	// sent holds the chunks the viewer currently has.
	sent map[cube.ChunkPos]struct{}
}

func (l *Level) handleJoin(req JoinRequest) {
	radius := max(req.Radius, 0)
	if l.cfg.MaxRadius > 0 {
		radius = min(radius, l.cfg.MaxRadius)
	}
	a := stream.NewAnchor(cube.FromVec3(req.Pos), radius, req.ActiveRadius)
	v := &viewer{
		id:      uuid.NewString(),
		name:    req.Name,
		anchor:  a,
		out:     req.Out,
		limiter: rate.NewLimiter(rate.Limit(l.cfg.ChunksPerSecond), l.cfg.ChunkBurst),
		sent:    map[cube.ChunkPos]struct{}{},
	}
	l.src.AddAnchor(a)
	l.viewers[v.id] = v
	l.order = append(l.order, v.id)
	l.log.Info().Str("session", v.id).Str("name", v.name).Str("pos", a.Current().Pos.String()).Int("radius", radius).Msg("viewer joined")

	w, c := l.welcome(v.id, a.Current())
	req.Resp <- JoinResponse{SessionID: v.id, Welcome: w, Catalog: c, Anchor: a}
}

func (l *Level) handleLeave(id string) {
	v, ok := l.viewers[id]
	if !ok {
		return
	}
	l.src.RemoveAnchor(v.anchor)
	delete(l.viewers, id)
	for i, x := range l.order {
		if x == id {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
	l.log.Info().Str("session", id).Str("name", v.name).Msg("viewer left")
}

// streamChunks sends each viewer unloads for chunks it no longer needs and then loads for resident
// chunks in its radius, nearest ring first, within its per-tick budget and rate limit.
func (l *Level) streamChunks() {
	var ring []cube.ChunkPos
	for _, id := range l.order {
		v := l.viewers[id]
		st := v.anchor.Current()
		radius := st.Radius
		if l.cfg.MaxRadius > 0 {
			radius = min(radius, l.cfg.MaxRadius)
		}

		for p := range v.sent {
			if cube.Chebyshev(p, st.Pos) <= radius && l.src.HasChunk(p) {
				continue
			}
			if !l.send(v, l.unloadMsg(p)) {
				break
			}
			delete(v.sent, p)
			l.unloads.Add(1)
		}

		budget := l.cfg.ChunksPerTick
	rings:
		for k := 0; k <= radius && budget > 0; k++ {
			ring = cube.Shell(ring[:0], st.Pos, k)
			for _, p := range ring {
				if _, ok := v.sent[p]; ok {
					continue
				}
				c, ok := l.src.Map().Chunk(p)
				if !ok {
					continue
				}
				// The token is taken only once the payload is queued.
				if v.limiter.Tokens() < 1 {
					break rings
				}
				b, err := l.loadMsg(c)
				if err != nil {
					l.log.Error().Err(err).Str("pos", p.String()).Msg("encode chunk payload")
					continue
				}
				if !l.send(v, b) {
					break rings
				}
				v.limiter.Allow()
				v.sent[p] = struct{}{}
				l.sent.Add(1)
				budget--
				if budget == 0 {
					break rings
				}
			}
		}
	}
}

// invalidate makes every viewer that has pos receive it again.
func (l *Level) invalidate(pos cube.ChunkPos) {
	for _, v := range l.viewers {
		delete(v.sent, pos)
	}
}

// send never blocks; a full outbox defers the rest of the viewer's work to a later tick.
func (l *Level) send(v *viewer, b []byte) bool {
	select {
	case v.out <- b:
		return true
	default:
		return false
	}
}

func (l *Level) unloadMsg(p cube.ChunkPos) []byte {
	b, _ := json.Marshal(protocol.ChunkUnloadMsg{
		Type:            protocol.TypeChunkUnload,
		ProtocolVersion: protocol.Version,
		LevelGUID:       l.storage.GUID().String(),
		Pos:             p.Array(),
	})
	return b
}

func (l *Level) loadMsg(c *chunk.Chunk) ([]byte, error) {
	return json.Marshal(protocol.ChunkLoadMsg{
		Type:            protocol.TypeChunkLoad,
		ProtocolVersion: protocol.Version,
		LevelGUID:       l.storage.GUID().String(),
		Pos:             c.Pos().Array(),
		Cells:           CellsPayload(c),
	})
}

// CellsPayload is the decoded cell snapshot of c as sent to viewers. Ids are current cell table ids.
func CellsPayload(c *chunk.Chunk) protocol.ChunkCells {
	if v, ok := c.Uniform(); ok {
		id := uint32(v)
		return protocol.ChunkCells{Value: &id}
	}
	data := make([]uint32, protocol.ChunkCellCount)
	for i, id := range c.Cells() {
		data[i] = uint32(id)
	}
	return protocol.ChunkCells{Data: data}
}
