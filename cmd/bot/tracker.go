package main

import (
	"encoding/json"
	"fmt"

	"voxelstream.ai/internal/protocol"
)

// tracker mirrors the chunks the server has streamed to this client.
type tracker struct {
	welcome  protocol.WelcomeMsg
	palette  []string
	resident map[[3]int32]int // chunk -> distinct cell count

	loads, unloads, reloads, errors int

	scratch []uint32
}

func newTracker() *tracker {
	return &tracker{resident: map[[3]int32]int{}}
}

// handle applies one server message. It returns an error for messages that break the stream
// contract: payloads before WELCOME, unloads of chunks never loaded or undecodable cells.
func (t *tracker) handle(msg []byte) error {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return err
	}
	switch base.Type {
	case protocol.TypeWelcome:
		return json.Unmarshal(msg, &t.welcome)
	case protocol.TypeCatalog:
		var c protocol.CatalogMsg
		if err := json.Unmarshal(msg, &c); err != nil {
			return err
		}
		t.palette = append(t.palette, c.Data...)
	case protocol.TypeChunkLoad:
		var m protocol.ChunkLoadMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return err
		}
		if t.welcome.SessionID == "" {
			return fmt.Errorf("CHUNK_LOAD %v before WELCOME", m.Pos)
		}
		if m.LevelGUID != t.welcome.LevelGUID {
			return fmt.Errorf("CHUNK_LOAD %v for level %s", m.Pos, m.LevelGUID)
		}
		cells, err := m.Cells.Expand(t.scratch)
		if err != nil {
			return fmt.Errorf("CHUNK_LOAD %v: %w", m.Pos, err)
		}
		t.scratch = cells
		distinct := map[uint32]struct{}{}
		for _, id := range cells {
			if len(t.palette) > 0 && int(id) >= len(t.palette) {
				return fmt.Errorf("CHUNK_LOAD %v: cell id %d outside palette of %d", m.Pos, id, len(t.palette))
			}
			distinct[id] = struct{}{}
		}
		if _, ok := t.resident[m.Pos]; ok {
			t.reloads++
		}
		t.resident[m.Pos] = len(distinct)
		t.loads++
	case protocol.TypeChunkUnload:
		var m protocol.ChunkUnloadMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return err
		}
		if _, ok := t.resident[m.Pos]; !ok {
			return fmt.Errorf("CHUNK_UNLOAD %v was never loaded", m.Pos)
		}
		delete(t.resident, m.Pos)
		t.unloads++
	case protocol.TypeError:
		var e protocol.ErrorMsg
		_ = json.Unmarshal(msg, &e)
		t.errors++
		return fmt.Errorf("server error %s: %s", e.Code, e.Message)
	}
	return nil
}
