package main

import (
	"encoding/json"
	"testing"

	"voxelstream.ai/internal/protocol"
)

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func load(guid string, pos [3]int32, cells protocol.ChunkCells) protocol.ChunkLoadMsg {
	return protocol.ChunkLoadMsg{Type: protocol.TypeChunkLoad, ProtocolVersion: protocol.Version, LevelGUID: guid, Pos: pos, Cells: cells}
}

func TestTrackerStream(t *testing.T) {
	tr := newTracker()
	one := uint32(1)

	if err := tr.handle(mustJSON(t, load("g", [3]int32{0, 0, 0}, protocol.ChunkCells{Value: &one}))); err == nil {
		t.Fatalf("CHUNK_LOAD before WELCOME accepted")
	}

	welcome := protocol.WelcomeMsg{Type: protocol.TypeWelcome, ProtocolVersion: protocol.Version, SessionID: "S", LevelGUID: "g"}
	catalog := protocol.CatalogMsg{Type: protocol.TypeCatalog, ProtocolVersion: protocol.Version, Data: []string{"AIR", "DIRT", "STONE"}}
	for _, m := range []any{welcome, catalog} {
		if err := tr.handle(mustJSON(t, m)); err != nil {
			t.Fatalf("handle: %v", err)
		}
	}

	// Cell 0 is STONE, the rest DIRT.
	data := make([]uint32, protocol.ChunkCellCount)
	for i := range data {
		data[i] = 1
	}
	data[0] = 2
	if err := tr.handle(mustJSON(t, load("g", [3]int32{1, 0, 0}, protocol.ChunkCells{Data: data}))); err != nil {
		t.Fatalf("mixed load: %v", err)
	}
	if err := tr.handle(mustJSON(t, load("g", [3]int32{0, 0, 0}, protocol.ChunkCells{Value: &one}))); err != nil {
		t.Fatalf("uniform load: %v", err)
	}
	if tr.resident[[3]int32{1, 0, 0}] != 2 || tr.resident[[3]int32{0, 0, 0}] != 1 {
		t.Fatalf("resident=%v", tr.resident)
	}
	if err := tr.handle(mustJSON(t, load("g", [3]int32{0, 0, 0}, protocol.ChunkCells{Value: &one}))); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if tr.loads != 3 || tr.reloads != 1 {
		t.Fatalf("loads=%d reloads=%d", tr.loads, tr.reloads)
	}

	unload := protocol.ChunkUnloadMsg{Type: protocol.TypeChunkUnload, ProtocolVersion: protocol.Version, LevelGUID: "g", Pos: [3]int32{1, 0, 0}}
	if err := tr.handle(mustJSON(t, unload)); err != nil {
		t.Fatalf("unload: %v", err)
	}
	if err := tr.handle(mustJSON(t, unload)); err == nil {
		t.Fatalf("second unload accepted")
	}
	if len(tr.resident) != 1 || tr.unloads != 1 {
		t.Fatalf("resident=%v unloads=%d", tr.resident, tr.unloads)
	}
}

func TestTrackerRejectsBadCells(t *testing.T) {
	tr := newTracker()
	_ = tr.handle(mustJSON(t, protocol.WelcomeMsg{Type: protocol.TypeWelcome, ProtocolVersion: protocol.Version, SessionID: "S", LevelGUID: "g"}))
	_ = tr.handle(mustJSON(t, protocol.CatalogMsg{Type: protocol.TypeCatalog, ProtocolVersion: protocol.Version, Data: []string{"AIR", "STONE"}}))

	short := protocol.ChunkCells{Data: make([]uint32, 10)}
	if err := tr.handle(mustJSON(t, load("g", [3]int32{}, short))); err == nil {
		t.Fatalf("short data accepted")
	}
	nine := uint32(9)
	if err := tr.handle(mustJSON(t, load("g", [3]int32{}, protocol.ChunkCells{Value: &nine}))); err == nil {
		t.Fatalf("id outside palette accepted")
	}
	if err := tr.handle(mustJSON(t, load("other", [3]int32{}, protocol.ChunkCells{Value: new(uint32)}))); err == nil {
		t.Fatalf("foreign level accepted")
	}
	if err := tr.handle(mustJSON(t, protocol.NewError(protocol.ErrLevelBusy, "busy"))); err == nil || tr.errors != 1 {
		t.Fatalf("error message not surfaced: %v", err)
	}
}
