package protocol_test

import (
	"encoding/json"
	"testing"

	"voxelstream.ai/internal/protocol"
)

func TestSchemas_ValidateSamples(t *testing.T) {
	validate := func(typ string, v any) {
		t.Helper()
		b, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		if err := protocol.Validate(typ, b); err != nil {
			t.Fatalf("validate %s: %v\n%s", typ, err, b)
		}
	}

	validate(protocol.TypeHello, protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		Name:            "bot1",
		Pos:             [3]float64{0.5, 70, -12.25},
		Radius:          4,
		ActiveRadius:    1,
	})
	validate(protocol.TypeMove, protocol.MoveMsg{
		Type:            protocol.TypeMove,
		ProtocolVersion: protocol.Version,
		Pos:             [3]float64{16, 70, 0},
	})
	validate(protocol.TypeEdit, protocol.EditMsg{
		Type:            protocol.TypeEdit,
		ProtocolVersion: protocol.Version,
		Pos:             [3]int{3, -18, 5},
		Cell:            2,
	})
	validate(protocol.TypeWelcome, protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       "S1",
		LevelGUID:       "4a4f3c39-4f56-4b0e-9d0c-7f1c2f0a9c11",
		Level:           "main",
		LevelParams:     protocol.LevelParams{TickRateHz: 20, ChunkSize: [3]int{16, 16, 16}, MinChunkY: -4, MaxChunkY: 19, MaxRadius: 8},
		Palette:         protocol.DigestRef{Digest: "deadbeef", Count: 26},
		Radius:          4,
	})

	zero := uint32(0)
	validate(protocol.TypeChunkLoad, protocol.ChunkLoadMsg{
		Type:            protocol.TypeChunkLoad,
		ProtocolVersion: protocol.Version,
		LevelGUID:       "g",
		Pos:             [3]int32{-1, 4, 2},
		Cells:           protocol.ChunkCells{Value: &zero},
	})
	validate(protocol.TypeChunkLoad, protocol.ChunkLoadMsg{
		Type:            protocol.TypeChunkLoad,
		ProtocolVersion: protocol.Version,
		LevelGUID:       "g",
		Pos:             [3]int32{0, 0, 0},
		Cells:           protocol.ChunkCells{Data: make([]uint32, protocol.ChunkCellCount)},
	})
	validate(protocol.TypeChunkUnload, protocol.ChunkUnloadMsg{
		Type:            protocol.TypeChunkUnload,
		ProtocolVersion: protocol.Version,
		LevelGUID:       "g",
		Pos:             [3]int32{0, 0, 0},
	})
}

func TestSchemas_RejectInvalid(t *testing.T) {
	cases := map[string]struct {
		typ string
		raw string
	}{
		"hello without name":   {protocol.TypeHello, `{"type":"HELLO","protocol_version":"1.0","pos":[0,0,0],"radius":2}`},
		"hello negative":       {protocol.TypeHello, `{"type":"HELLO","protocol_version":"1.0","name":"a","pos":[0,0,0],"radius":-1}`},
		"move short pos":       {protocol.TypeMove, `{"type":"MOVE","pos":[0,0]}`},
		"edit without cell":    {protocol.TypeEdit, `{"type":"EDIT","pos":[0,0,0]}`},
		"edit fractional pos":  {protocol.TypeEdit, `{"type":"EDIT","pos":[0.5,0,0],"cell":1}`},
		"chunk value and data": {protocol.TypeChunkLoad, `{"type":"CHUNK_LOAD","level_guid":"g","pos":[0,0,0],"cells":{"value":1,"data":[1,2]}}`},
		"chunk short data":     {protocol.TypeChunkLoad, `{"type":"CHUNK_LOAD","level_guid":"g","pos":[0,0,0],"cells":{"data":[1,2,3]}}`},
		"chunk packed form":    {protocol.TypeChunkLoad, `{"type":"CHUNK_LOAD","level_guid":"g","pos":[0,0,0],"cells":{"bits":1,"data":"AA=="}}`},
	}
	for name, c := range cases {
		if err := protocol.Validate(c.typ, []byte(c.raw)); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
	if err := protocol.Validate("UNKNOWN", []byte(`{}`)); err != nil {
		t.Fatalf("unknown type should pass: %v", err)
	}
}

func TestDecodeBase(t *testing.T) {
	m, err := protocol.DecodeBase([]byte(`{"type":"MOVE","protocol_version":"1.0","pos":[1,2,3]}`))
	if err != nil || m.Type != protocol.TypeMove || m.ProtocolVersion != protocol.Version {
		t.Fatalf("DecodeBase=%+v err=%v", m, err)
	}
}
