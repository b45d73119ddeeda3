package codec

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"

	"github.com/oriumgames/nbt"

	"voxelstream.ai/internal/persistence/palette"
	"voxelstream.ai/internal/sim/chunk"
	"voxelstream.ai/internal/sim/cube"
)

type cellTable int

func (t cellTable) Len() int { return int(t) }

type fakePalette struct {
	current  int32
	versions map[int32]palette.Converter
}

func (p fakePalette) CurrentVersionID() int32 { return p.current }

func (p fakePalette) TryGetConverter(v int32) (palette.Converter, bool) {
	c, ok := p.versions[v]
	return c, ok
}

var (
	factory = chunk.NewFactory(cellTable(6000))
	pos     = cube.Pos(3, -1, 7)
)

func newCodec() *Codec {
	return New(fakePalette{current: 2, versions: map[int32]palette.Converter{
		1: {0, 3, 1, palette.Unmapped},
		2: nil,
	}}, factory)
}

func cellsOf(ids ...chunk.CellID) []chunk.CellID {
	out := make([]chunk.CellID, cube.ChunkVolume)
	for i := range out {
		out[i] = ids[i%len(ids)]
	}
	return out
}

func mustChunk(t *testing.T, ids []chunk.CellID) *chunk.Chunk {
	t.Helper()
	c, err := factory.FromCells(pos, ids)
	if err != nil {
		t.Fatalf("FromCells: %v", err)
	}
	return c
}

func roundTrip(t *testing.T, c *Codec, ch *chunk.Chunk) (Record, *chunk.Chunk) {
	t.Helper()
	rec := c.Encode(ch)
	doc, err := Marshal(rec)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	back, version, err := c.DecodeDoc(pos, doc)
	if err != nil {
		t.Fatalf("DecodeDoc: %v", err)
	}
	if version != 2 {
		t.Fatalf("palette version=%d want 2", version)
	}
	if !back.Equal(ch) {
		t.Fatalf("round trip changed cells")
	}
	return rec, back
}

func TestUniformRoundTrip(t *testing.T) {
	c := newCodec()
	for _, id := range []chunk.CellID{0, 1, 5000} {
		ch, err := factory.Filled(pos, id)
		if err != nil {
			t.Fatalf("Filled: %v", err)
		}
		rec, back := roundTrip(t, c, ch)
		if !rec.Scalar() || rec.Value != int32(id) {
			t.Fatalf("id %d: record %+v", id, rec)
		}
		if back.Kind() != chunk.KindUniform {
			t.Fatalf("id %d: decoded kind %v", id, back.Kind())
		}
	}
}

func TestGlobalBranch(t *testing.T) {
	rec, _ := roundTrip(t, newCodec(), mustChunk(t, cellsOf(0, 1)))
	if rec.Local != nil {
		t.Fatalf("expected global packing, got local %v", rec.Local)
	}
	if w, _ := rec.Width(); w != 1 {
		t.Fatalf("width=%d want 1", w)
	}
}

func TestLocalBranch(t *testing.T) {
	rec, _ := roundTrip(t, newCodec(), mustChunk(t, cellsOf(5000, 0)))
	if len(rec.Local) != 2 || rec.Local[0] != 5000 || rec.Local[1] != 0 {
		t.Fatalf("local=%v want [5000 0]", rec.Local)
	}
	if w, _ := rec.Width(); w != 2 {
		t.Fatalf("width=%d want 2", w)
	}
}

func TestBranchSelection(t *testing.T) {
	// bitsGlobal 13 -> 53248 bits.
	ids := make([]chunk.CellID, 0, 64)
	for i := 0; i < 63; i++ {
		ids = append(ids, chunk.CellID(i))
	}
	ids = append(ids, 5000)
	rec := newCodec().Encode(mustChunk(t, cellsOf(ids...)))
	// 64 distinct: local = 7*4096 + 64*32 + 32 = 30752 < 53248.
	if rec.Local == nil {
		t.Fatalf("expected local packing")
	}

	rec = newCodec().Encode(mustChunk(t, cellsOf(0, 1, 2, 3)))
	if rec.Local != nil {
		t.Fatalf("expected global packing for small ids")
	}
}

func TestRandomRoundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	c := newCodec()
	for n := 0; n < 20; n++ {
		spread := 1 + r.Intn(5999)
		ids := make([]chunk.CellID, cube.ChunkVolume)
		for i := range ids {
			ids[i] = chunk.CellID(r.Intn(spread))
		}
		ids[0], ids[1] = 0, chunk.CellID(spread-1)
		if spread == 1 {
			ids[1] = 0
		}
		roundTrip(t, c, mustChunk(t, ids))
	}
}

func TestDecodeMigratesOldVersion(t *testing.T) {
	c := newCodec()
	vals := make([]uint32, cube.ChunkVolume)
	for i := range vals {
		vals[i] = uint32(i % 3)
	}
	rec := Record{PaletteVersion: 1, Data: pack(vals, 2)}
	ch, err := c.Decode(pos, rec)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	want := []chunk.CellID{0, 3, 1}
	for i := 0; i < 6; i++ {
		x, y, z := cube.CellCoords(i)
		if got := ch.Get(x, y, z); got != want[i%3] {
			t.Fatalf("cell %d=%d want %d", i, got, want[i%3])
		}
	}

	scalar, err := c.Decode(pos, Record{PaletteVersion: 1, Value: 1})
	if err != nil {
		t.Fatalf("Decode scalar: %v", err)
	}
	if v, _ := scalar.Uniform(); v != 3 {
		t.Fatalf("scalar value=%d want 3", v)
	}
}

func TestDecodeUnmappedFails(t *testing.T) {
	c := newCodec()
	vals := make([]uint32, cube.ChunkVolume)
	vals[100] = 3
	_, err := c.Decode(pos, Record{PaletteVersion: 1, Data: pack(vals, 2)})
	if !errors.Is(err, ErrUnmappedID) {
		t.Fatalf("err=%v want ErrUnmappedID", err)
	}
	if _, err := c.Decode(pos, Record{PaletteVersion: 1, Value: 3}); !errors.Is(err, ErrUnmappedID) {
		t.Fatalf("scalar err=%v want ErrUnmappedID", err)
	}
	if _, err := c.Decode(pos, Record{PaletteVersion: 1, Value: 9}); !errors.Is(err, ErrUnmappedID) {
		t.Fatalf("out of range err=%v want ErrUnmappedID", err)
	}
}

func TestDecodeUnknownVersion(t *testing.T) {
	_, err := newCodec().Decode(pos, Record{PaletteVersion: 9})
	if !errors.Is(err, ErrUnknownVersion) {
		t.Fatalf("err=%v", err)
	}
}

func TestDecodeMalformed(t *testing.T) {
	c := newCodec()
	vals := make([]uint32, cube.ChunkVolume)
	vals[5] = 2
	cases := map[string]Record{
		"odd length":     {PaletteVersion: 2, Data: make([]byte, 100)},
		"too wide":       {PaletteVersion: 2, Data: make([]byte, 33*bytesPerBit)},
		"negative value": {PaletteVersion: 2, Value: -4},
		"value too big":  {PaletteVersion: 2, Value: 6000},
		"local index":    {PaletteVersion: 2, Data: pack(vals, 2), Local: []int32{0, 1}},
		"local no data":  {PaletteVersion: 2, Local: []int32{1}},
		"id too big":     {PaletteVersion: 2, Data: pack(append([]uint32{7000}, vals[1:]...), 13)},
	}
	for name, rec := range cases {
		if _, err := c.Decode(pos, rec); !errors.Is(err, ErrMalformed) {
			t.Fatalf("%s: err=%v want ErrMalformed", name, err)
		}
	}
	if _, _, err := c.DecodeDoc(pos, []byte{0xff, 0x00}); !errors.Is(err, ErrMalformed) {
		t.Fatalf("garbage doc: err=%v", err)
	}
}

func TestPackLayout(t *testing.T) {
	b := pack([]uint32{1, 2, 3, 0, 5}, 3)
	// bits: 001 010 011 000 101 low first -> 0b11_010_001, 0b0_101_000_0 ...
	if b[0] != 0xd1 || b[1] != 0x50 {
		t.Fatalf("layout %08b %08b", b[0], b[1])
	}
	for width := 1; width <= 32; width++ {
		vals := make([]uint32, cube.ChunkVolume)
		top := uint32(1<<width - 1)
		for i := range vals {
			vals[i] = top - uint32(i)%(top/2+1)
		}
		data := pack(vals, width)
		if len(data) != width*bytesPerBit {
			t.Fatalf("width %d: len=%d", width, len(data))
		}
		got := make([]uint32, cube.ChunkVolume)
		unpack(data, width, got)
		for i := range vals {
			if got[i] != vals[i] {
				t.Fatalf("width %d cell %d: %d != %d", width, i, got[i], vals[i])
			}
		}
	}
}

func decodeTags(t *testing.T, doc []byte) map[string]any {
	t.Helper()
	var m map[string]any
	if err := nbt.NewDecoderWithEncoding(bytes.NewReader(doc), nbt.BigEndian).Decode(&m); err != nil {
		t.Fatalf("decode tags: %v", err)
	}
	return m
}

func encodeTags(t *testing.T, m map[string]any) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := nbt.NewEncoderWithEncoding(&buf, nbt.BigEndian).Encode(m); err != nil {
		t.Fatalf("encode tags: %v", err)
	}
	return buf.Bytes()
}

func TestRecordWireLayout(t *testing.T) {
	doc, err := Marshal(Record{PaletteVersion: 2, Value: 7})
	if err != nil {
		t.Fatalf("Marshal scalar: %v", err)
	}
	m := decodeTags(t, doc)
	if v, ok := m["data"].(int32); !ok || v != 7 {
		t.Fatalf("scalar data=%#v want TAG_Int 7", m["data"])
	}
	if _, ok := m["value"]; ok {
		t.Fatalf("scalar record carries a value tag")
	}
	if _, ok := m["local"]; ok {
		t.Fatalf("scalar record carries a local tag")
	}
	if v, ok := m["paletteVersion"].(int32); !ok || v != 2 {
		t.Fatalf("paletteVersion=%#v", m["paletteVersion"])
	}

	vals := make([]uint32, cube.ChunkVolume)
	vals[1] = 1
	packed := Record{PaletteVersion: 2, Data: pack(vals, 1), Local: []int32{0x01020304, -1}}
	doc, err = Marshal(packed)
	if err != nil {
		t.Fatalf("Marshal packed: %v", err)
	}
	m = decodeTags(t, doc)
	data, ok := bytesOf(m["data"])
	if !ok || !bytes.Equal(data, packed.Data) {
		t.Fatalf("packed data=%T want TAG_Byte_Array", m["data"])
	}
	local, ok := bytesOf(m["local"])
	if !ok || !bytes.Equal(local, []byte{1, 2, 3, 4, 0xff, 0xff, 0xff, 0xff}) {
		t.Fatalf("local=%#v want big-endian int32 bytes", m["local"])
	}

	back, err := Unmarshal(doc)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if back.Scalar() || !bytes.Equal(back.Data, packed.Data) || len(back.Local) != 2 || back.Local[0] != 0x01020304 || back.Local[1] != -1 {
		t.Fatalf("round trip=%+v", back)
	}
}

func TestUnmarshalRejectsBadTags(t *testing.T) {
	cases := map[string]map[string]any{
		"missing data":     {"paletteVersion": int32(2)},
		"missing version":  {"data": int32(1)},
		"string data":      {"paletteVersion": int32(2), "data": "x"},
		"int array data":   {"paletteVersion": int32(2), "data": [2]int32{1, 2}},
		"ragged local":     {"paletteVersion": int32(2), "data": [512]byte{}, "local": [6]byte{}},
		"scalar and local": {"paletteVersion": int32(2), "data": int32(1), "local": [4]byte{}},
	}
	for name, tags := range cases {
		if _, err := Unmarshal(encodeTags(t, tags)); !errors.Is(err, ErrMalformed) {
			t.Fatalf("%s: err=%v want ErrMalformed", name, err)
		}
	}
}
