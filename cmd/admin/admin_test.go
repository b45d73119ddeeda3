package main

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	persistlog "voxelstream.ai/internal/persistence/log"
	"voxelstream.ai/internal/sim/cube"
)

const configsDir = "../../configs"

func levelArgs(data string, extra ...string) []string {
	return append([]string{"-data", data, "-configs", configsDir}, extra...)
}

func runOK(t *testing.T, cmd string, args []string) string {
	t.Helper()
	var buf bytes.Buffer
	if err := run(cmd, args, &buf); err != nil {
		t.Fatalf("%s %v: %v\n%s", cmd, args, err, buf.String())
	}
	return buf.String()
}

func seedChunk(t *testing.T, data string, pos cube.ChunkPos) {
	t.Helper()
	fs := newFlagSet("seed")
	lf := addLevelFlags(fs)
	if err := fs.Parse(levelArgs(data)); err != nil {
		t.Fatalf("parse: %v", err)
	}
	ctx := context.Background()
	o, err := lf.open(ctx)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer o.Close()

	c, err := o.storage.Factory().Filled(pos, o.table.ByName("STONE"))
	if err != nil {
		t.Fatalf("filled: %v", err)
	}
	if err := c.Set(0, 0, 0, o.table.ByName("DIRT")); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := o.storage.Write(ctx, c); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestChunkAndPalette(t *testing.T) {
	data := t.TempDir()
	seedChunk(t, data, cube.Pos(1, 2, 3))

	out := runOK(t, "chunk", levelArgs(data, "-pos", "1,2,3"))
	for _, want := range []string{"form=packed", "palette_version=1", "4095 STONE", "1 DIRT"} {
		if !strings.Contains(out, want) {
			t.Fatalf("chunk output missing %q:\n%s", want, out)
		}
	}

	out = runOK(t, "chunk", levelArgs(data, "-pos", "9,9,9"))
	if !strings.Contains(out, "not stored") {
		t.Fatalf("missing chunk output:\n%s", out)
	}

	out = runOK(t, "palette", levelArgs(data))
	if !strings.Contains(out, "version 1:") || !strings.Contains(out, "(current)") {
		t.Fatalf("palette output:\n%s", out)
	}
	if strings.Contains(out, "version 2:") {
		t.Fatalf("reopening with the same catalog appended a version:\n%s", out)
	}

	out = runOK(t, "levels", []string{"-data", data})
	if strings.TrimSpace(out) != "overworld" {
		t.Fatalf("levels=%q", out)
	}
}

func TestExportImport(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	seedChunk(t, src, cube.Pos(-4, 0, 7))

	snapPath := filepath.Join(t.TempDir(), "level.snap.zst")
	out := runOK(t, "export", levelArgs(src, "-out", snapPath))
	if !strings.Contains(out, "export ok") {
		t.Fatalf("export output:\n%s", out)
	}
	out = runOK(t, "import", levelArgs(dst, "-in", snapPath))
	if !strings.Contains(out, "import ok") {
		t.Fatalf("import output:\n%s", out)
	}

	out = runOK(t, "chunk", levelArgs(dst, "-pos", "-4,0,7"))
	if !strings.Contains(out, "4095 STONE") {
		t.Fatalf("imported chunk:\n%s", out)
	}
}

func TestJournal(t *testing.T) {
	data := t.TempDir()
	out := runOK(t, "journal", []string{"-data", data})
	if !strings.Contains(out, "no decode failures") {
		t.Fatalf("empty journal:\n%s", out)
	}

	j := persistlog.NewCorruptionJournal(filepath.Join(data, "levels", "overworld"))
	if err := j.RecordDecodeFailure(persistlog.DecodeFailure{
		Level:          "overworld",
		Pos:            [3]int32{1, -2, 3},
		PaletteVersion: 4,
		Error:          "unknown palette version",
		Action:         "regenerated",
	}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	out = runOK(t, "journal", []string{"-data", data})
	if !strings.Contains(out, "pos=1,-2,3 palette_version=4 action=regenerated") {
		t.Fatalf("journal output:\n%s", out)
	}
}

func TestUsageErrors(t *testing.T) {
	var buf bytes.Buffer
	var ue usageError
	if err := run("nope", nil, &buf); !errors.As(err, &ue) {
		t.Fatalf("unknown command: %v", err)
	}
	if err := run("chunk", levelArgs(t.TempDir()), &buf); !errors.As(err, &ue) {
		t.Fatalf("chunk without -pos: %v", err)
	}
	if err := run("export", levelArgs(t.TempDir()), &buf); !errors.As(err, &ue) {
		t.Fatalf("export without -out: %v", err)
	}
	if err := run("cell", []string{"-pos", "1,2"}, &buf); !errors.As(err, &ue) {
		t.Fatalf("cell with bad -pos: %v", err)
	}
}

func TestCellCallsServer(t *testing.T) {
	var got []string
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		got = append(got, r.Method+" "+r.URL.Path+" "+r.URL.Query().Get("pos")+" "+r.URL.Query().Get("cell"))
		if r.URL.Query().Get("cell") == "9" {
			http.Error(rw, `{"ok":false}`, http.StatusBadRequest)
			return
		}
		_, _ = rw.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	if out := runOK(t, "cell", []string{"-url", srv.URL, "-pos", "3,-18,5"}); !strings.Contains(out, `"ok":true`) {
		t.Fatalf("read output %q", out)
	}
	runOK(t, "cell", []string{"-url", srv.URL, "-pos", "3,-18,5", "-set", "2"})
	var buf bytes.Buffer
	if err := run("cell", []string{"-url", srv.URL, "-pos", "0,0,0", "-set", "9"}, &buf); err == nil {
		t.Fatalf("rejected write reported success")
	}
	want := []string{
		"GET /admin/v1/cell 3,-18,5 ",
		"POST /admin/v1/cell 3,-18,5 2",
		"POST /admin/v1/cell 0,0,0 9",
	}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("requests=%q", got)
	}
}

func TestParseVec3(t *testing.T) {
	v, err := parseVec3(" 1, -2 ,3")
	if err != nil || v != [3]int{1, -2, 3} {
		t.Fatalf("parseVec3=%v,%v", v, err)
	}
	if _, err := parseVec3("1,2"); err == nil {
		t.Fatalf("expected error for two components")
	}
}
