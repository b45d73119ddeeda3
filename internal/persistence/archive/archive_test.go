package archive

import (
	"os"
	"path/filepath"
	"testing"

	"voxelstream.ai/internal/persistence/snapshot"
)

func writeSnap(t *testing.T, levelDir string, tick uint64) string {
	t.Helper()
	path := Path(levelDir, tick)
	snap := snapshot.Snapshot{Header: snapshot.Header{Version: snapshot.Version, Level: "L", LevelGUID: "g", Tick: tick, Created: 100}}
	if err := snapshot.Write(path, snap); err != nil {
		t.Fatalf("write snapshot %d: %v", tick, err)
	}
	return path
}

func TestListAndLatest(t *testing.T) {
	dir := t.TempDir()
	if got := Latest(dir); got != "" {
		t.Fatalf("latest of empty level=%q", got)
	}
	for _, tick := range []uint64{20, 3, 100} {
		writeSnap(t, dir, tick)
	}
	if err := os.WriteFile(filepath.Join(dir, "snapshots", "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	entries, err := List(dir)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 3 || entries[0].Tick != 3 || entries[2].Tick != 100 {
		t.Fatalf("entries=%+v", entries)
	}
	if got := Latest(dir); got != Path(dir, 100) {
		t.Fatalf("latest=%q", got)
	}
}

func TestRotateArchivesOldest(t *testing.T) {
	dir := t.TempDir()
	for _, tick := range []uint64{1, 2, 3, 4} {
		writeSnap(t, dir, tick)
	}

	archived, err := Rotate(dir, 2)
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if len(archived) != 2 {
		t.Fatalf("archived=%v", archived)
	}
	entries, _ := List(dir)
	if len(entries) != 2 || entries[0].Tick != 3 {
		t.Fatalf("live after rotate=%+v", entries)
	}

	moved := filepath.Join(dir, "archives", "1")
	if _, err := snapshot.ReadHeader(filepath.Join(moved, "1.snap.zst")); err != nil {
		t.Fatalf("archived snapshot unreadable: %v", err)
	}
	m, err := ReadMeta(moved)
	if err != nil {
		t.Fatalf("ReadMeta: %v", err)
	}
	if m.Tick != 1 || m.LevelGUID != "g" || m.Snapshot != "1.snap.zst" || m.ArchivedAt == "" {
		t.Fatalf("meta=%+v", m)
	}

	if archived, err := Rotate(dir, 2); err != nil || len(archived) != 0 {
		t.Fatalf("second rotate archived=%v err=%v", archived, err)
	}
	if archived, err := Rotate(dir, 0); err != nil || archived != nil {
		t.Fatalf("rotate disabled archived=%v err=%v", archived, err)
	}
}
