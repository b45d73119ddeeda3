package docstore

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func openBackends(t *testing.T, compress bool) map[string]Store {
	t.Helper()
	dir := t.TempDir()
	out := map[string]Store{}
	for _, backend := range []string{BackendSQLite, BackendLevelDB} {
		s, err := Open(backend, filepath.Join(dir, backend, "level.db"), Options{Compress: compress})
		if err != nil {
			t.Fatalf("open %s: %v", backend, err)
		}
		t.Cleanup(func() { _ = s.Close() })
		out[backend] = s
	}
	return out
}

func TestCollectionCRUD(t *testing.T) {
	ctx := context.Background()
	for name, s := range openBackends(t, false) {
		c, err := s.Collection("chunks")
		if err != nil {
			t.Fatalf("%s: collection: %v", name, err)
		}
		if _, ok, err := c.FindByID(ctx, 7); err != nil || ok {
			t.Fatalf("%s: FindByID on empty: ok=%v err=%v", name, ok, err)
		}
		if err := c.Upsert(ctx, 7, []byte("seven")); err != nil {
			t.Fatalf("%s: upsert: %v", name, err)
		}
		if err := c.Upsert(ctx, -3, []byte("minus three")); err != nil {
			t.Fatalf("%s: upsert: %v", name, err)
		}
		if err := c.Upsert(ctx, 7, []byte("seven v2")); err != nil {
			t.Fatalf("%s: upsert: %v", name, err)
		}
		doc, ok, err := c.FindByID(ctx, 7)
		if err != nil || !ok || string(doc) != "seven v2" {
			t.Fatalf("%s: FindByID: %q ok=%v err=%v", name, doc, ok, err)
		}
		if has, err := c.Contains(ctx, -3); err != nil || !has {
			t.Fatalf("%s: Contains(-3)=%v err=%v", name, has, err)
		}
		if n, err := c.Count(ctx); err != nil || n != 2 {
			t.Fatalf("%s: Count=%d err=%v", name, n, err)
		}

		var ids []int64
		if err := c.FindAll(ctx, func(id int64, _ []byte) error {
			ids = append(ids, id)
			return nil
		}); err != nil {
			t.Fatalf("%s: FindAll: %v", name, err)
		}
		if len(ids) != 2 || ids[0] != -3 || ids[1] != 7 {
			t.Fatalf("%s: FindAll order: %v", name, ids)
		}

		if err := c.Delete(ctx, -3); err != nil {
			t.Fatalf("%s: delete: %v", name, err)
		}
		if has, _ := c.Contains(ctx, -3); has {
			t.Fatalf("%s: deleted doc still present", name)
		}
	}
}

func TestInsertAutoIncrementsPerCollection(t *testing.T) {
	ctx := context.Background()
	for name, s := range openBackends(t, false) {
		a, _ := s.Collection("palette.cells")
		b, _ := s.Collection("palette.items")
		for want := int64(1); want <= 3; want++ {
			id, err := a.Insert(ctx, []byte{byte(want)})
			if err != nil || id != want {
				t.Fatalf("%s: insert: id=%d err=%v want %d", name, id, err, want)
			}
		}
		if id, err := b.Insert(ctx, []byte("x")); err != nil || id != 1 {
			t.Fatalf("%s: second collection id=%d err=%v", name, id, err)
		}
		cols, err := s.Collections(ctx)
		if err != nil || len(cols) != 2 || cols[0] != "palette.cells" || cols[1] != "palette.items" {
			t.Fatalf("%s: collections=%v err=%v", name, cols, err)
		}
	}
}

func TestFindAllStopsOnError(t *testing.T) {
	ctx := context.Background()
	stop := errors.New("stop")
	for name, s := range openBackends(t, false) {
		c, _ := s.Collection("c")
		for i := int64(1); i <= 5; i++ {
			_ = c.Upsert(ctx, i, []byte("d"))
		}
		seen := 0
		err := c.FindAll(ctx, func(id int64, _ []byte) error {
			seen++
			if id == 2 {
				return stop
			}
			return nil
		})
		if !errors.Is(err, stop) || seen != 2 {
			t.Fatalf("%s: err=%v seen=%d", name, err, seen)
		}
	}
}

func TestCompressedRoundTrip(t *testing.T) {
	ctx := context.Background()
	doc := bytes.Repeat([]byte("stone,stone,dirt,"), 200)
	for name, s := range openBackends(t, true) {
		c, _ := s.Collection("chunks")
		if err := c.Upsert(ctx, 1, doc); err != nil {
			t.Fatalf("%s: upsert: %v", name, err)
		}
		got, ok, err := c.FindByID(ctx, 1)
		if err != nil || !ok || !bytes.Equal(got, doc) {
			t.Fatalf("%s: round trip failed ok=%v err=%v", name, ok, err)
		}
	}
}

func TestFrame(t *testing.T) {
	small := []byte("tiny")
	if f := frame(small, true); f[0] != frameRaw {
		t.Fatalf("small doc compressed")
	}
	big := bytes.Repeat([]byte{1, 2, 3, 4}, 1024)
	f := frame(big, true)
	if f[0] != frameZstd || len(f) >= len(big) {
		t.Fatalf("expected zstd frame, got frame %d len %d", f[0], len(f))
	}
	out, err := unframe(f)
	if err != nil || !bytes.Equal(out, big) {
		t.Fatalf("unframe: %v", err)
	}
	if _, err := unframe([]byte{9, 1}); err == nil {
		t.Fatalf("expected unknown frame error")
	}
}

func TestOpenUnknownBackend(t *testing.T) {
	if _, err := Open("redis", filepath.Join(t.TempDir(), "x"), Options{}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestClosedStore(t *testing.T) {
	ctx := context.Background()
	for name, s := range openBackends(t, false) {
		c, _ := s.Collection("c")
		_ = s.Close()
		if _, _, err := c.FindByID(ctx, 1); !errors.Is(err, ErrClosed) {
			t.Fatalf("%s: err=%v want ErrClosed", name, err)
		}
	}
}
