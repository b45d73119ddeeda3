package palette

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"voxelstream.ai/internal/persistence/docstore"
)

func openStore(t *testing.T) docstore.Store {
	t.Helper()
	s, err := docstore.OpenSQLite(filepath.Join(t.TempDir(), "level.db"), docstore.Options{})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func load(t *testing.T, s docstore.Store, descs ...string) *Collection {
	t.Helper()
	c, err := NewManager(s, zerolog.Nop()).Load(context.Background(), "cells", descs)
	if err != nil {
		t.Fatalf("load %v: %v", descs, err)
	}
	return c
}

func versionCount(t *testing.T, s docstore.Store) int {
	t.Helper()
	col, err := s.Collection(CollectionPrefix + "cells")
	if err != nil {
		t.Fatalf("collection: %v", err)
	}
	n, err := col.Count(context.Background())
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func equalConv(a Converter, b ...int32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestFirstLoadAppendsIdentityVersion(t *testing.T) {
	s := openStore(t)
	c := load(t, s, "AIR", "STONE", "DIRT")
	if c.CurrentVersionID() != 1 {
		t.Fatalf("current=%d want 1", c.CurrentVersionID())
	}
	conv, ok := c.TryGetConverter(1)
	if !ok || !conv.IsIdentity(3) {
		t.Fatalf("converter=%v ok=%v", conv, ok)
	}
	if n := versionCount(t, s); n != 1 {
		t.Fatalf("stored versions=%d", n)
	}
}

func TestIdenticalDictionarySelectsStoredVersion(t *testing.T) {
	s := openStore(t)
	load(t, s, "AIR", "STONE", "DIRT")
	c := load(t, s, "AIR", "STONE", "DIRT")
	if c.CurrentVersionID() != 1 {
		t.Fatalf("current=%d want 1", c.CurrentVersionID())
	}
	conv, _ := c.TryGetConverter(1)
	for i := 0; i < 3; i++ {
		if conv[i] != int32(i) {
			t.Fatalf("converter[%d]=%d", i, conv[i])
		}
	}
	if n := versionCount(t, s); n != 1 {
		t.Fatalf("identical dictionary appended a version: %d", n)
	}
}

func TestChangedDictionaryMigrates(t *testing.T) {
	s := openStore(t)
	load(t, s, "AIR", "STONE", "DIRT")

	c := load(t, s, "AIR", "DIRT", "GRASS", "STONE")
	if c.CurrentVersionID() != 2 {
		t.Fatalf("current=%d want 2", c.CurrentVersionID())
	}
	old, ok := c.TryGetConverter(1)
	if !ok || !equalConv(old, 0, 3, 1) {
		t.Fatalf("v1 converter=%v", old)
	}

	// Going back to the first dictionary reuses version 1; version 2 maps GRASS nowhere.
	c = load(t, s, "AIR", "STONE", "DIRT")
	if c.CurrentVersionID() != 1 {
		t.Fatalf("current=%d want 1", c.CurrentVersionID())
	}
	v2, _ := c.TryGetConverter(2)
	if !equalConv(v2, 0, 2, Unmapped, 1) {
		t.Fatalf("v2 converter=%v", v2)
	}
	if _, ok := v2.Convert(2); ok {
		t.Fatalf("unmapped id converted")
	}
	if _, ok := v2.Convert(9); ok {
		t.Fatalf("out of range id converted")
	}
	if got, ok := v2.Convert(3); !ok || got != 1 {
		t.Fatalf("Convert(3)=%d,%v", got, ok)
	}

	infos := c.Versions()
	if len(infos) != 2 || !infos[0].Current || infos[1].Unmapped != 1 || infos[1].Entries != 4 {
		t.Fatalf("versions=%+v", infos)
	}
	if n := versionCount(t, s); n != 2 {
		t.Fatalf("stored versions=%d", n)
	}
}

func TestUnknownVersion(t *testing.T) {
	c := load(t, openStore(t), "AIR")
	if _, ok := c.TryGetConverter(42); ok {
		t.Fatalf("expected missing version")
	}
}

func TestRegisterUsesKeyFunction(t *testing.T) {
	type cell struct {
		name  string
		state string
	}
	cells := []cell{{"AIR", ""}, {"LOG", "axis=y"}, {"LOG", "axis=x"}}
	m := NewManager(openStore(t), zerolog.Nop())
	c, err := Register(context.Background(), m, "cells", cells, func(c cell) string {
		if c.state == "" {
			return c.name
		}
		return c.name + "[" + c.state + "]"
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if d, _ := c.Descriptor(2); d != "LOG[axis=x]" {
		t.Fatalf("descriptor(2)=%q", d)
	}
	if got, ok := m.Collection("cells"); !ok || got != c {
		t.Fatalf("manager did not keep collection")
	}
}

func TestDuplicateDescriptorRejected(t *testing.T) {
	_, err := NewManager(openStore(t), zerolog.Nop()).Load(context.Background(), "cells", []string{"AIR", "STONE", "AIR"})
	if !errors.Is(err, ErrDuplicateDescriptor) {
		t.Fatalf("err=%v", err)
	}
}
