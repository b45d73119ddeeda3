package catalogs

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"voxelstream.ai/internal/sim/chunk"
)

// CellDef is one entry of cells.json. A def without states contributes a single cell.
type CellDef struct {
	ID     string              `json:"id"`
	Solid  bool                `json:"solid"`
	Fluid  bool                `json:"fluid,omitempty"`
	States []map[string]string `json:"states,omitempty"`
}

// Cell is one concrete cell state: a def id plus a property assignment.
type Cell struct {
	Name       string
	Properties map[string]string
}

// Key returns the canonical descriptor of the cell, NAME or NAME[k=v,...] with sorted keys.
func (c Cell) Key() string {
	if len(c.Properties) == 0 {
		return c.Name
	}
	keys := make([]string, 0, len(c.Properties))
	for k := range c.Properties {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(c.Name)
	b.WriteByte('[')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(c.Properties[k])
	}
	b.WriteByte(']')
	return b.String()
}

// Table is the process-wide cell table: built once at startup, read-only afterwards.
type Table struct {
	cells  []Cell
	index  map[string]chunk.CellID
	byName map[string]chunk.CellID
	defs   map[string]CellDef

	Digest     string
	DefsDigest string
}

func Load(configDir string) (*Table, error) {
	path := filepath.Join(configDir, "cells.json")
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	t, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("cells.json: %w", err)
	}
	return t, nil
}

// Parse builds a table from cells.json content.
func Parse(raw []byte) (*Table, error) {
	var defs []CellDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return nil, err
	}
	byID := map[string]CellDef{}
	for _, d := range defs {
		if d.ID == "" {
			return nil, fmt.Errorf("empty id")
		}
		if _, dup := byID[d.ID]; dup {
			return nil, fmt.Errorf("duplicate id %s", d.ID)
		}
		byID[d.ID] = d
	}
	if _, ok := byID["AIR"]; !ok {
		return nil, fmt.Errorf("missing AIR")
	}
	if len(byID["AIR"].States) > 0 {
		return nil, fmt.Errorf("AIR must not declare states")
	}

	ids := make([]string, 0, len(byID))
	for id := range byID {
		if id != "AIR" {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	// AIR is always cell 0.
	ids = append([]string{"AIR"}, ids...)

	t := &Table{
		index:  map[string]chunk.CellID{},
		byName: map[string]chunk.CellID{},
		defs:   byID,
	}
	for _, id := range ids {
		d := byID[id]
		states := d.States
		if len(states) == 0 {
			states = []map[string]string{nil}
		}
		for _, props := range states {
			c := Cell{Name: id, Properties: props}
			k := c.Key()
			if _, dup := t.index[k]; dup {
				return nil, fmt.Errorf("duplicate state %s", k)
			}
			cid := chunk.CellID(len(t.cells))
			t.cells = append(t.cells, c)
			t.index[k] = cid
			if _, ok := t.byName[id]; !ok {
				t.byName[id] = cid
			}
		}
	}

	t.DefsDigest = sha256Hex(raw)
	keysJSON, _ := json.Marshal(t.Keys())
	t.Digest = sha256Hex(keysJSON)
	return t, nil
}

func (t *Table) Len() int { return len(t.cells) }

func (t *Table) Cells() []Cell {
	out := make([]Cell, len(t.cells))
	copy(out, t.cells)
	return out
}

func (t *Table) Cell(id chunk.CellID) (Cell, bool) {
	if int(id) >= len(t.cells) {
		return Cell{}, false
	}
	return t.cells[id], true
}

func (t *Table) Keys() []string {
	out := make([]string, len(t.cells))
	for i, c := range t.cells {
		out[i] = c.Key()
	}
	return out
}

// Lookup resolves a canonical descriptor.
func (t *Table) Lookup(key string) (chunk.CellID, bool) {
	id, ok := t.index[key]
	return id, ok
}

// ByName returns the first state of a def; 0 (air) if the def is unknown.
func (t *Table) ByName(name string) chunk.CellID {
	return t.byName[name]
}

func (t *Table) Def(name string) (CellDef, bool) {
	d, ok := t.defs[name]
	return d, ok
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
