package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"voxelstream.ai/internal/persistence/codec"
	"voxelstream.ai/internal/persistence/docstore"
	"voxelstream.ai/internal/persistence/levelstore"
	persistlog "voxelstream.ai/internal/persistence/log"
	"voxelstream.ai/internal/persistence/palette"
	"voxelstream.ai/internal/persistence/snapshot"
	"voxelstream.ai/internal/sim/catalogs"
	"voxelstream.ai/internal/sim/cube"
	"voxelstream.ai/internal/sim/tuning"
)

// The offline commands open a level's store directly. Run them only while no server holds it.

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

type levelFlags struct {
	config  *string
	configs *string
	data    *string
	level   *string
	debug   *bool
}

func addLevelFlags(fs *flag.FlagSet) *levelFlags {
	return &levelFlags{
		config:  fs.String("config", "", "engine config path (empty for defaults)"),
		configs: fs.String("configs", "./configs", "config directory holding cells.json"),
		data:    fs.String("data", "", "runtime data directory (overrides level.data_dir)"),
		level:   fs.String("level", "", "level id (overrides level.id)"),
		debug:   fs.Bool("v", false, "log store activity to stderr"),
	}
}

type offlineLevel struct {
	dir     string
	id      string
	store   docstore.Store
	table   *catalogs.Table
	storage *levelstore.Storage
	log     zerolog.Logger
}

// openStore opens only the document store of the level.
func (f *levelFlags) openStore() (*offlineLevel, error) {
	tune, err := tuning.Load(*f.config)
	if err != nil {
		return nil, err
	}
	if s := strings.TrimSpace(*f.data); s != "" {
		tune.Level.DataDir = s
	}
	if s := strings.TrimSpace(*f.level); s != "" {
		tune.Level.ID = s
	}
	log := zerolog.Nop()
	if *f.debug {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}

	dir := filepath.Join(tune.Level.DataDir, "levels", tune.Level.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	path := tune.Storage.Path
	if !filepath.IsAbs(path) {
		path = filepath.Join(dir, path)
	}
	store, err := docstore.Open(tune.Storage.Backend, path, docstore.Options{Compress: tune.Storage.Compress, Log: log})
	if err != nil {
		return nil, err
	}
	return &offlineLevel{dir: dir, id: tune.Level.ID, store: store, log: log}, nil
}

// open additionally reconciles the cell palette and starts chunk storage, as the server does.
func (f *levelFlags) open(ctx context.Context) (*offlineLevel, error) {
	o, err := f.openStore()
	if err != nil {
		return nil, err
	}
	o.table, err = catalogs.Load(*f.configs)
	if err != nil {
		o.Close()
		return nil, err
	}
	o.storage, err = levelstore.Open(ctx, levelstore.Options{
		Store:    o.store,
		Palettes: palette.NewManager(o.store, o.log),
		Table:    o.table,
		Name:     o.id,
		Log:      o.log,
	})
	if err != nil {
		o.Close()
		return nil, err
	}
	return o, nil
}

func (o *offlineLevel) Close() {
	if o.storage != nil {
		_ = o.storage.Close()
	}
	_ = o.store.Close()
}

func paletteCmd(args []string, w io.Writer) error {
	fs := newFlagSet("palette")
	lf := addLevelFlags(fs)
	showEntries := fs.Bool("entries", false, "list the descriptors of the current version")
	if err := fs.Parse(args); err != nil {
		return usageError(err.Error())
	}
	ctx := context.Background()
	o, err := lf.open(ctx)
	if err != nil {
		return err
	}
	defer o.Close()

	pal := o.storage.Palette()
	fmt.Fprintf(w, "palette=%s entries=%d current=%d digest=%s\n", pal.Name(), pal.Len(), pal.CurrentVersionID(), o.table.Digest)
	for _, v := range pal.Versions() {
		mark := ""
		if v.Current {
			mark = " (current)"
		}
		fmt.Fprintf(w, "version %d: entries=%d unmapped=%d%s\n", v.ID, v.Entries, v.Unmapped, mark)
	}
	if *showEntries {
		for i := 0; i < pal.Len(); i++ {
			d, _ := pal.Descriptor(int32(i))
			fmt.Fprintf(w, "%5d %s\n", i, d)
		}
	}
	return nil
}

func chunkCmd(args []string, w io.Writer) error {
	fs := newFlagSet("chunk")
	lf := addLevelFlags(fs)
	posFlag := fs.String("pos", "", "chunk position x,y,z (required)")
	if err := fs.Parse(args); err != nil {
		return usageError(err.Error())
	}
	if strings.TrimSpace(*posFlag) == "" {
		return usageError("missing -pos")
	}
	v, err := parseVec3(*posFlag)
	if err != nil {
		return usageError("bad -pos: " + err.Error())
	}
	pos := cube.Pos(v[0], v[1], v[2])
	key, ok := pos.Key()
	if !ok {
		return fmt.Errorf("%v is outside the storable range", pos)
	}

	ctx := context.Background()
	o, err := lf.open(ctx)
	if err != nil {
		return err
	}
	defer o.Close()

	col, err := o.store.Collection(levelstore.ChunkCollection)
	if err != nil {
		return err
	}
	doc, found, err := col.FindByID(ctx, key)
	if err != nil {
		return err
	}
	if !found {
		fmt.Fprintf(w, "chunk %v: not stored\n", pos)
		return nil
	}
	rec, err := codec.Unmarshal(doc)
	if err != nil {
		return fmt.Errorf("chunk %v: %w", pos, err)
	}
	if rec.Scalar() {
		fmt.Fprintf(w, "chunk %v: key=%d bytes=%d palette_version=%d form=scalar value=%d\n", pos, key, len(doc), rec.PaletteVersion, rec.Value)
	} else {
		width, _ := rec.Width()
		fmt.Fprintf(w, "chunk %v: key=%d bytes=%d palette_version=%d form=packed width=%d local=%d\n", pos, key, len(doc), rec.PaletteVersion, width, len(rec.Local))
	}

	c, _, err := o.storage.TryLoad(ctx, pos)
	var de *levelstore.DecodeError
	if errors.As(err, &de) {
		fmt.Fprintf(w, "decode failed (palette version %d): %v\n", de.PaletteVersion, de.Err)
		return err
	}
	if err != nil {
		return err
	}

	counts := map[string]int{}
	for _, id := range c.Cells() {
		name := fmt.Sprintf("#%d", id)
		if cell, ok := o.table.Cell(id); ok {
			name = cell.Key()
		}
		counts[name]++
	}
	names := make([]string, 0, len(counts))
	for n := range counts {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool {
		if counts[names[i]] != counts[names[j]] {
			return counts[names[i]] > counts[names[j]]
		}
		return names[i] < names[j]
	})
	for _, n := range names {
		fmt.Fprintf(w, "%6d %s\n", counts[n], n)
	}
	return nil
}

func exportCmd(args []string, w io.Writer) error {
	fs := newFlagSet("export")
	lf := addLevelFlags(fs)
	out := fs.String("out", "", "snapshot output path (required)")
	if err := fs.Parse(args); err != nil {
		return usageError(err.Error())
	}
	if strings.TrimSpace(*out) == "" {
		return usageError("missing -out")
	}
	ctx := context.Background()
	o, err := lf.open(ctx)
	if err != nil {
		return err
	}
	defer o.Close()

	snap, err := snapshot.Export(ctx, o.store, snapshot.Header{
		Version:   snapshot.Version,
		LevelGUID: o.storage.GUID().String(),
		Level:     o.id,
		Created:   time.Now().UTC().Unix(),
	})
	if err != nil {
		return err
	}
	if err := snapshot.Write(*out, snap); err != nil {
		return err
	}
	fmt.Fprintf(w, "export ok: level=%s guid=%s collections=%d docs=%d out=%s\n", o.id, snap.Header.LevelGUID, len(snap.Collections), snap.Docs(), *out)
	return nil
}

func importCmd(args []string, w io.Writer) error {
	fs := newFlagSet("import")
	lf := addLevelFlags(fs)
	in := fs.String("in", "", "snapshot to import (required)")
	if err := fs.Parse(args); err != nil {
		return usageError(err.Error())
	}
	if strings.TrimSpace(*in) == "" {
		return usageError("missing -in")
	}
	snap, err := snapshot.Read(*in)
	if err != nil {
		return err
	}
	// Only the raw store: reconciling the palette first would add a version the import then drops.
	o, err := lf.openStore()
	if err != nil {
		return err
	}
	defer o.Close()

	if err := snapshot.Import(context.Background(), o.store, snap); err != nil {
		return err
	}
	fmt.Fprintf(w, "import ok: level=%s from=%s guid=%s tick=%d docs=%d\n", o.id, filepath.Base(*in), snap.Header.LevelGUID, snap.Header.Tick, snap.Docs())
	return nil
}

func journalCmd(args []string, w io.Writer) error {
	fs := newFlagSet("journal")
	dataDir := fs.String("data", "./data", "runtime data directory")
	levelID := fs.String("level", "overworld", "level id")
	if err := fs.Parse(args); err != nil {
		return usageError(err.Error())
	}
	entries, err := persistlog.ReadCorruptionJournal(filepath.Join(*dataDir, "levels", *levelID))
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(w, "no decode failures recorded")
		return nil
	}
	for _, e := range entries {
		fmt.Fprintf(w, "%s pos=%d,%d,%d palette_version=%d action=%s error=%s\n",
			e.Time, e.Pos[0], e.Pos[1], e.Pos[2], e.PaletteVersion, e.Action, e.Error)
	}
	return nil
}
