package snapshot

import (
	"bufio"
	"context"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/klauspost/compress/zstd"

	"voxelstream.ai/internal/persistence/docstore"
)

const Version = 1

type Header struct {
	Version   int    `json:"version"`
	LevelGUID string `json:"level_guid"`
	Level     string `json:"level"`
	Tick      uint64 `json:"tick"`
	Created   int64  `json:"created"`
}

// Snapshot is a full copy of a level's document store: chunk records, palette versions and meta,
// exactly as stored.
type Snapshot struct {
	Header      Header
	Collections []Collection
}

type Collection struct {
	Name string
	Docs []Doc
}

type Doc struct {
	ID   int64
	Body []byte
}

// Docs returns the number of documents across all collections.
func (s Snapshot) Docs() int {
	n := 0
	for _, c := range s.Collections {
		n += len(c.Docs)
	}
	return n
}

// Export copies every collection of store. Callers flush pending writes first.
func Export(ctx context.Context, store docstore.Store, h Header) (Snapshot, error) {
	names, err := store.Collections(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	sort.Strings(names)
	h.Version = Version
	snap := Snapshot{Header: h}
	for _, name := range names {
		col, err := store.Collection(name)
		if err != nil {
			return Snapshot{}, err
		}
		out := Collection{Name: name}
		err = col.FindAll(ctx, func(id int64, doc []byte) error {
			out.Docs = append(out.Docs, Doc{ID: id, Body: append([]byte(nil), doc...)})
			return nil
		})
		if err != nil {
			return Snapshot{}, fmt.Errorf("export %s: %w", name, err)
		}
		snap.Collections = append(snap.Collections, out)
	}
	return snap, nil
}

// Import replaces the contents of every collection named in snap. Collections the snapshot does
// not name are left alone.
func Import(ctx context.Context, store docstore.Store, snap Snapshot) error {
	if snap.Header.Version != Version {
		return fmt.Errorf("snapshot: unsupported version %d", snap.Header.Version)
	}
	for _, c := range snap.Collections {
		col, err := store.Collection(c.Name)
		if err != nil {
			return err
		}
		var stale []int64
		err = col.FindAll(ctx, func(id int64, _ []byte) error {
			stale = append(stale, id)
			return nil
		})
		if err != nil {
			return fmt.Errorf("import %s: %w", c.Name, err)
		}
		for _, id := range stale {
			if err := col.Delete(ctx, id); err != nil {
				return fmt.Errorf("import %s: %w", c.Name, err)
			}
		}
		for _, d := range c.Docs {
			if err := col.Upsert(ctx, d.ID, d.Body); err != nil {
				return fmt.Errorf("import %s/%d: %w", c.Name, d.ID, err)
			}
		}
	}
	return nil
}

// Write stores snap at path as a zstd stream: one JSON header line followed by the gob body.
func Write(path string, snap Snapshot) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if err := encode(f, snap); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func encode(f *os.File, snap Snapshot) error {
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	return enc.Close()
}

// ReadHeader reads only the header line of the snapshot at path.
func ReadHeader(path string) (Header, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, err
	}
	defer dec.Close()
	line, err := bufio.NewReader(dec).ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("snapshot header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("snapshot header: %w", err)
	}
	return h, nil
}

func Read(path string) (Snapshot, error) {
	var snap Snapshot
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)
	// The gob body repeats the header.
	if _, err := br.ReadBytes('\n'); err != nil {
		return snap, fmt.Errorf("snapshot header: %w", err)
	}
	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	return snap, nil
}
