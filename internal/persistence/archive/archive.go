package archive

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"voxelstream.ai/internal/persistence/snapshot"
)

const suffix = ".snap.zst"

// Meta is written next to every archived snapshot.
type Meta struct {
	Tick       uint64 `json:"tick"`
	Level      string `json:"level"`
	LevelGUID  string `json:"level_guid"`
	Snapshot   string `json:"snapshot"`
	Created    int64  `json:"created"`
	ArchivedAt string `json:"archived_at"`
}

// Entry is one snapshot file of a level.
type Entry struct {
	Tick uint64
	Path string
}

// Path returns where the snapshot of tick belongs in levelDir.
func Path(levelDir string, tick uint64) string {
	return filepath.Join(levelDir, "snapshots", fmt.Sprintf("%d%s", tick, suffix))
}

// List returns the live snapshots of levelDir, oldest tick first. Files not named <tick>.snap.zst
// are ignored.
func List(levelDir string) ([]Entry, error) {
	dir := filepath.Join(levelDir, "snapshots")
	ents, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []Entry
	for _, e := range ents {
		if e.IsDir() || !strings.HasSuffix(e.Name(), suffix) {
			continue
		}
		tick, err := strconv.ParseUint(strings.TrimSuffix(e.Name(), suffix), 10, 64)
		if err != nil {
			continue
		}
		out = append(out, Entry{Tick: tick, Path: filepath.Join(dir, e.Name())})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tick < out[j].Tick })
	return out, nil
}

// Latest returns the path of the newest live snapshot, or "" when there is none.
func Latest(levelDir string) string {
	entries, err := List(levelDir)
	if err != nil || len(entries) == 0 {
		return ""
	}
	return entries[len(entries)-1].Path
}

// Rotate keeps the newest keep live snapshots and moves every older one to
// levelDir/archives/<tick>/ with a meta.json describing it. keep <= 0 disables rotation.
func Rotate(levelDir string, keep int) (archived []string, err error) {
	if keep <= 0 {
		return nil, nil
	}
	entries, err := List(levelDir)
	if err != nil {
		return nil, err
	}
	if len(entries) <= keep {
		return nil, nil
	}
	for _, e := range entries[:len(entries)-keep] {
		dst, err := archiveOne(levelDir, e)
		if err != nil {
			return archived, fmt.Errorf("archive %s: %w", filepath.Base(e.Path), err)
		}
		archived = append(archived, dst)
	}
	return archived, nil
}

func archiveOne(levelDir string, e Entry) (string, error) {
	h, err := snapshot.ReadHeader(e.Path)
	if err != nil {
		return "", err
	}
	dir := filepath.Join(levelDir, "archives", strconv.FormatUint(e.Tick, 10))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	dst := filepath.Join(dir, filepath.Base(e.Path))
	if err := os.Rename(e.Path, dst); err != nil {
		// Cross-device archives fall back to copy and remove.
		if err := copyFile(e.Path, dst); err != nil {
			return "", err
		}
		if err := os.Remove(e.Path); err != nil {
			return "", err
		}
	}

	meta := Meta{
		Tick:       h.Tick,
		Level:      h.Level,
		LevelGUID:  h.LevelGUID,
		Snapshot:   filepath.Base(dst),
		Created:    h.Created,
		ArchivedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	b, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(dir, "meta.json"), b, 0o644); err != nil {
		return "", err
	}
	return dst, nil
}

// ReadMeta reads the meta.json of an archived snapshot directory.
func ReadMeta(dir string) (Meta, error) {
	var m Meta
	b, err := os.ReadFile(filepath.Join(dir, "meta.json"))
	if err != nil {
		return m, err
	}
	err = json.Unmarshal(b, &m)
	return m, err
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
