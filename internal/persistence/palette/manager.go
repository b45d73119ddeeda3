package palette

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog"

	"voxelstream.ai/internal/persistence/docstore"
)

// CollectionPrefix prefixes the store collection holding a palette's versions.
const CollectionPrefix = "palette."

var ErrDuplicateDescriptor = errors.New("palette: duplicate descriptor")

// Manager reconciles the current in-memory dictionaries of one save with every dictionary version
// stored in it. Each named palette is loaded once; the result is read-only.
type Manager struct {
	store docstore.Store
	log   zerolog.Logger

	mu          sync.Mutex
	collections map[string]*Collection
}

func NewManager(store docstore.Store, log zerolog.Logger) *Manager {
	return &Manager{store: store, log: log, collections: map[string]*Collection{}}
}

// Register loads the palette name for entries, using key to produce each entry's canonical
// descriptor. Entry i is current id i.
func Register[T any](ctx context.Context, m *Manager, name string, entries []T, key func(T) string) (*Collection, error) {
	descs := make([]string, len(entries))
	for i, e := range entries {
		descs[i] = key(e)
	}
	return m.Load(ctx, name, descs)
}

// Collection returns a palette loaded earlier.
func (m *Manager) Collection(name string) (*Collection, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collections[name]
	return c, ok
}

// Load reconciles the current dictionary descs with the stored versions of palette name. A stored
// version identical to descs becomes current; otherwise descs is appended as a new version.
func (m *Manager) Load(ctx context.Context, name string, descs []string) (*Collection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.collections[name]; ok {
		return c, nil
	}

	c, err := newCollection(name, descs)
	if err != nil {
		return nil, err
	}
	store, err := m.store.Collection(CollectionPrefix + name)
	if err != nil {
		return nil, err
	}

	current := int32(0)
	var maxID int64
	err = store.FindAll(ctx, func(id int64, doc []byte) error {
		rec, err := decodeVersion(doc)
		if err != nil {
			return fmt.Errorf("palette %s version %d: %w", name, id, err)
		}
		if int64(rec.ID) != id {
			m.log.Warn().Str("palette", name).Int64("doc_id", id).Int32("record_id", rec.ID).Msg("palette version id mismatch, using document id")
		}
		vid := int32(id)
		conv := c.convert(rec.Entries)
		c.versions[vid] = conv
		c.stored[vid] = len(rec.Entries)
		if conv.IsIdentity(len(descs)) {
			current = vid
		}
		maxID = max(maxID, id)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if current == 0 {
		next := int32(maxID + 1)
		doc, err := encodeVersion(versionRecord{ID: next, Entries: descs})
		if err != nil {
			return nil, err
		}
		id, err := store.Insert(ctx, doc)
		if err != nil {
			return nil, fmt.Errorf("palette %s: append version: %w", name, err)
		}
		if int32(id) != next {
			// Another writer appended meanwhile; rewrite with the id we actually got.
			doc, err := encodeVersion(versionRecord{ID: int32(id), Entries: descs})
			if err != nil {
				return nil, err
			}
			if err := store.Upsert(ctx, id, doc); err != nil {
				return nil, err
			}
		}
		current = int32(id)
		c.versions[current] = identity(len(descs))
		c.stored[current] = len(descs)
		m.log.Info().Str("palette", name).Int32("version", current).Int("entries", len(descs)).Msg("appended palette version")
	}
	c.current = current

	for vid, conv := range c.versions {
		if vid == current {
			continue
		}
		if n := conv.UnmappedCount(); n > 0 {
			m.log.Warn().Str("palette", name).Int32("version", vid).Int("unmapped", n).Msg("stored palette version references removed entries")
		}
	}
	m.collections[name] = c
	return c, nil
}

// Collection is one named palette of a save: the current dictionary plus a converter per stored
// version.
type Collection struct {
	name    string
	current int32
	descs   []string
	// xxhash digest of a descriptor -> current ids with that digest
	index map[uint64][]int32

	versions map[int32]Converter
	stored   map[int32]int
}

func newCollection(name string, descs []string) (*Collection, error) {
	c := &Collection{
		name:     name,
		descs:    append([]string(nil), descs...),
		index:    make(map[uint64][]int32, len(descs)),
		versions: map[int32]Converter{},
		stored:   map[int32]int{},
	}
	for i, d := range descs {
		if _, ok := c.lookup(d); ok {
			return nil, fmt.Errorf("%w: %s in palette %s", ErrDuplicateDescriptor, d, name)
		}
		h := xxhash.Sum64String(d)
		c.index[h] = append(c.index[h], int32(i))
	}
	return c, nil
}

func (c *Collection) lookup(desc string) (int32, bool) {
	for _, id := range c.index[xxhash.Sum64String(desc)] {
		if c.descs[id] == desc {
			return id, true
		}
	}
	return Unmapped, false
}

func (c *Collection) convert(stored []string) Converter {
	conv := make(Converter, len(stored))
	for i, d := range stored {
		conv[i], _ = c.lookup(d)
	}
	return conv
}

func (c *Collection) Name() string { return c.name }

// CurrentVersionID is the version id chunk records written now must carry.
func (c *Collection) CurrentVersionID() int32 { return c.current }

// Len is the size of the current dictionary.
func (c *Collection) Len() int { return len(c.descs) }

// Descriptor returns the canonical descriptor of current id.
func (c *Collection) Descriptor(id int32) (string, bool) {
	if id < 0 || int(id) >= len(c.descs) {
		return "", false
	}
	return c.descs[id], true
}

// TryGetConverter returns the converter of a stored version.
func (c *Collection) TryGetConverter(version int32) (Converter, bool) {
	conv, ok := c.versions[version]
	return conv, ok
}

// VersionInfo describes one stored version.
type VersionInfo struct {
	ID       int32
	Entries  int
	Unmapped int
	Current  bool
}

// Versions lists every known version in id order.
func (c *Collection) Versions() []VersionInfo {
	out := make([]VersionInfo, 0, len(c.versions))
	for id, conv := range c.versions {
		out = append(out, VersionInfo{
			ID:       id,
			Entries:  c.stored[id],
			Unmapped: conv.UnmappedCount(),
			Current:  id == c.current,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
