package docstore

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/df-mc/goleveldb/leveldb"
	"github.com/df-mc/goleveldb/leveldb/opt"
	"github.com/df-mc/goleveldb/leveldb/util"
)

// LevelDBStore keeps every collection in one LevelDB keyspace: name, a zero byte, then the id as a
// sign-flipped big-endian uint64 so iteration follows id order.
type LevelDBStore struct {
	db       *leveldb.DB
	compress bool
	closed   atomic.Bool

	// serializes Insert's read-last-then-write.
	insertMu sync.Mutex
}

func OpenLevelDB(path string, opts Options) (*LevelDBStore, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, err
	}
	db, err := leveldb.OpenFile(path, &opt.Options{
		Compression: opt.NoCompression,
		BlockSize:   16 * opt.KiB,
	})
	if err != nil {
		return nil, fmt.Errorf("open leveldb %s: %w", path, err)
	}
	opts.Log.Debug().Str("path", path).Bool("compress", opts.Compress).Msg("leveldb store opened")
	return &LevelDBStore{db: db, compress: opts.Compress}, nil
}

func (s *LevelDBStore) Collection(name string) (Collection, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	prefix := make([]byte, len(name)+1)
	copy(prefix, name)
	return &levelCollection{s: s, name: name, prefix: prefix}, nil
}

func (s *LevelDBStore) Collections(ctx context.Context) ([]string, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	var out []string
	it := s.db.NewIterator(nil, nil)
	defer it.Release()
	for ok := it.First(); ok; {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		k := it.Key()
		i := 0
		for i < len(k) && k[i] != 0 {
			i++
		}
		name := string(k[:i])
		out = append(out, name)
		// Skip past every key of this collection.
		next := append([]byte(name), 1)
		ok = it.Seek(next)
	}
	return out, it.Error()
}

func (s *LevelDBStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.db.Close()
}

type levelCollection struct {
	s      *LevelDBStore
	name   string
	prefix []byte
}

func (c *levelCollection) Name() string { return c.name }

func (c *levelCollection) key(id int64) []byte {
	k := make([]byte, len(c.prefix)+8)
	copy(k, c.prefix)
	binary.BigEndian.PutUint64(k[len(c.prefix):], uint64(id)^(1<<63))
	return k
}

func (c *levelCollection) id(key []byte) int64 {
	return int64(binary.BigEndian.Uint64(key[len(c.prefix):]) ^ (1 << 63))
}

func (c *levelCollection) FindByID(_ context.Context, id int64) ([]byte, bool, error) {
	if c.s.closed.Load() {
		return nil, false, ErrClosed
	}
	blob, err := c.s.db.Get(c.key(id), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%s/%d: %w", c.name, id, err)
	}
	doc, err := unframe(blob)
	if err != nil {
		return nil, false, fmt.Errorf("%s/%d: %w", c.name, id, err)
	}
	return doc, true, nil
}

func (c *levelCollection) Contains(_ context.Context, id int64) (bool, error) {
	if c.s.closed.Load() {
		return false, ErrClosed
	}
	return c.s.db.Has(c.key(id), nil)
}

func (c *levelCollection) Upsert(_ context.Context, id int64, doc []byte) error {
	if c.s.closed.Load() {
		return ErrClosed
	}
	if err := c.s.db.Put(c.key(id), frame(doc, c.s.compress), nil); err != nil {
		return fmt.Errorf("%s/%d: %w", c.name, id, err)
	}
	return nil
}

func (c *levelCollection) Insert(_ context.Context, doc []byte) (int64, error) {
	if c.s.closed.Load() {
		return 0, ErrClosed
	}
	c.s.insertMu.Lock()
	defer c.s.insertMu.Unlock()

	var id int64 = 1
	it := c.s.db.NewIterator(util.BytesPrefix(c.prefix), nil)
	if it.Last() {
		if last := c.id(it.Key()); last >= 1 {
			id = last + 1
		}
	}
	it.Release()
	if err := it.Error(); err != nil {
		return 0, err
	}
	if err := c.s.db.Put(c.key(id), frame(doc, c.s.compress), nil); err != nil {
		return 0, fmt.Errorf("%s/%d: %w", c.name, id, err)
	}
	return id, nil
}

func (c *levelCollection) Delete(_ context.Context, id int64) error {
	if c.s.closed.Load() {
		return ErrClosed
	}
	return c.s.db.Delete(c.key(id), nil)
}

func (c *levelCollection) FindAll(ctx context.Context, fn func(id int64, doc []byte) error) error {
	if c.s.closed.Load() {
		return ErrClosed
	}
	it := c.s.db.NewIterator(util.BytesPrefix(c.prefix), nil)
	defer it.Release()
	for it.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		id := c.id(it.Key())
		doc, err := unframe(it.Value())
		if err != nil {
			return fmt.Errorf("%s/%d: %w", c.name, id, err)
		}
		if err := fn(id, doc); err != nil {
			return err
		}
	}
	return it.Error()
}

func (c *levelCollection) Count(ctx context.Context) (int, error) {
	if c.s.closed.Load() {
		return 0, ErrClosed
	}
	n := 0
	it := c.s.db.NewIterator(util.BytesPrefix(c.prefix), nil)
	defer it.Release()
	for it.Next() {
		n++
	}
	return n, it.Error()
}
