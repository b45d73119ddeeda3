package docstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("docstore: closed")

// Store is a per-level document store made of named collections of opaque documents keyed by
// int64 ids.
type Store interface {
	Collection(name string) (Collection, error)
	Collections(ctx context.Context) ([]string, error)
	Close() error
}

// Collection is safe for concurrent use.
type Collection interface {
	Name() string
	FindByID(ctx context.Context, id int64) (doc []byte, ok bool, err error)
	Contains(ctx context.Context, id int64) (bool, error)
	Upsert(ctx context.Context, id int64, doc []byte) error
	// Insert stores doc under the next id of the collection, starting at 1.
	Insert(ctx context.Context, doc []byte) (int64, error)
	Delete(ctx context.Context, id int64) error
	// FindAll visits documents in ascending id order and stops at the first error fn returns.
	FindAll(ctx context.Context, fn func(id int64, doc []byte) error) error
	Count(ctx context.Context) (int, error)
}

type Options struct {
	// Compress frames documents with zstd when that makes them smaller.
	Compress bool
	Log      zerolog.Logger
}

const (
	BackendSQLite  = "sqlite"
	BackendLevelDB = "leveldb"
)

// Open opens the store at path with the named backend.
func Open(backend, path string, opts Options) (Store, error) {
	switch strings.ToLower(backend) {
	case "", BackendSQLite:
		return OpenSQLite(path, opts)
	case BackendLevelDB:
		return OpenLevelDB(path, opts)
	default:
		return nil, fmt.Errorf("docstore: unknown backend %q", backend)
	}
}

func validName(name string) error {
	if name == "" || strings.ContainsRune(name, 0) {
		return fmt.Errorf("docstore: invalid collection name %q", name)
	}
	return nil
}
