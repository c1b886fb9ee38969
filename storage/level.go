// Package storage persists contract code and contract storage.
//
// LevelStore is the durable key/value store, backed by goleveldb on disk or
// in memory. Transactions never write to it directly: they work against an
// Overlay, which is committed as one leveldb batch when the transaction
// succeeds and dropped otherwise.
package storage

import (
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	leveldbstorage "github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/wippyai/chainvm/errors"
)

// KV is one key/value pair.
type KV struct {
	Key   []byte
	Value []byte
}

// Op is a pending write. Delete ignores Value.
type Op struct {
	Key    []byte
	Value  []byte
	Delete bool
}

// Backend is the read side of a store plus atomic batch application.
type Backend interface {
	Get(key []byte) ([]byte, bool, error)
	// Prefix returns every pair whose key starts with prefix, in key order.
	Prefix(prefix []byte) ([]KV, error)
	// Write applies ops atomically.
	Write(ops []Op) error
}

// LevelStore wraps LevelDB. It is safe for concurrent use.
type LevelStore struct {
	db *leveldb.DB
}

var _ Backend = (*LevelStore)(nil)

// Open opens or creates a LevelDB database at path. An empty path opens an
// in-memory database.
func Open(path string) (*LevelStore, error) {
	var (
		db  *leveldb.DB
		err error
	)
	if path == "" {
		db, err = leveldb.Open(leveldbstorage.NewMemStorage(), nil)
	} else {
		db, err = leveldb.OpenFile(path, &opt.Options{})
	}
	if err != nil {
		return nil, errors.Storage("open "+path, err)
	}
	return &LevelStore{db: db}, nil
}

// OpenMemory opens an in-memory store.
func OpenMemory() (*LevelStore, error) {
	return Open("")
}

// Get returns (nil, false, nil) when key is absent.
func (s *LevelStore) Get(key []byte) ([]byte, bool, error) {
	data, err := s.db.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Storage("get", err)
	}
	return data, true, nil
}

func (s *LevelStore) Prefix(prefix []byte) ([]KV, error) {
	iter := s.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()

	var out []KV
	for iter.Next() {
		// the iterator reuses its buffers
		out = append(out, KV{
			Key:   append([]byte(nil), iter.Key()...),
			Value: append([]byte(nil), iter.Value()...),
		})
	}
	if err := iter.Error(); err != nil {
		return nil, errors.Storage("iterate", err)
	}
	return out, nil
}

func (s *LevelStore) Write(ops []Op) error {
	if len(ops) == 0 {
		return nil
	}
	batch := new(leveldb.Batch)
	for _, op := range ops {
		if op.Delete {
			batch.Delete(op.Key)
		} else {
			batch.Put(op.Key, op.Value)
		}
	}
	if err := s.db.Write(batch, &opt.WriteOptions{Sync: true}); err != nil {
		return errors.Storage("write batch", err)
	}
	return nil
}

func (s *LevelStore) Close() error {
	return s.db.Close()
}
