package storage

import (
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	ldbstorage "github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// ErrNotFound is returned by Get when the key is not present in the view.
var ErrNotFound = errors.New("storage: key not found")

// View is the read surface shared by the store, its snapshots and forks.
type View interface {
	Get(key []byte) ([]byte, error)
	Has(key []byte) (bool, error)
}

// Iterable is implemented by views that support ordered prefix iteration.
// Forks are not iterable; ordered scans happen on the store or a snapshot.
type Iterable interface {
	NewIterator(prefix []byte) iterator.Iterator
}

// Store is the ledger's key-value layer backed by LevelDB. Writes only ever
// reach the store through a committed Fork, so every mutation batch applied
// to disk is atomic.
type Store struct {
	db *leveldb.DB
}

// OpenFile creates or opens a persistent store at the given path.
func OpenFile(path string) (*Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb at %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// OpenMem opens a store backed by LevelDB's in-memory storage, used by tests
// and ephemeral nodes.
func OpenMem() (*Store, error) {
	db, err := leveldb.Open(ldbstorage.NewMemStorage(), nil)
	if err != nil {
		return nil, fmt.Errorf("open in-memory leveldb: %w", err)
	}
	return &Store{db: db}, nil
}

// Get retrieves the value for a key or ErrNotFound.
func (s *Store) Get(key []byte) ([]byte, error) {
	value, err := s.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	return value, err
}

// Has reports whether the key is present.
func (s *Store) Has(key []byte) (bool, error) {
	return s.db.Has(key, nil)
}

// NewIterator iterates the store in key order over the given prefix.
func (s *Store) NewIterator(prefix []byte) iterator.Iterator {
	return s.db.NewIterator(util.BytesPrefix(prefix), nil)
}

// Snapshot returns a consistent read-only view of the store as of now.
// Callers must Release it when done.
func (s *Store) Snapshot() (*Snapshot, error) {
	snap, err := s.db.GetSnapshot()
	if err != nil {
		return nil, fmt.Errorf("acquire snapshot: %w", err)
	}
	return &Snapshot{snap: snap}, nil
}

// Fork returns a mutable view over the store. See Fork for the commit
// contract.
func (s *Store) Fork() *Fork {
	return &Fork{parent: s, store: s, writes: make(map[string][]byte)}
}

// writeBatch applies a fork's write set as one atomic LevelDB batch.
func (s *Store) writeBatch(writes map[string][]byte) error {
	batch := new(leveldb.Batch)
	for key, value := range writes {
		batch.Put([]byte(key), value)
	}
	return s.db.Write(batch, nil)
}

// Close closes the underlying database.
func (s *Store) Close() {
	s.db.Close()
}

// Snapshot is an immutable point-in-time view of the store. Snapshots never
// observe writes committed after their creation, so read queries may run
// concurrently with block execution without synchronization.
type Snapshot struct {
	snap *leveldb.Snapshot
}

func (s *Snapshot) Get(key []byte) ([]byte, error) {
	value, err := s.snap.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	return value, err
}

func (s *Snapshot) Has(key []byte) (bool, error) {
	return s.snap.Has(key, nil)
}

// NewIterator iterates the snapshot in key order over the given prefix.
func (s *Snapshot) NewIterator(prefix []byte) iterator.Iterator {
	return s.snap.NewIterator(util.BytesPrefix(prefix), nil)
}

// Release frees the snapshot. The view must not be used afterwards.
func (s *Snapshot) Release() {
	s.snap.Release()
}
