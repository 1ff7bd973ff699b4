// Package badger stores snapshots in an embedded Badger key-value database.
package badger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aretw0/keel/pkg/domain"
	backend "github.com/dgraph-io/badger/v3"
)

// Store implements ports.SnapshotStore and ports.SnapshotHistory on Badger.
// Keys are "<process>/" followed by the big-endian revision, so a prefix scan walks the history
// in revision order and a reverse seek finds the latest one.
type Store struct {
	db     *backend.DB
	ownsDB bool
}

// Open opens (or creates) a database in dir. An empty dir opens an in-memory database.
func Open(dir string) (*Store, error) {
	opts := backend.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := backend.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger at %q: %w", dir, err)
	}
	return &Store{db: db, ownsDB: true}, nil
}

// NewFromDB wraps an already open database. Close leaves it open.
func NewFromDB(db *backend.DB) *Store {
	return &Store{db: db}
}

func prefix(process string) []byte {
	return []byte(process + "/")
}

func key(process string, revision uint64) []byte {
	k := prefix(process)
	return binary.BigEndian.AppendUint64(k, revision)
}

// Persist writes the snapshot in one transaction; Badger syncs on commit unless configured otherwise.
func (s *Store) Persist(ctx context.Context, process string, snap *domain.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	err = s.db.Update(func(txn *backend.Txn) error {
		return txn.Set(key(process, snap.Revision), data)
	})
	if err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return nil
}

// Load returns the snapshot with the highest revision.
func (s *Store) Load(ctx context.Context, process string) (*domain.Snapshot, error) {
	var data []byte
	err := s.db.View(func(txn *backend.Txn) error {
		opts := backend.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefix(process)
		it := txn.NewIterator(opts)
		defer it.Close()

		// Seeking past the largest possible key of the prefix lands on the latest revision.
		it.Seek(key(process, ^uint64(0)))
		if !it.ValidForPrefix(opts.Prefix) {
			return domain.ErrSnapshotNotFound
		}
		var err error
		data, err = it.Item().ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return decode(data)
}

// Revisions lists the stored revisions, oldest first.
func (s *Store) Revisions(ctx context.Context, process string) ([]uint64, error) {
	var revs []uint64
	err := s.db.View(func(txn *backend.Txn) error {
		opts := backend.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix(process)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			k := it.Item().Key()
			revs = append(revs, binary.BigEndian.Uint64(k[len(opts.Prefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list revisions: %w", err)
	}
	if revs == nil {
		revs = []uint64{}
	}
	return revs, nil
}

// LoadRevision returns one stored revision.
func (s *Store) LoadRevision(ctx context.Context, process string, revision uint64) (*domain.Snapshot, error) {
	var data []byte
	err := s.db.View(func(txn *backend.Txn) error {
		item, err := txn.Get(key(process, revision))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, backend.ErrKeyNotFound) {
		return nil, domain.ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	return decode(data)
}

// Close closes the database if the store opened it.
func (s *Store) Close() error {
	if !s.ownsDB {
		return nil
	}
	return s.db.Close()
}

func decode(data []byte) (*domain.Snapshot, error) {
	var snap domain.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &snap, nil
}
