// Package redis provides a snapshot store and a distributed locker backed by Redis.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aretw0/keel/pkg/domain"
	backend "github.com/redis/go-redis/v9"
)

// Store implements ports.SnapshotStore and ports.SnapshotHistory using Redis.
// Each revision is stored under its own key; a ZSET scored by revision indexes them.
type Store struct {
	client  *backend.Client
	prefix  string
	ttl     time.Duration
	history int64
}

type Option func(*Store)

// WithTTL sets the expiration of superseded revisions. The latest revision never expires.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.ttl = ttl
	}
}

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// WithHistory bounds how many revisions are kept per process. Zero keeps everything.
func WithHistory(n int) Option {
	return func(s *Store) {
		s.history = int64(n)
	}
}

// New creates a new Redis store with options.
func New(address, password string, db int, opts ...Option) *Store {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient(rdb, opts...)
}

// NewFromClient creates a new Redis store from an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *Store {
	store := &Store{
		client: client,
		prefix: "keel:snapshot:",
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// Client returns the underlying client, e.g. to share it with a Locker.
func (s *Store) Client() *backend.Client {
	return s.client
}

func (s *Store) key(process string, revision uint64) string {
	return s.prefix + process + ":" + strconv.FormatUint(revision, 10)
}

func (s *Store) indexKey(process string) string {
	return s.prefix + process + ":index"
}

// Persist stores the snapshot and indexes it in a single pipeline.
func (s *Store) Persist(ctx context.Context, process string, snap *domain.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	prev, err := s.latest(ctx, process)
	hasPrev := err == nil
	if err != nil && !errors.Is(err, domain.ErrSnapshotNotFound) {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.key(process, snap.Revision), data, 0)
	pipe.ZAdd(ctx, s.indexKey(process), backend.Z{
		Score:  float64(snap.Revision),
		Member: strconv.FormatUint(snap.Revision, 10),
	})
	if s.ttl > 0 && hasPrev && prev != snap.Revision {
		pipe.Expire(ctx, s.key(process, prev), s.ttl)
	}
	if s.history > 0 {
		// Keep the newest entries only; their keys are dropped by TTL or left to the operator.
		pipe.ZRemRangeByRank(ctx, s.indexKey(process), 0, -s.history-1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save to redis: %w", err)
	}
	return nil
}

// Load retrieves the latest snapshot.
func (s *Store) Load(ctx context.Context, process string) (*domain.Snapshot, error) {
	rev, err := s.latest(ctx, process)
	if err != nil {
		return nil, err
	}
	return s.LoadRevision(ctx, process, rev)
}

// Revisions lists the indexed revisions, oldest first.
func (s *Store) Revisions(ctx context.Context, process string) ([]uint64, error) {
	members, err := s.client.ZRange(ctx, s.indexKey(process), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list revisions: %w", err)
	}
	revs := make([]uint64, 0, len(members))
	for _, m := range members {
		rev, err := strconv.ParseUint(m, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("corrupt revision index entry %q: %w", m, err)
		}
		revs = append(revs, rev)
	}
	return revs, nil
}

// LoadRevision retrieves one revision.
func (s *Store) LoadRevision(ctx context.Context, process string, revision uint64) (*domain.Snapshot, error) {
	val, err := s.client.Get(ctx, s.key(process, revision)).Result()
	if err != nil {
		if err == backend.Nil {
			return nil, domain.ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("failed to get from redis: %w", err)
	}

	var snap domain.Snapshot
	if err := json.Unmarshal([]byte(val), &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

func (s *Store) latest(ctx context.Context, process string) (uint64, error) {
	members, err := s.client.ZRevRange(ctx, s.indexKey(process), 0, 0).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read revision index: %w", err)
	}
	if len(members) == 0 {
		return 0, domain.ErrSnapshotNotFound
	}
	return strconv.ParseUint(members[0], 10, 64)
}

// Close closes the redis client.
func (s *Store) Close() error {
	return s.client.Close()
}
