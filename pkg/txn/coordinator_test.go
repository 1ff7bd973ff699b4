package txn_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/keel/pkg/adapters/memory"
	"github.com/aretw0/keel/pkg/domain"
	"github.com/aretw0/keel/pkg/handlers"
	"github.com/aretw0/keel/pkg/process"
	"github.com/aretw0/keel/pkg/txn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ds = domain.MustParseAddress("/subsystem=datasources")

func add(addr domain.Address, attrs map[string]any) domain.Operation {
	return domain.NewOperation(domain.OpAdd, addr, attrs)
}

func write(addr domain.Address, name string, value any) domain.Operation {
	return domain.NewOperation(domain.OpWriteAttribute, addr, map[string]any{"name": name, "value": value})
}

type failingStore struct {
	*memory.Store
	fail bool
}

func (s *failingStore) Persist(ctx context.Context, process string, snap *domain.Snapshot) error {
	if s.fail {
		return errors.New("disk full")
	}
	return s.Store.Persist(ctx, process, snap)
}

func TestCoordinator_ExecuteCommits(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	c := txn.New("master", handlers.NewRegistry(), txn.WithStore(store))

	out, err := c.Execute(ctx, add(ds, map[string]any{"enabled": true}))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeCommitted, out.Status)
	assert.True(t, c.Tree().Exists(ds))
	assert.Equal(t, uint64(1), c.Tree().Revision())

	snap, err := store.Load(ctx, "master")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), snap.Revision)

	// A fresh coordinator recovers the persisted tree
	other := txn.New("master", handlers.NewRegistry(), txn.WithStore(store))
	require.NoError(t, other.Load(ctx))
	assert.True(t, other.Tree().Equal(c.Tree()))
}

func TestCoordinator_FailureLeavesTreeUntouched(t *testing.T) {
	ctx := context.Background()
	c := txn.New("master", handlers.NewRegistry())
	before := c.Tree()

	out, err := c.Execute(ctx, add(ds.Append("data-source", "main"), nil))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeRolledBack, out.Status)
	assert.Equal(t, domain.FailureValidation, out.Failure.Kind)
	assert.Same(t, before, c.Tree())
}

func TestCoordinator_BackToBackSeesPreviousCommit(t *testing.T) {
	ctx := context.Background()
	c := txn.New("master", handlers.NewRegistry())

	// 1. Hold the first operation in PREPARED
	p, out, err := c.Prepare(ctx, "tx-1", add(ds, nil))
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, domain.OutcomePrepared, out.Status)

	// 2. The second operation depends on the first and must wait for it
	done := make(chan domain.Outcome, 1)
	go func() {
		out, _ := c.Execute(ctx, write(ds, "enabled", true))
		done <- out
	}()
	require.Eventually(t, func() bool { return c.Pending() == 1 }, time.Second, 5*time.Millisecond)

	// 3. Readers see the committed tree only
	assert.False(t, c.Tree().Exists(ds))

	_, err = p.Commit(ctx)
	require.NoError(t, err)

	select {
	case out := <-done:
		assert.Equal(t, domain.OutcomeCommitted, out.Status)
	case <-time.After(time.Second):
		t.Fatal("second operation never ran")
	}
	res, err := c.Tree().Get(ds)
	require.NoError(t, err)
	assert.Equal(t, true, res.Attributes["enabled"])
}

func TestCoordinator_PersistFailureCompensates(t *testing.T) {
	ctx := context.Background()
	store := &failingStore{Store: memory.NewStore(), fail: true}
	c := txn.New("master", handlers.NewRegistry(), txn.WithStore(store))
	prop := domain.MustParseAddress("/system-property=mode")

	out, err := c.Execute(ctx, add(prop, map[string]any{"value": "fast"}))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeFailedToApply, out.Status)
	assert.Contains(t, out.Failure.Message, "disk full")
	assert.False(t, c.Tree().Exists(prop))

	_, live := c.Process().Property("mode")
	assert.False(t, live, "runtime effects must be compensated")
}

func TestCoordinator_PrepareTimeoutIsPresumedAbort(t *testing.T) {
	ctx := context.Background()
	c := txn.New("master", handlers.NewRegistry(), txn.WithPrepareTimeout(20*time.Millisecond))

	p, _, err := c.Prepare(ctx, "tx-1", add(ds, nil))
	require.NoError(t, err)
	require.NotNil(t, p)

	require.Eventually(t, func() bool {
		return p.Outcome().Status == domain.OutcomeRolledBack
	}, time.Second, 5*time.Millisecond)

	_, err = p.Commit(ctx)
	assert.ErrorIs(t, err, domain.ErrNotPrepared)

	// Rollback stays idempotent and the queue was released
	_, err = p.Rollback(ctx)
	assert.NoError(t, err)
	out, err := c.Execute(ctx, add(ds, nil))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeCommitted, out.Status)
}

func TestPrepared_RollbackTwice(t *testing.T) {
	ctx := context.Background()
	proc := process.New("master")
	proc.SetProperty("region", "us-east")
	c := txn.New("master", handlers.NewRegistry(), txn.WithProcess(proc))
	region := domain.MustParseAddress("/system-property=region")
	before := c.Tree()

	p, out, err := c.Prepare(ctx, "tx-1", add(region, map[string]any{"value": "eu-west"}))
	require.NoError(t, err)
	require.NotNil(t, p, "prepare failed: %+v", out.Failure)
	v, _ := proc.Property("region")
	require.Equal(t, "eu-west", v)

	// 1. The first rollback restores the live value
	first, err := p.Rollback(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeRolledBack, first.Status)
	v, _ = proc.Property("region")
	assert.Equal(t, "us-east", v)

	// 2. The second reports the same outcome and touches nothing
	proc.SetProperty("region", "ap-south")
	second, err := p.Rollback(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	v, _ = proc.Property("region")
	assert.Equal(t, "ap-south", v)
	assert.Same(t, before, c.Tree())
}

func TestCoordinator_CancelledWhileQueued(t *testing.T) {
	ctx := context.Background()
	c := txn.New("master", handlers.NewRegistry())

	p, _, err := c.Prepare(ctx, "tx-1", add(ds, nil))
	require.NoError(t, err)

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = c.Execute(short, write(ds, "enabled", true))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	_, err = p.Rollback(ctx)
	require.NoError(t, err)
	assert.False(t, c.Tree().Exists(ds))
	assert.Equal(t, 0, c.Pending())
}

func TestCoordinator_ReadsDoNotQueue(t *testing.T) {
	ctx := context.Background()
	c := txn.New("master", handlers.NewRegistry())
	_, err := c.Execute(ctx, add(ds, map[string]any{"enabled": false}))
	require.NoError(t, err)

	p, _, err := c.Prepare(ctx, "tx-1", write(ds, "enabled", true))
	require.NoError(t, err)
	defer p.Rollback(ctx)

	out, err := c.Execute(ctx, domain.NewOperation(domain.OpReadAttribute, ds, map[string]any{"name": "enabled"}))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeCommitted, out.Status)
	assert.Equal(t, false, out.Result)
}

func TestCoordinator_CommitHook(t *testing.T) {
	ctx := context.Background()
	var (
		mu     sync.Mutex
		events []*domain.CommitEvent
	)
	hooks := domain.LifecycleHooks{OnCommit: func(_ context.Context, e *domain.CommitEvent) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, e)
	}}
	c := txn.New("master", handlers.NewRegistry(), txn.WithHooks(hooks))

	_, err := c.Execute(ctx, add(ds, nil))
	require.NoError(t, err)
	_, err = c.Execute(ctx, domain.NewOperation(domain.OpReadResource, ds, nil))
	require.NoError(t, err)

	require.Len(t, events, 1)
	assert.Equal(t, uint64(1), events[0].Revision)
	require.Len(t, events[0].Diff.Added, 1)
	assert.True(t, events[0].Diff.Added[0].Equal(ds))
}
