package fleet_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aretw0/keel/pkg/channel"
	"github.com/aretw0/keel/pkg/domain"
	"github.com/aretw0/keel/pkg/fleet"
	"github.com/aretw0/keel/pkg/handlers"
	"github.com/aretw0/keel/pkg/proxy"
	"github.com/aretw0/keel/pkg/subordinate"
	"github.com/aretw0/keel/pkg/txn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	server = domain.MustParseAddress("/server-config=main-one")
	foo    = server.Append("system-property", "foo")
)

func addFoo() domain.Operation {
	return domain.NewOperation(domain.OpAdd, foo, map[string]any{"value": "bar"})
}

// coordinator returns a process whose tree already holds the given resources.
func coordinator(t *testing.T, name string, seed ...domain.Address) *txn.Coordinator {
	t.Helper()
	c := txn.New(name, handlers.NewRegistry())
	for _, addr := range seed {
		out, err := c.Execute(context.Background(), domain.NewOperation(domain.OpAdd, addr, nil))
		require.NoError(t, err)
		require.Equal(t, domain.OutcomeCommitted, out.Status)
	}
	return c
}

type remote struct {
	coord *txn.Coordinator
	proxy *proxy.Proxy
	conn  *channel.Conn
}

// spawn starts a subordinate behind an in-process pipe.
func spawn(t *testing.T, name string, seed ...domain.Address) remote {
	t.Helper()
	coord := coordinator(t, name, seed...)
	controllerEnd, subEnd := channel.Pipe("master", name)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = subordinate.New(coord, subEnd).Serve(ctx)
	}()

	p := proxy.New(name, controllerEnd, proxy.WithConfirm(200*time.Millisecond, 1, time.Millisecond))
	t.Cleanup(func() {
		cancel()
		_ = p.Close()
		<-done
	})
	return remote{coord: coord, proxy: p, conn: controllerEnd}
}

func TestFleet_AllCommit(t *testing.T) {
	s1 := spawn(t, "slave-1", server)
	s2 := spawn(t, "slave-2", server)
	f := fleet.New(coordinator(t, "master", server), fleet.WithParticipants(s1.proxy, s2.proxy))

	resp, err := f.Submit(context.Background(), addFoo())
	require.NoError(t, err)
	assert.Equal(t, domain.VerdictCommit, resp.Verdict)
	assert.Equal(t, domain.OutcomeCommitted, resp.Outcome.Status)
	require.Len(t, resp.Participants, 3)
	for name, res := range resp.Participants {
		assert.Equal(t, domain.OutcomeCommitted, res.Status, name)
	}

	assert.True(t, f.Local().Tree().Exists(foo))
	assert.True(t, s1.coord.Tree().Exists(foo))
	assert.True(t, s2.coord.Tree().Exists(foo))
	assert.Empty(t, f.Inconsistent())
}

func TestFleet_UnreachableParticipant(t *testing.T) {
	s1 := spawn(t, "slave-1", server)
	s2 := spawn(t, "slave-2", server)
	s2.conn.Disconnect()

	local := coordinator(t, "master", server)
	before := local.Tree()
	f := fleet.New(local, fleet.WithParticipants(s1.proxy, s2.proxy))

	resp, err := f.Submit(context.Background(), addFoo())
	require.NoError(t, err)

	// 1. The whole fleet rolls back
	assert.Equal(t, domain.VerdictRollback, resp.Verdict)
	assert.Equal(t, domain.OutcomeRolledBack, resp.Outcome.Status)
	assert.Same(t, before, local.Tree())
	assert.False(t, s1.coord.Tree().Exists(foo))

	// 2. The unreachable participant is named as the cause
	require.NotNil(t, resp.Outcome.Failure)
	assert.Equal(t, domain.FailureUnreachable, resp.Outcome.Failure.Kind)
	assert.Equal(t, "slave-2", resp.Outcome.Failure.Participant)

	assert.Equal(t, domain.OutcomeFailedToApply, resp.Participants["slave-2"].Status)
	assert.Equal(t, domain.OutcomeRolledBack, resp.Participants["slave-1"].Status)
	assert.Equal(t, domain.OutcomeRolledBack, resp.Participants["master"].Status)
}

func TestFleet_SiblingFailureRollsBackEveryone(t *testing.T) {
	s1 := spawn(t, "slave-1", server)
	s2 := spawn(t, "slave-2") // has no server-config, so the add fails validation
	local := coordinator(t, "master", server)
	f := fleet.New(local, fleet.WithParticipants(s1.proxy, s2.proxy))

	resp, err := f.Submit(context.Background(), addFoo())
	require.NoError(t, err)
	assert.Equal(t, domain.VerdictRollback, resp.Verdict)

	assert.Equal(t, domain.OutcomeRolledBack, resp.Participants["slave-1"].Status)
	require.NotNil(t, resp.Participants["slave-2"].Failure)
	assert.Equal(t, domain.FailureValidation, resp.Participants["slave-2"].Failure.Kind)

	// The response names the sibling that forced the rollback
	require.NotNil(t, resp.Outcome.Failure)
	assert.Equal(t, domain.FailureValidation, resp.Outcome.Failure.Kind)
	assert.Equal(t, "slave-2", resp.Outcome.Failure.Participant)
	assert.Equal(t, domain.OutcomeRolledBack, resp.Participants["master"].Status)

	assert.False(t, local.Tree().Exists(foo))
	assert.False(t, s1.coord.Tree().Exists(foo))
	assert.False(t, s2.coord.Tree().Exists(foo))

	// Nothing is left holding the queue
	next, err := f.Submit(context.Background(), domain.NewOperation(domain.OpAdd, domain.MustParseAddress("/server-config=main-two"), nil))
	require.NoError(t, err)
	assert.Equal(t, domain.VerdictCommit, next.Verdict)
}

func TestFleet_LocalFailureProposesNothing(t *testing.T) {
	fake := &fakeParticipant{name: "slave-1"}
	f := fleet.New(coordinator(t, "master"), fleet.WithParticipants(fake))

	resp, err := f.Submit(context.Background(), addFoo())
	require.NoError(t, err)
	assert.Equal(t, domain.VerdictRollback, resp.Verdict)
	require.NotNil(t, resp.Outcome.Failure)
	assert.Equal(t, domain.FailureValidation, resp.Outcome.Failure.Kind)
	assert.Zero(t, fake.proposes.Load())
}

func TestFleet_InconsistentParticipant(t *testing.T) {
	fake := &fakeParticipant{name: "slave-1", confirmErr: errors.New("connection reset")}
	f := fleet.New(coordinator(t, "master", server), fleet.WithParticipants(fake))

	resp, err := f.Submit(context.Background(), addFoo())
	require.NoError(t, err)

	// The verdict stands; the participant is reported distinctly
	assert.Equal(t, domain.VerdictCommit, resp.Verdict)
	assert.True(t, f.Local().Tree().Exists(foo))
	assert.Equal(t, domain.OutcomeInconsistent, resp.Participants["slave-1"].Status)
	assert.Equal(t, domain.FailureInconsistent, resp.Participants["slave-1"].Failure.Kind)
	assert.Equal(t, []string{"slave-1"}, resp.Inconsistent())

	assert.Equal(t, []string{"slave-1"}, f.Inconsistent())
	assert.True(t, f.Reconciled("slave-1"))
	assert.Empty(t, f.Inconsistent())
	assert.False(t, f.Reconciled("slave-1"))
}

func TestFleet_ProposeTimeout(t *testing.T) {
	slow := &fakeParticipant{name: "slow", block: true}
	f := fleet.New(coordinator(t, "master", server), fleet.WithParticipants(slow), fleet.WithProposeTimeout(30*time.Millisecond))

	start := time.Now()
	resp, err := f.Submit(context.Background(), addFoo())
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, domain.VerdictRollback, resp.Verdict)
	assert.Equal(t, domain.FailureUnreachable, resp.Participants["slow"].Failure.Kind)

	// The timed out participant is still told to roll back
	assert.Eventually(t, func() bool { return slow.rollbacks.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestFleet_Scope(t *testing.T) {
	hosted := &fakeParticipant{name: "host-a", scope: []domain.Address{domain.MustParseAddress("/host=a")}}
	servers := &fakeParticipant{name: "servers", scope: []domain.Address{domain.MustParseAddress("/server-config=*")}}
	f := fleet.New(coordinator(t, "master", server), fleet.WithParticipants(hosted, servers))

	resp, err := f.Submit(context.Background(), addFoo())
	require.NoError(t, err)
	assert.Equal(t, domain.VerdictCommit, resp.Verdict)
	assert.Zero(t, hosted.proposes.Load())
	assert.Equal(t, int32(1), servers.proposes.Load())
	assert.NotContains(t, resp.Participants, "host-a")

	// Operations outside every scope run locally
	resp, err = f.Submit(context.Background(), domain.NewOperation(domain.OpAdd, domain.MustParseAddress("/subsystem=logging"), nil))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeCommitted, resp.Outcome.Status)
	assert.Nil(t, resp.Participants)
}

func TestFleet_ReadsStayLocal(t *testing.T) {
	fake := &fakeParticipant{name: "slave-1"}
	f := fleet.New(coordinator(t, "master", server), fleet.WithParticipants(fake))

	resp, err := f.Submit(context.Background(), domain.NewOperation(domain.OpReadResource, server, nil))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeCommitted, resp.Outcome.Status)
	assert.Zero(t, fake.proposes.Load())
}

func TestFleet_Hooks(t *testing.T) {
	var verdicts, exchanges atomic.Int32
	fake := &fakeParticipant{name: "slave-1"}
	f := fleet.New(coordinator(t, "master", server),
		fleet.WithParticipants(fake),
		fleet.WithHooks(domain.LifecycleHooks{
			OnVerdict:     func(context.Context, *domain.VerdictEvent) { verdicts.Add(1) },
			OnParticipant: func(context.Context, *domain.ParticipantEvent) { exchanges.Add(1) },
		}),
	)

	_, err := f.Submit(context.Background(), addFoo())
	require.NoError(t, err)
	assert.Equal(t, int32(1), verdicts.Load())
	assert.Equal(t, int32(2), exchanges.Load()) // propose + confirm
}

type fakeParticipant struct {
	name       string
	scope      []domain.Address
	block      bool
	confirmErr error

	proposes  atomic.Int32
	commits   atomic.Int32
	rollbacks atomic.Int32
}

func (f *fakeParticipant) Name() string            { return f.name }
func (f *fakeParticipant) Scope() []domain.Address { return f.scope }

func (f *fakeParticipant) Propose(ctx context.Context, _ string, _ domain.Operation) domain.Outcome {
	f.proposes.Add(1)
	if f.block {
		<-ctx.Done()
		return domain.Outcome{
			Status:  domain.OutcomeFailedToApply,
			Failure: domain.NewFailure("", &domain.ParticipantUnreachable{Participant: f.name, Err: domain.ErrTimeout}),
		}
	}
	return domain.Outcome{Status: domain.OutcomePrepared}
}

func (f *fakeParticipant) ConfirmCommit(context.Context, string) error {
	f.commits.Add(1)
	return f.confirmErr
}

func (f *fakeParticipant) ConfirmRollback(context.Context, string) error {
	f.rollbacks.Add(1)
	return f.confirmErr
}

func TestFleet_ParticipantsWhileSubmitting(t *testing.T) {
	a, b := &fakeParticipant{name: "slave-b"}, &fakeParticipant{name: "slave-a"}
	f := fleet.New(coordinator(t, "master", server), fleet.WithParticipants(a, b))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = f.Submit(context.Background(), addFoo())
	}()
	for range 50 {
		assert.Equal(t, []string{"slave-b", "slave-a"}, f.Participants())
		_ = f.Inconsistent()
	}
	<-done
}
