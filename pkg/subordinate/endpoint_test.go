package subordinate_test

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/keel/pkg/channel"
	"github.com/aretw0/keel/pkg/domain"
	"github.com/aretw0/keel/pkg/handlers"
	"github.com/aretw0/keel/pkg/protocol"
	"github.com/aretw0/keel/pkg/subordinate"
	"github.com/aretw0/keel/pkg/txn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ds = domain.MustParseAddress("/subsystem=datasources")

type fixture struct {
	coord *txn.Coordinator
	ep    *subordinate.Endpoint
	conn  *channel.Conn
}

func serve(t *testing.T, opts ...txn.Option) fixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	controller, sub := channel.Pipe("master", "slave")
	coord := txn.New("slave", handlers.NewRegistry(), opts...)
	ep := subordinate.New(coord, sub)

	done := make(chan error, 1)
	go func() { done <- ep.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
	})
	return fixture{coord: coord, ep: ep, conn: controller}
}

func roundTrip(t *testing.T, conn *channel.Conn, msg protocol.Message) protocol.Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, conn.Send(ctx, msg))
	reply, err := conn.Receive(ctx)
	require.NoError(t, err)
	return reply
}

func TestEndpoint_ProposeThenCommit(t *testing.T) {
	f := serve(t)
	op := domain.NewOperation(domain.OpAdd, ds, nil)

	// 1. Propose prepares without publishing
	reply := roundTrip(t, f.conn, protocol.Propose("tx-1", op))
	require.Equal(t, protocol.KindOutcome, reply.Kind)
	require.NotNil(t, reply.Outcome)
	assert.Equal(t, domain.OutcomePrepared, reply.Outcome.Status)
	assert.Equal(t, "slave", reply.Process)
	assert.False(t, f.coord.Tree().Exists(ds))

	// 2. Commit publishes
	reply = roundTrip(t, f.conn, protocol.Confirm("tx-1", domain.VerdictCommit))
	assert.Equal(t, protocol.KindAck, reply.Kind)
	assert.True(t, f.coord.Tree().Exists(ds))

	// 3. A repeated commit is acknowledged again
	reply = roundTrip(t, f.conn, protocol.Confirm("tx-1", domain.VerdictCommit))
	assert.Equal(t, protocol.KindAck, reply.Kind)
}

func TestEndpoint_ProposeThenRollback(t *testing.T) {
	f := serve(t)

	reply := roundTrip(t, f.conn, protocol.Propose("tx-1", domain.NewOperation(domain.OpAdd, ds, nil)))
	require.Equal(t, domain.OutcomePrepared, reply.Outcome.Status)

	reply = roundTrip(t, f.conn, protocol.Confirm("tx-1", domain.VerdictRollback))
	assert.Equal(t, protocol.KindAck, reply.Kind)
	assert.False(t, f.coord.Tree().Exists(ds))
	assert.Equal(t, 0, f.ep.Pending())

	// A repeated rollback is acknowledged and changes nothing
	before := f.coord.Tree()
	reply = roundTrip(t, f.conn, protocol.Confirm("tx-1", domain.VerdictRollback))
	assert.Equal(t, protocol.KindAck, reply.Kind)
	assert.Same(t, before, f.coord.Tree())

	// Commit after rollback cannot be honoured
	reply = roundTrip(t, f.conn, protocol.Confirm("tx-1", domain.VerdictCommit))
	assert.Equal(t, protocol.KindNack, reply.Kind)
}

func TestEndpoint_FailedPropose(t *testing.T) {
	f := serve(t)

	reply := roundTrip(t, f.conn, protocol.Propose("tx-1", domain.NewOperation(domain.OpRemove, ds, nil)))
	require.NotNil(t, reply.Outcome)
	assert.True(t, reply.Outcome.Failed())
	require.NotNil(t, reply.Outcome.Failure)
	assert.Equal(t, domain.FailureValidation, reply.Outcome.Failure.Kind)
	assert.Equal(t, 0, f.ep.Pending())

	// Rollback of a failed transaction is a no-op, commit is rejected
	assert.Equal(t, protocol.KindAck, roundTrip(t, f.conn, protocol.Confirm("tx-1", domain.VerdictRollback)).Kind)
	assert.Equal(t, protocol.KindNack, roundTrip(t, f.conn, protocol.Confirm("tx-1", domain.VerdictCommit)).Kind)
}

func TestEndpoint_UnknownTransaction(t *testing.T) {
	f := serve(t)

	assert.Equal(t, protocol.KindAck, roundTrip(t, f.conn, protocol.Confirm("nope", domain.VerdictRollback)).Kind)

	reply := roundTrip(t, f.conn, protocol.Confirm("nope", domain.VerdictCommit))
	assert.Equal(t, protocol.KindNack, reply.Kind)
	assert.Contains(t, reply.Error, domain.ErrNotPrepared.Error())
}

func TestEndpoint_DuplicatePropose(t *testing.T) {
	f := serve(t)
	op := domain.NewOperation(domain.OpAdd, ds, nil)

	first := roundTrip(t, f.conn, protocol.Propose("tx-1", op))
	second := roundTrip(t, f.conn, protocol.Propose("tx-1", op))
	assert.Equal(t, first.Outcome.Status, second.Outcome.Status)
	assert.Equal(t, 1, f.ep.Pending())

	roundTrip(t, f.conn, protocol.Confirm("tx-1", domain.VerdictCommit))
	assert.True(t, f.coord.Tree().Exists(ds))
}

func TestEndpoint_PrepareTimeoutIsPresumedAbort(t *testing.T) {
	f := serve(t, txn.WithPrepareTimeout(30*time.Millisecond))

	reply := roundTrip(t, f.conn, protocol.Propose("tx-1", domain.NewOperation(domain.OpAdd, ds, nil)))
	require.Equal(t, domain.OutcomePrepared, reply.Outcome.Status)

	require.Eventually(t, func() bool { return f.ep.Pending() == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, protocol.KindNack, roundTrip(t, f.conn, protocol.Confirm("tx-1", domain.VerdictCommit)).Kind)
	assert.False(t, f.coord.Tree().Exists(ds))
}
