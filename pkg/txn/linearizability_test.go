package txn_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/anishathalye/porcupine"
	"github.com/aretw0/keel/pkg/domain"
	"github.com/aretw0/keel/pkg/handlers"
	"github.com/aretw0/keel/pkg/txn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type registerInput struct {
	write bool
	value int
}

// registerModel treats one attribute as a linearizable register.
var registerModel = porcupine.Model{
	Init: func() any { return 0 },
	Step: func(state, input, output any) (bool, any) {
		in := input.(registerInput)
		if in.write {
			return true, in.value
		}
		return output.(int) == state.(int), state
	},
	DescribeOperation: func(input, output any) string {
		in := input.(registerInput)
		if in.write {
			return fmt.Sprintf("write(%d)", in.value)
		}
		return fmt.Sprintf("read() -> %v", output)
	},
}

func TestCoordinator_Linearizable(t *testing.T) {
	ctx := context.Background()
	c := txn.New("master", handlers.NewRegistry())
	reg := domain.MustParseAddress("/register=x")
	_, err := c.Execute(ctx, add(reg, map[string]any{"value": 0}))
	require.NoError(t, err)

	const clients, perClient = 6, 20
	var (
		mu  sync.Mutex
		ops []porcupine.Operation
		wg  sync.WaitGroup
	)
	t0 := time.Now()
	for id := 0; id < clients; id++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for i := 0; i < perClient; i++ {
				in := registerInput{write: i%2 == 0, value: id*1000 + i}
				var op domain.Operation
				if in.write {
					op = write(reg, "value", in.value)
				} else {
					op = domain.NewOperation(domain.OpReadAttribute, reg, map[string]any{"name": "value"})
				}

				call := time.Since(t0).Nanoseconds()
				out, err := c.Execute(ctx, op)
				ret := time.Since(t0).Nanoseconds()
				if !assert.NoError(t, err) || !assert.Equal(t, domain.OutcomeCommitted, out.Status) {
					return
				}

				var output any
				if !in.write {
					output = out.Result.(int)
				}
				mu.Lock()
				ops = append(ops, porcupine.Operation{ClientId: id, Input: in, Call: call, Output: output, Return: ret})
				mu.Unlock()
			}
		}(id)
	}
	wg.Wait()

	assert.True(t, porcupine.CheckOperations(registerModel, ops), "history is not linearizable")
}
