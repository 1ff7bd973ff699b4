package mcp

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/aretw0/keel/pkg/domain"
	"github.com/aretw0/keel/pkg/fleet"
	"github.com/aretw0/keel/pkg/handlers"
	"github.com/aretw0/keel/pkg/txn"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer() *Server {
	return NewServer(fleet.New(txn.New("master", handlers.NewRegistry())), "test")
}

func TestHandleSubmit(t *testing.T) {
	s := newTestServer()
	ctx := context.Background()

	resp, err := s.handleSubmit(ctx, mcp.CallToolRequest{}, map[string]interface{}{
		"operation": "add",
		"address":   "/subsystem=datasources",
		"params":    `{"secret":"s3cr3t","pool":5}`,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeCommitted, resp.Outcome.Status)

	// The tree resource masks the secret
	text, err := s.readTree("/subsystem=datasources")
	require.NoError(t, err)
	var res domain.Resource
	require.NoError(t, json.Unmarshal([]byte(text), &res))
	assert.Equal(t, "***", res.Attributes["secret"])
	assert.Equal(t, float64(5), res.Attributes["pool"])

	// So do operation results
	resp, err = s.handleSubmit(ctx, mcp.CallToolRequest{}, map[string]interface{}{
		"operation": "read-attribute",
		"address":   "/subsystem=datasources",
		"params":    `{"name":"secret"}`,
	})
	require.NoError(t, err)
	assert.Equal(t, "***", resp.Outcome.Result)

	resp, err = s.handleSubmit(ctx, mcp.CallToolRequest{}, map[string]interface{}{
		"operation": "read-resource",
		"address":   "/subsystem=datasources",
	})
	require.NoError(t, err)
	read := resp.Outcome.Result.(*domain.Resource)
	assert.Equal(t, "***", read.Attributes["secret"])
	stored, err := s.kernel.Tree().Get(domain.MustParseAddress("/subsystem=datasources"))
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t", stored.Attributes["secret"])
}

func TestHandleSubmit_InvalidInput(t *testing.T) {
	s := newTestServer()
	ctx := context.Background()

	_, err := s.handleSubmit(ctx, mcp.CallToolRequest{}, map[string]interface{}{"operation": "add", "address": "/bad"})
	assert.Error(t, err)

	_, err = s.handleSubmit(ctx, mcp.CallToolRequest{}, map[string]interface{}{
		"operation": "add", "address": "/subsystem=x", "params": "[1,2]",
	})
	assert.Error(t, err)
}

func TestReadTree_Root(t *testing.T) {
	text, err := newTestServer().readTree("/")
	require.NoError(t, err)
	assert.Contains(t, text, `"address"`)
}
