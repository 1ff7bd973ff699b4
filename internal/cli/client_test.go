package cli_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/aretw0/keel/internal/cli"
	"github.com/aretw0/keel/internal/config"
	"github.com/aretw0/keel/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_SubmitAndTree(t *testing.T) {
	rt := build(t, baseConfig(t, "master", config.RoleController))
	h, err := rt.Handler()
	require.NoError(t, err)
	srv := httptest.NewServer(h)
	defer srv.Close()

	c := cli.NewClient(srv.URL + "/")
	ctx := context.Background()

	// 1. Add a resource
	resp, err := c.Submit(ctx, domain.NewOperation(domain.OpAdd, ds, map[string]any{"jndi": "java:/ds"}))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeCommitted, resp.Outcome.Status)

	// 2. Read it back
	res, err := c.Tree(ctx, ds, false)
	require.NoError(t, err)
	assert.Equal(t, ds.String(), res.Address.String())
	assert.Equal(t, "java:/ds", res.Attributes["jndi"])

	// 3. Missing addresses surface as API errors
	_, err = c.Tree(ctx, domain.MustParseAddress("/subsystem=missing"), false)
	var apiErr *cli.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 404, apiErr.Status)
}

func TestParseParams(t *testing.T) {
	params, err := cli.ParseParams([]string{"count=3", "enabled=true", "jndi=java:/ds", "empty="})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"count":   float64(3),
		"enabled": true,
		"jndi":    "java:/ds",
		"empty":   "",
	}, params)

	_, err = cli.ParseParams([]string{"novalue"})
	assert.Error(t, err)

	params, err = cli.ParseParams(nil)
	require.NoError(t, err)
	assert.Nil(t, params)
}
