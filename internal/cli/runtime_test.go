package cli_test

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aretw0/keel/internal/cli"
	"github.com/aretw0/keel/internal/config"
	"github.com/aretw0/keel/internal/logging"
	"github.com/aretw0/keel/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ds = domain.MustParseAddress("/subsystem=datasources")

func baseConfig(t *testing.T, name, role string) config.Root {
	t.Helper()
	c, err := config.ReadConfig("")
	require.NoError(t, err)
	c.Name, c.Role = name, role
	return c
}

func build(t *testing.T, cfg config.Root) *cli.Runtime {
	t.Helper()
	rt, err := cli.Build(context.Background(), cfg, logging.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, rt.Close()) })
	return rt
}

func TestBuild_RecoversFromEachBackend(t *testing.T) {
	mr := miniredis.RunT(t)

	tests := map[string]func(*config.Root){
		"file": func(c *config.Root) {
			c.Storage.Backend = config.BackendFile
			c.Storage.Path = t.TempDir()
		},
		"file yaml encrypted": func(c *config.Root) {
			c.Storage.Backend = config.BackendFile
			c.Storage.Path = t.TempDir()
			c.Storage.Format = "yaml"
			c.Encryption.Key = strings.Repeat("0f", 32)
		},
		"badger": func(c *config.Root) {
			c.Storage.Backend = config.BackendBadger
			c.Storage.Path = filepath.Join(t.TempDir(), "db")
		},
		"redis with lock": func(c *config.Root) {
			c.Storage.Backend = config.BackendRedis
			c.Storage.Redis.Addr = mr.Addr()
			c.Storage.Redis.Prefix = "test:" + strings.ReplaceAll(t.Name(), "/", "_") + ":"
			c.Storage.Redis.Lock = true
		},
	}
	for name, configure := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := baseConfig(t, "master", config.RoleController)
			configure(&cfg)

			// 1. Commit through one runtime
			rt, err := cli.Build(context.Background(), cfg, logging.NewNop())
			require.NoError(t, err)
			resp, err := rt.Fleet.Submit(context.Background(), domain.NewOperation(domain.OpAdd, ds, map[string]any{"jndi": "java:/ds"}))
			require.NoError(t, err)
			require.Equal(t, domain.OutcomeCommitted, resp.Outcome.Status)
			require.NoError(t, rt.Close())

			// 2. A fresh runtime recovers it
			again := build(t, cfg)
			assert.True(t, again.Local.Tree().Exists(ds))
			assert.Equal(t, uint64(1), again.Local.Tree().Revision())
		})
	}
}

func TestBuild_ControllerWithSubordinate(t *testing.T) {
	sub := build(t, baseConfig(t, "slave-1", config.RoleSubordinate))
	h, err := sub.Handler()
	require.NoError(t, err)
	srv := httptest.NewServer(h)
	defer srv.Close()

	cfg := baseConfig(t, "master", config.RoleController)
	cfg.Participants = []config.Participant{{Name: "slave-1", URL: "ws" + strings.TrimPrefix(srv.URL, "http") + "/channel"}}
	ctrl := build(t, cfg)
	assert.Equal(t, []string{"slave-1"}, ctrl.Fleet.Participants())

	resp, err := ctrl.Fleet.Submit(context.Background(), domain.NewOperation(domain.OpAdd, ds, nil))
	require.NoError(t, err)
	assert.Equal(t, domain.VerdictCommit, resp.Verdict)
	assert.Equal(t, domain.OutcomeCommitted, resp.Participants["slave-1"].Status)
	assert.True(t, sub.Local.Tree().Exists(ds))
}

func TestBuild_UnreachableParticipant(t *testing.T) {
	cfg := baseConfig(t, "master", config.RoleController)
	cfg.Participants = []config.Participant{{Name: "ghost", URL: "ws://127.0.0.1:1/channel"}}

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	_, err := cli.Build(ctx, cfg, logging.NewNop())
	assert.ErrorContains(t, err, "ghost")
}

func TestBuild_LaunchesConfiguredServers(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sh")
	}
	dir := t.TempDir()
	servers := filepath.Join(dir, "servers.yaml")
	require.NoError(t, os.WriteFile(servers, []byte(`
servers:
  - name: one
    start: {command: sh, args: [-c, "touch started-$KEEL_SERVER"]}
`), 0o600))

	cfg := baseConfig(t, "master", config.RoleController)
	cfg.Servers = servers
	rt := build(t, cfg)

	ctx := context.Background()
	one := domain.MustParseAddress("/server-config=one")
	_, err := rt.Fleet.Submit(ctx, domain.NewOperation(domain.OpAdd, one, nil))
	require.NoError(t, err)
	resp, err := rt.Fleet.Submit(ctx, domain.NewOperation(domain.OpStart, one, nil))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeCommitted, resp.Outcome.Status)
	assert.FileExists(t, filepath.Join(dir, "started-one"))
}

func TestBuild_ChecksConfiguredSchemas(t *testing.T) {
	cfg := baseConfig(t, "master", config.RoleController)
	cfg.Schemas = []config.Schema{{
		Pattern: domain.MustParseAddress("/subsystem=datasources"),
		Attributes: []config.SchemaAttribute{
			{Name: "jndi", Type: "string!"},
			{Name: "max-pool-size", Type: "int"},
		},
	}}
	rt := build(t, cfg)
	ctx := context.Background()

	// 1. A missing required attribute is rejected before anything changes
	resp, err := rt.Fleet.Submit(ctx, domain.NewOperation(domain.OpAdd, ds, map[string]any{"max-pool-size": 5}))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeRolledBack, resp.Outcome.Status)
	require.NotNil(t, resp.Outcome.Failure)
	assert.Equal(t, domain.FailureValidation, resp.Outcome.Failure.Kind)

	// 2. A conforming add commits
	resp, err = rt.Fleet.Submit(ctx, domain.NewOperation(domain.OpAdd, ds, map[string]any{"jndi": "java:/ds"}))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeCommitted, resp.Outcome.Status)
}

func TestBuild_RejectsUnknownSchemaType(t *testing.T) {
	cfg := baseConfig(t, "master", config.RoleController)
	cfg.Schemas = []config.Schema{{
		Pattern:    ds,
		Attributes: []config.SchemaAttribute{{Name: "jndi", Type: "uuid"}},
	}}
	_, err := cli.Build(context.Background(), cfg, logging.NewNop())
	assert.Error(t, err)
}
