package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aretw0/keel/internal/config"
	"github.com/aretw0/keel/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const controllerYAML = `
name: master
role: controller
listen: ":8080"
storage:
  backend: redis
  redis:
    addr: "redis:6379"
    ttl: 1h
    history: 5
    lock: true
timeouts:
  propose: 2s
  confirmattempts: 5
participants:
  - name: slave-1
    url: ws://slave-1:9990/channel
    scope: ["/host=one", "/server-config=*"]
  - name: slave-2
    url: ws://slave-2:9990/channel
`

func write(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestReadConfig(t *testing.T) {
	c, err := config.ReadConfig(write(t, "keel.yaml", controllerYAML))
	require.NoError(t, err)

	assert.Equal(t, "master", c.Name)
	assert.Equal(t, ":8080", c.Listen)
	assert.Equal(t, config.BackendRedis, c.Storage.Backend)
	assert.Equal(t, time.Hour, c.Storage.Redis.TTL)
	assert.True(t, c.Storage.Redis.Lock)
	assert.Equal(t, 2*time.Second, c.Timeouts.Propose)
	assert.Equal(t, 5, c.Timeouts.ConfirmAttempts)

	// Defaults fill what the file leaves out
	assert.Equal(t, 30*time.Second, c.Timeouts.Prepare)
	assert.Equal(t, "keel:snapshot:", c.Storage.Redis.Prefix)

	require.Len(t, c.Participants, 2)
	assert.Equal(t, []domain.Address{
		domain.MustParseAddress("/host=one"),
		domain.MustParseAddress("/server-config=*"),
	}, c.Participants[0].Scope)
	assert.Empty(t, c.Participants[1].Scope)
}

func TestReadConfig_Defaults(t *testing.T) {
	c, err := config.ReadConfig("")
	require.NoError(t, err)
	assert.Equal(t, config.RoleController, c.Role)
	assert.Equal(t, config.BackendMemory, c.Storage.Backend)
	assert.Equal(t, 3, c.Timeouts.ConfirmAttempts)
}

func TestReadConfig_Environment(t *testing.T) {
	t.Setenv("KEEL_NAME", "slave-9")
	t.Setenv("KEEL_ROLE", "subordinate")
	t.Setenv("KEEL_STORAGE_BACKEND", "badger")
	t.Setenv("KEEL_TIMEOUTS_PREPARE", "45s")

	c, err := config.ReadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "slave-9", c.Name)
	assert.Equal(t, config.RoleSubordinate, c.Role)
	assert.Equal(t, config.BackendBadger, c.Storage.Backend)
	assert.Equal(t, 45*time.Second, c.Timeouts.Prepare)
}

func TestReadConfig_Invalid(t *testing.T) {
	tests := map[string]string{
		"role":        "role: observer\n",
		"backend":     "storage:\n  backend: etcd\n",
		"participant": "participants:\n  - name: a\n",
		"duplicate":   "participants:\n  - {name: a, url: ws://a}\n  - {name: a, url: ws://b}\n",
		"scope":       "participants:\n  - {name: a, url: ws://a, scope: [\"/host\"]}\n",
		"key":         "encryption:\n  key: abcd\n",
		"schema":      "schemas:\n  - attributes: [{name: a, type: int}]\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := config.ReadConfig(write(t, "keel.yaml", content))
			assert.Error(t, err)
		})
	}
}

func TestReadConfig_Schemas(t *testing.T) {
	c, err := config.ReadConfig(write(t, "keel.yaml", `
schemas:
  - pattern: /subsystem=datasources/data-source=*
    attributes:
      - {name: jndi-name, type: "string!"}
      - {name: max-pool-size, type: int}
`))
	require.NoError(t, err)
	require.Len(t, c.Schemas, 1)
	assert.Equal(t, domain.MustParseAddress("/subsystem=datasources/data-source=*"), c.Schemas[0].Pattern)
	assert.Equal(t, []config.SchemaAttribute{
		{Name: "jndi-name", Type: "string!"},
		{Name: "max-pool-size", Type: "int"},
	}, c.Schemas[0].Attributes)
}

func TestEncryptionKeys(t *testing.T) {
	key := strings.Repeat("ab", 32)
	active, fallback, err := config.Encryption{Key: key, FallbackKeys: []string{strings.Repeat("cd", 32)}}.Keys()
	require.NoError(t, err)
	assert.Len(t, active, 32)
	require.Len(t, fallback, 1)

	active, _, err = config.Encryption{}.Keys()
	require.NoError(t, err)
	assert.Nil(t, active)
}
