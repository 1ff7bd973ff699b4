// Package config loads the process configuration with viper. Every key can be overridden from
// the environment with the KEEL_ prefix, e.g. KEEL_STORAGE_BACKEND=redis.
package config

import (
	"encoding/hex"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/aretw0/keel/pkg/domain"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Roles.
const (
	RoleController  = "controller"
	RoleSubordinate = "subordinate"
)

// Storage backends.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendRedis  = "redis"
	BackendBadger = "badger"
)

type Root struct {
	Name     string
	Role     string
	LogLevel string
	Listen   string
	// Servers is the servers.yaml allow-list of start and stop commands.
	Servers string

	Storage      Storage
	Timeouts     Timeouts
	Participants []Participant
	Encryption   Encryption
	Redaction    []string
	Schemas      []Schema
}

// Schema describes the attributes of every resource matching Pattern.
type Schema struct {
	Pattern    domain.Address
	Attributes []SchemaAttribute
}

// SchemaAttribute is one attribute type, e.g. "int" or "[string]"; a trailing "!" marks it
// required.
type SchemaAttribute struct {
	Name string
	Type string
}

type Storage struct {
	Backend string
	Path    string
	Format  string
	Redis   Redis
}

type Redis struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
	History  int
	Lock     bool
	LockTTL  time.Duration
}

type Timeouts struct {
	Prepare         time.Duration
	Propose         time.Duration
	Confirm         time.Duration
	ConfirmAttempts int
	Ping            time.Duration
}

// Participant is a subordinate the controller dials.
type Participant struct {
	Name  string
	URL   string
	Scope []domain.Address
}

// Encryption holds hex-encoded AES-256 keys.
type Encryption struct {
	Key          string
	FallbackKeys []string
}

// Keys decodes the configured keys. Empty Key means encryption is off.
func (e Encryption) Keys() (active []byte, fallback [][]byte, err error) {
	if e.Key == "" {
		return nil, nil, nil
	}
	if active, err = decodeKey(e.Key); err != nil {
		return nil, nil, err
	}
	for _, k := range e.FallbackKeys {
		b, err := decodeKey(k)
		if err != nil {
			return nil, nil, err
		}
		fallback = append(fallback, b)
	}
	return active, fallback, nil
}

func decodeKey(s string) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("encryption key is not hex: %w", err)
	}
	if len(b) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes, got %d", len(b))
	}
	return b, nil
}

// New returns a viper instance with defaults and environment overrides.
func New() *viper.Viper {
	v := viper.New()
	v.SetDefault("name", "master")
	v.SetDefault("role", RoleController)
	v.SetDefault("loglevel", "info")
	v.SetDefault("listen", ":9990")
	v.SetDefault("storage.backend", BackendMemory)
	v.SetDefault("storage.path", ".keel/snapshots")
	v.SetDefault("storage.format", "json")
	v.SetDefault("storage.redis.addr", "localhost:6379")
	v.SetDefault("storage.redis.prefix", "keel:snapshot:")
	v.SetDefault("storage.redis.lockttl", 10*time.Second)
	v.SetDefault("timeouts.prepare", 30*time.Second)
	v.SetDefault("timeouts.propose", 10*time.Second)
	v.SetDefault("timeouts.confirm", 5*time.Second)
	v.SetDefault("timeouts.confirmattempts", 3)
	v.SetDefault("timeouts.ping", 10*time.Second)

	v.SetEnvPrefix("KEEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// ReadConfig loads path (any format viper knows by extension). An empty path loads only
// defaults and environment.
func ReadConfig(path string) (Root, error) {
	v := New()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Root{}, err
		}
	}
	return Decode(v)
}

// Decode unmarshals v into a validated Root.
func Decode(v *viper.Viper) (Root, error) {
	var c Root
	err := v.Unmarshal(&c, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		stringToAddressHook,
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)))
	if err != nil {
		return Root{}, err
	}
	return c, c.Validate()
}

var addressType = reflect.TypeOf(domain.Address{})

func stringToAddressHook(from, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String || to != addressType {
		return data, nil
	}
	return domain.ParseAddress(data.(string))
}

// Validate checks the fields the process cannot start without.
func (c Root) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("name is required")
	}
	switch c.Role {
	case RoleController, RoleSubordinate:
	default:
		return fmt.Errorf("unknown role %q", c.Role)
	}
	switch c.Storage.Backend {
	case BackendMemory, BackendFile, BackendRedis, BackendBadger:
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	seen := make(map[string]bool)
	for _, p := range c.Participants {
		if p.Name == "" || p.URL == "" {
			return fmt.Errorf("participant needs a name and a url")
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate participant %q", p.Name)
		}
		seen[p.Name] = true
	}
	for _, sc := range c.Schemas {
		if len(sc.Pattern) == 0 {
			return fmt.Errorf("schema needs a pattern")
		}
	}
	_, _, err := c.Encryption.Keys()
	return err
}
