package middleware

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/aretw0/keel/pkg/domain"
	"github.com/aretw0/keel/pkg/ports"
)

// EncryptionConfig holds the keys for encryption and decryption.
type EncryptionConfig struct {
	// ActiveKey seals every snapshot written from now on. Must be 32 bytes (AES-256).
	ActiveKey []byte

	// FallbackKeys open snapshots sealed before a key rotation.
	FallbackKeys [][]byte
}

// Envelope attributes on the root resource of a sealed snapshot.
const (
	sealedAttribute = "__sealed__"
	keyAttribute    = "__key__"
)

var (
	// ErrNotSealed is returned when a loaded snapshot is plain although encryption is configured.
	ErrNotSealed = errors.New("snapshot is not sealed")
	// ErrUnseal is returned when no configured key opens a sealed snapshot.
	ErrUnseal = errors.New("no configured key opens the snapshot")
)

// sealKey is one AES-GCM key with the short id recorded in envelopes.
type sealKey struct {
	id   string
	aead cipher.AEAD
}

func newSealKey(key []byte) (sealKey, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return sealKey{}, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return sealKey{}, err
	}
	sum := sha256.Sum256(key)
	return sealKey{id: hex.EncodeToString(sum[:4]), aead: aead}, nil
}

// encryptionMiddleware seals whole snapshots. The process name and revision are bound as
// additional data, so an envelope copied to another process or relabelled does not open.
type encryptionMiddleware struct {
	next ports.SnapshotStore
	keys []sealKey // active first
}

// NewEncryptionMiddleware seals snapshots with AES-GCM before they reach the store. Only the
// revision stays readable. It panics when a key is not 32 bytes.
func NewEncryptionMiddleware(config EncryptionConfig) Middleware {
	if len(config.ActiveKey) != 32 {
		panic("active key must be 32 bytes (AES-256)")
	}
	keys := make([]sealKey, 0, 1+len(config.FallbackKeys))
	for _, k := range append([][]byte{config.ActiveKey}, config.FallbackKeys...) {
		if len(k) != 32 {
			panic("fallback keys must be 32 bytes (AES-256)")
		}
		sk, err := newSealKey(k)
		if err != nil {
			panic(err)
		}
		keys = append(keys, sk)
	}
	return func(next ports.SnapshotStore) ports.SnapshotStore {
		return &encryptionMiddleware{next: next, keys: keys}
	}
}

func additionalData(process string, revision uint64) []byte {
	return []byte(process + "@" + strconv.FormatUint(revision, 10))
}

func (m *encryptionMiddleware) Persist(ctx context.Context, process string, snap *domain.Snapshot) error {
	plain, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot %d: %w", snap.Revision, err)
	}

	active := m.keys[0]
	nonce := make([]byte, active.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("seal snapshot %d: %w", snap.Revision, err)
	}
	sealed := active.aead.Seal(nonce, nonce, plain, additionalData(process, snap.Revision))

	envelope := &domain.Snapshot{
		Revision: snap.Revision,
		Resources: []*domain.Resource{
			domain.NewResource(domain.RootAddress, map[string]any{
				sealedAttribute: base64.StdEncoding.EncodeToString(sealed),
				keyAttribute:    active.id,
			}),
		},
	}
	return m.next.Persist(ctx, process, envelope)
}

func (m *encryptionMiddleware) Load(ctx context.Context, process string) (*domain.Snapshot, error) {
	envelope, err := m.next.Load(ctx, process)
	if err != nil {
		return nil, err
	}

	// With encryption configured a plain snapshot is refused, never trusted.
	var encoded, keyID string
	if len(envelope.Resources) == 1 {
		encoded, _ = envelope.Resources[0].Attributes[sealedAttribute].(string)
		keyID, _ = envelope.Resources[0].Attributes[keyAttribute].(string)
	}
	if encoded == "" {
		return nil, fmt.Errorf("%s revision %d: %w", process, envelope.Revision, ErrNotSealed)
	}
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%s revision %d: decode envelope: %w", process, envelope.Revision, err)
	}

	plain, err := m.open(sealed, keyID, additionalData(process, envelope.Revision))
	if err != nil {
		return nil, fmt.Errorf("%s revision %d: %w", process, envelope.Revision, err)
	}
	var snap domain.Snapshot
	if err := json.Unmarshal(plain, &snap); err != nil {
		return nil, fmt.Errorf("%s revision %d: unmarshal snapshot: %w", process, envelope.Revision, err)
	}
	return &snap, nil
}

// open tries the key named by the envelope first, then every other key in rotation order.
func (m *encryptionMiddleware) open(sealed []byte, keyID string, ad []byte) ([]byte, error) {
	try := func(k sealKey) ([]byte, bool) {
		n := k.aead.NonceSize()
		if len(sealed) < n {
			return nil, false
		}
		plain, err := k.aead.Open(nil, sealed[:n], sealed[n:], ad)
		return plain, err == nil
	}
	for _, k := range m.keys {
		if k.id == keyID {
			if plain, ok := try(k); ok {
				return plain, nil
			}
		}
	}
	for _, k := range m.keys {
		if k.id == keyID {
			continue
		}
		if plain, ok := try(k); ok {
			return plain, nil
		}
	}
	return nil, ErrUnseal
}
