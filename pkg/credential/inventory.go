// Package credential implements the credential-lifecycle subsystem: a key
// inventory with service-token minting, rotation scheduling with pre and
// post hooks, usage anomaly analysis, over-permission detection, leak
// scanning with optional auto-revocation, instant revocation with cascade
// and replacement, multi-factor key health scoring, and rotation
// verification with rollback. The orchestrator fans these evaluators out
// behind a flat API.
package credential

import (
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/Veridian-Labs/aegis/pkg/ident"
	"github.com/Veridian-Labs/aegis/pkg/keyring"
)

var (
	ErrKeyNotFound = errors.New("key not found")
	ErrKeyRevoked  = errors.New("key is revoked")
)

// KeyType classifies a managed credential.
type KeyType string

const (
	KeyTypeAPIKey         KeyType = "api_key"
	KeyTypeOAuthToken     KeyType = "oauth_token"
	KeyTypeSSHKey         KeyType = "ssh_key"
	KeyTypeTLSCert        KeyType = "tls_cert"
	KeyTypeJWTSecret      KeyType = "jwt_secret"
	KeyTypeServiceAccount KeyType = "service_account"
	KeyTypeEncryptionKey  KeyType = "encryption_key"
)

// ParseKeyType validates a key type label.
func ParseKeyType(s string) (KeyType, error) {
	switch t := KeyType(s); t {
	case KeyTypeAPIKey, KeyTypeOAuthToken, KeyTypeSSHKey, KeyTypeTLSCert,
		KeyTypeJWTSecret, KeyTypeServiceAccount, KeyTypeEncryptionKey:
		return t, nil
	default:
		return "", fmt.Errorf("invalid key type: %q", s)
	}
}

// KeyStatus tracks a key through its lifecycle. Revoked is terminal: a
// replacement is always a new key.
type KeyStatus string

const (
	KeyActive   KeyStatus = "active"
	KeyInactive KeyStatus = "inactive"
	KeyExpired  KeyStatus = "expired"
	KeyRevoked  KeyStatus = "revoked"
	KeyRotating KeyStatus = "rotating"
)

// ParseKeyStatus validates a key status label.
func ParseKeyStatus(s string) (KeyStatus, error) {
	switch st := KeyStatus(s); st {
	case KeyActive, KeyInactive, KeyExpired, KeyRevoked, KeyRotating:
		return st, nil
	default:
		return "", fmt.Errorf("invalid key status: %q", s)
	}
}

// Key is one managed credential. MaterialPrefix is the public 32-hex-char
// fingerprint of the secret material; the material itself never leaves
// the inventory.
type Key struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Type           KeyType    `json:"type"`
	Owner          string     `json:"owner,omitempty"`
	Service        string     `json:"service,omitempty"`
	Scopes         []string   `json:"scopes,omitempty"`
	Status         KeyStatus  `json:"status"`
	UsageCount     int        `json:"usage_count"`
	ExpiresDays    int        `json:"expires_days,omitempty"`
	MaterialPrefix string     `json:"material_prefix"`
	RegisteredAt   time.Time  `json:"registered_at"`
	LastUsedAt     *time.Time `json:"last_used_at,omitempty"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// ServiceTokenClaims are the claims carried by tokens minted for
// jwt_secret keys.
type ServiceTokenClaims struct {
	jwt.RegisteredClaims
	KeyID string `json:"key_id"`
}

// KeyInventory owns the managed key records and their secret material.
type KeyInventory struct {
	mu      sync.RWMutex
	keys    map[string]*Key
	secrets map[string][]byte // key id -> derived material
	stats   map[string]int
	clock   func() time.Time
}

// NewKeyInventory creates an empty inventory.
func NewKeyInventory() *KeyInventory {
	return &KeyInventory{
		keys:    make(map[string]*Key),
		secrets: make(map[string][]byte),
		stats:   map[string]int{"keys": 0, "active": 0, "revoked": 0, "expired": 0, "tokens": 0},
		clock:   time.Now,
	}
}

// WithClock overrides the time source. Returns the inventory for chaining.
func (i *KeyInventory) WithClock(clock func() time.Time) *KeyInventory {
	i.clock = clock
	return i
}

// deriveMaterial produces fresh secret material bound to the key identity.
// The seed is a new UUID so two derivations never collide.
func deriveMaterial(keyID, label string) ([]byte, string, error) {
	seed := []byte(uuid.NewString())
	secret, err := keyring.DeriveMaterial(seed, label+":"+keyID, 32)
	if err != nil {
		return nil, "", err
	}
	return secret, hex.EncodeToString(secret)[:32], nil
}

// RegisterKey adds a key to the inventory in active status with freshly
// derived material.
func (i *KeyInventory) RegisterKey(name string, kt KeyType, owner, service string, scopes []string, expiresDays int) (*Key, error) {
	if name == "" {
		return nil, fmt.Errorf("key name is required")
	}
	if _, err := ParseKeyType(string(kt)); err != nil {
		return nil, err
	}
	if expiresDays < 0 {
		return nil, fmt.Errorf("expires days must be non-negative: %d", expiresDays)
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	now := i.clock()
	key := &Key{
		ID:           ident.New(ident.PrefixKey),
		Name:         name,
		Type:         kt,
		Owner:        owner,
		Service:      service,
		Scopes:       append([]string(nil), scopes...),
		Status:       KeyActive,
		ExpiresDays:  expiresDays,
		RegisteredAt: now,
		UpdatedAt:    now,
	}
	secret, prefix, err := deriveMaterial(key.ID, "register")
	if err != nil {
		return nil, fmt.Errorf("derive key material: %w", err)
	}
	key.MaterialPrefix = prefix
	i.keys[key.ID] = key
	i.secrets[key.ID] = secret
	i.stats["keys"]++
	i.stats["active"]++
	return key, nil
}

// Key returns a key by id. Revoked keys keep resolving.
func (i *KeyInventory) Key(id string) (*Key, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	key, ok := i.keys[id]
	if !ok {
		return nil, fmt.Errorf("%q: %w", id, ErrKeyNotFound)
	}
	return key, nil
}

// Keys lists all keys ordered by registration time.
func (i *KeyInventory) Keys() []*Key {
	i.mu.RLock()
	defer i.mu.RUnlock()
	out := make([]*Key, 0, len(i.keys))
	for _, key := range i.keys {
		out = append(out, key)
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].RegisteredAt.Equal(out[b].RegisteredAt) {
			return out[a].ID < out[b].ID
		}
		return out[a].RegisteredAt.Before(out[b].RegisteredAt)
	})
	return out
}

// KeysByStatus lists keys in a given status, registration order.
func (i *KeyInventory) KeysByStatus(status KeyStatus) ([]*Key, error) {
	if _, err := ParseKeyStatus(string(status)); err != nil {
		return nil, err
	}
	var out []*Key
	for _, key := range i.Keys() {
		if key.Status == status {
			out = append(out, key)
		}
	}
	return out, nil
}

// MarkUsed bumps the key's usage counter and last-used time.
func (i *KeyInventory) MarkUsed(id string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	key, ok := i.keys[id]
	if !ok {
		return fmt.Errorf("%q: %w", id, ErrKeyNotFound)
	}
	now := i.clock()
	key.UsageCount++
	key.LastUsedAt = &now
	key.UpdatedAt = now
	return nil
}

// SetStatus moves a key to a new status. Revoked never transitions back.
func (i *KeyInventory) SetStatus(id string, status KeyStatus) error {
	if _, err := ParseKeyStatus(string(status)); err != nil {
		return err
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	key, ok := i.keys[id]
	if !ok {
		return fmt.Errorf("%q: %w", id, ErrKeyNotFound)
	}
	if key.Status == KeyRevoked {
		if status == KeyRevoked {
			return fmt.Errorf("key %q already revoked", id)
		}
		return fmt.Errorf("%q: %w", id, ErrKeyRevoked)
	}
	if key.Status == KeyActive && status != KeyActive {
		i.stats["active"]--
	}
	if key.Status != KeyActive && status == KeyActive {
		i.stats["active"]++
	}
	if status == KeyRevoked {
		i.stats["revoked"]++
	}
	if status == KeyExpired {
		i.stats["expired"]++
	}
	key.Status = status
	key.UpdatedAt = i.clock()
	return nil
}

// UpdateScopes replaces the key's scope set.
func (i *KeyInventory) UpdateScopes(id string, scopes []string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	key, ok := i.keys[id]
	if !ok {
		return fmt.Errorf("%q: %w", id, ErrKeyNotFound)
	}
	if key.Status == KeyRevoked {
		return fmt.Errorf("%q: %w", id, ErrKeyRevoked)
	}
	key.Scopes = append([]string(nil), scopes...)
	key.UpdatedAt = i.clock()
	return nil
}

// ReplaceMaterial derives fresh secret material for the key and returns
// the new public prefix. Rotation and replacement both go through here.
func (i *KeyInventory) ReplaceMaterial(id string) (string, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	key, ok := i.keys[id]
	if !ok {
		return "", fmt.Errorf("%q: %w", id, ErrKeyNotFound)
	}
	if key.Status == KeyRevoked {
		return "", fmt.Errorf("%q: %w", id, ErrKeyRevoked)
	}
	secret, prefix, err := deriveMaterial(id, "rotate")
	if err != nil {
		return "", fmt.Errorf("derive key material: %w", err)
	}
	key.MaterialPrefix = prefix
	key.UpdatedAt = i.clock()
	i.secrets[id] = secret
	return prefix, nil
}

// SweepExpired moves active keys past their expiry window to expired and
// returns how many moved. Keys without an expiry window never expire.
func (i *KeyInventory) SweepExpired() int {
	i.mu.Lock()
	defer i.mu.Unlock()

	now := i.clock()
	moved := 0
	for _, key := range i.keys {
		if key.Status != KeyActive || key.ExpiresDays <= 0 {
			continue
		}
		ageDays := int(now.Sub(key.RegisteredAt).Hours() / 24)
		if ageDays > key.ExpiresDays {
			key.Status = KeyExpired
			key.UpdatedAt = now
			i.stats["expired"]++
			i.stats["active"]--
			moved++
		}
	}
	return moved
}

// MintServiceToken issues a short-lived HS256 token signed with the key's
// material. Only active jwt_secret keys mint.
func (i *KeyInventory) MintServiceToken(id, subject string, ttl time.Duration) (string, error) {
	if subject == "" {
		return "", fmt.Errorf("token subject is required")
	}
	if ttl <= 0 {
		return "", fmt.Errorf("token ttl must be positive")
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	key, ok := i.keys[id]
	if !ok {
		return "", fmt.Errorf("%q: %w", id, ErrKeyNotFound)
	}
	if key.Type != KeyTypeJWTSecret {
		return "", fmt.Errorf("key %q has type %q, minting requires %q", id, key.Type, KeyTypeJWTSecret)
	}
	if key.Status != KeyActive {
		return "", fmt.Errorf("key %q is %q, minting requires an active key", id, key.Status)
	}

	now := i.clock().UTC()
	claims := ServiceTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   subject,
			Issuer:    "aegis/credential",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		KeyID: id,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["kid"] = id
	signed, err := token.SignedString(i.secrets[id])
	if err != nil {
		return "", fmt.Errorf("sign service token: %w", err)
	}
	i.stats["tokens"]++
	return signed, nil
}

// ParseServiceToken validates a minted token against the current material
// of the key named in its kid header. Tokens of revoked or rotated keys
// fail verification.
func (i *KeyInventory) ParseServiceToken(tokenString string) (*ServiceTokenClaims, error) {
	keyFunc := func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		kid, _ := t.Header["kid"].(string)
		i.mu.RLock()
		defer i.mu.RUnlock()
		key, ok := i.keys[kid]
		if !ok {
			return nil, fmt.Errorf("%q: %w", kid, ErrKeyNotFound)
		}
		if key.Status != KeyActive {
			return nil, fmt.Errorf("key %q is %q", kid, key.Status)
		}
		return i.secrets[kid], nil
	}

	token, err := jwt.ParseWithClaims(tokenString, &ServiceTokenClaims{}, keyFunc,
		jwt.WithTimeFunc(func() time.Time { return i.clock() }))
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*ServiceTokenClaims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenSignatureInvalid
	}
	return claims, nil
}

// Stats returns the inventory's counters.
func (i *KeyInventory) Stats() map[string]int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	out := make(map[string]int, len(i.stats))
	for k, v := range i.stats {
		out[k] = v
	}
	return out
}
