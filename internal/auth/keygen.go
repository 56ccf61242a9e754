// Package auth provides API key generation, hashing and request context helpers.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
)

// Key format: gw_{env}_{prefix}_{secret}
// Example: gw_live_7a9c3f01_4f8d2e1b9c7a5f3d2e1b9c7a5f3d2e1b
const (
	KeyPrefixLen = 8  // hex encoded 4 bytes, used for lookup
	KeySecretLen = 32 // hex encoded 16 bytes
)

// Environment indicators embedded in keys.
const (
	EnvLive = "live"
	EnvTest = "test"
)

var (
	// ErrInvalidKeyFormat indicates the key format is invalid.
	ErrInvalidKeyFormat = errors.New("invalid API key format")

	keyFormatRegex = regexp.MustCompile(`^gw_(live|test)_([a-f0-9]{8})_([a-f0-9]{32})$`)
)

// GeneratedKey contains the parts of a newly generated API key.
type GeneratedKey struct {
	Plaintext string // shown once, never stored
	Hash      string // argon2id PHC string
	Prefix    string
}

// KeyGenerator issues API keys hashed with its Hasher.
type KeyGenerator struct {
	Env    string
	Hasher *Hasher
}

// NewKeyGenerator returns a generator for env. Unknown envs issue live keys.
func NewKeyGenerator(env string, hasher *Hasher) *KeyGenerator {
	if env != EnvLive && env != EnvTest {
		env = EnvLive
	}
	if hasher == nil {
		hasher = NewHasher(DefaultParams)
	}
	return &KeyGenerator{Env: env, Hasher: hasher}
}

// Generate creates a new random key.
func (g *KeyGenerator) Generate() (*GeneratedKey, error) {
	prefix, err := randomHex(KeyPrefixLen / 2)
	if err != nil {
		return nil, fmt.Errorf("generate prefix: %w", err)
	}
	secret, err := randomHex(KeySecretLen / 2)
	if err != nil {
		return nil, fmt.Errorf("generate secret: %w", err)
	}

	plaintext := fmt.Sprintf("gw_%s_%s_%s", g.Env, prefix, secret)
	hash, err := g.Hasher.Hash(plaintext)
	if err != nil {
		return nil, fmt.Errorf("hash key: %w", err)
	}

	return &GeneratedKey{Plaintext: plaintext, Hash: hash, Prefix: prefix}, nil
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// ParsedKey contains the parsed parts of an API key.
type ParsedKey struct {
	Env    string
	Prefix string
	Secret string
}

// ParseAPIKey extracts the components from a plaintext API key.
func ParseAPIKey(key string) (*ParsedKey, error) {
	m := keyFormatRegex.FindStringSubmatch(key)
	if m == nil {
		return nil, ErrInvalidKeyFormat
	}
	return &ParsedKey{Env: m[1], Prefix: m[2], Secret: m[3]}, nil
}

// ValidateKeyFormat checks if the key matches the expected format.
func ValidateKeyFormat(key string) bool {
	return keyFormatRegex.MatchString(key)
}
