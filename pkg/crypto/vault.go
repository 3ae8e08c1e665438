// Package crypto seals exchange key material at rest with AES-256-GCM.
//
// Sealed values carry their key version: ENC[vN]:base64(nonce|ciphertext|tag).
// Older versions stay readable after rotation; new values always use the
// highest configured version.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
)

const (
	KeySize   = 32
	NonceSize = 12

	// EnvKey holds version 1; EnvKey_V2..EnvKey_V10 hold rotated keys.
	EnvKey     = "MASTER_ENCRYPTION_KEY"
	maxVersion = 10
)

var (
	ErrInvalidKey        = errors.New("invalid encryption key: must be 32 bytes")
	ErrInvalidCiphertext = errors.New("invalid ciphertext format")
	ErrDecryptionFailed  = errors.New("decryption failed")
	ErrNoKeys            = errors.New("no encryption key configured")
	ErrVersionMissing    = errors.New("key version not configured")
)

// randReader is swapped in tests.
var randReader io.Reader = rand.Reader

// Vault encrypts and decrypts secrets with a set of versioned keys.
type Vault struct {
	mu      sync.RWMutex
	current int
	aeads   map[int]cipher.AEAD
}

// NewVault builds a vault from raw 32-byte keys indexed by version.
func NewVault(keys map[int][]byte) (*Vault, error) {
	if len(keys) == 0 {
		return nil, ErrNoKeys
	}
	v := &Vault{aeads: make(map[int]cipher.AEAD, len(keys))}
	for ver, key := range keys {
		if ver <= 0 {
			return nil, fmt.Errorf("key version %d: must be positive", ver)
		}
		aead, err := newAEAD(key)
		if err != nil {
			return nil, fmt.Errorf("key v%d: %w", ver, err)
		}
		v.aeads[ver] = aead
		if ver > v.current {
			v.current = ver
		}
	}
	return v, nil
}

// VaultFromEnv loads base64 keys through lookup (os.LookupEnv in production).
// The unversioned key is required.
func VaultFromEnv(lookup func(string) (string, bool)) (*Vault, error) {
	keys := make(map[int][]byte)
	for ver := 1; ver <= maxVersion; ver++ {
		name := EnvKey
		if ver > 1 {
			name = fmt.Sprintf("%s_V%d", EnvKey, ver)
		}
		raw, ok := lookup(name)
		if !ok || strings.TrimSpace(raw) == "" {
			if ver == 1 {
				return nil, fmt.Errorf("%s: %w", name, ErrNoKeys)
			}
			continue
		}
		key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", name, err)
		}
		keys[ver] = key
	}
	return NewVault(keys)
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// CurrentVersion is the version used by Encrypt.
func (v *Vault) CurrentVersion() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.current
}

// Versions lists configured key versions in ascending order.
func (v *Vault) Versions() []int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]int, 0, len(v.aeads))
	for ver := range v.aeads {
		out = append(out, ver)
	}
	sort.Ints(out)
	return out
}

// Encrypt seals plaintext with the current key.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	v.mu.RLock()
	ver := v.current
	aead := v.aeads[ver]
	v.mu.RUnlock()

	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(randReader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return fmt.Sprintf("ENC[v%d]:%s", ver, base64.StdEncoding.EncodeToString(sealed)), nil
}

// Decrypt opens a value produced by Encrypt under any configured version.
func (v *Vault) Decrypt(sealed string) (string, error) {
	ver, payload, ok := splitSealed(sealed)
	if !ok {
		return "", ErrInvalidCiphertext
	}
	v.mu.RLock()
	aead, found := v.aeads[ver]
	v.mu.RUnlock()
	if !found {
		return "", fmt.Errorf("v%d: %w", ver, ErrVersionMissing)
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", ErrInvalidCiphertext
	}
	if len(data) < NonceSize+aead.Overhead() {
		return "", ErrInvalidCiphertext
	}
	plain, err := aead.Open(nil, data[:NonceSize], data[NonceSize:], nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plain), nil
}

// ReEncrypt moves a sealed value onto the current key. Values already on the
// current key are returned unchanged.
func (v *Vault) ReEncrypt(sealed string) (string, error) {
	if ParseVersion(sealed) == v.CurrentVersion() {
		return sealed, nil
	}
	plain, err := v.Decrypt(sealed)
	if err != nil {
		return "", err
	}
	return v.Encrypt(plain)
}

// ParseVersion returns the key version of a sealed value, or 0.
func ParseVersion(sealed string) int {
	ver, _, ok := splitSealed(sealed)
	if !ok {
		return 0
	}
	return ver
}

func splitSealed(s string) (int, string, bool) {
	rest, ok := strings.CutPrefix(s, "ENC[v")
	if !ok {
		return 0, "", false
	}
	num, payload, ok := strings.Cut(rest, "]:")
	if !ok || num == "" {
		return 0, "", false
	}
	ver := 0
	for _, r := range num {
		if r < '0' || r > '9' {
			return 0, "", false
		}
		ver = ver*10 + int(r-'0')
	}
	return ver, payload, ver > 0
}
