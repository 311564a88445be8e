// Package vault encrypts provider API keys at rest.
//
// Keys are sealed with AES-256-GCM under a master key held by a keyring
// backend. Each call uses a fresh 12-byte nonce. The stored envelope is
// "<nonce hex>:<tag hex>:<ciphertext hex>".
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/majorcontext/agento/internal/vault/keyring"
)

const (
	nonceSize = 12
	tagSize   = 16
)

var (
	// ErrKeyNotFound is returned when no master key exists. Run `agento init`.
	ErrKeyNotFound = errors.New("master key not found")
	// ErrDecrypt is returned when an envelope is malformed or fails authentication.
	ErrDecrypt = errors.New("decryption failed")
)

// Vault seals and opens secrets with the master key.
type Vault struct {
	backend keyring.Backend

	mu   sync.Mutex
	aead cipher.AEAD
}

// New returns a vault reading its master key from backend.
// The key is loaded lazily and cached after the first successful read.
func New(backend keyring.Backend) *Vault {
	return &Vault{backend: backend}
}

// Init generates and stores the master key if the backend has none.
func (v *Vault) Init() error {
	key, err := keyring.GetOrCreate(v.backend)
	if err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.setKeyLocked(key)
}

func (v *Vault) loadAEAD() (cipher.AEAD, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.aead != nil {
		return v.aead, nil
	}

	key, err := v.backend.Get()
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading master key: %w", err)
	}
	if err := v.setKeyLocked(key); err != nil {
		return nil, err
	}
	return v.aead, nil
}

func (v *Vault) setKeyLocked(key []byte) error {
	block, err := aes.NewCipher(key)
	if err != nil {
		return fmt.Errorf("creating cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return fmt.Errorf("creating GCM: %w", err)
	}
	v.aead = aead
	return nil
}

// Encrypt seals plaintext and returns the envelope.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	aead, err := v.loadAEAD()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}
	sealed := aead.Seal(nil, nonce, []byte(plaintext), nil)
	ct, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]

	return hex.EncodeToString(nonce) + ":" + hex.EncodeToString(tag) + ":" + hex.EncodeToString(ct), nil
}

// Decrypt opens an envelope produced by Encrypt. A tampered or malformed
// envelope yields ErrDecrypt and no plaintext.
func (v *Vault) Decrypt(envelope string) (string, error) {
	aead, err := v.loadAEAD()
	if err != nil {
		return "", err
	}

	parts := strings.Split(envelope, ":")
	if len(parts) != 3 {
		return "", fmt.Errorf("%w: malformed envelope", ErrDecrypt)
	}
	nonce, err1 := hex.DecodeString(parts[0])
	tag, err2 := hex.DecodeString(parts[1])
	ct, err3 := hex.DecodeString(parts[2])
	if err := errors.Join(err1, err2, err3); err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	if len(nonce) != nonceSize || len(tag) != tagSize {
		return "", fmt.Errorf("%w: malformed envelope", ErrDecrypt)
	}

	plaintext, err := aead.Open(nil, nonce, append(ct, tag...), nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return string(plaintext), nil
}
