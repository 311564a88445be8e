// Package keyring stores the vault master key.
//
// The default backend is a hex-encoded file readable only by its owner
// (<dataDir>/master.key). Hosts with a desktop keychain can opt into the
// keychain backend instead. Key creation is serialized with a file lock so
// two processes initializing the same data directory agree on one key.
//
// The file backend refuses to read a key whose file permissions allow group
// or world access; such a key should be treated as exposed and rotated.
package keyring

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zalando/go-keyring"
)

const (
	// ServiceName is the keychain service identifier.
	ServiceName = "agento"
	// AccountName is the keychain account identifier.
	AccountName = "master-key"
	// KeySize is the master key size in bytes.
	KeySize = 32
)

var (
	// ErrNotFound is returned when a backend holds no key.
	ErrNotFound = errors.New("master key not found")
	// ErrInsecurePermissions is returned when the key file is group or world accessible.
	ErrInsecurePermissions = errors.New("key file has insecure permissions")
)

// Backend defines the interface for key storage.
type Backend interface {
	Get() ([]byte, error)
	// Set stores key unless a key already exists. Callers re-read with Get.
	Set(key []byte) error
	Delete() error
	Name() string
}

// New returns the file backend for path, or the keychain backend when
// useKeychain is set.
func New(path string, useKeychain bool) Backend {
	if useKeychain {
		return NewKeychain(ServiceName)
	}
	return NewFile(path)
}

// FileBackend stores the key hex encoded in a 0600 file.
type FileBackend struct {
	path string
}

// NewFile returns a file backend at path.
func NewFile(path string) *FileBackend {
	return &FileBackend{path: path}
}

func (f *FileBackend) Get() ([]byte, error) {
	info, err := os.Stat(f.path)
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading key file: %w", err)
	}
	if perm := info.Mode().Perm(); perm&0077 != 0 {
		return nil, fmt.Errorf("%w: %s has permissions %04o (expected 0600)",
			ErrInsecurePermissions, f.path, perm)
	}

	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("reading key file: %w", err)
	}
	key, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("invalid key encoding: %w", err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("invalid key length: expected %d bytes, got %d", KeySize, len(key))
	}
	return key, nil
}

func (f *FileBackend) Set(key []byte) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0700); err != nil {
		return fmt.Errorf("creating key directory: %w", err)
	}

	lockPath := f.path + ".lock"
	lf, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("creating lock file: %w", err)
	}
	defer lf.Close()

	unlock, err := lockFile(lf)
	if err != nil {
		return fmt.Errorf("acquiring lock: %w", err)
	}
	defer unlock()

	// Another process may have written the key while we waited.
	if _, err := os.Stat(f.path); err == nil {
		return nil
	}

	// Write then rename so readers never observe a partial key.
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(hex.EncodeToString(key)), 0600); err != nil {
		return fmt.Errorf("writing key file: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("writing key file: %w", err)
	}
	return nil
}

func (f *FileBackend) Delete() error {
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting key file: %w", err)
	}
	return nil
}

func (f *FileBackend) Name() string {
	return "file (" + f.path + ")"
}

// KeychainBackend stores the key base64 encoded in the system keychain.
type KeychainBackend struct {
	service string
}

// NewKeychain returns a keychain backend under service.
func NewKeychain(service string) *KeychainBackend {
	return &KeychainBackend{service: service}
}

func (k *KeychainBackend) Get() ([]byte, error) {
	encoded, err := keyring.Get(k.service, AccountName)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("keychain get: %w", err)
	}
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid key encoding: %w", err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("invalid key length: expected %d bytes, got %d", KeySize, len(key))
	}
	return key, nil
}

func (k *KeychainBackend) Set(key []byte) error {
	if _, err := keyring.Get(k.service, AccountName); err == nil {
		return nil
	}
	if err := keyring.Set(k.service, AccountName, base64.StdEncoding.EncodeToString(key)); err != nil {
		return fmt.Errorf("keychain set: %w", err)
	}
	return nil
}

func (k *KeychainBackend) Delete() error {
	if err := keyring.Delete(k.service, AccountName); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("keychain delete: %w", err)
	}
	return nil
}

func (k *KeychainBackend) Name() string {
	return "system keychain"
}

// GenerateKey returns KeySize random bytes.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generating random key: %w", err)
	}
	return key, nil
}

// GetOrCreate returns the key held by b, generating and storing one first if
// b holds none. The returned key is always the one read back from b.
func GetOrCreate(b Backend) ([]byte, error) {
	key, err := b.Get()
	if err == nil {
		return key, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	key, err = GenerateKey()
	if err != nil {
		return nil, err
	}
	if err := b.Set(key); err != nil {
		return nil, fmt.Errorf("storing master key in %s: %w", b.Name(), err)
	}
	stored, err := b.Get()
	if err != nil {
		return nil, fmt.Errorf("verifying stored master key in %s: %w", b.Name(), err)
	}
	return stored, nil
}
