// Package secrets encrypts device passwords at rest with authenticated
// symmetric encryption (NaCl secretbox: XSalsa20 + Poly1305).
//
// Ciphertexts are self-describing ("enc:v1:" prefix over base64) so that
// migrating an inventory with legacy plaintext passwords is idempotent:
// already-encrypted values are detected and left alone.
package secrets

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"

	"github.com/netman-network/netman/pkg/util"
)

const (
	// prefix marks a value as a netman ciphertext.
	prefix = "enc:v1:"

	keySize   = 32
	nonceSize = 24
)

// Store encrypts and decrypts credential strings with a file-backed key.
type Store struct {
	key     [keySize]byte
	keyPath string
}

// Open loads the key at keyPath, generating a new one if the file does not
// exist. The key file must be (and is created) owner-only; group or world
// access is rejected at startup rather than silently tolerated.
func Open(keyPath string) (*Store, error) {
	s := &Store{keyPath: keyPath}

	raw, err := os.ReadFile(keyPath)
	switch {
	case err == nil:
		if err := checkPermissions(keyPath); err != nil {
			return nil, err
		}
		decoded, derr := base64.StdEncoding.DecodeString(strings.TrimSpace(string(raw)))
		if derr != nil || len(decoded) != keySize {
			return nil, fmt.Errorf("key file %s is not a valid netman key", keyPath)
		}
		copy(s.key[:], decoded)
		return s, nil

	case os.IsNotExist(err):
		return s, s.generate()

	default:
		return nil, fmt.Errorf("reading key file: %w", err)
	}
}

func (s *Store) generate() error {
	if _, err := rand.Read(s.key[:]); err != nil {
		return fmt.Errorf("generating key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.keyPath), 0o700); err != nil {
		return fmt.Errorf("creating key directory: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(s.key[:])
	if err := os.WriteFile(s.keyPath, []byte(encoded+"\n"), 0o600); err != nil {
		return fmt.Errorf("writing key file: %w", err)
	}
	util.Warnf("Generated new encryption key at %s. Back it up: encrypted passwords are unrecoverable without it", s.keyPath)
	return nil
}

func checkPermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat key file: %w", err)
	}
	if perm := info.Mode().Perm(); perm&fs.FileMode(0o077) != 0 {
		return fmt.Errorf("key file %s has mode %04o, want owner-only (0600)", path, perm)
	}
	return nil
}

// Encrypt returns the self-describing ciphertext for plaintext. Each call
// uses a fresh random nonce, so repeated encryption of the same plaintext
// yields different ciphertexts. Empty input encrypts to empty.
func (s *Store) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, &s.key)
	return prefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. A value without the ciphertext prefix, a
// truncated payload, or a wrong-key/tampered box all fail with ErrCrypto;
// there is no plaintext fallback.
func (s *Store) Decrypt(value string) (string, error) {
	if value == "" {
		return "", nil
	}
	if !IsEncrypted(value) {
		return "", fmt.Errorf("value is not a netman ciphertext: %w", util.ErrCrypto)
	}
	sealed, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, prefix))
	if err != nil || len(sealed) <= nonceSize {
		return "", fmt.Errorf("malformed ciphertext: %w", util.ErrCrypto)
	}
	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])
	plain, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, &s.key)
	if !ok {
		return "", fmt.Errorf("decryption failed (wrong key or tampered data): %w", util.ErrCrypto)
	}
	return string(plain), nil
}

// IsEncrypted reports whether value carries the netman ciphertext prefix.
func IsEncrypted(value string) bool {
	return strings.HasPrefix(value, prefix)
}

// Migrate encrypts a legacy plaintext value and passes through values that
// are already encrypted. Migrate(Migrate(p)) == Migrate(p).
func (s *Store) Migrate(value string) (string, error) {
	if value == "" || IsEncrypted(value) {
		return value, nil
	}
	return s.Encrypt(value)
}
