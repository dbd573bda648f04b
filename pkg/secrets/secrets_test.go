package secrets

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/netman-network/netman/pkg/util"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), ".encryption_key"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	s := newTestStore(t)

	for _, plaintext := range []string{"p", "cisco123", "pä££wörd", strings.Repeat("x", 4096)} {
		ct, err := s.Encrypt(plaintext)
		if err != nil {
			t.Fatalf("Encrypt(%q): %v", plaintext, err)
		}
		if !IsEncrypted(ct) {
			t.Errorf("Encrypt(%q) = %q, missing ciphertext prefix", plaintext, ct)
		}
		got, err := s.Decrypt(ct)
		if err != nil {
			t.Fatalf("Decrypt: %v", err)
		}
		if got != plaintext {
			t.Errorf("round trip = %q, want %q", got, plaintext)
		}
	}
}

func TestEncryptUsesFreshNonce(t *testing.T) {
	s := newTestStore(t)

	a, _ := s.Encrypt("same")
	b, _ := s.Encrypt("same")
	if a == b {
		t.Error("two encryptions of the same plaintext produced identical ciphertext")
	}
}

func TestDecryptTamperedFails(t *testing.T) {
	s := newTestStore(t)

	ct, _ := s.Encrypt("secret")
	tampered := ct[:len(ct)-2] + "AA"
	if _, err := s.Decrypt(tampered); !errors.Is(err, util.ErrCrypto) {
		t.Errorf("Decrypt(tampered) err = %v, want ErrCrypto", err)
	}
}

func TestDecryptWrongKeyFails(t *testing.T) {
	a := newTestStore(t)
	b := newTestStore(t)

	ct, _ := a.Encrypt("secret")
	if _, err := b.Decrypt(ct); !errors.Is(err, util.ErrCrypto) {
		t.Errorf("Decrypt with wrong key err = %v, want ErrCrypto", err)
	}
}

func TestDecryptPlaintextFails(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Decrypt("not-encrypted"); !errors.Is(err, util.ErrCrypto) {
		t.Errorf("Decrypt(plaintext) err = %v, want ErrCrypto", err)
	}
}

func TestMigrateIdempotent(t *testing.T) {
	s := newTestStore(t)

	once, err := s.Migrate("plaintext")
	if err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if !IsEncrypted(once) {
		t.Fatal("Migrate did not encrypt plaintext")
	}
	twice, err := s.Migrate(once)
	if err != nil {
		t.Fatalf("Migrate (second): %v", err)
	}
	if twice != once {
		t.Error("Migrate is not idempotent on encrypted input")
	}
}

func TestKeyPersistsAcrossOpens(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), ".encryption_key")

	a, err := Open(keyPath)
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	ct, _ := a.Encrypt("secret")

	b, err := Open(keyPath)
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	got, err := b.Decrypt(ct)
	if err != nil || got != "secret" {
		t.Errorf("Decrypt after reopen = %q, %v", got, err)
	}
}

func TestOpenRejectsLooseKeyPermissions(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), ".encryption_key")
	if _, err := Open(keyPath); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := os.Chmod(keyPath, 0o644); err != nil {
		t.Fatalf("chmod: %v", err)
	}
	if _, err := Open(keyPath); err == nil {
		t.Error("Open accepted a world-readable key file")
	}
}
