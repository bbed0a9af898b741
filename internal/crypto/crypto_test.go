package crypto

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestEncryptDecrypt(t *testing.T) {
	enc, err := NewEncryptorFromSecret(testSecret, "test")
	if err != nil {
		t.Fatalf("NewEncryptorFromSecret: %v", err)
	}

	sealed, err := enc.Encrypt("sk-live-123")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if strings.Contains(sealed, "sk-live-123") {
		t.Error("ciphertext contains the plaintext")
	}

	again, err := enc.Encrypt("sk-live-123")
	if err != nil {
		t.Fatal(err)
	}
	if again == sealed {
		t.Error("two encryptions produced the same ciphertext")
	}

	plain, err := enc.Decrypt(sealed)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if plain != "sk-live-123" {
		t.Errorf("Decrypt = %q, want sk-live-123", plain)
	}
}

func TestEncryptEmpty(t *testing.T) {
	enc, err := NewEncryptorFromSecret(testSecret, "test")
	if err != nil {
		t.Fatal(err)
	}
	sealed, err := enc.Encrypt("")
	if err != nil || sealed != "" {
		t.Errorf("Encrypt(\"\") = %q, %v; want empty, nil", sealed, err)
	}
	plain, err := enc.Decrypt("")
	if err != nil || plain != "" {
		t.Errorf("Decrypt(\"\") = %q, %v; want empty, nil", plain, err)
	}
}

func TestDecryptErrors(t *testing.T) {
	a, err := NewEncryptorFromSecret(testSecret, "a")
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewEncryptorFromSecret(testSecret, "b")
	if err != nil {
		t.Fatal(err)
	}
	sealed, err := a.Encrypt("secret")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := b.Decrypt(sealed); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("wrong key: err = %v, want ErrDecryptionFailed", err)
	}
	if _, err := a.Decrypt("c2hvcnQ="); !errors.Is(err, ErrCiphertextTooShort) {
		t.Errorf("short input: err = %v, want ErrCiphertextTooShort", err)
	}
	if _, err := a.Decrypt("%%%"); err == nil {
		t.Error("invalid base64 should fail")
	}
}

func TestDeriveKey(t *testing.T) {
	k1, err := DeriveKey(testSecret, "cookie")
	if err != nil {
		t.Fatal(err)
	}
	k2, err := DeriveKey(testSecret, "cookie")
	if err != nil {
		t.Fatal(err)
	}
	k3, err := DeriveKey(testSecret, "csrf")
	if err != nil {
		t.Fatal(err)
	}

	if len(k1) != 32 {
		t.Errorf("key length = %d, want 32", len(k1))
	}
	if !bytes.Equal(k1, k2) {
		t.Error("derivation is not deterministic")
	}
	if bytes.Equal(k1, k3) {
		t.Error("different info produced the same key")
	}

	if _, err := DeriveKey("short", "cookie"); !errors.Is(err, ErrWeakSecret) {
		t.Errorf("short secret: err = %v, want ErrWeakSecret", err)
	}
}

func TestNewEncryptorKeySize(t *testing.T) {
	if _, err := NewEncryptor(make([]byte, 16)); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("err = %v, want ErrInvalidKey", err)
	}
}

func TestGenerateSecret(t *testing.T) {
	s, err := GenerateSecret()
	if err != nil {
		t.Fatal(err)
	}
	if len(s) < 32 {
		t.Errorf("secret too short for DeriveKey: %d chars", len(s))
	}
}
