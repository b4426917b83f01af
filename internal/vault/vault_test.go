package vault

import (
	"bytes"
	"errors"
	"testing"
)

func newTestVault(t *testing.T) *Vault {
	t.Helper()
	v, err := New([]byte("test-master-secret"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return v
}

func TestEncryptDecrypt_Roundtrip(t *testing.T) {
	v := newTestVault(t)
	tests := []struct {
		name string
		data []byte
	}{
		{"api key", []byte("sk-abc123def456")},
		{"single byte", []byte("x")},
		{"binary", []byte{0x00, 0xff, 0x10, 0x80}},
		{"long", bytes.Repeat([]byte("credential "), 200)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ct, err := v.Encrypt("office-1", tt.data)
			if err != nil {
				t.Fatalf("Encrypt: %v", err)
			}
			pt, err := v.Decrypt("office-1", ct)
			if err != nil {
				t.Fatalf("Decrypt: %v", err)
			}
			if !bytes.Equal(pt, tt.data) {
				t.Errorf("roundtrip mismatch: got %q, want %q", pt, tt.data)
			}
		})
	}
}

func TestEncrypt_FreshNonce(t *testing.T) {
	v := newTestVault(t)
	a, _ := v.Encrypt("office-1", []byte("same plaintext"))
	b, _ := v.Encrypt("office-1", []byte("same plaintext"))
	if bytes.Equal(a, b) {
		t.Error("two encryptions of the same plaintext should differ")
	}
}

func TestDecrypt_WrongOffice(t *testing.T) {
	v := newTestVault(t)
	ct, err := v.Encrypt("office-1", []byte("secret"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if _, err := v.Decrypt("office-2", ct); !errors.Is(err, ErrUnreadable) {
		t.Errorf("cross-office decrypt: got %v, want ErrUnreadable", err)
	}
}

func TestDecrypt_Truncated(t *testing.T) {
	v := newTestVault(t)
	ct, err := v.Encrypt("office-1", []byte("secret"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	for _, n := range []int{0, 1, 12, len(ct) - 1} {
		if _, err := v.Decrypt("office-1", ct[:n]); !errors.Is(err, ErrUnreadable) {
			t.Errorf("truncated to %d bytes: got %v, want ErrUnreadable", n, err)
		}
	}
}

func TestDecrypt_Tampered(t *testing.T) {
	v := newTestVault(t)
	ct, err := v.Encrypt("office-1", []byte("secret"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	ct[len(ct)-1] ^= 0x01
	if _, err := v.Decrypt("office-1", ct); !errors.Is(err, ErrUnreadable) {
		t.Errorf("tampered ciphertext: got %v, want ErrUnreadable", err)
	}
}

func TestDecrypt_RotatedMaster(t *testing.T) {
	v1 := newTestVault(t)
	v2, err := New([]byte("rotated-master-secret"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ct, _ := v1.Encrypt("office-1", []byte("secret"))
	if _, err := v2.Decrypt("office-1", ct); !errors.Is(err, ErrUnreadable) {
		t.Errorf("rotated master: got %v, want ErrUnreadable", err)
	}
}

func TestNew_EmptySecret(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Error("New with empty secret should fail")
	}
}
