// Package vault encrypts tenant-supplied tool-server credentials.
//
// Each office gets its own AES-256-GCM key derived from one master secret via
// HKDF-SHA256, so a leaked per-office key never exposes another office's
// credentials and the master secret itself is never used as a cipher key.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// appSalt is a fixed application-level HKDF salt. Changing it invalidates
// every stored credential, same as rotating the master secret.
const appSalt = "parley-credential-vault-v1"

const keySize = 32 // AES-256

// ErrUnreadable marks ciphertext that cannot be decrypted: wrong office key,
// rotated master secret, or corrupt/truncated data. Callers should prompt the
// user to re-enter the credential rather than treat this as an internal fault.
var ErrUnreadable = errors.New("credential unreadable, re-enter it")

// Vault derives per-office keys and seals/opens credential blobs.
type Vault struct {
	master []byte
}

// New creates a Vault from the master secret. The secret must be non-empty;
// its exact length does not matter since every key is HKDF-derived.
func New(masterSecret []byte) (*Vault, error) {
	if len(masterSecret) == 0 {
		return nil, errors.New("vault: master secret is empty")
	}
	master := make([]byte, len(masterSecret))
	copy(master, masterSecret)
	return &Vault{master: master}, nil
}

// officeKey derives the symmetric key for one office.
func (v *Vault) officeKey(officeID string) ([]byte, error) {
	r := hkdf.New(sha256.New, v.master, []byte(appSalt), []byte("office:"+officeID))
	key := make([]byte, keySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("vault: derive office key: %w", err)
	}
	return key, nil
}

func (v *Vault) aead(officeID string) (cipher.AEAD, error) {
	key, err := v.officeKey(officeID)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("vault: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vault: new gcm: %w", err)
	}
	return gcm, nil
}

// Encrypt seals plaintext under the office's derived key.
// Layout: nonce || authenticated ciphertext. A fresh random nonce is drawn
// for every call, so encrypting the same plaintext twice differs.
func (v *Vault) Encrypt(officeID string, plaintext []byte) ([]byte, error) {
	gcm, err := v.aead(officeID)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("vault: read nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens a blob produced by Encrypt for the same office.
// Any authentication failure or structurally impossible ciphertext reports
// ErrUnreadable; rotation of the master secret lands here routinely, so this
// must stay distinguishable from internal faults.
func (v *Vault) Decrypt(officeID string, ciphertext []byte) ([]byte, error) {
	gcm, err := v.aead(officeID)
	if err != nil {
		return nil, err
	}
	// Shortest valid blob: nonce + one plaintext byte + GCM tag.
	if len(ciphertext) < gcm.NonceSize()+1+gcm.Overhead() {
		return nil, fmt.Errorf("vault: ciphertext too short (%d bytes): %w", len(ciphertext), ErrUnreadable)
	}
	nonce, sealed := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("vault: open: %w", ErrUnreadable)
	}
	return plaintext, nil
}
