package sync

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
	"lukechampine.com/blake3"
)

// keyContext binds derived keys to this protocol. Changing it invalidates
// every PIN-derived key, so it is versioned.
const keyContext = "lettuce_backup_key_v1"

// DeriveKey turns the user PIN and the driver's handshake salt into the
// 32-byte session key.
func DeriveKey(pin string, salt []byte) []byte {
	buf := make([]byte, 0, len(pin)+len(salt)+len(keyContext))
	buf = append(buf, pin...)
	buf = append(buf, salt...)
	buf = append(buf, keyContext...)
	sum := blake3.Sum256(buf)
	Zero(buf)

	key := make([]byte, chacha20poly1305.KeySize)
	copy(key, sum[:])
	return key
}

// Seal encrypts plaintext under key with a fresh random 24-byte nonce
// prepended to the ciphertext.
func Seal(key, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts a Seal output. A wrong key or any tampering fails the
// authentication tag.
func Open(key, sealed []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	if len(sealed) < chacha20poly1305.NonceSizeX {
		return nil, fmt.Errorf("sealed payload too short")
	}
	nonce, ciphertext := sealed[:chacha20poly1305.NonceSizeX], sealed[chacha20poly1305.NonceSizeX:]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("open payload: %w", err)
	}
	return plaintext, nil
}

// Zero overwrites b in place. Session keys pass through here before they
// are dropped.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("random bytes: %w", err)
	}
	return b, nil
}
