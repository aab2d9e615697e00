package sync

import (
	"bytes"
	"testing"

	"golang.org/x/crypto/chacha20poly1305"
	"lukechampine.com/blake3"
)

func TestDeriveKeyDeterministic(t *testing.T) {
	salt := bytes.Repeat([]byte{0xAB}, 16)

	a := DeriveKey("4242", salt)
	b := DeriveKey("4242", salt)
	if !bytes.Equal(a, b) {
		t.Errorf("same pin and salt produced different keys")
	}
	if len(a) != chacha20poly1305.KeySize {
		t.Errorf("key length = %d, want %d", len(a), chacha20poly1305.KeySize)
	}

	if other := DeriveKey("4243", salt); bytes.Equal(a, other) {
		t.Errorf("different pin produced the same key")
	}
	otherSalt := bytes.Repeat([]byte{0xCD}, 16)
	if other := DeriveKey("4242", otherSalt); bytes.Equal(a, other) {
		t.Errorf("different salt produced the same key")
	}
}

func TestDeriveKeyConstruction(t *testing.T) {
	salt := []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15}
	key := DeriveKey("4242", salt)

	want := blake3.Sum256([]byte("4242" + string(salt) + keyContext))
	if !bytes.Equal(key, want[:]) {
		t.Errorf("key is not BLAKE3(pin || salt || context)")
	}
}

func TestSealOpenRoundTrip(t *testing.T) {
	key := DeriveKey("4242", bytes.Repeat([]byte{1}, 16))
	plaintext := []byte("the shrine visit, as recorded")

	sealed, err := Seal(key, plaintext)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if bytes.Contains(sealed, plaintext) {
		t.Errorf("sealed payload contains the plaintext")
	}

	got, err := Open(key, sealed)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("Open = %q, want %q", got, plaintext)
	}

	again, err := Seal(key, plaintext)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if bytes.Equal(sealed, again) {
		t.Errorf("two seals produced identical output, nonce is not fresh")
	}
}

func TestOpenWrongKeyFails(t *testing.T) {
	salt := bytes.Repeat([]byte{1}, 16)
	sealed, err := Seal(DeriveKey("4242", salt), []byte("secret"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if _, err := Open(DeriveKey("9999", salt), sealed); err == nil {
		t.Errorf("Open with the wrong key succeeded")
	}
}

func TestOpenRejectsTampering(t *testing.T) {
	key := DeriveKey("4242", bytes.Repeat([]byte{1}, 16))
	sealed, err := Seal(key, []byte("secret"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	sealed[len(sealed)-1] ^= 0x01
	if _, err := Open(key, sealed); err == nil {
		t.Errorf("Open accepted a tampered payload")
	}
}

func TestOpenRejectsTruncated(t *testing.T) {
	key := DeriveKey("4242", bytes.Repeat([]byte{1}, 16))
	if _, err := Open(key, []byte("short")); err == nil {
		t.Errorf("Open accepted a payload shorter than the nonce")
	}
}

func TestZero(t *testing.T) {
	key := DeriveKey("4242", bytes.Repeat([]byte{1}, 16))
	Zero(key)
	for i, b := range key {
		if b != 0 {
			t.Fatalf("key[%d] = %#x after Zero", i, b)
		}
	}
}
