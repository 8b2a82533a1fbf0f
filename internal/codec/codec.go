// Package codec implements the per-session AEAD wrapper around AES-256-GCM.
//
// The codec never owns key material: every Encrypt/Decrypt call rebuilds the
// cipher from the caller-supplied key bytes, so a key never outlives a single
// call on the heap longer than necessary and two sessions can never share
// cipher state by accident.
package codec

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"errors"
)

// KeySize is the required session key length (AES-256).
const KeySize = 32

// nonceSize is the AES-GCM nonce length: 4 zero bytes + 8-byte big-endian counter.
const nonceSize = 12

var (
	// ErrKeyRejected is returned when the supplied key is not KeySize bytes
	// or the stdlib cipher construction fails.
	ErrKeyRejected = errors.New("codec: key rejected")

	// ErrCiphertextTooShort is returned when a ciphertext is shorter than
	// the GCM authentication tag, the minimum length GCM can open.
	ErrCiphertextTooShort = errors.New("codec: ciphertext too short")

	// ErrAuthTagMismatch is returned when GCM authentication fails, i.e.
	// the ciphertext was tampered with or encrypted under a different key.
	ErrAuthTagMismatch = errors.New("codec: auth tag mismatch")
)

// nonce builds the 12-byte AES-GCM nonce from a monotonic counter: 4 zero
// bytes followed by the counter in big-endian. AAD is always empty.
func nonce(counter uint64) []byte {
	n := make([]byte, nonceSize)
	binary.BigEndian.PutUint64(n[4:], counter)
	return n
}

func aead(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, ErrKeyRejected
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, ErrKeyRejected
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return nil, ErrKeyRejected
	}
	return gcm, nil
}

// Encrypt seals plaintext under key using the nonce derived from counter.
// The caller is responsible for ensuring counter is never reused under the
// same key; the codec does not track counters itself.
func Encrypt(key []byte, counter uint64, plaintext []byte) ([]byte, error) {
	gcm, err := aead(key)
	if err != nil {
		return nil, err
	}
	return gcm.Seal(nil, nonce(counter), plaintext, nil), nil
}

// Decrypt opens ciphertext (which must include the trailing GCM tag) under
// key using the nonce derived from counter.
func Decrypt(key []byte, counter uint64, ciphertext []byte) ([]byte, error) {
	gcm, err := aead(key)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.Overhead() {
		return nil, ErrCiphertextTooShort
	}
	plaintext, err := gcm.Open(nil, nonce(counter), ciphertext, nil)
	if err != nil {
		return nil, ErrAuthTagMismatch
	}
	return plaintext, nil
}
