package codec

import (
	"bytes"
	"testing"
)

func testKey() []byte {
	k := make([]byte, KeySize)
	for i := range k {
		k[i] = byte(i)
	}
	return k
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := testKey()
	plaintext := []byte("hello #lobby")

	ciphertext, err := Encrypt(key, 1, plaintext)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	got, err := Decrypt(key, 1, ciphertext)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("round trip mismatch: got %q want %q", got, plaintext)
	}
}

func TestDecryptWrongCounterFails(t *testing.T) {
	key := testKey()
	ciphertext, err := Encrypt(key, 5, []byte("msg"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if _, err := Decrypt(key, 6, ciphertext); err == nil {
		t.Fatal("expected decrypt failure with mismatched counter")
	}
}

func TestDecryptTamperedCiphertextFails(t *testing.T) {
	key := testKey()
	ciphertext, err := Encrypt(key, 1, []byte("msg"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	ciphertext[0] ^= 0xFF
	if _, err := Decrypt(key, 1, ciphertext); err == nil {
		t.Fatal("expected auth failure on tampered ciphertext")
	}
}

func TestKeyRejectedOnBadSize(t *testing.T) {
	if _, err := Encrypt([]byte("tooshort"), 0, []byte("x")); err != ErrKeyRejected {
		t.Fatalf("expected ErrKeyRejected, got %v", err)
	}
	if _, err := Decrypt([]byte("tooshort"), 0, []byte("x")); err != ErrKeyRejected {
		t.Fatalf("expected ErrKeyRejected, got %v", err)
	}
}

func TestCiphertextTooShort(t *testing.T) {
	key := testKey()
	if _, err := Decrypt(key, 0, []byte("x")); err != ErrCiphertextTooShort {
		t.Fatalf("expected ErrCiphertextTooShort, got %v", err)
	}
}

func TestDifferentCountersProduceDifferentCiphertext(t *testing.T) {
	key := testKey()
	a, err := Encrypt(key, 1, []byte("same plaintext"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	b, err := Encrypt(key, 2, []byte("same plaintext"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if bytes.Equal(a, b) {
		t.Fatal("expected different ciphertexts for different counters")
	}
}
