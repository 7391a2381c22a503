// Package crypto provides the client-key cryptography of the delivery protocol.
// It verifies signatures made with a client's EC P-256 or RSA key and encrypts
// certificate payloads to that key with a hybrid scheme the client can open
// with its platform's native decryption API. It also generates transfer codes.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
)

// sealGCM encrypts plaintext with AES-GCM without associated data. The nonce
// size is taken from len(nonce) so both the 12-byte and the 16-byte variants
// can share one code path. The tag is appended to the returned ciphertext.
func sealGCM(key, nonce, plaintext []byte) ([]byte, error) {
	gcm, err := newGCM(key, len(nonce))
	if err != nil {
		return nil, err
	}
	return gcm.Seal(nil, nonce, plaintext, nil), nil
}

// openGCM reverses sealGCM
func openGCM(key, nonce, ciphertext []byte) ([]byte, error) {
	gcm, err := newGCM(key, len(nonce))
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.Overhead() {
		return nil, fmt.Errorf("ciphertext too short")
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decryption failed: %w", err)
	}
	return plaintext, nil
}

func newGCM(key []byte, nonceSize int) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	var gcm cipher.AEAD
	if nonceSize == 12 {
		gcm, err = cipher.NewGCM(block)
	} else {
		gcm, err = cipher.NewGCMWithNonceSize(block, nonceSize)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// randomBytes returns n bytes from the system CSPRNG
func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, fmt.Errorf("failed to read random bytes: %w", err)
	}
	return b, nil
}
