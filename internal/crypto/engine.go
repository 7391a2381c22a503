package crypto

import (
	"fmt"
	"strings"

	"github.com/admin-ch/CovidCertificate-App-Certificate-Delivery/internal/security"
)

// Algorithm identifies the client key type of a transfer
type Algorithm string

// Supported client key algorithms
const (
	AlgorithmEC256   Algorithm = "EC256"
	AlgorithmRSA2048 Algorithm = "RSA2048"
)

// ParseAlgorithm parses an algorithm name case-insensitively
func ParseAlgorithm(s string) (Algorithm, error) {
	switch Algorithm(strings.ToUpper(strings.TrimSpace(s))) {
	case AlgorithmEC256:
		return AlgorithmEC256, nil
	case AlgorithmRSA2048:
		return AlgorithmRSA2048, nil
	default:
		return "", fmt.Errorf("%w: unsupported algorithm %q", security.ErrInvalidPublicKey, s)
	}
}

// Engine verifies client signatures and encrypts data to a client public key.
// Keys are the base64 encodings the mobile clients send.
type Engine interface {
	Algorithm() Algorithm
	// Verify checks a base64 signature over payload
	Verify(payload []byte, signature string, publicKey string) error
	// Encrypt returns the base64 hybrid ciphertext of plaintext
	Encrypt(plaintext []byte, publicKey string) (string, error)
}

// Engines selects the engine matching a transfer's algorithm
type Engines struct {
	ec  *ECEngine
	rsa *RSAEngine
}

// NewEngines creates both engines sharing one parsed-key cache. cache may be nil.
func NewEngines(cache *KeyCache) *Engines {
	return &Engines{
		ec:  NewECEngine(cache),
		rsa: NewRSAEngine(cache),
	}
}

// For returns the engine for alg
func (e *Engines) For(alg Algorithm) (Engine, error) {
	switch alg {
	case AlgorithmEC256:
		return e.ec, nil
	case AlgorithmRSA2048:
		return e.rsa, nil
	default:
		return nil, fmt.Errorf("%w: unsupported algorithm %q", security.ErrInvalidPublicKey, alg)
	}
}
