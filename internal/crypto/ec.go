package crypto

import (
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"math/big"

	"github.com/admin-ch/CovidCertificate-App-Certificate-Delivery/internal/security"
)

// uncompressedPointSize is the size of 0x04 || X || Y on P-256
const uncompressedPointSize = 65

type ecPublicKey struct {
	verify   *ecdsa.PublicKey
	exchange *ecdh.PublicKey
}

// ECEngine implements Engine for P-256 keys in uncompressed point form, as
// emitted by secure-enclave key APIs.
type ECEngine struct {
	cache *KeyCache
}

// NewECEngine creates an EC engine. cache may be nil.
func NewECEngine(cache *KeyCache) *ECEngine {
	return &ECEngine{cache: cache}
}

// Algorithm returns AlgorithmEC256
func (e *ECEngine) Algorithm() Algorithm {
	return AlgorithmEC256
}

func (e *ECEngine) parse(publicKey string) (*ecPublicKey, error) {
	if cached, ok := e.cache.get(AlgorithmEC256, publicKey); ok {
		return cached.(*ecPublicKey), nil
	}

	raw, err := base64.StdEncoding.DecodeString(publicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed base64", security.ErrInvalidPublicKey)
	}
	if len(raw) != uncompressedPointSize || raw[0] != 0x04 {
		return nil, fmt.Errorf("%w: expected %d byte uncompressed point", security.ErrInvalidPublicKey, uncompressedPointSize)
	}

	// NewPublicKey rejects points that are not on the curve
	exchange, err := ecdh.P256().NewPublicKey(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", security.ErrInvalidPublicKey, err)
	}

	key := &ecPublicKey{
		verify: &ecdsa.PublicKey{
			Curve: elliptic.P256(),
			X:     new(big.Int).SetBytes(raw[1:33]),
			Y:     new(big.Int).SetBytes(raw[33:65]),
		},
		exchange: exchange,
	}
	e.cache.add(AlgorithmEC256, publicKey, key)
	return key, nil
}

// Verify checks an ASN.1 DER ECDSA signature with SHA-256 over payload
func (e *ECEngine) Verify(payload []byte, signature string, publicKey string) error {
	key, err := e.parse(publicKey)
	if err != nil {
		return err
	}

	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("%w: malformed base64", security.ErrInvalidSignature)
	}

	digest := sha256.Sum256(payload)
	if !ecdsa.VerifyASN1(key.verify, digest[:], sig) {
		return security.ErrInvalidSignature
	}
	return nil
}

// Encrypt performs ECIES as expected by the platform decrypt API: an ephemeral
// P-256 key agreement, X9.63 SHA-256 key derivation with the ephemeral public
// key as shared info, and AES-128-GCM with a 16-byte IV taken from the derived
// material. The ephemeral public key is prepended and is not authenticated as
// associated data.
func (e *ECEngine) Encrypt(plaintext []byte, publicKey string) (string, error) {
	key, err := e.parse(publicKey)
	if err != nil {
		return "", err
	}

	ephemeral, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return "", fmt.Errorf("%w: failed to generate ephemeral key: %v", security.ErrInvalidPublicKey, err)
	}

	secret, err := ephemeral.ECDH(key.exchange)
	if err != nil {
		return "", fmt.Errorf("%w: key agreement failed: %v", security.ErrInvalidPublicKey, err)
	}

	ephemeralPublic := ephemeral.PublicKey().Bytes()
	derived := x963KDF(secret, ephemeralPublic, 32)

	ciphertext, err := sealGCM(derived[:16], derived[16:], plaintext)
	if err != nil {
		return "", fmt.Errorf("%w: %v", security.ErrInvalidPublicKey, err)
	}

	out := make([]byte, 0, len(ephemeralPublic)+len(ciphertext))
	out = append(out, ephemeralPublic...)
	out = append(out, ciphertext...)
	return base64.StdEncoding.EncodeToString(out), nil
}
