package crypto

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"fmt"

	"github.com/admin-ch/CovidCertificate-App-Certificate-Delivery/internal/security"
)

// Sizes of the RSA hybrid scheme
const (
	MinRSABits        = 2048
	rsaAESKeySize     = 32
	rsaGCMNonceSize   = 12
	rsaWrappedKeySize = rsaGCMNonceSize + rsaAESKeySize
)

// RSAEngine implements Engine for RSA keys in X.509 SubjectPublicKeyInfo form
type RSAEngine struct {
	cache *KeyCache
}

// NewRSAEngine creates an RSA engine. cache may be nil.
func NewRSAEngine(cache *KeyCache) *RSAEngine {
	return &RSAEngine{cache: cache}
}

// Algorithm returns AlgorithmRSA2048
func (e *RSAEngine) Algorithm() Algorithm {
	return AlgorithmRSA2048
}

func (e *RSAEngine) parse(publicKey string) (*rsa.PublicKey, error) {
	if cached, ok := e.cache.get(AlgorithmRSA2048, publicKey); ok {
		return cached.(*rsa.PublicKey), nil
	}

	der, err := base64.StdEncoding.DecodeString(publicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed base64", security.ErrInvalidPublicKey)
	}

	parsed, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", security.ErrInvalidPublicKey, err)
	}

	key, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an RSA key", security.ErrInvalidPublicKey)
	}
	if key.N.BitLen() < MinRSABits {
		return nil, fmt.Errorf("%w: modulus of %d bits is below %d", security.ErrInvalidPublicKey, key.N.BitLen(), MinRSABits)
	}

	e.cache.add(AlgorithmRSA2048, publicKey, key)
	return key, nil
}

// Verify checks an RSA-PSS SHA-256 signature over payload
func (e *RSAEngine) Verify(payload []byte, signature string, publicKey string) error {
	key, err := e.parse(publicKey)
	if err != nil {
		return err
	}

	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("%w: malformed base64", security.ErrInvalidSignature)
	}

	digest := sha256.Sum256(payload)
	opts := &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthAuto, Hash: crypto.SHA256}
	if err := rsa.VerifyPSS(key, crypto.SHA256, digest[:], sig, opts); err != nil {
		return security.ErrInvalidSignature
	}
	return nil
}

// Encrypt seals plaintext with a random AES-256-GCM key and wraps
// nonce(12) || key(32) with RSA-OAEP SHA-256. The output is
// wrapped || ciphertext || tag. Clients unwrap in the same nonce-first order.
func (e *RSAEngine) Encrypt(plaintext []byte, publicKey string) (string, error) {
	key, err := e.parse(publicKey)
	if err != nil {
		return "", err
	}

	secret, err := randomBytes(rsaWrappedKeySize)
	if err != nil {
		return "", fmt.Errorf("%w: %v", security.ErrInvalidPublicKey, err)
	}
	nonce, aesKey := secret[:rsaGCMNonceSize], secret[rsaGCMNonceSize:]

	ciphertext, err := sealGCM(aesKey, nonce, plaintext)
	if err != nil {
		return "", fmt.Errorf("%w: %v", security.ErrInvalidPublicKey, err)
	}

	wrapped, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, key, secret, nil)
	if err != nil {
		return "", fmt.Errorf("%w: key wrap failed: %v", security.ErrInvalidPublicKey, err)
	}

	out := make([]byte, 0, len(wrapped)+len(ciphertext))
	out = append(out, wrapped...)
	out = append(out, ciphertext...)
	return base64.StdEncoding.EncodeToString(out), nil
}
