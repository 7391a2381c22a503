package crypto

import (
	"crypto/sha256"
	"encoding/base64"
	"strings"
)

// CodeAlphabet excludes glyphs that are easily confused when read aloud or
// typed. Clients generate codes from it.
const CodeAlphabet = "ABCDEFHKMNPRSTUWXYZ0123456789"

// CodeLength is the length of a transfer code
const CodeLength = 9

// IsValidCode reports whether code has CodeLength characters from CodeAlphabet
func IsValidCode(code string) bool {
	if len(code) != CodeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		if strings.IndexByte(CodeAlphabet, code[i]) < 0 {
			return false
		}
	}
	return true
}

// PublicKeyHash returns base64(SHA-256(publicKey)) of the encoded key string
func PublicKeyHash(publicKey string) string {
	sum := sha256.Sum256([]byte(publicKey))
	return base64.StdEncoding.EncodeToString(sum[:])
}
