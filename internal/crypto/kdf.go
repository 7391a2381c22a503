package crypto

import (
	"crypto/sha256"
	"encoding/binary"
)

// x963KDF derives length bytes from a shared secret as specified by ANSI X9.63
// with SHA-256: Hash(secret || counter || sharedInfo) for counter = 1, 2, ...
func x963KDF(secret, sharedInfo []byte, length int) []byte {
	out := make([]byte, 0, length+sha256.Size)
	var counter [4]byte
	for i := uint32(1); len(out) < length; i++ {
		binary.BigEndian.PutUint32(counter[:], i)
		h := sha256.New()
		h.Write(secret)
		h.Write(counter[:])
		h.Write(sharedInfo)
		out = h.Sum(out)
	}
	return out[:length]
}
