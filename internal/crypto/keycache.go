package crypto

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// KeyCache keeps recently parsed client public keys. The same key is parsed
// on every get and complete call of a transfer and for both certificate blobs.
type KeyCache struct {
	lru *expirable.LRU[string, any]
}

// NewKeyCache creates a cache of at most size keys, each kept for ttl
func NewKeyCache(size int, ttl time.Duration) *KeyCache {
	if size <= 0 {
		return nil
	}
	return &KeyCache{lru: expirable.NewLRU[string, any](size, nil, ttl)}
}

func (c *KeyCache) get(alg Algorithm, publicKey string) (any, bool) {
	if c == nil {
		return nil, false
	}
	return c.lru.Get(string(alg) + ":" + publicKey)
}

func (c *KeyCache) add(alg Algorithm, publicKey string, key any) {
	if c == nil {
		return
	}
	c.lru.Add(string(alg)+":"+publicKey, key)
}

// Len returns the number of cached keys
func (c *KeyCache) Len() int {
	if c == nil {
		return 0
	}
	return c.lru.Len()
}
