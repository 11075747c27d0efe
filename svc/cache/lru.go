package cache

import (
	"errors"

	lru "github.com/hashicorp/golang-lru/v2"
)

// LRU is the first-tier content cache. It holds immutable blob bytes
// keyed by "<id>/<hash>", never paste metadata, so expiry and view
// state always come from the relational store.
type LRU struct {
	c *lru.Cache[string, []byte]
}

func NewLRU(size int) (*LRU, error) {
	if size <= 0 {
		return nil, errors.New("cache size must be positive")
	}
	if size > 100000 {
		return nil, errors.New("cache size too large")
	}
	c, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, err
	}
	return &LRU{c: c}, nil
}

func (l *LRU) Get(key string) ([]byte, bool) {
	return l.c.Get(key)
}

func (l *LRU) Set(key string, content []byte) {
	l.c.Add(key, content)
}

func (l *LRU) Delete(key string) {
	l.c.Remove(key)
}
