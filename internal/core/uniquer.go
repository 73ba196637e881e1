package core

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// Uniquer deduplicates blocks so that equal blocks arriving on different
// channels share one immutable object. Lifetime is "longest holder": the
// cache holds recently seen blocks, queues and observers hold the shared
// pointer.
type Uniquer struct {
	cache *lru.Cache[BlockHash, Block]
}

// uniquerCapacity bounds the interner; evicted entries merely lose sharing,
// not correctness.
const uniquerCapacity = 64 * 1024

// NewUniquer creates a block interner.
func NewUniquer() *Uniquer {
	cache, _ := lru.New[BlockHash, Block](uniquerCapacity)
	return &Uniquer{cache: cache}
}

// Unique returns the canonical shared instance for the block's hash,
// registering it if unseen. Nil passes through.
func (u *Uniquer) Unique(block Block) Block {
	if block == nil {
		return nil
	}
	hash := block.Hash()
	if existing, ok := u.cache.Get(hash); ok {
		return existing
	}
	u.cache.Add(hash, block)
	return block
}

// Len returns the number of interned blocks.
func (u *Uniquer) Len() int {
	return u.cache.Len()
}
