package messages

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/stjet/gobanano/internal/core"
)

// VoteUniquer deduplicates votes arriving on multiple channels, keyed by the
// signed digest.
type VoteUniquer struct {
	cache *lru.Cache[core.BlockHash, *Vote]
}

const voteUniquerCapacity = 64 * 1024

// NewVoteUniquer creates a vote interner.
func NewVoteUniquer() *VoteUniquer {
	cache, _ := lru.New[core.BlockHash, *Vote](voteUniquerCapacity)
	return &VoteUniquer{cache: cache}
}

// Unique returns the canonical shared instance for the vote's digest.
func (u *VoteUniquer) Unique(vote *Vote) *Vote {
	if vote == nil {
		return nil
	}
	digest := vote.SignedDigest()
	if existing, ok := u.cache.Get(digest); ok {
		return existing
	}
	u.cache.Add(digest, vote)
	return vote
}

// Len returns the number of interned votes.
func (u *VoteUniquer) Len() int {
	return u.cache.Len()
}
