package onchain

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// tokenMeta is the immutable part of an ERC20 token.
type tokenMeta struct {
	Symbol   string
	Decimals uint8
}

// TokenMetaCache caches token metadata by address. Symbol and decimals never
// change for a deployed token, so entries are shared across snapshots.
type TokenMetaCache struct {
	mu   sync.RWMutex
	data map[common.Address]tokenMeta
}

func NewTokenMetaCache() *TokenMetaCache {
	return &TokenMetaCache{data: make(map[common.Address]tokenMeta)}
}

func (c *TokenMetaCache) Get(address common.Address) (tokenMeta, bool) {
	c.mu.RLock()
	meta, ok := c.data[address]
	c.mu.RUnlock()
	return meta, ok
}

func (c *TokenMetaCache) Set(address common.Address, meta tokenMeta) {
	c.mu.Lock()
	c.data[address] = meta
	c.mu.Unlock()
}

func (c *TokenMetaCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}
