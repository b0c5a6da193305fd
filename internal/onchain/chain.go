package onchain

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// MemoryChain is a registry of in-process contracts. Contract addresses are
// derived the way CREATE does, from a deployer address and a nonce.
type MemoryChain struct {
	mu       sync.RWMutex
	caller   common.Address
	deployer common.Address
	nonce    uint64
	tokens   map[common.Address]*MemoryToken
	jars     map[common.Address]*MemoryJar
}

// NewMemoryChain returns a chain whose Jar and Token lookups are bound to
// caller.
func NewMemoryChain(caller, deployer common.Address) *MemoryChain {
	return &MemoryChain{
		caller:   caller,
		deployer: deployer,
		tokens:   make(map[common.Address]*MemoryToken),
		jars:     make(map[common.Address]*MemoryJar),
	}
}

func (c *MemoryChain) nextAddressLocked() common.Address {
	addr := crypto.CreateAddress(c.deployer, c.nonce)
	c.nonce++
	return addr
}

// DeployToken creates a token at a fresh contract address.
func (c *MemoryChain) DeployToken(symbol string, decimals uint8) *MemoryToken {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := NewMemoryToken(symbol, c.nextAddressLocked(), decimals)
	c.tokens[t.Address()] = t
	return t
}

// DeployJar creates a jar over want at a fresh contract address.
func (c *MemoryChain) DeployJar(want *MemoryToken) *MemoryJar {
	c.mu.Lock()
	defer c.mu.Unlock()
	j := NewMemoryJar(c.nextAddressLocked(), want)
	c.jars[j.Address()] = j
	return j
}

func (c *MemoryChain) MemoryJar(addr common.Address) (*MemoryJar, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	j, ok := c.jars[addr]
	return j, ok
}

func (c *MemoryChain) MemoryToken(addr common.Address) (*MemoryToken, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tokens[addr]
	return t, ok
}

func (c *MemoryChain) IsContract(_ context.Context, addr common.Address) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, isToken := c.tokens[addr]
	_, isJar := c.jars[addr]
	return isToken || isJar, nil
}

func (c *MemoryChain) Jar(addr common.Address) (Jar, error) {
	j, ok := c.MemoryJar(addr)
	if !ok {
		return nil, fmt.Errorf("jar %s: %w", addr.Hex(), ErrUnknownContract)
	}
	return j.As(c.caller), nil
}

func (c *MemoryChain) Token(addr common.Address) (Token, error) {
	t, ok := c.MemoryToken(addr)
	if !ok {
		return nil, fmt.Errorf("token %s: %w", addr.Hex(), ErrUnknownContract)
	}
	return t.As(c.caller), nil
}
