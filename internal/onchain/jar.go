package onchain

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var wad = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// MemoryJar is an in-process auto-compounding vault over a MemoryToken.
// Shares are minted at the current price per share; SetPricePerShare plays
// the strategy by minting the want token needed to back the new price.
type MemoryJar struct {
	mu          sync.Mutex
	address     common.Address
	want        *MemoryToken
	price       *big.Int
	shares      map[common.Address]*big.Int
	totalShares *big.Int
	faults      faults
}

func NewMemoryJar(address common.Address, want *MemoryToken) *MemoryJar {
	return &MemoryJar{
		address:     address,
		want:        want,
		price:       new(big.Int).Set(wad),
		shares:      make(map[common.Address]*big.Int),
		totalShares: new(big.Int),
		faults:      make(faults),
	}
}

func (j *MemoryJar) Address() common.Address { return j.address }

// FailNext makes the next call of op ("deposit", "redeem", "price") return err.
func (j *MemoryJar) FailNext(op string, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.faults[op] = err
}

func (j *MemoryJar) Price() *big.Int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return new(big.Int).Set(j.price)
}

func (j *MemoryJar) TotalShares() *big.Int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return new(big.Int).Set(j.totalShares)
}

// SetPricePerShare moves the share price. Appreciation mints the want token
// into the jar so every outstanding share stays redeemable.
func (j *MemoryJar) SetPricePerShare(price *big.Int) error {
	if price == nil || price.Sign() <= 0 {
		return ErrZeroPrice
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	j.price = new(big.Int).Set(price)
	required := j.valueLocked(j.totalShares)
	held := j.want.Balance(j.address)
	if gap := new(big.Int).Sub(required, held); gap.Sign() > 0 {
		j.want.Mint(j.address, gap)
	}
	return nil
}

// As returns a view of the jar whose calls are issued by caller.
func (j *MemoryJar) As(caller common.Address) *BoundJar {
	return &BoundJar{jar: j, caller: caller}
}

func (j *MemoryJar) valueLocked(shares *big.Int) *big.Int {
	v := new(big.Int).Mul(shares, j.price)
	return v.Quo(v, wad)
}

func (j *MemoryJar) sharesOf(holder common.Address) *big.Int {
	j.mu.Lock()
	defer j.mu.Unlock()
	if s, ok := j.shares[holder]; ok {
		return new(big.Int).Set(s)
	}
	return new(big.Int)
}

func (j *MemoryJar) deposit(caller common.Address, amount *big.Int) (*big.Int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.faults.take("deposit"); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if err := j.want.transferFrom(j.address, caller, j.address, amount); err != nil {
		return nil, fmt.Errorf("jar deposit: %w", err)
	}

	minted := new(big.Int).Mul(amount, wad)
	minted.Quo(minted, j.price)
	j.creditSharesLocked(caller, minted)
	return minted, nil
}

func (j *MemoryJar) redeem(caller common.Address, shares *big.Int) (*big.Int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.faults.take("redeem"); err != nil {
		return nil, err
	}
	if shares == nil || shares.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	held := new(big.Int)
	if s, ok := j.shares[caller]; ok {
		held.Set(s)
	}
	if held.Cmp(shares) < 0 {
		return nil, fmt.Errorf("jar redeem of %s shares: %w", shares, ErrInsufficientBalance)
	}

	amount := j.valueLocked(shares)
	if err := j.want.transfer(j.address, caller, amount); err != nil {
		return nil, fmt.Errorf("jar redeem: %w", err)
	}
	j.shares[caller] = held.Sub(held, shares)
	j.totalShares.Sub(j.totalShares, shares)
	return amount, nil
}

func (j *MemoryJar) creditSharesLocked(holder common.Address, shares *big.Int) {
	s, ok := j.shares[holder]
	if !ok {
		s = new(big.Int)
		j.shares[holder] = s
	}
	s.Add(s, shares)
	j.totalShares.Add(j.totalShares, shares)
}

func (j *MemoryJar) pricePerShare() (*big.Int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.faults.take("price"); err != nil {
		return nil, err
	}
	return new(big.Int).Set(j.price), nil
}

// BoundJar issues MemoryJar calls as a fixed caller.
type BoundJar struct {
	jar    *MemoryJar
	caller common.Address
}

func (b *BoundJar) Address() common.Address { return b.jar.address }
func (b *BoundJar) Want() common.Address    { return b.jar.want.address }

func (b *BoundJar) Deposit(_ context.Context, amount *big.Int) (*big.Int, error) {
	return b.jar.deposit(b.caller, amount)
}

func (b *BoundJar) Redeem(_ context.Context, shares *big.Int) (*big.Int, error) {
	return b.jar.redeem(b.caller, shares)
}

func (b *BoundJar) PricePerShare(_ context.Context) (*big.Int, error) {
	return b.jar.pricePerShare()
}

func (b *BoundJar) SharesOf(_ context.Context, holder common.Address) (*big.Int, error) {
	return b.jar.sharesOf(holder), nil
}
