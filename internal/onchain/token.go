package onchain

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// MemoryToken is an in-process ERC-20 ledger used by the dev server and tests.
type MemoryToken struct {
	mu          sync.Mutex
	symbol      string
	address     common.Address
	decimals    uint8
	minter      common.Address
	totalSupply *big.Int
	balances    map[common.Address]*big.Int
	allowances  map[common.Address]map[common.Address]*big.Int
	faults      faults
}

func NewMemoryToken(symbol string, address common.Address, decimals uint8) *MemoryToken {
	return &MemoryToken{
		symbol:      symbol,
		address:     address,
		decimals:    decimals,
		totalSupply: new(big.Int),
		balances:    make(map[common.Address]*big.Int),
		allowances:  make(map[common.Address]map[common.Address]*big.Int),
		faults:      make(faults),
	}
}

func (t *MemoryToken) Symbol() string          { return t.symbol }
func (t *MemoryToken) Address() common.Address { return t.address }
func (t *MemoryToken) Decimals() uint8         { return t.decimals }

// SetMinter grants MintTo to account.
func (t *MemoryToken) SetMinter(account common.Address) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.minter = account
}

// Mint credits amount to holder without any authorization check.
func (t *MemoryToken) Mint(holder common.Address, amount *big.Int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.creditLocked(holder, amount)
	t.totalSupply.Add(t.totalSupply, amount)
}

// FailNext makes the next call of op ("transfer", "transferFrom", "mint",
// "approve", "balanceOf") return err.
func (t *MemoryToken) FailNext(op string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.faults[op] = err
}

func (t *MemoryToken) Balance(holder common.Address) *big.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.balanceLocked(holder)
}

func (t *MemoryToken) TotalSupply() *big.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return new(big.Int).Set(t.totalSupply)
}

func (t *MemoryToken) Allowance(owner, spender common.Address) *big.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if a, ok := t.allowances[owner][spender]; ok {
		return new(big.Int).Set(a)
	}
	return new(big.Int)
}

// As returns a view of the token whose calls are issued by caller.
func (t *MemoryToken) As(caller common.Address) *BoundToken {
	return &BoundToken{token: t, caller: caller}
}

func (t *MemoryToken) balanceLocked(holder common.Address) *big.Int {
	if b, ok := t.balances[holder]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

func (t *MemoryToken) creditLocked(holder common.Address, amount *big.Int) {
	b, ok := t.balances[holder]
	if !ok {
		b = new(big.Int)
		t.balances[holder] = b
	}
	b.Add(b, amount)
}

func (t *MemoryToken) moveLocked(from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	bal := t.balanceLocked(from)
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("%s transfer of %s from %s: %w", t.symbol, amount, from.Hex(), ErrInsufficientBalance)
	}
	t.balances[from] = bal.Sub(bal, amount)
	t.creditLocked(to, amount)
	return nil
}

func (t *MemoryToken) transfer(caller, to common.Address, amount *big.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.faults.take("transfer"); err != nil {
		return err
	}
	return t.moveLocked(caller, to, amount)
}

func (t *MemoryToken) transferFrom(caller, from, to common.Address, amount *big.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.faults.take("transferFrom"); err != nil {
		return err
	}
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}

	allowance := new(big.Int)
	if a, ok := t.allowances[from][caller]; ok {
		allowance.Set(a)
	}
	if allowance.Cmp(amount) < 0 {
		return fmt.Errorf("%s allowance of %s for %s: %w", t.symbol, from.Hex(), caller.Hex(), ErrInsufficientAllowance)
	}
	if err := t.moveLocked(from, to, amount); err != nil {
		return err
	}
	t.allowances[from][caller] = allowance.Sub(allowance, amount)
	return nil
}

func (t *MemoryToken) approve(caller, spender common.Address, amount *big.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.faults.take("approve"); err != nil {
		return err
	}
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	if t.allowances[caller] == nil {
		t.allowances[caller] = make(map[common.Address]*big.Int)
	}
	t.allowances[caller][spender] = new(big.Int).Set(amount)
	return nil
}

func (t *MemoryToken) mintTo(caller, to common.Address, amount *big.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.faults.take("mint"); err != nil {
		return err
	}
	if caller != t.minter || caller == (common.Address{}) {
		return ErrNotMinter
	}
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	t.creditLocked(to, amount)
	t.totalSupply.Add(t.totalSupply, amount)
	return nil
}

// BoundToken issues MemoryToken calls as a fixed caller. It satisfies both
// Token and RewardToken.
type BoundToken struct {
	token  *MemoryToken
	caller common.Address
}

func (b *BoundToken) Address() common.Address { return b.token.address }
func (b *BoundToken) Decimals() uint8         { return b.token.decimals }

func (b *BoundToken) BalanceOf(_ context.Context, holder common.Address) (*big.Int, error) {
	b.token.mu.Lock()
	defer b.token.mu.Unlock()
	if err := b.token.faults.take("balanceOf"); err != nil {
		return nil, err
	}
	return b.token.balanceLocked(holder), nil
}

func (b *BoundToken) Transfer(_ context.Context, to common.Address, amount *big.Int) error {
	return b.token.transfer(b.caller, to, amount)
}

func (b *BoundToken) TransferFrom(_ context.Context, from, to common.Address, amount *big.Int) error {
	return b.token.transferFrom(b.caller, from, to, amount)
}

func (b *BoundToken) Approve(_ context.Context, spender common.Address, amount *big.Int) error {
	return b.token.approve(b.caller, spender, amount)
}

func (b *BoundToken) MintTo(_ context.Context, to common.Address, amount *big.Int) error {
	return b.token.mintTo(b.caller, to, amount)
}
