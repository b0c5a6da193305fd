package onchain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Token is an ERC-20 style token bound to the account issuing the calls.
type Token interface {
	Address() common.Address
	Decimals() uint8
	BalanceOf(ctx context.Context, holder common.Address) (*big.Int, error)
	Transfer(ctx context.Context, to common.Address, amount *big.Int) error
	TransferFrom(ctx context.Context, from, to common.Address, amount *big.Int) error
	Approve(ctx context.Context, spender common.Address, amount *big.Int) error
}

// RewardToken is a Token the bound account may mint.
type RewardToken interface {
	Token
	MintTo(ctx context.Context, to common.Address, amount *big.Int) error
}

// Jar is an auto-compounding vault. Deposits pull the want token from the
// bound account through its allowance and mint shares to it.
type Jar interface {
	Address() common.Address
	Want() common.Address
	Deposit(ctx context.Context, amount *big.Int) (shares *big.Int, err error)
	Redeem(ctx context.Context, shares *big.Int) (amount *big.Int, err error)
	// PricePerShare is 18-decimal fixed point.
	PricePerShare(ctx context.Context) (*big.Int, error)
	SharesOf(ctx context.Context, holder common.Address) (*big.Int, error)
}

// Chain resolves contracts for the bound account.
type Chain interface {
	IsContract(ctx context.Context, addr common.Address) (bool, error)
	Jar(addr common.Address) (Jar, error)
	Token(addr common.Address) (Token, error)
}
