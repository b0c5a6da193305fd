package service

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/mock"
	"github.com/ubiquity/ubiquity-dollar-sub001/internal/ledger"
)

type mockLedger struct {
	mock.Mock
}

func (m *mockLedger) Assets() ledger.Assets {
	return m.Called().Get(0).(ledger.Assets)
}

func (m *mockLedger) PositionInfo(ctx context.Context, account common.Address) (ledger.Position, error) {
	args := m.Called(ctx, account)
	return args.Get(0).(ledger.Position), args.Error(1)
}

func (m *mockLedger) Pending(ctx context.Context, account common.Address) (ledger.PendingPayout, error) {
	args := m.Called(ctx, account)
	return args.Get(0).(ledger.PendingPayout), args.Error(1)
}

func (m *mockLedger) Config(ctx context.Context) (ledger.VaultConfig, error) {
	args := m.Called(ctx)
	return args.Get(0).(ledger.VaultConfig), args.Error(1)
}

func (m *mockLedger) ProtocolTokens(ctx context.Context) ([]common.Address, error) {
	args := m.Called(ctx)
	return args.Get(0).([]common.Address), args.Error(1)
}

func (m *mockLedger) SharePrice(ctx context.Context) (*big.Int, error) {
	args := m.Called(ctx)
	return args.Get(0).(*big.Int), args.Error(1)
}

func (m *mockLedger) Quote(ctx context.Context, principal, dollarStake, governanceStake *big.Int) (ledger.Quote, error) {
	args := m.Called(ctx, principal, dollarStake, governanceStake)
	return args.Get(0).(ledger.Quote), args.Error(1)
}

func (m *mockLedger) Deposit(ctx context.Context, account common.Address, principal, dollarStake, governanceStake *big.Int) (ledger.Position, error) {
	args := m.Called(ctx, account, principal, dollarStake, governanceStake)
	return args.Get(0).(ledger.Position), args.Error(1)
}

func (m *mockLedger) WithdrawAll(ctx context.Context, account common.Address) (ledger.Settlement, error) {
	args := m.Called(ctx, account)
	return args.Get(0).(ledger.Settlement), args.Error(1)
}

func (m *mockLedger) SettlePending(ctx context.Context, account common.Address) (ledger.PendingPayout, error) {
	args := m.Called(ctx, account)
	return args.Get(0).(ledger.PendingPayout), args.Error(1)
}

func (m *mockLedger) SetFeeRateCap(ctx context.Context, caller common.Address, bps uint64) error {
	return m.Called(ctx, caller, bps).Error(0)
}

func (m *mockLedger) SetStakeCapForZeroFee(ctx context.Context, caller common.Address, amount *big.Int) error {
	return m.Called(ctx, caller, amount).Error(0)
}

func (m *mockLedger) SetVaultAddress(ctx context.Context, caller, addr common.Address) error {
	return m.Called(ctx, caller, addr).Error(0)
}

func (m *mockLedger) SetAdmin(ctx context.Context, caller, newAdmin common.Address) error {
	return m.Called(ctx, caller, newAdmin).Error(0)
}

func (m *mockLedger) RegisterProtocolToken(ctx context.Context, caller, token common.Address) error {
	return m.Called(ctx, caller, token).Error(0)
}

func (m *mockLedger) DeregisterProtocolToken(ctx context.Context, caller, token common.Address) error {
	return m.Called(ctx, caller, token).Error(0)
}

func (m *mockLedger) SweepDust(ctx context.Context, caller, to, token common.Address, amount *big.Int) error {
	return m.Called(ctx, caller, to, token, amount).Error(0)
}
