package ledger

import (
	"errors"
	"fmt"
)

var (
	ErrZeroAmount          = errors.New("ledger: amount is zero")
	ErrPositionAlreadyOpen = errors.New("ledger: position already open")
	// ErrNoOpenPosition reads as a zero amount: an absent position has zero principal.
	ErrNoOpenPosition = fmt.Errorf("%w: no open position", ErrZeroAmount)
	ErrNegativeAmount = errors.New("ledger: amount is negative")

	ErrUnauthorized      = errors.New("ledger: caller is not the admin")
	ErrInvalidVault      = errors.New("ledger: invalid vault")
	ErrVaultInUse        = errors.New("ledger: vault has open positions")
	ErrExceedsHardCap    = errors.New("ledger: stake cap exceeds hard cap")
	ErrInvalidFeeRate    = errors.New("ledger: fee rate cap above 10000 bps")
	ErrZeroAddress       = errors.New("ledger: zero address")
	ErrAlreadyRegistered = errors.New("ledger: protocol token already registered")
	ErrNotRegistered     = errors.New("ledger: protocol token not registered")
	ErrProtocolToken     = errors.New("ledger: protocol tokens cannot be swept")

	ErrInsufficientReserves = errors.New("ledger: proxy reserves cannot cover payout")
	ErrSettlementIncomplete = errors.New("ledger: settlement incomplete, payout pending")
	ErrNothingPending       = errors.New("ledger: no pending payout")
	ErrNotInitialized       = errors.New("ledger: vault config not initialized")
)
