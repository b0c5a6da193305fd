package onchain

import "errors"

var (
	ErrInsufficientBalance   = errors.New("onchain: insufficient balance")
	ErrInsufficientAllowance = errors.New("onchain: insufficient allowance")
	ErrNotMinter             = errors.New("onchain: caller is not the minter")
	ErrUnknownContract       = errors.New("onchain: no contract at address")
	ErrInvalidAmount         = errors.New("onchain: invalid amount")
	ErrZeroPrice             = errors.New("onchain: price per share must be positive")
)

// faults holds one-shot injected failures keyed by operation name.
type faults map[string]error

func (f faults) take(op string) error {
	err, ok := f[op]
	if !ok {
		return nil
	}
	delete(f, op)
	return err
}
