package onchain

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDevnet(t *testing.T) {
	ctx := context.Background()
	d := NewDevnet(proxy, common.HexToAddress("0xd0"), 6)

	assert.Equal(t, uint8(6), d.Stable.Decimals())
	assert.Equal(t, uint8(18), d.Dollar.Decimals())
	assert.Equal(t, d.Stable.Address(), d.Jar.As(proxy).Want())

	require.NoError(t, d.Fund(ctx, alice, big.NewInt(500), big.NewInt(7), nil))
	require.NoError(t, d.Fund(ctx, alice, big.NewInt(500), nil, big.NewInt(3)))

	assert.Equal(t, "1000", d.Stable.Balance(alice).String())
	assert.Equal(t, "1000", d.Stable.Allowance(alice, proxy).String())
	assert.Equal(t, "7", d.Dollar.Allowance(alice, proxy).String())
	assert.Equal(t, "3", d.Governance.Balance(alice).String())

	assert.ErrorIs(t, d.Fund(ctx, alice, big.NewInt(-1), nil, nil), ErrInvalidAmount)

	_, _, _, reward := d.Bound()
	require.NoError(t, reward.MintTo(ctx, alice, big.NewInt(9)))
	assert.Equal(t, "9", d.Reward.Balance(alice).String())
}
