package exchange

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryComplementIsInvolution(t *testing.T) {
	r := NewRegistry()
	cond := common.HexToHash("0xc0de")
	require.NoError(t, r.Register(bi(11), bi(22), cond))

	c, err := r.GetComplement(bi(11))
	require.NoError(t, err)
	cc, err := r.GetComplement(c)
	require.NoError(t, err)
	assert.Equal(t, "11", cc.String())

	id, err := r.GetConditionID(bi(22))
	require.NoError(t, err)
	assert.Equal(t, cond, id)
	assert.Equal(t, 1, r.Len())

	assert.NoError(t, r.ValidateComplement(bi(22), bi(11)))
	assert.ErrorIs(t, r.ValidateComplement(bi(22), bi(22)), ErrInvalidComplement)
}

func TestRegistryRejectsBadPairs(t *testing.T) {
	r := NewRegistry()
	assert.ErrorIs(t, r.Register(bi(0), bi(1), common.Hash{}), ErrInvalidTokenID)
	assert.ErrorIs(t, r.Register(bi(5), bi(5), common.Hash{}), ErrInvalidTokenID)

	require.NoError(t, r.Register(bi(1), bi(2), common.Hash{}))
	assert.ErrorIs(t, r.Register(bi(2), bi(3), common.Hash{}), ErrAlreadyRegistered)
	assert.ErrorIs(t, r.Register(bi(3), bi(1), common.Hash{}), ErrAlreadyRegistered)

	assert.ErrorIs(t, r.ValidateTokenID(bi(3)), ErrInvalidTokenID)
	assert.ErrorIs(t, r.ValidateTokenID(nil), ErrInvalidTokenID)
	_, err := r.GetComplement(new(big.Int).Lsh(bi(1), 200))
	assert.ErrorIs(t, err, ErrInvalidTokenID)
}
