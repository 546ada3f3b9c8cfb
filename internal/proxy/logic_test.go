package proxy

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoPolymarket/ctf-exchange/internal/ctf"
)

var (
	logicV1 = common.HexToAddress("0x2001")
	logicV2 = common.HexToAddress("0x2002")
)

func newLogicFixture(t *testing.T) (*fixture, *ctf.Ledger) {
	t.Helper()
	fx := newFixture(t)
	ledger := ctf.NewLedger(common.HexToAddress("0xc011"), nil)
	require.NoError(t, fx.store.Deploy(logicV1, NewWalletLogic(ledger, 1)))
	require.NoError(t, fx.store.Deploy(logicV2, NewWalletLogic(ledger, 2)))
	require.NoError(t, fx.beacon.EmergencyUpgrade(context.Background(), beaconOwner, logicV1))
	return fx, ledger
}

func TestWalletLogicInitializeAndTransfer(t *testing.T) {
	ctx := context.Background()
	fx, ledger := newLogicFixture(t)

	w, created, err := fx.factory.MaybeCreateProxy(ctx, alice, EncodeInitialize(alice))
	require.NoError(t, err)
	require.True(t, created)

	out, err := w.Fallback(ctx, bob, mustPack("owner"))
	require.NoError(t, err)
	assert.Equal(t, common.BytesToHash(alice.Bytes()).Bytes(), out)

	_, err = w.Fallback(ctx, alice, EncodeInitialize(bob))
	assert.ErrorIs(t, err, ErrAlreadyInitialized)

	require.NoError(t, ledger.Mint(w.Address(), big.NewInt(500)))
	_, err = w.Fallback(ctx, bob, EncodeTransfer(bob, ctf.CollateralID, big.NewInt(100)))
	assert.ErrorIs(t, err, ErrNotWalletOwner)

	_, err = w.Fallback(ctx, alice, EncodeTransfer(bob, ctf.CollateralID, big.NewInt(100)))
	require.NoError(t, err)
	assert.Equal(t, int64(400), ledger.BalanceOf(w.Address(), ctf.CollateralID).Int64())
	assert.Equal(t, int64(100), ledger.BalanceOf(bob, ctf.CollateralID).Int64())
}

func TestWalletLogicApprovalRunsAsWallet(t *testing.T) {
	ctx := context.Background()
	fx, ledger := newLogicFixture(t)
	operator := common.HexToAddress("0xe0")

	w, _, err := fx.factory.MaybeCreateProxy(ctx, alice, EncodeInitialize(alice))
	require.NoError(t, err)

	_, err = fx.store.Call(ctx, alice, w.Address(), EncodeSetApprovalForAll(operator, true))
	require.NoError(t, err)
	assert.True(t, ledger.IsApprovedForAll(w.Address(), operator))
	assert.False(t, ledger.IsApprovedForAll(alice, operator))
}

func TestWalletLogicSurvivesUpgrade(t *testing.T) {
	ctx := context.Background()
	fx, _ := newLogicFixture(t)

	w, _, err := fx.factory.MaybeCreateProxy(ctx, alice, EncodeInitialize(alice))
	require.NoError(t, err)

	version := func() int64 {
		out, err := w.Fallback(ctx, alice, mustPack("version"))
		require.NoError(t, err)
		return new(big.Int).SetBytes(out).Int64()
	}
	assert.Equal(t, int64(1), version())

	require.NoError(t, fx.beacon.EmergencyUpgrade(ctx, beaconOwner, logicV2))
	assert.Equal(t, int64(2), version())

	out, err := w.Fallback(ctx, bob, mustPack("owner"))
	require.NoError(t, err)
	assert.Equal(t, alice, common.BytesToAddress(out))
}

func TestWalletLogicRejectsDirectAndUnknownCalls(t *testing.T) {
	ctx := context.Background()
	fx, _ := newLogicFixture(t)

	_, err := fx.store.Call(ctx, alice, logicV1, EncodeInitialize(alice))
	assert.ErrorIs(t, err, ErrNotDelegated)

	w, err := fx.factory.CreateProxy(ctx, alice, common.HexToHash("0x01"), nil)
	require.NoError(t, err)
	_, err = w.Fallback(ctx, alice, []byte{0xde, 0xad, 0xbe, 0xef})
	assert.ErrorIs(t, err, ErrUnknownSelector)

	// Wallets deployed without init data still answer to their owner only.
	_, err = w.Fallback(ctx, bob, EncodeInitialize(bob))
	assert.ErrorIs(t, err, ErrAlreadyInitialized)
	_, err = w.Fallback(ctx, bob, EncodeSetApprovalForAll(bob, true))
	assert.ErrorIs(t, err, ErrNotWalletOwner)
	_, err = w.Fallback(ctx, alice, EncodeSetApprovalForAll(bob, true))
	assert.NoError(t, err)
}

func TestForeignInitDataCannotClaimWallet(t *testing.T) {
	ctx := context.Background()
	fx, ledger := newLogicFixture(t)

	canonical := fx.factory.WalletFor(alice)
	require.NoError(t, ledger.Mint(canonical, big.NewInt(1000)))

	_, _, err := fx.factory.MaybeCreateProxy(ctx, alice, EncodeInitialize(bob))
	require.ErrorIs(t, err, ErrAlreadyInitialized)
	assert.False(t, fx.store.IsContract(canonical))
	assert.Empty(t, fx.factory.Proxies())

	w, created, err := fx.factory.MaybeCreateProxy(ctx, alice, nil)
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, canonical, w.Address())

	_, err = w.Fallback(ctx, bob, EncodeTransfer(bob, ctf.CollateralID, big.NewInt(1000)))
	assert.ErrorIs(t, err, ErrNotWalletOwner)
	_, err = w.Fallback(ctx, alice, EncodeTransfer(alice, ctf.CollateralID, big.NewInt(1000)))
	require.NoError(t, err)
	assert.Equal(t, int64(1000), ledger.BalanceOf(alice, ctf.CollateralID).Int64())
	assert.Zero(t, ledger.BalanceOf(bob, ctf.CollateralID).Sign())
}
