package proxy

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoPolymarket/ctf-exchange/internal/beacon"
	"github.com/GoPolymarket/ctf-exchange/internal/codestore"
	"github.com/GoPolymarket/ctf-exchange/internal/events"
	"github.com/GoPolymarket/ctf-exchange/internal/pkg/clock"
)

var (
	beaconOwner = common.HexToAddress("0xb0")
	alice       = common.HexToAddress("0xa11ce")
	bob         = common.HexToAddress("0xb0b")
	counterV1   = common.HexToAddress("0x1001")
	counterV2   = common.HexToAddress("0x1002")
	failingImpl = common.HexToAddress("0x1003")
	target      = common.HexToAddress("0x7a")

	countSlot  = common.Hash{}
	callerSlot = common.BigToHash(big.NewInt(1))
)

// counter adds step to slot 0 and remembers who called.
func counter(step int64) codestore.Contract {
	return codestore.ContractFunc(func(_ context.Context, _ *codestore.Store, f codestore.Frame) ([]byte, error) {
		v := f.Storage.GetBig(countSlot)
		v.Add(v, big.NewInt(step))
		f.Storage.SetBig(countSlot, v)
		f.Storage.Set(callerSlot, common.BytesToHash(f.Caller.Bytes()))
		return common.BigToHash(v).Bytes(), nil
	})
}

type fixture struct {
	store   *codestore.Store
	beacon  *beacon.Beacon
	factory *Factory
	clock   *clock.Manual
	rec     *events.Recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := codestore.New()
	require.NoError(t, store.Deploy(counterV1, counter(1)))
	require.NoError(t, store.Deploy(counterV2, counter(10)))
	require.NoError(t, store.Deploy(failingImpl, codestore.ContractFunc(func(context.Context, *codestore.Store, codestore.Frame) ([]byte, error) {
		return nil, assert.AnError
	})))
	require.NoError(t, store.Deploy(target, counter(1)))

	clk := clock.NewManual(time.Unix(1_700_000_000, 0))
	rec := events.NewRecorder()
	bus := events.NewBus(nil, rec)
	b, err := beacon.New(beacon.Options{
		Address:        common.HexToAddress("0xbeac"),
		Owner:          beaconOwner,
		Implementation: counterV1,
		Clock:          clk,
		Bus:            bus,
	}, store)
	require.NoError(t, err)

	f := NewFactory(Options{Address: common.HexToAddress("0xfac"), Clock: clk, Bus: bus}, b, store)
	return &fixture{store: store, beacon: b, factory: f, clock: clk, rec: rec}
}

func TestPredictMatchesDeployment(t *testing.T) {
	fx := newFixture(t)
	salt := common.HexToHash("0x42")

	predicted := fx.factory.PredictProxyAddress(alice, salt)
	w, err := fx.factory.CreateProxy(context.Background(), alice, salt, nil)
	require.NoError(t, err)

	assert.Equal(t, predicted, w.Address())
	assert.True(t, fx.store.IsContract(predicted))
	assert.Equal(t, alice, w.Owner())
	assert.Equal(t, salt, w.Salt())
	assert.Equal(t, fx.beacon.Address(), w.Beacon())
	assert.Len(t, fx.rec.OfType(events.ProxyCreated), 1)

	want := crypto.CreateAddress2(fx.factory.Address(),
		crypto.Keccak256Hash(alice.Bytes(), salt.Bytes()),
		fx.factory.InitCodeHash().Bytes())
	assert.Equal(t, want, predicted)
}

func TestAddressDependsOnOwnerAndSalt(t *testing.T) {
	fx := newFixture(t)
	s1, s2 := common.HexToHash("0x01"), common.HexToHash("0x02")

	assert.NotEqual(t, fx.factory.PredictProxyAddress(alice, s1), fx.factory.PredictProxyAddress(alice, s2))
	assert.NotEqual(t, fx.factory.PredictProxyAddress(alice, s1), fx.factory.PredictProxyAddress(bob, s1))
	assert.Equal(t, fx.factory.PredictProxyAddress(alice, CanonicalSalt(alice)), fx.factory.WalletFor(alice))
}

func TestCreateProxyTwiceFails(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	salt := common.HexToHash("0x42")

	_, err := fx.factory.CreateProxy(ctx, alice, salt, nil)
	require.NoError(t, err)
	_, err = fx.factory.CreateProxy(ctx, alice, salt, nil)
	assert.ErrorIs(t, err, ErrProxyExists)

	_, err = fx.factory.CreateProxy(ctx, common.Address{}, salt, nil)
	assert.ErrorIs(t, err, ErrZeroOwner)
}

func TestMaybeCreateProxyIsIdempotent(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	w1, created, err := fx.factory.MaybeCreateProxy(ctx, alice, nil)
	require.NoError(t, err)
	assert.True(t, created)
	w2, created, err := fx.factory.MaybeCreateProxy(ctx, alice, nil)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Same(t, w1, w2)
	assert.Equal(t, fx.factory.WalletFor(alice), w1.Address())

	got, ok := fx.factory.GetProxy(w1.Address())
	require.True(t, ok)
	assert.Same(t, w1, got)
	assert.Equal(t, []common.Address{w1.Address()}, fx.factory.Proxies())
}

func TestInitDataRunsAgainstWalletStorage(t *testing.T) {
	fx := newFixture(t)

	w, err := fx.factory.CreateProxy(context.Background(), alice, common.Hash{}, []byte{0x01})
	require.NoError(t, err)
	assert.Equal(t, int64(1), w.Storage().GetBig(countSlot).Int64())
	assert.Equal(t, common.BytesToHash(alice.Bytes()), w.Storage().Get(callerSlot))
	assert.Equal(t, 0, fx.store.StorageOf(counterV1).Len())
}

func TestFailingInitializerDeploysNothing(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	require.NoError(t, fx.beacon.EmergencyUpgrade(ctx, beaconOwner, failingImpl))

	salt := common.HexToHash("0x99")
	_, err := fx.factory.CreateProxy(ctx, alice, salt, []byte{0x01})
	require.Error(t, err)
	assert.False(t, fx.store.IsContract(fx.factory.PredictProxyAddress(alice, salt)))
	assert.Empty(t, fx.factory.Proxies())
}

func TestBeaconUpgradeReachesEveryWallet(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	wa, _, err := fx.factory.MaybeCreateProxy(ctx, alice, nil)
	require.NoError(t, err)
	wb, _, err := fx.factory.MaybeCreateProxy(ctx, bob, nil)
	require.NoError(t, err)

	for _, w := range []*Wallet{wa, wb} {
		_, err := w.Fallback(ctx, w.Owner(), nil)
		require.NoError(t, err)
		impl, err := w.GetImplementation()
		require.NoError(t, err)
		assert.Equal(t, counterV1, impl)
	}

	require.NoError(t, fx.beacon.ScheduleUpgrade(ctx, beaconOwner, counterV2, time.Hour))
	fx.clock.Warp(time.Hour)
	require.NoError(t, fx.beacon.ExecuteUpgrade(ctx, beaconOwner))

	for _, w := range []*Wallet{wa, wb} {
		impl, err := w.GetImplementation()
		require.NoError(t, err)
		assert.Equal(t, counterV2, impl)
		_, err = w.Fallback(ctx, w.Owner(), nil)
		require.NoError(t, err)
		assert.Equal(t, int64(11), w.Storage().GetBig(countSlot).Int64())
	}
}

func TestCallsThroughStoreReachWallet(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	w, _, err := fx.factory.MaybeCreateProxy(ctx, alice, nil)
	require.NoError(t, err)

	_, err = fx.store.Call(ctx, bob, w.Address(), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), w.Storage().GetBig(countSlot).Int64())
	assert.Equal(t, common.BytesToHash(bob.Bytes()), w.Storage().Get(callerSlot))
}

func TestSafeDerivation(t *testing.T) {
	d := PolygonSafes()
	owner := common.HexToAddress("0x1234567890123456789012345678901234567890")

	salt := crypto.Keccak256Hash(common.LeftPadBytes(owner.Bytes(), 32))
	want := crypto.CreateAddress2(common.HexToAddress(PolygonSafeFactory), salt, common.HexToHash(SafeInitCodeHash).Bytes())
	assert.Equal(t, want, d.WalletFor(owner))
	assert.NotEqual(t, d.WalletFor(owner), d.WalletFor(alice))
}
