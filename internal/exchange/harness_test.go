package exchange

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/GoPolymarket/ctf-exchange/internal/auth"
	"github.com/GoPolymarket/ctf-exchange/internal/ctf"
	"github.com/GoPolymarket/ctf-exchange/internal/events"
	"github.com/GoPolymarket/ctf-exchange/internal/pkg/clock"
	"github.com/GoPolymarket/ctf-exchange/internal/pkg/logger"
	"github.com/GoPolymarket/ctf-exchange/internal/signer"
)

var (
	adminAddr    = common.HexToAddress("0xad")
	operatorAddr = common.HexToAddress("0x0e")
	exchangeAddr = common.HexToAddress("0xe8")
	oracleAddr   = common.HexToAddress("0x0c")
)

// countingBridge records split and merge calls on top of a real ledger.
type countingBridge struct {
	*ctf.Ledger
	splits, merges int
	onTransfer     func(ctx context.Context)
}

func (b *countingBridge) Split(ctx context.Context, caller common.Address, cond common.Hash, partition []uint64, amount *big.Int) error {
	b.splits++
	return b.Ledger.Split(ctx, caller, cond, partition, amount)
}

func (b *countingBridge) Merge(ctx context.Context, caller common.Address, cond common.Hash, partition []uint64, amount *big.Int) error {
	b.merges++
	return b.Ledger.Merge(ctx, caller, cond, partition, amount)
}

func (b *countingBridge) Transfer(ctx context.Context, spender, from, to common.Address, id, amount *big.Int) error {
	if b.onTransfer != nil {
		b.onTransfer(ctx)
	}
	return b.Ledger.Transfer(ctx, spender, from, to, id, amount)
}

type harness struct {
	t      *testing.T
	ctx    context.Context
	ex     *Exchange
	bridge *countingBridge
	clk    *clock.Manual
	rec    *events.Recorder
	cond   common.Hash
	yes    *big.Int
	no     *big.Int
	salt   int64
}

func newHarness(t *testing.T) *harness {
	ledger := ctf.NewLedger(common.HexToAddress("0xc0"), nil)
	bridge := &countingBridge{Ledger: ledger}
	rec := events.NewRecorder()
	clk := clock.NewManual(time.Unix(1_700_000_000, 0))
	roles := auth.NewTableWith([]common.Address{adminAddr}, []common.Address{operatorAddr})

	ex := New(Options{
		Address: exchangeAddr,
		ChainID: 137,
		Clock:   clk,
		Bus:     events.NewBus(logger.Discard(), rec),
	}, bridge, roles)

	cond, err := ledger.PrepareCondition(oracleAddr, crypto.Keccak256Hash([]byte("will it rain")), 2)
	require.NoError(t, err)
	h := &harness{
		t:      t,
		ctx:    context.Background(),
		ex:     ex,
		bridge: bridge,
		clk:    clk,
		rec:    rec,
		cond:   cond,
		yes:    ctf.PositionIDFor(ledger.Collateral(), cond, 1),
		no:     ctf.PositionIDFor(ledger.Collateral(), cond, 2),
	}
	require.NoError(t, ex.RegisterToken(h.ctx, adminAddr, h.yes, h.no, cond))
	ledger.SetApprovalForAll(operatorAddr, exchangeAddr, true)
	return h
}

// trader returns a signer whose account approved the exchange and holds
// collateral.
func (h *harness) trader(collateral int64) *signer.Signer {
	key, err := crypto.GenerateKey()
	require.NoError(h.t, err)
	s := signer.NewSignerFromKey(key, h.ex.Domain())
	h.bridge.SetApprovalForAll(s.Address(), exchangeAddr, true)
	h.fund(s.Address(), collateral)
	return s
}

func (h *harness) fund(holder common.Address, collateral int64) {
	if collateral > 0 {
		require.NoError(h.t, h.bridge.Mint(holder, big.NewInt(collateral)))
	}
}

// sets gives holder amount of both outcome tokens.
func (h *harness) sets(holder common.Address, amount int64) {
	h.fund(holder, amount)
	require.NoError(h.t, h.bridge.Ledger.Split(h.ctx, holder, h.cond, ctf.BinaryPartition, big.NewInt(amount)))
}

func (h *harness) order(s *signer.Signer, side signer.Side, token *big.Int, makerAmount, takerAmount int64, mutate ...func(*signer.Order)) *signer.Order {
	h.salt++
	o := &signer.Order{
		Salt:          big.NewInt(h.salt),
		Maker:         s.Address(),
		Signer:        s.Address(),
		TokenID:       token,
		MakerAmount:   big.NewInt(makerAmount),
		TakerAmount:   big.NewInt(takerAmount),
		Expiration:    big.NewInt(0),
		Nonce:         big.NewInt(0),
		FeeRateBps:    big.NewInt(0),
		Side:          side,
		SignatureType: signer.EOA,
	}
	for _, m := range mutate {
		m(o)
	}
	_, err := s.SignOrder(o)
	require.NoError(h.t, err)
	return o
}

func (h *harness) balance(holder common.Address, id *big.Int) int64 {
	return h.bridge.BalanceOf(holder, id).Int64()
}

// balances captures every asset of every holder for atomicity checks.
func (h *harness) balances(holders ...common.Address) map[string]int64 {
	out := make(map[string]int64)
	for _, a := range append(holders, exchangeAddr, operatorAddr) {
		for _, id := range []*big.Int{ctf.CollateralID, h.yes, h.no} {
			out[a.Hex()+"/"+id.String()] = h.balance(a, id)
		}
	}
	return out
}

func (h *harness) requireExchangeEmpty() {
	for _, id := range []*big.Int{ctf.CollateralID, h.yes, h.no} {
		require.Zero(h.t, h.balance(exchangeAddr, id), "exchange holds asset %s", id)
	}
}
