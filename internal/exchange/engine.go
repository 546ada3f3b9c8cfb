// Package exchange settles signed limit orders for binary outcome tokens.
// Operators fill orders directly or match them against each other, minting
// or merging complete sets through the collateral bridge when both sides
// trade complementary tokens.
package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/GoPolymarket/ctf-exchange/internal/auth"
	"github.com/GoPolymarket/ctf-exchange/internal/ctf"
	"github.com/GoPolymarket/ctf-exchange/internal/events"
	"github.com/GoPolymarket/ctf-exchange/internal/pkg/clock"
	"github.com/GoPolymarket/ctf-exchange/internal/pkg/logger"
	"github.com/GoPolymarket/ctf-exchange/internal/pkg/metrics"
	"github.com/GoPolymarket/ctf-exchange/internal/signer"
)

const eventSource = "exchange"

// Bridge is the collateral bridge the exchange settles through. Transfers
// act on behalf of spender, which must be the owner or an approved operator.
type Bridge interface {
	BalanceOf(holder common.Address, id *big.Int) *big.Int
	IsApprovedForAll(owner, operator common.Address) bool
	Transfer(ctx context.Context, spender, from, to common.Address, id, amount *big.Int) error
	Split(ctx context.Context, caller common.Address, conditionID common.Hash, partition []uint64, amount *big.Int) error
	Merge(ctx context.Context, caller common.Address, conditionID common.Hash, partition []uint64, amount *big.Int) error

	// Snapshot opens an exclusive transaction bound to the returned context.
	Snapshot(ctx context.Context) (context.Context, int)
	RevertToSnapshot(ctx context.Context, id int)
	DiscardSnapshot(ctx context.Context, id int)
}

// OrderStatus tracks how much of an order's maker amount is still fillable.
type OrderStatus struct {
	IsFilledOrCancelled bool     `json:"isFilledOrCancelled"`
	Remaining           *big.Int `json:"remaining"`
}

type Options struct {
	// Address is the exchange's own account and the EIP-712 verifying contract.
	Address common.Address
	ChainID int64
	Proxies WalletDeriver
	Safes   WalletDeriver
	Clock   clock.Clock
	Bus     *events.Bus
	Logger  *slog.Logger
}

type Exchange struct {
	mu sync.Mutex

	address  common.Address
	domain   *signer.Domain
	bridge   Bridge
	roles    *auth.Table
	registry *Registry
	verifier *SignatureVerifier
	clock    clock.Clock
	bus      *events.Bus
	log      *slog.Logger

	paused     bool
	feeCeiling *big.Int
	nonces     map[common.Address]*big.Int
	status     map[common.Hash]*OrderStatus
}

func New(opts Options, bridge Bridge, roles *auth.Table) *Exchange {
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	return &Exchange{
		address:  opts.Address,
		domain:   signer.NewDomain(opts.ChainID, opts.Address),
		bridge:   bridge,
		roles:    roles,
		registry: NewRegistry(),
		verifier: NewSignatureVerifier(opts.Proxies, opts.Safes),
		clock:    opts.Clock,
		bus:      opts.Bus,
		log:      opts.Logger,

		feeCeiling: big.NewInt(MaxFeeRateBps),
		nonces:     make(map[common.Address]*big.Int),
		status:     make(map[common.Hash]*OrderStatus),
	}
}

func (e *Exchange) Address() common.Address      { return e.address }
func (e *Exchange) Domain() *signer.Domain       { return e.domain }
func (e *Exchange) Roles() *auth.Table           { return e.roles }
func (e *Exchange) Registry() *Registry          { return e.registry }
func (e *Exchange) Verifier() *SignatureVerifier { return e.verifier }

// HashOrder returns the EIP-712 digest the maker signs.
func (e *Exchange) HashOrder(order *signer.Order) common.Hash {
	return e.domain.Digest(order)
}

type reentrancyKey struct{}

// enter rejects calls made from inside another exchange entrypoint and marks
// ctx for everything the current call reaches.
func (e *Exchange) enter(ctx context.Context) (context.Context, error) {
	if ctx.Value(reentrancyKey{}) != nil {
		return ctx, ErrReentrantCall
	}
	return context.WithValue(ctx, reentrancyKey{}, e.address), nil
}

func (e *Exchange) IsPaused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

func (e *Exchange) PauseTrading(ctx context.Context, caller common.Address) error {
	return e.setPaused(ctx, caller, true)
}

func (e *Exchange) UnpauseTrading(ctx context.Context, caller common.Address) error {
	return e.setPaused(ctx, caller, false)
}

func (e *Exchange) setPaused(ctx context.Context, caller common.Address, paused bool) error {
	if err := e.roles.RequireAdmin(caller); err != nil {
		return err
	}
	e.mu.Lock()
	e.paused = paused
	e.mu.Unlock()

	t := events.TradingUnpaused
	if paused {
		t = events.TradingPaused
	}
	e.log.Info("trading pause toggled", "paused", paused, "by", caller.Hex())
	e.emit(ctx, t, map[string]any{"pauser": caller.Hex()})
	return nil
}

// RegisterToken records a complementary outcome-token pair under conditionID.
func (e *Exchange) RegisterToken(ctx context.Context, caller common.Address, token, complement *big.Int, conditionID common.Hash) error {
	if err := e.roles.RequireAdmin(caller); err != nil {
		return err
	}
	if err := e.registry.Register(token, complement, conditionID); err != nil {
		return err
	}
	e.emit(ctx, events.TokenRegistered, map[string]any{
		"token0":      token.String(),
		"token1":      complement.String(),
		"conditionId": conditionID.Hex(),
	})
	return nil
}

// SetFeeRateCeiling lowers or restores the highest fee rate orders may carry.
// It can never exceed MaxFeeRateBps.
func (e *Exchange) SetFeeRateCeiling(ctx context.Context, caller common.Address, bps int64) error {
	if err := e.roles.RequireAdmin(caller); err != nil {
		return err
	}
	if bps < 0 || bps > MaxFeeRateBps {
		return fmt.Errorf("ceiling %d bps: %w", bps, ErrFeeTooHigh)
	}
	e.mu.Lock()
	e.feeCeiling = big.NewInt(bps)
	e.mu.Unlock()
	e.emit(ctx, events.FeeRateCeilingSet, map[string]any{"bps": bps})
	return nil
}

func (e *Exchange) FeeRateCeiling() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.feeCeiling.Int64()
}

// Nonce returns maker's live nonce.
func (e *Exchange) Nonce(maker common.Address) *big.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.nonceOf(maker)
}

// IncrementNonce invalidates every outstanding order caller signed against
// the current nonce.
func (e *Exchange) IncrementNonce(ctx context.Context, caller common.Address) *big.Int {
	e.mu.Lock()
	next := new(big.Int).Add(e.nonceOf(caller), big.NewInt(1))
	e.nonces[caller] = next
	e.mu.Unlock()

	e.emit(ctx, events.NonceIncremented, map[string]any{"maker": caller.Hex(), "nonce": next.String()})
	return new(big.Int).Set(next)
}

func (e *Exchange) nonceOf(maker common.Address) *big.Int {
	if n, ok := e.nonces[maker]; ok {
		return new(big.Int).Set(n)
	}
	return new(big.Int)
}

// GetOrderStatus returns the stored status for an order hash. Orders never
// touched report not filled with nil remaining.
func (e *Exchange) GetOrderStatus(hash common.Hash) OrderStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.status[hash]
	if !ok {
		return OrderStatus{}
	}
	return OrderStatus{IsFilledOrCancelled: st.IsFilledOrCancelled, Remaining: new(big.Int).Set(st.Remaining)}
}

// ValidateOrder runs every check a fill would run against the order's full
// remaining size, without moving assets.
func (e *Exchange) ValidateOrder(_ context.Context, order *signer.Order) error {
	if order == nil {
		return ErrZeroAmount
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	hash := e.domain.Digest(order)
	remaining := order.MakerAmount
	if st, ok := e.status[hash]; ok {
		remaining = st.Remaining
	}
	err := e.validate(order, hash, remaining, nil)
	if err != nil {
		metrics.OrderRejects.WithLabelValues(rejectReason(err)).Inc()
	}
	return err
}

// statusBook stages order status changes until the enclosing call commits.
type statusBook map[common.Hash]*OrderStatus

func (e *Exchange) statusFor(hash common.Hash, order *signer.Order, staged statusBook) *OrderStatus {
	if st, ok := staged[hash]; ok {
		return st
	}
	if st, ok := e.status[hash]; ok {
		return &OrderStatus{IsFilledOrCancelled: st.IsFilledOrCancelled, Remaining: new(big.Int).Set(st.Remaining)}
	}
	return &OrderStatus{Remaining: new(big.Int).Set(order.MakerAmount)}
}

func (e *Exchange) commit(staged statusBook) {
	for h, st := range staged {
		e.status[h] = st
	}
}

// validate checks order in a fixed order so the first failing rule is the
// one reported. required is the making amount the maker must be able to
// deliver.
func (e *Exchange) validate(order *signer.Order, hash common.Hash, required *big.Int, staged statusBook) error {
	if order == nil || order.MakerAmount == nil || order.TakerAmount == nil ||
		order.MakerAmount.Sign() <= 0 || order.TakerAmount.Sign() <= 0 {
		return ErrZeroAmount
	}
	if order.Expiration != nil && order.Expiration.Sign() > 0 &&
		order.Expiration.Cmp(big.NewInt(e.clock.Now().Unix())) < 0 {
		return fmt.Errorf("order %s: %w", hash.Hex(), ErrOrderExpired)
	}
	if order.FeeRateBps != nil && order.FeeRateBps.Cmp(e.feeCeiling) > 0 {
		return fmt.Errorf("fee rate %s bps: %w", order.FeeRateBps, ErrFeeTooHigh)
	}
	if err := e.registry.ValidateTokenID(order.TokenID); err != nil {
		return err
	}
	if st := e.statusFor(hash, order, staged); st.IsFilledOrCancelled {
		return fmt.Errorf("order %s: %w", hash.Hex(), ErrOrderFilled)
	}
	nonce := order.Nonce
	if nonce == nil {
		nonce = new(big.Int)
	}
	if nonce.Cmp(e.nonceOf(order.Maker)) != 0 {
		return fmt.Errorf("order nonce %s: %w", nonce, ErrInvalidNonce)
	}
	if !e.verifier.IsValidSignature(order.Signer, order.Maker, hash, order.Signature, order.SignatureType) {
		return fmt.Errorf("order %s: %w", hash.Hex(), ErrInvalidSignature)
	}
	makerAsset, _ := assetIDs(order)
	if e.bridge.BalanceOf(order.Maker, makerAsset).Cmp(required) < 0 {
		return fmt.Errorf("maker %s: %w", order.Maker.Hex(), ErrInsufficientBalance)
	}
	if !e.bridge.IsApprovedForAll(order.Maker, e.address) {
		return fmt.Errorf("maker %s: %w", order.Maker.Hex(), ErrInsufficientAllowance)
	}
	return nil
}

// assetIDs returns what the maker gives and what it receives. Collateral is
// asset zero.
func assetIDs(order *signer.Order) (maker, taker *big.Int) {
	if order.Side == signer.Buy {
		return new(big.Int), order.TokenID
	}
	return order.TokenID, new(big.Int)
}

// checkAndStage validates a fill of making units of order and stages the
// resulting status. expectedTakers lists the accounts allowed to take a
// reserved order.
func (e *Exchange) checkAndStage(order *signer.Order, making *big.Int, staged statusBook, expectedTakers ...common.Address) (taking *big.Int, hash common.Hash, err error) {
	if order.Taker != (common.Address{}) {
		allowed := false
		for _, t := range expectedTakers {
			if order.Taker == t {
				allowed = true
				break
			}
		}
		if !allowed {
			return nil, hash, fmt.Errorf("order reserved for %s: %w", order.Taker.Hex(), ErrNotTaker)
		}
	}
	hash = e.domain.Digest(order)
	if err := e.validate(order, hash, making, staged); err != nil {
		return nil, hash, err
	}
	st := e.statusFor(hash, order, staged)
	if making.Cmp(st.Remaining) > 0 {
		return nil, hash, fmt.Errorf("making %s of %s: %w", making, st.Remaining, ErrMakingExceedsRemaining)
	}
	st.Remaining = new(big.Int).Sub(st.Remaining, making)
	st.IsFilledOrCancelled = st.Remaining.Sign() == 0
	staged[hash] = st
	return CalculateTakingAmount(making, order.MakerAmount, order.TakerAmount), hash, nil
}

func (e *Exchange) transfer(ctx context.Context, from, to common.Address, id, amount *big.Int) error {
	if amount.Sign() == 0 {
		return nil
	}
	if err := e.bridge.Transfer(ctx, e.address, from, to, id, amount); err != nil {
		return bridgeErr("transfer", err)
	}
	return nil
}

func (e *Exchange) split(ctx context.Context, conditionID common.Hash, amount *big.Int) error {
	err := e.bridge.Split(ctx, e.address, conditionID, ctf.BinaryPartition, amount)
	metrics.BridgeCalls.WithLabelValues("split", status(err)).Inc()
	if err != nil {
		return bridgeErr("split", err)
	}
	return nil
}

func (e *Exchange) merge(ctx context.Context, conditionID common.Hash, amount *big.Int) error {
	err := e.bridge.Merge(ctx, e.address, conditionID, ctf.BinaryPartition, amount)
	metrics.BridgeCalls.WithLabelValues("merge", status(err)).Inc()
	if err != nil {
		return bridgeErr("merge", err)
	}
	return nil
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (e *Exchange) emit(ctx context.Context, t events.Type, payload map[string]any) {
	if err := e.bus.Publish(ctx, events.New(t, eventSource, e.clock.Now(), payload)); err != nil {
		e.log.Warn("event publish failed", "type", t, "error", err)
	}
}
