package exchange

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/GoPolymarket/ctf-exchange/internal/events"
	"github.com/GoPolymarket/ctf-exchange/internal/pkg/metrics"
	"github.com/GoPolymarket/ctf-exchange/internal/signer"
)

// Fill describes one settled order fill. Taking is what the order's maker was
// owed; it received Taking minus Fee.
type Fill struct {
	OrderHash    common.Hash    `json:"orderHash"`
	Maker        common.Address `json:"maker"`
	Taker        common.Address `json:"taker"`
	MakerAssetID *big.Int       `json:"makerAssetId"`
	TakerAssetID *big.Int       `json:"takerAssetId"`
	Making       *big.Int       `json:"making"`
	Taking       *big.Int       `json:"taking"`
	Fee          *big.Int       `json:"fee"`
}

func (f *Fill) payload() map[string]any {
	return map[string]any{
		"orderHash":         f.OrderHash.Hex(),
		"maker":             f.Maker.Hex(),
		"taker":             f.Taker.Hex(),
		"makerAssetId":      f.MakerAssetID.String(),
		"takerAssetId":      f.TakerAssetID.String(),
		"makerAmountFilled": f.Making.String(),
		"takerAmountFilled": f.Taking.String(),
		"fee":               f.Fee.String(),
	}
}

// FillResult is the outcome of one entry of a FillOrders batch.
type FillResult struct {
	Fill *Fill
	Err  error
}

// FillOrder fills fillAmount of the order's maker amount with the operator as
// counterparty. The operator's inventory is topped up by splitting its
// collateral or merging its complete sets when it lacks the asset owed.
func (e *Exchange) FillOrder(ctx context.Context, operator common.Address, order *signer.Order, fillAmount *big.Int) (*Fill, error) {
	ctx, err := e.enter(ctx)
	if err != nil {
		return nil, err
	}
	if err := e.roles.RequireOperator(operator); err != nil {
		return nil, err
	}
	e.mu.Lock()
	if e.paused {
		e.mu.Unlock()
		return nil, ErrTradingPaused
	}
	fill, err := e.fillLocked(ctx, operator, order, fillAmount)
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}
	e.emit(ctx, events.OrderFilled, fill.payload())
	return fill, nil
}

// FillOrders fills each order independently. A failing entry is reported in
// its result and leaves no trace; the others still settle.
func (e *Exchange) FillOrders(ctx context.Context, operator common.Address, orders []*signer.Order, fillAmounts []*big.Int) ([]FillResult, error) {
	ctx, err := e.enter(ctx)
	if err != nil {
		return nil, err
	}
	if err := e.roles.RequireOperator(operator); err != nil {
		return nil, err
	}
	if len(orders) != len(fillAmounts) {
		return nil, ErrLengthMismatch
	}
	e.mu.Lock()
	if e.paused {
		e.mu.Unlock()
		return nil, ErrTradingPaused
	}
	results := make([]FillResult, len(orders))
	for i, order := range orders {
		fill, err := e.fillLocked(ctx, operator, order, fillAmounts[i])
		results[i] = FillResult{Fill: fill, Err: err}
		if err != nil {
			e.log.Warn("batch fill entry failed", "index", i, "error", err)
		}
	}
	e.mu.Unlock()

	for _, r := range results {
		if r.Err == nil {
			e.emit(ctx, events.OrderFilled, r.Fill.payload())
		}
	}
	return results, nil
}

func (e *Exchange) fillLocked(ctx context.Context, operator common.Address, order *signer.Order, making *big.Int) (fill *Fill, err error) {
	if order == nil {
		return nil, ErrZeroAmount
	}
	if making == nil || making.Sign() <= 0 {
		return nil, ErrZeroFillAmount
	}

	ctx, snap := e.bridge.Snapshot(ctx)
	defer func() {
		if err != nil {
			e.bridge.RevertToSnapshot(ctx, snap)
			metrics.OrderRejects.WithLabelValues(rejectReason(err)).Inc()
			return
		}
		e.bridge.DiscardSnapshot(ctx, snap)
	}()

	staged := statusBook{}
	taking, hash, err := e.checkAndStage(order, making, staged, operator)
	if err != nil {
		return nil, err
	}
	makerAsset, takerAsset := assetIDs(order)
	fee := CalculateFee(order.FeeRateBps, outcomeTokens(order.Side, making, taking), order.MakerAmount, order.TakerAmount, order.Side)
	proceeds := new(big.Int).Sub(taking, fee)

	if err := e.ensureInventory(ctx, operator, order, takerAsset, proceeds); err != nil {
		return nil, err
	}
	if err := e.transfer(ctx, operator, order.Maker, takerAsset, proceeds); err != nil {
		return nil, err
	}
	if err := e.transfer(ctx, order.Maker, operator, makerAsset, making); err != nil {
		return nil, err
	}
	e.commit(staged)

	metrics.OrdersFilled.WithLabelValues(order.Side.String()).Inc()
	e.log.Debug("order filled", "order_hash", hash.Hex(), "making", making.String(), "taking", taking.String(), "fee", fee.String())
	return &Fill{
		OrderHash:    hash,
		Maker:        order.Maker,
		Taker:        operator,
		MakerAssetID: makerAsset,
		TakerAssetID: takerAsset,
		Making:       new(big.Int).Set(making),
		Taking:       taking,
		Fee:          fee,
	}, nil
}

// outcomeTokens is the outcome-token leg of a fill: what a buy receives or
// what a sell gives.
func outcomeTokens(side signer.Side, making, taking *big.Int) *big.Int {
	if side == signer.Buy {
		return taking
	}
	return making
}

// ensureInventory makes sure operator holds need units of assetID, converting
// through the exchange account when it does not.
func (e *Exchange) ensureInventory(ctx context.Context, operator common.Address, order *signer.Order, assetID, need *big.Int) error {
	have := e.bridge.BalanceOf(operator, assetID)
	if have.Cmp(need) >= 0 {
		return nil
	}
	short := new(big.Int).Sub(need, have)
	info, err := e.registry.Get(order.TokenID)
	if err != nil {
		return err
	}
	collateral := new(big.Int)

	if assetID.Sign() != 0 {
		// Owed outcome tokens: mint complete sets from operator collateral.
		if err := e.transfer(ctx, operator, e.address, collateral, short); err != nil {
			return err
		}
		if err := e.split(ctx, info.ConditionID, short); err != nil {
			return err
		}
		if err := e.transfer(ctx, e.address, operator, order.TokenID, short); err != nil {
			return err
		}
		return e.transfer(ctx, e.address, operator, info.Complement, short)
	}

	// Owed collateral: redeem operator's complete sets.
	if err := e.transfer(ctx, operator, e.address, order.TokenID, short); err != nil {
		return err
	}
	if err := e.transfer(ctx, operator, e.address, info.Complement, short); err != nil {
		return err
	}
	if err := e.merge(ctx, info.ConditionID, short); err != nil {
		return err
	}
	return e.transfer(ctx, e.address, operator, collateral, short)
}
