package exchange

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/GoPolymarket/ctf-exchange/internal/events"
	"github.com/GoPolymarket/ctf-exchange/internal/pkg/metrics"
	"github.com/GoPolymarket/ctf-exchange/internal/signer"
)

type MatchType uint8

const (
	// Complementary: a buy meets a sell of the same token.
	Complementary MatchType = iota
	// Mint: two buys of complementary tokens; collateral is split.
	Mint
	// Merge: two sells of complementary tokens; complete sets are merged.
	Merge
)

func (m MatchType) String() string {
	switch m {
	case Mint:
		return "MINT"
	case Merge:
		return "MERGE"
	default:
		return "COMPLEMENTARY"
	}
}

func matchTypeOf(taker, maker *signer.Order) MatchType {
	switch {
	case taker.Side == signer.Buy && maker.Side == signer.Buy:
		return Mint
	case taker.Side == signer.Sell && maker.Side == signer.Sell:
		return Merge
	default:
		return Complementary
	}
}

// MatchResult summarises a settled match from the taker order's side.
type MatchResult struct {
	TakerOrderHash common.Hash    `json:"takerOrderHash"`
	TakerMaker     common.Address `json:"takerOrderMaker"`
	MakerAssetID   *big.Int       `json:"makerAssetId"`
	TakerAssetID   *big.Int       `json:"takerAssetId"`
	Making         *big.Int       `json:"making"`
	Taking         *big.Int       `json:"taking"`
	Fee            *big.Int       `json:"fee"`
	Refund         *big.Int       `json:"refund"`
	MakerFills     []*Fill        `json:"makerFills"`
	MatchTypes     []MatchType    `json:"matchTypes"`
}

// MatchOrders settles takerOrder against makerOrders through the exchange
// account. Either every fill settles or none does. The taker receives any
// price improvement; fees go to the operator.
func (e *Exchange) MatchOrders(ctx context.Context, operator common.Address, takerOrder *signer.Order, makerOrders []*signer.Order, takerFillAmount *big.Int, makerFillAmounts []*big.Int) (*MatchResult, error) {
	ctx, err := e.enter(ctx)
	if err != nil {
		return nil, err
	}
	if err := e.roles.RequireOperator(operator); err != nil {
		return nil, err
	}
	if len(makerOrders) == 0 {
		return nil, ErrNoMakerOrders
	}
	if len(makerOrders) != len(makerFillAmounts) {
		return nil, ErrLengthMismatch
	}
	if takerOrder == nil {
		return nil, ErrZeroAmount
	}
	if takerFillAmount == nil || takerFillAmount.Sign() <= 0 {
		return nil, ErrZeroFillAmount
	}

	e.mu.Lock()
	if e.paused {
		e.mu.Unlock()
		return nil, ErrTradingPaused
	}
	res, err := e.matchLocked(ctx, operator, takerOrder, makerOrders, takerFillAmount, makerFillAmounts)
	e.mu.Unlock()
	if err != nil {
		metrics.OrderRejects.WithLabelValues(rejectReason(err)).Inc()
		e.log.Warn("match rejected", "taker_maker", takerOrder.Maker.Hex(), "error", err)
		return nil, err
	}

	for i, f := range res.MakerFills {
		metrics.OrdersMatched.WithLabelValues(res.MatchTypes[i].String()).Inc()
		e.emit(ctx, events.OrderFilled, f.payload())
	}
	taker := &Fill{
		OrderHash:    res.TakerOrderHash,
		Maker:        res.TakerMaker,
		Taker:        e.address,
		MakerAssetID: res.MakerAssetID,
		TakerAssetID: res.TakerAssetID,
		Making:       res.Making,
		Taking:       res.Taking,
		Fee:          res.Fee,
	}
	e.emit(ctx, events.OrderFilled, taker.payload())
	e.emit(ctx, events.OrdersMatched, map[string]any{
		"takerOrderHash":    res.TakerOrderHash.Hex(),
		"takerOrderMaker":   res.TakerMaker.Hex(),
		"makerAssetId":      res.MakerAssetID.String(),
		"takerAssetId":      res.TakerAssetID.String(),
		"makerAmountFilled": res.Making.String(),
		"takerAmountFilled": res.Taking.String(),
	})
	return res, nil
}

func (e *Exchange) matchLocked(ctx context.Context, operator common.Address, takerOrder *signer.Order, makerOrders []*signer.Order, making *big.Int, makerFillAmounts []*big.Int) (res *MatchResult, err error) {
	ctx, snap := e.bridge.Snapshot(ctx)
	defer func() {
		if err != nil {
			e.bridge.RevertToSnapshot(ctx, snap)
			return
		}
		e.bridge.DiscardSnapshot(ctx, snap)
	}()

	staged := statusBook{}
	taking, hash, err := e.checkAndStage(takerOrder, making, staged, operator)
	if err != nil {
		return nil, fmt.Errorf("taker order: %w", err)
	}
	makerAsset, takerAsset := assetIDs(takerOrder)
	if err := e.transfer(ctx, takerOrder.Maker, e.address, makerAsset, making); err != nil {
		return nil, err
	}

	res = &MatchResult{
		TakerOrderHash: hash,
		TakerMaker:     takerOrder.Maker,
		MakerAssetID:   makerAsset,
		TakerAssetID:   takerAsset,
		Making:         new(big.Int).Set(making),
	}
	for i, m := range makerOrders {
		fill, mt, err := e.fillMakerOrder(ctx, operator, takerOrder, m, makerFillAmounts[i], staged)
		if err != nil {
			return nil, fmt.Errorf("maker order %d: %w", i, err)
		}
		res.MakerFills = append(res.MakerFills, fill)
		res.MatchTypes = append(res.MatchTypes, mt)
	}

	// Whatever the exchange now holds of the taker's asset is owed to the
	// taker, including any surplus from better maker prices.
	received := e.bridge.BalanceOf(e.address, takerAsset)
	if received.Cmp(taking) < 0 {
		return nil, fmt.Errorf("taker receives %s of %s: %w", received, taking, ErrTooLittleReceived)
	}
	taking = received
	fee := CalculateFee(takerOrder.FeeRateBps, outcomeTokens(takerOrder.Side, making, taking), making, taking, takerOrder.Side)
	if err := e.transfer(ctx, e.address, takerOrder.Maker, takerAsset, new(big.Int).Sub(taking, fee)); err != nil {
		return nil, err
	}
	if err := e.transfer(ctx, e.address, operator, takerAsset, fee); err != nil {
		return nil, err
	}
	refund := e.bridge.BalanceOf(e.address, makerAsset)
	if err := e.transfer(ctx, e.address, takerOrder.Maker, makerAsset, refund); err != nil {
		return nil, err
	}

	e.commit(staged)
	res.Taking = taking
	res.Fee = fee
	res.Refund = refund
	e.log.Info("orders matched",
		"taker_order", hash.Hex(),
		"makers", len(makerOrders),
		"making", making.String(),
		"taking", taking.String(),
		"refund", refund.String(),
	)
	return res, nil
}

func (e *Exchange) fillMakerOrder(ctx context.Context, operator common.Address, takerOrder, makerOrder *signer.Order, making *big.Int, staged statusBook) (*Fill, MatchType, error) {
	if makerOrder == nil {
		return nil, 0, ErrZeroAmount
	}
	if making == nil || making.Sign() <= 0 {
		return nil, 0, ErrZeroFillAmount
	}
	mt := matchTypeOf(takerOrder, makerOrder)
	if err := e.checkMatch(takerOrder, makerOrder, mt); err != nil {
		return nil, mt, err
	}

	taking, hash, err := e.checkAndStage(makerOrder, making, staged, takerOrder.Maker, operator)
	if err != nil {
		return nil, mt, err
	}
	fee := CalculateFee(makerOrder.FeeRateBps, outcomeTokens(makerOrder.Side, making, taking), makerOrder.MakerAmount, makerOrder.TakerAmount, makerOrder.Side)
	makerAsset, takerAsset := assetIDs(makerOrder)

	if err := e.transfer(ctx, makerOrder.Maker, e.address, makerAsset, making); err != nil {
		return nil, mt, err
	}
	switch mt {
	case Mint:
		cond, err := e.registry.GetConditionID(takerAsset)
		if err != nil {
			return nil, mt, err
		}
		if err := e.split(ctx, cond, taking); err != nil {
			return nil, mt, err
		}
	case Merge:
		cond, err := e.registry.GetConditionID(makerAsset)
		if err != nil {
			return nil, mt, err
		}
		if err := e.merge(ctx, cond, making); err != nil {
			return nil, mt, err
		}
	}

	if e.bridge.BalanceOf(e.address, takerAsset).Cmp(taking) < 0 {
		return nil, mt, fmt.Errorf("maker %s: %w", makerOrder.Maker.Hex(), ErrTooLittleReceived)
	}
	if err := e.transfer(ctx, e.address, makerOrder.Maker, takerAsset, new(big.Int).Sub(taking, fee)); err != nil {
		return nil, mt, err
	}
	if err := e.transfer(ctx, e.address, operator, takerAsset, fee); err != nil {
		return nil, mt, err
	}
	return &Fill{
		OrderHash:    hash,
		Maker:        makerOrder.Maker,
		Taker:        takerOrder.Maker,
		MakerAssetID: makerAsset,
		TakerAssetID: takerAsset,
		Making:       new(big.Int).Set(making),
		Taking:       taking,
		Fee:          fee,
	}, mt, nil
}

func (e *Exchange) checkMatch(takerOrder, makerOrder *signer.Order, mt MatchType) error {
	if takerOrder.TakerAmount == nil || makerOrder.TakerAmount == nil ||
		takerOrder.MakerAmount == nil || makerOrder.MakerAmount == nil {
		return ErrZeroAmount
	}
	if !IsCrossing(takerOrder, makerOrder) {
		return ErrNotCrossing
	}
	if mt == Complementary {
		if takerOrder.TokenID == nil || makerOrder.TokenID == nil || takerOrder.TokenID.Cmp(makerOrder.TokenID) != 0 {
			return ErrMismatchedTokenIDs
		}
		return nil
	}
	return e.registry.ValidateComplement(makerOrder.TokenID, takerOrder.TokenID)
}
