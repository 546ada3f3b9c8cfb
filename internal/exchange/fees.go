package exchange

import (
	"math/big"

	"github.com/GoPolymarket/ctf-exchange/internal/signer"
)

// MaxFeeRateBps caps the fee rate an order may carry (10%).
const MaxFeeRateBps = 1000

var (
	// One is the fixed-point unit prices are expressed in.
	One = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

	bpsDivisor = big.NewInt(10_000)
)

// CalculatePrice returns the collateral price per outcome token of an order,
// scaled by One. Orders with a zero denominator price at zero.
func CalculatePrice(makerAmount, takerAmount *big.Int, side signer.Side) *big.Int {
	num, den := makerAmount, takerAmount
	if side == signer.Sell {
		num, den = takerAmount, makerAmount
	}
	if den == nil || den.Sign() == 0 {
		return new(big.Int)
	}
	p := new(big.Int).Mul(num, One)
	return p.Quo(p, den)
}

// CalculateFee charges feeRateBps on min(price, 1-price) times the outcome
// tokens traded, so a buy at p and a sell at 1-p pay the same fee. For buys
// outcomeTokens is the taking amount; for sells it is the making amount. The
// result is denominated in the asset the order receives.
func CalculateFee(feeRateBps, outcomeTokens, makerAmount, takerAmount *big.Int, side signer.Side) *big.Int {
	if feeRateBps == nil || feeRateBps.Sign() <= 0 || outcomeTokens == nil || outcomeTokens.Sign() <= 0 {
		return new(big.Int)
	}
	price := CalculatePrice(makerAmount, takerAmount, side)
	if price.Sign() <= 0 || price.Cmp(One) > 0 {
		return new(big.Int)
	}
	m := new(big.Int).Sub(One, price)
	if price.Cmp(m) < 0 {
		m = price
	}
	fee := new(big.Int).Mul(feeRateBps, m)
	fee.Mul(fee, outcomeTokens)
	fee.Quo(fee, One)
	return fee.Quo(fee, bpsDivisor)
}

// CalculateTakingAmount scales the order's taker amount to a partial fill.
func CalculateTakingAmount(making, makerAmount, takerAmount *big.Int) *big.Int {
	if makerAmount.Sign() == 0 {
		return new(big.Int)
	}
	t := new(big.Int).Mul(making, takerAmount)
	return t.Quo(t, makerAmount)
}

// IsCrossing reports whether two orders agree on price. Orders asking for
// nothing always cross.
func IsCrossing(a, b *signer.Order) bool {
	if a.TakerAmount.Sign() == 0 || b.TakerAmount.Sign() == 0 {
		return true
	}
	pa := CalculatePrice(a.MakerAmount, a.TakerAmount, a.Side)
	pb := CalculatePrice(b.MakerAmount, b.TakerAmount, b.Side)
	switch {
	case a.Side == signer.Buy && b.Side == signer.Buy:
		return new(big.Int).Add(pa, pb).Cmp(One) >= 0
	case a.Side == signer.Buy && b.Side == signer.Sell:
		return pa.Cmp(pb) >= 0
	case a.Side == signer.Sell && b.Side == signer.Buy:
		return pb.Cmp(pa) >= 0
	default:
		return new(big.Int).Add(pa, pb).Cmp(One) <= 0
	}
}
