package oracle

import (
	"fmt"
	"math/big"

	"github.com/GoPolymarket/ctf-exchange/internal/pkg/apperrors"
)

// MaxPriceLen bounds a proposed price array: [home, away, spreadLine, totalLine].
const MaxPriceLen = 4

var (
	// Binary sentinels, 18-decimal fixed point.
	PriceYes     = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	PriceNo      = new(big.Int)
	PriceInvalid = new(big.Int).Div(PriceYes, big.NewInt(2))

	// CanceledFlag as the first element cancels a sports market: min int256.
	CanceledFlag = new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 255))
)

var (
	ErrInvalidPrice = apperrors.Sentinel(apperrors.ErrValidation, "invalid price")
	ErrSlotCount    = apperrors.Sentinel(apperrors.ErrInvalidRequest, "outcome slot count does not fit the market")
)

// MarketKind is inferred from the length of a price array.
type MarketKind int

const (
	Binary MarketKind = iota + 1
	Winner
	Spread
	Total
)

func (k MarketKind) String() string {
	switch k {
	case Binary:
		return "binary"
	case Winner:
		return "winner"
	case Spread:
		return "spread"
	case Total:
		return "total"
	default:
		return "unknown"
	}
}

// KindOf maps a price length to its market kind.
func KindOf(price []*big.Int) (MarketKind, error) {
	switch len(price) {
	case 1:
		return Binary, nil
	case 2:
		return Winner, nil
	case 3:
		return Spread, nil
	case 4:
		return Total, nil
	default:
		return 0, fmt.Errorf("length %d: %w", len(price), ErrInvalidPrice)
	}
}

// ValidatePrice checks a price array without knowing the condition's slot
// count. It is applied at proposal time and to admin-supplied final prices.
func ValidatePrice(price []*big.Int) error {
	kind, err := KindOf(price)
	if err != nil {
		return err
	}
	for i, p := range price {
		if p == nil {
			return fmt.Errorf("element %d missing: %w", i, ErrInvalidPrice)
		}
	}
	if kind == Binary {
		p := price[0]
		if p.Cmp(PriceYes) != 0 && p.Cmp(PriceNo) != 0 && p.Cmp(PriceInvalid) != 0 {
			return fmt.Errorf("binary value %s: %w", p.String(), ErrInvalidPrice)
		}
		return nil
	}
	if canceled(price) {
		return nil
	}
	// Scores are never negative; lines may be.
	if price[0].Sign() < 0 || price[1].Sign() < 0 {
		return fmt.Errorf("negative score: %w", ErrInvalidPrice)
	}
	return nil
}

func canceled(price []*big.Int) bool {
	return len(price) > 1 && price[0].Cmp(CanceledFlag) == 0
}

// DecodePayouts turns a settled price into a payout vector of slots entries.
// Binary markets need two slots; sports markets take two or three, the third
// being the draw/push slot.
func DecodePayouts(price []*big.Int, slots int) ([]*big.Int, error) {
	if err := ValidatePrice(price); err != nil {
		return nil, err
	}
	kind, _ := KindOf(price)
	if kind == Binary {
		if slots != 2 {
			return nil, fmt.Errorf("%s market with %d slots: %w", kind, slots, ErrSlotCount)
		}
		switch {
		case price[0].Cmp(PriceYes) == 0:
			return ints(1, 0), nil
		case price[0].Sign() == 0:
			return ints(0, 1), nil
		default:
			return ints(1, 1), nil
		}
	}
	if slots != 2 && slots != 3 {
		return nil, fmt.Errorf("%s market with %d slots: %w", kind, slots, ErrSlotCount)
	}
	if canceled(price) {
		return split(slots), nil
	}

	home, away := price[0], price[1]
	var cmp int
	switch kind {
	case Winner:
		cmp = home.Cmp(away)
	case Spread:
		margin := new(big.Int).Sub(home, away)
		cmp = margin.Cmp(price[2])
	case Total:
		sum := new(big.Int).Add(home, away)
		cmp = sum.Cmp(price[3])
	}

	// cmp > 0: home wins, covers or goes over. cmp < 0: the other side.
	out := make([]*big.Int, slots)
	for i := range out {
		out[i] = new(big.Int)
	}
	switch {
	case cmp > 0:
		out[0].SetInt64(1)
	case cmp < 0:
		out[1].SetInt64(1)
	case slots == 3:
		out[2].SetInt64(1)
	default:
		return split(slots), nil
	}
	return out, nil
}

func split(slots int) []*big.Int {
	out := make([]*big.Int, slots)
	for i := range out {
		out[i] = big.NewInt(1)
	}
	return out
}

func ints(vs ...int64) []*big.Int {
	out := make([]*big.Int, len(vs))
	for i, v := range vs {
		out[i] = big.NewInt(v)
	}
	return out
}
