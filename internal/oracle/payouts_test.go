package oracle

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func prices(vs ...int64) []*big.Int { return ints(vs...) }

func strs(in []*big.Int) []string { return fmtInts(in) }

func TestDecodeBinary(t *testing.T) {
	cases := []struct {
		name  string
		price *big.Int
		want  []string
	}{
		{"yes", PriceYes, []string{"1", "0"}},
		{"no", PriceNo, []string{"0", "1"}},
		{"invalid", PriceInvalid, []string{"1", "1"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := DecodePayouts([]*big.Int{tc.price}, 2)
			require.NoError(t, err)
			assert.Equal(t, tc.want, strs(got))
		})
	}

	_, err := DecodePayouts([]*big.Int{PriceYes}, 3)
	assert.ErrorIs(t, err, ErrSlotCount)
	assert.ErrorIs(t, ValidatePrice([]*big.Int{big.NewInt(42)}), ErrInvalidPrice)
}

func TestDecodeSports(t *testing.T) {
	cases := []struct {
		name  string
		price []*big.Int
		slots int
		want  []string
	}{
		{"home wins", prices(3, 1), 2, []string{"1", "0"}},
		{"away wins", prices(0, 2), 3, []string{"0", "1", "0"}},
		{"tie splits two slots", prices(2, 2), 2, []string{"1", "1"}},
		{"tie is a draw with three slots", prices(2, 2), 3, []string{"0", "0", "1"}},
		{"spread push", prices(105, 100, 5), 3, []string{"0", "0", "1"}},
		{"home covers", prices(110, 100, 5), 3, []string{"1", "0", "0"}},
		{"away covers", prices(102, 100, 5), 3, []string{"0", "1", "0"}},
		{"negative line", prices(98, 100, -3), 3, []string{"1", "0", "0"}},
		{"over", prices(120, 100, 0, 210), 3, []string{"1", "0", "0"}},
		{"under", prices(90, 100, 0, 210), 3, []string{"0", "1", "0"}},
		{"total push", prices(110, 100, 0, 210), 3, []string{"0", "0", "1"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := DecodePayouts(tc.price, tc.slots)
			require.NoError(t, err)
			assert.Equal(t, tc.want, strs(got))
		})
	}
}

func TestCanceledOverridesScores(t *testing.T) {
	price := []*big.Int{new(big.Int).Set(CanceledFlag), big.NewInt(7), big.NewInt(5)}
	got, err := DecodePayouts(price, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "1", "1"}, strs(got))
}

func TestValidatePriceShape(t *testing.T) {
	assert.ErrorIs(t, ValidatePrice(nil), ErrInvalidPrice)
	assert.ErrorIs(t, ValidatePrice(prices(1, 2, 3, 4, 5)), ErrInvalidPrice)
	assert.ErrorIs(t, ValidatePrice([]*big.Int{big.NewInt(1), nil}), ErrInvalidPrice)
	assert.ErrorIs(t, ValidatePrice(prices(-1, 3)), ErrInvalidPrice)
	assert.NoError(t, ValidatePrice(prices(0, 3, -7)))

	_, err := DecodePayouts(prices(1, 0), 4)
	assert.ErrorIs(t, err, ErrSlotCount)
}

func TestKindOf(t *testing.T) {
	for n, want := range map[int]MarketKind{1: Binary, 2: Winner, 3: Spread, 4: Total} {
		k, err := KindOf(make([]*big.Int, n))
		require.NoError(t, err)
		assert.Equal(t, want, k)
	}
	assert.Equal(t, "spread", Spread.String())
}
