package signer

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var exchangeAddr = common.HexToAddress("0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E")

func newTestSigner(t testing.TB) *Signer {
	key, _ := crypto.GenerateKey()
	keyHex := hexutil.Encode(crypto.FromECDSA(key))

	s, err := NewSigner(keyHex, NewDomain(137, exchangeAddr))
	require.NoError(t, err)
	return s
}

func sampleOrder(maker common.Address) *Order {
	return &Order{
		Salt:          big.NewInt(123),
		Maker:         maker,
		Signer:        maker,
		Taker:         common.Address{},
		TokenID:       big.NewInt(999),
		MakerAmount:   big.NewInt(1000000),
		TakerAmount:   big.NewInt(500000),
		Expiration:    big.NewInt(1800000000),
		Nonce:         big.NewInt(1),
		FeeRateBps:    big.NewInt(0),
		Side:          Buy,
		SignatureType: EOA,
	}
}

func TestSigner_SignOrder(t *testing.T) {
	s := newTestSigner(t)
	order := sampleOrder(s.Address())

	sig, err := s.SignOrder(order)
	assert.NoError(t, err)
	assert.Len(t, sig, 65)
	assert.Contains(t, []byte{27, 28}, sig[64])
	assert.Equal(t, sig, order.Signature)
}

func TestNewSignerRejectsBadKey(t *testing.T) {
	_, err := NewSigner("", NewDomain(137, exchangeAddr))
	assert.Error(t, err)
	_, err = NewSigner("zz", NewDomain(137, exchangeAddr))
	assert.Error(t, err)
}

func BenchmarkSignOrder(b *testing.B) {
	s := newTestSigner(b)
	order := sampleOrder(s.Address())

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = s.SignOrder(order)
	}
}
