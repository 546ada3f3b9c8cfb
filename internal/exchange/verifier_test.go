package exchange

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoPolymarket/ctf-exchange/internal/signer"
)

func TestSignatureVerifierWalletKinds(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	eoa := crypto.PubkeyToAddress(key.PublicKey)
	proxy := common.HexToAddress("0x9999")
	safe := common.HexToAddress("0x5afe")

	v := NewSignatureVerifier(
		WalletDeriverFunc(func(owner common.Address) common.Address {
			if owner == eoa {
				return proxy
			}
			return common.Address{}
		}),
		WalletDeriverFunc(func(owner common.Address) common.Address {
			if owner == eoa {
				return safe
			}
			return common.Address{}
		}),
	)

	digest := crypto.Keccak256Hash([]byte("order"))
	sig, err := crypto.Sign(digest.Bytes(), key)
	require.NoError(t, err)
	sig[64] += 27

	assert.True(t, v.IsValidSignature(eoa, eoa, digest, sig, signer.EOA))
	assert.True(t, v.IsValidSignature(eoa, proxy, digest, sig, signer.PolyProxy))
	assert.True(t, v.IsValidSignature(eoa, safe, digest, sig, signer.PolyGnosisSafe))

	// Wallet kind must match the maker.
	assert.False(t, v.IsValidSignature(eoa, safe, digest, sig, signer.PolyProxy))
	assert.False(t, v.IsValidSignature(eoa, proxy, digest, sig, signer.EOA))
	assert.False(t, v.IsValidSignature(eoa, eoa, digest, sig, signer.SignatureType(7)))

	// Claimed signer must be the recovered key.
	assert.False(t, v.IsValidSignature(proxy, proxy, digest, sig, signer.EOA))
	assert.False(t, v.IsValidSignature(eoa, eoa, crypto.Keccak256Hash([]byte("other")), sig, signer.EOA))
	assert.False(t, v.IsValidSignature(eoa, eoa, digest, sig[:64], signer.EOA))
}

func TestSignatureVerifierWithoutDerivers(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	eoa := crypto.PubkeyToAddress(key.PublicKey)
	digest := crypto.Keccak256Hash([]byte("order"))
	sig, err := crypto.Sign(digest.Bytes(), key)
	require.NoError(t, err)

	v := NewSignatureVerifier(nil, nil)
	assert.True(t, v.IsValidSignature(eoa, eoa, digest, sig, signer.EOA))
	assert.False(t, v.IsValidSignature(eoa, eoa, digest, sig, signer.PolyProxy))
}
