package exchange

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/GoPolymarket/ctf-exchange/internal/signer"
)

// WalletDeriver maps a signing key to the deterministic wallet it controls.
type WalletDeriver interface {
	WalletFor(owner common.Address) common.Address
}

// WalletDeriverFunc adapts a function to WalletDeriver.
type WalletDeriverFunc func(owner common.Address) common.Address

func (fn WalletDeriverFunc) WalletFor(owner common.Address) common.Address { return fn(owner) }

// SignatureVerifier checks that an order digest was signed by the key that
// controls the order's maker.
type SignatureVerifier struct {
	proxies WalletDeriver
	safes   WalletDeriver
}

func NewSignatureVerifier(proxies, safes WalletDeriver) *SignatureVerifier {
	return &SignatureVerifier{proxies: proxies, safes: safes}
}

// IsValidSignature returns true only if sig recovers to signerAddr over digest
// and signerAddr controls maker under sigType. Malformed signatures, unknown
// types and missing wallet derivations all yield false.
func (v *SignatureVerifier) IsValidSignature(signerAddr, maker common.Address, digest common.Hash, sig []byte, sigType signer.SignatureType) bool {
	recovered, err := signer.Recover(digest, sig)
	if err != nil || recovered != signerAddr || signerAddr == (common.Address{}) {
		return false
	}
	switch sigType {
	case signer.EOA:
		return signerAddr == maker
	case signer.PolyProxy:
		return v.proxies != nil && v.proxies.WalletFor(signerAddr) == maker
	case signer.PolyGnosisSafe:
		return v.safes != nil && v.safes.WalletFor(signerAddr) == maker
	default:
		return false
	}
}
