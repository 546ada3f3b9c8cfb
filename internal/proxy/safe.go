package proxy

import (
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Polygon mainnet safe factory and the init code hash of its proxies.
const (
	PolygonSafeFactory = "0xaacFeEa03eb1561C4e67d661e40682Bd20E3541b"
	SafeInitCodeHash   = "0x2bce2127ff07fb632d16c8347c4ebf501f4841168bed00d9e6ef715ddb6fcecf"
)

var addressArgs = func() abi.Arguments {
	t, err := abi.NewType("address", "", nil)
	if err != nil {
		panic(err)
	}
	return abi.Arguments{{Type: t}}
}()

// SafeDeriver computes the single-owner safe a signing key controls.
type SafeDeriver struct {
	Factory      common.Address
	InitCodeHash common.Hash
}

func NewSafeDeriver(factory common.Address, initCodeHash common.Hash) *SafeDeriver {
	return &SafeDeriver{Factory: factory, InitCodeHash: initCodeHash}
}

// PolygonSafes derives addresses the way the deployed Polygon safe factory does.
func PolygonSafes() *SafeDeriver {
	return NewSafeDeriver(common.HexToAddress(PolygonSafeFactory), common.HexToHash(SafeInitCodeHash))
}

// WalletFor returns CREATE2(factory, keccak256(abi.encode(owner)), initCodeHash).
func (d *SafeDeriver) WalletFor(owner common.Address) common.Address {
	packed, err := addressArgs.Pack(owner)
	if err != nil {
		return common.Address{}
	}
	return crypto.CreateAddress2(d.Factory, crypto.Keccak256Hash(packed), d.InitCodeHash.Bytes())
}
