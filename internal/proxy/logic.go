package proxy

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/GoPolymarket/ctf-exchange/internal/codestore"
	"github.com/GoPolymarket/ctf-exchange/internal/pkg/apperrors"
)

var (
	ErrUnknownSelector    = apperrors.Sentinel(apperrors.ErrInvalidRequest, "unknown wallet function")
	ErrAlreadyInitialized = apperrors.Sentinel(apperrors.ErrState, "wallet is initialized to its deployment owner")
	ErrNotDelegated       = apperrors.Sentinel(apperrors.ErrState, "wallet logic must run through a proxy")
)

const walletABIJSON = `[
	{"type":"function","name":"initialize","inputs":[{"name":"owner","type":"address"}],"outputs":[]},
	{"type":"function","name":"owner","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"version","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"setApprovalForAll","inputs":[{"name":"operator","type":"address"},{"name":"approved","type":"bool"}],"outputs":[]},
	{"type":"function","name":"transfer","inputs":[{"name":"to","type":"address"},{"name":"id","type":"uint256"},{"name":"amount","type":"uint256"}],"outputs":[]}
]`

// WalletABI is the interface of the logic wallets delegate to.
var WalletABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(walletABIJSON))
	if err != nil {
		panic(err)
	}
	return parsed
}()

// ownerSlot holds the wallet owner inside each proxy's storage. The factory
// seeds it from the immutable owner at deployment, so logic can never be
// pointed at anyone else.
var ownerSlot = crypto.Keccak256Hash([]byte("ctfx.proxy.wallet.owner"))

// TokenLedger is the position ledger wallet logic moves tokens on.
type TokenLedger interface {
	SetApprovalForAll(owner, operator common.Address, approved bool)
	Transfer(ctx context.Context, spender, from, to common.Address, id, amount *big.Int) error
}

// WalletLogic is the implementation a beacon points wallets at. It holds no
// state of its own; everything it touches lives in the calling proxy.
type WalletLogic struct {
	ledger  TokenLedger
	version *big.Int
}

func NewWalletLogic(ledger TokenLedger, version uint64) *WalletLogic {
	return &WalletLogic{ledger: ledger, version: new(big.Int).SetUint64(version)}
}

func (l *WalletLogic) Invoke(ctx context.Context, _ *codestore.Store, f codestore.Frame) ([]byte, error) {
	if !f.Delegated {
		return nil, ErrNotDelegated
	}
	sel := f.Selector()
	method, err := WalletABI.MethodById(sel[:])
	if err != nil {
		return nil, fmt.Errorf("selector %x: %w", sel, ErrUnknownSelector)
	}
	args, err := method.Inputs.Unpack(f.Args())
	if err != nil {
		return nil, apperrors.NewInvalidRequest(fmt.Sprintf("%s: %v", method.Name, err))
	}

	owner := common.BytesToAddress(f.Storage.Get(ownerSlot).Bytes())
	switch method.Name {
	case "initialize":
		// Only the seeded owner may be confirmed.
		if args[0].(common.Address) != owner {
			return nil, ErrAlreadyInitialized
		}
		return nil, nil
	case "owner":
		return method.Outputs.Pack(owner)
	case "version":
		return method.Outputs.Pack(l.version)
	}

	if owner == (common.Address{}) || f.Caller != owner {
		return nil, fmt.Errorf("%s from %s: %w", method.Name, f.Caller.Hex(), ErrNotWalletOwner)
	}
	switch method.Name {
	case "setApprovalForAll":
		l.ledger.SetApprovalForAll(f.Self, args[0].(common.Address), args[1].(bool))
		return nil, nil
	case "transfer":
		to, id, amount := args[0].(common.Address), args[1].(*big.Int), args[2].(*big.Int)
		return nil, l.ledger.Transfer(ctx, f.Self, f.Self, to, id, amount)
	}
	return nil, ErrUnknownSelector
}

// EncodeInitialize builds the init data CreateProxy passes to a new wallet.
func EncodeInitialize(owner common.Address) []byte {
	return mustPack("initialize", owner)
}

func EncodeSetApprovalForAll(operator common.Address, approved bool) []byte {
	return mustPack("setApprovalForAll", operator, approved)
}

func EncodeTransfer(to common.Address, id, amount *big.Int) []byte {
	return mustPack("transfer", to, id, amount)
}

func mustPack(name string, args ...interface{}) []byte {
	data, err := WalletABI.Pack(name, args...)
	if err != nil {
		panic(fmt.Sprintf("pack %s: %v", name, err))
	}
	return data
}
