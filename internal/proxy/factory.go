// Package proxy deploys beacon proxy wallets at deterministic addresses and
// derives the wallet addresses the exchange accepts signatures for.
package proxy

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/GoPolymarket/ctf-exchange/internal/codestore"
	"github.com/GoPolymarket/ctf-exchange/internal/events"
	"github.com/GoPolymarket/ctf-exchange/internal/pkg/apperrors"
	"github.com/GoPolymarket/ctf-exchange/internal/pkg/clock"
	"github.com/GoPolymarket/ctf-exchange/internal/pkg/logger"
	"github.com/GoPolymarket/ctf-exchange/internal/pkg/metrics"
)

var (
	ErrProxyExists = apperrors.Sentinel(apperrors.ErrState, "proxy already exists")
	ErrZeroOwner   = apperrors.Sentinel(apperrors.ErrValidation, "owner is the zero address")
)

// WalletCode stands in for the proxy creation code; its hash, together with
// the beacon, fixes every wallet address.
var WalletCode = []byte("ctfx/BeaconProxyWallet/v1")

type Options struct {
	Address common.Address
	Clock   clock.Clock
	Bus     *events.Bus
	Logger  *slog.Logger
}

type Factory struct {
	mu       sync.Mutex
	address  common.Address
	beacon   ImplementationSource
	store    *codestore.Store
	initHash common.Hash
	wallets  map[common.Address]*Wallet

	clock clock.Clock
	bus   *events.Bus
	log   *slog.Logger
}

func NewFactory(opts Options, beacon ImplementationSource, store *codestore.Store) *Factory {
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	return &Factory{
		address:  opts.Address,
		beacon:   beacon,
		store:    store,
		initHash: crypto.Keccak256Hash(WalletCode, common.LeftPadBytes(beacon.Address().Bytes(), 32)),
		wallets:  make(map[common.Address]*Wallet),
		clock:    opts.Clock,
		bus:      opts.Bus,
		log:      opts.Logger,
	}
}

func (f *Factory) Address() common.Address { return f.address }

// InitCodeHash is keccak256(walletCode ‖ beacon).
func (f *Factory) InitCodeHash() common.Hash { return f.initHash }

// PredictProxyAddress returns the address CreateProxy(owner, salt) deploys
// to, whether or not it exists yet.
func (f *Factory) PredictProxyAddress(owner common.Address, salt common.Hash) common.Address {
	return crypto.CreateAddress2(f.address, crypto.Keccak256Hash(owner.Bytes(), salt.Bytes()), f.initHash.Bytes())
}

// CanonicalSalt is the salt MaybeCreateProxy uses for owner.
func CanonicalSalt(owner common.Address) common.Hash {
	return crypto.Keccak256Hash(owner.Bytes())
}

// WalletFor is the canonical wallet of owner; the exchange checks proxy
// signatures against it.
func (f *Factory) WalletFor(owner common.Address) common.Address {
	return f.PredictProxyAddress(owner, CanonicalSalt(owner))
}

// CreateProxy deploys the wallet for (owner, salt). The owner is written to
// the wallet's storage first; initData, when present, is then delegated to the
// current implementation before the wallet goes live. A failing initializer,
// including one naming a different owner, leaves nothing deployed.
func (f *Factory) CreateProxy(ctx context.Context, owner common.Address, salt common.Hash, initData []byte) (*Wallet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deploy(ctx, owner, salt, initData)
}

// MaybeCreateProxy returns owner's canonical wallet, deploying it first if
// needed. created reports whether this call deployed it.
func (f *Factory) MaybeCreateProxy(ctx context.Context, owner common.Address, initData []byte) (w *Wallet, created bool, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if w, ok := f.wallets[f.WalletFor(owner)]; ok {
		return w, false, nil
	}
	w, err = f.deploy(ctx, owner, CanonicalSalt(owner), initData)
	if err != nil {
		return nil, false, err
	}
	return w, true, nil
}

func (f *Factory) deploy(ctx context.Context, owner common.Address, salt common.Hash, initData []byte) (*Wallet, error) {
	if owner == (common.Address{}) {
		return nil, ErrZeroOwner
	}
	addr := f.PredictProxyAddress(owner, salt)
	if _, ok := f.wallets[addr]; ok || f.store.IsContract(addr) {
		return nil, fmt.Errorf("proxy %s: %w", addr.Hex(), ErrProxyExists)
	}
	w := &Wallet{
		address: addr,
		owner:   owner,
		salt:    salt,
		beacon:  f.beacon,
		store:   f.store,
		storage: codestore.NewStorage(),
		clock:   f.clock,
		bus:     f.bus,
		log:     f.log.With("wallet", addr.Hex()),
	}
	w.storage.Set(ownerSlot, common.BytesToHash(owner.Bytes()))
	if len(initData) > 0 {
		if _, err := w.Fallback(ctx, owner, initData); err != nil {
			return nil, fmt.Errorf("initialize proxy %s: %w", addr.Hex(), err)
		}
	}
	if err := f.store.Deploy(addr, w); err != nil {
		return nil, err
	}
	f.wallets[addr] = w

	metrics.ProxiesCreated.Inc()
	f.log.Info("proxy created", "proxy", addr.Hex(), "owner", owner.Hex(), "salt", salt.Hex())
	err := f.bus.Publish(ctx, events.New(events.ProxyCreated, "proxy", f.clock.Now(), map[string]any{
		"proxy":  addr.Hex(),
		"owner":  owner.Hex(),
		"salt":   salt.Hex(),
		"beacon": f.beacon.Address().Hex(),
	}))
	if err != nil {
		f.log.Warn("event publish failed", "type", events.ProxyCreated, "error", err)
	}
	return w, nil
}

func (f *Factory) GetProxy(addr common.Address) (*Wallet, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.wallets[addr]
	return w, ok
}

// Proxies lists deployed wallet addresses in ascending order.
func (f *Factory) Proxies() []common.Address {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]common.Address, 0, len(f.wallets))
	for a := range f.wallets {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out
}
