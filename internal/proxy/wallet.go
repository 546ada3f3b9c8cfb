package proxy

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/GoPolymarket/ctf-exchange/internal/codestore"
	"github.com/GoPolymarket/ctf-exchange/internal/events"
	"github.com/GoPolymarket/ctf-exchange/internal/pkg/apperrors"
	"github.com/GoPolymarket/ctf-exchange/internal/pkg/clock"
)

var (
	ErrNotWalletOwner = apperrors.Sentinel(apperrors.ErrAccess, "caller is not the wallet owner")
	ErrWalletPaused   = apperrors.Sentinel(apperrors.ErrState, "wallet is paused")
	ErrWalletActive   = apperrors.Sentinel(apperrors.ErrState, "wallet is not paused")
	ErrEmptyBatch     = apperrors.Sentinel(apperrors.ErrInvalidRequest, "empty call batch")
)

// ImplementationSource is the beacon a wallet resolves its logic through.
type ImplementationSource interface {
	Address() common.Address
	Implementation() (common.Address, error)
}

// Call is one outbound call made by a wallet.
type Call struct {
	To   common.Address `json:"to"`
	Data []byte         `json:"data"`
}

// Wallet is a beacon proxy owned by a single key. The owner and beacon are
// fixed at deployment.
type Wallet struct {
	mu      sync.Mutex
	address common.Address
	owner   common.Address
	salt    common.Hash
	beacon  ImplementationSource
	store   *codestore.Store
	storage *codestore.Storage
	clock   clock.Clock
	bus     *events.Bus
	log     *slog.Logger

	paused bool
	nonce  uint64
}

func (w *Wallet) Address() common.Address { return w.address }
func (w *Wallet) Owner() common.Address   { return w.owner }
func (w *Wallet) Salt() common.Hash       { return w.salt }
func (w *Wallet) Beacon() common.Address  { return w.beacon.Address() }

// Storage is the wallet's own slot space; delegated logic writes here.
func (w *Wallet) Storage() *codestore.Storage { return w.storage }

func (w *Wallet) Paused() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.paused
}

func (w *Wallet) Nonce() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.nonce
}

// GetImplementation reads the beacon at call time.
func (w *Wallet) GetImplementation() (common.Address, error) {
	return w.beacon.Implementation()
}

func (w *Wallet) onlyOwner(caller common.Address) error {
	if caller != w.owner {
		return fmt.Errorf("wallet %s: %w", w.address.Hex(), ErrNotWalletOwner)
	}
	return nil
}

func (w *Wallet) active() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.paused {
		return fmt.Errorf("wallet %s: %w", w.address.Hex(), ErrWalletPaused)
	}
	return nil
}

// Execute makes an outbound call from the wallet's address.
func (w *Wallet) Execute(ctx context.Context, caller common.Address, call Call) ([]byte, error) {
	if err := w.onlyOwner(caller); err != nil {
		return nil, err
	}
	if err := w.active(); err != nil {
		return nil, err
	}
	out, err := w.store.Call(ctx, w.address, call.To, call.Data)
	if err != nil {
		return nil, fmt.Errorf("execute %s: %w", call.To.Hex(), err)
	}
	w.publish(ctx, events.WalletExecuted, map[string]any{"to": call.To.Hex(), "calls": 1})
	return out, nil
}

// ExecuteBatch runs calls in order and stops at the first failure, reporting
// its index. Calls that already ran are not undone.
func (w *Wallet) ExecuteBatch(ctx context.Context, caller common.Address, calls []Call) ([][]byte, error) {
	if err := w.onlyOwner(caller); err != nil {
		return nil, err
	}
	if len(calls) == 0 {
		return nil, ErrEmptyBatch
	}
	if err := w.active(); err != nil {
		return nil, err
	}
	results := make([][]byte, 0, len(calls))
	for i, c := range calls {
		out, err := w.store.Call(ctx, w.address, c.To, c.Data)
		if err != nil {
			return results, fmt.Errorf("batch call %d to %s: %w", i, c.To.Hex(), err)
		}
		results = append(results, out)
	}
	w.publish(ctx, events.WalletExecuted, map[string]any{"calls": len(calls)})
	return results, nil
}

func (w *Wallet) Pause(ctx context.Context, caller common.Address) error {
	return w.setPaused(ctx, caller, true)
}

func (w *Wallet) Unpause(ctx context.Context, caller common.Address) error {
	return w.setPaused(ctx, caller, false)
}

func (w *Wallet) setPaused(ctx context.Context, caller common.Address, paused bool) error {
	if err := w.onlyOwner(caller); err != nil {
		return err
	}
	w.mu.Lock()
	if w.paused == paused {
		w.mu.Unlock()
		if paused {
			return ErrWalletPaused
		}
		return ErrWalletActive
	}
	w.paused = paused
	w.mu.Unlock()

	t := events.WalletUnpaused
	if paused {
		t = events.WalletPaused
	}
	w.publish(ctx, t, map[string]any{})
	return nil
}

// IncrementNonce bumps the meta-transaction replay counter.
func (w *Wallet) IncrementNonce(_ context.Context, caller common.Address) (uint64, error) {
	if err := w.onlyOwner(caller); err != nil {
		return 0, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.nonce++
	return w.nonce, nil
}

// Fallback delegates input to the beacon's current implementation, running
// against the wallet's storage with caller preserved.
func (w *Wallet) Fallback(ctx context.Context, caller common.Address, input []byte) ([]byte, error) {
	if err := w.active(); err != nil {
		return nil, err
	}
	impl, err := w.beacon.Implementation()
	if err != nil {
		return nil, err
	}
	return w.store.DelegateCall(ctx, caller, w.address, impl, w.storage, input)
}

// Invoke lets the code store route calls addressed to the wallet.
func (w *Wallet) Invoke(ctx context.Context, _ *codestore.Store, f codestore.Frame) ([]byte, error) {
	return w.Fallback(ctx, f.Caller, f.Input)
}

func (w *Wallet) publish(ctx context.Context, t events.Type, payload map[string]any) {
	payload["wallet"] = w.address.Hex()
	payload["owner"] = w.owner.Hex()
	if err := w.bus.Publish(ctx, events.New(t, "proxy", w.clock.Now(), payload)); err != nil {
		w.log.Warn("event publish failed", "type", t, "error", err)
	}
}
