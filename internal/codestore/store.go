// Package codestore is the address-indexed table of deployed logic handles.
// Beacons point at entries in it, proxies resolve through a beacon at call
// time, and delegate calls run a handler against the caller's storage.
package codestore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/GoPolymarket/ctf-exchange/internal/pkg/apperrors"
)

var (
	ErrAlreadyDeployed = apperrors.Sentinel(apperrors.ErrState, "address already has code")
	ErrNoCode          = apperrors.Sentinel(apperrors.ErrNotFound, "no contract at address")
	ErrZeroAddress     = apperrors.Sentinel(apperrors.ErrInvalidRequest, "zero address")
)

// Frame describes a single invocation.
type Frame struct {
	Caller    common.Address // msg.sender
	Self      common.Address // address(this); the proxy during a delegate call
	Code      common.Address // address the executing handler is deployed at
	Input     []byte
	Storage   *Storage
	Delegated bool
}

// Selector returns the first four bytes of the input, or the zero selector.
func (f Frame) Selector() [4]byte {
	var sel [4]byte
	if len(f.Input) >= 4 {
		copy(sel[:], f.Input[:4])
	}
	return sel
}

func (f Frame) Args() []byte {
	if len(f.Input) <= 4 {
		return nil
	}
	return f.Input[4:]
}

type Contract interface {
	Invoke(ctx context.Context, s *Store, f Frame) ([]byte, error)
}

type ContractFunc func(ctx context.Context, s *Store, f Frame) ([]byte, error)

func (fn ContractFunc) Invoke(ctx context.Context, s *Store, f Frame) ([]byte, error) {
	return fn(ctx, s, f)
}

// Selector computes keccak256(signature)[:4].
func Selector(signature string) [4]byte {
	var sel [4]byte
	copy(sel[:], crypto.Keccak256([]byte(signature))[:4])
	return sel
}

type Store struct {
	mu        sync.RWMutex
	contracts map[common.Address]Contract
	storage   map[common.Address]*Storage
}

func New() *Store {
	return &Store{
		contracts: make(map[common.Address]Contract),
		storage:   make(map[common.Address]*Storage),
	}
}

func (s *Store) Deploy(addr common.Address, c Contract) error {
	if addr == (common.Address{}) {
		return ErrZeroAddress
	}
	if c == nil {
		return errors.New("nil contract")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.contracts[addr]; ok {
		return fmt.Errorf("deploy %s: %w", addr.Hex(), ErrAlreadyDeployed)
	}
	s.contracts[addr] = c
	s.storage[addr] = NewStorage()
	return nil
}

func (s *Store) IsContract(addr common.Address) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.contracts[addr]
	return ok
}

func (s *Store) Resolve(addr common.Address) (Contract, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contracts[addr]
	return c, ok
}

// StorageOf returns the storage owned by addr.
func (s *Store) StorageOf(addr common.Address) *Storage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.storage[addr]
}

// Call runs the contract at to with its own storage.
func (s *Store) Call(ctx context.Context, from, to common.Address, input []byte) ([]byte, error) {
	c, ok := s.Resolve(to)
	if !ok {
		return nil, fmt.Errorf("call %s: %w", to.Hex(), ErrNoCode)
	}
	return c.Invoke(ctx, s, Frame{
		Caller:  from,
		Self:    to,
		Code:    to,
		Input:   input,
		Storage: s.StorageOf(to),
	})
}

// DelegateCall runs the code deployed at code in the context of self: msg.sender
// stays the original caller and writes land in self's storage.
func (s *Store) DelegateCall(ctx context.Context, caller, self, code common.Address, storage *Storage, input []byte) ([]byte, error) {
	c, ok := s.Resolve(code)
	if !ok {
		return nil, fmt.Errorf("delegatecall %s: %w", code.Hex(), ErrNoCode)
	}
	if storage == nil {
		storage = s.StorageOf(self)
	}
	return c.Invoke(ctx, s, Frame{
		Caller:    caller,
		Self:      self,
		Code:      code,
		Input:     input,
		Storage:   storage,
		Delegated: true,
	})
}
