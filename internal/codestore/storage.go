package codestore

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Storage is a word-addressed key/value space, one per deployed address.
type Storage struct {
	mu    sync.RWMutex
	slots map[common.Hash]common.Hash
}

func NewStorage() *Storage {
	return &Storage{slots: make(map[common.Hash]common.Hash)}
}

func (st *Storage) Get(key common.Hash) common.Hash {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.slots[key]
}

func (st *Storage) Set(key, value common.Hash) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if value == (common.Hash{}) {
		delete(st.slots, key)
		return
	}
	st.slots[key] = value
}

func (st *Storage) GetBig(key common.Hash) *big.Int {
	return st.Get(key).Big()
}

func (st *Storage) SetBig(key common.Hash, v *big.Int) {
	st.Set(key, common.BigToHash(v))
}

// Len is the number of non-zero slots.
func (st *Storage) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.slots)
}
