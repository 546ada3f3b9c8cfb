package exchange

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// TokenInfo binds an outcome token to its complement and condition.
type TokenInfo struct {
	Complement  *big.Int    `json:"complement"`
	ConditionID common.Hash `json:"conditionId"`
}

// Registry records tradable outcome tokens. Entries are written in
// complementary pairs and never removed.
type Registry struct {
	mu     sync.RWMutex
	tokens map[string]TokenInfo
}

func NewRegistry() *Registry {
	return &Registry{tokens: make(map[string]TokenInfo)}
}

// Register records token and complement as each other's complement under
// conditionID.
func (r *Registry) Register(token, complement *big.Int, conditionID common.Hash) error {
	if token == nil || complement == nil || token.Sign() == 0 || complement.Sign() == 0 || token.Cmp(complement) == 0 {
		return fmt.Errorf("register %v/%v: %w", token, complement, ErrInvalidTokenID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tokens[token.String()]; ok {
		return fmt.Errorf("token %s: %w", token, ErrAlreadyRegistered)
	}
	if _, ok := r.tokens[complement.String()]; ok {
		return fmt.Errorf("token %s: %w", complement, ErrAlreadyRegistered)
	}
	r.tokens[token.String()] = TokenInfo{Complement: new(big.Int).Set(complement), ConditionID: conditionID}
	r.tokens[complement.String()] = TokenInfo{Complement: new(big.Int).Set(token), ConditionID: conditionID}
	return nil
}

func (r *Registry) lookup(token *big.Int) (TokenInfo, error) {
	if token == nil {
		return TokenInfo{}, ErrInvalidTokenID
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.tokens[token.String()]
	if !ok {
		return TokenInfo{}, fmt.Errorf("token %s: %w", token, ErrInvalidTokenID)
	}
	return info, nil
}

func (r *Registry) Get(token *big.Int) (TokenInfo, error) {
	info, err := r.lookup(token)
	if err != nil {
		return TokenInfo{}, err
	}
	info.Complement = new(big.Int).Set(info.Complement)
	return info, nil
}

func (r *Registry) GetComplement(token *big.Int) (*big.Int, error) {
	info, err := r.lookup(token)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(info.Complement), nil
}

func (r *Registry) GetConditionID(token *big.Int) (common.Hash, error) {
	info, err := r.lookup(token)
	if err != nil {
		return common.Hash{}, err
	}
	return info.ConditionID, nil
}

func (r *Registry) ValidateTokenID(token *big.Int) error {
	_, err := r.lookup(token)
	return err
}

// ValidateComplement fails unless complement is token's registered complement.
func (r *Registry) ValidateComplement(token, complement *big.Int) error {
	info, err := r.lookup(token)
	if err != nil {
		return err
	}
	if complement == nil || info.Complement.Cmp(complement) != 0 {
		return fmt.Errorf("token %s: %w", token, ErrInvalidComplement)
	}
	return nil
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tokens) / 2
}
