package service

import (
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/time/rate"

	"github.com/GoPolymarket/ctf-exchange/internal/config"
	"github.com/GoPolymarket/ctf-exchange/internal/model"
)

// AccountManager maps API keys to the on-chain account each key acts as and
// owns the per-key rate limiters.
type AccountManager struct {
	mu             sync.RWMutex
	accounts       map[string]*model.Account // Key: API key
	limiters       map[string]*rate.Limiter  // Key: account name
	defaultAccount *model.Account
}

func NewAccountManager(cfg *config.Config) *AccountManager {
	am := &AccountManager{
		accounts: make(map[string]*model.Account),
		limiters: make(map[string]*rate.Limiter),
	}
	limits := model.RateLimitConfig{QPS: cfg.Server.RateLimit, Burst: cfg.Server.RateBurst}

	for _, a := range cfg.Accounts {
		name := a.Name
		if name == "" {
			name = a.Address
		}
		am.Register(&model.Account{
			Name:    name,
			APIKey:  a.APIKey,
			Address: common.HexToAddress(a.Address),
			Rate:    limits,
		})
	}

	// Keyless mode acts as the deployer, which holds every role at startup.
	if !cfg.Auth.RequireAPIKey {
		def := &model.Account{
			Name:    "deployer",
			Address: common.HexToAddress(cfg.Chain.Deployer),
			Rate:    limits,
		}
		am.mu.Lock()
		am.defaultAccount = def
		am.limiters[def.Name] = newLimiter(def.Rate)
		am.mu.Unlock()
	}
	return am
}

func newLimiter(cfg model.RateLimitConfig) *rate.Limiter {
	limit := rate.Limit(cfg.QPS)
	if limit == 0 {
		limit = rate.Inf
	}
	burst := cfg.Burst
	if burst == 0 {
		burst = 1
	}
	return rate.NewLimiter(limit, burst)
}

func (am *AccountManager) Register(a *model.Account) {
	if a == nil {
		return
	}
	am.mu.Lock()
	defer am.mu.Unlock()
	am.accounts[a.APIKey] = a
	am.limiters[a.Name] = newLimiter(a.Rate)
}

func (am *AccountManager) ByAPIKey(apiKey string) (*model.Account, bool) {
	am.mu.RLock()
	defer am.mu.RUnlock()
	a, ok := am.accounts[apiKey]
	return a, ok
}

// Default is the account used for keyless requests, or nil when keys are
// required.
func (am *AccountManager) Default() *model.Account {
	am.mu.RLock()
	defer am.mu.RUnlock()
	return am.defaultAccount
}

func (am *AccountManager) Limiter(name string) *rate.Limiter {
	am.mu.RLock()
	defer am.mu.RUnlock()
	return am.limiters[name]
}

// List returns the keyed accounts ordered by name.
func (am *AccountManager) List() []*model.Account {
	am.mu.RLock()
	defer am.mu.RUnlock()
	out := make([]*model.Account, 0, len(am.accounts))
	for _, a := range am.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
