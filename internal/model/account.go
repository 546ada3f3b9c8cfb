package model

import "github.com/ethereum/go-ethereum/common"

// RateLimitConfig is the per-key token bucket.
type RateLimitConfig struct {
	QPS   float64 `json:"qps"`
	Burst int     `json:"burst"`
}

// Account is an API caller. Every protocol call it makes acts as Address.
type Account struct {
	Name    string          `json:"name"`
	APIKey  string          `json:"-"`
	Address common.Address  `json:"address"`
	Rate    RateLimitConfig `json:"rate_limit"`
}
