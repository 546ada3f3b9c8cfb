package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Chain    ChainConfig    `mapstructure:"chain"`
	Exchange ExchangeConfig `mapstructure:"exchange"`
	Beacon   BeaconConfig   `mapstructure:"beacon"`
	Oracle   OracleConfig   `mapstructure:"oracle"`
	Accounts []AccountKey   `mapstructure:"accounts"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
	// Requests per second allowed per API key; zero disables limiting.
	RateLimit float64 `mapstructure:"rate_limit"`
	RateBurst int     `mapstructure:"rate_burst"`
	// ReadOnly rejects every mutating request except the emergency pause.
	ReadOnly       bool   `mapstructure:"read_only"`
	IdempotencyTTL int    `mapstructure:"idempotency_ttl_seconds"`
	AuditLogDir    string `mapstructure:"audit_log_dir"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type AuthConfig struct {
	RequireAPIKey bool `mapstructure:"require_api_key"`
}

// AccountKey binds an API key to the account it acts as.
type AccountKey struct {
	Name    string `mapstructure:"name"`
	APIKey  string `mapstructure:"api_key"`
	Address string `mapstructure:"address"`
}

type DatabaseConfig struct {
	DSN                string `mapstructure:"dsn"`
	EventRetentionDays int    `mapstructure:"event_retention_days"`
}

type RedisConfig struct {
	Addr         string `mapstructure:"addr"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	EventListKey string `mapstructure:"event_list_key"`
	EventListMax int    `mapstructure:"event_list_max"`
}

type ChainConfig struct {
	ChainID int64 `mapstructure:"chain_id"`
	// Collateral token address; position ids are derived from it.
	Collateral string `mapstructure:"collateral"`
	// Deployer is seeded as the sole admin and operator.
	Deployer string `mapstructure:"deployer"`
}

type ExchangeConfig struct {
	Address           string `mapstructure:"address"`
	FeeRateCeilingBps int64  `mapstructure:"fee_rate_ceiling_bps"`
	SafeFactory       string `mapstructure:"safe_factory"`
	SafeInitCodeHash  string `mapstructure:"safe_init_code_hash"`
}

type BeaconConfig struct {
	Address               string `mapstructure:"address"`
	FactoryAddress        string `mapstructure:"factory_address"`
	ImplementationAddress string `mapstructure:"implementation_address"`
}

type OracleConfig struct {
	Address         string   `mapstructure:"address"`
	MinBond         int64    `mapstructure:"min_bond"`
	MinLivenessSecs int      `mapstructure:"min_liveness_seconds"`
	MaxLivenessSecs int      `mapstructure:"max_liveness_seconds"`
	Proposers       []string `mapstructure:"proposers"`
}

func (o OracleConfig) MinLiveness() time.Duration {
	return time.Duration(o.MinLivenessSecs) * time.Second
}

func (o OracleConfig) MaxLiveness() time.Duration {
	return time.Duration(o.MaxLivenessSecs) * time.Second
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")

	// e.g. CTFX_REDIS_ADDR
	v.SetEnvPrefix("ctfx")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("No config file found, using defaults and env vars")
		} else {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.rate_limit", 20.0)
	v.SetDefault("server.rate_burst", 40)
	v.SetDefault("server.read_only", false)
	v.SetDefault("server.idempotency_ttl_seconds", 86400)
	v.SetDefault("server.audit_log_dir", "logs")
	v.SetDefault("log.level", "info")
	v.SetDefault("auth.require_api_key", true)
	v.SetDefault("redis.event_list_key", "ctfx_events")
	v.SetDefault("redis.event_list_max", 10000)
	v.SetDefault("database.event_retention_days", 30)

	v.SetDefault("chain.chain_id", 137)
	v.SetDefault("chain.collateral", "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174")
	v.SetDefault("chain.deployer", "0x0000000000000000000000000000000000000001")

	v.SetDefault("exchange.address", "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E")
	v.SetDefault("exchange.fee_rate_ceiling_bps", 1000)
	v.SetDefault("exchange.safe_factory", "0xaacFeEa03eb1561C4e67d661e40682Bd20E3541b")
	v.SetDefault("exchange.safe_init_code_hash", "0x2bce2127ff07fb632d16c8347c4ebf501f4841168bed00d9e6ef715ddb6fcecf")

	v.SetDefault("beacon.address", "0x00000000000000000000000000000000000beac0")
	v.SetDefault("beacon.factory_address", "0x0000000000000000000000000000000000000fac")
	v.SetDefault("beacon.implementation_address", "0x0000000000000000000000000000000000001001")

	v.SetDefault("oracle.address", "0x00000000000000000000000000000000000000c0")
	v.SetDefault("oracle.min_bond", 10_000_000)
	v.SetDefault("oracle.min_liveness_seconds", 300)
	v.SetDefault("oracle.max_liveness_seconds", 600)
}

// Validate rejects malformed addresses and inconsistent bounds.
func (c *Config) Validate() error {
	addrs := map[string]string{
		"chain.collateral":              c.Chain.Collateral,
		"chain.deployer":                c.Chain.Deployer,
		"exchange.address":              c.Exchange.Address,
		"exchange.safe_factory":         c.Exchange.SafeFactory,
		"beacon.address":                c.Beacon.Address,
		"beacon.factory_address":        c.Beacon.FactoryAddress,
		"beacon.implementation_address": c.Beacon.ImplementationAddress,
		"oracle.address":                c.Oracle.Address,
	}
	for key, v := range addrs {
		if !common.IsHexAddress(v) {
			return fmt.Errorf("config %s: %q is not an address", key, v)
		}
	}
	for i, a := range c.Accounts {
		if a.APIKey == "" || !common.IsHexAddress(a.Address) {
			return fmt.Errorf("config accounts[%d]: api_key and a valid address are required", i)
		}
	}
	for i, p := range c.Oracle.Proposers {
		if !common.IsHexAddress(p) {
			return fmt.Errorf("config oracle.proposers[%d]: %q is not an address", i, p)
		}
	}
	if c.Oracle.MinLivenessSecs <= 0 || c.Oracle.MaxLivenessSecs < c.Oracle.MinLivenessSecs {
		return fmt.Errorf("config oracle liveness bounds [%d, %d] are invalid", c.Oracle.MinLivenessSecs, c.Oracle.MaxLivenessSecs)
	}
	if c.Exchange.FeeRateCeilingBps < 0 || c.Exchange.FeeRateCeilingBps > 1000 {
		return fmt.Errorf("config exchange.fee_rate_ceiling_bps %d outside [0, 1000]", c.Exchange.FeeRateCeilingBps)
	}
	return nil
}

// AccountsByKey indexes the configured API keys.
func (c *Config) AccountsByKey() map[string]common.Address {
	out := make(map[string]common.Address, len(c.Accounts))
	for _, a := range c.Accounts {
		out[a.APIKey] = common.HexToAddress(a.Address)
	}
	return out
}
