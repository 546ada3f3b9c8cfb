package service

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/GoPolymarket/ctf-exchange/internal/auth"
	"github.com/GoPolymarket/ctf-exchange/internal/beacon"
	"github.com/GoPolymarket/ctf-exchange/internal/codestore"
	"github.com/GoPolymarket/ctf-exchange/internal/config"
	"github.com/GoPolymarket/ctf-exchange/internal/ctf"
	"github.com/GoPolymarket/ctf-exchange/internal/events"
	"github.com/GoPolymarket/ctf-exchange/internal/exchange"
	"github.com/GoPolymarket/ctf-exchange/internal/oracle"
	"github.com/GoPolymarket/ctf-exchange/internal/pkg/clock"
	"github.com/GoPolymarket/ctf-exchange/internal/pkg/logger"
	"github.com/GoPolymarket/ctf-exchange/internal/proxy"
)

// Protocol is the full set of deployed components sharing one code store,
// one ledger and one event bus.
type Protocol struct {
	Deployer common.Address
	Store    *codestore.Store
	Ledger   *ctf.Ledger
	Exchange *exchange.Exchange
	Beacon   *beacon.Beacon
	Factory  *proxy.Factory
	Safes    *proxy.SafeDeriver
	Resolver *oracle.Resolver
	Bus      *events.Bus
}

// NewProtocol deploys every component from cfg. The deployer is seeded as
// admin and operator of the exchange, admin of the resolver and owner of the
// beacon.
func NewProtocol(ctx context.Context, cfg *config.Config, clk clock.Clock, bus *events.Bus) (*Protocol, error) {
	if clk == nil {
		clk = clock.Real{}
	}
	deployer := common.HexToAddress(cfg.Chain.Deployer)
	store := codestore.New()
	ledger := ctf.NewLedger(common.HexToAddress(cfg.Chain.Collateral), logger.Component("ctf"))

	impl := common.HexToAddress(cfg.Beacon.ImplementationAddress)
	if err := store.Deploy(impl, proxy.NewWalletLogic(ledger, 1)); err != nil {
		return nil, fmt.Errorf("deploy wallet logic: %w", err)
	}
	b, err := beacon.New(beacon.Options{
		Address:        common.HexToAddress(cfg.Beacon.Address),
		Owner:          deployer,
		Implementation: impl,
		Clock:          clk,
		Bus:            bus,
		Logger:         logger.Component("beacon"),
	}, store)
	if err != nil {
		return nil, fmt.Errorf("deploy beacon: %w", err)
	}
	factory := proxy.NewFactory(proxy.Options{
		Address: common.HexToAddress(cfg.Beacon.FactoryAddress),
		Clock:   clk,
		Bus:     bus,
		Logger:  logger.Component("proxy"),
	}, b, store)
	safes := proxy.NewSafeDeriver(
		common.HexToAddress(cfg.Exchange.SafeFactory),
		common.HexToHash(cfg.Exchange.SafeInitCodeHash),
	)

	ex := exchange.New(exchange.Options{
		Address: common.HexToAddress(cfg.Exchange.Address),
		ChainID: cfg.Chain.ChainID,
		Proxies: factory,
		Safes:   safes,
		Clock:   clk,
		Bus:     bus,
		Logger:  logger.Component("exchange"),
	}, ledger, auth.NewTable(deployer))
	if cfg.Exchange.FeeRateCeilingBps != exchange.MaxFeeRateBps {
		if err := ex.SetFeeRateCeiling(ctx, deployer, cfg.Exchange.FeeRateCeilingBps); err != nil {
			return nil, err
		}
	}

	resolver := oracle.NewResolver(oracle.Options{
		Address:     common.HexToAddress(cfg.Oracle.Address),
		MinBond:     big.NewInt(cfg.Oracle.MinBond),
		MinLiveness: cfg.Oracle.MinLiveness(),
		MaxLiveness: cfg.Oracle.MaxLiveness(),
		Clock:       clk,
		Bus:         bus,
		Logger:      logger.Component("oracle"),
	}, ledger, auth.NewTable(deployer))
	for _, p := range cfg.Oracle.Proposers {
		if err := resolver.AddProposer(ctx, deployer, common.HexToAddress(p)); err != nil {
			return nil, fmt.Errorf("proposer %s: %w", p, err)
		}
	}

	return &Protocol{
		Deployer: deployer,
		Store:    store,
		Ledger:   ledger,
		Exchange: ex,
		Beacon:   b,
		Factory:  factory,
		Safes:    safes,
		Resolver: resolver,
		Bus:      bus,
	}, nil
}

// RegisterMarket prepares a binary condition for questionID on the ledger and
// registers its two position tokens with the exchange.
func (p *Protocol) RegisterMarket(ctx context.Context, caller common.Address, questionID common.Hash) (common.Hash, *big.Int, *big.Int, error) {
	cond, err := p.Ledger.PrepareCondition(p.Resolver.Address(), questionID, 2)
	if err != nil && !errors.Is(err, ctf.ErrConditionExists) {
		return common.Hash{}, nil, nil, err
	}
	collateral := p.Ledger.Collateral()
	yes := ctf.PositionIDFor(collateral, cond, 1)
	no := ctf.PositionIDFor(collateral, cond, 2)
	if err := p.Exchange.RegisterToken(ctx, caller, yes, no, cond); err != nil {
		return common.Hash{}, nil, nil, err
	}
	return cond, yes, no, nil
}
