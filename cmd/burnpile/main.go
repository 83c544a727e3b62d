// Package main provides the entry point for the burn pile.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"burn-pile/internal/chain"
	"burn-pile/internal/config"
	"burn-pile/internal/logger"
	"burn-pile/internal/pool"
	"burn-pile/internal/store/memory"

	dbpkg "burn-pile/internal/db"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// minter is implemented by both backends; the built-in token ledger lets a
// local pool run without an external token.
type minter interface {
	pool.Backend
	Mint(ctx context.Context, to pool.Address, amount pool.Amount) error
}

type app struct {
	cfg     config.Config
	log     *logger.Logger
	backend minter
	pool    *pool.Pool
}

func main() {
	// Try to load .env from CWD if present; otherwise use environment as-is
	if _, statErr := os.Stat(".env"); statErr == nil {
		_ = godotenv.Load(".env")
	}

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "burnpile",
		Short:         "Round-based burn pile with capped, deferred refunds",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(
		newMonitorCmd(),
		newContributeCmd(),
		newClaimCmd(),
		newSetCapCmd(),
		newStatusCmd(),
		newMintCmd(),
		newSimulateCmd(),
	)
	return root
}

// setup loads configuration and wires the backend, clock and pool. logTo
// overrides where debug logs go.
func setup(ctx context.Context, logTo io.Writer, listeners ...func(pool.Event)) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if logTo == nil {
		logTo = os.Stderr
	}
	log := logger.NewWithWriter(cfg.Debug, logTo)
	log.Printf("Config loaded: %s", cfg.DebugString())

	a := &app{cfg: cfg, log: log}

	gormDB, err := dbpkg.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}
	if gormDB != nil {
		log.Printf("DB connected")
		if err := dbpkg.AutoMigrate(gormDB); err != nil {
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		log.Printf("Migrations applied")
		a.backend = dbpkg.NewBackend(gormDB)
	} else {
		log.Printf("DATABASE_URL not provided – state lives in memory only")
		a.backend = memory.NewBackend(nil)
	}

	var clock pool.Clock
	if cfg.FixedHeight > 0 {
		clock = chain.NewManualClock(cfg.FixedHeight)
	} else {
		rc, err := chain.NewRPCClock(cfg.RPCURL, cfg.WSURL())
		if err != nil {
			return nil, err
		}
		clock = rc
	}

	pcfg, err := poolConfig(cfg.Pool)
	if err != nil {
		return nil, err
	}
	opts := []pool.Option{pool.WithLogger(log)}
	for _, fn := range listeners {
		opts = append(opts, pool.WithListener(fn))
	}
	a.pool, err = pool.New(ctx, pcfg, a.backend, clock, opts...)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func poolConfig(p config.Pool) (pool.Config, error) {
	limit, err := pool.ParseAmount(p.RefundCap)
	if err != nil {
		return pool.Config{}, fmt.Errorf("refund cap: %w", err)
	}
	return pool.Config{
		RoundLength:      p.RoundLength,
		RoundCount:       p.RoundCount,
		StartHeight:      p.StartHeight,
		RefundCap:        limit,
		FundSharePercent: p.FundPercent,
		FundAddress:      pool.Address(p.FundAddress),
		PoolAddress:      pool.Address(p.Address),
		Owner:            pool.Address(p.Owner),
	}, nil
}
