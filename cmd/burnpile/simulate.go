package main

import (
	"context"
	"fmt"
	"io"

	"burn-pile/internal/chain"
	"burn-pile/internal/logger"
	"burn-pile/internal/pool"
	"burn-pile/internal/store/memory"

	"github.com/spf13/cobra"
)

type simParams struct {
	RoundLength uint64
	RefundCap   uint64
	FundPercent uint64
}

func newSimulateCmd() *cobra.Command {
	p := simParams{RoundLength: 100, RefundCap: 10, FundPercent: 50}
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a scripted burn on an in-memory pool and print the outcome",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSimulation(cmd.Context(), cmd.OutOrStdout(), p)
		},
	}
	cmd.Flags().Uint64Var(&p.RoundLength, "round-length", p.RoundLength, "blocks per round")
	cmd.Flags().Uint64Var(&p.RefundCap, "cap", p.RefundCap, "refund cap per round")
	cmd.Flags().Uint64Var(&p.FundPercent, "fund-percent", p.FundPercent, "share of the excess sent to the fund")
	return cmd
}

// runSimulation plays three rounds: one under the cap, one over it, and one
// after the owner raises the cap. Every account then claims.
func runSimulation(ctx context.Context, w io.Writer, p simParams) error {
	const (
		fund  = pool.Address("fund")
		owner = pool.Address("owner")
		addr  = pool.Address("burnpile")
	)
	users := []pool.Address{"alice", "bob", "carol"}

	backend := memory.NewBackend(nil)
	clock := chain.NewManualClock(1)
	cfg := pool.Config{
		RoundLength:      p.RoundLength,
		RoundCount:       3,
		StartHeight:      1,
		RefundCap:        pool.Units(p.RefundCap),
		FundSharePercent: p.FundPercent,
		FundAddress:      fund,
		PoolAddress:      addr,
		Owner:            owner,
	}
	pl, err := pool.New(ctx, cfg, backend, clock,
		pool.WithLogger(logger.NewWithWriter(false, io.Discard)),
		pool.WithListener(func(ev pool.Event) {
			fmt.Fprintf(w, "#%d %-11s round=%d user=%s amount=%s cap=%s\n",
				ev.Seq, ev.Kind, ev.Round, ev.User, pool.FormatAmount(ev.Amount), pool.FormatAmount(ev.Cap))
		}),
	)
	if err != nil {
		return err
	}
	for _, u := range users {
		if err := backend.Mint(ctx, u, pool.Units(100)); err != nil {
			return err
		}
	}

	burn := func(u pool.Address, n uint64) error {
		_, err := pl.Contribute(ctx, u, pool.Units(n))
		return err
	}
	nextRound := func() { clock.Mine(int64(p.RoundLength)) }

	// Round 0 stays under the cap.
	if err := burn("alice", p.RefundCap/2); err != nil {
		return err
	}
	nextRound()
	// Round 1 overshoots; the excess is split with the fund.
	if err := burn("alice", p.RefundCap); err != nil {
		return err
	}
	if err := burn("bob", p.RefundCap*2); err != nil {
		return err
	}
	if _, err := pl.SetRefundCap(ctx, owner, pool.Units(p.RefundCap*3)); err != nil {
		return err
	}
	nextRound()
	// Round 2 runs under the raised cap.
	if err := burn("carol", p.RefundCap*2); err != nil {
		return err
	}
	nextRound()

	for _, u := range users {
		if _, err := pl.ClaimRefund(ctx, u); err != nil {
			return err
		}
	}

	for _, a := range append(users, fund, addr) {
		bal, err := pl.BalanceOf(ctx, a)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%-8s %s\n", a, pool.FormatAmount(bal))
	}
	return nil
}
