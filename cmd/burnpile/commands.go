package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"burn-pile/internal/collector"
	"burn-pile/internal/logger"
	"burn-pile/internal/pool"
	"burn-pile/internal/tui"

	"github.com/spf13/cobra"
)

func amountArg(s string) (pool.Amount, error) {
	a, err := pool.ParseAmount(s)
	if err != nil {
		return pool.Amount{}, err
	}
	return a, nil
}

func newContributeCmd() *cobra.Command {
	var from, amount string
	cmd := &cobra.Command{
		Use:   "contribute",
		Short: "Burn tokens into the current round",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := setup(ctx, nil)
			if err != nil {
				return err
			}
			amt, err := amountArg(amount)
			if err != nil {
				return err
			}
			ev, err := a.pool.Contribute(ctx, pool.Address(from), amt)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "contributed %s in round %d (cap %s, fund share %s)\n",
				pool.FormatAmount(ev.Amount), ev.RoundIndex, pool.FormatAmount(ev.CapAtTime), pool.FormatAmount(ev.FundShare))
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "contributing account")
	cmd.Flags().StringVar(&amount, "amount", "", "amount to burn")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func newClaimCmd() *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "claim",
		Short: "Claim refunds for every closed round",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := setup(ctx, nil)
			if err != nil {
				return err
			}
			ev, err := a.pool.ClaimRefund(ctx, pool.Address(user))
			if err != nil {
				return err
			}
			if ev == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "nothing to refund")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "refunded %s through round %d\n", pool.FormatAmount(ev.TotalAmount), ev.Through)
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "claiming account")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newSetCapCmd() *cobra.Command {
	var caller, limit string
	cmd := &cobra.Command{
		Use:   "set-cap",
		Short: "Set the refund cap for rounds after the current one (owner only)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := setup(ctx, nil)
			if err != nil {
				return err
			}
			amt, err := amountArg(limit)
			if err != nil {
				return err
			}
			ev, err := a.pool.SetRefundCap(ctx, pool.Address(caller), amt)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "refund cap %s from round %d\n", pool.FormatAmount(ev.Cap), ev.FromRound)
			return nil
		},
	}
	cmd.Flags().StringVar(&caller, "caller", "", "calling account")
	cmd.Flags().StringVar(&limit, "cap", "", "new refund cap")
	_ = cmd.MarkFlagRequired("caller")
	_ = cmd.MarkFlagRequired("cap")
	return cmd
}

func newMintCmd() *cobra.Command {
	var to, amount string
	cmd := &cobra.Command{
		Use:   "mint",
		Short: "Mint test tokens on the built-in ledger",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := setup(ctx, nil)
			if err != nil {
				return err
			}
			amt, err := amountArg(amount)
			if err != nil {
				return err
			}
			if err := a.backend.Mint(ctx, pool.Address(to), amt); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "minted %s to %s\n", pool.FormatAmount(amt), to)
			return nil
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "receiving account")
	cmd.Flags().StringVar(&amount, "amount", "", "amount to mint")
	_ = cmd.MarkFlagRequired("to")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func newStatusCmd() *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the pool state, optionally for one account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := setup(ctx, nil)
			if err != nil {
				return err
			}
			s, err := a.pool.Snapshot(ctx, 10)
			if err != nil {
				return err
			}
			printSnapshot(cmd.OutOrStdout(), s)
			if user == "" {
				return nil
			}
			acct, err := a.pool.Account(ctx, pool.Address(user))
			if err != nil {
				return err
			}
			owed, err := a.pool.PendingRefund(ctx, pool.Address(user))
			if err != nil {
				return err
			}
			bal, err := a.pool.BalanceOf(ctx, pool.Address(user))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: balance=%s last_claimed=%d pending_refund=%s\n",
				user, pool.FormatAmount(bal), acct.LastClaimedRound, pool.FormatAmount(owed))
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "account to report on")
	return cmd
}

func printSnapshot(w io.Writer, s pool.Snapshot) {
	state := "open"
	if s.Ended {
		state = "ended"
	}
	fmt.Fprintf(w, "height=%d round=%d/%d (%s) last_closed=%d cap=%s pool=%s fund=%s\n",
		s.Height, s.Round, s.RoundCount, state, s.LastClosed,
		pool.FormatAmount(s.CurrentCap), pool.FormatAmount(s.PoolBalance), pool.FormatAmount(s.FundBalance))
	for _, r := range s.Rounds {
		fmt.Fprintf(w, "  round %d: total=%s cap=%s\n",
			r.Index, pool.FormatAmount(r.TotalContributed), pool.FormatAmount(r.RefundCap))
	}
}

func newMonitorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "monitor",
		Short: "Follow the chain and show the pool dashboard",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMonitor(cmd.Context())
		},
	}
}

func runMonitor(parent context.Context) error {
	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Debug logs go to a file so they do not tear the dashboard
	var logWriter io.Writer = io.Discard
	if logFile, err := os.OpenFile("burnpile.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644); err == nil {
		defer logFile.Close()
		logWriter = logFile
	} else {
		fmt.Fprintf(os.Stderr, "Warning: failed to open log file, logs are discarded: %v\n", err)
	}

	tuiUpdateCh := make(chan interface{}, collector.TUIChannelBufferSize)

	a, err := setup(ctx, logWriter)
	if err != nil {
		return err
	}

	coll, err := collector.NewCollector(a.cfg, a.pool, tuiUpdateCh, a.log)
	if err != nil {
		return fmt.Errorf("failed to init collector: %w", err)
	}

	go func() {
		if err := tui.Run(tuiUpdateCh); err != nil {
			a.log.Errorf("TUI error: %v", err)
		}
		// TUI exited, cancel context to trigger shutdown
		cancel()
	}()

	collDone := startCollector(ctx, cancel, coll, a.log)

	<-ctx.Done()
	a.log.Println("shutting down...")

	stopCollector(coll, collDone, tuiUpdateCh, a.log)
	time.Sleep(collector.TUICloseDelay)
	return nil
}

// startCollector runs coll until ctx ends. The returned channel is closed once
// Run has returned and nothing publishes any more.
func startCollector(ctx context.Context, cancel context.CancelFunc, coll *collector.Collector, log *logger.Logger) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := coll.Run(ctx); err != nil {
			log.Errorf("collector stopped: %v", err)
			cancel()
		}
	}()
	return done
}

// stopCollector waits for the collector to return, then closes the update
// channel so the dashboard quits.
func stopCollector(coll *collector.Collector, done <-chan struct{}, updateCh chan interface{}, log *logger.Logger) {
	<-done
	if err := coll.Close(); err != nil {
		log.Errorf("close error: %v", err)
	}
	close(updateCh)
}
