package pool

import (
	"context"
	"fmt"
)

// Snapshot is a read-only picture of the pool at one height.
type Snapshot struct {
	Height      int64
	Round       uint64
	RoundCount  uint64
	RoundLength uint64
	Ended       bool
	// LastClosed is -1 while no round has closed.
	LastClosed  int64
	CurrentCap  Amount
	PoolBalance Amount
	FundBalance Amount
	Rounds      []Round
	Events      []Event
}

// Round returns the state of round index, or nil if nobody contributed in it.
func (p *Pool) Round(ctx context.Context, index uint64) (*Round, error) {
	var r *Round
	err := p.backend.View(ctx, func(tx Tx) error {
		var err error
		r, err = tx.LoadRound(ctx, index)
		return err
	})
	return r, err
}

// Contribution returns what user contributed in round index.
func (p *Pool) Contribution(ctx context.Context, index uint64, user Address) (Amount, error) {
	var c Amount
	err := p.backend.View(ctx, func(tx Tx) error {
		var err error
		c, err = tx.Contribution(ctx, index, user)
		return err
	})
	return c, err
}

func (p *Pool) Account(ctx context.Context, user Address) (Account, error) {
	var a Account
	err := p.backend.View(ctx, func(tx Tx) error {
		acct, err := tx.LoadAccount(ctx, user)
		if err != nil {
			return err
		}
		a = *acct
		return nil
	})
	return a, err
}

func (p *Pool) BalanceOf(ctx context.Context, account Address) (Amount, error) {
	var b Amount
	err := p.backend.View(ctx, func(tx Tx) error {
		var err error
		b, err = tx.BalanceOf(ctx, account)
		return err
	})
	return b, err
}

// Events returns up to limit of the most recent events, newest first.
func (p *Pool) Events(ctx context.Context, limit int) ([]Event, error) {
	var evs []Event
	err := p.backend.View(ctx, func(tx Tx) error {
		var err error
		evs, err = tx.RecentEvents(ctx, limit)
		return err
	})
	return evs, err
}

// Snapshot collects the dashboard view: limit bounds both the rounds and the
// events returned.
func (p *Pool) Snapshot(ctx context.Context, limit int) (Snapshot, error) {
	height, err := p.clock.CurrentHeight(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read height: %w", err)
	}
	s := Snapshot{
		Height:      height,
		Round:       p.RoundIndexAt(height),
		RoundCount:  p.cfg.RoundCount,
		RoundLength: p.cfg.RoundLength,
		Ended:       p.Ended(height),
		LastClosed:  NoClaim,
	}
	if lc, ok := p.LastClosedRound(height); ok {
		s.LastClosed = int64(lc)
	}
	err = p.backend.View(ctx, func(tx Tx) error {
		schedule, err := tx.CapSchedule(ctx)
		if err != nil {
			return err
		}
		if n := len(schedule); n > 0 {
			s.CurrentCap = schedule[n-1].Cap
		}
		if s.PoolBalance, err = tx.BalanceOf(ctx, p.cfg.PoolAddress); err != nil {
			return err
		}
		if s.FundBalance, err = tx.BalanceOf(ctx, p.cfg.FundAddress); err != nil {
			return err
		}
		if s.Rounds, err = tx.RecentRounds(ctx, limit); err != nil {
			return err
		}
		s.Events, err = tx.RecentEvents(ctx, limit)
		return err
	})
	if err != nil {
		return Snapshot{}, fmt.Errorf("snapshot: %w", err)
	}
	return s, nil
}
