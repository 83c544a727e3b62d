package pool

import (
	"context"
	"fmt"
)

// Contribute burns amount from user into the current round. The excess above
// the round's cap is split: FundSharePercent of it goes to the fund address,
// the rest stays in the pool for good.
func (p *Pool) Contribute(ctx context.Context, user Address, amount Amount) (Contributed, error) {
	if user == "" {
		return Contributed{}, ErrInvalidAddress
	}
	if amount.IsZero() {
		return Contributed{}, fmt.Errorf("%w: contribution must be positive", ErrInvalidAmount)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	height, err := p.clock.CurrentHeight(ctx)
	if err != nil {
		return Contributed{}, fmt.Errorf("read height: %w", err)
	}
	r := p.RoundIndexAt(height)
	if r >= p.cfg.RoundCount {
		return Contributed{}, ErrPoolEnded
	}

	var out Contributed
	err = p.backend.Atomic(ctx, func(tx Tx) error {
		if err := tx.Transfer(ctx, user, p.cfg.PoolAddress, amount); err != nil {
			return transferErr("burn", err)
		}

		round, err := tx.LoadRound(ctx, r)
		if err != nil {
			return fmt.Errorf("load round %d: %w", r, err)
		}
		if round == nil {
			schedule, err := tx.CapSchedule(ctx)
			if err != nil {
				return fmt.Errorf("load cap schedule: %w", err)
			}
			round = &Round{Index: r, RefundCap: capAt(schedule, r)}
		}

		before := round.TotalContributed
		var after Amount
		after.Add(&before, &amount)
		if after.Lt(&before) {
			return fmt.Errorf("%w: round %d total overflows", ErrInvalidAmount, r)
		}

		excess := Excess(before, after, round.RefundCap)
		share, err := FundShare(excess, p.cfg.FundSharePercent)
		if err != nil {
			return fmt.Errorf("fund share for round %d: %w", r, err)
		}
		if !share.IsZero() {
			if err := tx.Transfer(ctx, p.cfg.PoolAddress, p.cfg.FundAddress, share); err != nil {
				return transferErr("fund share", err)
			}
		}

		prev, err := tx.Contribution(ctx, r, user)
		if err != nil {
			return fmt.Errorf("load contribution: %w", err)
		}
		var total Amount
		total.Add(&prev, &amount)
		if err := tx.SaveContribution(ctx, r, user, total); err != nil {
			return fmt.Errorf("save contribution: %w", err)
		}
		round.TotalContributed = after
		if err := tx.SaveRound(ctx, round); err != nil {
			return fmt.Errorf("save round %d: %w", r, err)
		}

		out = Contributed{
			User:       user,
			Amount:     amount,
			CapAtTime:  round.RefundCap,
			RoundIndex: r,
			Height:     height,
			FundShare:  share,
		}
		if _, err := tx.AppendEvent(ctx, out.Event()); err != nil {
			return fmt.Errorf("append event: %w", err)
		}
		return nil
	})
	if err != nil {
		return Contributed{}, err
	}

	p.log.Printf("contribution: user=%s amount=%s round=%d cap=%s fund=%s",
		user, FormatAmount(amount), r, FormatAmount(out.CapAtTime), FormatAmount(out.FundShare))
	p.emit(out.Event())
	return out, nil
}
