package pool

import (
	"context"
	"fmt"
)

// ClaimRefund pays user everything owed for closed rounds not yet claimed. It
// returns nil when nothing is paid; the claim pointer still advances to the
// last closed round.
func (p *Pool) ClaimRefund(ctx context.Context, user Address) (*Refunded, error) {
	if user == "" {
		return nil, ErrInvalidAddress
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	height, err := p.clock.CurrentHeight(ctx)
	if err != nil {
		return nil, fmt.Errorf("read height: %w", err)
	}
	lastClosed, ok := p.LastClosedRound(height)
	if !ok {
		return nil, nil
	}

	var out *Refunded
	err = p.backend.Atomic(ctx, func(tx Tx) error {
		acct, err := tx.LoadAccount(ctx, user)
		if err != nil {
			return fmt.Errorf("load account: %w", err)
		}
		if acct.LastClaimedRound >= int64(lastClosed) {
			return nil
		}

		owed, err := owedBetween(ctx, tx, user, uint64(acct.LastClaimedRound+1), lastClosed)
		if err != nil {
			return err
		}

		acct.LastClaimedRound = int64(lastClosed)
		if err := tx.SaveAccount(ctx, acct); err != nil {
			return fmt.Errorf("save account: %w", err)
		}
		if owed.IsZero() {
			return nil
		}

		if err := tx.Transfer(ctx, p.cfg.PoolAddress, user, owed); err != nil {
			return transferErr("refund", err)
		}
		ev := Refunded{User: user, TotalAmount: owed, Through: lastClosed, Height: height}
		if _, err := tx.AppendEvent(ctx, ev.Event()); err != nil {
			return fmt.Errorf("append event: %w", err)
		}
		out = &ev
		return nil
	})
	if err != nil {
		return nil, err
	}

	if out == nil {
		p.log.Printf("claim: user=%s through round %d, nothing owed", user, lastClosed)
		return nil, nil
	}
	p.log.Printf("refund: user=%s amount=%s through round %d", user, FormatAmount(out.TotalAmount), lastClosed)
	p.emit(out.Event())
	return out, nil
}

// PendingRefund reports what ClaimRefund would pay user right now.
func (p *Pool) PendingRefund(ctx context.Context, user Address) (Amount, error) {
	height, err := p.clock.CurrentHeight(ctx)
	if err != nil {
		return Amount{}, fmt.Errorf("read height: %w", err)
	}
	lastClosed, ok := p.LastClosedRound(height)
	if !ok {
		return Amount{}, nil
	}
	var owed Amount
	err = p.backend.View(ctx, func(tx Tx) error {
		acct, err := tx.LoadAccount(ctx, user)
		if err != nil {
			return fmt.Errorf("load account: %w", err)
		}
		if acct.LastClaimedRound >= int64(lastClosed) {
			return nil
		}
		owed, err = owedBetween(ctx, tx, user, uint64(acct.LastClaimedRound+1), lastClosed)
		return err
	})
	return owed, err
}

func owedBetween(ctx context.Context, tx Tx, user Address, from, to uint64) (Amount, error) {
	rounds, err := tx.RoundsBetween(ctx, from, to)
	if err != nil {
		return Amount{}, fmt.Errorf("load rounds %d..%d: %w", from, to, err)
	}
	contribs, err := tx.ContributionsBetween(ctx, user, from, to)
	if err != nil {
		return Amount{}, fmt.Errorf("load contributions %d..%d: %w", from, to, err)
	}
	var owed Amount
	for _, r := range rounds {
		c, ok := contribs[r.Index]
		if !ok {
			continue
		}
		share, err := RefundFor(c, r.TotalContributed, r.RefundCap)
		if err != nil {
			return Amount{}, fmt.Errorf("refund for round %d: %w", r.Index, err)
		}
		owed.Add(&owed, &share)
	}
	return owed, nil
}
