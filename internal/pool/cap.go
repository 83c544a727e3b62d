package pool

import (
	"context"
	"fmt"
)

// SetRefundCap schedules a new refund cap. It applies from the round after the
// current one, so neither the running round nor any earlier round changes.
func (p *Pool) SetRefundCap(ctx context.Context, caller Address, limit Amount) (CapUpdated, error) {
	if p.auth == nil || !p.auth.IsOwner(caller) {
		return CapUpdated{}, ErrNotAuthorized
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	height, err := p.clock.CurrentHeight(ctx)
	if err != nil {
		return CapUpdated{}, fmt.Errorf("read height: %w", err)
	}
	out := CapUpdated{
		Caller:    caller,
		Cap:       limit,
		FromRound: p.RoundIndexAt(height) + 1,
		Height:    height,
	}
	err = p.backend.Atomic(ctx, func(tx Tx) error {
		if err := tx.AppendCapChange(ctx, CapChange{FromRound: out.FromRound, Cap: limit}); err != nil {
			return fmt.Errorf("append cap change: %w", err)
		}
		_, err := tx.AppendEvent(ctx, out.Event())
		return err
	})
	if err != nil {
		return CapUpdated{}, err
	}

	p.log.Printf("refund cap set to %s from round %d", FormatAmount(limit), out.FromRound)
	p.emit(out.Event())
	return out, nil
}

// CurrentCap is the most recently scheduled cap. It applies from that
// change's FromRound on; a round already running keeps the cap scheduled
// before it, touched or not.
func (p *Pool) CurrentCap(ctx context.Context) (Amount, error) {
	var limit Amount
	err := p.backend.View(ctx, func(tx Tx) error {
		schedule, err := tx.CapSchedule(ctx)
		if err != nil {
			return err
		}
		if n := len(schedule); n > 0 {
			limit = schedule[n-1].Cap
		}
		return nil
	})
	return limit, err
}
