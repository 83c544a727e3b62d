package db

import (
	"context"
	"errors"
	"fmt"

	"burn-pile/internal/models"
	"burn-pile/internal/pool"
	"burn-pile/internal/token"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Backend stores pool state and token balances in postgres. Every unit of work
// is one database transaction holding the pool row lock, so several processes
// sharing a database settle in a single total order.
type Backend struct {
	db *gorm.DB
}

var (
	_ pool.Backend = (*Backend)(nil)
	_ pool.Anchor  = (*Backend)(nil)
)

func NewBackend(db *gorm.DB) *Backend {
	return &Backend{db: db}
}

func (b *Backend) AnchorStart(ctx context.Context, height int64) (int64, error) {
	rec := models.Pool{ID: 1, StartHeight: height}
	err := b.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&rec).Error
	if err != nil {
		return 0, err
	}
	if err := b.db.WithContext(ctx).Take(&rec, 1).Error; err != nil {
		return 0, err
	}
	return rec.StartHeight, nil
}

func (b *Backend) Atomic(ctx context.Context, fn func(pool.Tx) error) error {
	return b.db.WithContext(ctx).Transaction(func(gtx *gorm.DB) error {
		var lock models.Pool
		err := gtx.Clauses(clause.Locking{Strength: "UPDATE"}).Take(&lock, 1).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotAnchored
		}
		if err != nil {
			return fmt.Errorf("lock pool: %w", err)
		}
		return fn(&tx{db: gtx})
	})
}

func (b *Backend) View(ctx context.Context, fn func(pool.Tx) error) error {
	return fn(&tx{db: b.db.WithContext(ctx), readOnly: true})
}

// Mint credits test tokens to an account.
func (b *Backend) Mint(ctx context.Context, to pool.Address, amount pool.Amount) error {
	return b.db.WithContext(ctx).Transaction(func(gtx *gorm.DB) error {
		t := &tx{db: gtx}
		bal, err := t.lockedBalance(string(to))
		if err != nil {
			return err
		}
		var next pool.Amount
		next.Add(&bal, &amount)
		if next.Lt(&bal) {
			return token.ErrSupplyOverflow
		}
		return t.saveBalance(string(to), next)
	})
}

var (
	errReadOnly = errors.New("db: write in read-only view")
	// ErrNotAnchored is returned by Atomic before AnchorStart created the pool
	// row that every unit of work locks.
	ErrNotAnchored = errors.New("db: pool row missing, start height not anchored")
)

type tx struct {
	db       *gorm.DB
	readOnly bool
}

func (t *tx) write() error {
	if t.readOnly {
		return errReadOnly
	}
	return nil
}

func (t *tx) LoadRound(_ context.Context, index uint64) (*pool.Round, error) {
	var rec models.Round
	err := t.db.Where("round_index = ?", index).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	r, err := roundFromModel(rec)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (t *tx) SaveRound(_ context.Context, r *pool.Round) error {
	if err := t.write(); err != nil {
		return err
	}
	rec := models.Round{
		RoundIndex:       r.Index,
		TotalContributed: pool.FormatAmount(r.TotalContributed),
		RefundCap:        pool.FormatAmount(r.RefundCap),
	}
	// refund_cap is only written on insert.
	return t.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "round_index"}},
		DoUpdates: clause.AssignmentColumns([]string{"total_contributed", "updated_at"}),
	}).Create(&rec).Error
}

func (t *tx) RoundsBetween(_ context.Context, from, to uint64) ([]pool.Round, error) {
	var recs []models.Round
	err := t.db.Where("round_index BETWEEN ? AND ?", from, to).Order("round_index").Find(&recs).Error
	if err != nil {
		return nil, err
	}
	return roundsFromModels(recs)
}

func (t *tx) RecentRounds(_ context.Context, limit int) ([]pool.Round, error) {
	var recs []models.Round
	err := t.db.Order("round_index DESC").Limit(limit).Find(&recs).Error
	if err != nil {
		return nil, err
	}
	return roundsFromModels(recs)
}

func (t *tx) Contribution(_ context.Context, index uint64, user pool.Address) (pool.Amount, error) {
	var rec models.Contribution
	err := t.db.Where("round_index = ? AND account = ?", index, string(user)).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pool.Amount{}, nil
	}
	if err != nil {
		return pool.Amount{}, err
	}
	return pool.ParseAmount(rec.Amount)
}

func (t *tx) SaveContribution(_ context.Context, index uint64, user pool.Address, amount pool.Amount) error {
	if err := t.write(); err != nil {
		return err
	}
	rec := models.Contribution{RoundIndex: index, Account: string(user), Amount: pool.FormatAmount(amount)}
	return t.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "round_index"}, {Name: "account"}},
		DoUpdates: clause.AssignmentColumns([]string{"amount", "updated_at"}),
	}).Create(&rec).Error
}

func (t *tx) ContributionsBetween(_ context.Context, user pool.Address, from, to uint64) (map[uint64]pool.Amount, error) {
	var recs []models.Contribution
	err := t.db.Where("account = ? AND round_index BETWEEN ? AND ?", string(user), from, to).Find(&recs).Error
	if err != nil {
		return nil, err
	}
	out := make(map[uint64]pool.Amount, len(recs))
	for _, rec := range recs {
		a, err := pool.ParseAmount(rec.Amount)
		if err != nil {
			return nil, fmt.Errorf("contribution %d/%s: %w", rec.RoundIndex, rec.Account, err)
		}
		if !a.IsZero() {
			out[rec.RoundIndex] = a
		}
	}
	return out, nil
}

func (t *tx) LoadAccount(_ context.Context, user pool.Address) (*pool.Account, error) {
	var rec models.Account
	err := t.db.Where("account = ?", string(user)).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &pool.Account{User: user, LastClaimedRound: pool.NoClaim}, nil
	}
	if err != nil {
		return nil, err
	}
	return &pool.Account{User: user, LastClaimedRound: rec.LastClaimedRound}, nil
}

func (t *tx) SaveAccount(_ context.Context, a *pool.Account) error {
	if err := t.write(); err != nil {
		return err
	}
	rec := models.Account{Account: string(a.User), LastClaimedRound: a.LastClaimedRound}
	return t.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "account"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_claimed_round", "updated_at"}),
	}).Create(&rec).Error
}

func (t *tx) CapSchedule(_ context.Context) ([]pool.CapChange, error) {
	var recs []models.CapChange
	if err := t.db.Order("id").Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]pool.CapChange, 0, len(recs))
	for _, rec := range recs {
		c, err := pool.ParseAmount(rec.Cap)
		if err != nil {
			return nil, fmt.Errorf("cap change %d: %w", rec.ID, err)
		}
		out = append(out, pool.CapChange{FromRound: rec.FromRound, Cap: c})
	}
	return out, nil
}

func (t *tx) AppendCapChange(_ context.Context, c pool.CapChange) error {
	if err := t.write(); err != nil {
		return err
	}
	return t.db.Create(&models.CapChange{FromRound: c.FromRound, Cap: pool.FormatAmount(c.Cap)}).Error
}

func (t *tx) AppendEvent(_ context.Context, ev pool.Event) (pool.Event, error) {
	if err := t.write(); err != nil {
		return pool.Event{}, err
	}
	rec := models.Event{
		Kind:       string(ev.Kind),
		Account:    string(ev.User),
		Amount:     pool.FormatAmount(ev.Amount),
		Cap:        pool.FormatAmount(ev.Cap),
		RoundIndex: ev.Round,
		Height:     ev.Height,
	}
	if err := t.db.Create(&rec).Error; err != nil {
		return pool.Event{}, err
	}
	ev.Seq = rec.ID
	return ev, nil
}

func (t *tx) RecentEvents(_ context.Context, limit int) ([]pool.Event, error) {
	var recs []models.Event
	if err := t.db.Order("id DESC").Limit(limit).Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]pool.Event, 0, len(recs))
	for _, rec := range recs {
		ev, err := eventFromModel(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}

func (t *tx) Transfer(_ context.Context, from, to pool.Address, amount pool.Amount) error {
	if err := t.write(); err != nil {
		return err
	}
	if amount.IsZero() {
		return nil
	}
	if from == to {
		return fmt.Errorf("%w: %s", token.ErrSelfTransfer, from)
	}
	fromBal, err := t.lockedBalance(string(from))
	if err != nil {
		return err
	}
	if fromBal.Lt(&amount) {
		return fmt.Errorf("%w: %s has %s, needs %s",
			token.ErrInsufficientBalance, from, pool.FormatAmount(fromBal), pool.FormatAmount(amount))
	}
	toBal, err := t.lockedBalance(string(to))
	if err != nil {
		return err
	}
	fromBal.Sub(&fromBal, &amount)
	toBal.Add(&toBal, &amount)
	if err := t.saveBalance(string(from), fromBal); err != nil {
		return err
	}
	return t.saveBalance(string(to), toBal)
}

func (t *tx) BalanceOf(_ context.Context, account pool.Address) (pool.Amount, error) {
	var rec models.Balance
	err := t.db.Where("account = ?", string(account)).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pool.Amount{}, nil
	}
	if err != nil {
		return pool.Amount{}, err
	}
	return pool.ParseAmount(rec.Amount)
}

func (t *tx) lockedBalance(account string) (pool.Amount, error) {
	var rec models.Balance
	err := t.db.Clauses(clause.Locking{Strength: "UPDATE"}).Where("account = ?", account).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pool.Amount{}, nil
	}
	if err != nil {
		return pool.Amount{}, err
	}
	return pool.ParseAmount(rec.Amount)
}

func (t *tx) saveBalance(account string, amount pool.Amount) error {
	rec := models.Balance{Account: account, Amount: pool.FormatAmount(amount)}
	return t.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "account"}},
		DoUpdates: clause.AssignmentColumns([]string{"amount", "updated_at"}),
	}).Create(&rec).Error
}

func roundFromModel(rec models.Round) (pool.Round, error) {
	total, err := pool.ParseAmount(rec.TotalContributed)
	if err != nil {
		return pool.Round{}, fmt.Errorf("round %d total: %w", rec.RoundIndex, err)
	}
	limit, err := pool.ParseAmount(rec.RefundCap)
	if err != nil {
		return pool.Round{}, fmt.Errorf("round %d cap: %w", rec.RoundIndex, err)
	}
	return pool.Round{Index: rec.RoundIndex, TotalContributed: total, RefundCap: limit}, nil
}

func roundsFromModels(recs []models.Round) ([]pool.Round, error) {
	out := make([]pool.Round, 0, len(recs))
	for _, rec := range recs {
		r, err := roundFromModel(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func eventFromModel(rec models.Event) (pool.Event, error) {
	amount, err := pool.ParseAmount(rec.Amount)
	if err != nil {
		return pool.Event{}, fmt.Errorf("event %d amount: %w", rec.ID, err)
	}
	limit, err := pool.ParseAmount(rec.Cap)
	if err != nil {
		return pool.Event{}, fmt.Errorf("event %d cap: %w", rec.ID, err)
	}
	return pool.Event{
		Seq:    rec.ID,
		Kind:   pool.EventKind(rec.Kind),
		User:   pool.Address(rec.Account),
		Amount: amount,
		Cap:    limit,
		Round:  rec.RoundIndex,
		Height: rec.Height,
	}, nil
}
