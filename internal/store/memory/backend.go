// Package memory keeps pool state in process. Units of work write through and
// keep an undo log; a failing unit replays it backwards.
package memory

import (
	"context"
	"sort"
	"sync"

	"burn-pile/internal/pool"
	"burn-pile/internal/token"
)

type roundState struct {
	round         pool.Round
	contributions map[pool.Address]pool.Amount
}

type Backend struct {
	mu       sync.Mutex
	ledger   *token.Ledger
	rounds   map[uint64]*roundState
	accounts map[pool.Address]pool.Account
	caps     []pool.CapChange
	events   []pool.Event
	start    *int64
}

var (
	_ pool.Backend = (*Backend)(nil)
	_ pool.Anchor  = (*Backend)(nil)
)

// NewBackend uses ledger for token balances; nil creates a private one.
func NewBackend(ledger *token.Ledger) *Backend {
	if ledger == nil {
		ledger = token.NewLedger()
	}
	return &Backend{
		ledger:   ledger,
		rounds:   make(map[uint64]*roundState),
		accounts: make(map[pool.Address]pool.Account),
	}
}

func (b *Backend) Ledger() *token.Ledger {
	return b.ledger
}

// Mint credits test tokens outside any unit of work.
func (b *Backend) Mint(_ context.Context, to pool.Address, amount pool.Amount) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ledger.Mint(string(to), amount)
}

func (b *Backend) AnchorStart(_ context.Context, height int64) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.start == nil {
		b.start = &height
	}
	return *b.start, nil
}

func (b *Backend) Atomic(ctx context.Context, fn func(pool.Tx) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	cp := b.ledger.Checkpoint()
	t := &tx{b: b}
	if err := fn(t); err != nil {
		for i := len(t.undo) - 1; i >= 0; i-- {
			t.undo[i]()
		}
		b.ledger.RevertTo(cp)
		return err
	}
	b.ledger.Commit(cp)
	return nil
}

func (b *Backend) View(ctx context.Context, fn func(pool.Tx) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return fn(&tx{b: b, readOnly: true})
}

// RoundContributions returns a copy of every contribution recorded for round
// index.
func (b *Backend) RoundContributions(index uint64) map[pool.Address]pool.Amount {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[pool.Address]pool.Amount)
	if rs, ok := b.rounds[index]; ok {
		for u, a := range rs.contributions {
			out[u] = a
		}
	}
	return out
}

type tx struct {
	b        *Backend
	readOnly bool
	undo     []func()
}

func (t *tx) record(fn func()) {
	t.undo = append(t.undo, fn)
}

func (t *tx) LoadRound(_ context.Context, index uint64) (*pool.Round, error) {
	rs, ok := t.b.rounds[index]
	if !ok {
		return nil, nil
	}
	r := rs.round
	return &r, nil
}

func (t *tx) SaveRound(_ context.Context, r *pool.Round) error {
	if t.readOnly {
		return errReadOnly
	}
	rs, ok := t.b.rounds[r.Index]
	if !ok {
		rs = &roundState{contributions: make(map[pool.Address]pool.Amount)}
		t.b.rounds[r.Index] = rs
		index := r.Index
		t.record(func() { delete(t.b.rounds, index) })
	} else {
		prev := rs.round
		t.record(func() { rs.round = prev })
	}
	rs.round = *r
	return nil
}

func (t *tx) RoundsBetween(_ context.Context, from, to uint64) ([]pool.Round, error) {
	var out []pool.Round
	for idx, rs := range t.b.rounds {
		if idx >= from && idx <= to {
			out = append(out, rs.round)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

func (t *tx) RecentRounds(_ context.Context, limit int) ([]pool.Round, error) {
	out := make([]pool.Round, 0, len(t.b.rounds))
	for _, rs := range t.b.rounds {
		out = append(out, rs.round)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index > out[j].Index })
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (t *tx) Contribution(_ context.Context, index uint64, user pool.Address) (pool.Amount, error) {
	rs, ok := t.b.rounds[index]
	if !ok {
		return pool.Amount{}, nil
	}
	return rs.contributions[user], nil
}

// SaveContribution may run before SaveRound creates the round; the round
// state is created here in that case.
func (t *tx) SaveContribution(_ context.Context, index uint64, user pool.Address, amount pool.Amount) error {
	if t.readOnly {
		return errReadOnly
	}
	rs, ok := t.b.rounds[index]
	if !ok {
		rs = &roundState{
			round:         pool.Round{Index: index},
			contributions: make(map[pool.Address]pool.Amount),
		}
		t.b.rounds[index] = rs
		t.record(func() { delete(t.b.rounds, index) })
	}
	prev, had := rs.contributions[user]
	t.record(func() {
		if had {
			rs.contributions[user] = prev
		} else {
			delete(rs.contributions, user)
		}
	})
	rs.contributions[user] = amount
	return nil
}

func (t *tx) ContributionsBetween(_ context.Context, user pool.Address, from, to uint64) (map[uint64]pool.Amount, error) {
	out := make(map[uint64]pool.Amount)
	for idx, rs := range t.b.rounds {
		if idx < from || idx > to {
			continue
		}
		if c, ok := rs.contributions[user]; ok && !c.IsZero() {
			out[idx] = c
		}
	}
	return out, nil
}

func (t *tx) LoadAccount(_ context.Context, user pool.Address) (*pool.Account, error) {
	if a, ok := t.b.accounts[user]; ok {
		return &a, nil
	}
	return &pool.Account{User: user, LastClaimedRound: pool.NoClaim}, nil
}

func (t *tx) SaveAccount(_ context.Context, a *pool.Account) error {
	if t.readOnly {
		return errReadOnly
	}
	prev, had := t.b.accounts[a.User]
	user := a.User
	t.record(func() {
		if had {
			t.b.accounts[user] = prev
		} else {
			delete(t.b.accounts, user)
		}
	})
	t.b.accounts[a.User] = *a
	return nil
}

func (t *tx) CapSchedule(_ context.Context) ([]pool.CapChange, error) {
	out := make([]pool.CapChange, len(t.b.caps))
	copy(out, t.b.caps)
	return out, nil
}

func (t *tx) AppendCapChange(_ context.Context, c pool.CapChange) error {
	if t.readOnly {
		return errReadOnly
	}
	n := len(t.b.caps)
	t.record(func() { t.b.caps = t.b.caps[:n] })
	t.b.caps = append(t.b.caps, c)
	return nil
}

func (t *tx) AppendEvent(_ context.Context, ev pool.Event) (pool.Event, error) {
	if t.readOnly {
		return pool.Event{}, errReadOnly
	}
	n := len(t.b.events)
	t.record(func() { t.b.events = t.b.events[:n] })
	ev.Seq = uint64(n + 1)
	t.b.events = append(t.b.events, ev)
	return ev, nil
}

func (t *tx) RecentEvents(_ context.Context, limit int) ([]pool.Event, error) {
	n := len(t.b.events)
	if limit < 0 || limit > n {
		limit = n
	}
	out := make([]pool.Event, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, t.b.events[i])
	}
	return out, nil
}

func (t *tx) Transfer(_ context.Context, from, to pool.Address, amount pool.Amount) error {
	if t.readOnly {
		return errReadOnly
	}
	return t.b.ledger.Transfer(string(from), string(to), amount)
}

func (t *tx) BalanceOf(_ context.Context, account pool.Address) (pool.Amount, error) {
	return t.b.ledger.BalanceOf(string(account)), nil
}
