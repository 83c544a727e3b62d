package pool

import "context"

// Tx is one unit of work against pool state and the token ledger. Everything
// done through a Tx becomes visible together, or not at all.
type Tx interface {
	// LoadRound returns nil when nobody contributed in the round yet.
	LoadRound(ctx context.Context, index uint64) (*Round, error)
	SaveRound(ctx context.Context, r *Round) error
	// RoundsBetween returns the existing rounds in [from, to], ascending.
	RoundsBetween(ctx context.Context, from, to uint64) ([]Round, error)
	// RecentRounds returns up to limit of the highest-indexed rounds, descending.
	RecentRounds(ctx context.Context, limit int) ([]Round, error)

	Contribution(ctx context.Context, index uint64, user Address) (Amount, error)
	SaveContribution(ctx context.Context, index uint64, user Address, amount Amount) error
	// ContributionsBetween maps round index to the user's contribution for
	// rounds in [from, to] where it is non-zero.
	ContributionsBetween(ctx context.Context, user Address, from, to uint64) (map[uint64]Amount, error)

	// LoadAccount returns a fresh account with LastClaimedRound == NoClaim
	// when the user is unknown.
	LoadAccount(ctx context.Context, user Address) (*Account, error)
	SaveAccount(ctx context.Context, a *Account) error

	CapSchedule(ctx context.Context) ([]CapChange, error)
	AppendCapChange(ctx context.Context, c CapChange) error

	// AppendEvent assigns the event its sequence number.
	AppendEvent(ctx context.Context, ev Event) (Event, error)
	RecentEvents(ctx context.Context, limit int) ([]Event, error)

	Transfer(ctx context.Context, from, to Address, amount Amount) error
	BalanceOf(ctx context.Context, account Address) (Amount, error)
}

// Backend runs units of work. An error returned by fn from Atomic rolls back
// every change fn made, token transfers included.
type Backend interface {
	Atomic(ctx context.Context, fn func(Tx) error) error
	View(ctx context.Context, fn func(Tx) error) error
}
