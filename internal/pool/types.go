package pool

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"
)

// Address identifies an account on the token ledger.
type Address string

// Amount is a token quantity with EVM word semantics.
type Amount = uint256.Int

// Units returns v as an Amount.
func Units(v uint64) Amount {
	return *uint256.NewInt(v)
}

// ParseAmount parses a non-negative base-10 integer.
func ParseAmount(s string) (Amount, error) {
	var v Amount
	trimmed := strings.TrimSpace(s)
	if trimmed == "" || strings.HasPrefix(trimmed, "+") {
		return Amount{}, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if err := v.SetFromDecimal(trimmed); err != nil {
		return Amount{}, fmt.Errorf("%w: %q: %w", ErrInvalidAmount, s, err)
	}
	return v, nil
}

// FormatAmount renders a in base 10.
func FormatAmount(a Amount) string {
	return a.Dec()
}

// NoClaim is the claim pointer of an account that never claimed.
const NoClaim int64 = -1

// Round is the aggregate state of one round. RefundCap is set when the round
// is first touched and never changes afterwards.
type Round struct {
	Index            uint64
	TotalContributed Amount
	RefundCap        Amount
}

// Account tracks the last round index already settled for a user.
type Account struct {
	User             Address
	LastClaimedRound int64
}

// CapChange schedules Cap for every round with index >= FromRound, until a
// later change supersedes it.
type CapChange struct {
	FromRound uint64
	Cap       Amount
}

// capAt returns the cap in effect for round r. The schedule is append-only and
// ordered by FromRound; the last matching entry wins.
func capAt(schedule []CapChange, r uint64) Amount {
	var limit Amount
	for _, ch := range schedule {
		if ch.FromRound <= r {
			limit = ch.Cap
		}
	}
	return limit
}
