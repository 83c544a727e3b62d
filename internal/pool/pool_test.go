package pool_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"burn-pile/internal/chain"
	"burn-pile/internal/pool"
	"burn-pile/internal/store/memory"
	"burn-pile/internal/token"
)

const (
	roundCount  = 10
	roundLength = 100
	refundCap   = 10
	fundPercent = 50

	owner    pool.Address = "owner"
	fund     pool.Address = "fund"
	poolAddr pool.Address = "burnpile"
)

var users = []pool.Address{"alice", "bob", "carol", "dave", "erin"}

type harness struct {
	t       *testing.T
	ctx     context.Context
	clock   *chain.ManualClock
	backend *memory.Backend
	pool    *pool.Pool
	events  []pool.Event
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		t:       t,
		ctx:     context.Background(),
		clock:   chain.NewManualClock(1),
		backend: memory.NewBackend(nil),
	}
	h.pool = h.newPool(h.backend)
	return h
}

func (h *harness) newPool(backend pool.Backend) *pool.Pool {
	h.t.Helper()
	cfg := pool.Config{
		RoundLength:      roundLength,
		RoundCount:       roundCount,
		RefundCap:        pool.Units(refundCap),
		FundSharePercent: fundPercent,
		FundAddress:      fund,
		PoolAddress:      poolAddr,
		Owner:            owner,
	}
	p, err := pool.New(h.ctx, cfg, backend, h.clock, pool.WithListener(func(ev pool.Event) {
		h.events = append(h.events, ev)
	}))
	require.NoError(h.t, err)
	return p
}

// burn funds users[i] with amounts[i] and contributes it.
func (h *harness) burn(amounts ...uint64) []pool.Contributed {
	h.t.Helper()
	out := make([]pool.Contributed, 0, len(amounts))
	for i, a := range amounts {
		require.NoError(h.t, h.backend.Mint(h.ctx, users[i], pool.Units(a)))
		ev, err := h.pool.Contribute(h.ctx, users[i], pool.Units(a))
		require.NoError(h.t, err)
		out = append(out, ev)
	}
	return out
}

func (h *harness) refund(i int) *pool.Refunded {
	h.t.Helper()
	ev, err := h.pool.ClaimRefund(h.ctx, users[i])
	require.NoError(h.t, err)
	return ev
}

func (h *harness) balance(a pool.Address) uint64 {
	h.t.Helper()
	b, err := h.pool.BalanceOf(h.ctx, a)
	require.NoError(h.t, err)
	return b.Uint64()
}

func amount(v uint64) pool.Amount { return pool.Units(v) }

func TestContributeBelowCap(t *testing.T) {
	h := newHarness(t)
	evs := h.burn(refundCap / 2)

	require.Equal(t, uint64(0), evs[0].RoundIndex)
	require.Equal(t, amount(refundCap), evs[0].CapAtTime)
	require.Equal(t, uint64(refundCap/2), h.balance(poolAddr))
	require.Zero(t, h.balance(fund))
}

func TestContributeBeyondCapDivertsHalfTheExcess(t *testing.T) {
	h := newHarness(t)
	h.burn(refundCap * 2)

	r, err := h.pool.Round(h.ctx, 0)
	require.NoError(t, err)
	require.NotNil(t, r)
	require.Equal(t, amount(20), r.TotalContributed)
	require.Equal(t, uint64(5), h.balance(fund))
	require.Equal(t, uint64(15), h.balance(poolAddr))
}

func TestFundReceivesHalfOfNonrefundableFromManyUsers(t *testing.T) {
	h := newHarness(t)
	h.burn(refundCap, refundCap*2, refundCap/2, refundCap)

	nonrefundable := uint64(refundCap+refundCap*2+refundCap/2+refundCap) - refundCap
	require.Equal(t, nonrefundable/2, h.balance(fund))
}

func TestFundReceivesNothingAtOrBelowCap(t *testing.T) {
	h := newHarness(t)
	h.burn(refundCap)
	require.Zero(t, h.balance(fund))

	h.clock.Mine(roundLength)
	h.burn(refundCap / 2)
	require.Zero(t, h.balance(fund))

	h.clock.Mine(roundLength * 2)
	h.refund(0)
	require.Zero(t, h.balance(fund))
}

func TestContributionsSumToRoundTotal(t *testing.T) {
	h := newHarness(t)
	h.burn(3, 9, 4)
	h.burn(7)

	r, err := h.pool.Round(h.ctx, 0)
	require.NoError(t, err)

	var sum pool.Amount
	for _, c := range h.backend.RoundContributions(0) {
		sum.Add(&sum, &c)
	}
	require.Equal(t, r.TotalContributed, sum)

	c, err := h.pool.Contribution(h.ctx, 0, users[0])
	require.NoError(t, err)
	require.Equal(t, amount(10), c)
}

func TestContributeRejectsZeroAndEmptyUser(t *testing.T) {
	h := newHarness(t)
	_, err := h.pool.Contribute(h.ctx, users[0], amount(0))
	require.ErrorIs(t, err, pool.ErrInvalidAmount)
	_, err = h.pool.Contribute(h.ctx, "", amount(1))
	require.ErrorIs(t, err, pool.ErrInvalidAddress)
}

func TestContributeAfterEndFails(t *testing.T) {
	h := newHarness(t)
	h.burn(refundCap)
	h.clock.Mine(roundLength * roundCount)

	require.NoError(t, h.backend.Mint(h.ctx, users[0], amount(refundCap)))
	_, err := h.pool.Contribute(h.ctx, users[0], amount(refundCap))
	require.ErrorIs(t, err, pool.ErrPoolEnded)
	require.EqualError(t, err, "the burn has ended")

	require.Equal(t, uint64(refundCap), h.balance(users[0]), "no tokens moved")
	r, err := h.pool.Round(h.ctx, roundCount)
	require.NoError(t, err)
	require.Nil(t, r)
	require.Len(t, h.events, 1)
}

func TestContributeWithoutBalanceMutatesNothing(t *testing.T) {
	h := newHarness(t)
	_, err := h.pool.Contribute(h.ctx, users[0], amount(5))
	require.ErrorIs(t, err, pool.ErrTransferFailed)
	require.ErrorIs(t, err, token.ErrInsufficientBalance)

	r, err := h.pool.Round(h.ctx, 0)
	require.NoError(t, err)
	require.Nil(t, r)
	evs, err := h.pool.Events(h.ctx, 10)
	require.NoError(t, err)
	require.Empty(t, evs)
	require.Empty(t, h.events)
}

// failingFund fails every transfer to the fund address.
type failingFund struct {
	pool.Backend
}

func (f failingFund) Atomic(ctx context.Context, fn func(pool.Tx) error) error {
	return f.Backend.Atomic(ctx, func(tx pool.Tx) error {
		return fn(failingFundTx{tx})
	})
}

type failingFundTx struct {
	pool.Tx
}

func (f failingFundTx) Transfer(ctx context.Context, from, to pool.Address, a pool.Amount) error {
	if to == fund {
		return errors.New("fund rejected transfer")
	}
	return f.Tx.Transfer(ctx, from, to, a)
}

func TestFailedFundTransferRollsBackContribution(t *testing.T) {
	h := newHarness(t)
	p := h.newPool(failingFund{h.backend})

	require.NoError(t, h.backend.Mint(h.ctx, users[0], amount(30)))
	_, err := p.Contribute(h.ctx, users[0], amount(30))
	require.ErrorIs(t, err, pool.ErrTransferFailed)

	require.Equal(t, uint64(30), h.balance(users[0]))
	require.Zero(t, h.balance(poolAddr))
	r, err := h.pool.Round(h.ctx, 0)
	require.NoError(t, err)
	require.Nil(t, r)
	require.Empty(t, h.backend.RoundContributions(0))

	// Below the cap there is nothing to forward, so the same pool accepts it.
	_, err = p.Contribute(h.ctx, users[0], amount(10))
	require.NoError(t, err)
}

func TestNoRefundForRoundInProgress(t *testing.T) {
	h := newHarness(t)
	h.burn(refundCap * 2)
	before := h.balance(users[0])

	require.Nil(t, h.refund(0))
	require.Equal(t, before, h.balance(users[0]))

	acct, err := h.pool.Account(h.ctx, users[0])
	require.NoError(t, err)
	require.Equal(t, pool.NoClaim, acct.LastClaimedRound)
}

func TestRefundForCompletedRound(t *testing.T) {
	h := newHarness(t)
	h.burn(refundCap * 2)
	h.clock.Mine(roundLength)

	ev := h.refund(0)
	require.NotNil(t, ev)
	require.Equal(t, amount(refundCap), ev.TotalAmount)
	require.Equal(t, users[0], ev.User)
	require.Equal(t, uint64(refundCap), h.balance(users[0]))

	require.Nil(t, h.refund(0), "second claim pays nothing")
	require.Equal(t, uint64(refundCap), h.balance(users[0]))
}

func TestRefundAfterSeveralEmptyRounds(t *testing.T) {
	h := newHarness(t)
	h.burn(refundCap * 2)
	h.clock.Mine(roundLength * 4)

	h.refund(0)
	require.Equal(t, uint64(refundCap), h.balance(users[0]))

	acct, err := h.pool.Account(h.ctx, users[0])
	require.NoError(t, err)
	require.Equal(t, int64(3), acct.LastClaimedRound)
}

func TestFullRefundsBelowCap(t *testing.T) {
	h := newHarness(t)
	amounts := []uint64{1, 5, 1, 2}
	h.burn(amounts...)
	h.clock.Mine(roundLength * 5)

	for i, a := range amounts {
		require.Zero(t, h.balance(users[i]))
		h.refund(i)
		require.Equal(t, a, h.balance(users[i]))
	}
	require.Zero(t, h.balance(fund))
}

func TestProportionalRefundsAboveCap(t *testing.T) {
	h := newHarness(t)
	amounts := []uint64{40, 5, 1, 20, 10}
	h.burn(amounts...)
	h.clock.Mine(roundLength)

	var total uint64
	for _, a := range amounts {
		total += a
	}
	var paid uint64
	for i, a := range amounts {
		h.refund(i)
		want := a * refundCap / total
		require.Equal(t, want, h.balance(users[i]), "user %d", i)
		paid += want
	}
	require.LessOrEqual(t, paid, uint64(refundCap))
}

func TestRefundAfterPoolEnded(t *testing.T) {
	h := newHarness(t)
	h.burn(refundCap * 10)
	h.clock.Mine(roundCount * roundLength)

	h.refund(0)
	require.Equal(t, uint64(refundCap), h.balance(users[0]))

	acct, err := h.pool.Account(h.ctx, users[0])
	require.NoError(t, err)
	require.Equal(t, int64(roundCount-1), acct.LastClaimedRound)

	h.clock.Mine(roundLength * 50)
	require.Nil(t, h.refund(0))
}

func TestRefundCoversEveryUnclaimedRound(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 3; i++ {
		h.burn(refundCap * 10)
		h.clock.Mine(roundLength * 2)
	}
	require.Zero(t, h.balance(users[0]))

	ev := h.refund(0)
	require.NotNil(t, ev)
	require.Equal(t, amount(refundCap*3), ev.TotalAmount)
	require.Equal(t, uint64(refundCap*3), h.balance(users[0]))
}

func TestRepeatedClaimsAreIdempotent(t *testing.T) {
	h := newHarness(t)
	h.burn(refundCap)
	h.clock.Mine(roundLength)

	require.NotNil(t, h.refund(0))
	require.Equal(t, uint64(refundCap), h.balance(users[0]))
	eventsAfterFirst := len(h.events)

	require.Nil(t, h.refund(0))
	h.clock.Mine(roundLength)
	require.Nil(t, h.refund(0))
	h.clock.Mine(roundLength * 3)
	require.Nil(t, h.refund(0))

	require.Equal(t, uint64(refundCap), h.balance(users[0]))
	require.Len(t, h.events, eventsAfterFirst, "zero claims emit nothing")
}

func TestClaimPointerNeverDecreases(t *testing.T) {
	h := newHarness(t)
	last := pool.NoClaim
	for i := 0; i < roundCount+2; i++ {
		h.clock.Mine(roundLength)
		h.refund(1)
		acct, err := h.pool.Account(h.ctx, users[1])
		require.NoError(t, err)
		require.GreaterOrEqual(t, acct.LastClaimedRound, last)

		height, err := h.clock.CurrentHeight(h.ctx)
		require.NoError(t, err)
		lc, ok := h.pool.LastClosedRound(height)
		require.True(t, ok)
		require.Equal(t, int64(lc), acct.LastClaimedRound)
		last = acct.LastClaimedRound
	}
}

func TestPendingRefundMatchesClaim(t *testing.T) {
	h := newHarness(t)
	h.burn(refundCap*2, refundCap*2)
	h.clock.Mine(roundLength)

	owed, err := h.pool.PendingRefund(h.ctx, users[1])
	require.NoError(t, err)
	require.Equal(t, amount(refundCap/2), owed)

	ev := h.refund(1)
	require.Equal(t, owed, ev.TotalAmount)

	owed, err = h.pool.PendingRefund(h.ctx, users[1])
	require.NoError(t, err)
	require.True(t, owed.IsZero())
}

func TestContributedEvents(t *testing.T) {
	h := newHarness(t)
	evs := h.burn(refundCap * 2)
	require.Equal(t, users[0], evs[0].User)
	require.Equal(t, amount(refundCap*2), evs[0].Amount)
	require.Equal(t, amount(refundCap), evs[0].CapAtTime)
	require.Equal(t, uint64(0), evs[0].RoundIndex)

	h.clock.Mine(roundLength)
	evs = h.burn(refundCap * 2)
	require.Equal(t, uint64(1), evs[0].RoundIndex)

	require.Len(t, h.events, 2)
	require.Equal(t, pool.KindContributed, h.events[1].Kind)
	require.Equal(t, uint64(1), h.events[1].Round)
}

func TestRefundEventForMultiRoundClaim(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 3; i++ {
		h.burn(refundCap * 2)
		h.clock.Mine(int64(roundLength * (i + 1)))
	}
	ev := h.refund(0)
	require.NotNil(t, ev)
	require.Equal(t, amount(refundCap*3), ev.TotalAmount)

	last := h.events[len(h.events)-1]
	require.Equal(t, pool.KindRefunded, last.Kind)
	require.Equal(t, users[0], last.User)
	require.Equal(t, amount(refundCap*3), last.Amount)

	stored, err := h.pool.Events(h.ctx, 1)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	require.Equal(t, last.Kind, stored[0].Kind)
	require.Equal(t, uint64(4), stored[0].Seq)
}

func TestSetRefundCapRequiresOwner(t *testing.T) {
	h := newHarness(t)
	_, err := h.pool.SetRefundCap(h.ctx, owner, amount(1_000_000))
	require.NoError(t, err)

	_, err = h.pool.SetRefundCap(h.ctx, users[0], amount(1_000_000))
	require.ErrorIs(t, err, pool.ErrNotAuthorized)
	require.EqualError(t, err, "caller is not the owner")

	limit, err := h.pool.CurrentCap(h.ctx)
	require.NoError(t, err)
	require.Equal(t, amount(1_000_000), limit)
}

func TestCurrentCapIsLatestScheduledNotRunningRound(t *testing.T) {
	h := newHarness(t)
	h.clock.Mine(roundLength)

	// Round 1 is running but untouched when the cap changes.
	upd, err := h.pool.SetRefundCap(h.ctx, owner, amount(3))
	require.NoError(t, err)
	require.Equal(t, uint64(2), upd.FromRound)

	limit, err := h.pool.CurrentCap(h.ctx)
	require.NoError(t, err)
	require.Equal(t, amount(3), limit)

	evs := h.burn(1)
	require.Equal(t, uint64(1), evs[0].RoundIndex)
	require.Equal(t, amount(refundCap), evs[0].CapAtTime)
}

func TestRefundCapAppliesToFutureRoundsOnly(t *testing.T) {
	h := newHarness(t)
	const updated = 1

	h.burn(refundCap)
	h.clock.Mine(roundLength)

	h.burn(refundCap * 2)
	h.clock.Mine(roundLength)

	// The change is made while round 2 runs, so round 2 keeps the old cap.
	upd, err := h.pool.SetRefundCap(h.ctx, owner, amount(updated))
	require.NoError(t, err)
	require.Equal(t, uint64(3), upd.FromRound)
	evs := h.burn(refundCap * 2)
	require.Equal(t, amount(refundCap), evs[0].CapAtTime)
	h.burn(refundCap * 2)
	h.clock.Mine(roundLength)

	evs = h.burn(refundCap)
	require.Equal(t, amount(updated), evs[0].CapAtTime)
	h.clock.Mine(roundLength)

	for i, want := range []uint64{refundCap, refundCap, refundCap, updated} {
		r, err := h.pool.Round(h.ctx, uint64(i))
		require.NoError(t, err)
		require.Equal(t, amount(want), r.RefundCap, "round %d", i)
	}

	h.refund(0)
	require.Equal(t, uint64(3*refundCap+updated), h.balance(users[0]))
}

func TestSnapshot(t *testing.T) {
	h := newHarness(t)
	h.burn(refundCap * 3)
	h.clock.Mine(roundLength)
	h.burn(1)

	s, err := h.pool.Snapshot(h.ctx, 5)
	require.NoError(t, err)
	require.Equal(t, uint64(1), s.Round)
	require.Equal(t, int64(0), s.LastClosed)
	require.False(t, s.Ended)
	require.Equal(t, amount(refundCap), s.CurrentCap)
	require.Equal(t, amount(10), s.FundBalance)
	require.Equal(t, amount(21), s.PoolBalance)
	require.Len(t, s.Rounds, 2)
	require.Equal(t, uint64(1), s.Rounds[0].Index)
	require.Len(t, s.Events, 2)

	h.clock.Mine(roundLength * roundCount)
	s, err = h.pool.Snapshot(h.ctx, 5)
	require.NoError(t, err)
	require.True(t, s.Ended)
	require.Equal(t, int64(roundCount-1), s.LastClosed)
}

func TestStartHeightIsAnchored(t *testing.T) {
	h := newHarness(t)
	h.clock.Mine(250)

	again := h.newPool(h.backend)
	require.Equal(t, h.pool.Config().StartHeight, again.Config().StartHeight)
	require.Equal(t, uint64(2), again.RoundIndexAt(251))
}
