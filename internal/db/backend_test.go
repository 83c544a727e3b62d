package db

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"burn-pile/internal/chain"
	"burn-pile/internal/models"
	"burn-pile/internal/pool"
	"burn-pile/internal/token"
)

// openTestDB connects to TEST_DATABASE_URL and starts from empty tables.
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, gdb.Migrator().DropTable(
		&models.Pool{}, &models.Round{}, &models.Contribution{}, &models.CapChange{},
		&models.Account{}, &models.Balance{}, &models.Event{},
	))
	require.NoError(t, AutoMigrate(gdb))
	return gdb
}

func testConfig() pool.Config {
	return pool.Config{
		RoundLength:      100,
		RoundCount:       10,
		RefundCap:        pool.Units(10),
		FundSharePercent: 50,
		FundAddress:      "fund",
		PoolAddress:      "burnpile",
		Owner:            "owner",
	}
}

func TestBackendReferenceScenario(t *testing.T) {
	ctx := context.Background()
	b := NewBackend(openTestDB(t))
	clock := chain.NewManualClock(1)

	p, err := pool.New(ctx, testConfig(), b, clock)
	require.NoError(t, err)

	require.NoError(t, b.Mint(ctx, "alice", pool.Units(20)))
	ev, err := p.Contribute(ctx, "alice", pool.Units(20))
	require.NoError(t, err)
	require.Equal(t, pool.Units(5), ev.FundShare)

	fund, err := p.BalanceOf(ctx, "fund")
	require.NoError(t, err)
	require.Equal(t, pool.Units(5), fund)

	r, err := p.Round(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, pool.Units(20), r.TotalContributed)
	require.Equal(t, pool.Units(10), r.RefundCap)

	clock.Mine(100)
	refund, err := p.ClaimRefund(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, refund)
	require.Equal(t, pool.Units(10), refund.TotalAmount)

	refund, err = p.ClaimRefund(ctx, "alice")
	require.NoError(t, err)
	require.Nil(t, refund)

	evs, err := p.Events(ctx, 10)
	require.NoError(t, err)
	require.Len(t, evs, 2)
	require.Equal(t, pool.KindRefunded, evs[0].Kind)
}

func TestBackendRollsBackFailedTransfer(t *testing.T) {
	ctx := context.Background()
	b := NewBackend(openTestDB(t))
	p, err := pool.New(ctx, testConfig(), b, chain.NewManualClock(1))
	require.NoError(t, err)

	_, err = p.Contribute(ctx, "alice", pool.Units(5))
	require.ErrorIs(t, err, pool.ErrTransferFailed)
	require.ErrorIs(t, err, token.ErrInsufficientBalance)

	r, err := p.Round(ctx, 0)
	require.NoError(t, err)
	require.Nil(t, r)
}

func TestBackendAnchorsStartHeight(t *testing.T) {
	ctx := context.Background()
	b := NewBackend(openTestDB(t))

	start, err := b.AnchorStart(ctx, 42)
	require.NoError(t, err)
	require.Equal(t, int64(42), start)

	start, err = b.AnchorStart(ctx, 900)
	require.NoError(t, err)
	require.Equal(t, int64(42), start)
}

func TestAtomicRequiresAnchoredPool(t *testing.T) {
	ctx := context.Background()
	b := NewBackend(openTestDB(t))

	ran := false
	err := b.Atomic(ctx, func(pool.Tx) error {
		ran = true
		return nil
	})
	require.ErrorIs(t, err, ErrNotAnchored)
	require.False(t, ran)

	_, err = b.AnchorStart(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, b.Atomic(ctx, func(pool.Tx) error { return nil }))
}

func TestRoundCapWrittenOnce(t *testing.T) {
	ctx := context.Background()
	b := NewBackend(openTestDB(t))
	_, err := b.AnchorStart(ctx, 1)
	require.NoError(t, err)

	err = b.Atomic(ctx, func(tx pool.Tx) error {
		if err := tx.SaveRound(ctx, &pool.Round{Index: 0, TotalContributed: pool.Units(1), RefundCap: pool.Units(10)}); err != nil {
			return err
		}
		return tx.SaveRound(ctx, &pool.Round{Index: 0, TotalContributed: pool.Units(4), RefundCap: pool.Units(99)})
	})
	require.NoError(t, err)

	err = b.View(ctx, func(tx pool.Tx) error {
		r, err := tx.LoadRound(ctx, 0)
		require.NoError(t, err)
		require.Equal(t, pool.Units(4), r.TotalContributed)
		require.Equal(t, pool.Units(10), r.RefundCap)
		return nil
	})
	require.NoError(t, err)
}
