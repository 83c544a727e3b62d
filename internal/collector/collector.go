// Package collector follows the chain and keeps the dashboard in sync with
// the pool: every new block can close a round, so each one triggers a fresh
// pool snapshot.
package collector

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"burn-pile/internal/config"
	"burn-pile/internal/logger"
	"burn-pile/internal/pool"
	"burn-pile/internal/tui"

	rpchttp "github.com/cometbft/cometbft/rpc/client/http"
	rpccoretypes "github.com/cometbft/cometbft/rpc/core/types"
	cmttypes "github.com/cometbft/cometbft/types"
	"github.com/holiman/uint256"
)

const (
	// TUIChannelBufferSize bounds pending dashboard updates.
	TUIChannelBufferSize = 64
	// TUICloseDelay gives the dashboard time to quit after its channel closes.
	TUICloseDelay = 200 * time.Millisecond

	subscriber     = "burnpile"
	snapshotLimit  = 20
	watchdogPeriod = 30 * time.Second
	refreshPeriod  = 5 * time.Second
)

// Snapshotter is the part of the pool the collector reads.
type Snapshotter interface {
	Snapshot(ctx context.Context, limit int) (pool.Snapshot, error)
}

type Collector struct {
	cfg      config.Config
	pool     Snapshotter
	client   *rpchttp.HTTP
	updateCh chan<- interface{}
	log      *logger.Logger

	lastBlockTime   time.Time
	lastBlockTimeMu sync.RWMutex
}

func NewCollector(cfg config.Config, p Snapshotter, updateCh chan<- interface{}, log *logger.Logger) (*Collector, error) {
	if p == nil {
		return nil, fmt.Errorf("collector: pool is required")
	}
	return &Collector{
		cfg:      cfg,
		pool:     p,
		updateCh: updateCh,
		log:      log,
	}, nil
}

func (c *Collector) Run(ctx context.Context) error {
	c.Refresh(ctx)
	for {
		err := c.runLoop(ctx)
		if ctx.Err() != nil {
			return nil // Context cancelled, normal shutdown
		}
		if err != nil {
			// Only log actual errors, not planned reconnects
			if !strings.Contains(err.Error(), "reconnect:") {
				c.log.Printf("Run loop error: %v, reconnecting...", err)
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(3 * time.Second):
			}
		}
	}
}

func (c *Collector) runLoop(ctx context.Context) error {
	// Cancelled on reconnect so the previous block handler stops
	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.cleanupClient(loopCtx)

	if c.cfg.FixedHeight > 0 {
		// No node to follow; the periodic refresh is all there is.
		return c.watchdogLoop(loopCtx, false)
	}

	if err := c.initClient(); err != nil {
		return err
	}

	blockCh, err := c.client.Subscribe(loopCtx, subscriber, "tm.event = 'NewBlock'")
	if err != nil {
		return fmt.Errorf("subscribe NewBlock: %w", err)
	}
	c.log.Printf("Subscribed to NewBlock events")

	c.updateLastBlockTime()
	c.startBlockHandler(loopCtx, blockCh)

	return c.watchdogLoop(loopCtx, true)
}

// cleanupClient stops and cleans up existing client
func (c *Collector) cleanupClient(ctx context.Context) {
	if c.client == nil {
		return
	}

	unsubCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	_ = c.client.UnsubscribeAll(unsubCtx, subscriber)
	_ = c.client.Stop()
	c.client = nil
}

// initClient creates and starts a new RPC client
func (c *Collector) initClient() error {
	client, err := rpchttp.New(c.cfg.RPCURL, c.cfg.WSURL())
	if err != nil {
		return fmt.Errorf("create rpc client: %w", err)
	}

	if err := client.Start(); err != nil {
		return fmt.Errorf("start rpc client: %w", err)
	}

	c.client = client
	return nil
}

func (c *Collector) startBlockHandler(ctx context.Context, ch <-chan rpccoretypes.ResultEvent) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					c.log.Printf("NewBlock event channel closed")
					return
				}
				if ev.Data == nil {
					continue
				}
				c.updateLastBlockTime()
				c.handleNewBlock(ctx, ev)
			}
		}
	}()
}

func (c *Collector) handleNewBlock(ctx context.Context, ev rpccoretypes.ResultEvent) {
	data, ok := ev.Data.(cmttypes.EventDataNewBlock)
	if !ok {
		if d2, ok2 := ev.Data.(*cmttypes.EventDataNewBlock); ok2 && d2 != nil {
			data = *d2
			ok = true
		}
	}
	if !ok {
		c.log.Printf("unknown NewBlock event data type: %T", ev.Data)
		return
	}
	if data.Block == nil || data.Block.Header.Height == 0 {
		return
	}
	c.log.Printf("Block %d, refreshing pool", data.Block.Header.Height)
	c.Refresh(ctx)
}

// Refresh publishes a new snapshot to the dashboard. It is safe to call from
// pool listeners.
func (c *Collector) Refresh(ctx context.Context) {
	snap, err := c.pool.Snapshot(ctx, snapshotLimit)
	if err != nil {
		c.log.Printf("snapshot failed: %v", err)
		return
	}
	c.publish(ToUpdate(snap))
}

func (c *Collector) publish(msg tui.UpdateMsg) {
	if c.updateCh == nil {
		return
	}
	// Drop rather than block: the next block brings a newer snapshot anyway.
	select {
	case c.updateCh <- msg:
	default:
		c.log.Printf("dashboard busy, dropping update for height %d", msg.Pool.Height)
	}
}

// updateLastBlockTime updates the last block time (thread-safe)
func (c *Collector) updateLastBlockTime() {
	c.lastBlockTimeMu.Lock()
	c.lastBlockTime = time.Now()
	c.lastBlockTimeMu.Unlock()
}

// watchdogLoop refreshes the dashboard periodically and, when following a
// node, reconnects once blocks stop arriving.
func (c *Collector) watchdogLoop(ctx context.Context, following bool) error {
	watchdog := time.NewTicker(watchdogPeriod)
	defer watchdog.Stop()
	refresh := time.NewTicker(refreshPeriod)
	defer refresh.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-refresh.C:
			c.Refresh(ctx)
		case <-watchdog.C:
			if following && c.shouldReconnect() {
				c.log.Printf("No blocks received for 30+ seconds, reconnecting WebSocket...")
				c.updateLastBlockTime()
				return fmt.Errorf("reconnect: no blocks for 30s")
			}
		}
	}
}

// shouldReconnect checks if we should reconnect due to missing blocks
func (c *Collector) shouldReconnect() bool {
	c.lastBlockTimeMu.RLock()
	defer c.lastBlockTimeMu.RUnlock()
	return time.Since(c.lastBlockTime) > watchdogPeriod
}

func (c *Collector) Close() error {
	if c.client != nil {
		return c.client.Stop()
	}
	return nil
}

// ToUpdate converts a pool snapshot into the dashboard's message.
func ToUpdate(s pool.Snapshot) tui.UpdateMsg {
	msg := tui.UpdateMsg{
		Pool: tui.PoolInfo{
			Height:      s.Height,
			Round:       s.Round,
			RoundCount:  s.RoundCount,
			RoundLength: s.RoundLength,
			Ended:       s.Ended,
			LastClosed:  s.LastClosed,
			CurrentCap:  pool.FormatAmount(s.CurrentCap),
			PoolBalance: pool.FormatAmount(s.PoolBalance),
			FundBalance: pool.FormatAmount(s.FundBalance),
		},
	}
	for _, r := range s.Rounds {
		row := tui.RoundRow{
			Index:     r.Index,
			Total:     pool.FormatAmount(r.TotalContributed),
			Cap:       pool.FormatAmount(r.RefundCap),
			OverCap:   r.TotalContributed.Gt(&r.RefundCap),
			RefundPct: 100,
		}
		if row.OverCap {
			row.RefundPct = refundPercent(r.RefundCap, r.TotalContributed)
		}
		msg.Rounds = append(msg.Rounds, row)
	}
	for _, ev := range s.Events {
		msg.Events = append(msg.Events, tui.EventRow{
			Seq:    ev.Seq,
			Kind:   string(ev.Kind),
			User:   string(ev.User),
			Amount: eventAmount(ev),
			Round:  ev.Round,
			Height: ev.Height,
		})
	}
	return msg
}

// refundPercent is limit/total in percent, to two decimals.
func refundPercent(limit, total pool.Amount) float64 {
	if total.IsZero() {
		return 100
	}
	var bp uint256.Int
	if _, overflow := bp.MulDivOverflow(&limit, uint256.NewInt(10_000), &total); overflow || !bp.IsUint64() {
		return 100
	}
	return float64(bp.Uint64()) / 100
}

func eventAmount(ev pool.Event) string {
	if ev.Kind == pool.KindCapUpdated {
		return "cap " + pool.FormatAmount(ev.Cap)
	}
	return pool.FormatAmount(ev.Amount)
}
