// Package chain provides the height sources a pool counts rounds with.
package chain

import (
	"context"
	"fmt"
	"sync"

	rpchttp "github.com/cometbft/cometbft/rpc/client/http"
)

// RPCClock reads the latest committed block height from a CometBFT node.
type RPCClock struct {
	client *rpchttp.HTTP

	mu   sync.Mutex
	last int64
}

// NewRPCClock connects to rpcURL. wsPath is only used for event subscriptions
// but the client needs it at construction.
func NewRPCClock(rpcURL, wsPath string) (*RPCClock, error) {
	c, err := rpchttp.New(rpcURL, wsPath)
	if err != nil {
		return nil, fmt.Errorf("create rpc client: %w", err)
	}
	return &RPCClock{client: c}, nil
}

// CurrentHeight never goes backwards, even when a lagging node is queried
// after a more advanced one.
func (c *RPCClock) CurrentHeight(ctx context.Context) (int64, error) {
	st, err := c.client.Status(ctx)
	if err != nil {
		return 0, fmt.Errorf("rpc status: %w", err)
	}
	return c.observe(st.SyncInfo.LatestBlockHeight), nil
}

func (c *RPCClock) observe(h int64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if h > c.last {
		c.last = h
	}
	return c.last
}

// ManualClock is advanced by hand; used by tests and simulations.
type ManualClock struct {
	mu     sync.Mutex
	height int64
}

func NewManualClock(height int64) *ManualClock {
	return &ManualClock{height: height}
}

func (c *ManualClock) CurrentHeight(context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.height, nil
}

// Mine advances the clock by n blocks and returns the new height.
func (c *ManualClock) Mine(n int64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n > 0 {
		c.height += n
	}
	return c.height
}
