// Package pool implements the round-based burn pile: contributions grouped into
// fixed-length rounds of chain height, refunds capped per round, and the excess
// above a round's cap partially forwarded to a fund address.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"burn-pile/internal/logger"
)

var (
	// ErrPoolEnded is returned for contributions after the final round's window.
	ErrPoolEnded = errors.New("the burn has ended")
	// ErrNotAuthorized is returned when a non-owner tries to change the refund cap.
	ErrNotAuthorized = errors.New("caller is not the owner")
	// ErrTransferFailed wraps any failure of the token ledger.
	ErrTransferFailed = errors.New("token transfer failed")
	ErrInvalidAmount  = errors.New("invalid amount")
	ErrInvalidAddress = errors.New("invalid address")
	ErrInvalidConfig  = errors.New("invalid pool config")
	// ErrOverflow is returned when an amount computation leaves 256 bits.
	ErrOverflow = errors.New("amount overflows 256 bits")
)

// Config is fixed at creation. RefundCap only seeds the cap schedule; later
// changes go through SetRefundCap.
type Config struct {
	RoundLength      uint64
	RoundCount       uint64
	StartHeight      int64
	RefundCap        Amount
	FundSharePercent uint64
	FundAddress      Address
	PoolAddress      Address
	Owner            Address
}

func (c Config) Validate() error {
	switch {
	case c.RoundLength == 0:
		return fmt.Errorf("%w: round length must be positive", ErrInvalidConfig)
	case c.RoundCount == 0:
		return fmt.Errorf("%w: round count must be positive", ErrInvalidConfig)
	case c.FundSharePercent > 100:
		return fmt.Errorf("%w: fund share %d%% exceeds 100%%", ErrInvalidConfig, c.FundSharePercent)
	case c.FundAddress == "":
		return fmt.Errorf("%w: fund address is empty", ErrInvalidConfig)
	case c.PoolAddress == "":
		return fmt.Errorf("%w: pool address is empty", ErrInvalidConfig)
	case c.PoolAddress == c.FundAddress:
		return fmt.Errorf("%w: pool and fund address must differ", ErrInvalidConfig)
	}
	return nil
}

// Clock reports the external chain height. Heights never decrease.
type Clock interface {
	CurrentHeight(ctx context.Context) (int64, error)
}

// Authorizer decides who may change the refund cap.
type Authorizer interface {
	IsOwner(caller Address) bool
}

// OwnerOnly authorizes a single address.
type OwnerOnly Address

func (o OwnerOnly) IsOwner(caller Address) bool {
	return o != "" && Address(o) == caller
}

// Anchor is implemented by backends that persist the pool's start height, so
// a restarted process keeps counting rounds from the height the pool was first created at.
type Anchor interface {
	AnchorStart(ctx context.Context, height int64) (int64, error)
}

type Option func(*Pool)

func WithAuthorizer(a Authorizer) Option {
	return func(p *Pool) { p.auth = a }
}

func WithLogger(l *logger.Logger) Option {
	return func(p *Pool) { p.log = l }
}

// WithListener registers a callback invoked with every event after its
// operation has committed.
func WithListener(fn func(Event)) Option {
	return func(p *Pool) { p.listeners = append(p.listeners, fn) }
}

// Pool serializes every operation: each Contribute, ClaimRefund or
// SetRefundCap reads the clock once and runs to completion before the next.
type Pool struct {
	cfg       Config
	backend   Backend
	clock     Clock
	auth      Authorizer
	log       *logger.Logger
	listeners []func(Event)

	mu sync.Mutex
}

// New creates a pool. A zero StartHeight means "now": the clock is read once.
// Backends implementing Anchor override it with the height stored on first use.
func New(ctx context.Context, cfg Config, backend Backend, clock Clock, opts ...Option) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Pool{
		cfg:     cfg,
		backend: backend,
		clock:   clock,
		auth:    OwnerOnly(cfg.Owner),
		log:     logger.New(false),
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.cfg.StartHeight == 0 {
		h, err := clock.CurrentHeight(ctx)
		if err != nil {
			return nil, fmt.Errorf("read start height: %w", err)
		}
		p.cfg.StartHeight = h
	}
	if a, ok := backend.(Anchor); ok {
		start, err := a.AnchorStart(ctx, p.cfg.StartHeight)
		if err != nil {
			return nil, fmt.Errorf("anchor start height: %w", err)
		}
		p.cfg.StartHeight = start
	}

	err := backend.Atomic(ctx, func(tx Tx) error {
		schedule, err := tx.CapSchedule(ctx)
		if err != nil {
			return err
		}
		if len(schedule) > 0 {
			return nil
		}
		return tx.AppendCapChange(ctx, CapChange{FromRound: 0, Cap: cfg.RefundCap})
	})
	if err != nil {
		return nil, fmt.Errorf("seed cap schedule: %w", err)
	}
	return p, nil
}

func (p *Pool) Config() Config {
	return p.cfg
}

func (p *Pool) emit(ev Event) {
	for _, fn := range p.listeners {
		fn(ev)
	}
}

func transferErr(what string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrTransferFailed, what, err)
}
