// Package token is an in-memory fungible token ledger with journaled
// checkpoints, so a failed unit of work can undo the transfers it made.
package token

import (
	"errors"
	"fmt"
	"sync"

	"github.com/holiman/uint256"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrSelfTransfer        = errors.New("transfer to self")
	ErrSupplyOverflow      = errors.New("supply overflow")
)

type journalEntry struct {
	account string
	prev    uint256.Int
}

type Ledger struct {
	mu       sync.Mutex
	balances map[string]uint256.Int
	supply   uint256.Int
	journal  []journalEntry
	open     int
}

func NewLedger() *Ledger {
	return &Ledger{balances: make(map[string]uint256.Int)}
}

// Mint credits amount to account out of thin air. Mints are not journaled and
// must not happen between Checkpoint and RevertTo.
func (l *Ledger) Mint(account string, amount uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var supply uint256.Int
	supply.Add(&l.supply, &amount)
	if supply.Lt(&l.supply) {
		return ErrSupplyOverflow
	}
	l.balances[account] = add(l.balances[account], amount)
	l.supply = supply
	return nil
}

// Transfer moves amount from one account to another. A zero amount is a no-op.
func (l *Ledger) Transfer(from, to string, amount uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	if from == to {
		return fmt.Errorf("%w: %s", ErrSelfTransfer, from)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	bal := l.balances[from]
	if bal.Lt(&amount) {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientBalance, from, bal.ToBig(), amount.ToBig())
	}
	var rest uint256.Int
	rest.Sub(&bal, &amount)
	l.set(from, rest)
	l.set(to, add(l.balances[to], amount))
	return nil
}

func (l *Ledger) BalanceOf(account string) uint256.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[account]
}

func (l *Ledger) TotalSupply() uint256.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.supply
}

// Checkpoint marks the journal; RevertTo undoes every balance change made
// after it and Commit forgets them.
func (l *Ledger) Checkpoint() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.open++
	return len(l.journal)
}

func (l *Ledger) RevertTo(id int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.journal) - 1; i >= id; i-- {
		e := l.journal[i]
		if e.prev.IsZero() {
			delete(l.balances, e.account)
		} else {
			l.balances[e.account] = e.prev
		}
	}
	l.journal = l.journal[:id]
	l.release()
}

func (l *Ledger) Commit(id int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.release()
}

func (l *Ledger) release() {
	if l.open > 0 {
		l.open--
	}
	if l.open == 0 {
		l.journal = nil
	}
}

func (l *Ledger) set(account string, v uint256.Int) {
	if l.open > 0 {
		l.journal = append(l.journal, journalEntry{account: account, prev: l.balances[account]})
	}
	if v.IsZero() {
		delete(l.balances, account)
		return
	}
	l.balances[account] = v
}

func add(a, b uint256.Int) uint256.Int {
	var out uint256.Int
	out.Add(&a, &b)
	return out
}
