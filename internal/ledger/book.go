package ledger

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/google/uuid"

	"LendCore/internal/fixedpoint"
)

var (
	ErrInvalidAmount       = errors.New("ledger: amount must be positive")
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
)

// Book maintains in-memory account balances. It is the only place asset
// value lives; every component that "holds" assets holds them as a module
// account here. Amounts are big.Int in each asset's native base units.
type Book struct {
	balances map[AccountKey]*big.Int
	journal  []Entry
}

func NewBook() *Book {
	return &Book{balances: make(map[AccountKey]*big.Int)}
}

// Balance returns a copy of the current balance for an account.
func (b *Book) Balance(key AccountKey) *big.Int {
	return fixedpoint.Clone(b.balances[key])
}

// Transfer moves amount from one account to another and records the journal
// entry. Only external accounts may be driven negative: value entering the
// engine is debited against the external world.
func (b *Book) Transfer(txID uuid.UUID, from, to AccountKey, amount *big.Int, kind EntryKind, ts int64) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	bal := b.balances[from]
	if from.Scope != ScopeExternal {
		if bal == nil || bal.Cmp(amount) < 0 {
			return fmt.Errorf("%w: %s has %s, need %s", ErrInsufficientBalance, from.Path(), fixedpoint.Clone(bal), amount)
		}
	}
	b.add(from, new(big.Int).Neg(amount))
	b.add(to, amount)

	b.journal = append(b.journal, Entry{
		EntryID:   uuid.New(),
		TxID:      txID,
		Debit:     to,
		Credit:    from,
		Asset:     to.Asset,
		Amount:    amount.String(),
		Kind:      kind,
		Timestamp: ts,
	})
	return nil
}

func (b *Book) add(key AccountKey, delta *big.Int) {
	bal := b.balances[key]
	if bal == nil {
		bal = new(big.Int)
		b.balances[key] = bal
	}
	bal.Add(bal, delta)
}

// DrainJournal returns and clears entries accumulated since the last drain.
// The executor calls this once per committed transaction.
func (b *Book) DrainJournal() []Entry {
	j := b.journal
	b.journal = nil
	return j
}

// ValidateNonNegative checks that no user or module account went negative.
func (b *Book) ValidateNonNegative() error {
	for key, bal := range b.balances {
		if key.Scope == ScopeExternal {
			continue
		}
		if bal.Sign() < 0 {
			return fmt.Errorf("account %s has negative balance %s", key.Path(), bal)
		}
	}
	return nil
}

// GlobalSums returns the per-asset sum over all accounts. A zero-sum book
// means no value was created or destroyed inside the engine.
func (b *Book) GlobalSums() map[string]*big.Int {
	totals := make(map[string]*big.Int)
	for key, bal := range b.balances {
		t := totals[key.Asset]
		if t == nil {
			t = new(big.Int)
			totals[key.Asset] = t
		}
		t.Add(t, bal)
	}
	return totals
}

// Snapshot returns a deep copy of all balances.
func (b *Book) Snapshot() map[AccountKey]*big.Int {
	snap := make(map[AccountKey]*big.Int, len(b.balances))
	for k, v := range b.balances {
		snap[k] = new(big.Int).Set(v)
	}
	return snap
}

// Restore replaces all balances with the given snapshot. Pending journal
// entries are discarded along with the state they described.
func (b *Book) Restore(snap map[AccountKey]*big.Int) {
	b.balances = make(map[AccountKey]*big.Int, len(snap))
	for k, v := range snap {
		b.balances[k] = new(big.Int).Set(v)
	}
	b.journal = nil
}
