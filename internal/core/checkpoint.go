package core

import (
	"math/big"

	"LendCore/internal/amm"
	"LendCore/internal/auction"
	"LendCore/internal/ledger"
	"LendCore/internal/lending"
	"LendCore/internal/oracle"
	"LendCore/internal/vault"
)

// Checkpoint is a deep copy of every mutable component. Taking one before
// each transaction is what makes rollback, and therefore flash-loan
// atomicity, possible: a failed transaction restores all of it, so no
// partial effect can survive.
type Checkpoint struct {
	Balances map[ledger.AccountKey]*big.Int
	Oracle   oracle.Snapshot
	Pools    map[string]amm.PoolSnapshot
	Vaults   map[string]vault.VaultSnapshot
	Lending  lending.Snapshot
	Auctions auction.Snapshot
}

func (e *Engine) takeCheckpoint() *Checkpoint {
	return &Checkpoint{
		Balances: e.book.Snapshot(),
		Oracle:   e.oracle.Snapshot(),
		Pools:    e.pools.Snapshot(),
		Vaults:   e.vaults.Snapshot(),
		Lending:  e.lending.Snapshot(),
		Auctions: e.auctions.Snapshot(),
	}
}

func (e *Engine) restoreCheckpoint(cp *Checkpoint) {
	e.book.Restore(cp.Balances)
	e.oracle.Restore(cp.Oracle)
	e.pools.Restore(cp.Pools)
	e.vaults.Restore(cp.Vaults)
	e.lending.Restore(cp.Lending)
	e.auctions.Restore(cp.Auctions)
}

// SnapshotState is the serializable engine state for durable snapshots and
// warm restarts.
type SnapshotState struct {
	Sequence  int64
	StateHash [32]byte
	State     *Checkpoint
}

// CreateSnapshotState captures the current state for persistence.
func (e *Engine) CreateSnapshotState() *SnapshotState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return &SnapshotState{
		Sequence:  e.sequence,
		StateHash: e.hasher.GetPrevHash(),
		State:     e.takeCheckpoint(),
	}
}

// RestoreFromSnapshot loads a snapshot; the caller then replays the
// operation log from snap.Sequence to catch up.
func (e *Engine) RestoreFromSnapshot(snap *SnapshotState) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sequence = snap.Sequence
	e.hasher.SetPrevHash(snap.StateHash)
	e.restoreCheckpoint(snap.State)
}
