package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/google/uuid"

	"LendCore/internal/amm"
	"LendCore/internal/auction"
	"LendCore/internal/core"
	"LendCore/internal/ledger"
	"LendCore/internal/lending"
	"LendCore/internal/oracle"
	"LendCore/internal/vault"
)

// SnapshotStore persists full engine snapshots so a warm restart can load
// the latest one and replay only the log tail.
type SnapshotStore struct {
	db *sql.DB
}

func NewSnapshotStore(db *sql.DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

// balanceRow flattens a ledger balance; JSON cannot key maps by struct.
type balanceRow struct {
	Scope  int32  `json:"scope"`
	Owner  string `json:"owner"`
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

type snapshotDoc struct {
	Sequence  int64                         `json:"sequence"`
	StateHash []byte                        `json:"state_hash"`
	Balances  []balanceRow                  `json:"balances"`
	Oracle    oracle.Snapshot               `json:"oracle"`
	Pools     map[string]amm.PoolSnapshot   `json:"pools"`
	Vaults    map[string]vault.VaultSnapshot `json:"vaults"`
	Lending   lendingDoc                    `json:"lending"`
	Auctions  []*auction.Auction            `json:"auctions"`
}

type lendingDoc struct {
	DebtAsset    string                              `json:"debt_asset"`
	DebtDecimals uint8                               `json:"debt_decimals"`
	Reserves     map[string]lending.ReserveSnapshot  `json:"reserves"`
	Positions    []*lending.Position                 `json:"positions"`
}

func encodeSnapshot(snap *core.SnapshotState) ([]byte, error) {
	doc := snapshotDoc{
		Sequence:  snap.Sequence,
		StateHash: snap.StateHash[:],
		Oracle:    snap.State.Oracle,
		Pools:     snap.State.Pools,
		Vaults:    snap.State.Vaults,
		Lending: lendingDoc{
			DebtAsset:    snap.State.Lending.DebtAsset,
			DebtDecimals: snap.State.Lending.DebtDecimals,
			Reserves:     snap.State.Lending.Reserves,
		},
	}
	for key, bal := range snap.State.Balances {
		doc.Balances = append(doc.Balances, balanceRow{
			Scope:  int32(key.Scope),
			Owner:  key.Owner,
			Asset:  key.Asset,
			Amount: bal.String(),
		})
	}
	for _, pos := range snap.State.Lending.Positions {
		doc.Lending.Positions = append(doc.Lending.Positions, pos)
	}
	for _, a := range snap.State.Auctions.Auctions {
		doc.Auctions = append(doc.Auctions, a)
	}
	return json.Marshal(doc)
}

func decodeSnapshot(data []byte) (*core.SnapshotState, error) {
	var doc snapshotDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}

	cp := &core.Checkpoint{
		Balances: make(map[ledger.AccountKey]*big.Int, len(doc.Balances)),
		Oracle:   doc.Oracle,
		Pools:    doc.Pools,
		Vaults:   doc.Vaults,
		Lending: lending.Snapshot{
			DebtAsset:    doc.Lending.DebtAsset,
			DebtDecimals: doc.Lending.DebtDecimals,
			Reserves:     doc.Lending.Reserves,
			Positions:    make(map[lending.PositionKey]*lending.Position, len(doc.Lending.Positions)),
		},
		Auctions: auction.Snapshot{},
	}
	for _, row := range doc.Balances {
		amount, ok := new(big.Int).SetString(row.Amount, 10)
		if !ok {
			return nil, fmt.Errorf("corrupt balance amount %q", row.Amount)
		}
		key := ledger.AccountKey{Scope: ledger.Scope(row.Scope), Owner: row.Owner, Asset: row.Asset}
		cp.Balances[key] = amount
	}
	for _, pos := range doc.Lending.Positions {
		cp.Lending.Positions[lending.PositionKey{Owner: pos.Owner, Asset: pos.Asset}] = pos
	}
	cp.Auctions.Auctions = make(map[uuid.UUID]*auction.Auction, len(doc.Auctions))
	for _, a := range doc.Auctions {
		cp.Auctions.Auctions[a.ID] = a
	}

	snap := &core.SnapshotState{Sequence: doc.Sequence, State: cp}
	copy(snap.StateHash[:], doc.StateHash)
	return snap, nil
}

// Save writes a snapshot row.
func (s *SnapshotStore) Save(ctx context.Context, snap *core.SnapshotState) error {
	data, err := encodeSnapshot(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO op_log.snapshots (sequence, state_hash, data) VALUES ($1, $2, $3)
		 ON CONFLICT (sequence) DO NOTHING`,
		snap.Sequence, snap.StateHash[:], data)
	return err
}

// LoadLatest returns the newest snapshot, or nil when none exists.
func (s *SnapshotStore) LoadLatest(ctx context.Context) (*core.SnapshotState, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM op_log.snapshots ORDER BY sequence DESC LIMIT 1`).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeSnapshot(data)
}
