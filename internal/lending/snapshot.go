package lending

import (
	"math/big"

	"LendCore/internal/fixedpoint"
)

// ReserveSnapshot captures a reserve's mutable state. Configs are wiring
// time constants and are carried by reference.
type ReserveSnapshot struct {
	Config              ReserveConfig
	BorrowIndex         *big.Int
	LastAccrual         int64
	TotalNormalizedDebt *big.Int
}

// Snapshot is the serializable state of the pool.
type Snapshot struct {
	DebtAsset    string
	DebtDecimals uint8
	Reserves     map[string]ReserveSnapshot
	Positions    map[PositionKey]*Position
}

func (p *Pool) Snapshot() Snapshot {
	reserves := make(map[string]ReserveSnapshot, len(p.reserves))
	for asset, r := range p.reserves {
		reserves[asset] = ReserveSnapshot{
			Config:              r.cfg,
			BorrowIndex:         fixedpoint.Clone(r.borrowIndex),
			LastAccrual:         r.lastAccrual,
			TotalNormalizedDebt: fixedpoint.Clone(r.totalNormalizedDebt),
		}
	}
	positions := make(map[PositionKey]*Position, len(p.positions))
	for key, pos := range p.positions {
		positions[key] = pos.clone()
	}
	return Snapshot{
		DebtAsset:    p.DebtAsset,
		DebtDecimals: p.DebtDecimals,
		Reserves:     reserves,
		Positions:    positions,
	}
}

func (p *Pool) Restore(snap Snapshot) {
	p.DebtAsset = snap.DebtAsset
	p.DebtDecimals = snap.DebtDecimals
	p.reserves = make(map[string]*reserve, len(snap.Reserves))
	for asset, rs := range snap.Reserves {
		p.reserves[asset] = &reserve{
			cfg:                 rs.Config,
			borrowIndex:         fixedpoint.Clone(rs.BorrowIndex),
			lastAccrual:         rs.LastAccrual,
			totalNormalizedDebt: fixedpoint.Clone(rs.TotalNormalizedDebt),
		}
	}
	p.positions = make(map[PositionKey]*Position, len(snap.Positions))
	for key, pos := range snap.Positions {
		p.positions[key] = pos.clone()
	}
}
