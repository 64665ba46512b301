package lending

import (
	"math/big"

	"LendCore/internal/fixedpoint"
)

// PositionKey identifies a position by borrower and collateral asset. Debt is
// always denominated in the pool's single debt asset.
type PositionKey struct {
	Owner string
	Asset string
}

// Position holds one borrower's collateral and index-normalized debt against
// one reserve. Actual debt owed is NormalizedDebt scaled by the reserve's
// current borrow index.
type Position struct {
	Owner string
	Asset string

	// Collateral in the collateral asset's base units.
	Collateral *big.Int

	// NormalizedDebt is debt divided by the borrow index at origination,
	// WAD scaled. It never changes during accrual; only the index moves.
	NormalizedDebt *big.Int
}

func newPosition(owner, asset string) *Position {
	return &Position{
		Owner:          owner,
		Asset:          asset,
		Collateral:     new(big.Int),
		NormalizedDebt: new(big.Int),
	}
}

// Debt returns the current debt in debt asset base units at the given borrow
// index, rounded up so accrued interest is never truncated away.
func (p *Position) Debt(borrowIndex *big.Int) *big.Int {
	if p.NormalizedDebt.Sign() == 0 {
		return new(big.Int)
	}
	return fixedpoint.MulDivUp(p.NormalizedDebt, borrowIndex, fixedpoint.Wad)
}

func (p *Position) empty() bool {
	return p.Collateral.Sign() == 0 && p.NormalizedDebt.Sign() == 0
}

func (p *Position) clone() *Position {
	return &Position{
		Owner:          p.Owner,
		Asset:          p.Asset,
		Collateral:     fixedpoint.Clone(p.Collateral),
		NormalizedDebt: fixedpoint.Clone(p.NormalizedDebt),
	}
}
