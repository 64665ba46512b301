package lending

import (
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/shopspring/decimal"

	"LendCore/internal/fixedpoint"
)

var (
	ErrReserveNotFound        = errors.New("lending: reserve not found")
	ErrPositionNotFound       = errors.New("lending: position not found")
	ErrHealthFactorTooLow     = errors.New("lending: health factor too low")
	ErrDebtCeilingExceeded    = errors.New("lending: debt ceiling exceeded")
	ErrMinimumDebtViolation   = errors.New("lending: debt below dust minimum")
	ErrInsufficientCollateral = errors.New("lending: insufficient collateral")
	ErrRepayExceedsDebt       = errors.New("lending: repayment exceeds debt")
	ErrPositionHealthy        = errors.New("lending: position is healthy")
	ErrInvalidAmount          = errors.New("lending: amount must be non-zero")
)

// maxHealthFactor is reported for positions with no debt.
var maxHealthFactor = decimal.NewFromInt(1_000_000_000)

// Price is a validated quote handed in by the caller. The pool never talks
// to the oracle directly; valuation inputs arrive explicitly so the same
// position math serves live quotes and checkpoint quotes alike.
type Price struct {
	Value    *big.Int
	Decimals uint8
}

type reserve struct {
	cfg ReserveConfig

	// borrowIndex compounds per second and only ever grows.
	borrowIndex         *big.Int
	lastAccrual         int64
	totalNormalizedDebt *big.Int
}

// totalDebt is the reserve's outstanding debt in debt asset units, rounded
// up against borrowers.
func (r *reserve) totalDebt() *big.Int {
	if r.totalNormalizedDebt.Sign() == 0 {
		return new(big.Int)
	}
	return fixedpoint.MulDivUp(r.totalNormalizedDebt, r.borrowIndex, fixedpoint.Wad)
}

// Pool manages reserves and positions. Debt is denominated in a single pool
// wide asset; each collateral asset has its own reserve, rate, and index.
type Pool struct {
	DebtAsset    string
	DebtDecimals uint8

	reserves  map[string]*reserve
	positions map[PositionKey]*Position
}

func NewPool(debtAsset string, debtDecimals uint8) *Pool {
	return &Pool{
		DebtAsset:    debtAsset,
		DebtDecimals: debtDecimals,
		reserves:     make(map[string]*reserve),
		positions:    make(map[PositionKey]*Position),
	}
}

// RegisterReserve adds a collateral reserve with a fresh unit index.
func (p *Pool) RegisterReserve(cfg ReserveConfig, now int64) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if _, ok := p.reserves[cfg.Asset]; ok {
		return fmt.Errorf("lending: reserve %s already registered", cfg.Asset)
	}
	p.reserves[cfg.Asset] = &reserve{
		cfg:                 cfg,
		borrowIndex:         fixedpoint.Clone(fixedpoint.Wad),
		lastAccrual:         now,
		totalNormalizedDebt: new(big.Int),
	}
	return nil
}

func (p *Pool) getReserve(asset string) (*reserve, error) {
	r, ok := p.reserves[asset]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrReserveNotFound, asset)
	}
	return r, nil
}

// Config returns the reserve configuration for a collateral asset.
func (p *Pool) Config(asset string) (ReserveConfig, error) {
	r, err := p.getReserve(asset)
	if err != nil {
		return ReserveConfig{}, err
	}
	return r.cfg, nil
}

// BorrowIndex returns the current borrow index for a reserve.
func (p *Pool) BorrowIndex(asset string) (*big.Int, error) {
	r, err := p.getReserve(asset)
	if err != nil {
		return nil, err
	}
	return fixedpoint.Clone(r.borrowIndex), nil
}

// ReserveAssets lists the registered collateral assets in sorted order.
func (p *Pool) ReserveAssets() []string {
	assets := make([]string, 0, len(p.reserves))
	for asset := range p.reserves {
		assets = append(assets, asset)
	}
	sort.Strings(assets)
	return assets
}

// TotalDebt returns the reserve's outstanding debt in debt asset units.
func (p *Pool) TotalDebt(asset string) (*big.Int, error) {
	r, err := p.getReserve(asset)
	if err != nil {
		return nil, err
	}
	return r.totalDebt(), nil
}

// AccrueInterest compounds the reserve's borrow index up to now. Calling it
// twice with the same timestamp is a no-op, and a timestamp earlier than the
// last accrual never rewinds the index.
func (p *Pool) AccrueInterest(now int64, asset string) error {
	r, err := p.getReserve(asset)
	if err != nil {
		return err
	}
	r.accrue(now)
	return nil
}

func (r *reserve) accrue(now int64) {
	dt := now - r.lastAccrual
	if dt <= 0 {
		return
	}
	base := new(big.Int).Add(fixedpoint.Wad, r.cfg.RatePerSecWad)
	factor := fixedpoint.WadPow(base, uint64(dt))
	next := fixedpoint.WadMul(r.borrowIndex, factor)
	if next.Cmp(r.borrowIndex) < 0 {
		panic(fmt.Sprintf("FATAL: borrow index regression for %s: %s -> %s", r.cfg.Asset, r.borrowIndex, next))
	}
	r.borrowIndex = next
	r.lastAccrual = now
}

// GetPosition returns a copy of the position, or ErrPositionNotFound.
func (p *Pool) GetPosition(owner, asset string) (*Position, error) {
	pos, ok := p.positions[PositionKey{Owner: owner, Asset: asset}]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrPositionNotFound, owner, asset)
	}
	return pos.clone(), nil
}

// Positions returns copies of all open positions.
func (p *Pool) Positions() []*Position {
	out := make([]*Position, 0, len(p.positions))
	for _, pos := range p.positions {
		out = append(out, pos.clone())
	}
	return out
}

// ModifyPosition applies a collateral delta and a debt delta atomically.
// Interest is accrued first so the debt delta lands on the current index.
// Checks run in order: collateral sufficiency, repay bound, dust, debt
// ceiling, loan-to-value on new debt, then the liquidation-threshold health
// factor whenever the change can weaken the position. Either everything
// commits or nothing does.
func (p *Pool) ModifyPosition(now int64, owner, asset string, collateralDelta, debtDelta *big.Int, collatPrice, debtPrice Price) (*Position, error) {
	r, err := p.getReserve(asset)
	if err != nil {
		return nil, err
	}
	r.accrue(now)

	if fixedpoint.IsZero(collateralDelta) && fixedpoint.IsZero(debtDelta) {
		return nil, ErrInvalidAmount
	}

	key := PositionKey{Owner: owner, Asset: asset}
	pos, ok := p.positions[key]
	if !ok {
		pos = newPosition(owner, asset)
	}

	newCollateral := new(big.Int).Set(pos.Collateral)
	if collateralDelta != nil {
		newCollateral.Add(newCollateral, collateralDelta)
	}
	if newCollateral.Sign() < 0 {
		return nil, fmt.Errorf("%w: %s/%s has %s, delta %s", ErrInsufficientCollateral, owner, asset, pos.Collateral, collateralDelta)
	}

	curDebt := pos.Debt(r.borrowIndex)
	newDebt := new(big.Int).Set(curDebt)
	if debtDelta != nil {
		newDebt.Add(newDebt, debtDelta)
	}
	if newDebt.Sign() < 0 {
		return nil, fmt.Errorf("%w: owed %s, delta %s", ErrRepayExceedsDebt, curDebt, debtDelta)
	}

	if newDebt.Sign() > 0 && r.cfg.DustMin != nil && newDebt.Cmp(r.cfg.DustMin) < 0 {
		return nil, fmt.Errorf("%w: %s below %s", ErrMinimumDebtViolation, newDebt, r.cfg.DustMin)
	}

	borrowing := debtDelta != nil && debtDelta.Sign() > 0
	weakening := borrowing || (collateralDelta != nil && collateralDelta.Sign() < 0)

	if borrowing {
		if r.cfg.DebtCeiling != nil && r.cfg.DebtCeiling.Sign() > 0 {
			projected := new(big.Int).Add(r.totalDebt(), debtDelta)
			if projected.Cmp(r.cfg.DebtCeiling) > 0 {
				return nil, fmt.Errorf("%w: %s would reach %s, ceiling %s", ErrDebtCeilingExceeded, asset, projected, r.cfg.DebtCeiling)
			}
		}
		// New debt is admitted against maxLTV, which is strictly tighter
		// than the liquidation threshold.
		collateralValue := fixedpoint.NormalizeValue(newCollateral, r.cfg.Decimals, collatPrice.Value, collatPrice.Decimals)
		debtValue := fixedpoint.NormalizeValue(newDebt, p.DebtDecimals, debtPrice.Value, debtPrice.Decimals)
		if debtValue.Cmp(fixedpoint.BpsMul(collateralValue, r.cfg.MaxLTVBps)) > 0 {
			return nil, fmt.Errorf("%w: debt value exceeds maxLTV for %s/%s", ErrHealthFactorTooLow, owner, asset)
		}
	}
	if weakening && newDebt.Sign() > 0 {
		hf, hasDebt := p.healthWad(r.cfg, newCollateral, newDebt, collatPrice, debtPrice)
		if hasDebt && hf.Cmp(fixedpoint.Wad) < 0 {
			return nil, fmt.Errorf("%w: %s/%s hf=%s", ErrHealthFactorTooLow, owner, asset, fixedpoint.WadToDecimal(hf))
		}
	}

	// Commit.
	if debtDelta != nil && debtDelta.Sign() != 0 {
		if newDebt.Sign() == 0 {
			r.totalNormalizedDebt.Sub(r.totalNormalizedDebt, pos.NormalizedDebt)
			pos.NormalizedDebt = new(big.Int)
		} else if debtDelta.Sign() > 0 {
			add := fixedpoint.MulDivUp(debtDelta, fixedpoint.Wad, r.borrowIndex)
			pos.NormalizedDebt.Add(pos.NormalizedDebt, add)
			r.totalNormalizedDebt.Add(r.totalNormalizedDebt, add)
		} else {
			sub := fixedpoint.MulDiv(new(big.Int).Neg(debtDelta), fixedpoint.Wad, r.borrowIndex)
			sub = fixedpoint.Min(sub, pos.NormalizedDebt)
			pos.NormalizedDebt.Sub(pos.NormalizedDebt, sub)
			r.totalNormalizedDebt.Sub(r.totalNormalizedDebt, sub)
		}
	}
	pos.Collateral = newCollateral

	if pos.empty() {
		delete(p.positions, key)
	} else {
		p.positions[key] = pos
	}
	return pos.clone(), nil
}

// healthWad computes collateralValue*threshold/debtValue in WAD. The second
// return is false when the position carries no debt.
func (p *Pool) healthWad(cfg ReserveConfig, collateral, debt *big.Int, collatPrice, debtPrice Price) (*big.Int, bool) {
	if debt.Sign() == 0 {
		return nil, false
	}
	collateralValue := fixedpoint.NormalizeValue(collateral, cfg.Decimals, collatPrice.Value, collatPrice.Decimals)
	weighted := fixedpoint.BpsMul(collateralValue, cfg.LiquidationThresholdBps)
	debtValue := fixedpoint.NormalizeValue(debt, p.DebtDecimals, debtPrice.Value, debtPrice.Decimals)
	return fixedpoint.WadDiv(weighted, debtValue), true
}

// HealthFactor values the position at the given quotes. Debt-free positions
// report a fixed ceiling value rather than dividing by zero.
func (p *Pool) HealthFactor(now int64, owner, asset string, collatPrice, debtPrice Price) (decimal.Decimal, error) {
	r, err := p.getReserve(asset)
	if err != nil {
		return decimal.Zero, err
	}
	r.accrue(now)
	pos, ok := p.positions[PositionKey{Owner: owner, Asset: asset}]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s/%s", ErrPositionNotFound, owner, asset)
	}
	hf, hasDebt := p.healthWad(r.cfg, pos.Collateral, pos.Debt(r.borrowIndex), collatPrice, debtPrice)
	if !hasDebt {
		return maxHealthFactor, nil
	}
	return fixedpoint.WadToDecimal(hf), nil
}

// PreviewHealthFactor is the read-only variant used by the query surface.
// It prices debt at the stored index without accruing, so it never mutates
// state and may lag true health by the time since the last accrual.
func (p *Pool) PreviewHealthFactor(owner, asset string, collatPrice, debtPrice Price) (decimal.Decimal, error) {
	r, err := p.getReserve(asset)
	if err != nil {
		return decimal.Zero, err
	}
	pos, ok := p.positions[PositionKey{Owner: owner, Asset: asset}]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s/%s", ErrPositionNotFound, owner, asset)
	}
	hf, hasDebt := p.healthWad(r.cfg, pos.Collateral, pos.Debt(r.borrowIndex), collatPrice, debtPrice)
	if !hasDebt {
		return maxHealthFactor, nil
	}
	return fixedpoint.WadToDecimal(hf), nil
}

// CheckLiquidatable gates auction starts: ErrPositionHealthy unless the
// health factor is strictly below one.
func (p *Pool) CheckLiquidatable(now int64, owner, asset string, collatPrice, debtPrice Price) error {
	r, err := p.getReserve(asset)
	if err != nil {
		return err
	}
	r.accrue(now)
	pos, ok := p.positions[PositionKey{Owner: owner, Asset: asset}]
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrPositionNotFound, owner, asset)
	}
	hf, hasDebt := p.healthWad(r.cfg, pos.Collateral, pos.Debt(r.borrowIndex), collatPrice, debtPrice)
	if !hasDebt || hf.Cmp(fixedpoint.Wad) >= 0 {
		return fmt.Errorf("%w: %s/%s", ErrPositionHealthy, owner, asset)
	}
	return nil
}

// ApplyLiquidation settles an auction fill into the position: collateral is
// seized and debt is repaid without any health check. The auction engine is
// the only caller; it already priced the lot.
func (p *Pool) ApplyLiquidation(now int64, owner, asset string, seizeCollateral, repayDebt *big.Int) (*Position, error) {
	r, err := p.getReserve(asset)
	if err != nil {
		return nil, err
	}
	r.accrue(now)

	key := PositionKey{Owner: owner, Asset: asset}
	pos, ok := p.positions[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrPositionNotFound, owner, asset)
	}
	if seizeCollateral.Cmp(pos.Collateral) > 0 {
		return nil, fmt.Errorf("%w: seize %s > held %s", ErrInsufficientCollateral, seizeCollateral, pos.Collateral)
	}

	pos.Collateral.Sub(pos.Collateral, seizeCollateral)

	curDebt := pos.Debt(r.borrowIndex)
	if repayDebt.Cmp(curDebt) >= 0 {
		r.totalNormalizedDebt.Sub(r.totalNormalizedDebt, pos.NormalizedDebt)
		pos.NormalizedDebt = new(big.Int)
	} else {
		sub := fixedpoint.MulDiv(repayDebt, fixedpoint.Wad, r.borrowIndex)
		sub = fixedpoint.Min(sub, pos.NormalizedDebt)
		pos.NormalizedDebt.Sub(pos.NormalizedDebt, sub)
		r.totalNormalizedDebt.Sub(r.totalNormalizedDebt, sub)
	}

	if pos.empty() {
		delete(p.positions, key)
		return &Position{Owner: owner, Asset: asset, Collateral: new(big.Int), NormalizedDebt: new(big.Int)}, nil
	}
	return pos.clone(), nil
}
