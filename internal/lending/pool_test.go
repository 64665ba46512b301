package lending_test

import (
	"errors"
	"math/big"
	"testing"

	"LendCore/internal/lending"
)

func big_(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("bad literal " + s)
	}
	return v
}

func quote(v int64) lending.Price {
	return lending.Price{Value: big.NewInt(v), Decimals: 8}
}

var (
	wethPrice = quote(300_000_000_000) // $3000
	usdcPrice = quote(100_000_000)     // $1
)

// newTestPool registers a WETH reserve against a 6-decimal USDC debt asset.
// 80% max LTV, 82.5% liquidation threshold, 5% bonus.
func newTestPool(t *testing.T) *lending.Pool {
	t.Helper()
	p := lending.NewPool("USDC", 6)
	err := p.RegisterReserve(lending.ReserveConfig{
		Asset:                   "WETH",
		Decimals:                18,
		MaxLTVBps:               8000,
		LiquidationThresholdBps: 8250,
		LiquidationBonusBps:     500,
		DebtCeiling:             big_("1000000000000"), // 1M USDC
		DustMin:                 big.NewInt(100_000_000),
		RatePerSecWad:           big.NewInt(1_585_489_599), // ~5% APR
	}, 1000)
	if err != nil {
		t.Fatalf("register reserve: %v", err)
	}
	return p
}

// openPosition supplies 1 WETH and borrows 1500 USDC.
func openPosition(t *testing.T, p *lending.Pool, owner string) {
	t.Helper()
	_, err := p.ModifyPosition(1000, owner, "WETH", big_("1000000000000000000"), nil, lending.Price{}, lending.Price{})
	if err != nil {
		t.Fatalf("supply: %v", err)
	}
	_, err = p.ModifyPosition(1000, owner, "WETH", nil, big.NewInt(1_500_000_000), wethPrice, usdcPrice)
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}
}

func TestHealthFactor_Exact(t *testing.T) {
	p := newTestPool(t)
	openPosition(t, p, "alice")

	// 1 WETH at $3000 weighted by 82.5% against $1500 debt: 2475/1500.
	hf, err := p.HealthFactor(1000, "alice", "WETH", wethPrice, usdcPrice)
	if err != nil {
		t.Fatalf("health factor: %v", err)
	}
	if hf.String() != "1.65" {
		t.Errorf("got %s, want 1.65", hf)
	}
}

func TestHealthFactor_DebtFreeCeiling(t *testing.T) {
	p := newTestPool(t)
	p.ModifyPosition(1000, "alice", "WETH", big_("1000000000000000000"), nil, lending.Price{}, lending.Price{})

	hf, err := p.HealthFactor(1000, "alice", "WETH", wethPrice, usdcPrice)
	if err != nil {
		t.Fatalf("health factor: %v", err)
	}
	if hf.String() != "1000000000" {
		t.Errorf("debt-free position: got %s, want the fixed ceiling", hf)
	}
}

func TestBorrow_BeyondMaxLTV(t *testing.T) {
	p := newTestPool(t)
	p.ModifyPosition(1000, "alice", "WETH", big_("1000000000000000000"), nil, lending.Price{}, lending.Price{})

	// maxLTV admits up to $2400 against $3000 collateral.
	_, err := p.ModifyPosition(1000, "alice", "WETH", nil, big.NewInt(2_400_000_001), wethPrice, usdcPrice)
	if !errors.Is(err, lending.ErrHealthFactorTooLow) {
		t.Errorf("got %v, want ErrHealthFactorTooLow", err)
	}
	_, err = p.ModifyPosition(1000, "alice", "WETH", nil, big.NewInt(2_400_000_000), wethPrice, usdcPrice)
	if err != nil {
		t.Errorf("borrow at exactly maxLTV must pass: %v", err)
	}
}

func TestBorrow_DebtCeiling(t *testing.T) {
	p := newTestPool(t)
	p.ModifyPosition(1000, "whale", "WETH", big_("1000000000000000000000"), nil, lending.Price{}, lending.Price{})

	// Ceiling is 1M USDC; collateral supports far more.
	_, err := p.ModifyPosition(1000, "whale", "WETH", nil, big_("1000000000001"), wethPrice, usdcPrice)
	if !errors.Is(err, lending.ErrDebtCeilingExceeded) {
		t.Errorf("got %v, want ErrDebtCeilingExceeded", err)
	}
}

func TestBorrow_DustMinimum(t *testing.T) {
	p := newTestPool(t)
	p.ModifyPosition(1000, "alice", "WETH", big_("1000000000000000000"), nil, lending.Price{}, lending.Price{})

	// 50 USDC is below the 100 USDC dust floor.
	_, err := p.ModifyPosition(1000, "alice", "WETH", nil, big.NewInt(50_000_000), wethPrice, usdcPrice)
	if !errors.Is(err, lending.ErrMinimumDebtViolation) {
		t.Errorf("got %v, want ErrMinimumDebtViolation", err)
	}
}

func TestRepay_CannotExceedDebt(t *testing.T) {
	p := newTestPool(t)
	openPosition(t, p, "alice")

	_, err := p.ModifyPosition(1000, "alice", "WETH", nil, big.NewInt(-1_600_000_000), wethPrice, usdcPrice)
	if !errors.Is(err, lending.ErrRepayExceedsDebt) {
		t.Errorf("got %v, want ErrRepayExceedsDebt", err)
	}
}

func TestRepayToDust_Rejected(t *testing.T) {
	p := newTestPool(t)
	openPosition(t, p, "alice")

	// Leaving 50 USDC outstanding violates the dust floor; repay fully or
	// stay above it.
	_, err := p.ModifyPosition(1000, "alice", "WETH", nil, big.NewInt(-1_450_000_000), wethPrice, usdcPrice)
	if !errors.Is(err, lending.ErrMinimumDebtViolation) {
		t.Errorf("got %v, want ErrMinimumDebtViolation", err)
	}
}

func TestWithdrawCollateral_HealthGate(t *testing.T) {
	p := newTestPool(t)
	openPosition(t, p, "alice")

	// Withdrawing 0.5 WETH leaves $1500*0.825 = $1237.5 of weighted
	// collateral against $1500 debt.
	_, err := p.ModifyPosition(1000, "alice", "WETH", big_("-500000000000000000"), nil, wethPrice, usdcPrice)
	if !errors.Is(err, lending.ErrHealthFactorTooLow) {
		t.Errorf("got %v, want ErrHealthFactorTooLow", err)
	}

	// A modest withdrawal that keeps HF above one passes.
	_, err = p.ModifyPosition(1000, "alice", "WETH", big_("-100000000000000000"), nil, wethPrice, usdcPrice)
	if err != nil {
		t.Errorf("safe withdrawal rejected: %v", err)
	}
}

func TestWithdrawCollateral_MoreThanHeld(t *testing.T) {
	p := newTestPool(t)
	p.ModifyPosition(1000, "alice", "WETH", big_("1000000000000000000"), nil, lending.Price{}, lending.Price{})

	_, err := p.ModifyPosition(1000, "alice", "WETH", big_("-2000000000000000000"), nil, wethPrice, usdcPrice)
	if !errors.Is(err, lending.ErrInsufficientCollateral) {
		t.Errorf("got %v, want ErrInsufficientCollateral", err)
	}
}

func TestSupplyCollateral_NoPriceNeeded(t *testing.T) {
	p := newTestPool(t)

	// Strengthening changes go through with zero-value quotes.
	pos, err := p.ModifyPosition(1000, "alice", "WETH", big_("1000000000000000000"), nil, lending.Price{}, lending.Price{})
	if err != nil {
		t.Fatalf("supply: %v", err)
	}
	if pos.Collateral.Cmp(big_("1000000000000000000")) != 0 {
		t.Errorf("collateral: got %s", pos.Collateral)
	}
}

func TestAccrueInterest_Idempotent(t *testing.T) {
	p := newTestPool(t)
	openPosition(t, p, "alice")

	if err := p.AccrueInterest(4600, "WETH"); err != nil {
		t.Fatalf("accrue: %v", err)
	}
	idx1, _ := p.BorrowIndex("WETH")
	if err := p.AccrueInterest(4600, "WETH"); err != nil {
		t.Fatalf("accrue again: %v", err)
	}
	idx2, _ := p.BorrowIndex("WETH")
	if idx1.Cmp(idx2) != 0 {
		t.Errorf("same-timestamp accrual moved the index: %s -> %s", idx1, idx2)
	}

	// An earlier timestamp never rewinds.
	if err := p.AccrueInterest(2000, "WETH"); err != nil {
		t.Fatalf("stale accrue: %v", err)
	}
	idx3, _ := p.BorrowIndex("WETH")
	if idx3.Cmp(idx2) != 0 {
		t.Errorf("stale timestamp moved the index: %s -> %s", idx2, idx3)
	}
}

func TestAccrueInterest_GrowsDebt(t *testing.T) {
	p := newTestPool(t)
	openPosition(t, p, "alice")

	pos, _ := p.GetPosition("alice", "WETH")
	idx0, _ := p.BorrowIndex("WETH")
	debt0 := pos.Debt(idx0)

	// One year of per-second compounding at ~5% APR.
	p.AccrueInterest(1000+31_536_000, "WETH")
	idx1, _ := p.BorrowIndex("WETH")
	debt1 := pos.Debt(idx1)

	if idx1.Cmp(idx0) <= 0 {
		t.Fatal("index must grow over time")
	}
	if debt1.Cmp(debt0) <= 0 {
		t.Fatal("debt must grow with the index")
	}
	// ~5% APR on 1500 USDC is roughly 75-80 USDC of interest.
	interest := new(big.Int).Sub(debt1, debt0)
	if interest.Cmp(big.NewInt(70_000_000)) < 0 || interest.Cmp(big.NewInt(85_000_000)) > 0 {
		t.Errorf("one year of interest on 1500: got %s micro-USDC", interest)
	}
}

func TestFullRepay_ClosesPosition(t *testing.T) {
	p := newTestPool(t)
	openPosition(t, p, "alice")

	p.AccrueInterest(10_000, "WETH")
	idx, _ := p.BorrowIndex("WETH")
	pos, _ := p.GetPosition("alice", "WETH")
	owed := pos.Debt(idx)

	// Repay everything, then pull all collateral; the position is deleted.
	if _, err := p.ModifyPosition(10_000, "alice", "WETH", nil, new(big.Int).Neg(owed), wethPrice, usdcPrice); err != nil {
		t.Fatalf("repay: %v", err)
	}
	if _, err := p.ModifyPosition(10_000, "alice", "WETH", big_("-1000000000000000000"), nil, wethPrice, usdcPrice); err != nil {
		t.Fatalf("withdraw: %v", err)
	}

	if _, err := p.GetPosition("alice", "WETH"); !errors.Is(err, lending.ErrPositionNotFound) {
		t.Errorf("got %v, want ErrPositionNotFound after full close", err)
	}
	total, _ := p.TotalDebt("WETH")
	if total.Sign() != 0 {
		t.Errorf("reserve debt after full repay: got %s", total)
	}
}

func TestCheckLiquidatable(t *testing.T) {
	p := newTestPool(t)
	openPosition(t, p, "alice")

	if err := p.CheckLiquidatable(1000, "alice", "WETH", wethPrice, usdcPrice); !errors.Is(err, lending.ErrPositionHealthy) {
		t.Errorf("healthy position: got %v, want ErrPositionHealthy", err)
	}

	// WETH drops to $1700: weighted collateral $1402.5 < $1500 debt.
	crashed := quote(170_000_000_000)
	if err := p.CheckLiquidatable(1000, "alice", "WETH", crashed, usdcPrice); err != nil {
		t.Errorf("underwater position must be liquidatable: %v", err)
	}
}

func TestApplyLiquidation_Partial(t *testing.T) {
	p := newTestPool(t)
	openPosition(t, p, "alice")

	pos, err := p.ApplyLiquidation(1000, "alice", "WETH", big_("400000000000000000"), big.NewInt(700_000_000))
	if err != nil {
		t.Fatalf("liquidation: %v", err)
	}
	if pos.Collateral.Cmp(big_("600000000000000000")) != 0 {
		t.Errorf("collateral after seize: got %s", pos.Collateral)
	}
	idx, _ := p.BorrowIndex("WETH")
	remaining := pos.Debt(idx)
	want := big.NewInt(800_000_000)
	if remaining.Cmp(want) != 0 {
		t.Errorf("debt after repay: got %s, want %s", remaining, want)
	}
}

func TestApplyLiquidation_FullRepayClearsDebt(t *testing.T) {
	p := newTestPool(t)
	openPosition(t, p, "alice")

	pos, err := p.ApplyLiquidation(1000, "alice", "WETH", big_("900000000000000000"), big.NewInt(2_000_000_000))
	if err != nil {
		t.Fatalf("liquidation: %v", err)
	}
	if pos.NormalizedDebt.Sign() != 0 {
		t.Errorf("over-repay must clear normalized debt, got %s", pos.NormalizedDebt)
	}
	total, _ := p.TotalDebt("WETH")
	if total.Sign() != 0 {
		t.Errorf("reserve debt: got %s", total)
	}
}

func TestApplyLiquidation_SeizeBound(t *testing.T) {
	p := newTestPool(t)
	openPosition(t, p, "alice")

	_, err := p.ApplyLiquidation(1000, "alice", "WETH", big_("2000000000000000000"), big.NewInt(1))
	if !errors.Is(err, lending.ErrInsufficientCollateral) {
		t.Errorf("got %v, want ErrInsufficientCollateral", err)
	}
}

func TestSnapshotRestore_RoundTrip(t *testing.T) {
	p := newTestPool(t)
	openPosition(t, p, "alice")
	p.AccrueInterest(5000, "WETH")

	snap := p.Snapshot()
	idxBefore, _ := p.BorrowIndex("WETH")

	p.AccrueInterest(99_999, "WETH")
	p.ModifyPosition(99_999, "alice", "WETH", big_("3000000000000000000"), nil, lending.Price{}, lending.Price{})
	p.Restore(snap)

	idxAfter, _ := p.BorrowIndex("WETH")
	if idxAfter.Cmp(idxBefore) != 0 {
		t.Errorf("index after restore: %s, want %s", idxAfter, idxBefore)
	}
	pos, err := p.GetPosition("alice", "WETH")
	if err != nil {
		t.Fatalf("position lost in restore: %v", err)
	}
	if pos.Collateral.Cmp(big_("1000000000000000000")) != 0 {
		t.Errorf("collateral after restore: got %s", pos.Collateral)
	}
}

func TestReserveConfig_Validation(t *testing.T) {
	base := lending.ReserveConfig{
		Asset:                   "WETH",
		Decimals:                18,
		MaxLTVBps:               8000,
		LiquidationThresholdBps: 8250,
		LiquidationBonusBps:     500,
		RatePerSecWad:           big.NewInt(1),
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*lending.ReserveConfig)
	}{
		{"threshold at maxLTV", func(c *lending.ReserveConfig) { c.LiquidationThresholdBps = 8000 }},
		{"threshold at 100%", func(c *lending.ReserveConfig) { c.LiquidationThresholdBps = 10_000 }},
		{"bonus breaks solvency", func(c *lending.ReserveConfig) { c.LiquidationBonusBps = 3000 }},
	}
	for _, tc := range cases {
		cfg := base
		tc.mutate(&cfg)
		if err := cfg.Validate(); !errors.Is(err, lending.ErrInvalidConfig) {
			t.Errorf("%s: got %v, want ErrInvalidConfig", tc.name, err)
		}
	}
}
