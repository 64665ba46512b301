package oracle_test

import (
	"errors"
	"math/big"
	"testing"

	"LendCore/internal/oracle"
)

func newTestOracle(t *testing.T, status oracle.ExecutionStatus, graceSec int64) *oracle.Oracle {
	t.Helper()
	o := oracle.New(status, graceSec)
	err := o.Configure(oracle.FeedConfig{
		Asset:              "WETH",
		Decimals:           8,
		HeartbeatSec:       3600,
		StalenessBufferSec: 300,
		DeviationBps:       200,
		FallbackDecimals:   8,
	})
	if err != nil {
		t.Fatalf("configure: %v", err)
	}
	return o
}

// haltedStatus is a scripted ExecutionStatus for tests.
type haltedStatus struct {
	live      bool
	resumedAt int64
}

func (s *haltedStatus) IsLive(int64) (bool, int64) { return s.live, s.resumedAt }

func TestGetPrice_NoData(t *testing.T) {
	o := newTestOracle(t, nil, 0)
	_, err := o.GetPrice(1000, "WETH")
	if !errors.Is(err, oracle.ErrNoData) {
		t.Errorf("got %v, want ErrNoData", err)
	}
}

func TestGetPrice_UnconfiguredAsset(t *testing.T) {
	o := newTestOracle(t, nil, 0)
	_, err := o.GetPrice(1000, "DOGE")
	if !errors.Is(err, oracle.ErrNoData) {
		t.Errorf("got %v, want ErrNoData", err)
	}
}

func TestGetPrice_FreshReading(t *testing.T) {
	o := newTestOracle(t, nil, 0)
	o.Report("WETH", big.NewInt(200_000_000_000), 1, 1000)

	r, err := o.GetPrice(1500, "WETH")
	if err != nil {
		t.Fatalf("fresh reading rejected: %v", err)
	}
	if r.Price.Int64() != 200_000_000_000 || r.Decimals != 8 || r.Round != 1 {
		t.Errorf("reading mismatch: %+v", r)
	}
}

func TestGetPrice_InvalidPrice(t *testing.T) {
	o := newTestOracle(t, nil, 0)
	o.Report("WETH", big.NewInt(0), 1, 1000)

	_, err := o.GetPrice(1001, "WETH")
	if !errors.Is(err, oracle.ErrInvalidPrice) {
		t.Errorf("got %v, want ErrInvalidPrice", err)
	}
}

func TestGetPrice_StaleAtExactLimit(t *testing.T) {
	o := newTestOracle(t, nil, 0)
	o.Report("WETH", big.NewInt(200_000_000_000), 1, 1000)

	// heartbeat + buffer = 3900. At exactly 3900s old the reading is stale.
	if _, err := o.GetPrice(1000+3899, "WETH"); err != nil {
		t.Errorf("3899s old must still pass: %v", err)
	}
	if _, err := o.GetPrice(1000+3900, "WETH"); !errors.Is(err, oracle.ErrStale) {
		t.Errorf("3900s old: got %v, want ErrStale", err)
	}
}

func TestGetPrice_HaltedExecution(t *testing.T) {
	status := &haltedStatus{live: false}
	o := newTestOracle(t, status, 600)
	o.Report("WETH", big.NewInt(200_000_000_000), 1, 1000)

	_, err := o.GetPrice(1001, "WETH")
	if !errors.Is(err, oracle.ErrExecutionHalted) {
		t.Errorf("got %v, want ErrExecutionHalted", err)
	}
}

func TestGetPrice_PostRecoveryGrace(t *testing.T) {
	status := &haltedStatus{live: true, resumedAt: 2000}
	o := newTestOracle(t, status, 600)
	o.Report("WETH", big.NewInt(200_000_000_000), 5, 2100)

	// Inside the grace window reads still fail.
	if _, err := o.GetPrice(2100, "WETH"); !errors.Is(err, oracle.ErrExecutionHalted) {
		t.Errorf("inside grace: got %v, want ErrExecutionHalted", err)
	}
	// After the window, reads succeed.
	if _, err := o.GetPrice(2700, "WETH"); err != nil {
		t.Errorf("after grace: %v", err)
	}
}

func TestReport_RoundMonotonic(t *testing.T) {
	o := newTestOracle(t, nil, 0)
	o.Report("WETH", big.NewInt(100), 5, 1000)

	// A redelivered or late report at the same or lower round is ignored.
	o.Report("WETH", big.NewInt(999), 5, 2000)
	o.Report("WETH", big.NewInt(888), 4, 2000)

	r, err := o.GetPrice(1100, "WETH")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if r.Price.Int64() != 100 || r.Round != 5 {
		t.Errorf("stale round overwrote state: price=%s round=%d", r.Price, r.Round)
	}

	o.Report("WETH", big.NewInt(200), 6, 2000)
	r, _ = o.GetPrice(2100, "WETH")
	if r.Price.Int64() != 200 || r.Round != 6 {
		t.Errorf("higher round must apply: price=%s round=%d", r.Price, r.Round)
	}
}

func TestReport_UnconfiguredAssetRejected(t *testing.T) {
	o := newTestOracle(t, nil, 0)
	if err := o.Report("DOGE", big.NewInt(100), 1, 1000); err == nil {
		t.Error("report for unconfigured asset must fail")
	}
}

func TestFallback_UsedWhenPrimaryStale(t *testing.T) {
	o := newTestOracle(t, nil, 0)
	o.Report("WETH", big.NewInt(200_000_000_000), 1, 1000)
	o.ReportFallback("WETH", big.NewInt(201_000_000_000), 1, 9000)

	now := int64(10_000) // primary is 9000s old, fallback 1000s old
	r, err := o.GetPriceWithFallback(now, "WETH")
	if err != nil {
		t.Fatalf("fallback read: %v", err)
	}
	if r.Price.Int64() != 201_000_000_000 {
		t.Errorf("got %s, want fallback price", r.Price)
	}
}

func TestFallback_CrossCheckMismatch(t *testing.T) {
	o := newTestOracle(t, nil, 0)
	// Both fresh, diverging ~5% against a 200bps bound.
	o.Report("WETH", big.NewInt(210_000_000_000), 1, 1000)
	o.ReportFallback("WETH", big.NewInt(200_000_000_000), 1, 1000)

	_, err := o.GetPriceWithFallback(1100, "WETH")
	if !errors.Is(err, oracle.ErrMismatch) {
		t.Errorf("got %v, want ErrMismatch", err)
	}
}

func TestFallback_CrossCheckWithinBound(t *testing.T) {
	o := newTestOracle(t, nil, 0)
	// 1% divergence against a 200bps bound: primary wins.
	o.Report("WETH", big.NewInt(202_000_000_000), 1, 1000)
	o.ReportFallback("WETH", big.NewInt(200_000_000_000), 1, 1000)

	r, err := o.GetPriceWithFallback(1100, "WETH")
	if err != nil {
		t.Fatalf("within-bound read: %v", err)
	}
	if r.Price.Int64() != 202_000_000_000 {
		t.Errorf("primary must win when both agree: got %s", r.Price)
	}
}

func TestFallback_DoesNotRecoverHalt(t *testing.T) {
	status := &haltedStatus{live: false}
	o := newTestOracle(t, status, 600)
	o.Report("WETH", big.NewInt(200_000_000_000), 1, 1000)
	o.ReportFallback("WETH", big.NewInt(200_000_000_000), 1, 1000)

	_, err := o.GetPriceWithFallback(1100, "WETH")
	if !errors.Is(err, oracle.ErrExecutionHalted) {
		t.Errorf("got %v, want ErrExecutionHalted; a halt is not a price-source problem", err)
	}
}

func TestFallback_BothUnusableReportsPrimaryError(t *testing.T) {
	o := newTestOracle(t, nil, 0)
	o.Report("WETH", big.NewInt(200_000_000_000), 1, 1000)

	_, err := o.GetPriceWithFallback(100_000, "WETH")
	if !errors.Is(err, oracle.ErrStale) {
		t.Errorf("got %v, want ErrStale from primary", err)
	}
}

func TestSnapshotRestore_RoundTrip(t *testing.T) {
	o := newTestOracle(t, nil, 0)
	o.Report("WETH", big.NewInt(100), 3, 1000)
	snap := o.Snapshot()

	o.Report("WETH", big.NewInt(999), 9, 2000)
	o.Restore(snap)

	r, err := o.GetPrice(1100, "WETH")
	if err != nil {
		t.Fatalf("read after restore: %v", err)
	}
	if r.Price.Int64() != 100 || r.Round != 3 {
		t.Errorf("restore did not rewind feed state: price=%s round=%d", r.Price, r.Round)
	}
}
