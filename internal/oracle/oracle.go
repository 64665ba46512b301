package oracle

import (
	"errors"
	"fmt"
	"math/big"

	"LendCore/internal/fixedpoint"
)

var (
	ErrNoData          = errors.New("oracle: no data for asset")
	ErrInvalidPrice    = errors.New("oracle: invalid price")
	ErrStale           = errors.New("oracle: reading is stale")
	ErrExecutionHalted = errors.New("oracle: execution halted")
	ErrMismatch        = errors.New("oracle: primary and fallback disagree")
)

// Reading is a validated price observation.
type Reading struct {
	Asset     string
	Price     *big.Int
	Decimals  uint8
	UpdatedAt int64
	Round     uint64
}

// FeedConfig declares per-asset validation parameters. Decimals belong to
// the feed, not the asset: downstream math must use Reading.Decimals.
type FeedConfig struct {
	Asset string

	// Decimals of the primary feed's price values.
	Decimals uint8

	// HeartbeatSec is the maximum publish interval under stable conditions.
	HeartbeatSec int64

	// StalenessBufferSec is extra slack on top of the heartbeat before a
	// reading is rejected as stale.
	StalenessBufferSec int64

	// DeviationBps bounds the tolerated divergence between primary and
	// fallback when both are fresh.
	DeviationBps uint64

	// FallbackDecimals of the secondary feed, when one is configured.
	FallbackDecimals uint8
}

// ExecutionStatus gates price reads on chains with a halted-sequencer
// concept. A nil status means execution is always live.
type ExecutionStatus interface {
	// IsLive reports liveness at the given timestamp along with the time
	// execution most recently resumed (0 if it never halted).
	IsLive(now int64) (live bool, resumedAt int64)
}

type feedState struct {
	price     *big.Int
	updatedAt int64
	round     uint64
	complete  bool
}

// Oracle holds primary and fallback feeds and performs every validation the
// engine relies on. It never defaults a price: a read either returns a
// validated Reading or a typed error the caller must abort on.
type Oracle struct {
	configs   map[string]FeedConfig
	primary   map[string]*feedState
	secondary map[string]*feedState
	status    ExecutionStatus
	graceSec  int64
}

func New(status ExecutionStatus, graceSec int64) *Oracle {
	return &Oracle{
		configs:   make(map[string]FeedConfig),
		primary:   make(map[string]*feedState),
		secondary: make(map[string]*feedState),
		status:    status,
		graceSec:  graceSec,
	}
}

// Configure registers or replaces the feed configuration for an asset.
func (o *Oracle) Configure(cfg FeedConfig) error {
	if cfg.Asset == "" {
		return fmt.Errorf("oracle: empty asset")
	}
	if cfg.HeartbeatSec <= 0 {
		return fmt.Errorf("oracle: heartbeat must be positive for %s", cfg.Asset)
	}
	o.configs[cfg.Asset] = cfg
	return nil
}

// Report ingests a primary observation. Rounds are monotonic: a report with
// a round at or below the current one is ignored, which makes redelivered
// NATS messages idempotent.
func (o *Oracle) Report(asset string, price *big.Int, round uint64, updatedAt int64) error {
	return o.report(o.primary, asset, price, round, updatedAt)
}

// ReportFallback ingests a secondary observation (e.g. a time-weighted
// on-chain price).
func (o *Oracle) ReportFallback(asset string, price *big.Int, round uint64, updatedAt int64) error {
	return o.report(o.secondary, asset, price, round, updatedAt)
}

func (o *Oracle) report(feeds map[string]*feedState, asset string, price *big.Int, round uint64, updatedAt int64) error {
	if _, ok := o.configs[asset]; !ok {
		return fmt.Errorf("oracle: no feed configured for %s", asset)
	}
	cur := feeds[asset]
	if cur != nil && round <= cur.round {
		return nil
	}
	feeds[asset] = &feedState{
		price:     fixedpoint.Clone(price),
		updatedAt: updatedAt,
		round:     round,
		complete:  true,
	}
	return nil
}

// GetPrice validates and returns the primary reading for an asset.
// Validation order: existence, sign, staleness, execution liveness.
func (o *Oracle) GetPrice(now int64, asset string) (Reading, error) {
	cfg, ok := o.configs[asset]
	if !ok {
		return Reading{}, fmt.Errorf("%w: %s", ErrNoData, asset)
	}
	return o.validate(now, asset, o.primary[asset], cfg, cfg.Decimals)
}

func (o *Oracle) validate(now int64, asset string, st *feedState, cfg FeedConfig, decimals uint8) (Reading, error) {
	if st == nil || !st.complete {
		return Reading{}, fmt.Errorf("%w: %s", ErrNoData, asset)
	}
	if st.price == nil || st.price.Sign() <= 0 {
		return Reading{}, fmt.Errorf("%w: %s", ErrInvalidPrice, asset)
	}
	if now-st.updatedAt >= cfg.HeartbeatSec+cfg.StalenessBufferSec {
		return Reading{}, fmt.Errorf("%w: %s updated %ds ago, limit %ds",
			ErrStale, asset, now-st.updatedAt, cfg.HeartbeatSec+cfg.StalenessBufferSec)
	}
	if o.status != nil {
		live, resumedAt := o.status.IsLive(now)
		if !live {
			return Reading{}, fmt.Errorf("%w: %s", ErrExecutionHalted, asset)
		}
		if resumedAt > 0 && now-resumedAt < o.graceSec {
			return Reading{}, fmt.Errorf("%w: %s in post-recovery grace period", ErrExecutionHalted, asset)
		}
	}
	return Reading{
		Asset:     asset,
		Price:     fixedpoint.Clone(st.price),
		Decimals:  decimals,
		UpdatedAt: st.updatedAt,
		Round:     st.round,
	}, nil
}

// GetPriceWithFallback consults the secondary feed when the primary is stale
// or invalid. When both feeds are fresh they are cross-checked: divergence
// beyond the configured deviation returns ErrMismatch, because a confirmed
// disagreement is worse than a single stale source.
func (o *Oracle) GetPriceWithFallback(now int64, asset string) (Reading, error) {
	cfg, ok := o.configs[asset]
	if !ok {
		return Reading{}, fmt.Errorf("%w: %s", ErrNoData, asset)
	}

	primary, perr := o.validate(now, asset, o.primary[asset], cfg, cfg.Decimals)
	fallback, ferr := o.validate(now, asset, o.secondary[asset], cfg, cfg.FallbackDecimals)

	switch {
	case perr == nil && ferr == nil:
		if cfg.DeviationBps > 0 && deviationExceeds(primary, fallback, cfg.DeviationBps) {
			return Reading{}, fmt.Errorf("%w: %s primary=%s fallback=%s",
				ErrMismatch, asset, primary.Price, fallback.Price)
		}
		return primary, nil
	case perr == nil:
		return primary, nil
	case ferr == nil:
		// Primary unusable for a recoverable reason; halted execution is
		// not recoverable by switching sources.
		if errors.Is(perr, ErrExecutionHalted) {
			return Reading{}, perr
		}
		return fallback, nil
	default:
		return Reading{}, perr
	}
}

// deviationExceeds compares two readings after normalizing their decimals.
// |p - f| / f > bps/10000, computed in integers.
func deviationExceeds(p, f Reading, bps uint64) bool {
	pn := new(big.Int).Mul(p.Price, fixedpoint.Pow10(f.Decimals))
	fn := new(big.Int).Mul(f.Price, fixedpoint.Pow10(p.Decimals))
	diff := new(big.Int).Sub(pn, fn)
	diff.Abs(diff)
	lhs := new(big.Int).Mul(diff, fixedpoint.BasisPoints)
	rhs := new(big.Int).Mul(fn, new(big.Int).SetUint64(bps))
	return lhs.Cmp(rhs) > 0
}

// FeedSnapshot is the serializable state of one feed.
type FeedSnapshot struct {
	Price     *big.Int
	UpdatedAt int64
	Round     uint64
	Complete  bool
}

// Snapshot captures all mutable oracle state (configs are set at wiring time
// and excluded).
type Snapshot struct {
	Primary   map[string]FeedSnapshot
	Secondary map[string]FeedSnapshot
}

func (o *Oracle) Snapshot() Snapshot {
	return Snapshot{
		Primary:   snapshotFeeds(o.primary),
		Secondary: snapshotFeeds(o.secondary),
	}
}

func (o *Oracle) Restore(snap Snapshot) {
	o.primary = restoreFeeds(snap.Primary)
	o.secondary = restoreFeeds(snap.Secondary)
}

func snapshotFeeds(feeds map[string]*feedState) map[string]FeedSnapshot {
	out := make(map[string]FeedSnapshot, len(feeds))
	for asset, st := range feeds {
		out[asset] = FeedSnapshot{
			Price:     fixedpoint.Clone(st.price),
			UpdatedAt: st.updatedAt,
			Round:     st.round,
			Complete:  st.complete,
		}
	}
	return out
}

func restoreFeeds(snap map[string]FeedSnapshot) map[string]*feedState {
	out := make(map[string]*feedState, len(snap))
	for asset, st := range snap {
		out[asset] = &feedState{
			price:     fixedpoint.Clone(st.Price),
			updatedAt: st.UpdatedAt,
			round:     st.Round,
			complete:  st.Complete,
		}
	}
	return out
}
