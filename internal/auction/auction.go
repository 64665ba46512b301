package auction

import (
	"fmt"
	"math/big"

	"github.com/google/uuid"

	"LendCore/internal/fixedpoint"
)

// State is the lifecycle of one Dutch auction.
type State int32

const (
	StateNotStarted State = iota
	StateActive
	StateSettled
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateActive:
		return "active"
	case StateSettled:
		return "settled"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// canTransitionTo encodes the legal state machine. Everything else is a
// logic bug.
var canTransitionTo = map[State][]State{
	StateNotStarted: {StateActive},
	StateActive:     {StateSettled, StateExpired},
	StateExpired:    {StateActive},
	StateSettled:    {},
}

func (s State) canTransitionTo(next State) bool {
	for _, allowed := range canTransitionTo[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Params tunes the decay curve and circuit breakers for all auctions of one
// collateral asset.
type Params struct {
	// BufferMultiplierBps scales the oracle price into the start price.
	// Above 10000 so the auction opens above market and discovers downward.
	BufferMultiplierBps uint64

	// DecayRateWad is the per-step multiplicative decay, WAD scaled, below
	// 1e18. Price is a stairstep: constant within a step, then drops.
	DecayRateWad *big.Int

	// StepSec is the width of one decay step.
	StepSec int64

	// FloorFractionBps expires the auction once price falls below this
	// fraction of the start price.
	FloorFractionBps uint64

	// MaxDurationSec expires the auction on age regardless of price.
	MaxDurationSec int64
}

func (p Params) Validate() error {
	if p.BufferMultiplierBps <= 10_000 {
		return fmt.Errorf("%w: buffer %d bps must exceed 10000", ErrInvalidParams, p.BufferMultiplierBps)
	}
	if p.DecayRateWad == nil || p.DecayRateWad.Sign() <= 0 || p.DecayRateWad.Cmp(fixedpoint.Wad) >= 0 {
		return fmt.Errorf("%w: decay rate must be in (0, 1e18)", ErrInvalidParams)
	}
	if p.StepSec <= 0 || p.MaxDurationSec <= 0 {
		return fmt.Errorf("%w: step and max duration must be positive", ErrInvalidParams)
	}
	if p.FloorFractionBps == 0 || p.FloorFractionBps >= 10_000 {
		return fmt.Errorf("%w: floor fraction %d bps", ErrInvalidParams, p.FloorFractionBps)
	}
	return nil
}

// Auction liquidates one position's collateral along a decaying price curve.
// StartPriceWad values one whole collateral token in the WAD base.
type Auction struct {
	ID    uuid.UUID
	Owner string
	Asset string

	StartPriceWad *big.Int
	StartedAt     int64

	RemainingCollateral *big.Int
	RemainingDebt       *big.Int

	State State
}

func (a *Auction) transition(next State) {
	if !a.State.canTransitionTo(next) {
		panic(fmt.Sprintf("FATAL: auction %s illegal transition %s -> %s", a.ID, a.State, next))
	}
	a.State = next
}

// priceAt returns the stairstep price at elapsed seconds since start. The
// step count only grows with time, so the price never increases.
func (a *Auction) priceAt(now int64, params Params) *big.Int {
	elapsed := now - a.StartedAt
	if elapsed < 0 {
		elapsed = 0
	}
	steps := uint64(elapsed / params.StepSec)
	factor := fixedpoint.WadPow(params.DecayRateWad, steps)
	return fixedpoint.WadMul(a.StartPriceWad, factor)
}

// tripped reports whether a circuit breaker has fired at now.
func (a *Auction) tripped(now int64, params Params) bool {
	if now-a.StartedAt > params.MaxDurationSec {
		return true
	}
	floor := fixedpoint.BpsMul(a.StartPriceWad, params.FloorFractionBps)
	return a.priceAt(now, params).Cmp(floor) < 0
}

func (a *Auction) clone() *Auction {
	return &Auction{
		ID:                  a.ID,
		Owner:               a.Owner,
		Asset:               a.Asset,
		StartPriceWad:       fixedpoint.Clone(a.StartPriceWad),
		StartedAt:           a.StartedAt,
		RemainingCollateral: fixedpoint.Clone(a.RemainingCollateral),
		RemainingDebt:       fixedpoint.Clone(a.RemainingDebt),
		State:               a.State,
	}
}
