package auction

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/google/uuid"

	"LendCore/internal/fixedpoint"
)

var (
	ErrInvalidParams    = errors.New("auction: invalid params")
	ErrAuctionNotFound  = errors.New("auction: not found")
	ErrAuctionExpired   = errors.New("auction: expired")
	ErrAuctionNotActive = errors.New("auction: not active")
	ErrAuctionExists    = errors.New("auction: position already under auction")
	ErrInvalidLot       = errors.New("auction: lot must be positive")
	ErrNothingToAuction = errors.New("auction: empty collateral or debt")
)

type positionKey struct {
	owner string
	asset string
}

// Engine runs every live auction. It prices lots; moving the underlying
// collateral, debt, and payment is the executor's job.
type Engine struct {
	params     map[string]Params
	decimals   map[string]uint8
	auctions   map[uuid.UUID]*Auction
	byPosition map[positionKey]uuid.UUID
}

func NewEngine() *Engine {
	return &Engine{
		params:     make(map[string]Params),
		decimals:   make(map[string]uint8),
		auctions:   make(map[uuid.UUID]*Auction),
		byPosition: make(map[positionKey]uuid.UUID),
	}
}

// Configure sets the curve parameters and collateral decimals for an asset.
func (e *Engine) Configure(asset string, collateralDecimals uint8, params Params) error {
	if err := params.Validate(); err != nil {
		return err
	}
	e.params[asset] = params
	e.decimals[asset] = collateralDecimals
	return nil
}

func (e *Engine) paramsFor(asset string) (Params, uint8, error) {
	p, ok := e.params[asset]
	if !ok {
		return Params{}, 0, fmt.Errorf("%w: no params for asset %s", ErrInvalidParams, asset)
	}
	return p, e.decimals[asset], nil
}

// startPriceWad derives the opening price of one whole collateral token:
// oracle value in WAD scaled up by the buffer multiplier.
func startPriceWad(collateralDecimals uint8, price *big.Int, priceDecimals uint8, bufferBps uint64) *big.Int {
	unit := fixedpoint.Pow10(collateralDecimals)
	unitValue := fixedpoint.NormalizeValue(unit, collateralDecimals, price, priceDecimals)
	return fixedpoint.BpsMul(unitValue, bufferBps)
}

// Start opens an auction over a position's full collateral and debt at the
// buffered oracle price. One live auction per position.
func (e *Engine) Start(now int64, owner, asset string, collateral, debt *big.Int, price *big.Int, priceDecimals uint8) (*Auction, error) {
	params, dec, err := e.paramsFor(asset)
	if err != nil {
		return nil, err
	}
	if fixedpoint.IsZero(collateral) || fixedpoint.IsZero(debt) {
		return nil, fmt.Errorf("%w: %s/%s", ErrNothingToAuction, owner, asset)
	}
	key := positionKey{owner: owner, asset: asset}
	if id, ok := e.byPosition[key]; ok {
		return nil, fmt.Errorf("%w: %s/%s auction %s", ErrAuctionExists, owner, asset, id)
	}

	a := &Auction{
		ID:                  uuid.New(),
		Owner:               owner,
		Asset:               asset,
		StartPriceWad:       startPriceWad(dec, price, priceDecimals, params.BufferMultiplierBps),
		StartedAt:           now,
		RemainingCollateral: fixedpoint.Clone(collateral),
		RemainingDebt:       fixedpoint.Clone(debt),
		State:               StateNotStarted,
	}
	a.transition(StateActive)
	e.auctions[a.ID] = a
	e.byPosition[key] = a.ID
	return a.clone(), nil
}

// Get returns a copy of the auction.
func (e *Engine) Get(id uuid.UUID) (*Auction, error) {
	a, ok := e.auctions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAuctionNotFound, id)
	}
	return a.clone(), nil
}

// List returns copies of all auctions.
func (e *Engine) List() []*Auction {
	out := make([]*Auction, 0, len(e.auctions))
	for _, a := range e.auctions {
		out = append(out, a.clone())
	}
	return out
}

// ActiveCount reports how many auctions are currently active.
func (e *Engine) ActiveCount() int {
	n := 0
	for _, a := range e.auctions {
		if a.State == StateActive {
			n++
		}
	}
	return n
}

// CurrentPrice returns the stairstep price at now without mutating state.
func (e *Engine) CurrentPrice(now int64, id uuid.UUID) (*big.Int, error) {
	a, ok := e.auctions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAuctionNotFound, id)
	}
	if a.State != StateActive {
		return nil, fmt.Errorf("%w: %s is %s", ErrAuctionNotActive, id, a.State)
	}
	params, _, err := e.paramsFor(a.Asset)
	if err != nil {
		return nil, err
	}
	return a.priceAt(now, params), nil
}

// Fill is the priced result of a Take.
type Fill struct {
	// Lot actually seized, in collateral base units.
	Lot *big.Int

	// Cost the taker owes, in debt asset base units, rounded up.
	Cost *big.Int

	// DebtReduced is the proportional share of remaining debt settled by
	// this fill.
	DebtReduced *big.Int

	// Settled reports whether the fill closed the auction.
	Settled bool
}

// Take sells up to lot collateral at the current curve price. A tripped
// circuit breaker expires the auction and the take fails; a fill that clears
// the remaining collateral or debt settles it. The caller moves the funds.
func (e *Engine) Take(now int64, id uuid.UUID, lot *big.Int, debtDecimals uint8, debtPrice *big.Int, debtPriceDecimals uint8) (Fill, error) {
	a, ok := e.auctions[id]
	if !ok {
		return Fill{}, fmt.Errorf("%w: %s", ErrAuctionNotFound, id)
	}
	if a.State != StateActive {
		if a.State == StateExpired {
			return Fill{}, fmt.Errorf("%w: %s", ErrAuctionExpired, id)
		}
		return Fill{}, fmt.Errorf("%w: %s is %s", ErrAuctionNotActive, id, a.State)
	}
	params, dec, err := e.paramsFor(a.Asset)
	if err != nil {
		return Fill{}, err
	}
	if a.tripped(now, params) {
		a.transition(StateExpired)
		return Fill{}, fmt.Errorf("%w: %s circuit breaker at t=%d", ErrAuctionExpired, id, now-a.StartedAt)
	}
	if lot == nil || lot.Sign() <= 0 {
		return Fill{}, ErrInvalidLot
	}
	lot = fixedpoint.Min(lot, a.RemainingCollateral)

	price := a.priceAt(now, params)
	lotValue := fixedpoint.MulDiv(lot, price, fixedpoint.Pow10(dec))

	// cost = ceil(lotValue * 10^debtDec * 10^debtPriceDec / (debtPrice * 1e18))
	den := new(big.Int).Mul(debtPrice, fixedpoint.Wad)
	scale := new(big.Int).Mul(fixedpoint.Pow10(debtDecimals), fixedpoint.Pow10(debtPriceDecimals))
	cost := fixedpoint.MulDivUp(lotValue, scale, den)

	var debtReduced *big.Int
	if lot.Cmp(a.RemainingCollateral) == 0 {
		debtReduced = fixedpoint.Clone(a.RemainingDebt)
	} else {
		debtReduced = fixedpoint.MulDiv(a.RemainingDebt, lot, a.RemainingCollateral)
	}

	a.RemainingCollateral.Sub(a.RemainingCollateral, lot)
	a.RemainingDebt.Sub(a.RemainingDebt, debtReduced)

	settled := a.RemainingCollateral.Sign() == 0 || a.RemainingDebt.Sign() == 0
	if settled {
		a.transition(StateSettled)
		delete(e.byPosition, positionKey{owner: a.Owner, asset: a.Asset})
	}
	return Fill{Lot: lot, Cost: cost, DebtReduced: debtReduced, Settled: settled}, nil
}

// Reset reopens an expired auction at a fresh buffered oracle price. An
// active auction whose breaker has tripped is expired first.
func (e *Engine) Reset(now int64, id uuid.UUID, price *big.Int, priceDecimals uint8) (*Auction, error) {
	a, ok := e.auctions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAuctionNotFound, id)
	}
	params, dec, err := e.paramsFor(a.Asset)
	if err != nil {
		return nil, err
	}
	if a.State == StateActive && a.tripped(now, params) {
		a.transition(StateExpired)
	}
	if a.State != StateExpired {
		return nil, fmt.Errorf("%w: %s is %s, reset requires expired", ErrAuctionNotActive, id, a.State)
	}
	a.StartPriceWad = startPriceWad(dec, price, priceDecimals, params.BufferMultiplierBps)
	a.StartedAt = now
	a.transition(StateActive)
	return a.clone(), nil
}

// ExpireTripped sweeps active auctions whose breakers fired and returns the
// expired copies. The executor runs it whenever a price report advances the
// transaction clock.
func (e *Engine) ExpireTripped(now int64) []*Auction {
	var expired []*Auction
	for _, a := range e.auctions {
		if a.State != StateActive {
			continue
		}
		params, _, err := e.paramsFor(a.Asset)
		if err != nil {
			continue
		}
		if a.tripped(now, params) {
			a.transition(StateExpired)
			expired = append(expired, a.clone())
		}
	}
	return expired
}

// Snapshot deep-copies all auctions and the position index.
type Snapshot struct {
	Auctions map[uuid.UUID]*Auction
}

func (e *Engine) Snapshot() Snapshot {
	auctions := make(map[uuid.UUID]*Auction, len(e.auctions))
	for id, a := range e.auctions {
		auctions[id] = a.clone()
	}
	return Snapshot{Auctions: auctions}
}

func (e *Engine) Restore(snap Snapshot) {
	e.auctions = make(map[uuid.UUID]*Auction, len(snap.Auctions))
	e.byPosition = make(map[positionKey]uuid.UUID, len(snap.Auctions))
	for id, a := range snap.Auctions {
		c := a.clone()
		e.auctions[id] = c
		if c.State == StateActive || c.State == StateExpired {
			e.byPosition[positionKey{owner: c.Owner, asset: c.Asset}] = id
		}
	}
}
