package flash

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/google/uuid"

	"LendCore/internal/auction"
	"LendCore/internal/event"
	"LendCore/internal/fixedpoint"
)

var (
	ErrRepaymentInsufficient = errors.New("flash: repayment insufficient")
	ErrStrategyNotFound      = errors.New("flash: strategy not found")
	ErrInvalidAmount         = errors.New("flash: amount must be positive")
)

// Environment is the surface a strategy may re-enter while holding borrowed
// funds. The executor implements it with its already-locked internals, so a
// strategy composes operations inside the same transaction it runs in.
type Environment interface {
	// SwapExactIn trades on a registered pool for the strategy caller.
	SwapExactIn(ctx event.Context, poolID, assetIn string, amountIn, minOut *big.Int) (*big.Int, error)

	// AuctionTake buys collateral from a live auction for the strategy
	// caller, paying from the caller's balance.
	AuctionTake(ctx event.Context, auctionID uuid.UUID, lot *big.Int) (auction.Fill, error)

	// Repay pays down the caller's own debt position.
	Repay(ctx event.Context, collateralAsset string, amount *big.Int) error

	// Balance reads the caller's current balance in an asset.
	Balance(ctx event.Context, asset string) *big.Int
}

// Strategy is user-registered flash-loan logic. It runs with the borrowed
// amount already credited to ctx.Caller; by return time the caller's balance
// must cover principal plus fee or the whole transaction is rolled back.
type Strategy interface {
	Execute(ctx event.Context, env Environment, asset string, amount *big.Int, params []byte) error
}

// StrategyFunc adapts a function to the Strategy interface.
type StrategyFunc func(ctx event.Context, env Environment, asset string, amount *big.Int, params []byte) error

func (f StrategyFunc) Execute(ctx event.Context, env Environment, asset string, amount *big.Int, params []byte) error {
	return f(ctx, env, asset, amount, params)
}

// Coordinator holds the strategy registry and fee schedule. Atomicity is the
// executor's job; the coordinator only knows who to call and what to charge.
type Coordinator struct {
	feeBps     uint64
	strategies map[string]Strategy
}

func NewCoordinator(feeBps uint64) *Coordinator {
	return &Coordinator{feeBps: feeBps, strategies: make(map[string]Strategy)}
}

// Register binds a strategy ID. Re-registering an ID replaces it.
func (c *Coordinator) Register(id string, s Strategy) {
	c.strategies[id] = s
}

func (c *Coordinator) Get(id string) (Strategy, error) {
	s, ok := c.strategies[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrStrategyNotFound, id)
	}
	return s, nil
}

// Fee is the flash-loan charge on a principal, rounded up.
func (c *Coordinator) Fee(amount *big.Int) *big.Int {
	return fixedpoint.MulDivUp(amount, new(big.Int).SetUint64(c.feeBps), fixedpoint.BasisPoints)
}

// FeeBps exposes the configured rate for the query API.
func (c *Coordinator) FeeBps() uint64 { return c.feeBps }
