package flash

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/google/uuid"

	"LendCore/internal/event"
)

// AuctionBuyoutParams drives the built-in liquidation strategy: buy a lot
// from an auction with borrowed debt asset, then swap the seized collateral
// back through a pool to cover the loan.
type AuctionBuyoutParams struct {
	AuctionID uuid.UUID `json:"auction_id"`
	Lot       string    `json:"lot"`
	PoolID    string    `json:"pool_id"`
	MinOut    string    `json:"min_out"`
}

// NewAuctionBuyout returns the built-in strategy registered under
// "auction-buyout". collateralAsset names what the auction pays out and the
// swap consumes.
func NewAuctionBuyout(collateralAsset string) Strategy {
	return StrategyFunc(func(ctx event.Context, env Environment, asset string, amount *big.Int, raw []byte) error {
		var p AuctionBuyoutParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("flash: bad auction-buyout params: %w", err)
		}
		lot, ok := new(big.Int).SetString(p.Lot, 10)
		if !ok || lot.Sign() <= 0 {
			return fmt.Errorf("flash: bad lot %q", p.Lot)
		}
		minOut, ok := new(big.Int).SetString(p.MinOut, 10)
		if !ok {
			return fmt.Errorf("flash: bad min_out %q", p.MinOut)
		}

		fill, err := env.AuctionTake(ctx, p.AuctionID, lot)
		if err != nil {
			return err
		}
		if _, err := env.SwapExactIn(ctx, p.PoolID, collateralAsset, fill.Lot, minOut); err != nil {
			return err
		}
		return nil
	})
}
