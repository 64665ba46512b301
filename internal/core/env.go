package core

import (
	"math/big"

	"github.com/google/uuid"

	"LendCore/internal/auction"
	"LendCore/internal/event"
	"LendCore/internal/ledger"
)

// flashEnv exposes the engine's already-locked internals to flash-loan
// strategies. It must only exist inside a running transaction; every method
// mutates state that the surrounding runTx will either commit or roll back.
type flashEnv struct {
	e *Engine
}

func (f flashEnv) SwapExactIn(ctx event.Context, poolID, assetIn string, amountIn, minOut *big.Int) (*big.Int, error) {
	return f.e.doSwapExactIn(ctx, poolID, assetIn, amountIn, minOut)
}

func (f flashEnv) AuctionTake(ctx event.Context, auctionID uuid.UUID, lot *big.Int) (auction.Fill, error) {
	return f.e.doTakeAuction(ctx, auctionID, lot)
}

func (f flashEnv) Repay(ctx event.Context, collateralAsset string, amount *big.Int) error {
	return f.e.doRepay(ctx, collateralAsset, amount)
}

func (f flashEnv) Balance(ctx event.Context, asset string) *big.Int {
	return f.e.book.Balance(ledger.UserAccount(ctx.Caller, asset))
}
