package core

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/google/uuid"

	"LendCore/internal/auction"
	"LendCore/internal/event"
	"LendCore/internal/fixedpoint"
	"LendCore/internal/flash"
	"LendCore/internal/ledger"
	"LendCore/internal/lending"
	"LendCore/internal/oracle"
)

var ErrUnsupportedFlashAsset = errors.New("core: flash liquidity exists only in the debt asset")

const (
	gatewayAccount = "gateway"
	yieldAccount   = "yield"
)

func lendingLiquidity(debtAsset string) ledger.AccountKey {
	return ledger.ModuleAccount("lending:liquidity", debtAsset)
}

func lendingCollateral(asset string) ledger.AccountKey {
	return ledger.ModuleAccount("lending:collateral", asset)
}

func ammAccount(poolID, asset string) ledger.AccountKey {
	return ledger.ModuleAccount("amm:"+poolID, asset)
}

func vaultAccount(vaultID, asset string) ledger.AccountKey {
	return ledger.ModuleAccount("vault:"+vaultID, asset)
}

// quote reads a validated price with fallback at the transaction timestamp.
// Vault share assets are priced through their vault instead of a feed.
func (e *Engine) quote(ts int64, asset string) (lending.Price, error) {
	if route, ok := e.shareRoutes[asset]; ok {
		return e.shareQuote(ts, route)
	}
	r, err := e.oracle.GetPriceWithFallback(ts, asset)
	if err != nil {
		if e.metrics != nil {
			e.metrics.OracleRejections.WithLabelValues(asset, rejectionReason(err)).Inc()
		}
		return lending.Price{}, err
	}
	return lending.Price{Value: r.Price, Decimals: r.Decimals}, nil
}

// shareRoute maps a share asset to the vault that backs it.
type shareRoute struct {
	vaultID            string
	shareDecimals      uint8
	underlyingDecimals uint8
}

// shareQuote values one whole share at the vault's convert-to-assets rate
// times the underlying's oracle price, rounding down against the borrower.
// Strategies have no vault surface, so the rate read here is the rate as of
// transaction admission; a donation or yield report cannot move it within
// the same transaction.
func (e *Engine) shareQuote(ts int64, route shareRoute) (lending.Price, error) {
	v, err := e.vaults.Get(route.vaultID)
	if err != nil {
		return lending.Price{}, err
	}
	uq, err := e.quote(ts, v.Asset)
	if err != nil {
		return lending.Price{}, err
	}
	perShare := v.ConvertToAssets(fixedpoint.Pow10(route.shareDecimals))
	value := fixedpoint.MulDiv(uq.Value, perShare, fixedpoint.Pow10(route.underlyingDecimals))
	return lending.Price{Value: value, Decimals: uq.Decimals}, nil
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, oracle.ErrStale):
		return "stale"
	case errors.Is(err, oracle.ErrNoData):
		return "no_data"
	case errors.Is(err, oracle.ErrInvalidPrice):
		return "invalid_price"
	case errors.Is(err, oracle.ErrMismatch):
		return "mismatch"
	case errors.Is(err, oracle.ErrExecutionHalted):
		return "halted"
	default:
		return "other"
	}
}

// positionQuotes reads the collateral and debt asset prices a risk check
// needs.
func (e *Engine) positionQuotes(ts int64, collateralAsset string) (lending.Price, lending.Price, error) {
	cq, err := e.quote(ts, collateralAsset)
	if err != nil {
		return lending.Price{}, lending.Price{}, err
	}
	dq, err := e.quote(ts, e.cfg.DebtAsset)
	if err != nil {
		return lending.Price{}, lending.Price{}, err
	}
	return cq, dq, nil
}

type assetAmountPayload struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

// FundAccount credits a user from the external gateway.
func (e *Engine) FundAccount(ctx event.Context, asset string, amount *big.Int) error {
	p := assetAmountPayload{Asset: asset, Amount: amount.String()}
	return e.runTx(ctx, event.OpFundAccount, p, func() error {
		return e.book.Transfer(ctx.TxID, ledger.ExternalAccount(gatewayAccount, asset),
			ledger.UserAccount(ctx.Caller, asset), amount, ledger.EntryKindDeposit, ctx.Timestamp)
	})
}

// WithdrawFunds debits a user back to the external gateway.
func (e *Engine) WithdrawFunds(ctx event.Context, asset string, amount *big.Int) error {
	p := assetAmountPayload{Asset: asset, Amount: amount.String()}
	return e.runTx(ctx, event.OpWithdrawFunds, p, func() error {
		return e.book.Transfer(ctx.TxID, ledger.UserAccount(ctx.Caller, asset),
			ledger.ExternalAccount(gatewayAccount, asset), amount, ledger.EntryKindWithdrawal, ctx.Timestamp)
	})
}

// Transfer moves balance between two users.
func (e *Engine) Transfer(ctx event.Context, to, asset string, amount *big.Int) error {
	p := struct {
		To     string `json:"to"`
		Asset  string `json:"asset"`
		Amount string `json:"amount"`
	}{to, asset, amount.String()}
	return e.runTx(ctx, event.OpTransfer, p, func() error {
		return e.book.Transfer(ctx.TxID, ledger.UserAccount(ctx.Caller, asset),
			ledger.UserAccount(to, asset), amount, ledger.EntryKindTransfer, ctx.Timestamp)
	})
}

// SeedLiquidity funds the lending pool's loanable reserve from the gateway.
func (e *Engine) SeedLiquidity(ctx event.Context, amount *big.Int) error {
	p := assetAmountPayload{Asset: e.cfg.DebtAsset, Amount: amount.String()}
	return e.runTx(ctx, event.OpSeedLiquidity, p, func() error {
		return e.book.Transfer(ctx.TxID, ledger.ExternalAccount(gatewayAccount, e.cfg.DebtAsset),
			lendingLiquidity(e.cfg.DebtAsset), amount, ledger.EntryKindDeposit, ctx.Timestamp)
	})
}

// ReportPrice ingests an oracle observation. Fallback reports go to the
// secondary feed.
func (e *Engine) ReportPrice(ctx event.Context, asset string, price *big.Int, round uint64, updatedAt int64, fallback bool) error {
	p := struct {
		Asset     string `json:"asset"`
		Price     string `json:"price"`
		Round     uint64 `json:"round"`
		UpdatedAt int64  `json:"updated_at"`
		Fallback  bool   `json:"fallback"`
	}{asset, price.String(), round, updatedAt, fallback}
	return e.runTx(ctx, event.OpReportPrice, p, func() error {
		feed := "primary"
		if fallback {
			feed = "fallback"
		}
		if e.metrics != nil {
			e.metrics.OracleReports.WithLabelValues(asset, feed).Inc()
		}
		if fallback {
			if err := e.oracle.ReportFallback(asset, price, round, updatedAt); err != nil {
				return err
			}
		} else {
			if err := e.oracle.Report(asset, price, round, updatedAt); err != nil {
				return err
			}
		}
		// Price reports carry time forward; sweep auctions whose breakers
		// have fired so queries never show them as active.
		e.auctions.ExpireTripped(ctx.Timestamp)
		return nil
	})
}

// AccrueInterest compounds a reserve's borrow index to the transaction
// timestamp.
func (e *Engine) AccrueInterest(ctx event.Context, asset string) error {
	p := struct {
		Asset string `json:"asset"`
	}{asset}
	return e.runTx(ctx, event.OpAccrueInterest, p, func() error {
		return e.lending.AccrueInterest(ctx.Timestamp, asset)
	})
}

// SupplyCollateral moves collateral from the caller into their position.
func (e *Engine) SupplyCollateral(ctx event.Context, asset string, amount *big.Int) error {
	p := assetAmountPayload{Asset: asset, Amount: amount.String()}
	return e.runTx(ctx, event.OpSupplyCollateral, p, func() error {
		if err := e.book.Transfer(ctx.TxID, ledger.UserAccount(ctx.Caller, asset),
			lendingCollateral(asset), amount, ledger.EntryKindCollateral, ctx.Timestamp); err != nil {
			return err
		}
		// Supplying only strengthens the position, so no oracle read is
		// needed and a stale feed cannot block it.
		_, err := e.lending.ModifyPosition(ctx.Timestamp, ctx.Caller, asset, amount, nil, lending.Price{}, lending.Price{})
		return err
	})
}

// WithdrawCollateral releases collateral if the position stays healthy at
// current prices.
func (e *Engine) WithdrawCollateral(ctx event.Context, asset string, amount *big.Int) error {
	p := assetAmountPayload{Asset: asset, Amount: amount.String()}
	return e.runTx(ctx, event.OpWithdrawCollateral, p, func() error {
		cq, dq, err := e.positionQuotes(ctx.Timestamp, asset)
		if err != nil {
			return err
		}
		if _, err := e.lending.ModifyPosition(ctx.Timestamp, ctx.Caller, asset,
			new(big.Int).Neg(amount), nil, cq, dq); err != nil {
			return err
		}
		return e.book.Transfer(ctx.TxID, lendingCollateral(asset),
			ledger.UserAccount(ctx.Caller, asset), amount, ledger.EntryKindCollateral, ctx.Timestamp)
	})
}

// Borrow draws debt asset against collateral.
func (e *Engine) Borrow(ctx event.Context, collateralAsset string, amount *big.Int) error {
	p := struct {
		CollateralAsset string `json:"collateral_asset"`
		Amount          string `json:"amount"`
	}{collateralAsset, amount.String()}
	return e.runTx(ctx, event.OpBorrow, p, func() error {
		cq, dq, err := e.positionQuotes(ctx.Timestamp, collateralAsset)
		if err != nil {
			return err
		}
		if _, err := e.lending.ModifyPosition(ctx.Timestamp, ctx.Caller, collateralAsset,
			nil, amount, cq, dq); err != nil {
			return err
		}
		return e.book.Transfer(ctx.TxID, lendingLiquidity(e.cfg.DebtAsset),
			ledger.UserAccount(ctx.Caller, e.cfg.DebtAsset), amount, ledger.EntryKindDebt, ctx.Timestamp)
	})
}

// Repay pays down the caller's debt, capped at what is owed after accrual.
func (e *Engine) Repay(ctx event.Context, collateralAsset string, amount *big.Int) error {
	p := struct {
		CollateralAsset string `json:"collateral_asset"`
		Amount          string `json:"amount"`
	}{collateralAsset, amount.String()}
	return e.runTx(ctx, event.OpRepay, p, func() error {
		return e.doRepay(ctx, collateralAsset, amount)
	})
}

func (e *Engine) doRepay(ctx event.Context, collateralAsset string, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return lending.ErrInvalidAmount
	}
	if err := e.lending.AccrueInterest(ctx.Timestamp, collateralAsset); err != nil {
		return err
	}
	pos, err := e.lending.GetPosition(ctx.Caller, collateralAsset)
	if err != nil {
		return err
	}
	idx, err := e.lending.BorrowIndex(collateralAsset)
	if err != nil {
		return err
	}
	pay := fixedpoint.Min(amount, pos.Debt(idx))
	if pay.Sign() == 0 {
		return fmt.Errorf("%w: nothing owed", lending.ErrRepayExceedsDebt)
	}
	if err := e.book.Transfer(ctx.TxID, ledger.UserAccount(ctx.Caller, e.cfg.DebtAsset),
		lendingLiquidity(e.cfg.DebtAsset), pay, ledger.EntryKindDebt, ctx.Timestamp); err != nil {
		return err
	}
	// Repayment never weakens the position; no quotes consulted.
	_, err = e.lending.ModifyPosition(ctx.Timestamp, ctx.Caller, collateralAsset,
		nil, new(big.Int).Neg(pay), lending.Price{}, lending.Price{})
	return err
}

// SwapExactIn trades a fixed input on a pool.
func (e *Engine) SwapExactIn(ctx event.Context, poolID, assetIn string, amountIn, minOut *big.Int) (*big.Int, error) {
	p := struct {
		PoolID   string `json:"pool_id"`
		AssetIn  string `json:"asset_in"`
		AmountIn string `json:"amount_in"`
		MinOut   string `json:"min_out"`
	}{poolID, assetIn, amountIn.String(), minOut.String()}
	var out *big.Int
	err := e.runTx(ctx, event.OpSwapExactIn, p, func() error {
		var err error
		out, err = e.doSwapExactIn(ctx, poolID, assetIn, amountIn, minOut)
		return err
	})
	return out, err
}

func (e *Engine) doSwapExactIn(ctx event.Context, poolID, assetIn string, amountIn, minOut *big.Int) (*big.Int, error) {
	pool, err := e.pools.Get(poolID)
	if err != nil {
		return nil, err
	}
	assetOut, err := pool.Other(assetIn)
	if err != nil {
		return nil, err
	}
	out, err := pool.SwapExactIn(assetIn, amountIn, minOut)
	if err != nil {
		return nil, err
	}
	if err := e.book.Transfer(ctx.TxID, ledger.UserAccount(ctx.Caller, assetIn),
		ammAccount(poolID, assetIn), amountIn, ledger.EntryKindSwap, ctx.Timestamp); err != nil {
		return nil, err
	}
	if err := e.book.Transfer(ctx.TxID, ammAccount(poolID, assetOut),
		ledger.UserAccount(ctx.Caller, assetOut), out, ledger.EntryKindSwap, ctx.Timestamp); err != nil {
		return nil, err
	}
	return out, nil
}

// SwapExactOut trades for a fixed output on a pool.
func (e *Engine) SwapExactOut(ctx event.Context, poolID, assetOut string, amountOut, maxIn *big.Int) (*big.Int, error) {
	p := struct {
		PoolID    string `json:"pool_id"`
		AssetOut  string `json:"asset_out"`
		AmountOut string `json:"amount_out"`
		MaxIn     string `json:"max_in"`
	}{poolID, assetOut, amountOut.String(), maxIn.String()}
	var in *big.Int
	err := e.runTx(ctx, event.OpSwapExactOut, p, func() error {
		pool, err := e.pools.Get(poolID)
		if err != nil {
			return err
		}
		assetIn, err := pool.Other(assetOut)
		if err != nil {
			return err
		}
		in, err = pool.SwapExactOut(assetOut, amountOut, maxIn)
		if err != nil {
			return err
		}
		if err := e.book.Transfer(ctx.TxID, ledger.UserAccount(ctx.Caller, assetIn),
			ammAccount(poolID, assetIn), in, ledger.EntryKindSwap, ctx.Timestamp); err != nil {
			return err
		}
		return e.book.Transfer(ctx.TxID, ammAccount(poolID, assetOut),
			ledger.UserAccount(ctx.Caller, assetOut), amountOut, ledger.EntryKindSwap, ctx.Timestamp)
	})
	return in, err
}

// AddLiquidity deposits both pool assets for LP shares.
func (e *Engine) AddLiquidity(ctx event.Context, poolID string, amountA, amountB *big.Int) (*big.Int, error) {
	p := struct {
		PoolID  string `json:"pool_id"`
		AmountA string `json:"amount_a"`
		AmountB string `json:"amount_b"`
	}{poolID, amountA.String(), amountB.String()}
	var minted *big.Int
	err := e.runTx(ctx, event.OpAddLiquidity, p, func() error {
		pool, err := e.pools.Get(poolID)
		if err != nil {
			return err
		}
		minted, err = pool.AddLiquidity(ctx.Caller, amountA, amountB)
		if err != nil {
			return err
		}
		if err := e.book.Transfer(ctx.TxID, ledger.UserAccount(ctx.Caller, pool.AssetA),
			ammAccount(poolID, pool.AssetA), amountA, ledger.EntryKindSwap, ctx.Timestamp); err != nil {
			return err
		}
		return e.book.Transfer(ctx.TxID, ledger.UserAccount(ctx.Caller, pool.AssetB),
			ammAccount(poolID, pool.AssetB), amountB, ledger.EntryKindSwap, ctx.Timestamp)
	})
	return minted, err
}

// RemoveLiquidity burns LP shares for proportional reserves.
func (e *Engine) RemoveLiquidity(ctx event.Context, poolID string, shares *big.Int) (*big.Int, *big.Int, error) {
	p := struct {
		PoolID string `json:"pool_id"`
		Shares string `json:"shares"`
	}{poolID, shares.String()}
	var outA, outB *big.Int
	err := e.runTx(ctx, event.OpRemoveLiquidity, p, func() error {
		pool, err := e.pools.Get(poolID)
		if err != nil {
			return err
		}
		outA, outB, err = pool.RemoveLiquidity(ctx.Caller, shares)
		if err != nil {
			return err
		}
		if outA.Sign() > 0 {
			if err := e.book.Transfer(ctx.TxID, ammAccount(poolID, pool.AssetA),
				ledger.UserAccount(ctx.Caller, pool.AssetA), outA, ledger.EntryKindSwap, ctx.Timestamp); err != nil {
				return err
			}
		}
		if outB.Sign() > 0 {
			return e.book.Transfer(ctx.TxID, ammAccount(poolID, pool.AssetB),
				ledger.UserAccount(ctx.Caller, pool.AssetB), outB, ledger.EntryKindSwap, ctx.Timestamp)
		}
		return nil
	})
	return outA, outB, err
}

// VaultDeposit exchanges assets for vault shares.
func (e *Engine) VaultDeposit(ctx event.Context, vaultID string, assets *big.Int) (*big.Int, error) {
	p := struct {
		VaultID string `json:"vault_id"`
		Assets  string `json:"assets"`
	}{vaultID, assets.String()}
	var shares *big.Int
	err := e.runTx(ctx, event.OpVaultDeposit, p, func() error {
		v, err := e.vaults.Get(vaultID)
		if err != nil {
			return err
		}
		shares, err = v.Deposit(ctx.Caller, assets)
		if err != nil {
			return err
		}
		return e.book.Transfer(ctx.TxID, ledger.UserAccount(ctx.Caller, v.Asset),
			vaultAccount(vaultID, v.Asset), assets, ledger.EntryKindVault, ctx.Timestamp)
	})
	return shares, err
}

// VaultMint buys an exact share amount, charging rounded-up assets.
func (e *Engine) VaultMint(ctx event.Context, vaultID string, shares *big.Int) (*big.Int, error) {
	p := struct {
		VaultID string `json:"vault_id"`
		Shares  string `json:"shares"`
	}{vaultID, shares.String()}
	var assets *big.Int
	err := e.runTx(ctx, event.OpVaultMint, p, func() error {
		v, err := e.vaults.Get(vaultID)
		if err != nil {
			return err
		}
		assets, err = v.Mint(ctx.Caller, shares)
		if err != nil {
			return err
		}
		return e.book.Transfer(ctx.TxID, ledger.UserAccount(ctx.Caller, v.Asset),
			vaultAccount(vaultID, v.Asset), assets, ledger.EntryKindVault, ctx.Timestamp)
	})
	return assets, err
}

// VaultWithdraw releases an exact asset amount, burning rounded-up shares.
func (e *Engine) VaultWithdraw(ctx event.Context, vaultID string, assets *big.Int) (*big.Int, error) {
	p := struct {
		VaultID string `json:"vault_id"`
		Assets  string `json:"assets"`
	}{vaultID, assets.String()}
	var burned *big.Int
	err := e.runTx(ctx, event.OpVaultWithdraw, p, func() error {
		v, err := e.vaults.Get(vaultID)
		if err != nil {
			return err
		}
		burned, err = v.Withdraw(ctx.Caller, assets)
		if err != nil {
			return err
		}
		return e.book.Transfer(ctx.TxID, vaultAccount(vaultID, v.Asset),
			ledger.UserAccount(ctx.Caller, v.Asset), assets, ledger.EntryKindVault, ctx.Timestamp)
	})
	return burned, err
}

// VaultRedeem burns an exact share amount for rounded-down assets.
func (e *Engine) VaultRedeem(ctx event.Context, vaultID string, shares *big.Int) (*big.Int, error) {
	p := struct {
		VaultID string `json:"vault_id"`
		Shares  string `json:"shares"`
	}{vaultID, shares.String()}
	var assets *big.Int
	err := e.runTx(ctx, event.OpVaultRedeem, p, func() error {
		v, err := e.vaults.Get(vaultID)
		if err != nil {
			return err
		}
		assets, err = v.Redeem(ctx.Caller, shares)
		if err != nil {
			return err
		}
		if assets.Sign() == 0 {
			return nil
		}
		return e.book.Transfer(ctx.TxID, vaultAccount(vaultID, v.Asset),
			ledger.UserAccount(ctx.Caller, v.Asset), assets, ledger.EntryKindVault, ctx.Timestamp)
	})
	return assets, err
}

// VaultReport books a strategy gain (delta > 0) or loss (delta < 0) against
// the external yield counterparty.
func (e *Engine) VaultReport(ctx event.Context, vaultID string, delta *big.Int) error {
	p := struct {
		VaultID string `json:"vault_id"`
		Delta   string `json:"delta"`
	}{vaultID, delta.String()}
	return e.runTx(ctx, event.OpVaultReport, p, func() error {
		v, err := e.vaults.Get(vaultID)
		if err != nil {
			return err
		}
		switch delta.Sign() {
		case 1:
			if err := v.ReportGain(delta); err != nil {
				return err
			}
			return e.book.Transfer(ctx.TxID, ledger.ExternalAccount(yieldAccount, v.Asset),
				vaultAccount(vaultID, v.Asset), delta, ledger.EntryKindVault, ctx.Timestamp)
		case -1:
			loss := new(big.Int).Neg(delta)
			if err := v.ReportLoss(loss); err != nil {
				return err
			}
			return e.book.Transfer(ctx.TxID, vaultAccount(vaultID, v.Asset),
				ledger.ExternalAccount(yieldAccount, v.Asset), loss, ledger.EntryKindVault, ctx.Timestamp)
		default:
			return lending.ErrInvalidAmount
		}
	})
}

// StartAuction opens a Dutch auction over an unhealthy position.
func (e *Engine) StartAuction(ctx event.Context, owner, collateralAsset string) (*auction.Auction, error) {
	p := struct {
		Owner           string `json:"owner"`
		CollateralAsset string `json:"collateral_asset"`
	}{owner, collateralAsset}
	var a *auction.Auction
	err := e.runTx(ctx, event.OpAuctionStart, p, func() error {
		cq, dq, err := e.positionQuotes(ctx.Timestamp, collateralAsset)
		if err != nil {
			return err
		}
		if err := e.lending.CheckLiquidatable(ctx.Timestamp, owner, collateralAsset, cq, dq); err != nil {
			return err
		}
		pos, err := e.lending.GetPosition(owner, collateralAsset)
		if err != nil {
			return err
		}
		idx, err := e.lending.BorrowIndex(collateralAsset)
		if err != nil {
			return err
		}
		a, err = e.auctions.Start(ctx.Timestamp, owner, collateralAsset,
			pos.Collateral, pos.Debt(idx), cq.Value, cq.Decimals)
		return err
	})
	return a, err
}

// TakeAuction buys a lot at the current curve price and settles the fill
// into the position.
func (e *Engine) TakeAuction(ctx event.Context, auctionID uuid.UUID, lot *big.Int) (auction.Fill, error) {
	p := struct {
		AuctionID string `json:"auction_id"`
		Lot       string `json:"lot"`
	}{auctionID.String(), lot.String()}
	var fill auction.Fill
	err := e.runTx(ctx, event.OpAuctionTake, p, func() error {
		var err error
		fill, err = e.doTakeAuction(ctx, auctionID, lot)
		return err
	})
	return fill, err
}

func (e *Engine) doTakeAuction(ctx event.Context, auctionID uuid.UUID, lot *big.Int) (auction.Fill, error) {
	a, err := e.auctions.Get(auctionID)
	if err != nil {
		return auction.Fill{}, err
	}
	dq, err := e.quote(ctx.Timestamp, e.cfg.DebtAsset)
	if err != nil {
		return auction.Fill{}, err
	}
	fill, err := e.auctions.Take(ctx.Timestamp, auctionID, lot, e.cfg.DebtDecimals, dq.Value, dq.Decimals)
	if err != nil {
		return auction.Fill{}, err
	}
	if err := e.book.Transfer(ctx.TxID, ledger.UserAccount(ctx.Caller, e.cfg.DebtAsset),
		lendingLiquidity(e.cfg.DebtAsset), fill.Cost, ledger.EntryKindAuction, ctx.Timestamp); err != nil {
		return auction.Fill{}, err
	}
	if err := e.book.Transfer(ctx.TxID, lendingCollateral(a.Asset),
		ledger.UserAccount(ctx.Caller, a.Asset), fill.Lot, ledger.EntryKindAuction, ctx.Timestamp); err != nil {
		return auction.Fill{}, err
	}
	if _, err := e.lending.ApplyLiquidation(ctx.Timestamp, a.Owner, a.Asset, fill.Lot, fill.DebtReduced); err != nil {
		return auction.Fill{}, err
	}
	if e.metrics != nil {
		e.metrics.AuctionTakes.WithLabelValues(a.Asset).Inc()
		// A fill below par extinguishes more debt than the taker paid in;
		// the shortfall is socialized onto the liquidity reserve.
		if fill.DebtReduced.Cmp(fill.Cost) > 0 {
			short, _ := new(big.Float).SetInt(new(big.Int).Sub(fill.DebtReduced, fill.Cost)).Float64()
			e.metrics.BadDebt.WithLabelValues(a.Asset).Add(short)
		}
	}
	return fill, nil
}

// ResetAuction reopens an expired auction at a fresh buffered oracle price.
func (e *Engine) ResetAuction(ctx event.Context, auctionID uuid.UUID) (*auction.Auction, error) {
	p := struct {
		AuctionID string `json:"auction_id"`
	}{auctionID.String()}
	var a *auction.Auction
	err := e.runTx(ctx, event.OpAuctionReset, p, func() error {
		cur, err := e.auctions.Get(auctionID)
		if err != nil {
			return err
		}
		cq, err := e.quote(ctx.Timestamp, cur.Asset)
		if err != nil {
			return err
		}
		a, err = e.auctions.Reset(ctx.Timestamp, auctionID, cq.Value, cq.Decimals)
		return err
	})
	return a, err
}

// FlashLoan credits the principal to the caller, runs the strategy, then
// collects principal plus fee from the caller's measured balance. Any
// shortfall or strategy error rolls the entire transaction back.
func (e *Engine) FlashLoan(ctx event.Context, asset string, amount *big.Int, strategyID string, params []byte) error {
	p := struct {
		Asset      string `json:"asset"`
		Amount     string `json:"amount"`
		StrategyID string `json:"strategy_id"`
	}{asset, amount.String(), strategyID}
	return e.runTx(ctx, event.OpFlashLoan, p, func() error {
		if asset != e.cfg.DebtAsset {
			return fmt.Errorf("%w: %s", ErrUnsupportedFlashAsset, asset)
		}
		strat, err := e.flash.Get(strategyID)
		if err != nil {
			return err
		}
		fee := e.flash.Fee(amount)
		liquidity := lendingLiquidity(asset)
		caller := ledger.UserAccount(ctx.Caller, asset)

		if err := e.book.Transfer(ctx.TxID, liquidity, caller, amount, ledger.EntryKindFlashLoan, ctx.Timestamp); err != nil {
			return err
		}
		if err := strat.Execute(ctx, flashEnv{e}, asset, amount, params); err != nil {
			return err
		}
		if err := e.book.Transfer(ctx.TxID, caller, liquidity, amount, ledger.EntryKindFlashLoan, ctx.Timestamp); err != nil {
			if errors.Is(err, ledger.ErrInsufficientBalance) {
				return fmt.Errorf("%w: principal %s", flash.ErrRepaymentInsufficient, amount)
			}
			return err
		}
		if fee.Sign() > 0 {
			if err := e.book.Transfer(ctx.TxID, caller, liquidity, fee, ledger.EntryKindFee, ctx.Timestamp); err != nil {
				if errors.Is(err, ledger.ErrInsufficientBalance) {
					return fmt.Errorf("%w: fee %s", flash.ErrRepaymentInsufficient, fee)
				}
				return err
			}
		}
		if e.metrics != nil {
			volume, _ := new(big.Float).SetInt(amount).Float64()
			e.metrics.FlashLoanVolume.WithLabelValues(asset).Add(volume)
			feeF, _ := new(big.Float).SetInt(fee).Float64()
			e.metrics.FlashLoanFees.WithLabelValues(asset).Add(feeF)
		}
		return nil
	})
}
