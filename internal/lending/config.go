package lending

import (
	"errors"
	"fmt"
	"math/big"
)

var ErrInvalidConfig = errors.New("lending: invalid reserve config")

// ReserveConfig is the risk parameterization of one collateral asset. All
// ratios are basis points; rates and indexes are WAD fixed point.
type ReserveConfig struct {
	Asset    string
	Decimals uint8

	// MaxLTVBps caps the debt value a new borrow may draw against collateral
	// value. Always below the liquidation threshold so a position cannot be
	// born liquidatable.
	MaxLTVBps uint64

	// LiquidationThresholdBps is the collateral weight used in health factor
	// checks.
	LiquidationThresholdBps uint64

	// LiquidationBonusBps is the liquidator's discount on seized collateral.
	// It bounds the reserve's parameterization; settlement itself discovers
	// the discount through the Dutch decay, so the bonus never enters fill
	// math directly.
	LiquidationBonusBps uint64

	// DebtCeiling caps total debt drawn against this collateral, in debt
	// asset base units. Zero means no ceiling.
	DebtCeiling *big.Int

	// DustMin is the smallest allowed non-zero debt, in debt asset base
	// units. Positions too small to be worth liquidating are refused at
	// origination.
	DustMin *big.Int

	// RatePerSecWad is the per-second borrow interest rate, WAD scaled.
	RatePerSecWad *big.Int
}

func (c ReserveConfig) Validate() error {
	if c.Asset == "" {
		return fmt.Errorf("%w: empty asset", ErrInvalidConfig)
	}
	if c.MaxLTVBps == 0 || c.MaxLTVBps >= 10_000 {
		return fmt.Errorf("%w: %s maxLTV %d bps", ErrInvalidConfig, c.Asset, c.MaxLTVBps)
	}
	if c.LiquidationThresholdBps <= c.MaxLTVBps || c.LiquidationThresholdBps >= 10_000 {
		return fmt.Errorf("%w: %s threshold %d bps must sit between maxLTV %d and 10000",
			ErrInvalidConfig, c.Asset, c.LiquidationThresholdBps, c.MaxLTVBps)
	}
	// A bonus above 1/threshold - 1 lets a liquidation seize more value than
	// the collateral weight backs.
	maxBonus := uint64(10_000*10_000)/c.LiquidationThresholdBps - 10_000
	if c.LiquidationBonusBps > maxBonus {
		return fmt.Errorf("%w: %s bonus %d bps exceeds %d", ErrInvalidConfig, c.Asset, c.LiquidationBonusBps, maxBonus)
	}
	if c.DebtCeiling != nil && c.DebtCeiling.Sign() < 0 {
		return fmt.Errorf("%w: %s negative debt ceiling", ErrInvalidConfig, c.Asset)
	}
	if c.DustMin != nil && c.DustMin.Sign() < 0 {
		return fmt.Errorf("%w: %s negative dust minimum", ErrInvalidConfig, c.Asset)
	}
	if c.RatePerSecWad == nil || c.RatePerSecWad.Sign() < 0 {
		return fmt.Errorf("%w: %s missing rate", ErrInvalidConfig, c.Asset)
	}
	return nil
}
