package vault

import (
	"errors"
	"fmt"
	"math/big"

	"LendCore/internal/fixedpoint"
)

var (
	ErrInvalidAmount          = errors.New("vault: amount must be positive")
	ErrInsufficientShares     = errors.New("vault: insufficient shares")
	ErrInsufficientAssets     = errors.New("vault: insufficient assets")
	ErrInflationGuardTriggered = errors.New("vault: deposit would mint zero shares")
)

// VirtualShares is the phantom share offset added to every conversion. It
// makes the first-depositor inflation attack unprofitable: donating assets
// to skew the exchange rate dilutes the attacker's own claim because the
// virtual shares absorb a fixed fraction of the donation.
const VirtualShares = 1000

// Vault is a single-asset yield vault with proportional share accounting.
// It tracks totalAssets internally rather than measuring a custody balance,
// so direct transfers into the vault's ledger account cannot move the
// exchange rate.
type Vault struct {
	ID    string
	Asset string

	totalAssets *big.Int
	totalShares *big.Int
	shares      map[string]*big.Int
}

func New(id, asset string) *Vault {
	return &Vault{
		ID:          id,
		Asset:       asset,
		totalAssets: new(big.Int),
		totalShares: new(big.Int),
		shares:      make(map[string]*big.Int),
	}
}

func (v *Vault) TotalAssets() *big.Int { return fixedpoint.Clone(v.totalAssets) }
func (v *Vault) TotalShares() *big.Int { return fixedpoint.Clone(v.totalShares) }

// SharesOf returns an owner's share balance.
func (v *Vault) SharesOf(owner string) *big.Int {
	return fixedpoint.Clone(v.shares[owner])
}

func (v *Vault) virtualShares() *big.Int {
	return new(big.Int).Add(v.totalShares, big.NewInt(VirtualShares))
}

func (v *Vault) virtualAssets() *big.Int {
	return new(big.Int).Add(v.totalAssets, big.NewInt(1))
}

// ConvertToShares prices assets in shares, rounding down (against the
// depositor).
func (v *Vault) ConvertToShares(assets *big.Int) *big.Int {
	return fixedpoint.MulDiv(assets, v.virtualShares(), v.virtualAssets())
}

// ConvertToAssets prices shares in assets, rounding down (against the
// redeemer).
func (v *Vault) ConvertToAssets(shares *big.Int) *big.Int {
	return fixedpoint.MulDiv(shares, v.virtualAssets(), v.virtualShares())
}

// Deposit credits shares for a fixed asset amount. A positive deposit that
// would mint zero shares is refused outright instead of silently donating to
// existing holders.
func (v *Vault) Deposit(owner string, assets *big.Int) (*big.Int, error) {
	if assets == nil || assets.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	minted := v.ConvertToShares(assets)
	if minted.Sign() == 0 {
		return nil, fmt.Errorf("%w: %s assets in vault %s", ErrInflationGuardTriggered, assets, v.ID)
	}
	v.totalAssets.Add(v.totalAssets, assets)
	v.totalShares.Add(v.totalShares, minted)
	v.credit(owner, minted)
	return minted, nil
}

// Mint credits an exact share amount, charging assets rounded up so the
// vault never under-collects.
func (v *Vault) Mint(owner string, shares *big.Int) (*big.Int, error) {
	if shares == nil || shares.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	assets := fixedpoint.MulDivUp(shares, v.virtualAssets(), v.virtualShares())
	v.totalAssets.Add(v.totalAssets, assets)
	v.totalShares.Add(v.totalShares, shares)
	v.credit(owner, shares)
	return assets, nil
}

// Withdraw releases an exact asset amount, burning shares rounded up so the
// vault never over-pays.
func (v *Vault) Withdraw(owner string, assets *big.Int) (*big.Int, error) {
	if assets == nil || assets.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if assets.Cmp(v.totalAssets) > 0 {
		return nil, fmt.Errorf("%w: vault %s holds %s, want %s", ErrInsufficientAssets, v.ID, v.totalAssets, assets)
	}
	burned := fixedpoint.MulDivUp(assets, v.virtualShares(), v.virtualAssets())
	held := v.shares[owner]
	if held == nil || held.Cmp(burned) < 0 {
		return nil, fmt.Errorf("%w: %s holds %s, need %s", ErrInsufficientShares, owner, fixedpoint.Clone(held), burned)
	}
	v.debit(owner, held, burned)
	v.totalShares.Sub(v.totalShares, burned)
	v.totalAssets.Sub(v.totalAssets, assets)
	return burned, nil
}

// Redeem burns an exact share amount for assets rounded down.
func (v *Vault) Redeem(owner string, shares *big.Int) (*big.Int, error) {
	if shares == nil || shares.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	held := v.shares[owner]
	if held == nil || held.Cmp(shares) < 0 {
		return nil, fmt.Errorf("%w: %s holds %s, burning %s", ErrInsufficientShares, owner, fixedpoint.Clone(held), shares)
	}
	assets := v.ConvertToAssets(shares)
	v.debit(owner, held, shares)
	v.totalShares.Sub(v.totalShares, shares)
	v.totalAssets.Sub(v.totalAssets, assets)
	return assets, nil
}

// ReportGain books yield earned by the vault's strategy. Shares are
// untouched; every holder's claim appreciates pro rata.
func (v *Vault) ReportGain(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	v.totalAssets.Add(v.totalAssets, amount)
	return nil
}

// ReportLoss books a strategy loss. No shares are burned; the loss dilutes
// all holders equally through the exchange rate.
func (v *Vault) ReportLoss(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if amount.Cmp(v.totalAssets) > 0 {
		return fmt.Errorf("%w: loss %s exceeds holdings %s in vault %s", ErrInsufficientAssets, amount, v.totalAssets, v.ID)
	}
	v.totalAssets.Sub(v.totalAssets, amount)
	return nil
}

func (v *Vault) credit(owner string, amount *big.Int) {
	bal := v.shares[owner]
	if bal == nil {
		bal = new(big.Int)
		v.shares[owner] = bal
	}
	bal.Add(bal, amount)
}

func (v *Vault) debit(owner string, held, amount *big.Int) {
	held.Sub(held, amount)
	if held.Sign() == 0 {
		delete(v.shares, owner)
	}
}
