package amm

import (
	"errors"
	"fmt"
	"math/big"

	"LendCore/internal/fixedpoint"
)

var (
	ErrSlippageExceeded      = errors.New("amm: slippage exceeded")
	ErrInsufficientLiquidity = errors.New("amm: insufficient liquidity")
	ErrUnknownAsset          = errors.New("amm: asset not in pool")
	ErrReentrancy            = errors.New("amm: reentrant call")
	ErrInvalidAmount         = errors.New("amm: amount must be positive")
	ErrInsufficientShares    = errors.New("amm: insufficient LP shares")
)

// Pool is a two-asset constant-product market. Reserves are the pricing
// source of truth; custody of the matching assets lives in the ledger book
// under the pool's module account.
type Pool struct {
	ID     string
	AssetA string
	AssetB string
	FeeBps uint64

	reserveA    *big.Int
	reserveB    *big.Int
	totalShares *big.Int
	shares      map[string]*big.Int

	// entered guards against a callback re-entering the pool while reserves
	// are mid-mutation.
	entered bool
}

func NewPool(id, assetA, assetB string, feeBps uint64) *Pool {
	return &Pool{
		ID:          id,
		AssetA:      assetA,
		AssetB:      assetB,
		FeeBps:      feeBps,
		reserveA:    new(big.Int),
		reserveB:    new(big.Int),
		totalShares: new(big.Int),
		shares:      make(map[string]*big.Int),
	}
}

// Reserves returns copies of the current reserves.
func (p *Pool) Reserves() (*big.Int, *big.Int) {
	return fixedpoint.Clone(p.reserveA), fixedpoint.Clone(p.reserveB)
}

// TotalShares returns the outstanding LP share supply.
func (p *Pool) TotalShares() *big.Int {
	return fixedpoint.Clone(p.totalShares)
}

// SharesOf returns a provider's LP share balance.
func (p *Pool) SharesOf(owner string) *big.Int {
	return fixedpoint.Clone(p.shares[owner])
}

// Other returns the counter-asset of assetIn.
func (p *Pool) Other(asset string) (string, error) {
	switch asset {
	case p.AssetA:
		return p.AssetB, nil
	case p.AssetB:
		return p.AssetA, nil
	default:
		return "", fmt.Errorf("%w: %s in pool %s", ErrUnknownAsset, asset, p.ID)
	}
}

func (p *Pool) enter() error {
	if p.entered {
		return fmt.Errorf("%w: pool %s", ErrReentrancy, p.ID)
	}
	p.entered = true
	return nil
}

func (p *Pool) exit() { p.entered = false }

func (p *Pool) invariant() *big.Int {
	return new(big.Int).Mul(p.reserveA, p.reserveB)
}

func (p *Pool) orient(assetIn string) (in, out *big.Int, err error) {
	switch assetIn {
	case p.AssetA:
		return p.reserveA, p.reserveB, nil
	case p.AssetB:
		return p.reserveB, p.reserveA, nil
	default:
		return nil, nil, fmt.Errorf("%w: %s in pool %s", ErrUnknownAsset, assetIn, p.ID)
	}
}

// SwapExactIn swaps a fixed input for as much output as the curve allows:
//
//	out = reserveOut * in*(1-fee) / (reserveIn + in*(1-fee))
//
// The numerator is held at full precision before the single division, so the
// fee never compounds rounding against the trader twice. Fails with
// ErrSlippageExceeded when the output clears below minOut.
func (p *Pool) SwapExactIn(assetIn string, amountIn, minOut *big.Int) (*big.Int, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.exit()

	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	reserveIn, reserveOut, err := p.orient(assetIn)
	if err != nil {
		return nil, err
	}
	if reserveIn.Sign() == 0 || reserveOut.Sign() == 0 {
		return nil, fmt.Errorf("%w: pool %s is empty", ErrInsufficientLiquidity, p.ID)
	}

	kBefore := p.invariant()

	feeFactor := new(big.Int).Sub(fixedpoint.BasisPoints, new(big.Int).SetUint64(p.FeeBps))
	inWithFee := fixedpoint.MulDiv(amountIn, feeFactor, fixedpoint.BasisPoints)

	num := new(big.Int).Mul(reserveOut, inWithFee)
	den := new(big.Int).Add(reserveIn, inWithFee)
	amountOut := num.Quo(num, den)

	if amountOut.Cmp(reserveOut) >= 0 {
		return nil, fmt.Errorf("%w: output %s >= reserve %s", ErrInsufficientLiquidity, amountOut, reserveOut)
	}
	if minOut != nil && amountOut.Cmp(minOut) < 0 {
		return nil, fmt.Errorf("%w: out %s < min %s", ErrSlippageExceeded, amountOut, minOut)
	}

	reserveIn.Add(reserveIn, amountIn)
	reserveOut.Sub(reserveOut, amountOut)

	p.checkInvariant(kBefore)
	return amountOut, nil
}

// SwapExactOut swaps for a fixed output, charging whatever input the curve
// requires (rounded up, in the pool's favor). Fails with ErrSlippageExceeded
// when the required input exceeds maxIn.
func (p *Pool) SwapExactOut(assetOut string, amountOut, maxIn *big.Int) (*big.Int, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.exit()

	if amountOut == nil || amountOut.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	assetIn, err := p.Other(assetOut)
	if err != nil {
		return nil, err
	}
	reserveIn, reserveOut, err := p.orient(assetIn)
	if err != nil {
		return nil, err
	}
	if amountOut.Cmp(reserveOut) >= 0 {
		return nil, fmt.Errorf("%w: want %s, reserve %s", ErrInsufficientLiquidity, amountOut, reserveOut)
	}

	kBefore := p.invariant()

	// in = reserveIn*out*10000 / ((reserveOut-out)*(10000-fee)), rounded up.
	feeFactor := new(big.Int).Sub(fixedpoint.BasisPoints, new(big.Int).SetUint64(p.FeeBps))
	num := new(big.Int).Mul(reserveIn, amountOut)
	num.Mul(num, fixedpoint.BasisPoints)
	den := new(big.Int).Sub(reserveOut, amountOut)
	den.Mul(den, feeFactor)
	amountIn := fixedpoint.MulDivUp(num, big.NewInt(1), den)

	if maxIn != nil && amountIn.Cmp(maxIn) > 0 {
		return nil, fmt.Errorf("%w: in %s > max %s", ErrSlippageExceeded, amountIn, maxIn)
	}

	reserveIn.Add(reserveIn, amountIn)
	reserveOut.Sub(reserveOut, amountOut)

	p.checkInvariant(kBefore)
	return amountIn, nil
}

// checkInvariant panics if k decreased. A shrinking invariant means the swap
// math created value out of the pool, which is a logic bug, not a caller
// error.
func (p *Pool) checkInvariant(kBefore *big.Int) {
	kAfter := p.invariant()
	if kAfter.Cmp(kBefore) < 0 {
		panic(fmt.Sprintf("FATAL: pool %s invariant decreased: %s -> %s", p.ID, kBefore, kAfter))
	}
}

// AddLiquidity mints LP shares for a deposit of both assets. The first
// provider sets the price; later providers are credited by the smaller of
// the two proportional claims, so imbalance rounds in the pool's favor.
func (p *Pool) AddLiquidity(owner string, amountA, amountB *big.Int) (*big.Int, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.exit()

	if amountA == nil || amountA.Sign() <= 0 || amountB == nil || amountB.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}

	var minted *big.Int
	if p.totalShares.Sign() == 0 {
		minted = new(big.Int).Sqrt(new(big.Int).Mul(amountA, amountB))
		if minted.Sign() == 0 {
			return nil, ErrInvalidAmount
		}
	} else {
		byA := fixedpoint.MulDiv(amountA, p.totalShares, p.reserveA)
		byB := fixedpoint.MulDiv(amountB, p.totalShares, p.reserveB)
		minted = fixedpoint.Min(byA, byB)
		if minted.Sign() == 0 {
			return nil, fmt.Errorf("%w: deposit too small for share supply", ErrInvalidAmount)
		}
	}

	p.reserveA.Add(p.reserveA, amountA)
	p.reserveB.Add(p.reserveB, amountB)
	p.totalShares.Add(p.totalShares, minted)
	p.creditShares(owner, minted)
	return minted, nil
}

// RemoveLiquidity burns LP shares for the proportional reserves, rounding
// the payout down.
func (p *Pool) RemoveLiquidity(owner string, burn *big.Int) (*big.Int, *big.Int, error) {
	if err := p.enter(); err != nil {
		return nil, nil, err
	}
	defer p.exit()

	if burn == nil || burn.Sign() <= 0 {
		return nil, nil, ErrInvalidAmount
	}
	held := p.shares[owner]
	if held == nil || held.Cmp(burn) < 0 {
		return nil, nil, fmt.Errorf("%w: %s holds %s, burning %s", ErrInsufficientShares, owner, fixedpoint.Clone(held), burn)
	}

	outA := fixedpoint.MulDiv(burn, p.reserveA, p.totalShares)
	outB := fixedpoint.MulDiv(burn, p.reserveB, p.totalShares)

	held.Sub(held, burn)
	if held.Sign() == 0 {
		delete(p.shares, owner)
	}
	p.totalShares.Sub(p.totalShares, burn)
	p.reserveA.Sub(p.reserveA, outA)
	p.reserveB.Sub(p.reserveB, outB)
	return outA, outB, nil
}

func (p *Pool) creditShares(owner string, amount *big.Int) {
	bal := p.shares[owner]
	if bal == nil {
		bal = new(big.Int)
		p.shares[owner] = bal
	}
	bal.Add(bal, amount)
}
