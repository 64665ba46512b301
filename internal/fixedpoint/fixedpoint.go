package fixedpoint

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// All monetary values are normalized to WAD (1e18) fixed point before any
// cross-asset comparison. Amounts stay in their asset's native decimals;
// prices stay in their feed's declared decimals. The only place the two meet
// is NormalizeValue.

var (
	Wad         = big.NewInt(1_000_000_000_000_000_000)
	BasisPoints = big.NewInt(10_000)

	zero = big.NewInt(0)
	one  = big.NewInt(1)
)

// pow10 table covers every decimals value a feed or asset can declare.
var pow10 [39]*big.Int

func init() {
	p := big.NewInt(1)
	ten := big.NewInt(10)
	for i := range pow10 {
		pow10[i] = new(big.Int).Set(p)
		p.Mul(p, ten)
	}
}

// Pow10 returns 10^n. n above 38 indicates a corrupt decimals config.
func Pow10(n uint8) *big.Int {
	if int(n) >= len(pow10) {
		panic("fixedpoint: decimals out of range")
	}
	return pow10[n]
}

// MulDiv computes a*b/den with a full-precision intermediate product,
// rounding toward zero. den must be positive.
func MulDiv(a, b, den *big.Int) *big.Int {
	num := new(big.Int).Mul(a, b)
	return num.Quo(num, den)
}

// MulDivUp is MulDiv rounding away from zero for positive operands. Used
// wherever the protocol must round in its own favor (vault share burns,
// exact-out swap inputs).
func MulDivUp(a, b, den *big.Int) *big.Int {
	num := new(big.Int).Mul(a, b)
	q, r := new(big.Int).QuoRem(num, den, new(big.Int))
	if r.Sign() != 0 {
		q.Add(q, one)
	}
	return q
}

// WadMul computes a*b/1e18 rounding down.
func WadMul(a, b *big.Int) *big.Int {
	return MulDiv(a, b, Wad)
}

// WadDiv computes a*1e18/b rounding down.
func WadDiv(a, b *big.Int) *big.Int {
	return MulDiv(a, Wad, b)
}

// WadPow raises a WAD-scaled base to an integer power by squaring. Every
// intermediate multiply is a full-precision WadMul, so repeated compounding
// (interest factors, auction decay steps) cannot drift from the closed form.
func WadPow(base *big.Int, n uint64) *big.Int {
	result := new(big.Int).Set(Wad)
	b := new(big.Int).Set(base)
	for n > 0 {
		if n&1 == 1 {
			result = WadMul(result, b)
		}
		b = WadMul(b, b)
		n >>= 1
	}
	return result
}

// BpsMul applies a basis-point factor, rounding down.
func BpsMul(a *big.Int, bps uint64) *big.Int {
	return MulDiv(a, new(big.Int).SetUint64(bps), BasisPoints)
}

// NormalizeValue converts an amount in assetDecimals priced by a feed in
// priceDecimals into a WAD value in the common base:
//
//	value = amount * price * 1e18 / (10^assetDecimals * 10^priceDecimals)
//
// This is the single shared normalization utility. Health factors, auction
// start prices, and debt ceilings all route through it; per-call-site
// normalization is how decimal bugs happen.
func NormalizeValue(amount *big.Int, assetDecimals uint8, price *big.Int, priceDecimals uint8) *big.Int {
	num := new(big.Int).Mul(amount, price)
	num.Mul(num, Wad)
	den := new(big.Int).Mul(Pow10(assetDecimals), Pow10(priceDecimals))
	return num.Quo(num, den)
}

// DenormalizeValue converts a WAD value back into asset base units given the
// asset's feed price. Rounds down, so conversions never hand out more than
// the value put in.
func DenormalizeValue(valueWad *big.Int, assetDecimals uint8, price *big.Int, priceDecimals uint8) *big.Int {
	if price.Sign() <= 0 {
		return new(big.Int)
	}
	num := new(big.Int).Mul(valueWad, Pow10(assetDecimals))
	num.Mul(num, Pow10(priceDecimals))
	den := new(big.Int).Mul(price, Wad)
	return num.Quo(num, den)
}

// WadToDecimal renders a WAD fixed-point value as a decimal for API
// consumers. Internal math never round-trips through decimal.
func WadToDecimal(wad *big.Int) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).Set(wad), -18)
}

// Clone returns a defensive copy, treating nil as zero.
func Clone(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

// IsZero reports whether v is nil or zero.
func IsZero(v *big.Int) bool {
	return v == nil || v.Sign() == 0
}

// Min returns the smaller of a and b (by value, no aliasing).
func Min(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}
