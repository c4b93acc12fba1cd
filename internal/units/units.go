package units

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"VaultEngine/internal/asset"
)

// ErrPriceInvalid is returned when a conversion would divide by a zero
// or negative price, or when no valid price is available.
var ErrPriceInvalid = errors.New("price invalid")

// The three numeric bases in play are distinct types so that mixing
// them is a compile error, not a silent scale bug.
//
// CompactAmount: venue order-sizing precision (asset.CompactDecimals).
// FullAmount:    custody precision (asset.FullDecimals).
// PriceUSD1e8:   canonical oracle price, USD at 1e8 fixed point.
type (
	CompactAmount int64
	FullAmount    int64
	PriceUSD1e8   int64
)

const priceScale = 100_000_000 // 1e8

var (
	usdScale  = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil) // 1e18
	bigPrice  = big.NewInt(priceScale)
	pow10Tbl  [19]*big.Int
	pow10Once sync.Once
)

func pow10(n int) *big.Int {
	pow10Once.Do(func() {
		v := big.NewInt(1)
		for i := 0; i <= 18; i++ {
			pow10Tbl[i] = new(big.Int).Set(v)
			v.Mul(v, big.NewInt(10))
		}
	})
	return pow10Tbl[n]
}

// bigPool holds intermediates for the hot conversion paths.
var bigPool = &sync.Pool{
	New: func() interface{} { return new(big.Int) },
}

func getBig() *big.Int  { return bigPool.Get().(*big.Int) }
func putBig(v *big.Int) { v.SetInt64(0); bigPool.Put(v) }

// ToFull converts a compact amount to full custody precision.
// When full precision is coarser than compact precision the division
// truncates toward zero; callers must not assume round-to-nearest.
func ToFull(a asset.Asset, amount CompactAmount) FullAmount {
	d := a.FullDecimals - a.CompactDecimals
	switch {
	case d > 0:
		return FullAmount(int64(amount) * int64pow10(d))
	case d < 0:
		return FullAmount(int64(amount) / int64pow10(-d))
	default:
		return FullAmount(amount)
	}
}

// ToCompact converts a full-precision amount to compact precision,
// truncating toward zero when precision is lost.
func ToCompact(a asset.Asset, amount FullAmount) CompactAmount {
	d := a.FullDecimals - a.CompactDecimals
	switch {
	case d > 0:
		return CompactAmount(int64(amount) / int64pow10(d))
	case d < 0:
		return CompactAmount(int64(amount) * int64pow10(-d))
	default:
		return CompactAmount(amount)
	}
}

func int64pow10(n int) int64 {
	v := int64(1)
	for i := 0; i < n; i++ {
		v *= 10
	}
	return v
}

// USDValue values a full-precision balance at an oracle price, producing
// 1e18 fixed-point USD. All intermediates use big.Int so the
// multiplication always precedes the division without overflow; the
// final division truncates toward zero.
func USDValue(a asset.Asset, amount FullAmount, price PriceUSD1e8) (USD, error) {
	if price <= 0 {
		return USD{}, fmt.Errorf("usd value %s: %w", a.Symbol, ErrPriceInvalid)
	}

	num := getBig()
	defer putBig(num)

	// amount * price * 1e18 / (10^fullDecimals * 1e8)
	num.Mul(big.NewInt(int64(amount)), big.NewInt(int64(price)))
	num.Mul(num, usdScale)

	den := getBig()
	defer putBig(den)
	den.Mul(pow10(a.FullDecimals), bigPrice)

	out := new(big.Int).Quo(num, den)
	return USD{v: out}, nil
}

// SizeFromUSD is the inverse of USDValue: it converts a USD notional to
// a compact order size at the given price, truncating toward zero. The
// scaling mirrors USDValue exactly so the round trip is within one
// compact unit.
func SizeFromUSD(a asset.Asset, notional USD, price PriceUSD1e8) (CompactAmount, error) {
	if price <= 0 {
		return 0, fmt.Errorf("size from usd %s: %w", a.Symbol, ErrPriceInvalid)
	}

	num := getBig()
	defer putBig(num)

	// usd * 10^compactDecimals * 1e8 / (price * 1e18)
	num.Mul(notional.raw(), pow10(a.CompactDecimals))
	num.Mul(num, bigPrice)

	den := getBig()
	defer putBig(den)
	den.Mul(big.NewInt(int64(price)), usdScale)

	q := getBig()
	defer putBig(q)
	q.Quo(num, den)

	if !q.IsInt64() {
		return 0, fmt.Errorf("size from usd %s: compact amount overflows int64", a.Symbol)
	}
	return CompactAmount(q.Int64()), nil
}

// FullFromUSD converts a USD notional to full custody precision at the
// given price, truncating toward zero. Same scaling rule as USDValue,
// inverted, so redemption never pays out more than the USD due.
func FullFromUSD(a asset.Asset, notional USD, price PriceUSD1e8) (FullAmount, error) {
	if price <= 0 {
		return 0, fmt.Errorf("full from usd %s: %w", a.Symbol, ErrPriceInvalid)
	}

	num := getBig()
	defer putBig(num)

	num.Mul(notional.raw(), pow10(a.FullDecimals))
	num.Mul(num, bigPrice)

	den := getBig()
	defer putBig(den)
	den.Mul(big.NewInt(int64(price)), usdScale)

	q := getBig()
	defer putBig(q)
	q.Quo(num, den)

	if !q.IsInt64() {
		return 0, fmt.Errorf("full from usd %s: amount overflows int64", a.Symbol)
	}
	return FullAmount(q.Int64()), nil
}

// FundingUSD values a funding-asset balance 1:1 in USD (used for local
// cash and uninvested venue cash, which are never oracle-priced).
func FundingUSD(a asset.Asset, amount FullAmount) USD {
	out := new(big.Int).Mul(big.NewInt(int64(amount)), usdScale)
	out.Quo(out, pow10(a.FullDecimals))
	return USD{v: out}
}

// FundingFromUSD converts a 1e18 USD amount back to funding-asset full
// precision at 1:1, truncating toward zero.
func FundingFromUSD(a asset.Asset, notional USD) FullAmount {
	out := new(big.Int).Mul(notional.raw(), pow10(a.FullDecimals))
	out.Quo(out, usdScale)
	if !out.IsInt64() {
		return FullAmount(0)
	}
	return FullAmount(out.Int64())
}
