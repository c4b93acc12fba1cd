package units

import "math/big"

// USD is a 1e18 fixed-point USD amount. Fund-level notionals exceed
// int64 at this scale, so the value is big.Int-backed. The zero value
// is zero dollars and ready to use. USD values are immutable; every
// operation returns a fresh value.
type USD struct {
	v *big.Int
}

func USDZero() USD { return USD{} }

// USDFromDollars builds a USD value from whole dollars. Test fixtures
// and config defaults use this; engine math never does.
func USDFromDollars(d int64) USD {
	return USD{v: new(big.Int).Mul(big.NewInt(d), usdScale)}
}

// USDFromRaw wraps a raw 1e18-scaled integer (copied, not aliased).
func USDFromRaw(raw *big.Int) USD {
	return USD{v: new(big.Int).Set(raw)}
}

func (u USD) raw() *big.Int {
	if u.v == nil {
		return big.NewInt(0)
	}
	return u.v
}

// Raw returns a copy of the underlying 1e18-scaled integer.
func (u USD) Raw() *big.Int { return new(big.Int).Set(u.raw()) }

func (u USD) Add(o USD) USD { return USD{v: new(big.Int).Add(u.raw(), o.raw())} }
func (u USD) Sub(o USD) USD { return USD{v: new(big.Int).Sub(u.raw(), o.raw())} }
func (u USD) Neg() USD      { return USD{v: new(big.Int).Neg(u.raw())} }
func (u USD) Abs() USD      { return USD{v: new(big.Int).Abs(u.raw())} }

func (u USD) Cmp(o USD) int { return u.raw().Cmp(o.raw()) }
func (u USD) Sign() int     { return u.raw().Sign() }
func (u USD) IsZero() bool  { return u.raw().Sign() == 0 }

// MulBps scales by bps/10000, truncating toward zero.
func (u USD) MulBps(bps int64) USD {
	out := new(big.Int).Mul(u.raw(), big.NewInt(bps))
	out.Quo(out, big.NewInt(10_000))
	return USD{v: out}
}

// Div divides by a positive integer, truncating toward zero.
func (u USD) Div(n int64) USD {
	return USD{v: new(big.Int).Quo(u.raw(), big.NewInt(n))}
}

// Bps returns u as basis points of base, truncated. Base must be
// positive; callers guard the zero-target edge case themselves.
func (u USD) Bps(base USD) int64 {
	out := new(big.Int).Mul(u.raw(), big.NewInt(10_000))
	out.Quo(out, base.raw())
	return out.Int64()
}

func (u USD) String() string { return u.raw().String() }

// Shares is a big.Int-backed share count at 1e18 granularity, distinct
// from USD so share arithmetic cannot leak into valuation code.
type Shares struct {
	v *big.Int
}

func SharesZero() Shares { return Shares{} }

func SharesFromRaw(raw *big.Int) Shares {
	return Shares{v: new(big.Int).Set(raw)}
}

func (s Shares) raw() *big.Int {
	if s.v == nil {
		return big.NewInt(0)
	}
	return s.v
}

func (s Shares) Raw() *big.Int { return new(big.Int).Set(s.raw()) }

func (s Shares) Add(o Shares) Shares { return Shares{v: new(big.Int).Add(s.raw(), o.raw())} }
func (s Shares) Sub(o Shares) Shares { return Shares{v: new(big.Int).Sub(s.raw(), o.raw())} }
func (s Shares) Cmp(o Shares) int    { return s.raw().Cmp(o.raw()) }
func (s Shares) Sign() int           { return s.raw().Sign() }
func (s Shares) IsZero() bool        { return s.raw().Sign() == 0 }
func (s Shares) String() string      { return s.raw().String() }

// MintShares computes the shares owed for a USD notional joining a fund
// with the given pre-deposit total shares and NAV:
//
//	shares = notional * totalShares / navPre
//
// Truncates toward zero, so a depositor can never mint more than their
// proportional claim.
func MintShares(notional USD, totalShares Shares, navPre USD) Shares {
	out := new(big.Int).Mul(notional.raw(), totalShares.raw())
	out.Quo(out, navPre.raw())
	return Shares{v: out}
}

// InitialShares mints 1:1 with USD notional at the configured initial
// price-per-share (both at 1e18 scale).
func InitialShares(notional USD, initialPPS USD) Shares {
	out := new(big.Int).Mul(notional.raw(), usdScale)
	out.Quo(out, initialPPS.raw())
	return Shares{v: out}
}

// PricePerShare computes nav * 1e18 / totalShares. Callers handle the
// totalShares == 0 case (the configured initial price) before calling.
func PricePerShare(nav USD, totalShares Shares) USD {
	out := new(big.Int).Mul(nav.raw(), usdScale)
	out.Quo(out, totalShares.raw())
	return USD{v: out}
}

// ShareValue computes shares * pps / 1e18.
func ShareValue(s Shares, pps USD) USD {
	out := new(big.Int).Mul(s.raw(), pps.raw())
	out.Quo(out, usdScale)
	return USD{v: out}
}
