package oracle

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/rs/zerolog"

	"VaultEngine/internal/asset"
	"VaultEngine/internal/units"
)

var (
	// ErrOracleZero: the upstream feed returned a zero raw value.
	ErrOracleZero = errors.New("oracle returned zero price")

	// ErrOracleDeviation: the new reading moved too far from the last
	// accepted one. The stored reading stays authoritative.
	ErrOracleDeviation = errors.New("oracle deviation exceeds threshold")

	// ErrUninitialized: no reading has ever been accepted for the asset.
	ErrUninitialized = errors.New("oracle has no valid reading")
)

// PriceSource is the external feed boundary. Implementations may block,
// fail, or return stale data; the Feed owns all validation.
type PriceSource interface {
	// ReadRaw returns the feed's latest raw value in its native scale.
	ReadRaw(ctx context.Context, id asset.ID) (raw int64, err error)
}

// Reading is one accepted, normalized price.
type Reading struct {
	Asset      asset.ID
	Price      units.PriceUSD1e8
	ObservedAt time.Time
	Version    int64
}

// Feed validates and normalizes raw readings per asset. Per-asset state
// moves Uninitialized -> Valid and never reverts: a failed poll leaves
// the prior reading authoritative.
//
// Feed is not internally synchronized; the engine serializes access.
type Feed struct {
	source PriceSource
	assets map[asset.ID]asset.Asset
	last   map[asset.ID]Reading
	clock  func() time.Time
	log    zerolog.Logger
}

func NewFeed(source PriceSource, reg *asset.Registry, log zerolog.Logger) *Feed {
	assets := make(map[asset.ID]asset.Asset)
	for _, a := range append(reg.Risk(), reg.Funding()) {
		assets[a.ID] = a
	}
	return &Feed{
		source: source,
		assets: assets,
		last:   make(map[asset.ID]Reading),
		clock:  time.Now,
		log:    log,
	}
}

// SetClock overrides the wall clock (tests only).
func (f *Feed) SetClock(clock func() time.Time) { f.clock = clock }

// Poll fetches, validates, and stores a fresh reading for the asset.
// On any failure the previous reading remains authoritative and the
// error is returned to the caller.
func (f *Feed) Poll(ctx context.Context, id asset.ID) (Reading, error) {
	a, ok := f.assets[id]
	if !ok {
		return Reading{}, fmt.Errorf("poll: unknown asset %d", id)
	}

	raw, err := f.source.ReadRaw(ctx, id)
	if err != nil {
		return Reading{}, fmt.Errorf("poll %s: %w", a.Symbol, err)
	}
	return f.accept(a, raw, f.clock())
}

// Apply validates and stores a reading delivered as an upstream event.
// The observation time comes from the event, not the wall clock, so
// replays produce identical state.
func (f *Feed) Apply(id asset.ID, raw int64, observedAt time.Time) (Reading, error) {
	a, ok := f.assets[id]
	if !ok {
		return Reading{}, fmt.Errorf("apply: unknown asset %d", id)
	}
	return f.accept(a, raw, observedAt)
}

func (f *Feed) accept(a asset.Asset, raw int64, observedAt time.Time) (Reading, error) {
	id := a.ID
	if raw == 0 {
		return Reading{}, fmt.Errorf("poll %s: %w", a.Symbol, ErrOracleZero)
	}
	if raw < 0 {
		return Reading{}, fmt.Errorf("poll %s: negative raw value %d: %w", a.Symbol, raw, ErrOracleZero)
	}

	price, err := normalize(raw, a.FeedScale)
	if err != nil {
		return Reading{}, fmt.Errorf("poll %s: %w", a.Symbol, err)
	}
	if price <= 0 {
		// A positive raw reading can still truncate to zero under a
		// coarse feed scale; treat it exactly like a zero reading.
		return Reading{}, fmt.Errorf("poll %s: normalized to zero: %w", a.Symbol, ErrOracleZero)
	}

	prev, hasPrev := f.last[id]
	if hasPrev {
		dev := deviationBps(int64(prev.Price), int64(price))
		if dev > a.MaxDeviationBps {
			f.log.Warn().
				Str("asset", a.Symbol).
				Int64("prev", int64(prev.Price)).
				Int64("new", int64(price)).
				Int64("deviation_bps", dev).
				Int64("max_bps", a.MaxDeviationBps).
				Msg("oracle reading rejected")
			return Reading{}, fmt.Errorf("poll %s: %d bps move: %w", a.Symbol, dev, ErrOracleDeviation)
		}
	}

	r := Reading{
		Asset:      id,
		Price:      price,
		ObservedAt: observedAt,
		Version:    prev.Version + 1,
	}
	f.last[id] = r
	return r, nil
}

// Price returns the last valid price, failing when uninitialized.
// Operations that need a fresh price call Poll first and propagate its
// error; pure reads tolerate staleness through this accessor.
func (f *Feed) Price(id asset.ID) (units.PriceUSD1e8, error) {
	r, ok := f.last[id]
	if !ok {
		a := f.assets[id]
		return 0, fmt.Errorf("price %s: %w", a.Symbol, ErrUninitialized)
	}
	return r.Price, nil
}

// Last returns the full last-valid reading, for callers that want the
// observation time and version alongside the price.
func (f *Feed) Last(id asset.ID) (Reading, bool) {
	r, ok := f.last[id]
	return r, ok
}

// Restore seeds a reading from a snapshot (warm restart only).
func (f *Feed) Restore(r Reading) {
	f.last[r.Asset] = r
}

// normalize rescales a raw reading from the feed's native scale to the
// canonical 1e8 USD scale, truncating toward zero when downscaling.
// A scale that does not divide the target evenly, or an upscale that
// leaves int64 range, rejects the reading.
func normalize(raw, feedScale int64) (units.PriceUSD1e8, error) {
	const target = 100_000_000
	switch {
	case feedScale == target:
		return units.PriceUSD1e8(raw), nil
	case feedScale < target:
		if target%feedScale != 0 {
			return 0, fmt.Errorf("feed scale %d does not divide %d", feedScale, target)
		}
		p := new(big.Int).SetInt64(raw)
		p.Mul(p, big.NewInt(target/feedScale))
		if !p.IsInt64() {
			return 0, fmt.Errorf("raw %d at scale %d overflows the 1e8 range", raw, feedScale)
		}
		return units.PriceUSD1e8(p.Int64()), nil
	default:
		if feedScale%target != 0 {
			return 0, fmt.Errorf("feed scale %d is not a multiple of %d", feedScale, target)
		}
		return units.PriceUSD1e8(raw / (feedScale / target)), nil
	}
}

// deviationBps computes |new-old| / old in basis points, truncated.
// big.Int intermediates: |new-old| * 10^4 can exceed int64 for assets
// priced near the top of the 1e8 range.
func deviationBps(prev, next int64) int64 {
	d := new(big.Int).SetInt64(next - prev)
	d.Abs(d)
	d.Mul(d, big.NewInt(10_000))
	d.Quo(d, big.NewInt(prev))
	return d.Int64()
}
