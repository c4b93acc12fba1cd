package rebalance

import (
	"fmt"
	"math/big"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"VaultEngine/internal/asset"
	"VaultEngine/internal/units"
	"VaultEngine/internal/valuation"
)

// Side of a rebalance order.
type Side int

const (
	SideBuy Side = iota
	SideSell
)

func (s Side) String() string {
	if s == SideBuy {
		return "buy"
	}
	return "sell"
}

// Intent is one order the planner wants executed at the venue.
// Ephemeral: produced once per cycle, consumed by the order-submission
// boundary. Fills are reconciled asynchronously; the planner never
// waits for them.
type Intent struct {
	IntentID    uuid.UUID
	Asset       asset.ID
	Side        Side
	SizeCompact units.CompactAmount
	LimitPrice  units.PriceUSD1e8
	DeltaUSD    units.USD
}

// Params are the planner's tunables. All observed defaults are
// operational configuration, not normative constants.
type Params struct {
	// DeadbandBps: per-asset tolerance around the target allocation,
	// in bps of the target, below which no order is emitted.
	DeadbandBps int64

	// ReserveBps: equity fraction kept out of the 50/50 split.
	ReserveBps int64

	// MarketEpsilonBps biases limit prices toward marketability: buys
	// above the oracle price, sells below it.
	MarketEpsilonBps int64

	// MaxSlippageBps caps the bias, bounding acceptable execution cost.
	MaxSlippageBps int64
}

// Planner decides whether to trade and sizes/prices each order.
// Read-only with respect to custody and ledger state: it consumes a
// valuation snapshot and emits intents.
type Planner struct {
	reg    *asset.Registry
	params Params
	log    zerolog.Logger
}

func NewPlanner(reg *asset.Registry, params Params, log zerolog.Logger) *Planner {
	return &Planner{reg: reg, params: params, log: log}
}

// Plan runs one rebalance cycle over the equity snapshot.
//
// The target is a fixed 50/50 USD split of deployable equity. Deadband
// is evaluated per asset: one asset breaching the band triggers an
// order for that asset only. Zero equity yields no intents; a zero
// target turns the whole current position into a liquidation delta.
// Emitting nothing is not an error.
func (p *Planner) Plan(snap valuation.Snapshot, prices map[asset.ID]units.PriceUSD1e8) ([]Intent, error) {
	if snap.TotalUSD.Sign() <= 0 {
		return nil, nil
	}

	deployable := snap.TotalUSD.MulBps(10_000 - p.params.ReserveBps)
	target := deployable.Div(2)

	var intents []Intent
	for _, a := range p.reg.Risk() {
		current := snap.Assets[a.ID]
		delta := target.Sub(current)

		if target.IsZero() {
			// Deployable equity rounds to nothing: any held position
			// is pure excess and the delta is a full liquidation.
			if current.IsZero() {
				continue
			}
		} else if delta.Abs().Bps(target) <= p.params.DeadbandBps {
			// Inclusive band: a drift of exactly deadband bps holds.
			continue
		}

		price, ok := prices[a.ID]
		if !ok {
			return nil, fmt.Errorf("plan %s: %w", a.Symbol, units.ErrPriceInvalid)
		}

		side := SideBuy
		if delta.Sign() < 0 {
			side = SideSell
		}

		size, err := units.SizeFromUSD(a, delta.Abs(), price)
		if err != nil {
			return nil, fmt.Errorf("plan %s: %w", a.Symbol, err)
		}
		if size == 0 {
			// Delta too small to express at compact precision.
			continue
		}

		intent := Intent{
			IntentID:    uuid.New(),
			Asset:       a.ID,
			Side:        side,
			SizeCompact: size,
			LimitPrice:  limitPrice(price, side, p.params.MarketEpsilonBps, p.params.MaxSlippageBps),
			DeltaUSD:    delta,
		}
		intents = append(intents, intent)

		p.log.Debug().
			Str("asset", a.Symbol).
			Str("side", side.String()).
			Int64("size_compact", int64(size)).
			Int64("limit_price", int64(intent.LimitPrice)).
			Str("delta_usd", delta.String()).
			Msg("rebalance intent")
	}

	return intents, nil
}

// limitPrice biases the oracle price by epsilon bps toward
// marketability, clamped by the slippage cap. Quo truncates toward
// zero on both sides, so the biased price never exceeds the cap.
func limitPrice(oracle units.PriceUSD1e8, side Side, epsilonBps, maxSlippageBps int64) units.PriceUSD1e8 {
	bias := epsilonBps
	if bias > maxSlippageBps {
		bias = maxSlippageBps
	}
	// big.Int intermediate: price * bps can exceed int64 near the top
	// of the 1e8 price range.
	scaled := new(big.Int).SetInt64(int64(oracle))
	if side == SideBuy {
		scaled.Mul(scaled, big.NewInt(10_000+bias))
	} else {
		scaled.Mul(scaled, big.NewInt(10_000-bias))
	}
	scaled.Quo(scaled, big.NewInt(10_000))
	return units.PriceUSD1e8(scaled.Int64())
}
