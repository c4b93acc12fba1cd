package rebalance_test

import (
	"testing"

	"github.com/rs/zerolog"

	"VaultEngine/internal/asset"
	"VaultEngine/internal/rebalance"
	"VaultEngine/internal/units"
	"VaultEngine/internal/valuation"
)

var (
	btc = asset.Asset{ID: 1, Symbol: "BTC", Role: asset.RoleRisk,
		CompactDecimals: 5, FullDecimals: 8, FeedScale: 100_000_000, MaxDeviationBps: 2_000}
	eth = asset.Asset{ID: 2, Symbol: "ETH", Role: asset.RoleRisk,
		CompactDecimals: 4, FullDecimals: 8, FeedScale: 100_000_000, MaxDeviationBps: 2_000}
	usdc = asset.Asset{ID: 3, Symbol: "USDC", Role: asset.RoleFunding,
		CompactDecimals: 6, FullDecimals: 6, FeedScale: 100_000_000, MaxDeviationBps: 500}
)

var prices = map[asset.ID]units.PriceUSD1e8{
	1: 50_000 * 100_000_000,
	2: 3_000 * 100_000_000,
}

func newPlanner(t *testing.T, params rebalance.Params) *rebalance.Planner {
	t.Helper()
	reg, err := asset.NewRegistry([]asset.Asset{btc, eth, usdc})
	if err != nil {
		t.Fatal(err)
	}
	return rebalance.NewPlanner(reg, params, zerolog.Nop())
}

func snapOf(btcUSD, ethUSD, fundingUSD int64) valuation.Snapshot {
	b := units.USDFromDollars(btcUSD)
	e := units.USDFromDollars(ethUSD)
	f := units.USDFromDollars(fundingUSD)
	return valuation.Snapshot{
		Assets:     map[asset.ID]units.USD{1: b, 2: e},
		FundingUSD: f,
		TotalUSD:   b.Add(e).Add(f),
	}
}

func TestPlan_ZeroEquityNoIntents(t *testing.T) {
	p := newPlanner(t, rebalance.Params{DeadbandBps: 10, MarketEpsilonBps: 5, MaxSlippageBps: 50})
	intents, err := p.Plan(snapOf(0, 0, 0), prices)
	if err != nil {
		t.Fatal(err)
	}
	if len(intents) != 0 {
		t.Errorf("want no intents, got %d", len(intents))
	}
}

func TestPlan_InsideDeadbandNoIntents(t *testing.T) {
	// 50.05% / 49.95% split: each leg sits exactly 10 bps from target,
	// and the band is inclusive.
	p := newPlanner(t, rebalance.Params{DeadbandBps: 10, MarketEpsilonBps: 5, MaxSlippageBps: 50})
	intents, err := p.Plan(snapOf(50_050, 49_950, 0), prices)
	if err != nil {
		t.Fatal(err)
	}
	if len(intents) != 0 {
		t.Errorf("50.05/49.95 within band should emit nothing, got %d intents", len(intents))
	}
}

func TestPlan_OutsideDeadbandBothLegs(t *testing.T) {
	// 51%/49% with a 10 bps deadband: both legs breach (±200 bps).
	p := newPlanner(t, rebalance.Params{DeadbandBps: 10, MarketEpsilonBps: 5, MaxSlippageBps: 50})
	intents, err := p.Plan(snapOf(51_000, 49_000, 0), prices)
	if err != nil {
		t.Fatal(err)
	}
	if len(intents) != 2 {
		t.Fatalf("want 2 intents, got %d", len(intents))
	}

	byAsset := map[asset.ID]rebalance.Intent{}
	for _, it := range intents {
		byAsset[it.Asset] = it
	}
	if byAsset[1].Side != rebalance.SideSell {
		t.Error("overweight BTC leg should sell")
	}
	if byAsset[2].Side != rebalance.SideBuy {
		t.Error("underweight ETH leg should buy")
	}

	// $1,000 delta at $50,000 -> 0.02 BTC -> 2000 compact units (5 dp)
	if byAsset[1].SizeCompact != 2_000 {
		t.Errorf("BTC size: got %d, want 2000", byAsset[1].SizeCompact)
	}
	// $1,000 delta at $3,000 -> 0.3333 ETH -> 3333 compact units (4 dp)
	if byAsset[2].SizeCompact != 3_333 {
		t.Errorf("ETH size: got %d, want 3333", byAsset[2].SizeCompact)
	}
}

func TestPlan_SingleLegBreach(t *testing.T) {
	// BTC leg is on target, ETH drifted: only ETH trades.
	p := newPlanner(t, rebalance.Params{DeadbandBps: 100, MarketEpsilonBps: 5, MaxSlippageBps: 50})
	intents, err := p.Plan(snapOf(50_000, 48_000, 2_000), prices)
	if err != nil {
		t.Fatal(err)
	}
	if len(intents) != 1 {
		t.Fatalf("want 1 intent, got %d", len(intents))
	}
	if intents[0].Asset != 2 || intents[0].Side != rebalance.SideBuy {
		t.Errorf("want ETH buy, got asset=%d side=%s", intents[0].Asset, intents[0].Side)
	}
}

func TestPlan_ReserveShrinksTarget(t *testing.T) {
	// 500 bps reserve on $100k equity: deployable $95k, target $47.5k
	// per leg. Holding 50/50 of the full equity means both legs sell.
	p := newPlanner(t, rebalance.Params{DeadbandBps: 10, ReserveBps: 500, MarketEpsilonBps: 5, MaxSlippageBps: 50})
	intents, err := p.Plan(snapOf(50_000, 50_000, 0), prices)
	if err != nil {
		t.Fatal(err)
	}
	if len(intents) != 2 {
		t.Fatalf("want 2 sells, got %d intents", len(intents))
	}
	for _, it := range intents {
		if it.Side != rebalance.SideSell {
			t.Errorf("asset %d: want sell, got %s", it.Asset, it.Side)
		}
	}
}

func TestPlan_LimitPriceBias(t *testing.T) {
	p := newPlanner(t, rebalance.Params{DeadbandBps: 10, MarketEpsilonBps: 20, MaxSlippageBps: 50})
	intents, err := p.Plan(snapOf(51_000, 49_000, 0), prices)
	if err != nil {
		t.Fatal(err)
	}
	for _, it := range intents {
		oracle := prices[it.Asset]
		switch it.Side {
		case rebalance.SideBuy:
			want := units.PriceUSD1e8(int64(oracle) * 10_020 / 10_000)
			if it.LimitPrice != want {
				t.Errorf("buy limit: got %d, want %d", it.LimitPrice, want)
			}
		case rebalance.SideSell:
			want := units.PriceUSD1e8(int64(oracle) * 9_980 / 10_000)
			if it.LimitPrice != want {
				t.Errorf("sell limit: got %d, want %d", it.LimitPrice, want)
			}
		}
	}
}

func TestPlan_EpsilonClampedBySlippageCap(t *testing.T) {
	p := newPlanner(t, rebalance.Params{DeadbandBps: 10, MarketEpsilonBps: 500, MaxSlippageBps: 50})
	intents, err := p.Plan(snapOf(51_000, 49_000, 0), prices)
	if err != nil {
		t.Fatal(err)
	}
	for _, it := range intents {
		oracle := int64(prices[it.Asset])
		var want int64
		if it.Side == rebalance.SideBuy {
			want = oracle * 10_050 / 10_000
		} else {
			want = oracle * 9_950 / 10_000
		}
		if int64(it.LimitPrice) != want {
			t.Errorf("asset %d: bias not clamped, got %d want %d", it.Asset, it.LimitPrice, want)
		}
	}
}

// Deadband idempotence: a cycle that lands the allocation exactly on
// target emits nothing on the next run with unchanged inputs.
func TestPlan_IdempotentAfterConvergence(t *testing.T) {
	p := newPlanner(t, rebalance.Params{DeadbandBps: 10, MarketEpsilonBps: 5, MaxSlippageBps: 50})

	first, err := p.Plan(snapOf(51_000, 49_000, 0), prices)
	if err != nil {
		t.Fatal(err)
	}
	if len(first) == 0 {
		t.Fatal("first cycle should trade")
	}

	// After the fills land at oracle prices: exactly on target.
	second, err := p.Plan(snapOf(50_000, 50_000, 0), prices)
	if err != nil {
		t.Fatal(err)
	}
	if len(second) != 0 {
		t.Errorf("converged allocation should emit nothing, got %d", len(second))
	}
}

func TestPlan_FullLiquidationWhenTargetZero(t *testing.T) {
	// All equity reserved: deployable is zero, every held position is
	// a sell of its entire USD value.
	p := newPlanner(t, rebalance.Params{DeadbandBps: 10, ReserveBps: 10_000, MarketEpsilonBps: 5, MaxSlippageBps: 50})
	intents, err := p.Plan(snapOf(30_000, 0, 0), prices)
	if err != nil {
		t.Fatal(err)
	}
	if len(intents) != 1 {
		t.Fatalf("want 1 liquidation intent, got %d", len(intents))
	}
	it := intents[0]
	if it.Side != rebalance.SideSell {
		t.Errorf("want sell, got %s", it.Side)
	}
	// $30,000 at $50,000 -> 0.6 BTC -> 60000 compact
	if it.SizeCompact != 60_000 {
		t.Errorf("size: got %d, want 60000", it.SizeCompact)
	}
}

func TestPlan_MissingPriceFails(t *testing.T) {
	p := newPlanner(t, rebalance.Params{DeadbandBps: 10, MarketEpsilonBps: 5, MaxSlippageBps: 50})
	_, err := p.Plan(snapOf(51_000, 49_000, 0), map[asset.ID]units.PriceUSD1e8{1: prices[1]})
	if err == nil {
		t.Error("plan with a missing price must fail")
	}
}
