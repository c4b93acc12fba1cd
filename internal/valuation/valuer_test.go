package valuation_test

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"VaultEngine/internal/asset"
	"VaultEngine/internal/custody"
	"VaultEngine/internal/oracle"
	"VaultEngine/internal/units"
	"VaultEngine/internal/valuation"
)

type fixedSource struct {
	raws map[asset.ID]int64
}

func (s *fixedSource) ReadRaw(_ context.Context, id asset.ID) (int64, error) {
	return s.raws[id], nil
}

func setup(t *testing.T) (*valuation.Valuer, *custody.Remote, *oracle.Feed) {
	t.Helper()
	reg, err := asset.NewRegistry([]asset.Asset{
		{ID: 1, Symbol: "BTC", Role: asset.RoleRisk, CompactDecimals: 5, FullDecimals: 8,
			FeedScale: 100_000_000, MaxDeviationBps: 2_000},
		{ID: 2, Symbol: "ETH", Role: asset.RoleRisk, CompactDecimals: 4, FullDecimals: 8,
			FeedScale: 100_000_000, MaxDeviationBps: 2_000},
		{ID: 3, Symbol: "USDC", Role: asset.RoleFunding, CompactDecimals: 6, FullDecimals: 6,
			FeedScale: 100_000_000, MaxDeviationBps: 500},
	})
	if err != nil {
		t.Fatal(err)
	}
	src := &fixedSource{raws: map[asset.ID]int64{
		1: 50_000 * 100_000_000,
		2: 3_000 * 100_000_000,
		3: 100_000_000,
	}}
	feed := oracle.NewFeed(src, reg, zerolog.Nop())
	for _, id := range []asset.ID{1, 2, 3} {
		if _, err := feed.Poll(context.Background(), id); err != nil {
			t.Fatalf("seed poll %d: %v", id, err)
		}
	}
	remote := custody.NewRemote()
	return valuation.NewValuer(reg, remote, feed), remote, feed
}

func TestRemoteEquity_SumsPositionsAndCash(t *testing.T) {
	v, remote, _ := setup(t)

	// 2 BTC + 10 ETH + 5,000 USDC uninvested
	if err := remote.ApplyTransfer(custody.DirectionDeploy, 5_000*1_000_000+100_000*1_000_000+30_000*1_000_000); err != nil {
		t.Fatal(err)
	}
	if err := remote.ApplyFill(1, 200_000_000, 100_000*1_000_000, true); err != nil {
		t.Fatal(err)
	}
	if err := remote.ApplyFill(2, 1_000_000_000, 30_000*1_000_000, true); err != nil {
		t.Fatal(err)
	}

	// 2*50k + 10*3k + 5k = 135,000
	got, err := v.RemoteEquityUSD()
	if err != nil {
		t.Fatal(err)
	}
	if got.Cmp(units.USDFromDollars(135_000)) != 0 {
		t.Errorf("equity: got %s, want 135000e18", got)
	}
}

func TestRemoteEquity_ZeroWhenEmpty(t *testing.T) {
	v, _, _ := setup(t)
	got, err := v.RemoteEquityUSD()
	if err != nil {
		t.Fatal(err)
	}
	if !got.IsZero() {
		t.Errorf("empty custody should value to zero, got %s", got)
	}
}

func TestRemoteEquity_FailsUninitializedOracle(t *testing.T) {
	reg, err := asset.NewRegistry([]asset.Asset{
		{ID: 1, Symbol: "BTC", Role: asset.RoleRisk, CompactDecimals: 5, FullDecimals: 8,
			FeedScale: 100_000_000, MaxDeviationBps: 2_000},
		{ID: 2, Symbol: "ETH", Role: asset.RoleRisk, CompactDecimals: 4, FullDecimals: 8,
			FeedScale: 100_000_000, MaxDeviationBps: 2_000},
		{ID: 3, Symbol: "USDC", Role: asset.RoleFunding, CompactDecimals: 6, FullDecimals: 6,
			FeedScale: 100_000_000, MaxDeviationBps: 500},
	})
	if err != nil {
		t.Fatal(err)
	}
	feed := oracle.NewFeed(&fixedSource{raws: map[asset.ID]int64{}}, reg, zerolog.Nop())
	remote := custody.NewRemote()

	// A live BTC position with no reading: a flat book values to zero,
	// but an open one cannot be priced.
	if err := remote.ApplyTransfer(custody.DirectionDeploy, 100_000*1_000_000); err != nil {
		t.Fatal(err)
	}
	if err := remote.ApplyFill(1, 200_000_000, 100_000*1_000_000, true); err != nil {
		t.Fatal(err)
	}

	v := valuation.NewValuer(reg, remote, feed)
	if _, err := v.RemoteEquityUSD(); !errors.Is(err, oracle.ErrUninitialized) {
		t.Errorf("valuation of an open position without a reading: err = %v, want ErrUninitialized", err)
	}
}

func TestSnapshot_Breakdown(t *testing.T) {
	v, remote, _ := setup(t)
	if err := remote.ApplyTransfer(custody.DirectionDeploy, 50_000*1_000_000); err != nil {
		t.Fatal(err)
	}
	if err := remote.ApplyFill(1, 100_000_000, 50_000*1_000_000, true); err != nil {
		t.Fatal(err)
	}

	snap, err := v.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	if snap.Assets[1].Cmp(units.USDFromDollars(50_000)) != 0 {
		t.Errorf("BTC leg: got %s", snap.Assets[1])
	}
	if !snap.Assets[2].IsZero() {
		t.Errorf("ETH leg should be zero, got %s", snap.Assets[2])
	}
	if snap.TotalUSD.Cmp(units.USDFromDollars(50_000)) != 0 {
		t.Errorf("total: got %s", snap.TotalUSD)
	}
}
