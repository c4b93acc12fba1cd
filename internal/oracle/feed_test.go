package oracle_test

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"VaultEngine/internal/asset"
	"VaultEngine/internal/oracle"
	"VaultEngine/internal/units"
)

type stubSource struct {
	raws map[asset.ID]int64
	errs map[asset.ID]error
}

func (s *stubSource) ReadRaw(_ context.Context, id asset.ID) (int64, error) {
	if err := s.errs[id]; err != nil {
		return 0, err
	}
	return s.raws[id], nil
}

func newTestFeed(t *testing.T) (*oracle.Feed, *stubSource) {
	t.Helper()
	reg, err := asset.NewRegistry([]asset.Asset{
		{ID: 1, Symbol: "BTC", Role: asset.RoleRisk, CompactDecimals: 5, FullDecimals: 8,
			FeedScale: 1_000, MaxDeviationBps: 2_000},
		{ID: 2, Symbol: "ETH", Role: asset.RoleRisk, CompactDecimals: 4, FullDecimals: 8,
			FeedScale: 1_000_000, MaxDeviationBps: 2_000},
		{ID: 3, Symbol: "USDC", Role: asset.RoleFunding, CompactDecimals: 6, FullDecimals: 6,
			FeedScale: 100_000_000, MaxDeviationBps: 500},
	})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	src := &stubSource{raws: map[asset.ID]int64{}, errs: map[asset.ID]error{}}
	return oracle.NewFeed(src, reg, zerolog.Nop()), src
}

func TestPoll_NormalizesPerAssetScale(t *testing.T) {
	feed, src := newTestFeed(t)

	// BTC feed reports in 1e3 units: $50,000 -> 50_000_000 raw
	src.raws[1] = 50_000_000
	r, err := feed.Poll(context.Background(), 1)
	if err != nil {
		t.Fatalf("poll BTC: %v", err)
	}
	if r.Price != units.PriceUSD1e8(50_000*100_000_000) {
		t.Errorf("BTC price: got %d", r.Price)
	}

	// ETH feed reports in 1e6 units: $3,000 -> 3_000_000_000 raw
	src.raws[2] = 3_000_000_000
	r, err = feed.Poll(context.Background(), 2)
	if err != nil {
		t.Fatalf("poll ETH: %v", err)
	}
	if r.Price != units.PriceUSD1e8(3_000*100_000_000) {
		t.Errorf("ETH price: got %d", r.Price)
	}
}

func TestPoll_ZeroRejected(t *testing.T) {
	feed, src := newTestFeed(t)
	src.raws[1] = 0

	_, err := feed.Poll(context.Background(), 1)
	if !errors.Is(err, oracle.ErrOracleZero) {
		t.Fatalf("want ErrOracleZero, got %v", err)
	}
	if _, err := feed.Price(1); !errors.Is(err, oracle.ErrUninitialized) {
		t.Errorf("nothing should be stored after a rejected first poll")
	}
}

func TestPoll_OverflowingRawRejected(t *testing.T) {
	feed, src := newTestFeed(t)

	// BTC upscales by 1e5; a raw this large leaves int64 range.
	src.raws[1] = math.MaxInt64/100_000 + 1
	if _, err := feed.Poll(context.Background(), 1); err == nil {
		t.Fatal("overflowing raw reading accepted")
	}
	if _, err := feed.Price(1); !errors.Is(err, oracle.ErrUninitialized) {
		t.Errorf("nothing should be stored after a rejected poll")
	}
}

func TestPoll_IndivisibleFeedScaleRejected(t *testing.T) {
	reg, err := asset.NewRegistry([]asset.Asset{
		{ID: 1, Symbol: "BTC", Role: asset.RoleRisk, CompactDecimals: 5, FullDecimals: 8,
			FeedScale: 3_000, MaxDeviationBps: 2_000},
		{ID: 2, Symbol: "ETH", Role: asset.RoleRisk, CompactDecimals: 4, FullDecimals: 8,
			FeedScale: 1_000_000, MaxDeviationBps: 2_000},
		{ID: 3, Symbol: "USDC", Role: asset.RoleFunding, CompactDecimals: 6, FullDecimals: 6,
			FeedScale: 100_000_000, MaxDeviationBps: 500},
	})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	src := &stubSource{raws: map[asset.ID]int64{1: 150_000_000}, errs: map[asset.ID]error{}}
	feed := oracle.NewFeed(src, reg, zerolog.Nop())

	if _, err := feed.Poll(context.Background(), 1); err == nil {
		t.Fatal("reading with a feed scale that does not divide 1e8 accepted")
	}
}

func TestPoll_DeviationRejectedKeepsPrior(t *testing.T) {
	feed, src := newTestFeed(t)

	src.raws[1] = 50_000_000 // $50,000
	if _, err := feed.Poll(context.Background(), 1); err != nil {
		t.Fatalf("seed poll: %v", err)
	}

	// +2% move is inside the 2000 bps bound
	src.raws[1] = 51_000_000
	if _, err := feed.Poll(context.Background(), 1); err != nil {
		t.Fatalf("+2%% move should be accepted: %v", err)
	}

	// +100% move must be rejected; stored price stays at $51,000
	src.raws[1] = 102_000_000
	_, err := feed.Poll(context.Background(), 1)
	if !errors.Is(err, oracle.ErrOracleDeviation) {
		t.Fatalf("want ErrOracleDeviation, got %v", err)
	}
	p, err := feed.Price(1)
	if err != nil {
		t.Fatalf("last valid price must survive: %v", err)
	}
	if p != units.PriceUSD1e8(51_000*100_000_000) {
		t.Errorf("stored price: got %d, want 51000e8", p)
	}
}

func TestPoll_FirstReadingSkipsDeviationCheck(t *testing.T) {
	feed, src := newTestFeed(t)
	src.raws[1] = 1 // absurdly low, but there is no prior to deviate from
	if _, err := feed.Poll(context.Background(), 1); err != nil {
		t.Fatalf("first reading: %v", err)
	}
}

func TestPoll_SourceErrorPropagates(t *testing.T) {
	feed, src := newTestFeed(t)
	src.errs[1] = errors.New("feed timeout")
	_, err := feed.Poll(context.Background(), 1)
	if err == nil {
		t.Fatal("want error")
	}
}

func TestPoll_VersionMonotonic(t *testing.T) {
	feed, src := newTestFeed(t)
	src.raws[3] = 100_000_000 // $1 at 1e8 feed scale

	r1, err := feed.Poll(context.Background(), 3)
	if err != nil {
		t.Fatal(err)
	}
	r2, err := feed.Poll(context.Background(), 3)
	if err != nil {
		t.Fatal(err)
	}
	if r2.Version != r1.Version+1 {
		t.Errorf("versions: %d then %d", r1.Version, r2.Version)
	}
}

func TestRestore_SeedsLastValid(t *testing.T) {
	feed, _ := newTestFeed(t)
	feed.Restore(oracle.Reading{
		Asset: 1, Price: 42 * 100_000_000, ObservedAt: time.Unix(1_700_000_000, 0), Version: 9,
	})
	p, err := feed.Price(1)
	if err != nil || p != 42*100_000_000 {
		t.Errorf("restore: price=%d err=%v", p, err)
	}
}
