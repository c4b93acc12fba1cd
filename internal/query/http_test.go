package query_test

import (
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"VaultEngine/internal/asset"
	"VaultEngine/internal/bridge"
	"VaultEngine/internal/query"
	"VaultEngine/internal/rebalance"
	"VaultEngine/internal/units"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// --- Test helpers ---

type fakeEngine struct {
	nav      units.USD
	pps      units.USD
	supply   units.Shares
	holdings map[string]units.Shares
	equity   units.USD
	cash     units.FullAmount
	feeBps   int64
	pending  []bridge.WithdrawalRequest
	intents  []rebalance.Intent
	paused   bool
	sequence int64
	hash     [32]byte
}

func (f *fakeEngine) NAVUSD() (units.USD, error)          { return f.nav, nil }
func (f *fakeEngine) PPSUSD() (units.USD, error)          { return f.pps, nil }
func (f *fakeEngine) TotalShares() units.Shares           { return f.supply }
func (f *fakeEngine) SharesOf(owner string) units.Shares  { return f.holdings[owner] }
func (f *fakeEngine) RemoteEquityUSD() (units.USD, error) { return f.equity, nil }
func (f *fakeEngine) LocalCash() units.FullAmount         { return f.cash }
func (f *fakeEngine) QuoteWithdrawFeeBps(units.USD) int64 { return f.feeBps }
func (f *fakeEngine) PendingWithdrawals() []bridge.WithdrawalRequest {
	return f.pending
}
func (f *fakeEngine) OutstandingIntents() []rebalance.Intent { return f.intents }
func (f *fakeEngine) Paused() bool                           { return f.paused }
func (f *fakeEngine) Sequence() int64                        { return f.sequence }
func (f *fakeEngine) StateHash() [32]byte                    { return f.hash }

func testRegistry(t *testing.T) *asset.Registry {
	t.Helper()
	reg, err := asset.NewRegistry([]asset.Asset{
		{ID: 1, Symbol: "BTC", Role: asset.RoleRisk, CompactDecimals: 5, FullDecimals: 8, FeedScale: 100_000_000, MaxDeviationBps: 2000},
		{ID: 2, Symbol: "ETH", Role: asset.RoleRisk, CompactDecimals: 6, FullDecimals: 8, FeedScale: 100_000_000, MaxDeviationBps: 2000},
		{ID: 3, Symbol: "USDC", Role: asset.RoleFunding, CompactDecimals: 6, FullDecimals: 6, FeedScale: 100_000_000, MaxDeviationBps: 500},
	})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return reg
}

func sharesRaw(t *testing.T, s string) units.Shares {
	t.Helper()
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		t.Fatalf("bad shares literal %q", s)
	}
	return units.SharesFromRaw(v)
}

func newTestServer(t *testing.T, eng *fakeEngine) *httptest.Server {
	t.Helper()
	svc := query.NewService(eng, testRegistry(t))
	h := query.NewHTTPServer(svc, nil, zerolog.Nop())
	mux := http.NewServeMux()
	h.Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func getJSON(t *testing.T, url string, out interface{}) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp
}

// ============================================================
// Endpoints
// ============================================================

func TestNAVEndpoint(t *testing.T) {
	eng := &fakeEngine{
		nav:      units.USDFromDollars(1_500_000),
		sequence: 42,
	}
	srv := newTestServer(t, eng)

	var resp query.NAVResponse
	getJSON(t, srv.URL+"/v1/nav", &resp)

	if resp.NAVRaw != units.USDFromDollars(1_500_000).String() {
		t.Errorf("nav: got %s", resp.NAVRaw)
	}
	if resp.AsOfSequence != 42 {
		t.Errorf("as_of_sequence: got %d, want 42", resp.AsOfSequence)
	}
}

func TestSharesEndpoint_ValuesHoldingAtPPS(t *testing.T) {
	eng := &fakeEngine{
		pps: units.USDFromDollars(2),
		holdings: map[string]units.Shares{
			"alice": sharesRaw(t, "100000000000000000000"), // 100 shares
		},
		sequence: 7,
	}
	srv := newTestServer(t, eng)

	var resp query.SharesResponse
	getJSON(t, srv.URL+"/v1/shares?owner=alice", &resp)

	if resp.SharesRaw != "100000000000000000000" {
		t.Errorf("shares: got %s", resp.SharesRaw)
	}
	// 100 shares at $2 each.
	if resp.ValueRaw != units.USDFromDollars(200).String() {
		t.Errorf("value: got %s", resp.ValueRaw)
	}
}

func TestSharesEndpoint_RequiresOwner(t *testing.T) {
	srv := newTestServer(t, &fakeEngine{})
	resp := getJSON(t, srv.URL+"/v1/shares", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", resp.StatusCode)
	}
}

func TestWithdrawalsEndpoint(t *testing.T) {
	id := uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")
	eng := &fakeEngine{
		pending: []bridge.WithdrawalRequest{
			{
				ID:             id,
				Owner:          "bob",
				SharesBurned:   sharesRaw(t, "5000000000000000000"),
				DueFull:        units.FullAmount(502_010_050),
				FeeBpsSnapshot: 10,
				RequestedAt:    time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
			},
		},
		sequence: 9,
	}
	srv := newTestServer(t, eng)

	var resp query.WithdrawalsResponse
	getJSON(t, srv.URL+"/v1/withdrawals/pending", &resp)

	if len(resp.Pending) != 1 {
		t.Fatalf("pending: got %d entries, want 1", len(resp.Pending))
	}
	got := resp.Pending[0]
	if got.WithdrawalID != id.String() {
		t.Errorf("id: got %s", got.WithdrawalID)
	}
	if got.DueAmount != 502_010_050 {
		t.Errorf("due: got %d, want 502_010_050", got.DueAmount)
	}
	if got.FeeBps != 10 {
		t.Errorf("fee_bps: got %d, want 10", got.FeeBps)
	}
}

func TestIntentsEndpoint_ResolvesSymbol(t *testing.T) {
	eng := &fakeEngine{
		intents: []rebalance.Intent{
			{
				IntentID:    uuid.MustParse("660e8400-e29b-41d4-a716-446655440001"),
				Asset:       1,
				Side:        rebalance.SideBuy,
				SizeCompact: units.CompactAmount(100_000),
				LimitPrice:  units.PriceUSD1e8(50_000_00000000),
				DeltaUSD:    units.USDFromDollars(50_000),
			},
		},
	}
	srv := newTestServer(t, eng)

	var resp query.IntentsResponse
	getJSON(t, srv.URL+"/v1/intents", &resp)

	if len(resp.Intents) != 1 {
		t.Fatalf("intents: got %d, want 1", len(resp.Intents))
	}
	if resp.Intents[0].Asset != "BTC" {
		t.Errorf("asset: got %s, want BTC", resp.Intents[0].Asset)
	}
	if resp.Intents[0].Side != "buy" {
		t.Errorf("side: got %s, want buy", resp.Intents[0].Side)
	}
}

func TestFeeQuoteEndpoint(t *testing.T) {
	eng := &fakeEngine{feeBps: 25, sequence: 3}
	srv := newTestServer(t, eng)

	var resp query.FeeQuoteResponse
	getJSON(t, srv.URL+"/v1/fees/quote?size_dollars=10000", &resp)

	if resp.FeeBps != 25 {
		t.Errorf("fee_bps: got %d, want 25", resp.FeeBps)
	}
	if resp.SizeDollars != 10_000 {
		t.Errorf("size_dollars: got %d", resp.SizeDollars)
	}
}

func TestFeeQuoteEndpoint_RejectsBadSize(t *testing.T) {
	srv := newTestServer(t, &fakeEngine{})
	for _, q := range []string{"", "size_dollars=abc", "size_dollars=-5"} {
		url := srv.URL + "/v1/fees/quote"
		if q != "" {
			url += "?" + q
		}
		resp := getJSON(t, url, nil)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("query %q: status %d, want 400", q, resp.StatusCode)
		}
	}
}

func TestStatusEndpoint(t *testing.T) {
	var hash [32]byte
	hash[0] = 0xab
	eng := &fakeEngine{paused: true, sequence: 11, hash: hash}
	srv := newTestServer(t, eng)

	var resp query.StatusResponse
	getJSON(t, srv.URL+"/v1/status", &resp)

	if !resp.Paused {
		t.Error("paused: got false, want true")
	}
	if resp.Sequence != 11 {
		t.Errorf("sequence: got %d, want 11", resp.Sequence)
	}
	if resp.StateHash[:2] != "ab" {
		t.Errorf("state_hash: got %s", resp.StateHash)
	}
}
