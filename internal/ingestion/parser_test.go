package ingestion_test

import (
	"VaultEngine/internal/event"
	"VaultEngine/internal/ingestion"
	"encoding/json"
	"testing"
	"time"
)

func rawFromJSON(t *testing.T, v interface{}) ingestion.RawEvent {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return ingestion.RawEvent{
		Subject:   "test",
		Data:      data,
		Timestamp: time.Now(),
		AckFunc:   func() {},
		NakFunc:   func() {},
	}
}

func TestParseDepositRequested(t *testing.T) {
	payload := map[string]interface{}{
		"deposit_id":   "550e8400-e29b-41d4-a716-446655440000",
		"owner":        "alice",
		"asset":        "USDC",
		"gross_amount": int64(1_000_000_000),
		"sequence":     int64(1),
		"timestamp_us": int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "DepositRequested")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	d, ok := evt.(*event.DepositRequested)
	if !ok {
		t.Fatalf("expected *event.DepositRequested, got %T", evt)
	}

	if d.Owner != "alice" {
		t.Errorf("owner: got %s, want alice", d.Owner)
	}
	if d.Asset != "USDC" {
		t.Errorf("asset: got %s, want USDC", d.Asset)
	}
	if d.GrossFull != 1_000_000_000 {
		t.Errorf("gross: got %d, want 1_000_000_000", d.GrossFull)
	}
	if d.EventType() != event.TypeDepositRequested {
		t.Errorf("event type: got %v, want DepositRequested", d.EventType())
	}
	if d.Timestamp.UnixMicro() != 1700000000000000 {
		t.Errorf("timestamp: got %d", d.Timestamp.UnixMicro())
	}
}

func TestParseDepositRequested_RejectsNonPositiveAmount(t *testing.T) {
	payload := map[string]interface{}{
		"deposit_id":   "550e8400-e29b-41d4-a716-446655440000",
		"owner":        "alice",
		"asset":        "USDC",
		"gross_amount": int64(0),
		"sequence":     int64(1),
		"timestamp_us": int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	if _, err := ingestion.ParseRawEvent(raw, "DepositRequested"); err == nil {
		t.Fatal("expected error for zero gross_amount")
	}
}

func TestParseWithdrawalRequested(t *testing.T) {
	payload := map[string]interface{}{
		"withdrawal_id": "660e8400-e29b-41d4-a716-446655440001",
		"owner":         "bob",
		"shares_raw":    "500000000000000000000",
		"sequence":      int64(2),
		"timestamp_us":  int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "WithdrawalRequested")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	w, ok := evt.(*event.WithdrawalRequested)
	if !ok {
		t.Fatalf("expected *event.WithdrawalRequested, got %T", evt)
	}

	if w.Owner != "bob" {
		t.Errorf("owner: got %s, want bob", w.Owner)
	}
	if w.SharesRaw != "500000000000000000000" {
		t.Errorf("shares_raw: got %s", w.SharesRaw)
	}
	if w.SourceSequence() != 2 {
		t.Errorf("sequence: got %d, want 2", w.SourceSequence())
	}
}

func TestParseWithdrawalRequested_RejectsMalformedShares(t *testing.T) {
	for _, shares := range []string{"", "abc", "-1000", "0", "1.5e18"} {
		payload := map[string]interface{}{
			"withdrawal_id": "660e8400-e29b-41d4-a716-446655440001",
			"owner":         "bob",
			"shares_raw":    shares,
			"sequence":      int64(2),
			"timestamp_us":  int64(1700000000000000),
		}

		raw := rawFromJSON(t, payload)
		if _, err := ingestion.ParseRawEvent(raw, "WithdrawalRequested"); err == nil {
			t.Errorf("shares_raw %q: expected error", shares)
		}
	}
}

func TestParsePriceUpdate(t *testing.T) {
	payload := map[string]interface{}{
		"update_id":      "770e8400-e29b-41d4-a716-446655440002",
		"asset":          "BTC",
		"raw_price":      int64(50_000_00000000),
		"price_sequence": int64(100),
		"observed_at_us": int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "PriceUpdate")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	p, ok := evt.(*event.PriceUpdate)
	if !ok {
		t.Fatalf("expected *event.PriceUpdate, got %T", evt)
	}

	if p.Asset != "BTC" {
		t.Errorf("asset: got %s, want BTC", p.Asset)
	}
	if p.RawPrice != 50_000_00000000 {
		t.Errorf("raw_price: got %d", p.RawPrice)
	}
	if p.Sequence != 100 {
		t.Errorf("price_sequence: got %d, want 100", p.Sequence)
	}
	if p.ObservedAt.UnixMicro() != 1700000000000000 {
		t.Errorf("observed_at: got %d", p.ObservedAt.UnixMicro())
	}
}

func TestParseOrderFill(t *testing.T) {
	payload := map[string]interface{}{
		"fill_id":       "880e8400-e29b-41d4-a716-446655440003",
		"intent_id":     "990e8400-e29b-41d4-a716-446655440004",
		"asset":         "ETH",
		"side":          "sell",
		"filled_amount": int64(2_000_000),
		"cost":          int64(5_000_000_000),
		"sequence":      int64(7),
		"timestamp_us":  int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "OrderFill")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	f, ok := evt.(*event.OrderFill)
	if !ok {
		t.Fatalf("expected *event.OrderFill, got %T", evt)
	}

	if f.Asset != "ETH" {
		t.Errorf("asset: got %s, want ETH", f.Asset)
	}
	if f.IsBuy {
		t.Error("side: got buy, want sell")
	}
	if f.FilledFull != 2_000_000 {
		t.Errorf("filled: got %d, want 2_000_000", f.FilledFull)
	}
	if f.CostFull != 5_000_000_000 {
		t.Errorf("cost: got %d, want 5_000_000_000", f.CostFull)
	}
}

func TestParseTransferConfirmed(t *testing.T) {
	payload := map[string]interface{}{
		"transfer_id":  "aa0e8400-e29b-41d4-a716-446655440005",
		"direction":    "recall",
		"amount":       int64(900_000_000),
		"sequence":     int64(3),
		"timestamp_us": int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "TransferConfirmed")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	tc, ok := evt.(*event.TransferConfirmed)
	if !ok {
		t.Fatalf("expected *event.TransferConfirmed, got %T", evt)
	}

	if tc.Direction != event.TransferRecall {
		t.Errorf("direction: got %s, want recall", tc.Direction)
	}
	if tc.AmountFull != 900_000_000 {
		t.Errorf("amount: got %d, want 900_000_000", tc.AmountFull)
	}
}

func TestParseTransferConfirmed_RejectsUnknownDirection(t *testing.T) {
	payload := map[string]interface{}{
		"transfer_id":  "aa0e8400-e29b-41d4-a716-446655440005",
		"direction":    "sideways",
		"amount":       int64(1),
		"sequence":     int64(3),
		"timestamp_us": int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	if _, err := ingestion.ParseRawEvent(raw, "TransferConfirmed"); err == nil {
		t.Fatal("expected error for unknown direction")
	}
}

func TestParsePauseSet(t *testing.T) {
	payload := map[string]interface{}{
		"command_id":   "bb0e8400-e29b-41d4-a716-446655440006",
		"paused":       true,
		"sequence":     int64(1),
		"timestamp_us": int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "PauseSet")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	ps, ok := evt.(*event.PauseSet)
	if !ok {
		t.Fatalf("expected *event.PauseSet, got %T", evt)
	}
	if !ps.Paused {
		t.Error("paused: got false, want true")
	}
}

func TestParseFeeScheduleUpdate(t *testing.T) {
	payload := map[string]interface{}{
		"command_id": "cc0e8400-e29b-41d4-a716-446655440007",
		"steps": []map[string]interface{}{
			{"min_dollars": int64(0), "bps": int64(50)},
			{"min_dollars": int64(10_000), "bps": int64(25)},
		},
		"sequence":     int64(2),
		"timestamp_us": int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "FeeScheduleUpdate")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	fs, ok := evt.(*event.FeeScheduleUpdate)
	if !ok {
		t.Fatalf("expected *event.FeeScheduleUpdate, got %T", evt)
	}

	if len(fs.Steps) != 2 {
		t.Fatalf("steps: got %d, want 2", len(fs.Steps))
	}
	if fs.Steps[1].MinDollars != 10_000 || fs.Steps[1].Bps != 25 {
		t.Errorf("step 1: got %+v", fs.Steps[1])
	}
}

func TestParseFeeScheduleUpdate_RejectsBpsOutOfRange(t *testing.T) {
	payload := map[string]interface{}{
		"command_id": "cc0e8400-e29b-41d4-a716-446655440007",
		"steps": []map[string]interface{}{
			{"min_dollars": int64(0), "bps": int64(10_001)},
		},
		"sequence":     int64(2),
		"timestamp_us": int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	if _, err := ingestion.ParseRawEvent(raw, "FeeScheduleUpdate"); err == nil {
		t.Fatal("expected error for bps out of range")
	}
}

func TestParseUnknownEventType_Fails(t *testing.T) {
	raw := ingestion.RawEvent{Data: []byte(`{}`)}
	_, err := ingestion.ParseRawEvent(raw, "NonExistentType")
	if err == nil {
		t.Fatal("expected error for unknown event type")
	}
}

func TestParseInvalidJSON_Fails(t *testing.T) {
	raw := ingestion.RawEvent{Data: []byte(`{invalid json`)}
	_, err := ingestion.ParseRawEvent(raw, "DepositRequested")
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestParseInvalidUUID_Fails(t *testing.T) {
	payload := map[string]interface{}{
		"deposit_id":   "not-a-uuid",
		"owner":        "alice",
		"asset":        "USDC",
		"gross_amount": int64(1),
		"sequence":     int64(0),
		"timestamp_us": int64(0),
	}

	raw := rawFromJSON(t, payload)
	_, err := ingestion.ParseRawEvent(raw, "DepositRequested")
	if err == nil {
		t.Fatal("expected error for invalid UUID")
	}
}
