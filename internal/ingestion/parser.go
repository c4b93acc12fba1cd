package ingestion

import (
	"VaultEngine/internal/event"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
)

// ParseRawEvent converts a RawEvent (JSON bytes + event type string)
// into a typed event.Event. The shell validates and converts raw events
// before anything reaches the engine, so malformed input never burns a
// sequence number.
func ParseRawEvent(raw RawEvent, eventType string) (event.Event, error) {
	switch eventType {
	case "DepositRequested":
		return parseDepositRequested(raw.Data)
	case "WithdrawalRequested":
		return parseWithdrawalRequested(raw.Data)
	case "PriceUpdate":
		return parsePriceUpdate(raw.Data)
	case "OrderFill":
		return parseOrderFill(raw.Data)
	case "TransferConfirmed":
		return parseTransferConfirmed(raw.Data)
	case "PauseSet":
		return parsePauseSet(raw.Data)
	case "FeeScheduleUpdate":
		return parseFeeScheduleUpdate(raw.Data)
	default:
		return nil, fmt.Errorf("unknown event type: %s", eventType)
	}
}

// --- JSON wire formats ---
// These structs represent the JSON payloads received from NATS.
// Field names use snake_case to match upstream producers.

type depositJSON struct {
	DepositID   string `json:"deposit_id"`
	Owner       string `json:"owner"`
	Asset       string `json:"asset"`
	GrossAmount int64  `json:"gross_amount"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseDepositRequested(data []byte) (*event.DepositRequested, error) {
	var j depositJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse DepositRequested: %w", err)
	}
	depositID, err := uuid.Parse(j.DepositID)
	if err != nil {
		return nil, fmt.Errorf("parse deposit_id: %w", err)
	}
	if j.Owner == "" {
		return nil, fmt.Errorf("deposit %s: empty owner", j.DepositID)
	}
	if j.GrossAmount <= 0 {
		return nil, fmt.Errorf("deposit %s: non-positive gross_amount %d", j.DepositID, j.GrossAmount)
	}
	return &event.DepositRequested{
		DepositID: depositID,
		Owner:     j.Owner,
		Asset:     j.Asset,
		GrossFull: j.GrossAmount,
		Timestamp: time.UnixMicro(j.TimestampUs),
		Sequence:  j.Sequence,
	}, nil
}

type withdrawalJSON struct {
	WithdrawalID string `json:"withdrawal_id"`
	Owner        string `json:"owner"`
	SharesRaw    string `json:"shares_raw"`
	Sequence     int64  `json:"sequence"`
	TimestampUs  int64  `json:"timestamp_us"`
}

func parseWithdrawalRequested(data []byte) (*event.WithdrawalRequested, error) {
	var j withdrawalJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse WithdrawalRequested: %w", err)
	}
	wdID, err := uuid.Parse(j.WithdrawalID)
	if err != nil {
		return nil, fmt.Errorf("parse withdrawal_id: %w", err)
	}
	if j.Owner == "" {
		return nil, fmt.Errorf("withdrawal %s: empty owner", j.WithdrawalID)
	}
	// Shares travel as a decimal string; reject anything the engine
	// could not burn before it costs a sequence number.
	shares, ok := new(big.Int).SetString(j.SharesRaw, 10)
	if !ok {
		return nil, fmt.Errorf("withdrawal %s: malformed shares_raw %q", j.WithdrawalID, j.SharesRaw)
	}
	if shares.Sign() <= 0 {
		return nil, fmt.Errorf("withdrawal %s: non-positive shares_raw %q", j.WithdrawalID, j.SharesRaw)
	}
	return &event.WithdrawalRequested{
		WithdrawalID: wdID,
		Owner:        j.Owner,
		SharesRaw:    j.SharesRaw,
		Timestamp:    time.UnixMicro(j.TimestampUs),
		Sequence:     j.Sequence,
	}, nil
}

type priceJSON struct {
	UpdateID      string `json:"update_id"`
	Asset         string `json:"asset"`
	RawPrice      int64  `json:"raw_price"`
	PriceSequence int64  `json:"price_sequence"`
	ObservedAtUs  int64  `json:"observed_at_us"`
}

func parsePriceUpdate(data []byte) (*event.PriceUpdate, error) {
	var j priceJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse PriceUpdate: %w", err)
	}
	updateID, err := uuid.Parse(j.UpdateID)
	if err != nil {
		return nil, fmt.Errorf("parse update_id: %w", err)
	}
	return &event.PriceUpdate{
		UpdateID:   updateID,
		Asset:      j.Asset,
		RawPrice:   j.RawPrice,
		ObservedAt: time.UnixMicro(j.ObservedAtUs),
		Sequence:   j.PriceSequence,
	}, nil
}

type fillJSON struct {
	FillID       string `json:"fill_id"`
	IntentID     string `json:"intent_id"`
	Asset        string `json:"asset"`
	Side         string `json:"side"` // "buy" or "sell"
	FilledAmount int64  `json:"filled_amount"`
	Cost         int64  `json:"cost"`
	Sequence     int64  `json:"sequence"`
	TimestampUs  int64  `json:"timestamp_us"`
}

func parseOrderFill(data []byte) (*event.OrderFill, error) {
	var j fillJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse OrderFill: %w", err)
	}
	fillID, err := uuid.Parse(j.FillID)
	if err != nil {
		return nil, fmt.Errorf("parse fill_id: %w", err)
	}
	intentID, err := uuid.Parse(j.IntentID)
	if err != nil {
		return nil, fmt.Errorf("parse intent_id: %w", err)
	}
	if j.FilledAmount <= 0 {
		return nil, fmt.Errorf("fill %s: non-positive filled_amount %d", j.FillID, j.FilledAmount)
	}

	isBuy := true
	if j.Side == "sell" {
		isBuy = false
	}

	return &event.OrderFill{
		FillID:     fillID,
		IntentID:   intentID,
		Asset:      j.Asset,
		IsBuy:      isBuy,
		FilledFull: j.FilledAmount,
		CostFull:   j.Cost,
		Timestamp:  time.UnixMicro(j.TimestampUs),
		Sequence:   j.Sequence,
	}, nil
}

type transferJSON struct {
	TransferID  string `json:"transfer_id"`
	Direction   string `json:"direction"` // "deploy" or "recall"
	Amount      int64  `json:"amount"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseTransferConfirmed(data []byte) (*event.TransferConfirmed, error) {
	var j transferJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse TransferConfirmed: %w", err)
	}
	transferID, err := uuid.Parse(j.TransferID)
	if err != nil {
		return nil, fmt.Errorf("parse transfer_id: %w", err)
	}
	if j.Direction != event.TransferDeploy && j.Direction != event.TransferRecall {
		return nil, fmt.Errorf("transfer %s: unknown direction %q", j.TransferID, j.Direction)
	}
	if j.Amount <= 0 {
		return nil, fmt.Errorf("transfer %s: non-positive amount %d", j.TransferID, j.Amount)
	}
	return &event.TransferConfirmed{
		TransferID: transferID,
		Direction:  j.Direction,
		AmountFull: j.Amount,
		Timestamp:  time.UnixMicro(j.TimestampUs),
		Sequence:   j.Sequence,
	}, nil
}

type pauseJSON struct {
	CommandID   string `json:"command_id"`
	Paused      bool   `json:"paused"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parsePauseSet(data []byte) (*event.PauseSet, error) {
	var j pauseJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse PauseSet: %w", err)
	}
	commandID, err := uuid.Parse(j.CommandID)
	if err != nil {
		return nil, fmt.Errorf("parse command_id: %w", err)
	}
	return &event.PauseSet{
		CommandID: commandID,
		Paused:    j.Paused,
		Timestamp: time.UnixMicro(j.TimestampUs),
		Sequence:  j.Sequence,
	}, nil
}

type feeStepJSON struct {
	MinDollars int64 `json:"min_dollars"`
	Bps        int64 `json:"bps"`
}

type feeScheduleJSON struct {
	CommandID   string        `json:"command_id"`
	Steps       []feeStepJSON `json:"steps"`
	Sequence    int64         `json:"sequence"`
	TimestampUs int64         `json:"timestamp_us"`
}

func parseFeeScheduleUpdate(data []byte) (*event.FeeScheduleUpdate, error) {
	var j feeScheduleJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse FeeScheduleUpdate: %w", err)
	}
	commandID, err := uuid.Parse(j.CommandID)
	if err != nil {
		return nil, fmt.Errorf("parse command_id: %w", err)
	}
	if len(j.Steps) == 0 {
		return nil, fmt.Errorf("fee schedule %s: empty steps", j.CommandID)
	}
	steps := make([]event.FeeStepUpdate, 0, len(j.Steps))
	for i, s := range j.Steps {
		if s.Bps < 0 || s.Bps > 10_000 {
			return nil, fmt.Errorf("fee schedule %s: step %d bps %d out of range", j.CommandID, i, s.Bps)
		}
		steps = append(steps, event.FeeStepUpdate{MinDollars: s.MinDollars, Bps: s.Bps})
	}
	return &event.FeeScheduleUpdate{
		CommandID: commandID,
		Steps:     steps,
		Timestamp: time.UnixMicro(j.TimestampUs),
		Sequence:  j.Sequence,
	}, nil
}
