package event

import (
	"encoding/json"
	"fmt"
)

// Decode rebuilds a typed event from a stored log payload. The log
// codec is plain JSON of the event structs, so Decode is the exact
// inverse of the marshal done at commit time. Used during replay.
func Decode(eventType string, payload []byte) (Event, error) {
	var evt Event
	switch eventType {
	case TypeDepositRequested.String():
		evt = &DepositRequested{}
	case TypeWithdrawalRequested.String():
		evt = &WithdrawalRequested{}
	case TypePriceUpdate.String():
		evt = &PriceUpdate{}
	case TypeOrderFill.String():
		evt = &OrderFill{}
	case TypeTransferConfirmed.String():
		evt = &TransferConfirmed{}
	case TypeQueueSettled.String():
		evt = &QueueSettled{}
	case TypeRebalanceCycle.String():
		evt = &RebalanceCycle{}
	case TypePauseSet.String():
		evt = &PauseSet{}
	case TypeFeeScheduleUpdate.String():
		evt = &FeeScheduleUpdate{}
	default:
		return nil, fmt.Errorf("decode: unknown event type %q", eventType)
	}

	if err := json.Unmarshal(payload, evt); err != nil {
		return nil, fmt.Errorf("decode %s: %w", eventType, err)
	}
	return evt, nil
}
