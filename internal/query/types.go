package query

import "time"

// Fixed-point raw values (USD 1e18, shares 1e18) travel as decimal
// strings. All responses include as_of_sequence for freshness semantics.

// NAVResponse is the vault's net asset value.
type NAVResponse struct {
	NAVRaw       string `json:"nav_usd_raw"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

// SharePriceResponse is the current price per share.
type SharePriceResponse struct {
	PPSRaw       string `json:"pps_usd_raw"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

// SharesResponse is one owner's holding and its current value.
type SharesResponse struct {
	Owner        string `json:"owner"`
	SharesRaw    string `json:"shares_raw"`
	ValueRaw     string `json:"value_usd_raw"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

// SupplyResponse is the total share supply.
type SupplyResponse struct {
	TotalSharesRaw string `json:"total_shares_raw"`
	AsOfSequence   int64  `json:"as_of_sequence"`
}

// EquityResponse splits vault value into its local and remote legs.
type EquityResponse struct {
	RemoteEquityRaw string `json:"remote_equity_usd_raw"`
	LocalCash       int64  `json:"local_cash"`
	AsOfSequence    int64  `json:"as_of_sequence"`
}

// WithdrawalResponse is one queued withdrawal.
type WithdrawalResponse struct {
	WithdrawalID string    `json:"withdrawal_id"`
	Owner        string    `json:"owner"`
	SharesRaw    string    `json:"shares_raw"`
	DueAmount    int64     `json:"due_amount"`
	FeeBps       int64     `json:"fee_bps"`
	RequestedAt  time.Time `json:"requested_at"`
}

// WithdrawalsResponse lists the pending queue in FIFO order.
type WithdrawalsResponse struct {
	Pending      []WithdrawalResponse `json:"pending"`
	AsOfSequence int64                `json:"as_of_sequence"`
}

// IntentResponse is one outstanding rebalance order.
type IntentResponse struct {
	IntentID   string `json:"intent_id"`
	Asset      string `json:"asset"`
	Side       string `json:"side"`
	Size       int64  `json:"size"`
	LimitPrice int64  `json:"limit_price"`
	DeltaRaw   string `json:"delta_usd_raw"`
}

// IntentsResponse lists unfilled rebalance orders.
type IntentsResponse struct {
	Intents      []IntentResponse `json:"intents"`
	AsOfSequence int64            `json:"as_of_sequence"`
}

// FeeQuoteResponse is the fee tier a withdrawal of the given size
// would pay right now. Queued requests keep their snapshotted bps.
type FeeQuoteResponse struct {
	SizeDollars  int64 `json:"size_dollars"`
	FeeBps       int64 `json:"fee_bps"`
	AsOfSequence int64 `json:"as_of_sequence"`
}

// StatusResponse is the engine's operational state.
type StatusResponse struct {
	Paused    bool   `json:"paused"`
	Sequence  int64  `json:"sequence"`
	StateHash string `json:"state_hash"`
}
