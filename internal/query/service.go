package query

import (
	"encoding/hex"
	"fmt"

	"VaultEngine/internal/asset"
	"VaultEngine/internal/bridge"
	"VaultEngine/internal/rebalance"
	"VaultEngine/internal/units"
)

// Engine is the read surface the query service needs. The live engine
// satisfies it; tests substitute a fake.
type Engine interface {
	NAVUSD() (units.USD, error)
	PPSUSD() (units.USD, error)
	TotalShares() units.Shares
	SharesOf(owner string) units.Shares
	RemoteEquityUSD() (units.USD, error)
	LocalCash() units.FullAmount
	QuoteWithdrawFeeBps(size units.USD) int64
	PendingWithdrawals() []bridge.WithdrawalRequest
	OutstandingIntents() []rebalance.Intent
	Paused() bool
	Sequence() int64
	StateHash() [32]byte
}

// Service answers read-only queries directly from the engine's
// in-memory state. The engine serializes access internally, so every
// response is a consistent point-in-time view.
type Service struct {
	engine Engine
	reg    *asset.Registry
}

func NewService(engine Engine, reg *asset.Registry) *Service {
	return &Service{engine: engine, reg: reg}
}

func (s *Service) NAV() (*NAVResponse, error) {
	nav, err := s.engine.NAVUSD()
	if err != nil {
		return nil, fmt.Errorf("nav: %w", err)
	}
	return &NAVResponse{
		NAVRaw:       nav.String(),
		AsOfSequence: s.engine.Sequence(),
	}, nil
}

func (s *Service) SharePrice() (*SharePriceResponse, error) {
	pps, err := s.engine.PPSUSD()
	if err != nil {
		return nil, fmt.Errorf("pps: %w", err)
	}
	return &SharePriceResponse{
		PPSRaw:       pps.String(),
		AsOfSequence: s.engine.Sequence(),
	}, nil
}

func (s *Service) Shares(owner string) (*SharesResponse, error) {
	shares := s.engine.SharesOf(owner)
	pps, err := s.engine.PPSUSD()
	if err != nil {
		return nil, fmt.Errorf("pps: %w", err)
	}
	return &SharesResponse{
		Owner:        owner,
		SharesRaw:    shares.String(),
		ValueRaw:     units.ShareValue(shares, pps).String(),
		AsOfSequence: s.engine.Sequence(),
	}, nil
}

func (s *Service) Supply() *SupplyResponse {
	return &SupplyResponse{
		TotalSharesRaw: s.engine.TotalShares().String(),
		AsOfSequence:   s.engine.Sequence(),
	}
}

func (s *Service) Equity() (*EquityResponse, error) {
	equity, err := s.engine.RemoteEquityUSD()
	if err != nil {
		return nil, fmt.Errorf("remote equity: %w", err)
	}
	return &EquityResponse{
		RemoteEquityRaw: equity.String(),
		LocalCash:       int64(s.engine.LocalCash()),
		AsOfSequence:    s.engine.Sequence(),
	}, nil
}

func (s *Service) Withdrawals() *WithdrawalsResponse {
	pending := s.engine.PendingWithdrawals()
	resp := &WithdrawalsResponse{
		Pending:      make([]WithdrawalResponse, 0, len(pending)),
		AsOfSequence: s.engine.Sequence(),
	}
	for _, req := range pending {
		resp.Pending = append(resp.Pending, WithdrawalResponse{
			WithdrawalID: req.ID.String(),
			Owner:        req.Owner,
			SharesRaw:    req.SharesBurned.String(),
			DueAmount:    int64(req.DueFull),
			FeeBps:       req.FeeBpsSnapshot,
			RequestedAt:  req.RequestedAt,
		})
	}
	return resp
}

func (s *Service) Intents() *IntentsResponse {
	intents := s.engine.OutstandingIntents()
	resp := &IntentsResponse{
		Intents:      make([]IntentResponse, 0, len(intents)),
		AsOfSequence: s.engine.Sequence(),
	}
	for _, it := range intents {
		symbol := fmt.Sprintf("%d", it.Asset)
		if a, ok := s.reg.Get(it.Asset); ok {
			symbol = a.Symbol
		}
		resp.Intents = append(resp.Intents, IntentResponse{
			IntentID:   it.IntentID.String(),
			Asset:      symbol,
			Side:       it.Side.String(),
			Size:       int64(it.SizeCompact),
			LimitPrice: int64(it.LimitPrice),
			DeltaRaw:   it.DeltaUSD.String(),
		})
	}
	return resp
}

func (s *Service) FeeQuote(sizeDollars int64) *FeeQuoteResponse {
	return &FeeQuoteResponse{
		SizeDollars:  sizeDollars,
		FeeBps:       s.engine.QuoteWithdrawFeeBps(units.USDFromDollars(sizeDollars)),
		AsOfSequence: s.engine.Sequence(),
	}
}

func (s *Service) Status() *StatusResponse {
	hash := s.engine.StateHash()
	return &StatusResponse{
		Paused:    s.engine.Paused(),
		Sequence:  s.engine.Sequence(),
		StateHash: hex.EncodeToString(hash[:]),
	}
}
