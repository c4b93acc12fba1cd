package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"VaultEngine/internal/asset"
)

// NATSPriceSource serves oracle polls with a request-reply round trip
// to the price service on vault.oracle.{symbol}. Event-driven price
// updates on vault.prices.> remain the primary path; polling covers
// assets whose publisher has gone quiet.
type NATSPriceSource struct {
	nc      *nats.Conn
	reg     *asset.Registry
	timeout time.Duration
}

func NewNATSPriceSource(nc *nats.Conn, reg *asset.Registry) *NATSPriceSource {
	return &NATSPriceSource{nc: nc, reg: reg, timeout: 2 * time.Second}
}

func (s *NATSPriceSource) ReadRaw(ctx context.Context, id asset.ID) (int64, error) {
	a, ok := s.reg.Get(id)
	if !ok {
		return 0, fmt.Errorf("price request: unknown asset id %d", id)
	}

	reqCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	msg, err := s.nc.RequestWithContext(reqCtx, fmt.Sprintf("vault.oracle.%s", a.Symbol), nil)
	if err != nil {
		return 0, fmt.Errorf("price request %s: %w", a.Symbol, err)
	}

	var resp struct {
		RawPrice int64 `json:"raw_price"`
	}
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		return 0, fmt.Errorf("price response %s: %w", a.Symbol, err)
	}
	return resp.RawPrice, nil
}
