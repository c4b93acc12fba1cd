package valuation

import (
	"fmt"

	"VaultEngine/internal/asset"
	"VaultEngine/internal/custody"
	"VaultEngine/internal/oracle"
	"VaultEngine/internal/units"
)

// Valuer computes USD values for the remote venue holdings. Read-only
// with respect to custody and oracle state.
//
// Valuation always uses FULL decimals: compact amounts exist only for
// order sizing and must never reach this package.
type Valuer struct {
	reg    *asset.Registry
	remote *custody.Remote
	feed   *oracle.Feed
}

func NewValuer(reg *asset.Registry, remote *custody.Remote, feed *oracle.Feed) *Valuer {
	return &Valuer{reg: reg, remote: remote, feed: feed}
}

// AssetUSD values one risk asset's remote balance at the last valid
// oracle price.
func (v *Valuer) AssetUSD(id asset.ID) (units.USD, error) {
	a, ok := v.reg.Get(id)
	if !ok {
		return units.USD{}, fmt.Errorf("value asset %d: unknown asset", id)
	}
	bal := v.remote.Balance(id)
	if bal == 0 {
		// A flat position is worth zero even before the first reading.
		return units.USDZero(), nil
	}
	price, err := v.feed.Price(id)
	if err != nil {
		return units.USD{}, fmt.Errorf("value %s: %w", a.Symbol, err)
	}
	return units.USDValue(a, bal, price)
}

// RemoteEquityUSD sums both risk-asset positions at last-valid prices
// plus the uninvested funding balance valued 1:1.
func (v *Valuer) RemoteEquityUSD() (units.USD, error) {
	total := units.USDZero()
	for _, a := range v.reg.Risk() {
		usd, err := v.AssetUSD(a.ID)
		if err != nil {
			return units.USD{}, err
		}
		total = total.Add(usd)
	}
	total = total.Add(units.FundingUSD(v.reg.Funding(), v.remote.FundingBalance()))
	return total, nil
}

// Snapshot is a per-asset USD breakdown of remote equity, consumed by
// the rebalancer and the query surface.
type Snapshot struct {
	Assets     map[asset.ID]units.USD
	FundingUSD units.USD
	TotalUSD   units.USD
}

func (v *Valuer) Snapshot() (Snapshot, error) {
	snap := Snapshot{Assets: make(map[asset.ID]units.USD, 2)}
	total := units.USDZero()
	for _, a := range v.reg.Risk() {
		usd, err := v.AssetUSD(a.ID)
		if err != nil {
			return Snapshot{}, err
		}
		snap.Assets[a.ID] = usd
		total = total.Add(usd)
	}
	snap.FundingUSD = units.FundingUSD(v.reg.Funding(), v.remote.FundingBalance())
	snap.TotalUSD = total.Add(snap.FundingUSD)
	return snap, nil
}
