package asset

import "fmt"

// ID is a compact asset identifier used in account paths and journals.
type ID uint16

// Role distinguishes the funding asset from the two venue-traded risk assets.
type Role int

const (
	RoleFunding Role = iota
	RoleRisk
)

// Asset describes one asset's numeric bases and oracle configuration.
//
// CompactDecimals is the reduced precision the execution venue accepts
// for order sizes; FullDecimals is the native custody precision. Neither
// direction of skew is guaranteed, conversion handles both.
type Asset struct {
	ID              ID
	Symbol          string
	Role            Role
	CompactDecimals int
	FullDecimals    int

	// FeedScale is the native fixed-point scale of the asset's price
	// feed (e.g. 1_000 for a feed reporting in 1e3 units). Explicit
	// per-asset configuration; never inferred from readings.
	FeedScale int64

	// MaxDeviationBps bounds the accepted move between two consecutive
	// oracle readings, in basis points of the prior reading.
	MaxDeviationBps int64
}

// Registry holds the fixed asset set: one funding asset plus the risk
// assets traded at the remote venue. Built once at startup from config.
type Registry struct {
	byID     map[ID]Asset
	bySymbol map[string]Asset
	risk     []Asset
	funding  Asset
}

func NewRegistry(assets []Asset) (*Registry, error) {
	r := &Registry{
		byID:     make(map[ID]Asset, len(assets)),
		bySymbol: make(map[string]Asset, len(assets)),
	}

	fundingSeen := false
	for _, a := range assets {
		if a.CompactDecimals < 0 || a.FullDecimals < 0 || a.CompactDecimals > 18 || a.FullDecimals > 18 {
			return nil, fmt.Errorf("asset %s: decimals out of range [0,18]", a.Symbol)
		}
		if a.FeedScale <= 0 {
			return nil, fmt.Errorf("asset %s: feed scale must be positive", a.Symbol)
		}
		if _, dup := r.bySymbol[a.Symbol]; dup {
			return nil, fmt.Errorf("duplicate asset symbol %s", a.Symbol)
		}
		if _, dup := r.byID[a.ID]; dup {
			return nil, fmt.Errorf("duplicate asset id %d", a.ID)
		}

		r.byID[a.ID] = a
		r.bySymbol[a.Symbol] = a

		switch a.Role {
		case RoleFunding:
			if fundingSeen {
				return nil, fmt.Errorf("more than one funding asset (%s)", a.Symbol)
			}
			fundingSeen = true
			r.funding = a
		case RoleRisk:
			r.risk = append(r.risk, a)
		}
	}

	if !fundingSeen {
		return nil, fmt.Errorf("no funding asset configured")
	}
	if len(r.risk) != 2 {
		return nil, fmt.Errorf("expected exactly 2 risk assets, got %d", len(r.risk))
	}

	return r, nil
}

func (r *Registry) Get(id ID) (Asset, bool) {
	a, ok := r.byID[id]
	return a, ok
}

func (r *Registry) BySymbol(symbol string) (Asset, bool) {
	a, ok := r.bySymbol[symbol]
	return a, ok
}

// Risk returns the two venue-traded assets in registration order.
func (r *Registry) Risk() []Asset {
	out := make([]Asset, len(r.risk))
	copy(out, r.risk)
	return out
}

// Funding returns the base asset users deposit and redeem.
func (r *Registry) Funding() Asset {
	return r.funding
}
