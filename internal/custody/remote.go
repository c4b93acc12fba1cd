package custody

import (
	"fmt"

	"VaultEngine/internal/asset"
	"VaultEngine/internal/units"
)

// Direction of a bridged transfer, from the vault's point of view.
type Direction int

const (
	DirectionDeploy Direction = iota // local custody -> remote venue
	DirectionRecall                  // remote venue -> local custody
)

func (d Direction) String() string {
	if d == DirectionDeploy {
		return "deploy"
	}
	return "recall"
}

// Remote tracks the vault's balances at the execution venue: one
// full-decimal balance per risk asset plus uninvested funding cash.
// Mutated only by confirmed order fills and confirmed transfers,
// never by the share ledger directly.
type Remote struct {
	positions map[asset.ID]units.FullAmount
	funding   units.FullAmount
}

func NewRemote() *Remote {
	return &Remote{positions: make(map[asset.ID]units.FullAmount)}
}

// Balance returns the held full-decimal balance for a risk asset.
func (r *Remote) Balance(id asset.ID) units.FullAmount {
	return r.positions[id]
}

// FundingBalance returns uninvested funding cash at the venue.
func (r *Remote) FundingBalance() units.FullAmount {
	return r.funding
}

// ApplyFill records a confirmed order fill: a buy consumes funding cash
// and adds to the asset balance, a sell does the reverse. Cost is the
// fill's funding-asset cost, already fee-inclusive as reported by the
// venue.
func (r *Remote) ApplyFill(id asset.ID, bought units.FullAmount, cost units.FullAmount, isBuy bool) error {
	if bought < 0 || cost < 0 {
		return fmt.Errorf("apply fill asset %d: negative amounts (%d, %d)", id, bought, cost)
	}
	if isBuy {
		if cost > r.funding {
			return fmt.Errorf("apply fill asset %d: cost %d exceeds venue funding %d", id, cost, r.funding)
		}
		r.funding -= cost
		r.positions[id] += bought
		return nil
	}
	if bought > r.positions[id] {
		return fmt.Errorf("apply fill asset %d: sold %d exceeds held %d", id, bought, r.positions[id])
	}
	r.positions[id] -= bought
	r.funding += cost
	return nil
}

// ApplyTransfer records a confirmed bridge transfer of funding cash.
func (r *Remote) ApplyTransfer(dir Direction, amount units.FullAmount) error {
	if amount <= 0 {
		return fmt.Errorf("apply transfer: non-positive amount %d", amount)
	}
	switch dir {
	case DirectionDeploy:
		r.funding += amount
	case DirectionRecall:
		if amount > r.funding {
			return fmt.Errorf("recall %d exceeds venue funding %d", amount, r.funding)
		}
		r.funding -= amount
	}
	return nil
}

// Snapshot returns a copy of the position map (for hashing/restart).
func (r *Remote) Snapshot() (map[asset.ID]units.FullAmount, units.FullAmount) {
	out := make(map[asset.ID]units.FullAmount, len(r.positions))
	for k, v := range r.positions {
		out[k] = v
	}
	return out, r.funding
}

// Restore seeds balances from a snapshot (warm restart only).
func (r *Remote) Restore(positions map[asset.ID]units.FullAmount, funding units.FullAmount) {
	r.positions = make(map[asset.ID]units.FullAmount, len(positions))
	for k, v := range positions {
		r.positions[k] = v
	}
	r.funding = funding
}
