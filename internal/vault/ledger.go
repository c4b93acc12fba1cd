package vault

import (
	"errors"
	"fmt"

	"VaultEngine/internal/asset"
	"VaultEngine/internal/units"
)

var (
	// ErrZeroAmount: deposit or withdrawal of a non-positive amount.
	ErrZeroAmount = errors.New("amount must be positive")

	// ErrInsufficientShares: withdrawal exceeds the owner's balance.
	ErrInsufficientShares = errors.New("insufficient shares")

	// ErrInsufficientLiquidity: local cash does not cover a payout.
	ErrInsufficientLiquidity = errors.New("insufficient local liquidity")
)

// Params are the vault's accounting knobs. All of them are operational
// configuration, not constants.
type Params struct {
	DepositFeeBps int64
	WithdrawFees  FeeSchedule

	// AutoDeployBps: fraction of each net deposit pushed to the remote
	// venue immediately. ReserveBps: fraction of equity the rebalancer
	// keeps out of the 50/50 split.
	AutoDeployBps int64
	ReserveBps    int64

	// InitialPPS defines price-per-share while totalShares == 0.
	InitialPPS units.USD
}

// Ledger owns share issuance, the local funding-asset cash balance, and
// fee application. It is the single writer of VaultAccount state; the
// engine serializes all calls.
type Ledger struct {
	funding  asset.Asset
	params   Params
	balances map[string]units.Shares
	total    units.Shares
	cash     units.FullAmount
}

func NewLedger(funding asset.Asset, params Params) *Ledger {
	return &Ledger{
		funding:  funding,
		params:   params,
		balances: make(map[string]units.Shares),
	}
}

// DepositResult reports the outcome of a share mint.
type DepositResult struct {
	Minted   units.Shares
	FeeFull  units.FullAmount
	NetFull  units.FullAmount
	Notional units.USD
}

// Deposit applies the deposit fee to the gross amount (taken from the
// deposit, not added on top), values the net at the funding asset's
// oracle price, and mints shares against the pre-deposit NAV. The full
// gross amount lands in local cash; the fee accrues to existing holders.
func (l *Ledger) Deposit(owner string, gross units.FullAmount, price units.PriceUSD1e8, navPre units.USD) (DepositResult, error) {
	if gross <= 0 {
		return DepositResult{}, fmt.Errorf("deposit: %w", ErrZeroAmount)
	}

	fee := units.FullAmount(int64(gross) * l.params.DepositFeeBps / 10_000)
	net := gross - fee

	notional, err := units.USDValue(l.funding, net, price)
	if err != nil {
		return DepositResult{}, fmt.Errorf("deposit: %w", err)
	}

	var minted units.Shares
	if l.total.IsZero() {
		minted = units.InitialShares(notional, l.params.InitialPPS)
	} else {
		if navPre.Sign() <= 0 {
			// total_shares > 0 with nav <= 0 breaks the share/NAV
			// invariant; refusing the mint here keeps it observable.
			panic(fmt.Sprintf("FATAL: nav %s non-positive with %s shares outstanding", navPre, l.total))
		}
		minted = units.MintShares(notional, l.total, navPre)
	}

	l.balances[owner] = l.balances[owner].Add(minted)
	l.total = l.total.Add(minted)
	l.cash += gross

	return DepositResult{Minted: minted, FeeFull: fee, NetFull: net, Notional: notional}, nil
}

// WithdrawResult reports a completed burn. DueFull is the amount owed
// in funding-asset units, already net of the snapshot fee; the caller
// pays it immediately or records it in the withdrawal queue. The burn
// is final either way.
type WithdrawResult struct {
	DueFull    units.FullAmount
	DueUSD     units.USD
	GrossUSD   units.USD
	FeeBps     int64
	SharePrice units.USD
}

// Withdraw burns shares and computes the due amount atomically with the
// fee snapshot. Partial failure after the burn is not permitted, so
// this method performs no external calls.
func (l *Ledger) Withdraw(owner string, shares units.Shares, price units.PriceUSD1e8, navPre units.USD) (WithdrawResult, error) {
	if shares.Sign() <= 0 {
		return WithdrawResult{}, fmt.Errorf("withdraw: %w", ErrZeroAmount)
	}
	bal := l.balances[owner]
	if bal.Cmp(shares) < 0 {
		return WithdrawResult{}, fmt.Errorf("withdraw %s: have %s, want %s: %w",
			owner, bal, shares, ErrInsufficientShares)
	}

	pps := l.pricePerShare(navPre)
	grossUSD := units.ShareValue(shares, pps)
	feeBps := l.params.WithdrawFees.BpsFor(grossUSD)
	netUSD := grossUSD.Sub(grossUSD.MulBps(feeBps))

	dueFull, err := units.FullFromUSD(l.funding, netUSD, price)
	if err != nil {
		return WithdrawResult{}, fmt.Errorf("withdraw: %w", err)
	}

	l.balances[owner] = bal.Sub(shares)
	if l.balances[owner].IsZero() {
		delete(l.balances, owner)
	}
	l.total = l.total.Sub(shares)

	return WithdrawResult{
		DueFull:    dueFull,
		DueUSD:     netUSD,
		GrossUSD:   grossUSD,
		FeeBps:     feeBps,
		SharePrice: pps,
	}, nil
}

// QuoteWithdrawFeeBps previews the fee a withdrawal of the given USD
// size would pay. Matches the bps a subsequent Withdraw applies for an
// unchanged schedule.
func (l *Ledger) QuoteWithdrawFeeBps(size units.USD) int64 {
	return l.params.WithdrawFees.BpsFor(size)
}

// PayOut debits local cash for an immediate or queued settlement.
func (l *Ledger) PayOut(amount units.FullAmount) error {
	if amount > l.cash {
		return fmt.Errorf("pay out %d with cash %d: %w", amount, l.cash, ErrInsufficientLiquidity)
	}
	l.cash -= amount
	return nil
}

// DebitCash removes funding cash headed to the remote venue.
func (l *Ledger) DebitCash(amount units.FullAmount) error {
	if amount > l.cash {
		return fmt.Errorf("debit %d with cash %d: %w", amount, l.cash, ErrInsufficientLiquidity)
	}
	l.cash -= amount
	return nil
}

// CreditCash adds funding cash recalled from the remote venue.
func (l *Ledger) CreditCash(amount units.FullAmount) {
	l.cash += amount
}

func (l *Ledger) Cash() units.FullAmount { return l.cash }

// CashUSD values local cash 1:1 for NAV computation.
func (l *Ledger) CashUSD() units.USD {
	return units.FundingUSD(l.funding, l.cash)
}

func (l *Ledger) TotalShares() units.Shares { return l.total }

func (l *Ledger) SharesOf(owner string) units.Shares {
	return l.balances[owner]
}

// PPS returns price-per-share for the given NAV, falling back to the
// configured initial price while no shares are outstanding.
func (l *Ledger) PPS(nav units.USD) units.USD {
	return l.pricePerShare(nav)
}

func (l *Ledger) pricePerShare(nav units.USD) units.USD {
	if l.total.IsZero() {
		return l.params.InitialPPS
	}
	return units.PricePerShare(nav, l.total)
}

// UpdateWithdrawFees swaps the fee schedule. Already-recorded
// withdrawal requests keep their snapshot bps regardless.
func (l *Ledger) UpdateWithdrawFees(s FeeSchedule) {
	l.params.WithdrawFees = s
}

func (l *Ledger) Params() Params { return l.params }

// ValidateShareConservation checks sum(owner balances) == totalShares.
func (l *Ledger) ValidateShareConservation() error {
	sum := units.SharesZero()
	for _, b := range l.balances {
		sum = sum.Add(b)
	}
	if sum.Cmp(l.total) != 0 {
		return fmt.Errorf("share conservation violated: sum=%s total=%s", sum, l.total)
	}
	return nil
}

// Snapshot returns a copy of all owner balances (for state hashing and
// warm restart).
func (l *Ledger) Snapshot() map[string]units.Shares {
	out := make(map[string]units.Shares, len(l.balances))
	for k, v := range l.balances {
		out[k] = v
	}
	return out
}

// Restore seeds ledger state from a snapshot (warm restart only).
func (l *Ledger) Restore(balances map[string]units.Shares, total units.Shares, cash units.FullAmount) {
	l.balances = make(map[string]units.Shares, len(balances))
	for k, v := range balances {
		l.balances[k] = v
	}
	l.total = total
	l.cash = cash
}
