package bridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"VaultEngine/internal/custody"
	"VaultEngine/internal/units"
)

// ErrRateLimited: the transfer would exceed the epoch's outbound cap.
// The operation degrades to a no-op with this error, never a partial
// transfer.
var ErrRateLimited = errors.New("epoch transfer cap exceeded")

// TransferRail is the physical capital-movement boundary. A failed
// Send must leave no partial credit; the controller only counts volume
// after the rail accepts the transfer.
type TransferRail interface {
	Send(ctx context.Context, dir custody.Direction, amount units.FullAmount) error
}

// Params configure the epoch rate limit.
type Params struct {
	EpochLength time.Duration
	MaxPerEpoch units.FullAmount
	EpochStart  time.Time
}

// Controller initiates deployments of fresh capital to the remote
// venue and recalls capital to satisfy withdrawals. Both directions
// count against the same per-epoch cap, bounding peak capital movement
// even under a misconfigured or compromised price feed.
type Controller struct {
	rail   TransferRail
	window *epochWindow
	clock  func() time.Time
	log    zerolog.Logger
}

func NewController(rail TransferRail, params Params, log zerolog.Logger) *Controller {
	return &Controller{
		rail:   rail,
		window: newEpochWindow(params.EpochStart, params.EpochLength, params.MaxPerEpoch),
		clock:  time.Now,
		log:    log,
	}
}

// SetClock overrides the wall clock (tests only).
func (c *Controller) SetClock(clock func() time.Time) { c.clock = clock }

// Deploy moves funding capital toward the remote venue.
func (c *Controller) Deploy(ctx context.Context, amount units.FullAmount) error {
	return c.transfer(ctx, custody.DirectionDeploy, amount)
}

// Recall pulls funding capital back from the remote venue. Withdrawal
// callers request exactly the shortfall, not the full due amount.
func (c *Controller) Recall(ctx context.Context, amount units.FullAmount) error {
	return c.transfer(ctx, custody.DirectionRecall, amount)
}

func (c *Controller) transfer(ctx context.Context, dir custody.Direction, amount units.FullAmount) error {
	if amount <= 0 {
		return fmt.Errorf("%s: non-positive amount %d", dir, amount)
	}

	now := c.clock()
	c.window.roll(now)

	if !c.window.admits(amount) {
		c.log.Warn().
			Str("direction", dir.String()).
			Int64("amount", int64(amount)).
			Int64("epoch_used", int64(c.window.transferred)).
			Int64("epoch_max", int64(c.window.max)).
			Msg("transfer rate limited")
		return fmt.Errorf("%s %d with %d/%d used this epoch: %w",
			dir, amount, c.window.transferred, c.window.max, ErrRateLimited)
	}

	if err := c.rail.Send(ctx, dir, amount); err != nil {
		// Counter untouched: a failed rail send consumed no capacity.
		return fmt.Errorf("%s %d: rail: %w", dir, amount, err)
	}

	c.window.record(amount)
	c.log.Info().
		Str("direction", dir.String()).
		Int64("amount", int64(amount)).
		Int64("epoch_used", int64(c.window.transferred)).
		Msg("transfer initiated")
	return nil
}

// EpochUsed reports the volume counted against the current epoch,
// rolling the window first so readers see live capacity.
func (c *Controller) EpochUsed() units.FullAmount {
	c.window.roll(c.clock())
	return c.window.transferred
}

// EpochState exposes the window for snapshots.
func (c *Controller) EpochState() (start time.Time, transferred units.FullAmount) {
	return c.window.start, c.window.transferred
}

// RestoreEpoch seeds the window from a snapshot (warm restart only).
func (c *Controller) RestoreEpoch(start time.Time, transferred units.FullAmount) {
	c.window.start = start
	c.window.transferred = transferred
}
