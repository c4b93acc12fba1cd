package bridge

import (
	"time"

	"VaultEngine/internal/units"
)

// epochWindow tracks cumulative outbound transfer volume within the
// current epoch. Rollover is lazy: the first call after the window
// elapses resets the counter before evaluating the request.
type epochWindow struct {
	start       time.Time
	length      time.Duration
	transferred units.FullAmount
	max         units.FullAmount
}

func newEpochWindow(start time.Time, length time.Duration, max units.FullAmount) *epochWindow {
	return &epochWindow{start: start, length: length, max: max}
}

// roll advances the window if now has crossed one or more epoch
// boundaries, zeroing the counter. Skipped epochs do not bank unused
// capacity.
func (w *epochWindow) roll(now time.Time) {
	if now.Before(w.start.Add(w.length)) {
		return
	}
	elapsed := now.Sub(w.start)
	periods := elapsed / w.length
	w.start = w.start.Add(periods * w.length)
	w.transferred = 0
}

// admits reports whether a transfer of the given size fits the
// remaining epoch capacity.
func (w *epochWindow) admits(amount units.FullAmount) bool {
	return w.transferred+amount <= w.max
}

// record counts a successful transfer against the window.
func (w *epochWindow) record(amount units.FullAmount) {
	w.transferred += amount
}
