package bridge

import (
	"time"

	"github.com/google/uuid"

	"VaultEngine/internal/units"
)

// WithdrawalRequest is one pending payout, created atomically with the
// share burn when local liquidity was insufficient. The due amount and
// fee snapshot are fixed at burn time; later fee-schedule changes never
// touch a recorded request.
type WithdrawalRequest struct {
	ID             uuid.UUID
	Owner          string
	SharesBurned   units.Shares
	DueFull        units.FullAmount
	FeeBpsSnapshot int64
	RequestedAt    time.Time
	Settled        bool
	SettledAt      time.Time
}

// WithdrawalQueue is a FIFO of pending requests backed by a ring
// buffer: O(1) enqueue and dequeue, no reordering, no cancellation.
// Head-of-line blocking is intentional: a large pending request stalls
// smaller ones behind it.
type WithdrawalQueue struct {
	buf  []WithdrawalRequest
	head int
	n    int
}

const queueMinCap = 8

func NewWithdrawalQueue() *WithdrawalQueue {
	return &WithdrawalQueue{buf: make([]WithdrawalRequest, queueMinCap)}
}

func (q *WithdrawalQueue) Len() int { return q.n }

// Enqueue appends to the tail.
func (q *WithdrawalQueue) Enqueue(req WithdrawalRequest) {
	if q.n == len(q.buf) {
		q.grow()
	}
	q.buf[(q.head+q.n)%len(q.buf)] = req
	q.n++
}

// Peek returns the head without removing it.
func (q *WithdrawalQueue) Peek() (WithdrawalRequest, bool) {
	if q.n == 0 {
		return WithdrawalRequest{}, false
	}
	return q.buf[q.head], true
}

// SettleNext pops and returns the head only if localCash covers its
// full due amount; otherwise it returns false without mutating the
// queue (the caller recalls more capital first). Requests settle whole
// or not at all.
func (q *WithdrawalQueue) SettleNext(localCash units.FullAmount, now time.Time) (WithdrawalRequest, bool) {
	if q.n == 0 {
		return WithdrawalRequest{}, false
	}
	head := q.buf[q.head]
	if head.DueFull > localCash {
		return WithdrawalRequest{}, false
	}

	head.Settled = true
	head.SettledAt = now

	q.buf[q.head] = WithdrawalRequest{}
	q.head = (q.head + 1) % len(q.buf)
	q.n--
	return head, true
}

// PendingTotal sums the due amounts of all unsettled requests.
func (q *WithdrawalQueue) PendingTotal() units.FullAmount {
	var total units.FullAmount
	for i := 0; i < q.n; i++ {
		total += q.buf[(q.head+i)%len(q.buf)].DueFull
	}
	return total
}

// Pending returns the unsettled requests in queue order.
func (q *WithdrawalQueue) Pending() []WithdrawalRequest {
	out := make([]WithdrawalRequest, 0, q.n)
	for i := 0; i < q.n; i++ {
		out = append(out, q.buf[(q.head+i)%len(q.buf)])
	}
	return out
}

// Restore rebuilds the queue from a snapshot, preserving order.
func (q *WithdrawalQueue) Restore(reqs []WithdrawalRequest) {
	capNeeded := queueMinCap
	for capNeeded < len(reqs) {
		capNeeded *= 2
	}
	q.buf = make([]WithdrawalRequest, capNeeded)
	copy(q.buf, reqs)
	q.head = 0
	q.n = len(reqs)
}

func (q *WithdrawalQueue) grow() {
	next := make([]WithdrawalRequest, len(q.buf)*2)
	for i := 0; i < q.n; i++ {
		next[i] = q.buf[(q.head+i)%len(q.buf)]
	}
	q.buf = next
	q.head = 0
}
