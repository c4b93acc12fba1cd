package engine

import (
	"container/list"
	"fmt"
	"time"

	"VaultEngine/internal/observability"
)

// DBIdempotencyChecker is the cold-tier dedup lookup, backed by the
// event log's unique (event_type, idempotency_key) index.
type DBIdempotencyChecker interface {
	IsDuplicate(eventType string, idempotencyKey string) (bool, error)
}

// IdempotencyChecker implements two-tier deduplication: an in-memory
// LRU for the hot path, Postgres for keys that aged out of it.
type IdempotencyChecker struct {
	lru       *dedupLRU
	dbChecker DBIdempotencyChecker
	metrics   *observability.Metrics
}

func NewIdempotencyChecker(capacity int, dbChecker DBIdempotencyChecker, metrics *observability.Metrics) *IdempotencyChecker {
	return &IdempotencyChecker{
		lru:       newDedupLRU(capacity),
		dbChecker: dbChecker,
		metrics:   metrics,
	}
}

// IsDuplicate checks whether the event was already processed.
func (ic *IdempotencyChecker) IsDuplicate(eventType, idempotencyKey string) bool {
	key := fmt.Sprintf("%s:%s", eventType, idempotencyKey)

	if ic.lru.contains(key) {
		if ic.metrics != nil {
			ic.metrics.IdempotencyDuplicates.WithLabelValues(eventType, "lru").Inc()
		}
		return true
	}

	if ic.dbChecker != nil {
		start := time.Now()
		isDup, err := ic.dbChecker.IsDuplicate(eventType, idempotencyKey)
		if ic.metrics != nil {
			ic.metrics.DedupTier2Duration.Observe(time.Since(start).Seconds())
		}
		if err != nil {
			// A DB fault must not stall event processing; the unique
			// index on the event log still rejects a true duplicate.
			return false
		}
		if isDup {
			if ic.metrics != nil {
				ic.metrics.IdempotencyDuplicates.WithLabelValues(eventType, "postgres").Inc()
			}
			ic.lru.add(key)
			return true
		}
	}

	return false
}

// MarkProcessed records the key after successful processing.
func (ic *IdempotencyChecker) MarkProcessed(eventType, idempotencyKey string) {
	ic.lru.add(fmt.Sprintf("%s:%s", eventType, idempotencyKey))
	if ic.metrics != nil {
		ic.metrics.DedupLRUSize.Set(float64(ic.lru.size()))
	}
}

// Warm loads composite keys from the event log into the LRU so a warm
// restart does not pay the cold-tier cost for recent events.
func (ic *IdempotencyChecker) Warm(keys []string) {
	for _, key := range keys {
		ic.lru.add(key)
	}
}

// Keys returns the current LRU contents for snapshotting.
func (ic *IdempotencyChecker) Keys() []string {
	return ic.lru.keys()
}

// dedupLRU is a bounded key set. Not thread-safe; only touched from
// the single-threaded engine.
type dedupLRU struct {
	capacity  int
	index     map[string]*list.Element
	order     *list.List
	evictions int64
}

func newDedupLRU(capacity int) *dedupLRU {
	return &dedupLRU{
		capacity: capacity,
		index:    make(map[string]*list.Element, capacity),
		order:    list.New(),
	}
}

func (l *dedupLRU) contains(key string) bool {
	elem, ok := l.index[key]
	if ok {
		l.order.MoveToFront(elem)
	}
	return ok
}

func (l *dedupLRU) add(key string) {
	if elem, ok := l.index[key]; ok {
		l.order.MoveToFront(elem)
		return
	}
	l.index[key] = l.order.PushFront(key)
	if l.order.Len() > l.capacity {
		oldest := l.order.Back()
		l.order.Remove(oldest)
		delete(l.index, oldest.Value.(string))
		l.evictions++
	}
}

func (l *dedupLRU) size() int { return l.order.Len() }

func (l *dedupLRU) keys() []string {
	out := make([]string, 0, l.order.Len())
	for e := l.order.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(string))
	}
	return out
}
