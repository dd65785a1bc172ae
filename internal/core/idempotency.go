package core

import (
	"container/list"
	"context"

	"PredictLedger/internal/observability"
)

// DBIdempotencyChecker is the tier-2 lookup against the persisted key table.
type DBIdempotencyChecker interface {
	IsDuplicate(ctx context.Context, commandType string, idempotencyKey string) (bool, error)
}

// IdempotencyChecker implements two-tier deduplication: an in-memory LRU of
// recently applied keys, then Postgres.
type IdempotencyChecker struct {
	lru       *IdempotencyLRU
	dbChecker DBIdempotencyChecker
	metrics   *observability.Metrics
}

func NewIdempotencyChecker(capacity int, dbChecker DBIdempotencyChecker, metrics *observability.Metrics) *IdempotencyChecker {
	return &IdempotencyChecker{
		lru:       NewIdempotencyLRU(capacity),
		dbChecker: dbChecker,
		metrics:   metrics,
	}
}

// CompositeKey scopes an idempotency key by command type.
func CompositeKey(commandType, idempotencyKey string) string {
	return commandType + ":" + idempotencyKey
}

// IsDuplicate checks if the command has already been applied.
func (ic *IdempotencyChecker) IsDuplicate(ctx context.Context, commandType string, idempotencyKey string) bool {
	key := CompositeKey(commandType, idempotencyKey)

	if ic.lru.Contains(key) {
		ic.recordDuplicate(commandType, "lru")
		return true
	}

	if ic.dbChecker == nil {
		return false
	}

	isDup, err := ic.dbChecker.IsDuplicate(ctx, commandType, idempotencyKey)
	if err != nil {
		// Fail open: a tier-2 outage must not stall the writer. The unique
		// key constraint in the event log still rejects a true replay.
		if ic.metrics != nil {
			ic.metrics.DedupTier2Errors.Inc()
		}
		return false
	}
	if isDup {
		ic.recordDuplicate(commandType, "postgres")
		ic.lru.Add(key)
		return true
	}
	return false
}

// MarkProcessed adds key to LRU after successful processing
func (ic *IdempotencyChecker) MarkProcessed(commandType string, idempotencyKey string) {
	evicted := ic.lru.Add(CompositeKey(commandType, idempotencyKey))
	if ic.metrics != nil {
		ic.metrics.DedupLRUSize.Set(float64(ic.lru.Size()))
		if evicted {
			ic.metrics.DedupLRUEvictions.Inc()
		}
	}
}

// Warm loads composite keys, oldest first, after a restart.
func (ic *IdempotencyChecker) Warm(keys []string) {
	ic.lru.WarmFromKeys(keys)
}

// Keys returns the cached composite keys, oldest first.
func (ic *IdempotencyChecker) Keys() []string {
	return ic.lru.Keys()
}

func (ic *IdempotencyChecker) recordDuplicate(commandType, tier string) {
	if ic.metrics != nil {
		ic.metrics.IdempotencyDuplicates.WithLabelValues(commandType, tier).Inc()
	}
}

// --- LRU Implementation ---

// IdempotencyLRU is an LRU cache for idempotency keys.
// Not thread-safe: only accessed from the single-threaded processor.
type IdempotencyLRU struct {
	capacity int
	cache    map[string]*list.Element
	lruList  *list.List

	evictions int64
}

func NewIdempotencyLRU(capacity int) *IdempotencyLRU {
	if capacity <= 0 {
		capacity = 1
	}
	return &IdempotencyLRU{
		capacity: capacity,
		cache:    make(map[string]*list.Element, capacity),
		lruList:  list.New(),
	}
}

// Contains checks if key exists (promotes to front)
func (lru *IdempotencyLRU) Contains(key string) bool {
	elem, exists := lru.cache[key]
	if exists {
		lru.lruList.MoveToFront(elem)
		return true
	}
	return false
}

// Add inserts a key (or promotes if exists). It reports whether an older key
// was evicted to make room.
func (lru *IdempotencyLRU) Add(key string) bool {
	if elem, exists := lru.cache[key]; exists {
		lru.lruList.MoveToFront(elem)
		return false
	}

	lru.cache[key] = lru.lruList.PushFront(key)

	if lru.lruList.Len() > lru.capacity {
		lru.evictOldest()
		return true
	}
	return false
}

func (lru *IdempotencyLRU) evictOldest() {
	elem := lru.lruList.Back()
	if elem != nil {
		lru.lruList.Remove(elem)
		delete(lru.cache, elem.Value.(string))
		lru.evictions++
	}
}

// WarmFromKeys loads keys oldest first, so the newest end up most recent.
func (lru *IdempotencyLRU) WarmFromKeys(keys []string) {
	for _, key := range keys {
		lru.Add(key)
	}
}

// Keys returns every cached key, oldest first.
func (lru *IdempotencyLRU) Keys() []string {
	keys := make([]string, 0, lru.lruList.Len())
	for e := lru.lruList.Back(); e != nil; e = e.Prev() {
		keys = append(keys, e.Value.(string))
	}
	return keys
}

// Size returns current number of entries
func (lru *IdempotencyLRU) Size() int {
	return lru.lruList.Len()
}

// Evictions returns total evictions
func (lru *IdempotencyLRU) Evictions() int64 {
	return lru.evictions
}
