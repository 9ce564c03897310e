package store

import (
	"sync"
	"time"

	"github.com/crabcache/crabcache/internal/admission"
	"github.com/crabcache/crabcache/internal/util"
)

// shard is an independent partition of the keyspace with its own lock, map,
// intrusive MRU/LRU list, and admission filter, adapted from
// cache/shard.go generalized from generic K/V to CrabCache's fixed
// []byte/[]byte keyspace and from entry-count capacity to byte capacity
// (spec §3, §4.1: "used_bytes <= shard_capacity_bytes").
type shard struct {
	mu   sync.RWMutex
	m    map[string]*entry
	head *entry // MRU
	tail *entry // LRU

	len           int
	usedBytes     int64
	capacityBytes int64

	sketch  *admission.Sketch
	metrics Metrics
	clock   Clock

	_      util.CacheLinePad
	hits   util.PaddedAtomicInt64
	misses util.PaddedAtomicInt64
	evicts util.PaddedAtomicUint64
}

func newShard(capacityBytes int64, capacityHint int, metrics Metrics, clock Clock) *shard {
	return &shard{
		m:             make(map[string]*entry, capacityHint),
		capacityBytes: capacityBytes,
		sketch:        admission.NewSketch(capacityHint),
		metrics:       metrics,
		clock:         clock,
	}
}

// result codes for Set, distinguishing an admitted write from one the
// admission filter rejected outright (spec §4.2: "inserts that fail
// admission are rejected with the prior value, if any, left intact").
type setOutcome int

const (
	setStored setOutcome = iota
	setRejectedByAdmission
	setTooLarge
)

// Get returns the value and promotes the entry to MRU. A lazily-discovered
// expired entry counts as a miss and is evicted on the spot.
func (s *shard) Get(key []byte) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.m[string(key)]
	if !ok {
		s.misses.Add(1)
		s.metrics.Miss()
		return nil, false
	}
	if e.hasExpired(s.clock.NowMillis()) {
		s.evictLocked(e, EvictTTL)
		s.misses.Add(1)
		s.metrics.Miss()
		s.metrics.Expired()
		return nil, false
	}

	s.sketch.Record(key)
	s.moveToFront(e)
	s.hits.Add(1)
	s.metrics.Hit()
	return e.value, true
}

// Peek reports an entry's liveness and size without promoting it or
// recording a sketch hit; used by the TTL sweeper to probe without
// perturbing LRU order.
func (s *shard) Peek(key []byte) (expiresAtMS int64, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.m[string(key)]
	if !ok {
		return 0, false
	}
	return e.expiresAtMS, true
}

// Set inserts or updates key, always recording an access in the admission
// sketch (a write counts as a reference, matching TinyLFU treating writes
// and reads as equivalent frequency signal). An update to an existing key
// always succeeds regardless of admission, since it does not grow len.
func (s *shard) Set(key, value []byte, expiresAtMS int64) setOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	cost := sizeCostOf(key, value)
	if cost > s.capacityBytes {
		return setTooLarge
	}

	s.sketch.Record(key)
	sk := string(key)

	if e, ok := s.m[sk]; ok {
		delta := cost - e.sizeCost
		e.value = value
		e.expiresAtMS = expiresAtMS
		e.sizeCost = cost
		e.frequencyEstimate = s.sketch.FrequencyEstimate(key)
		s.usedBytes += delta
		s.moveToFront(e)
		s.enforceCapacityLocked(nil)
		s.metrics.Size(s.usedBytes, s.len)
		return setStored
	}

	if s.usedBytes+cost > s.capacityBytes {
		victim := s.tail
		if victim != nil && !s.sketch.ShouldAdmit(key, []byte(victim.key)) {
			s.metrics.AdmissionRejected()
			return setRejectedByAdmission
		}
	}

	e := &entry{
		key:               append([]byte(nil), key...),
		value:             value,
		expiresAtMS:       expiresAtMS,
		sizeCost:          cost,
		frequencyEstimate: s.sketch.FrequencyEstimate(key),
	}
	s.m[sk] = e
	s.insertFront(e)
	s.usedBytes += cost
	s.enforceCapacityLocked(e)
	s.metrics.Size(s.usedBytes, s.len)
	return setStored
}

// Restore inserts or updates key unconditionally, bypassing the admission
// filter's ShouldAdmit comparison: a WAL record being replayed already
// implies the write was accepted once before, so admission must not get a
// second, independent vote (spec §4.5: "replay must bypass admission
// denial — records imply past acceptance"). It still evicts LRU-tail
// entries to make room, and can still fail with setTooLarge.
func (s *shard) Restore(key, value []byte, expiresAtMS int64) setOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	cost := sizeCostOf(key, value)
	if cost > s.capacityBytes {
		return setTooLarge
	}

	s.sketch.Record(key)
	sk := string(key)

	if e, ok := s.m[sk]; ok {
		delta := cost - e.sizeCost
		e.value = value
		e.expiresAtMS = expiresAtMS
		e.sizeCost = cost
		e.frequencyEstimate = s.sketch.FrequencyEstimate(key)
		s.usedBytes += delta
		s.moveToFront(e)
		s.enforceCapacityLocked(nil)
		s.metrics.Size(s.usedBytes, s.len)
		return setStored
	}

	e := &entry{
		key:               append([]byte(nil), key...),
		value:             value,
		expiresAtMS:       expiresAtMS,
		sizeCost:          cost,
		frequencyEstimate: s.sketch.FrequencyEstimate(key),
	}
	s.m[sk] = e
	s.insertFront(e)
	s.usedBytes += cost
	s.enforceCapacityLocked(e)
	s.metrics.Size(s.usedBytes, s.len)
	return setStored
}

// Delete removes key explicitly (client DEL). Returns true if it existed
// and had not already expired.
func (s *shard) Delete(key []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.m[string(key)]
	if !ok {
		return false
	}
	expired := e.hasExpired(s.clock.NowMillis())
	s.removeLocked(e)
	delete(s.m, string(key))
	if expired {
		s.metrics.Expired()
		return false
	}
	return true
}

// Expire updates an existing key's TTL without touching its value (text
// dialect's EXPIRE command, spec §4.1). It reports whether the key existed
// and had not already expired.
func (s *shard) Expire(key []byte, expiresAtMS int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.m[string(key)]
	if !ok {
		return false
	}
	if e.hasExpired(s.clock.NowMillis()) {
		s.evictLocked(e, EvictTTL)
		s.metrics.Expired()
		return false
	}
	e.expiresAtMS = expiresAtMS
	return true
}

// Len returns the number of resident entries, including any not yet
// lazily reaped despite having expired.
func (s *shard) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.len
}

// UsedBytes returns the shard's current byte accounting.
func (s *shard) UsedBytes() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.usedBytes
}

// SweepExpired walks the LRU tail looking for expired entries, removing any
// it finds, for at most budget of wall-clock time before yielding the lock.
// Budget is checked via time.Since against the elapsed walk, not a fixed
// iteration count, so a large shard or a slow run still respects the
// deadline (spec §4.3: the sweeper must not block client-facing operations
// for more than a bounded slice). Called by the TTL sweeper (internal/ttl).
func (s *shard) SweepExpired(nowMS int64, budget time.Duration) (examined, removed int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	// Walk from the LRU tail forward: cold entries are both the ones most
	// likely to have gone unnoticed and the ones cheapest to re-check.
	cur := s.tail
	for cur != nil {
		if examined > 0 && examined%32 == 0 && time.Since(start) > budget {
			break
		}
		prev := cur.prev
		examined++
		if cur.hasExpired(nowMS) {
			s.evictLocked(cur, EvictTTL)
			s.metrics.Expired()
			removed++
		}
		cur = prev
	}
	return examined, removed
}

// ---- internals (mu held) ----

func (s *shard) insertFront(e *entry) {
	e.prev = nil
	e.next = s.head
	if s.head != nil {
		s.head.prev = e
	}
	s.head = e
	if s.tail == nil {
		s.tail = e
	}
	s.len++
}

func (s *shard) moveToFront(e *entry) {
	if e == s.head {
		return
	}
	if e.prev != nil {
		e.prev.next = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	}
	if s.tail == e {
		s.tail = e.prev
	}
	e.prev = nil
	e.next = s.head
	if s.head != nil {
		s.head.prev = e
	}
	s.head = e
	if s.tail == nil {
		s.tail = e
	}
}

func (s *shard) removeLocked(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	}
	if s.head == e {
		s.head = e.next
	}
	if s.tail == e {
		s.tail = e.prev
	}
	e.prev, e.next = nil, nil
	s.len--
	s.usedBytes -= e.sizeCost
	if s.usedBytes < 0 {
		s.usedBytes = 0
	}
}

func (s *shard) evictLocked(e *entry, reason EvictReason) {
	s.removeLocked(e)
	delete(s.m, string(e.key))
	s.evicts.Add(1)
	s.metrics.Evict(reason)
}

// enforceCapacityLocked evicts LRU-tail entries until usedBytes fits within
// capacityBytes. just evicts just-inserted is passed so a freshly admitted
// entry is never immediately evicted by its own insertion rounding.
func (s *shard) enforceCapacityLocked(justInserted *entry) {
	for s.usedBytes > s.capacityBytes {
		victim := s.tail
		if victim == nil || victim == justInserted {
			break
		}
		s.evictLocked(victim, EvictCapacity)
	}
}
