package flow

import "time"

// expiringSet is a membership set with a sliding expiry per entry.
// Entries idle for longer than ttl are treated as absent on lookup and
// removed by sweep.
type expiringSet[K comparable] struct {
	entries map[K]time.Time // key -> last seen
	ttl     time.Duration
}

func newExpiringSet[K comparable](ttl time.Duration) *expiringSet[K] {
	return &expiringSet[K]{entries: make(map[K]time.Time), ttl: ttl}
}

// touch inserts k or refreshes its last-seen time. Reports whether k was absent.
func (s *expiringSet[K]) touch(k K, now time.Time) bool {
	last, ok := s.entries[k]
	s.entries[k] = now
	return !ok || s.expired(last, now)
}

// contains reports live membership. An expired entry is deleted on the spot.
func (s *expiringSet[K]) contains(k K, now time.Time) bool {
	last, ok := s.entries[k]
	if !ok {
		return false
	}
	if s.expired(last, now) {
		delete(s.entries, k)
		return false
	}
	return true
}

func (s *expiringSet[K]) remove(k K) {
	delete(s.entries, k)
}

// sweep deletes every expired entry and returns how many were removed.
func (s *expiringSet[K]) sweep(now time.Time) int {
	removed := 0
	for k, last := range s.entries {
		if s.expired(last, now) {
			delete(s.entries, k)
			removed++
		}
	}
	return removed
}

func (s *expiringSet[K]) len() int { return len(s.entries) }

func (s *expiringSet[K]) expired(last, now time.Time) bool {
	return now.Sub(last) > s.ttl
}
