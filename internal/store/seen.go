// Package store provides an in-memory set of already seen track ids backed by a Bloom filter and LRU cache.
package store

import (
	"encoding/binary"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	// DefaultCapacity bounds the number of ids a set remembers
	DefaultCapacity = 10000
	// DefaultFalsePositiveRate is the Bloom filter target rate
	DefaultFalsePositiveRate = 0.001
)

// SeenSet is a thread-safe membership set of track ids.
// The Bloom filter answers most misses without touching the cache; the LRU holds the ids and makes hits exact.
type SeenSet struct {
	bloom                  *bloom.BloomFilter
	lru                    *lru.Cache[int64, struct{}]
	mutex                  sync.RWMutex
	capacity               int
	bloomFalsePositiveRate float64
}

// NewSeenSet creates a set remembering up to capacity ids. Past that the least recently added ids are forgotten.
func NewSeenSet(capacity int, bloomFalsePositiveRate float64) *SeenSet {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if bloomFalsePositiveRate <= 0 || bloomFalsePositiveRate >= 1 {
		bloomFalsePositiveRate = DefaultFalsePositiveRate
	}

	s := &SeenSet{
		bloom:                  bloom.NewWithEstimates(uint(capacity), bloomFalsePositiveRate),
		capacity:               capacity,
		bloomFalsePositiveRate: bloomFalsePositiveRate,
	}
	s.lru, _ = lru.New[int64, struct{}](capacity)

	return s
}

// Has reports whether id was added and not yet evicted.
func (s *SeenSet) Has(id int64) bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return s.has(id)
}

// Add inserts id and reports whether it was not present before.
func (s *SeenSet) Add(id int64) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.has(id) {
		return false
	}
	s.bloom.Add(key(id))
	s.lru.Add(id, struct{}{})
	return true
}

// Load clears the set and inserts ids.
func (s *SeenSet) Load(ids map[int64]struct{}) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.lru.Purge()
	s.bloom = bloom.NewWithEstimates(uint(s.capacity), s.bloomFalsePositiveRate)
	for id := range ids {
		s.bloom.Add(key(id))
		s.lru.Add(id, struct{}{})
	}
}

// Size returns the number of ids currently remembered.
func (s *SeenSet) Size() int {
	return s.lru.Len()
}

// has keeps evicted ids out: their Bloom bits stay set, the LRU no longer holds them.
func (s *SeenSet) has(id int64) bool {
	if !s.bloom.Test(key(id)) {
		return false
	}
	return s.lru.Contains(id)
}

func key(id int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(id)) //nolint:gosec // bit pattern only
	return b
}
