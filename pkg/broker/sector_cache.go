package broker

import (
	"time"

	"github.com/dgraph-io/ristretto"
)

// SectorCache is the process-lifetime cache for sector lookups.
// Not correctness-critical: entries are safe to evict at any time, the
// oracle is simply asked again. Injectable so tests stay isolated.
type SectorCache struct {
	c   *ristretto.Cache
	ttl time.Duration
}

// NewSectorCache creates a TTL-bounded cache. A zero ttl means entries
// live until evicted by capacity pressure.
func NewSectorCache(ttl time.Duration) (*SectorCache, error) {
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e4,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &SectorCache{c: c, ttl: ttl}, nil
}

func (sc *SectorCache) Get(symbol string) (string, bool) {
	v, ok := sc.c.Get(symbol)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func (sc *SectorCache) Set(symbol, sector string) {
	if sc.ttl > 0 {
		sc.c.SetWithTTL(symbol, sector, 1, sc.ttl)
		return
	}
	sc.c.Set(symbol, sector, 1)
}
