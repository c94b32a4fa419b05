package utils

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"log"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/nci/gomemcache/memcache"
)

// OWSCache stores synchronous execute responses in memcache. Keys are
// md5 digests prefixed by a generation number; Reset bumps the generation
// so earlier entries are never read again.
type OWSCache struct {
	mc         *memcache.Client
	ttl        time.Duration
	generation int64
	verbose    bool
}

func NewOWSCache(address string, ttl time.Duration, verbose bool) *OWSCache {
	return &OWSCache{
		mc:         memcache.New(address),
		ttl:        ttl,
		generation: time.Now().Unix(),
		verbose:    verbose,
	}
}

// CacheKey hashes the parts of a request into a memcache safe key.
func CacheKey(parts ...string) string {
	h := md5.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (o *OWSCache) key(query string) string {
	return strconv.FormatInt(atomic.LoadInt64(&o.generation), 36) + ":" + query
}

func (o *OWSCache) Put(query string, value []byte) error {
	if o.verbose {
		log.Printf("OWSCache Put: %v (%d bytes)", query, len(value))
	}
	err := o.mc.Set(&memcache.Item{Key: o.key(query), Value: value, Expiration: int32(o.ttl / time.Second)})
	if err != nil {
		return fmt.Errorf("OWSCache put: %v", err)
	}
	return nil
}

// Get returns the cached value and whether it was found. Cache errors are
// treated as misses.
func (o *OWSCache) Get(query string) ([]byte, bool) {
	item, err := o.mc.Get(o.key(query))
	if err != nil {
		if err != memcache.ErrCacheMiss {
			log.Printf("OWSCache get: %v", err)
		}
		return nil, false
	}
	if o.verbose {
		log.Printf("OWSCache hit: %v", query)
	}
	return item.Value, true
}

// Reset invalidates every entry written so far.
func (o *OWSCache) Reset() {
	atomic.AddInt64(&o.generation, 1)
	log.Printf("OWSCache reset, generation %d", atomic.LoadInt64(&o.generation))
}
