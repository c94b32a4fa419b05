package metrics

import (
	"context"
	"errors"
	"sync"
)

var ErrNotFound = errors.New("request not found")

// MemoryDAO keeps the most recent requests in a ring; the oldest record is
// evicted when it is full.
type MemoryDAO struct {
	mu   sync.RWMutex
	ring []*RequestData
	next int
	byID map[string]*RequestData
}

func NewMemoryDAO(maxRequests int) *MemoryDAO {
	if maxRequests <= 0 {
		maxRequests = 1000
	}
	return &MemoryDAO{
		ring: make([]*RequestData, maxRequests),
		byID: make(map[string]*RequestData, maxRequests),
	}
}

func (d *MemoryDAO) Add(r *RequestData) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if old := d.ring[d.next]; old != nil {
		delete(d.byID, old.ID)
	}
	c := r.Clone()
	d.ring[d.next] = c
	d.byID[c.ID] = c
	d.next = (d.next + 1) % len(d.ring)
}

// Update replaces a stored record. Evicted records are not re-added.
func (d *MemoryDAO) Update(r *RequestData) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.byID[r.ID]; ok {
		*cur = *r.Clone()
	}
}

func (d *MemoryDAO) Get(ctx context.Context, id string) (*RequestData, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if r, ok := d.byID[id]; ok {
		return r.Clone(), nil
	}
	return nil, ErrNotFound
}

func (d *MemoryDAO) snapshot() []*RequestData {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*RequestData, 0, len(d.byID))
	for i := 0; i < len(d.ring); i++ {
		if r := d.ring[(d.next+i)%len(d.ring)]; r != nil {
			out = append(out, r.Clone())
		}
	}
	return out
}

func (d *MemoryDAO) Query(ctx context.Context, q RequestQuery) ([]*RequestData, error) {
	return q.apply(d.snapshot()), nil
}

func (d *MemoryDAO) Count(ctx context.Context, q RequestQuery) (int, error) {
	q.Offset, q.Count = 0, 0
	return len(q.apply(d.snapshot())), nil
}
