package processor

import (
	"context"
	"sort"
)

type ZoneMerger struct {
	Context context.Context
	In      chan *ZonalResult
	Out     chan []*ZonalResult
	Error   chan error
}

func NewZoneMerger(ctx context.Context, errChan chan error) *ZoneMerger {
	return &ZoneMerger{
		Context: ctx,
		In:      make(chan *ZonalResult, 100),
		Out:     make(chan []*ZonalResult, 1),
		Error:   errChan,
	}
}

// Run collects every result and emits them in input order.
func (zm *ZoneMerger) Run() {
	defer close(zm.Out)
	var results []*ZonalResult
	for res := range zm.In {
		results = append(results, res)
	}
	if zm.Context.Err() != nil {
		zm.Error <- zm.Context.Err()
		return
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Index < results[j].Index })
	zm.Out <- results
}
