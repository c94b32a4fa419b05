package processor

import (
	"context"
	"log"

	"github.com/nci/geoserve/raster"
)

type ZoneWorker struct {
	Context context.Context
	In      chan *ZoneJob
	Out     chan *ZonalResult
	Error   chan error
}

func NewZoneWorker(ctx context.Context, errChan chan error) *ZoneWorker {
	return &ZoneWorker{
		Context: ctx,
		In:      make(chan *ZoneJob, 100),
		Out:     make(chan *ZonalResult, 100),
		Error:   errChan,
	}
}

// Run scans zones concurrently, at most concLevel at a time.
func (zw *ZoneWorker) Run(concLevel int, verbose bool) {
	if verbose {
		defer log.Printf("Zone worker done")
	}
	defer close(zw.Out)

	cLimiter := NewConcLimiter(concLevel)
	for job := range zw.In {
		if zw.Context.Err() != nil {
			break
		}
		cLimiter.Go(func() {
			res := &ZonalResult{Index: job.Index, Feature: job.Feature, Stats: zoneStats(job)}
			select {
			case zw.Out <- res:
			case <-zw.Context.Done():
			}
		})
	}
	cLimiter.Wait()
}

func zoneStats(job *ZoneJob) raster.Stats {
	g := job.Grid
	var acc raster.Accumulator
	for _, idx := range raster.CellsIn(g, job.Feature.Geometry) {
		v := g.Data[idx]
		if g.IsNoData(v) {
			continue
		}
		acc.Add(v)
	}
	return acc.Stats()
}
