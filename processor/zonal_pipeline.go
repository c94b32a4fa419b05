package processor

import (
	"context"
	"fmt"

	"github.com/nci/geoserve/raster"
	"github.com/paulmach/orb/geojson"
)

const DefaultZonalConcurrency = 8

type ZonalPipeline struct {
	Context   context.Context
	Error     chan error
	ConcLevel int
	Verbose   bool
}

func InitZonalPipeline(ctx context.Context, concLevel int, verbose bool, errChan chan error) *ZonalPipeline {
	if concLevel <= 0 {
		concLevel = DefaultZonalConcurrency
	}
	return &ZonalPipeline{
		Context:   ctx,
		Error:     errChan,
		ConcLevel: concLevel,
		Verbose:   verbose,
	}
}

// Process computes the statistics of grid cells under every zone. The
// returned channel yields one slice ordered like zones.Features, or is
// closed without a value after an error was sent on zp.Error.
func (zp *ZonalPipeline) Process(grid *raster.Grid, zones *geojson.FeatureCollection) chan []*ZonalResult {
	if grid == nil || zones == nil {
		out := make(chan []*ZonalResult)
		go func() {
			zp.Error <- fmt.Errorf("zonal statistics need a grid and zones")
			close(out)
		}()
		return out
	}

	splt := NewZoneSplitter(zp.Context, zp.Error)
	go func() {
		splt.In <- zones
		close(splt.In)
	}()
	zw := NewZoneWorker(zp.Context, zp.Error)
	zm := NewZoneMerger(zp.Context, zp.Error)

	zw.In = splt.Out
	zm.In = zw.Out

	go splt.Run(grid)
	go zw.Run(zp.ConcLevel, zp.Verbose)
	go zm.Run()

	return zm.Out
}

// ZonalStatistics runs the pipeline and waits for its result.
func ZonalStatistics(ctx context.Context, grid *raster.Grid, zones *geojson.FeatureCollection, concLevel int) ([]*ZonalResult, error) {
	errChan := make(chan error, 1)
	zp := InitZonalPipeline(ctx, concLevel, false, errChan)
	out := zp.Process(grid, zones)
	select {
	case res, ok := <-out:
		if ok {
			return res, nil
		}
		return nil, <-errChan
	case err := <-errChan:
		return nil, err
	}
}
