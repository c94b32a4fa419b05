package processor

import (
	"context"

	"github.com/nci/geoserve/raster"
	"github.com/paulmach/orb/geojson"
)

type ZoneSplitter struct {
	Context context.Context
	In      chan *geojson.FeatureCollection
	Out     chan *ZoneJob
	Error   chan error
}

func NewZoneSplitter(ctx context.Context, errChan chan error) *ZoneSplitter {
	return &ZoneSplitter{
		Context: ctx,
		In:      make(chan *geojson.FeatureCollection),
		Out:     make(chan *ZoneJob, 100),
		Error:   errChan,
	}
}

// Run emits one job per feature. Features without geometry are skipped but
// keep their index.
func (zs *ZoneSplitter) Run(grid *raster.Grid) {
	defer close(zs.Out)
	for fc := range zs.In {
		for i, f := range fc.Features {
			if f == nil || f.Geometry == nil {
				continue
			}
			select {
			case zs.Out <- &ZoneJob{Index: i, Feature: f, Grid: grid}:
			case <-zs.Context.Done():
				return
			}
		}
	}
}
