package processor

import (
	"github.com/nci/geoserve/raster"
	"github.com/paulmach/orb/geojson"
)

// ZoneJob is one zone feature to be summarised.
type ZoneJob struct {
	Index   int
	Feature *geojson.Feature
	Grid    *raster.Grid
}

// ZonalResult holds the statistics of the cells covered by one zone.
type ZonalResult struct {
	Index   int
	Feature *geojson.Feature
	Stats   raster.Stats
}
