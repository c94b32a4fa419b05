// Package vector reads features from GeoJSON files, directories of spatial
// files and PostGIS tables.
package vector

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/nci/geoserve/catalog"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// ReadGeoJSON decodes a FeatureCollection. A single Feature or a bare
// geometry is wrapped into a collection.
func ReadGeoJSON(r io.Reader) (*geojson.FeatureCollection, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return DecodeGeoJSON(body)
}

func DecodeGeoJSON(body []byte) (*geojson.FeatureCollection, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(body, &head); err != nil {
		return nil, fmt.Errorf("invalid GeoJSON: %v", err)
	}
	switch head.Type {
	case "FeatureCollection":
		fc, err := geojson.UnmarshalFeatureCollection(body)
		if err != nil {
			return nil, fmt.Errorf("invalid GeoJSON feature collection: %v", err)
		}
		return fc, nil
	case "Feature":
		f, err := geojson.UnmarshalFeature(body)
		if err != nil {
			return nil, fmt.Errorf("invalid GeoJSON feature: %v", err)
		}
		fc := geojson.NewFeatureCollection()
		fc.Append(f)
		return fc, nil
	case "":
		return nil, fmt.Errorf("invalid GeoJSON: missing type")
	}
	g, err := geojson.UnmarshalGeometry(body)
	if err != nil {
		return nil, fmt.Errorf("invalid GeoJSON geometry: %v", err)
	}
	fc := geojson.NewFeatureCollection()
	fc.Append(geojson.NewFeature(g.Geometry()))
	return fc, nil
}

func ReadGeoJSONFile(path string) (*geojson.FeatureCollection, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	fc, err := DecodeGeoJSON(body)
	if err != nil {
		return nil, fmt.Errorf("%s: %v", path, err)
	}
	return fc, nil
}

func WriteGeoJSON(w io.Writer, fc *geojson.FeatureCollection) error {
	body, err := fc.MarshalJSON()
	if err != nil {
		return err
	}
	_, err = w.Write(body)
	return err
}

// WriteGeoJSONFile replaces path with the encoded collection.
func WriteGeoJSONFile(path string, fc *geojson.FeatureCollection) error {
	var buf bytes.Buffer
	if err := WriteGeoJSON(&buf, fc); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// CollectionBound returns the union of every feature bound. ok is false
// for collections without geometries.
func CollectionBound(fc *geojson.FeatureCollection) (orb.Bound, bool) {
	var b orb.Bound
	found := false
	for _, f := range fc.Features {
		if f.Geometry == nil {
			continue
		}
		if !found {
			b = f.Geometry.Bound()
			found = true
			continue
		}
		b = b.Union(f.Geometry.Bound())
	}
	return b, found
}

// Bounds returns the envelope of fc in crs, null when fc has no geometry.
func Bounds(fc *geojson.FeatureCollection, crs string) catalog.Envelope {
	b, ok := CollectionBound(fc)
	if !ok {
		return catalog.NullEnvelope(crs)
	}
	return EnvelopeOf(b, crs)
}

func EnvelopeOf(b orb.Bound, crs string) catalog.Envelope {
	return catalog.Envelope{MinX: b.Min[0], MinY: b.Min[1], MaxX: b.Max[0], MaxY: b.Max[1], CRS: crs}
}

func BoundOf(e catalog.Envelope) orb.Bound {
	return orb.Bound{Min: orb.Point{e.MinX, e.MinY}, Max: orb.Point{e.MaxX, e.MaxY}}
}

// GeometryBinding returns the attribute binding for g.
func GeometryBinding(g orb.Geometry) string {
	switch g.(type) {
	case orb.Point:
		return catalog.BindingPoint
	case orb.MultiPoint:
		return catalog.BindingMultiPoint
	case orb.LineString:
		return catalog.BindingLineString
	case orb.MultiLineString:
		return catalog.BindingMultiLineString
	case orb.Polygon, orb.Ring, orb.Bound:
		return catalog.BindingPolygon
	case orb.MultiPolygon:
		return catalog.BindingMultiPolygon
	}
	return catalog.BindingGeometry
}

// Merge appends every feature of src to dst.
func Merge(dst, src *geojson.FeatureCollection) *geojson.FeatureCollection {
	if dst == nil {
		dst = geojson.NewFeatureCollection()
	}
	if src != nil {
		dst.Features = append(dst.Features, src.Features...)
	}
	return dst
}
