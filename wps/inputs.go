package wps

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	geo "github.com/nci/geometry"
	"github.com/nci/geoserve/raster"
	"github.com/nci/geoserve/vector"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/paulmach/orb/geojson"
)

// Inputs holds the decoded input values of an execution by identifier.
type Inputs struct {
	values map[string][]Data
}

func NewInputs() *Inputs {
	return &Inputs{values: make(map[string][]Data)}
}

func (in *Inputs) Add(id string, d Data) {
	in.values[id] = append(in.values[id], d)
}

func (in *Inputs) Has(id string) bool {
	return len(in.values[id]) > 0
}

func (in *Inputs) Raw(id string) []Data {
	return in.values[id]
}

func (in *Inputs) first(id string) (Data, bool) {
	v := in.values[id]
	if len(v) == 0 {
		return Data{}, false
	}
	return v[0], true
}

func (in *Inputs) String(id, def string) string {
	d, ok := in.first(id)
	if !ok {
		return def
	}
	return strings.TrimSpace(string(d.Value))
}

// Strings returns every occurrence of id. A single occurrence holding a
// comma separated list is split.
func (in *Inputs) Strings(id string) []string {
	var out []string
	for _, d := range in.values[id] {
		out = append(out, strings.TrimSpace(string(d.Value)))
	}
	if len(out) == 1 && strings.Contains(out[0], ",") {
		parts := strings.Split(out[0], ",")
		out = out[:0]
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

func (in *Inputs) Float(id string, def float64) (float64, error) {
	d, ok := in.first(id)
	if !ok {
		return def, nil
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(string(d.Value)), 64)
	if err != nil {
		return 0, InvalidParam(id, "%s is not a number", d.Value)
	}
	return v, nil
}

func (in *Inputs) Floats(id string) ([]float64, error) {
	var out []float64
	for _, s := range in.Strings(id) {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, InvalidParam(id, "%s is not a number", s)
		}
		out = append(out, v)
	}
	return out, nil
}

func (in *Inputs) Int(id string, def int) (int, error) {
	d, ok := in.first(id)
	if !ok {
		return def, nil
	}
	v, err := strconv.Atoi(strings.TrimSpace(string(d.Value)))
	if err != nil {
		return 0, InvalidParam(id, "%s is not an integer", d.Value)
	}
	return v, nil
}

func (in *Inputs) Bool(id string, def bool) (bool, error) {
	d, ok := in.first(id)
	if !ok {
		return def, nil
	}
	v, err := strconv.ParseBool(strings.TrimSpace(string(d.Value)))
	if err != nil {
		return false, InvalidParam(id, "%s is not a boolean", d.Value)
	}
	return v, nil
}

// Geometry decodes the first occurrence of id.
func (in *Inputs) Geometry(id string) (orb.Geometry, error) {
	d, ok := in.first(id)
	if !ok {
		return nil, MissingParam(id)
	}
	g, err := DecodeGeometry(d.Value)
	if err != nil {
		return nil, InvalidParam(id, "%v", err)
	}
	return g, nil
}

func (in *Inputs) Geometries(id string) ([]orb.Geometry, error) {
	var out []orb.Geometry
	for _, d := range in.values[id] {
		g, err := DecodeGeometry(d.Value)
		if err != nil {
			return nil, InvalidParam(id, "%v", err)
		}
		out = append(out, g)
	}
	return out, nil
}

// Features decodes a GeoJSON FeatureCollection, Feature or geometry. A WKT
// geometry becomes a one feature collection.
func (in *Inputs) Features(id string) (*geojson.FeatureCollection, error) {
	d, ok := in.first(id)
	if !ok {
		return nil, MissingParam(id)
	}
	body := bytes.TrimSpace(d.Value)
	if bytes.HasPrefix(body, []byte("{")) {
		fc, err := vector.DecodeGeoJSON(body)
		if err != nil {
			return nil, InvalidParam(id, "%v", err)
		}
		return fc, nil
	}
	g, err := decodeWKT(string(body))
	if err != nil {
		return nil, InvalidParam(id, "%v", err)
	}
	fc := geojson.NewFeatureCollection()
	fc.Append(geojson.NewFeature(g))
	return fc, nil
}

// Grid decodes an ArcGrid coverage.
func (in *Inputs) Grid(id string) (*raster.Grid, error) {
	d, ok := in.first(id)
	if !ok {
		return nil, MissingParam(id)
	}
	g, err := raster.ReadArcGrid(bytes.NewReader(d.Value))
	if err != nil {
		return nil, InvalidParam(id, "%v", err)
	}
	return g, nil
}

// BoundingBox parses "minx,miny,maxx,maxy[,crs]".
func (in *Inputs) BoundingBox(id string) (orb.Bound, string, error) {
	d, ok := in.first(id)
	if !ok {
		return orb.Bound{}, "", MissingParam(id)
	}
	return ParseBoundingBox(id, string(d.Value))
}

func ParseBoundingBox(id, s string) (orb.Bound, string, error) {
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != 4 && len(parts) != 5 {
		return orb.Bound{}, "", InvalidParam(id, "bounding box must be minx,miny,maxx,maxy[,crs]")
	}
	var v [4]float64
	for i := 0; i < 4; i++ {
		f, err := strconv.ParseFloat(strings.TrimSpace(parts[i]), 64)
		if err != nil {
			return orb.Bound{}, "", InvalidParam(id, "%s is not a number", parts[i])
		}
		v[i] = f
	}
	if v[0] > v[2] || v[1] > v[3] {
		return orb.Bound{}, "", InvalidParam(id, "bounding box minimum exceeds maximum")
	}
	crs := ""
	if len(parts) == 5 {
		crs = strings.TrimSpace(parts[4])
	}
	return orb.Bound{Min: orb.Point{v[0], v[1]}, Max: orb.Point{v[2], v[3]}}, crs, nil
}

// DecodeGeometry reads WKT (optionally EWKT with an SRID prefix) or a
// GeoJSON geometry, Feature or FeatureCollection.
func DecodeGeometry(body []byte) (orb.Geometry, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, fmt.Errorf("empty geometry")
	}
	if body[0] != '{' {
		return decodeWKT(string(body))
	}

	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(body, &head); err != nil {
		return nil, fmt.Errorf("invalid GeoJSON: %v", err)
	}
	switch head.Type {
	case "Feature":
		var feat geo.Feature
		if err := json.Unmarshal(body, &feat); err == nil && feat.Geometry != nil {
			return decodeWKT(feat.Geometry.MarshalWKT())
		}
		// geometry types unknown to nci/geometry
		f, err := geojson.UnmarshalFeature(body)
		if err != nil {
			return nil, fmt.Errorf("problem unmarshalling GeoJSON feature: %v", err)
		}
		if f.Geometry == nil {
			return nil, fmt.Errorf("GeoJSON feature has no geometry")
		}
		return f.Geometry, nil
	case "FeatureCollection":
		col, err := collectGeometries(body)
		if err != nil {
			return nil, err
		}
		if len(col) == 1 {
			return col[0], nil
		}
		return col, nil
	}
	g, err := geojson.UnmarshalGeometry(body)
	if err != nil {
		return nil, fmt.Errorf("invalid GeoJSON geometry: %v", err)
	}
	return g.Geometry(), nil
}

// collectGeometries reads the geometries of a FeatureCollection through their
// WKT, or through orb when the collection holds geometry types nci/geometry
// does not decode.
func collectGeometries(body []byte) (orb.Collection, error) {
	var col orb.Collection
	var fc geo.FeatureCollection
	if err := json.Unmarshal(body, &fc); err == nil {
		for _, f := range fc.Features {
			if f.Geometry == nil {
				continue
			}
			g, err := decodeWKT(f.Geometry.MarshalWKT())
			if err != nil {
				return nil, err
			}
			col = append(col, g)
		}
		return col, nil
	}
	ofc, err := vector.DecodeGeoJSON(body)
	if err != nil {
		return nil, err
	}
	for _, f := range ofc.Features {
		if f.Geometry != nil {
			col = append(col, f.Geometry)
		}
	}
	return col, nil
}

func decodeWKT(s string) (orb.Geometry, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(strings.ToUpper(s), "SRID=") {
		if i := strings.Index(s, ";"); i > 0 {
			s = s[i+1:]
		}
	}
	g, err := wkt.Unmarshal(s)
	if err != nil {
		return nil, fmt.Errorf("invalid WKT '%s': %v", abbreviate(s, 40), err)
	}
	return g, nil
}

func abbreviate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
