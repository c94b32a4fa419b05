package vector

import (
	"math"
	"sort"
	"time"

	"github.com/nci/geoserve/catalog"
	"github.com/paulmach/orb/geojson"
)

const GeometryAttribute = "the_geom"

var dateLayouts = []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"}

func isDate(s string) bool {
	for _, layout := range dateLayouts {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}

func valueBinding(v interface{}) string {
	switch t := v.(type) {
	case bool:
		return catalog.BindingBoolean
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1<<53 {
			return catalog.BindingLong
		}
		return catalog.BindingDouble
	case int, int32, int64:
		return catalog.BindingLong
	case string:
		if isDate(t) {
			return catalog.BindingDate
		}
	}
	return catalog.BindingString
}

func widen(a, b string) string {
	switch {
	case a == "" || a == b:
		return b
	case (a == catalog.BindingLong && b == catalog.BindingDouble) || (a == catalog.BindingDouble && b == catalog.BindingLong):
		return catalog.BindingDouble
	}
	return catalog.BindingString
}

// InferSchema derives the attribute list of a collection: the geometry
// attribute first, then the properties sorted by name.
func InferSchema(fc *geojson.FeatureCollection) []catalog.AttributeTypeInfo {
	geomBinding := ""
	geomNillable := false
	bindings := map[string]string{}
	seen := map[string]int{}
	nullable := map[string]bool{}

	for _, f := range fc.Features {
		if f.Geometry == nil {
			geomNillable = true
		} else {
			b := GeometryBinding(f.Geometry)
			if geomBinding != "" && geomBinding != b {
				b = catalog.BindingGeometry
			}
			geomBinding = b
		}
		for k, v := range f.Properties {
			seen[k]++
			if v == nil {
				nullable[k] = true
				continue
			}
			bindings[k] = widen(bindings[k], valueBinding(v))
		}
	}

	var attrs []catalog.AttributeTypeInfo
	if geomBinding != "" || len(fc.Features) == 0 {
		if geomBinding == "" {
			geomBinding = catalog.BindingGeometry
		}
		attrs = append(attrs, catalog.AttributeTypeInfo{
			Name: GeometryAttribute, MinOccurs: 0, MaxOccurs: 1, Nillable: geomNillable, Binding: geomBinding,
		})
	}

	names := make([]string, 0, len(seen))
	for k := range seen {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		b := bindings[k]
		if b == "" {
			b = catalog.BindingString
		}
		attrs = append(attrs, catalog.AttributeTypeInfo{
			Name:      k,
			MinOccurs: 0,
			MaxOccurs: 1,
			Nillable:  nullable[k] || seen[k] < len(fc.Features),
			Binding:   b,
		})
	}
	return attrs
}
