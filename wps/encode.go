package wps

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/nci/geoserve/raster"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/paulmach/orb/geojson"
)

// BoundingBox is a bounding box output with its CRS.
type BoundingBox struct {
	Bound orb.Bound
	CRS   string
}

func (b BoundingBox) String() string {
	return fmt.Sprintf("%s,%s,%s,%s", formatFloat(b.Bound.Min[0]), formatFloat(b.Bound.Min[1]),
		formatFloat(b.Bound.Max[0]), formatFloat(b.Bound.Max[1]))
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// Encode renders an output value with the requested mime type. An empty
// mime selects the natural encoding of the value.
func Encode(value interface{}, mime string) (Data, error) {
	base := baseMime(mime)
	switch v := value.(type) {
	case nil:
		return Data{}, fmt.Errorf("no value")
	case Encoder:
		return v.Encode(mime)
	case Document:
		return Data{MimeType: v.MimeType, Value: v.Body}, nil
	case *Document:
		return Data{MimeType: v.MimeType, Value: v.Body}, nil
	case string:
		return Data{MimeType: orDefault(mime, MimeText), Value: []byte(v)}, nil
	case []byte:
		return Data{MimeType: orDefault(mime, MimeText), Value: v}, nil
	case float64:
		return Data{MimeType: MimeText, Value: []byte(formatFloat(v))}, nil
	case float32:
		return Data{MimeType: MimeText, Value: []byte(formatFloat(float64(v)))}, nil
	case int:
		return Data{MimeType: MimeText, Value: []byte(strconv.Itoa(v))}, nil
	case int64:
		return Data{MimeType: MimeText, Value: []byte(strconv.FormatInt(v, 10))}, nil
	case bool:
		return Data{MimeType: MimeText, Value: []byte(strconv.FormatBool(v))}, nil
	case BoundingBox:
		return encodeBound(v, base)
	case orb.Bound:
		return encodeBound(BoundingBox{Bound: v}, base)
	case orb.Geometry:
		if base == MimeJSON || base == MimeGeoJSON {
			body, err := geojson.NewGeometry(v).MarshalJSON()
			if err != nil {
				return Data{}, err
			}
			return Data{MimeType: orDefault(mime, MimeJSON), Value: body}, nil
		}
		return Data{MimeType: orDefault(mime, MimeWKT), Value: []byte(wkt.MarshalString(v))}, nil
	case *geojson.FeatureCollection:
		body, err := v.MarshalJSON()
		if err != nil {
			return Data{}, err
		}
		return Data{MimeType: orDefault(mime, MimeJSON), Value: body}, nil
	case *raster.Grid:
		var buf bytes.Buffer
		if err := raster.WriteArcGrid(&buf, v); err != nil {
			return Data{}, err
		}
		return Data{MimeType: orDefault(mime, MimeArcGrid), Value: buf.Bytes()}, nil
	}
	body, err := json.Marshal(value)
	if err != nil {
		return Data{}, fmt.Errorf("cannot encode %T: %v", value, err)
	}
	return Data{MimeType: MimeJSON, Value: body}, nil
}

func encodeBound(b BoundingBox, base string) (Data, error) {
	switch base {
	case MimeJSON:
		body, err := json.Marshal(map[string]interface{}{
			"bbox": []float64{b.Bound.Min[0], b.Bound.Min[1], b.Bound.Max[0], b.Bound.Max[1]},
			"crs":  b.CRS,
		})
		return Data{MimeType: MimeJSON, Value: body}, err
	case MimeXML:
		var buf bytes.Buffer
		fmt.Fprintf(&buf, `<ows:BoundingBox xmlns:ows="http://www.opengis.net/ows/1.1"`)
		if b.CRS != "" {
			fmt.Fprintf(&buf, ` crs="%s"`, escapeAttr(b.CRS))
		}
		fmt.Fprintf(&buf, `><ows:LowerCorner>%s %s</ows:LowerCorner><ows:UpperCorner>%s %s</ows:UpperCorner></ows:BoundingBox>`,
			formatFloat(b.Bound.Min[0]), formatFloat(b.Bound.Min[1]), formatFloat(b.Bound.Max[0]), formatFloat(b.Bound.Max[1]))
		return Data{MimeType: MimeXML, Value: buf.Bytes()}, nil
	}
	text := b.String()
	if b.CRS != "" {
		text += "," + b.CRS
	}
	return Data{MimeType: MimeText, Value: []byte(text)}, nil
}

func escapeAttr(s string) string {
	var buf bytes.Buffer
	for _, r := range s {
		switch r {
		case '"':
			buf.WriteString("&quot;")
		case '<':
			buf.WriteString("&lt;")
		case '&':
			buf.WriteString("&amp;")
		default:
			buf.WriteRune(r)
		}
	}
	return buf.String()
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
