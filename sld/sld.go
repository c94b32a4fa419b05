// Package sld parses and validates Styled Layer Descriptor documents and
// zipped style packages.
package sld

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"

	"golang.org/x/net/html/charset"
)

const (
	Version100 = "1.0.0"
	Version110 = "1.1.0"
)

// Raw keeps the inner XML of an element whose structure is not modelled.
type Raw struct {
	XMLContent []byte `xml:",innerxml"`
}

type Rule struct {
	Name              string  `xml:"Name,omitempty"`
	Title             string  `xml:"Title,omitempty"`
	Abstract          string  `xml:"Abstract,omitempty"`
	MinScale          float64 `xml:"MinScaleDenominator,omitempty"`
	MaxScale          float64 `xml:"MaxScaleDenominator,omitempty"`
	Filter            *Raw    `xml:"Filter,omitempty"`
	ElseFilter        *Raw    `xml:"ElseFilter,omitempty"`
	PointSymbolizer   []Raw   `xml:"PointSymbolizer,omitempty"`
	LineSymbolizer    []Raw   `xml:"LineSymbolizer,omitempty"`
	PolygonSymbolizer []Raw   `xml:"PolygonSymbolizer,omitempty"`
	TextSymbolizer    []Raw   `xml:"TextSymbolizer,omitempty"`
	RasterSymbolizer  []Raw   `xml:"RasterSymbolizer,omitempty"`
}

func (r *Rule) symbolizers() int {
	return len(r.PointSymbolizer) + len(r.LineSymbolizer) + len(r.PolygonSymbolizer) +
		len(r.TextSymbolizer) + len(r.RasterSymbolizer)
}

type FeatureTypeStyle struct {
	Name  string `xml:"Name,omitempty"`
	Rules []Rule `xml:"Rule"`
}

type UserStyle struct {
	Name              string             `xml:"Name,omitempty"`
	Title             string             `xml:"Title,omitempty"`
	Abstract          string             `xml:"Abstract,omitempty"`
	IsDefault         string             `xml:"IsDefault,omitempty"`
	FeatureTypeStyles []FeatureTypeStyle `xml:"FeatureTypeStyle"`
}

type NamedStyle struct {
	Name string `xml:"Name"`
}

type NamedLayer struct {
	Name        string       `xml:"Name"`
	NamedStyles []NamedStyle `xml:"NamedStyle"`
	UserStyles  []UserStyle  `xml:"UserStyle"`
}

type UserLayer struct {
	Name       string      `xml:"Name,omitempty"`
	UserStyles []UserStyle `xml:"UserStyle"`
}

type StyledLayerDescriptor struct {
	XMLName     xml.Name     `xml:"StyledLayerDescriptor"`
	Version     string       `xml:"version,attr"`
	Name        string       `xml:"Name,omitempty"`
	NamedLayers []NamedLayer `xml:"NamedLayer"`
	UserLayers  []UserLayer  `xml:"UserLayer"`
}

// NewDecoder returns an XML decoder that understands non UTF-8 encodings
// declared in the XML prolog.
func NewDecoder(r io.Reader) *xml.Decoder {
	d := xml.NewDecoder(r)
	d.CharsetReader = charset.NewReaderLabel
	return d
}

func Parse(r io.Reader) (*StyledLayerDescriptor, error) {
	var doc StyledLayerDescriptor
	if err := NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse SLD: %v", err)
	}
	return &doc, nil
}

func ParseBytes(body []byte) (*StyledLayerDescriptor, error) {
	return Parse(bytes.NewReader(body))
}

// DetectVersion returns the version attribute of the root element,
// defaulting to 1.0.0 when absent.
func DetectVersion(body []byte) (string, error) {
	d := NewDecoder(bytes.NewReader(body))
	for {
		tok, err := d.Token()
		if err != nil {
			return "", fmt.Errorf("failed to read SLD root element: %v", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if start.Name.Local != "StyledLayerDescriptor" {
			return "", fmt.Errorf("root element must be StyledLayerDescriptor, found %s", start.Name.Local)
		}
		for _, a := range start.Attr {
			if a.Name.Local == "version" {
				return a.Value, nil
			}
		}
		return Version100, nil
	}
}

func (s *StyledLayerDescriptor) userStyles() []UserStyle {
	var out []UserStyle
	for _, l := range s.NamedLayers {
		out = append(out, l.UserStyles...)
	}
	for _, l := range s.UserLayers {
		out = append(out, l.UserStyles...)
	}
	return out
}

// Validate returns every problem found in the document.
func Validate(s *StyledLayerDescriptor) []error {
	var errs []error
	if s.Version != Version100 && s.Version != Version110 {
		errs = append(errs, fmt.Errorf("unsupported SLD version '%s'", s.Version))
	}
	if len(s.NamedLayers)+len(s.UserLayers) == 0 {
		errs = append(errs, fmt.Errorf("SLD must contain at least one NamedLayer or UserLayer"))
	}
	for i, l := range s.NamedLayers {
		if l.Name == "" {
			errs = append(errs, fmt.Errorf("NamedLayer %d has no Name", i))
		}
		if len(l.UserStyles) == 0 && len(l.NamedStyles) == 0 {
			errs = append(errs, fmt.Errorf("NamedLayer '%s' has no style", l.Name))
		}
	}
	for i, l := range s.UserLayers {
		if len(l.UserStyles) == 0 {
			errs = append(errs, fmt.Errorf("UserLayer %d has no UserStyle", i))
		}
	}
	for _, us := range s.userStyles() {
		if len(us.FeatureTypeStyles) == 0 {
			errs = append(errs, fmt.Errorf("UserStyle '%s' has no FeatureTypeStyle", us.Name))
		}
		for _, fts := range us.FeatureTypeStyles {
			if len(fts.Rules) == 0 {
				errs = append(errs, fmt.Errorf("FeatureTypeStyle in '%s' has no Rule", us.Name))
			}
			for j, r := range fts.Rules {
				label := r.Name
				if label == "" {
					label = fmt.Sprintf("#%d", j)
				}
				if r.MinScale > 0 && r.MaxScale > 0 && r.MinScale >= r.MaxScale {
					errs = append(errs, fmt.Errorf("rule '%s': MinScaleDenominator %g must be less than MaxScaleDenominator %g", label, r.MinScale, r.MaxScale))
				}
				if r.symbolizers() == 0 {
					errs = append(errs, fmt.Errorf("rule '%s' has no symbolizer", label))
				}
			}
		}
	}
	return errs
}

// StyleName returns the first user style name, falling back to the first
// layer name.
func StyleName(s *StyledLayerDescriptor) string {
	for _, us := range s.userStyles() {
		if us.Name != "" {
			return us.Name
		}
	}
	for _, l := range s.NamedLayers {
		if l.Name != "" {
			return l.Name
		}
	}
	for _, l := range s.UserLayers {
		if l.Name != "" {
			return l.Name
		}
	}
	return ""
}
