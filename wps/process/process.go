// Package process implements the WPS processes: geometry operations backed
// by GEOS (JTS:*), feature collection processes (gs:*) and grid coverage
// processes (ras:*).
package process

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/nci/geoserve/wps"
)

// Deps carries what processes need from the server.
type Deps struct {
	// Concurrency bounds the zonal statistics workers.
	Concurrency int

	// MaxFeatures caps the features produced from a coverage.
	MaxFeatures int
}

// RegisterAll adds every process to reg.
func RegisterAll(reg *wps.Registry, deps Deps) {
	if deps.Concurrency <= 0 {
		deps.Concurrency = 4
	}
	for _, p := range geometryProcesses() {
		reg.Register(p)
	}
	for _, p := range vectorProcesses() {
		reg.Register(p)
	}
	for _, p := range rasterProcesses(deps) {
		reg.Register(p)
	}
}

type runFunc func(ctx context.Context, in *wps.Inputs, progress *wps.Progress) (wps.Outputs, error)

type process struct {
	desc wps.ProcessDescriptor
	run  runFunc
}

func (p *process) Describe() wps.ProcessDescriptor { return p.desc }

func (p *process) Execute(ctx context.Context, in *wps.Inputs, progress *wps.Progress) (wps.Outputs, error) {
	return p.run(ctx, in, progress)
}

func newProcess(id, title, abstract string, inputs []wps.InputDescriptor, outputs []wps.OutputDescriptor, run runFunc) *process {
	return &process{
		desc: wps.ProcessDescriptor{Identifier: id, Title: title, Abstract: abstract, Inputs: inputs, Outputs: outputs},
		run:  run,
	}
}

func literal(id, title string, typ wps.LiteralType, def string, min int) wps.InputDescriptor {
	return wps.InputDescriptor{
		Identifier: id,
		Title:      title,
		MinOccurs:  min,
		MaxOccurs:  1,
		Literal:    &wps.LiteralDesc{Type: typ, Default: def},
	}
}

func choice(id, title, def string, min int, allowed ...string) wps.InputDescriptor {
	in := literal(id, title, wps.LiteralString, def, min)
	in.Literal.Allowed = allowed
	return in
}

func many(in wps.InputDescriptor, min int) wps.InputDescriptor {
	in.MinOccurs = min
	in.MaxOccurs = wps.Unbounded
	return in
}

func complexIn(id, title string, formats []string) wps.InputDescriptor {
	return wps.InputDescriptor{
		Identifier: id,
		Title:      title,
		MinOccurs:  1,
		MaxOccurs:  1,
		Complex:    &wps.ComplexDesc{Formats: formats},
	}
}

func geometryIn(id, title string) wps.InputDescriptor {
	return complexIn(id, title, wps.GeometryFormats)
}

func featuresIn(id, title string) wps.InputDescriptor {
	return complexIn(id, title, append(append([]string{}, wps.FeatureFormats...), wps.MimeWKT))
}

func gridIn(id, title string) wps.InputDescriptor {
	return complexIn(id, title, wps.GridFormats)
}

func bboxIn(id, title string) wps.InputDescriptor {
	return wps.InputDescriptor{Identifier: id, Title: title, MinOccurs: 1, MaxOccurs: 1, BoundingBox: true}
}

func literalOut(id, title string, typ wps.LiteralType) wps.OutputDescriptor {
	return wps.OutputDescriptor{Identifier: id, Title: title, Literal: &wps.LiteralDesc{Type: typ}}
}

func complexOut(id, title string, formats []string) wps.OutputDescriptor {
	return wps.OutputDescriptor{Identifier: id, Title: title, Complex: &wps.ComplexDesc{Formats: formats}}
}

var documentFormats = []string{wps.MimeXML, wps.MimeJSON}

// toFloat reads a numeric feature property.
func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func checkBand(in *wps.Inputs, id string) error {
	band, err := in.Int(id, 0)
	if err != nil {
		return err
	}
	if band != 0 {
		return wps.InvalidParam(id, "band %d does not exist, coverages have a single band", band)
	}
	return nil
}
