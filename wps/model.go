// Package wps implements the OGC Web Processing Service 1.0.0 protocol:
// process descriptions, request parsing, input decoding, response
// documents and the execution manager running processes synchronously or
// in the background.
package wps

import (
	"context"
	"sort"
	"strings"
	"sync"
)

type LiteralType string

const (
	LiteralString  LiteralType = "string"
	LiteralInteger LiteralType = "integer"
	LiteralDouble  LiteralType = "double"
	LiteralBoolean LiteralType = "boolean"
)

// Mime types understood by the input decoders and output encoders.
const (
	MimeText    = "text/plain"
	MimeWKT     = "application/wkt"
	MimeJSON    = "application/json"
	MimeGeoJSON = "application/geo+json"
	MimeXML     = "text/xml"
	MimeArcGrid = "application/arcgrid"
)

// Format lists for complex inputs and outputs. The first entry is the
// default.
var (
	GeometryFormats = []string{MimeWKT, MimeText, MimeJSON}
	FeatureFormats  = []string{MimeJSON, MimeGeoJSON}
	GridFormats     = []string{MimeArcGrid, MimeText}
)

type LiteralDesc struct {
	Type    LiteralType
	Default string
	Allowed []string
}

type ComplexDesc struct {
	Formats []string
}

func (c *ComplexDesc) DefaultFormat() string {
	if c == nil || len(c.Formats) == 0 {
		return MimeText
	}
	return c.Formats[0]
}

// Supports reports whether mime is one of the formats, ignoring parameters
// such as "; subtype=gml/3.1.1".
func (c *ComplexDesc) Supports(mime string) bool {
	base := baseMime(mime)
	for _, f := range c.Formats {
		if strings.EqualFold(baseMime(f), base) {
			return true
		}
	}
	return false
}

func baseMime(mime string) string {
	if i := strings.Index(mime, ";"); i >= 0 {
		mime = mime[:i]
	}
	return strings.ToLower(strings.TrimSpace(mime))
}

// Unbounded is used as MaxOccurs for inputs without an upper limit.
const Unbounded = 1 << 20

type InputDescriptor struct {
	Identifier  string
	Title       string
	Abstract    string
	MinOccurs   int
	MaxOccurs   int
	Literal     *LiteralDesc
	Complex     *ComplexDesc
	BoundingBox bool
}

type OutputDescriptor struct {
	Identifier  string
	Title       string
	Literal     *LiteralDesc
	Complex     *ComplexDesc
	BoundingBox bool
}

type ProcessDescriptor struct {
	Identifier string
	Title      string
	Abstract   string
	Inputs     []InputDescriptor
	Outputs    []OutputDescriptor
}

func (d *ProcessDescriptor) Input(id string) (*InputDescriptor, bool) {
	for i := range d.Inputs {
		if d.Inputs[i].Identifier == id {
			return &d.Inputs[i], true
		}
	}
	return nil, false
}

func (d *ProcessDescriptor) Output(id string) (*OutputDescriptor, bool) {
	for i := range d.Outputs {
		if d.Outputs[i].Identifier == id {
			return &d.Outputs[i], true
		}
	}
	return nil, false
}

// Process is a WPS process. Execute must honour ctx cancellation.
type Process interface {
	Describe() ProcessDescriptor
	Execute(ctx context.Context, in *Inputs, progress *Progress) (Outputs, error)
}

// Data is one encoded input or output value.
type Data struct {
	MimeType string `json:"mimeType,omitempty"`
	Value    []byte `json:"value"`
}

// Document is an already encoded output.
type Document struct {
	MimeType string
	Body     []byte
}

// Encoder is an output value rendering itself in the requested format. An
// empty mime selects its default format.
type Encoder interface {
	Encode(mime string) (Data, error)
}

// Outputs maps output identifiers to values. Supported values are strings,
// numbers, booleans, orb geometries and bounds, feature collections, grids
// and Documents.
type Outputs map[string]interface{}

// Progress lets a running process report its completion percentage.
type Progress struct {
	mu      sync.Mutex
	percent int
	notify  func(int)
}

func NewProgress(notify func(int)) *Progress {
	return &Progress{notify: notify}
}

// Update records percent, clamped to 0..99; completion is reported by the
// execution manager.
func (p *Progress) Update(percent int) {
	if p == nil {
		return
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 99 {
		percent = 99
	}
	p.mu.Lock()
	p.percent = percent
	notify := p.notify
	p.mu.Unlock()
	if notify != nil {
		notify(percent)
	}
}

func (p *Progress) Percent() int {
	if p == nil {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.percent
}

// Registry holds the available processes by identifier.
type Registry struct {
	mu        sync.RWMutex
	processes map[string]Process
}

func NewRegistry() *Registry {
	return &Registry{processes: make(map[string]Process)}
}

// Register adds p, replacing a process with the same identifier.
func (r *Registry) Register(p Process) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processes[strings.ToLower(p.Describe().Identifier)] = p
}

// Get looks a process up ignoring case.
func (r *Registry) Get(id string) (Process, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.processes[strings.ToLower(strings.TrimSpace(id))]
	return p, ok
}

// List returns the processes sorted by identifier.
func (r *Registry) List() []Process {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Process, 0, len(r.processes))
	for _, p := range r.processes {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Describe().Identifier < out[j].Describe().Identifier
	})
	return out
}
