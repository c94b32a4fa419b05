package wps

import (
	"bytes"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nci/geoserve/utils"
)

// Operations advertised in the capabilities document.
var Operations = []string{"GetCapabilities", "DescribeProcess", "Execute", "GetExecutionStatus", "GetExecutionResult", "Dismiss"}

// Renderer produces the WPS XML documents from the Jet templates.
type Renderer struct {
	Templates    *utils.Templates
	Title        string
	Abstract     string
	ProviderName string

	updateSequence string
}

// NewRenderer loads the templates from templateDir when it holds
// overrides, otherwise the built-in ones.
func NewRenderer(templateDir string, verbose bool) *Renderer {
	return &Renderer{
		Templates:      utils.NewTemplates(templateDir, BuiltinTemplates, verbose),
		Title:          "Web Processing Service",
		Abstract:       "Vector and raster analysis processes",
		ProviderName:   "geoserve",
		updateSequence: strconv.FormatInt(time.Now().Unix(), 10),
	}
}

type processSummary struct {
	Identifier string
	Title      string
	Abstract   string
}

type capabilitiesView struct {
	URL            string
	UpdateSequence string
	Title          string
	Abstract       string
	ProviderName   string
	Operations     []string
	Processes      []processSummary
}

// Capabilities renders GetCapabilities. url is the service endpoint.
func (r *Renderer) Capabilities(url string, processes []Process) ([]byte, error) {
	v := capabilitiesView{
		URL:            url,
		UpdateSequence: r.updateSequence,
		Title:          r.Title,
		Abstract:       r.Abstract,
		ProviderName:   r.ProviderName,
		Operations:     Operations,
	}
	for _, p := range processes {
		d := p.Describe()
		v.Processes = append(v.Processes, processSummary{Identifier: d.Identifier, Title: d.Title, Abstract: d.Abstract})
	}
	return r.Templates.Render(tplCapabilities, nil, v)
}

type inputView struct {
	Identifier    string
	Title         string
	Abstract      string
	MinOccurs     string
	MaxOccurs     string
	IsLiteral     bool
	DataType      string
	Allowed       []string
	Default       string
	IsComplex     bool
	DefaultFormat string
	Formats       []string
}

type outputView struct {
	Identifier    string
	Title         string
	IsLiteral     bool
	DataType      string
	IsComplex     bool
	DefaultFormat string
	Formats       []string
}

type descriptionView struct {
	Identifier string
	Title      string
	Abstract   string
	Inputs     []inputView
	Outputs    []outputView
}

func occurs(n int) string {
	if n >= Unbounded {
		return "unbounded"
	}
	return strconv.Itoa(n)
}

func newDescriptionView(d ProcessDescriptor) descriptionView {
	v := descriptionView{Identifier: d.Identifier, Title: d.Title, Abstract: d.Abstract}
	for _, in := range d.Inputs {
		max := in.MaxOccurs
		if max <= 0 {
			max = 1
		}
		iv := inputView{
			Identifier: in.Identifier,
			Title:      orDefault(in.Title, in.Identifier),
			Abstract:   in.Abstract,
			MinOccurs:  strconv.Itoa(in.MinOccurs),
			MaxOccurs:  occurs(max),
		}
		switch {
		case in.Literal != nil:
			iv.IsLiteral = true
			iv.DataType = string(in.Literal.Type)
			iv.Allowed = in.Literal.Allowed
			iv.Default = in.Literal.Default
		case in.Complex != nil:
			iv.IsComplex = true
			iv.DefaultFormat = in.Complex.DefaultFormat()
			iv.Formats = in.Complex.Formats
		}
		v.Inputs = append(v.Inputs, iv)
	}
	for _, out := range d.Outputs {
		ov := outputView{Identifier: out.Identifier, Title: orDefault(out.Title, out.Identifier)}
		switch {
		case out.Literal != nil:
			ov.IsLiteral = true
			ov.DataType = string(out.Literal.Type)
		case out.Complex != nil:
			ov.IsComplex = true
			ov.DefaultFormat = out.Complex.DefaultFormat()
			ov.Formats = out.Complex.Formats
		}
		v.Outputs = append(v.Outputs, ov)
	}
	return v
}

// Describe renders DescribeProcess for the given processes.
func (r *Renderer) Describe(processes []Process) ([]byte, error) {
	var v struct {
		Processes []descriptionView
	}
	for _, p := range processes {
		v.Processes = append(v.Processes, newDescriptionView(p.Describe()))
	}
	return r.Templates.Render(tplDescribe, nil, v)
}

type dataInputView struct {
	Identifier string
	Href       string
	MimeType   string
	IsComplex  bool
	InlineXML  bool
	Value      string
}

type outputDefinitionView struct {
	Identifier  string
	MimeType    string
	AsReference bool
}

type processOutputView struct {
	Identifier  string
	Title       string
	Href        string
	MimeType    string
	IsBBox      bool
	CRS         string
	LowerCorner string
	UpperCorner string
	IsComplex   bool
	InlineXML   bool
	Value       string
	DataType    string
}

type executeView struct {
	ServiceInstance string
	StatusLocation  string
	Identifier      string
	Title           string
	CreationTime    string

	Accepted  bool
	Started   bool
	Percent   int
	Succeeded bool

	ExceptionCode    string
	ExceptionLocator string
	ExceptionText    string

	Lineage           bool
	DataInputs        []dataInputView
	OutputDefinitions []outputDefinitionView
	Outputs           []processOutputView
}

// ResultURL is the GetExecutionResult link of one output.
func ResultURL(serviceURL, executionID, outputID string) string {
	q := url.Values{}
	q.Set("service", "WPS")
	q.Set("version", "1.0.0")
	q.Set("request", "GetExecutionResult")
	q.Set("executionId", executionID)
	if outputID != "" {
		q.Set("outputId", outputID)
	}
	return serviceURL + "?" + q.Encode()
}

// StatusURL is the GetExecutionStatus link of an execution.
func StatusURL(serviceURL, executionID string) string {
	q := url.Values{}
	q.Set("service", "WPS")
	q.Set("version", "1.0.0")
	q.Set("request", "GetExecutionStatus")
	q.Set("executionId", executionID)
	return serviceURL + "?" + q.Encode()
}

// ExecuteResponse renders the response document of exec. Accepted and
// running executions carry a statusLocation.
func (r *Renderer) ExecuteResponse(serviceURL string, exec *Execution) ([]byte, error) {
	d := exec.Descriptor
	v := executeView{
		ServiceInstance: serviceURL + "?service=WPS&request=GetCapabilities",
		Identifier:      d.Identifier,
		Title:           orDefault(d.Title, d.Identifier),
		CreationTime:    exec.Created.Format(utils.ISOFormat),
		Percent:         exec.Percent,
	}
	switch exec.Status {
	case StatusAccepted:
		v.Accepted = true
	case StatusRunning:
		v.Started = true
	case StatusSucceeded:
		v.Succeeded = true
	default:
		e := exec.Err
		if e == nil {
			e = Errorf(NoApplicableCode, "", "execution %s", strings.ToLower(string(exec.Status)))
		}
		v.ExceptionCode, v.ExceptionLocator, v.ExceptionText = e.Code, e.Locator, e.Text
	}
	req := exec.Request
	if req == nil {
		req = &ExecuteRequest{}
	}
	if req.Async() && (v.Accepted || v.Started) {
		v.StatusLocation = StatusURL(serviceURL, exec.ID)
	}

	if req.Lineage {
		v.Lineage = true
		for _, in := range req.Inputs {
			iv := dataInputView{Identifier: in.Identifier}
			if in.Reference != nil {
				iv.Href, iv.MimeType = in.Reference.Href, in.Reference.MimeType
			} else {
				iv.MimeType = in.Data.MimeType
				iv.IsComplex = in.Data.MimeType != ""
				iv.InlineXML = isInlineXML(in.Data)
				iv.Value = inlineValue(in.Data)
			}
			v.DataInputs = append(v.DataInputs, iv)
		}
		for _, o := range requestedOutputs(req) {
			v.OutputDefinitions = append(v.OutputDefinitions, outputDefinitionView(o))
		}
	}

	if v.Succeeded {
		v.Outputs = r.outputViews(serviceURL, exec, req)
	}
	return r.Templates.Render(tplExecute, nil, v)
}

func requestedOutputs(req *ExecuteRequest) []OutputRequest {
	if req.RawOutput != nil {
		return []OutputRequest{*req.RawOutput}
	}
	return req.Outputs
}

func (r *Renderer) outputViews(serviceURL string, exec *Execution, req *ExecuteRequest) []processOutputView {
	asReference := map[string]bool{}
	for _, o := range requestedOutputs(req) {
		asReference[o.Identifier] = o.AsReference
	}
	var out []processOutputView
	for _, d := range exec.Descriptor.Outputs {
		data, ok := exec.Results[d.Identifier]
		if !ok {
			continue
		}
		ov := processOutputView{Identifier: d.Identifier, Title: orDefault(d.Title, d.Identifier), MimeType: data.MimeType}
		switch {
		case asReference[d.Identifier] && req.Async():
			ov.Href = ResultURL(serviceURL, exec.ID, d.Identifier)
		case d.BoundingBox && baseMime(data.MimeType) == MimeText:
			b, crs, err := ParseBoundingBox(d.Identifier, string(data.Value))
			if err != nil {
				ov.Value = string(data.Value)
				break
			}
			ov.IsBBox = true
			ov.CRS = crs
			ov.LowerCorner = formatFloat(b.Min[0]) + " " + formatFloat(b.Min[1])
			ov.UpperCorner = formatFloat(b.Max[0]) + " " + formatFloat(b.Max[1])
		case d.Literal != nil:
			ov.DataType = string(d.Literal.Type)
			ov.Value = string(data.Value)
		default:
			ov.IsComplex = true
			ov.InlineXML = isInlineXML(data)
			ov.Value = inlineValue(data)
		}
		out = append(out, ov)
	}
	return out
}

func isInlineXML(d Data) bool {
	if !utils.IsXMLContent(d.MimeType) {
		return false
	}
	_, err := utils.RootElement(d.Value)
	return err == nil
}

// inlineValue strips the XML declaration of documents embedded in the
// response.
func inlineValue(d Data) string {
	body := bytes.TrimSpace(d.Value)
	if isInlineXML(d) && bytes.HasPrefix(body, []byte("<?xml")) {
		if i := bytes.Index(body, []byte("?>")); i >= 0 {
			body = bytes.TrimSpace(body[i+2:])
		}
	}
	return string(body)
}

// ExceptionReport renders err as an OWS ExceptionReport.
func (r *Renderer) ExceptionReport(err error) ([]byte, error) {
	e := AsException(err)
	return r.Templates.Render(tplException, nil, e)
}

// DismissResponse renders the document returned once an execution is
// dismissed.
func (r *Renderer) DismissResponse(serviceURL string, exec *Execution) ([]byte, error) {
	dismissed := *exec
	dismissed.Status = StatusDismissed
	dismissed.Err = Errorf(NoApplicableCode, "", "execution %s has been dismissed", exec.ID)
	return r.ExecuteResponse(serviceURL, &dismissed)
}
