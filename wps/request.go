package wps

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"

	"github.com/nci/geoserve/utils"
)

// Reference points an input at a remote resource.
type Reference struct {
	Href     string `json:"href"`
	Method   string `json:"method,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Body     []byte `json:"body,omitempty"`
}

// InputValue is one occurrence of an input in an Execute request. Either
// Data or Reference is set; resolving a reference fills Data and clears
// Reference.
type InputValue struct {
	Identifier string     `json:"identifier"`
	Data       Data       `json:"data"`
	Reference  *Reference `json:"reference,omitempty"`
}

type OutputRequest struct {
	Identifier  string `json:"identifier"`
	MimeType    string `json:"mimeType,omitempty"`
	AsReference bool   `json:"asReference,omitempty"`
}

// ExecuteRequest is a decoded Execute operation, from KVP or XML.
type ExecuteRequest struct {
	Identifier string          `json:"identifier"`
	Inputs     []InputValue    `json:"inputs"`
	RawOutput  *OutputRequest  `json:"rawOutput,omitempty"`
	Outputs    []OutputRequest `json:"outputs,omitempty"`

	StoreExecuteResponse bool   `json:"storeExecuteResponse,omitempty"`
	Status               bool   `json:"status,omitempty"`
	Lineage              bool   `json:"lineage,omitempty"`
	Language             string `json:"language,omitempty"`
}

// Async reports whether the request runs in the background.
func (r *ExecuteRequest) Async() bool {
	return r.RawOutput == nil && r.StoreExecuteResponse
}

// ParseExecuteKVP builds an Execute request from already checked KVP
// parameters. DataInputs look like
// "geom=POINT(0 0)@mimeType=application/wkt;distance=10".
func ParseExecuteKVP(p utils.WPSParams) (*ExecuteRequest, error) {
	if p.Identifier == "" {
		return nil, MissingParam("identifier")
	}
	req := &ExecuteRequest{
		Identifier:           p.Identifier,
		StoreExecuteResponse: p.StoreExecuteResponse,
		Status:               p.Status,
		Lineage:              p.Lineage,
		Language:             p.Language,
	}
	for _, item := range splitKVPList(p.DataInputs) {
		in, err := parseKVPInput(item)
		if err != nil {
			return nil, err
		}
		req.Inputs = append(req.Inputs, in)
	}
	if p.RawDataOutput != "" {
		out, err := parseKVPOutput(p.RawDataOutput)
		if err != nil {
			return nil, err
		}
		req.RawOutput = &out
	}
	for _, item := range splitKVPList(p.ResponseDocument) {
		out, err := parseKVPOutput(item)
		if err != nil {
			return nil, err
		}
		req.Outputs = append(req.Outputs, out)
	}
	return req, nil
}

func splitKVPList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ";") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// splitAttributes splits "value@key=v@key2=v2" into the value and its
// lower cased attributes.
func splitAttributes(s string) (string, map[string]string) {
	parts := strings.Split(s, "@")
	attrs := make(map[string]string)
	for _, a := range parts[1:] {
		kv := strings.SplitN(a, "=", 2)
		key := strings.ToLower(strings.TrimSpace(kv[0]))
		if len(kv) == 2 {
			attrs[key] = strings.TrimSpace(kv[1])
		} else {
			attrs[key] = ""
		}
	}
	return parts[0], attrs
}

func parseKVPInput(item string) (InputValue, error) {
	eq := strings.Index(item, "=")
	if eq <= 0 {
		return InputValue{}, InvalidParam("DataInputs", "malformed input '%s', expected identifier=value", item)
	}
	id := strings.TrimSpace(item[:eq])
	value, attrs := splitAttributes(item[eq+1:])
	in := InputValue{Identifier: id}
	href := attrs["href"]
	if href == "" {
		href = attrs["xlink:href"]
	}
	if href != "" {
		in.Reference = &Reference{Href: href, Method: strings.ToUpper(attrs["method"]), MimeType: attrs["mimetype"]}
		return in, nil
	}
	in.Data = Data{MimeType: attrs["mimetype"], Value: []byte(value)}
	return in, nil
}

func parseKVPOutput(item string) (OutputRequest, error) {
	id, attrs := splitAttributes(item)
	id = strings.TrimSpace(id)
	if id == "" {
		return OutputRequest{}, InvalidParam("ResponseDocument", "malformed output '%s'", item)
	}
	out := OutputRequest{Identifier: id, MimeType: attrs["mimetype"]}
	if v, ok := attrs["asreference"]; ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return OutputRequest{}, InvalidParam("asReference", "%s is not a boolean", v)
		}
		out.AsReference = b
	}
	return out, nil
}

type xmlExecute struct {
	XMLName      xml.Name         `xml:"Execute"`
	Service      string           `xml:"service,attr"`
	Version      string           `xml:"version,attr"`
	Language     string           `xml:"language,attr"`
	Identifier   string           `xml:"Identifier"`
	Inputs       []xmlInput       `xml:"DataInputs>Input"`
	ResponseForm *xmlResponseForm `xml:"ResponseForm"`
}

type xmlInput struct {
	Identifier string        `xml:"Identifier"`
	Data       *xmlData      `xml:"Data"`
	Reference  *xmlReference `xml:"Reference"`
}

type xmlData struct {
	Literal *struct {
		Value string `xml:",chardata"`
	} `xml:"LiteralData"`
	Complex *struct {
		MimeType string `xml:"mimeType,attr"`
		Inner    []byte `xml:",innerxml"`
	} `xml:"ComplexData"`
	BoundingBox *struct {
		CRS   string `xml:"crs,attr"`
		Lower string `xml:"LowerCorner"`
		Upper string `xml:"UpperCorner"`
	} `xml:"BoundingBoxData"`
}

type xmlReference struct {
	Href     string `xml:"href,attr"`
	Method   string `xml:"method,attr"`
	MimeType string `xml:"mimeType,attr"`
	Body     *struct {
		Inner []byte `xml:",innerxml"`
	} `xml:"Body"`
}

type xmlOutput struct {
	MimeType    string `xml:"mimeType,attr"`
	AsReference bool   `xml:"asReference,attr"`
	Identifier  string `xml:"Identifier"`
}

type xmlResponseForm struct {
	Raw      *xmlOutput `xml:"RawDataOutput"`
	Document *struct {
		StoreExecuteResponse bool        `xml:"storeExecuteResponse,attr"`
		Status               bool        `xml:"status,attr"`
		Lineage              bool        `xml:"lineage,attr"`
		Outputs              []xmlOutput `xml:"Output"`
	} `xml:"ResponseDocument"`
}

// xmlOperation covers the other POST operations.
type xmlOperation struct {
	Service        string   `xml:"service,attr"`
	Version        string   `xml:"version,attr"`
	Language       string   `xml:"language,attr"`
	Identifiers    []string `xml:"Identifier"`
	AcceptVersions []string `xml:"AcceptVersions>Version"`
}

// ParseXMLRequest decodes a POSTed WPS request. For Execute the decoded
// request is returned as well.
func ParseXMLRequest(body []byte) (utils.WPSParams, *ExecuteRequest, error) {
	var p utils.WPSParams
	root, err := utils.RootElement(body)
	if err != nil {
		return p, nil, InvalidParam("request", "could not parse XML request: %v", err)
	}
	switch root {
	case "Execute":
		req, params, err := parseExecuteXML(body)
		return params, req, err
	case "GetCapabilities", "DescribeProcess":
		var op xmlOperation
		if err := utils.UnmarshalXML(body, &op); err != nil {
			return p, nil, InvalidParam("request", "could not parse %s: %v", root, err)
		}
		p.Request = root
		p.Service = strings.ToUpper(op.Service)
		p.Version = op.Version
		p.Language = op.Language
		p.AcceptVersions = strings.Join(op.AcceptVersions, ",")
		p.Identifier = strings.Join(op.Identifiers, ",")
		if p.Version == "" && root == "DescribeProcess" {
			return p, nil, MissingParam("version")
		}
		return p, nil, nil
	}
	return p, nil, Errorf(OperationNotSupported, "request", "unknown operation %s", root)
}

func parseExecuteXML(body []byte) (*ExecuteRequest, utils.WPSParams, error) {
	var p utils.WPSParams
	var x xmlExecute
	if err := utils.UnmarshalXML(body, &x); err != nil {
		return nil, p, InvalidParam("request", "could not parse Execute: %v", err)
	}
	p.Request = "Execute"
	p.Service = strings.ToUpper(x.Service)
	p.Version = x.Version
	p.Identifier = strings.TrimSpace(x.Identifier)
	p.Language = x.Language
	if p.Version == "" {
		return nil, p, MissingParam("version")
	}
	if p.Identifier == "" {
		return nil, p, MissingParam("Identifier")
	}

	req := &ExecuteRequest{Identifier: p.Identifier, Language: x.Language}
	for _, xi := range x.Inputs {
		in := InputValue{Identifier: strings.TrimSpace(xi.Identifier)}
		switch {
		case xi.Reference != nil:
			ref := &Reference{Href: xi.Reference.Href, Method: strings.ToUpper(xi.Reference.Method), MimeType: xi.Reference.MimeType}
			if xi.Reference.Body != nil {
				ref.Body = complexContent(xi.Reference.Body.Inner)
			}
			in.Reference = ref
		case xi.Data != nil && xi.Data.Literal != nil:
			in.Data = Data{Value: []byte(strings.TrimSpace(xi.Data.Literal.Value))}
		case xi.Data != nil && xi.Data.Complex != nil:
			in.Data = Data{MimeType: xi.Data.Complex.MimeType, Value: complexContent(xi.Data.Complex.Inner)}
		case xi.Data != nil && xi.Data.BoundingBox != nil:
			bb := xi.Data.BoundingBox
			v := strings.Join(append(strings.Fields(bb.Lower), strings.Fields(bb.Upper)...), ",")
			if bb.CRS != "" {
				v += "," + bb.CRS
			}
			in.Data = Data{Value: []byte(v)}
		default:
			return nil, p, InvalidParam(in.Identifier, "input %s has no data", in.Identifier)
		}
		req.Inputs = append(req.Inputs, in)
	}

	if rf := x.ResponseForm; rf != nil {
		if rf.Raw != nil {
			req.RawOutput = &OutputRequest{Identifier: strings.TrimSpace(rf.Raw.Identifier), MimeType: rf.Raw.MimeType}
		} else if rf.Document != nil {
			req.StoreExecuteResponse = rf.Document.StoreExecuteResponse
			req.Status = rf.Document.Status
			req.Lineage = rf.Document.Lineage
			for _, o := range rf.Document.Outputs {
				req.Outputs = append(req.Outputs, OutputRequest{
					Identifier:  strings.TrimSpace(o.Identifier),
					MimeType:    o.MimeType,
					AsReference: o.AsReference,
				})
			}
		}
	}
	p.StoreExecuteResponse = req.StoreExecuteResponse
	p.Status = req.Status
	p.Lineage = req.Lineage
	return req, p, nil
}

// complexContent returns the payload of a ComplexData element: inline XML
// as is, text content (CDATA or escaped) decoded.
func complexContent(inner []byte) []byte {
	trimmed := bytes.TrimSpace(inner)
	if bytes.HasPrefix(trimmed, []byte("<")) && !bytes.HasPrefix(trimmed, []byte("<![CDATA[")) {
		return trimmed
	}
	var text struct {
		Value string `xml:",chardata"`
	}
	wrapped := append(append([]byte("<v>"), inner...), []byte("</v>")...)
	if err := xml.Unmarshal(wrapped, &text); err != nil {
		return trimmed
	}
	return []byte(strings.TrimSpace(text.Value))
}

// KVP renders the request back into DataInputs form, used for lineage and
// cache keys.
func (r *ExecuteRequest) KVP() string {
	var b strings.Builder
	for i, in := range r.Inputs {
		if i > 0 {
			b.WriteString(";")
		}
		b.WriteString(in.Identifier)
		b.WriteString("=")
		if in.Reference != nil {
			fmt.Fprintf(&b, "@href=%s", in.Reference.Href)
			continue
		}
		b.Write(in.Data.Value)
		if in.Data.MimeType != "" {
			b.WriteString("@mimeType=" + in.Data.MimeType)
		}
	}
	return b.String()
}
