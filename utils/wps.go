package utils

import (
	"fmt"
	"regexp"
	"strings"
)

// WPSParams contains the parameters of a WPS KVP request. Identifier,
// DataInputs and the output forms are kept raw and decoded by the wps
// package.
type WPSParams struct {
	Service              string
	Request              string
	Version              string
	AcceptVersions       string
	Identifier           string
	DataInputs           string
	RawDataOutput        string
	ResponseDocument     string
	StoreExecuteResponse bool
	Status               bool
	Lineage              bool
	ExecutionID          string
	OutputID             string
	Language             string
}

// WPSRegexpMap maps WPS request parameters to
// regular expressions for doing validation
// when parsing.
var WPSRegexpMap = map[string]string{"service": `(?i)^WPS$`,
	"request":     `(?i)^(GetCapabilities|DescribeProcess|Execute|GetExecutionStatus|GetExecutionResult|Dismiss)$`,
	"version":     `^\d+\.\d+\.\d+$`,
	"bool":        `(?i)^(true|false)$`,
	"identifier":  `^[\w.:,\- ]+$`,
	"executionid": `^[0-9a-fA-F\-]{36}$`,
}

func CompileWPSRegexMap() map[string]*regexp.Regexp {
	REMap := make(map[string]*regexp.Regexp)
	for key, re := range WPSRegexpMap {
		REMap[key] = regexp.MustCompile(re)
	}

	return REMap
}

// ParamError reports a missing or malformed KVP parameter.
type ParamError struct {
	Name    string
	Value   string
	Missing bool
}

func (e *ParamError) Error() string {
	if e.Missing {
		return fmt.Sprintf("WPS '%s' not found", e.Name)
	}
	return fmt.Sprintf("%s is not a valid value for '%s'", e.Value, e.Name)
}

var canonicalRequests = map[string]string{
	"getcapabilities":    "GetCapabilities",
	"describeprocess":    "DescribeProcess",
	"execute":            "Execute",
	"getexecutionstatus": "GetExecutionStatus",
	"getexecutionresult": "GetExecutionResult",
	"dismiss":            "Dismiss",
}

// WPSParamsChecker checks the content of the parameters of a WPS request
// and copies them into a WPSParams struct. Service may be empty when the
// request name identifies a WPS operation.
func WPSParamsChecker(params map[string][]string, compREMap map[string]*regexp.Regexp) (WPSParams, error) {
	var p WPSParams
	first := func(key string) (string, bool) {
		v, ok := params[key]
		if !ok || len(v) == 0 {
			return "", false
		}
		return strings.TrimSpace(v[0]), true
	}

	if service, ok := first("service"); ok && service != "" {
		if !compREMap["service"].MatchString(service) {
			return p, &ParamError{Name: "service", Value: service}
		}
		p.Service = "WPS"
	}

	request, ok := first("request")
	if !ok || request == "" {
		return p, &ParamError{Name: "request", Missing: true}
	}
	if !compREMap["request"].MatchString(request) {
		return p, &ParamError{Name: "request", Value: request}
	}
	p.Request = canonicalRequests[strings.ToLower(request)]

	if version, ok := first("version"); ok && version != "" {
		if !compREMap["version"].MatchString(version) {
			return p, &ParamError{Name: "version", Value: version}
		}
		p.Version = version
	}
	p.AcceptVersions, _ = first("acceptversions")

	if id, ok := first("identifier"); ok {
		if !compREMap["identifier"].MatchString(id) {
			return p, &ParamError{Name: "identifier", Value: id}
		}
		p.Identifier = id
	}

	for _, b := range []struct {
		key string
		dst *bool
	}{
		{"storeexecuteresponse", &p.StoreExecuteResponse},
		{"status", &p.Status},
		{"lineage", &p.Lineage},
	} {
		if v, ok := first(b.key); ok && v != "" {
			if !compREMap["bool"].MatchString(v) {
				return p, &ParamError{Name: b.key, Value: v}
			}
			*b.dst = strings.EqualFold(v, "true")
		}
	}

	if id, ok := first("executionid"); ok {
		if !compREMap["executionid"].MatchString(id) {
			return p, &ParamError{Name: "executionId", Value: id}
		}
		p.ExecutionID = id
	}

	p.DataInputs, _ = first("datainputs")
	p.RawDataOutput, _ = first("rawdataoutput")
	p.ResponseDocument, _ = first("responsedocument")
	p.OutputID, _ = first("outputid")
	p.Language, _ = first("language")
	return p, nil
}
