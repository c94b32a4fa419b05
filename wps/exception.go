package wps

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/nci/geoserve/utils"
)

// OWS exception codes.
const (
	MissingParameterValue    = "MissingParameterValue"
	InvalidParameterValue    = "InvalidParameterValue"
	NoApplicableCode         = "NoApplicableCode"
	OperationNotSupported    = "OperationNotSupported"
	VersionNegotiationFailed = "VersionNegotiationFailed"
	ServerBusy               = "ServerBusy"
	NoSuchProcess            = "NoSuchProcess"
)

// Exception is reported to clients as an OWS ExceptionReport.
type Exception struct {
	Code    string
	Locator string
	Text    string
}

func (e *Exception) Error() string {
	if e.Locator != "" {
		return fmt.Sprintf("%s (%s): %s", e.Code, e.Locator, e.Text)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Text)
}

// HTTPStatus returns the status an exception report is served with.
func (e *Exception) HTTPStatus() int {
	switch e.Code {
	case ServerBusy:
		return http.StatusServiceUnavailable
	case NoApplicableCode:
		return http.StatusInternalServerError
	}
	return http.StatusBadRequest
}

func Errorf(code, locator, format string, args ...interface{}) *Exception {
	return &Exception{Code: code, Locator: locator, Text: fmt.Sprintf(format, args...)}
}

func InvalidParam(locator, format string, args ...interface{}) *Exception {
	return Errorf(InvalidParameterValue, locator, format, args...)
}

func MissingParam(locator string) *Exception {
	return Errorf(MissingParameterValue, locator, "missing parameter %s", locator)
}

// AsException converts any error into an exception. KVP parameter errors
// keep their parameter as locator; other errors become NoApplicableCode.
func AsException(err error) *Exception {
	var e *Exception
	if errors.As(err, &e) {
		return e
	}
	var pe *utils.ParamError
	if errors.As(err, &pe) {
		switch {
		case pe.Missing:
			return &Exception{Code: MissingParameterValue, Locator: pe.Name, Text: pe.Error()}
		case pe.Name == "version":
			return &Exception{Code: VersionNegotiationFailed, Locator: pe.Name, Text: pe.Error()}
		}
		return &Exception{Code: InvalidParameterValue, Locator: pe.Name, Text: pe.Error()}
	}
	return &Exception{Code: NoApplicableCode, Text: err.Error()}
}
