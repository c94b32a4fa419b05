package utils

import (
	"net/url"
	"strconv"
	"strings"
)

// rawValueKeys hold WKT or GeoJSON whose literal '+' signs must survive
// decoding.
var rawValueKeys = map[string]bool{
	"datainputs":       true,
	"responsedocument": true,
	"rawdataoutput":    true,
}

// percentDecode resolves %XX escapes and leaves everything else, including
// '+' and malformed escapes, as it is.
func percentDecode(s string) string {
	if !strings.Contains(s, "%") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '%' && i+2 < len(s) {
			if v, err := strconv.ParseUint(s[i+1:i+3], 16, 8); err == nil {
				b.WriteByte(byte(v))
				i += 2
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// nextParam cuts the query at the first '&' not preceded by a backslash.
func nextParam(query string) (param, rest string) {
	for i := 0; i < len(query); i++ {
		if query[i] == '&' && (i == 0 || query[i-1] != '\\') {
			return query[:i], query[i+1:]
		}
	}
	return query, ""
}

// ParseQuery splits a KVP query string into lower case keys. An escaped
// '\&' does not separate parameters and semicolons are kept in values.
func ParseQuery(query string) (url.Values, error) {
	m := make(url.Values)
	var firstErr error
	for query != "" {
		var param string
		param, query = nextParam(query)
		if param == "" {
			continue
		}
		key, value, _ := strings.Cut(param, "=")
		value = strings.ReplaceAll(value, `\&`, "&")
		key, err := url.QueryUnescape(key)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		key = strings.ToLower(key)
		if rawValueKeys[key] {
			value = percentDecode(value)
		} else if value, err = url.QueryUnescape(value); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		m[key] = append(m[key], value)
	}
	return m, firstErr
}
