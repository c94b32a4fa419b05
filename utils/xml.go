package utils

import (
	"bytes"
	"encoding/xml"
	"io"
	"strings"

	"golang.org/x/net/html/charset"
)

// NewXMLDecoder returns a decoder that understands the encodings declared
// in XML prologs, e.g. ISO-8859-1 request bodies.
func NewXMLDecoder(r io.Reader) *xml.Decoder {
	d := xml.NewDecoder(r)
	d.CharsetReader = charset.NewReaderLabel
	return d
}

func UnmarshalXML(body []byte, v interface{}) error {
	return NewXMLDecoder(bytes.NewReader(body)).Decode(v)
}

// RootElement returns the local name of the first element in body.
func RootElement(body []byte) (string, error) {
	d := NewXMLDecoder(bytes.NewReader(body))
	for {
		tok, err := d.Token()
		if err != nil {
			return "", err
		}
		if se, ok := tok.(xml.StartElement); ok {
			return se.Name.Local, nil
		}
	}
}

// IsXMLContent reports whether a Content-Type header denotes XML.
func IsXMLContent(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "xml")
}

// EscapeXML escapes text for inclusion in element content.
func EscapeXML(s string) string {
	var buf bytes.Buffer
	xml.EscapeText(&buf, []byte(s))
	return buf.String()
}
