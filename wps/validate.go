package wps

import (
	"strconv"
	"strings"
)

// Validate checks an Execute request against the process description.
func Validate(desc ProcessDescriptor, req *ExecuteRequest) error {
	counts := map[string]int{}
	for _, in := range req.Inputs {
		d, ok := desc.Input(in.Identifier)
		if !ok {
			return InvalidParam(in.Identifier, "unknown input %s for process %s", in.Identifier, desc.Identifier)
		}
		counts[in.Identifier]++
		max := d.MaxOccurs
		if max <= 0 {
			max = 1
		}
		if counts[in.Identifier] > max {
			return InvalidParam(in.Identifier, "input %s accepts at most %d values", in.Identifier, max)
		}
		if err := validateValue(d, in); err != nil {
			return err
		}
	}
	for _, d := range desc.Inputs {
		if counts[d.Identifier] < d.MinOccurs {
			if d.Literal != nil && d.Literal.Default != "" {
				continue
			}
			return MissingParam(d.Identifier)
		}
	}

	outputs := req.Outputs
	if req.RawOutput != nil {
		outputs = []OutputRequest{*req.RawOutput}
	}
	for _, o := range outputs {
		d, ok := desc.Output(o.Identifier)
		if !ok {
			return InvalidParam(o.Identifier, "unknown output %s for process %s", o.Identifier, desc.Identifier)
		}
		if o.MimeType != "" && d.Complex != nil && !d.Complex.Supports(o.MimeType) {
			return InvalidParam(o.Identifier, "output %s does not support mime type %s", o.Identifier, o.MimeType)
		}
	}
	return nil
}

func validateValue(d *InputDescriptor, in InputValue) error {
	mime := in.Data.MimeType
	if in.Reference != nil {
		mime = in.Reference.MimeType
	}
	if d.Complex != nil {
		if mime != "" && !d.Complex.Supports(mime) {
			return InvalidParam(in.Identifier, "input %s does not support mime type %s", in.Identifier, mime)
		}
		return nil
	}
	if in.Reference != nil {
		return InvalidParam(in.Identifier, "input %s does not accept references", in.Identifier)
	}
	if d.BoundingBox {
		_, _, err := ParseBoundingBox(in.Identifier, string(in.Data.Value))
		return err
	}
	if d.Literal == nil {
		return nil
	}

	values := []string{strings.TrimSpace(string(in.Data.Value))}
	if d.MaxOccurs > 1 && strings.Contains(values[0], ",") {
		values = strings.Split(values[0], ",")
	}
	for _, v := range values {
		if err := validateLiteral(d, in.Identifier, strings.TrimSpace(v)); err != nil {
			return err
		}
	}
	return nil
}

func validateLiteral(d *InputDescriptor, id, value string) error {
	if len(d.Literal.Allowed) > 0 {
		found := false
		for _, a := range d.Literal.Allowed {
			if strings.EqualFold(a, value) {
				found = true
				break
			}
		}
		if !found {
			return InvalidParam(id, "%s is not an allowed value for %s, expected one of %s",
				value, id, strings.Join(d.Literal.Allowed, ", "))
		}
	}
	var err error
	switch d.Literal.Type {
	case LiteralInteger:
		_, err = strconv.Atoi(value)
	case LiteralDouble:
		_, err = strconv.ParseFloat(value, 64)
	case LiteralBoolean:
		_, err = strconv.ParseBool(value)
	}
	if err != nil {
		return InvalidParam(id, "%s is not a valid %s", value, d.Literal.Type)
	}
	return nil
}
