package process

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nci/geoserve/raster"
	"github.com/nci/geoserve/utils"
	"github.com/nci/geoserve/wps"
)

var statNames = []string{"count", "min", "max", "sum", "avg", "stddev"}

func statValue(s raster.Stats, name string) float64 {
	switch name {
	case "count":
		return float64(s.Count)
	case "min":
		return s.Min
	case "max":
		return s.Max
	case "sum":
		return s.Sum
	case "avg":
		return s.Avg
	case "stddev":
		return s.StdDev
	}
	return 0
}

// requestedStats returns the lower cased statistics listed in id, all of
// them when none is given.
func requestedStats(in *wps.Inputs, id string) ([]string, error) {
	names := in.Strings(id)
	if len(names) == 0 {
		return statNames, nil
	}
	var out []string
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		ok := false
		for _, s := range statNames {
			if s == n {
				ok = true
				break
			}
		}
		if !ok {
			return nil, wps.InvalidParam(id, "unknown statistic %s, expected one of %s", n, strings.Join(statNames, ", "))
		}
		out = append(out, n)
	}
	return out, nil
}

func statsInput(id string) wps.InputDescriptor {
	return many(choice(id, "Statistics to compute", "", 0, statNames...), 0)
}

func methodInput() wps.InputDescriptor {
	return choice("method", "Classification method", raster.EqualInterval, 0, raster.EqualInterval, raster.Quantile, raster.NaturalBreaks)
}

type classResult struct {
	Lower float64
	Upper float64
	Stats raster.Stats
}

// classStats summarises values into classes. It renders as
// <Results><Class lowerBound= upperBound= count= .../></Results> or the
// matching JSON.
type classStats struct {
	Stats   []string
	Classes []classResult
}

func newClassStats(values []float64, classes int, method string, stats []string) (*classStats, error) {
	breaks, err := raster.Breaks(values, classes, method)
	if err != nil {
		return nil, err
	}
	accs := make([]raster.Accumulator, len(breaks)-1)
	for _, v := range values {
		if i := raster.ClassOf(breaks, v); i >= 0 {
			accs[i].Add(v)
		}
	}
	cs := &classStats{Stats: stats}
	for i := range accs {
		cs.Classes = append(cs.Classes, classResult{Lower: breaks[i], Upper: breaks[i+1], Stats: accs[i].Stats()})
	}
	return cs, nil
}

func (cs *classStats) Encode(mime string) (wps.Data, error) {
	if strings.HasPrefix(mime, wps.MimeJSON) {
		var classes []map[string]interface{}
		for _, c := range cs.Classes {
			m := map[string]interface{}{"lowerBound": c.Lower, "upperBound": c.Upper}
			for _, s := range cs.Stats {
				m[s] = statValue(c.Stats, s)
			}
			classes = append(classes, m)
		}
		body, err := json.Marshal(map[string]interface{}{"classes": classes})
		return wps.Data{MimeType: wps.MimeJSON, Value: body}, err
	}
	var b strings.Builder
	b.WriteString("<Results>")
	for _, c := range cs.Classes {
		fmt.Fprintf(&b, `<Class lowerBound="%v" upperBound="%v"`, c.Lower, c.Upper)
		for _, s := range cs.Stats {
			fmt.Fprintf(&b, ` %s="%v"`, s, statValue(c.Stats, s))
		}
		b.WriteString("/>")
	}
	b.WriteString("</Results>")
	return wps.Data{MimeType: wps.MimeXML, Value: []byte(b.String())}, nil
}

// aggregateResult is the output of gs:Aggregate. Rows hold the group by
// values followed by one value per function.
type aggregateResult struct {
	Attribute string
	Functions []string
	GroupBy   []string
	Rows      [][]interface{}
}

func (a *aggregateResult) Encode(mime string) (wps.Data, error) {
	if strings.HasPrefix(mime, wps.MimeJSON) {
		groupBy := a.GroupBy
		if groupBy == nil {
			groupBy = []string{}
		}
		body, err := json.Marshal(map[string]interface{}{
			"AggregationAttribute": a.Attribute,
			"AggregationFunctions": a.Functions,
			"GroupByAttributes":    groupBy,
			"AggregationResults":   a.Rows,
		})
		return wps.Data{MimeType: wps.MimeJSON, Value: body}, err
	}
	var b strings.Builder
	b.WriteString("<AggregationResults>")
	if len(a.GroupBy) == 0 {
		if len(a.Rows) > 0 {
			for i, f := range a.Functions {
				fmt.Fprintf(&b, "<%s>%s</%s>", f, xmlValue(a.Rows[0][i]), f)
			}
		}
	} else {
		for _, row := range a.Rows {
			b.WriteString("<GroupByResult><object-array>")
			for _, v := range row {
				tag := "double"
				switch v.(type) {
				case nil:
					b.WriteString("<null/>")
					continue
				case string:
					tag = "string"
				case int:
					tag = "int"
				}
				fmt.Fprintf(&b, "<%s>%s</%s>", tag, xmlValue(v), tag)
			}
			b.WriteString("</object-array></GroupByResult>")
		}
	}
	b.WriteString("</AggregationResults>")
	return wps.Data{MimeType: wps.MimeXML, Value: []byte(b.String())}, nil
}

func xmlValue(v interface{}) string {
	if v == nil {
		return ""
	}
	return utils.EscapeXML(fmt.Sprint(v))
}
