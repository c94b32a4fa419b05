package wps

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nci/geoserve/utils"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type funcProcess struct {
	desc ProcessDescriptor
	fn   func(ctx context.Context, in *Inputs, progress *Progress) (Outputs, error)
}

func (p *funcProcess) Describe() ProcessDescriptor { return p.desc }

func (p *funcProcess) Execute(ctx context.Context, in *Inputs, progress *Progress) (Outputs, error) {
	return p.fn(ctx, in, progress)
}

func echoProcess(calls *int32) *funcProcess {
	return &funcProcess{
		desc: ProcessDescriptor{
			Identifier: "test:echo",
			Title:      "Echo",
			Inputs: []InputDescriptor{
				{Identifier: "text", MinOccurs: 1, MaxOccurs: 1, Literal: &LiteralDesc{Type: LiteralString}},
				{Identifier: "times", MinOccurs: 1, MaxOccurs: 1, Literal: &LiteralDesc{Type: LiteralInteger, Default: "1"}},
				{Identifier: "mode", MinOccurs: 0, MaxOccurs: 1, Literal: &LiteralDesc{Type: LiteralString, Allowed: []string{"upper", "lower"}}},
			},
			Outputs: []OutputDescriptor{
				{Identifier: "result", Literal: &LiteralDesc{Type: LiteralString}},
			},
		},
		fn: func(ctx context.Context, in *Inputs, progress *Progress) (Outputs, error) {
			if calls != nil {
				atomic.AddInt32(calls, 1)
			}
			n, err := in.Int("times", 1)
			if err != nil {
				return nil, err
			}
			s := strings.Repeat(in.String("text", ""), n)
			if in.String("mode", "") == "upper" {
				s = strings.ToUpper(s)
			}
			return Outputs{"result": s}, nil
		},
	}
}

type blocker struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func newBlocker() *blocker {
	return &blocker{started: make(chan struct{}), release: make(chan struct{})}
}

func (b *blocker) process() *funcProcess {
	return &funcProcess{
		desc: ProcessDescriptor{
			Identifier: "test:block",
			Outputs:    []OutputDescriptor{{Identifier: "result", Literal: &LiteralDesc{Type: LiteralString}}},
		},
		fn: func(ctx context.Context, in *Inputs, progress *Progress) (Outputs, error) {
			progress.Update(40)
			b.once.Do(func() { close(b.started) })
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-b.release:
				return Outputs{"result": "done"}, nil
			}
		},
	}
}

func bboxProcess() *funcProcess {
	return &funcProcess{
		desc: ProcessDescriptor{
			Identifier: "test:bounds",
			Inputs: []InputDescriptor{
				{Identifier: "geom", MinOccurs: 1, MaxOccurs: 1, Complex: &ComplexDesc{Formats: GeometryFormats}},
			},
			Outputs: []OutputDescriptor{{Identifier: "bounds", BoundingBox: true}},
		},
		fn: func(ctx context.Context, in *Inputs, progress *Progress) (Outputs, error) {
			g, err := in.Geometry("geom")
			if err != nil {
				return nil, err
			}
			return Outputs{"bounds": BoundingBox{Bound: g.Bound(), CRS: "EPSG:4326"}}, nil
		},
	}
}

func panicProcess() *funcProcess {
	return &funcProcess{
		desc: ProcessDescriptor{Identifier: "test:panic", Outputs: []OutputDescriptor{{Identifier: "result"}}},
		fn: func(ctx context.Context, in *Inputs, progress *Progress) (Outputs, error) {
			panic("boom")
		},
	}
}

func newManager(t *testing.T, cfg utils.WPSConfig, remote RemoteExecutor, cache Cache, procs ...Process) *ExecutionManager {
	reg := NewRegistry()
	for _, p := range procs {
		reg.Register(p)
	}
	m := NewExecutionManager(reg, cfg, remote, cache)
	t.Cleanup(m.Close)
	return m
}

func waitStatus(t *testing.T, m *ExecutionManager, id string, want ExecutionStatus) *Execution {
	deadline := time.Now().Add(5 * time.Second)
	for {
		exec, err := m.Status(id)
		require.NoError(t, err)
		if exec.Status == want {
			return exec
		}
		if time.Now().After(deadline) {
			t.Fatalf("execution %s is %s, want %s", id, exec.Status, want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func echoRequest(text string) *ExecuteRequest {
	return &ExecuteRequest{
		Identifier: "TEST:ECHO",
		Inputs:     []InputValue{{Identifier: "text", Data: Data{Value: []byte(text)}}},
	}
}

func TestParseExecuteKVP(t *testing.T) {
	req, err := ParseExecuteKVP(utils.WPSParams{
		Identifier:    "JTS:buffer",
		DataInputs:    "geom=POINT(0 0)@mimeType=application/wkt;distance=10;ref=@xlink:href=http://example.com/a.json@method=post",
		RawDataOutput: "result@mimeType=application/json",
	})
	require.NoError(t, err)
	assert.Equal(t, "JTS:buffer", req.Identifier)
	require.Len(t, req.Inputs, 3)
	assert.Equal(t, "geom", req.Inputs[0].Identifier)
	assert.Equal(t, "POINT(0 0)", string(req.Inputs[0].Data.Value))
	assert.Equal(t, MimeWKT, req.Inputs[0].Data.MimeType)
	assert.Equal(t, "10", string(req.Inputs[1].Data.Value))
	require.NotNil(t, req.Inputs[2].Reference)
	assert.Equal(t, "http://example.com/a.json", req.Inputs[2].Reference.Href)
	assert.Equal(t, "POST", req.Inputs[2].Reference.Method)
	require.NotNil(t, req.RawOutput)
	assert.Equal(t, "result", req.RawOutput.Identifier)
	assert.Equal(t, MimeJSON, req.RawOutput.MimeType)
	assert.False(t, req.Async())

	_, err = ParseExecuteKVP(utils.WPSParams{})
	assert.Equal(t, MissingParameterValue, AsException(err).Code)

	_, err = ParseExecuteKVP(utils.WPSParams{Identifier: "a", DataInputs: "novalue"})
	assert.Equal(t, InvalidParameterValue, AsException(err).Code)
}

const executeXML = `<?xml version="1.0" encoding="UTF-8"?>
<wps:Execute version="1.0.0" service="WPS" xmlns:wps="http://www.opengis.net/wps/1.0.0" xmlns:ows="http://www.opengis.net/ows/1.1" xmlns:xlink="http://www.w3.org/1999/xlink">
  <ows:Identifier>gs:Bounds</ows:Identifier>
  <wps:DataInputs>
    <wps:Input>
      <ows:Identifier>features</ows:Identifier>
      <wps:Data>
        <wps:ComplexData mimeType="application/json"><![CDATA[{"type":"Point","coordinates":[1,2]}]]></wps:ComplexData>
      </wps:Data>
    </wps:Input>
    <wps:Input>
      <ows:Identifier>clip</ows:Identifier>
      <wps:Data>
        <wps:BoundingBoxData crs="EPSG:4326">
          <ows:LowerCorner>0 0</ows:LowerCorner>
          <ows:UpperCorner>10 20</ows:UpperCorner>
        </wps:BoundingBoxData>
      </wps:Data>
    </wps:Input>
    <wps:Input>
      <ows:Identifier>data</ows:Identifier>
      <wps:Reference xlink:href="http://geoserver/wfs" method="POST" mimeType="application/json">
        <wps:Body><wfs:GetFeature service="WFS" version="1.0.0" xmlns:wfs="http://www.opengis.net/wfs"><wfs:Query typeName="topp:states"/></wfs:GetFeature></wps:Body>
      </wps:Reference>
    </wps:Input>
    <wps:Input>
      <ows:Identifier>distance</ows:Identifier>
      <wps:Data><wps:LiteralData> 2.5 </wps:LiteralData></wps:Data>
    </wps:Input>
  </wps:DataInputs>
  <wps:ResponseForm>
    <wps:ResponseDocument storeExecuteResponse="true" status="true" lineage="true">
      <wps:Output asReference="true" mimeType="text/xml">
        <ows:Identifier>bounds</ows:Identifier>
      </wps:Output>
    </wps:ResponseDocument>
  </wps:ResponseForm>
</wps:Execute>`

func TestParseXMLExecute(t *testing.T) {
	params, req, err := ParseXMLRequest([]byte(executeXML))
	require.NoError(t, err)
	assert.Equal(t, "Execute", params.Request)
	assert.Equal(t, "WPS", params.Service)
	assert.Equal(t, "1.0.0", params.Version)
	require.NotNil(t, req)
	assert.Equal(t, "gs:Bounds", req.Identifier)
	require.Len(t, req.Inputs, 4)

	assert.Equal(t, `{"type":"Point","coordinates":[1,2]}`, string(req.Inputs[0].Data.Value))
	assert.Equal(t, MimeJSON, req.Inputs[0].Data.MimeType)
	assert.Equal(t, "0,0,10,20,EPSG:4326", string(req.Inputs[1].Data.Value))

	ref := req.Inputs[2].Reference
	require.NotNil(t, ref)
	assert.Equal(t, "http://geoserver/wfs", ref.Href)
	assert.Equal(t, "POST", ref.Method)
	assert.Contains(t, string(ref.Body), `typeName="topp:states"`)

	assert.Equal(t, "2.5", string(req.Inputs[3].Data.Value))

	assert.True(t, req.StoreExecuteResponse)
	assert.True(t, req.Lineage)
	assert.True(t, req.Async())
	require.Len(t, req.Outputs, 1)
	assert.Equal(t, OutputRequest{Identifier: "bounds", MimeType: MimeXML, AsReference: true}, req.Outputs[0])
}

func TestParseXMLRequestOperations(t *testing.T) {
	params, req, err := ParseXMLRequest([]byte(`<wps:DescribeProcess service="WPS" version="1.0.0" xmlns:wps="http://www.opengis.net/wps/1.0.0" xmlns:ows="http://www.opengis.net/ows/1.1"><ows:Identifier>JTS:buffer</ows:Identifier><ows:Identifier>gs:Bounds</ows:Identifier></wps:DescribeProcess>`))
	require.NoError(t, err)
	assert.Nil(t, req)
	assert.Equal(t, "DescribeProcess", params.Request)
	assert.Equal(t, "JTS:buffer,gs:Bounds", params.Identifier)

	_, _, err = ParseXMLRequest([]byte(`<wps:DescribeProcess service="WPS" xmlns:wps="http://www.opengis.net/wps/1.0.0"/>`))
	assert.Equal(t, MissingParameterValue, AsException(err).Code)

	_, _, err = ParseXMLRequest([]byte(`<GetMap/>`))
	assert.Equal(t, OperationNotSupported, AsException(err).Code)

	_, _, err = ParseXMLRequest([]byte(`not xml`))
	assert.Equal(t, InvalidParameterValue, AsException(err).Code)
}

func TestValidate(t *testing.T) {
	desc := echoProcess(nil).Describe()
	lit := func(id, v string) InputValue { return InputValue{Identifier: id, Data: Data{Value: []byte(v)}} }

	tests := []struct {
		name    string
		inputs  []InputValue
		outputs []OutputRequest
		code    string
		locator string
	}{
		{name: "ok", inputs: []InputValue{lit("text", "a")}},
		{name: "default applies", inputs: []InputValue{lit("text", "a"), lit("mode", "UPPER")}},
		{name: "missing", inputs: nil, code: MissingParameterValue, locator: "text"},
		{name: "unknown input", inputs: []InputValue{lit("text", "a"), lit("foo", "1")}, code: InvalidParameterValue, locator: "foo"},
		{name: "too many", inputs: []InputValue{lit("text", "a"), lit("text", "b")}, code: InvalidParameterValue, locator: "text"},
		{name: "not an integer", inputs: []InputValue{lit("text", "a"), lit("times", "x")}, code: InvalidParameterValue, locator: "times"},
		{name: "not allowed", inputs: []InputValue{lit("text", "a"), lit("mode", "sideways")}, code: InvalidParameterValue, locator: "mode"},
		{name: "literal reference", inputs: []InputValue{{Identifier: "text", Reference: &Reference{Href: "http://x"}}}, code: InvalidParameterValue, locator: "text"},
		{name: "unknown output", inputs: []InputValue{lit("text", "a")}, outputs: []OutputRequest{{Identifier: "nope"}}, code: InvalidParameterValue, locator: "nope"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(desc, &ExecuteRequest{Identifier: desc.Identifier, Inputs: tc.inputs, Outputs: tc.outputs})
			if tc.code == "" {
				assert.NoError(t, err)
				return
			}
			e := AsException(err)
			assert.Equal(t, tc.code, e.Code)
			assert.Equal(t, tc.locator, e.Locator)
		})
	}

	bounds := bboxProcess().Describe()
	err := Validate(bounds, &ExecuteRequest{Inputs: []InputValue{{Identifier: "geom", Data: Data{MimeType: "image/png", Value: []byte("x")}}}})
	assert.Equal(t, InvalidParameterValue, AsException(err).Code)
	err = Validate(bounds, &ExecuteRequest{
		Inputs:    []InputValue{{Identifier: "geom", Data: Data{MimeType: "application/wkt", Value: []byte("POINT(0 0)")}}},
		RawOutput: &OutputRequest{Identifier: "bounds"},
	})
	assert.NoError(t, err)
}

func TestDecodeGeometry(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  orb.Geometry
	}{
		{"wkt", "POINT(1 2)", orb.Point{1, 2}},
		{"ewkt", "SRID=4326;POINT(1 2)", orb.Point{1, 2}},
		{"geojson geometry", `{"type":"Point","coordinates":[1,2]}`, orb.Point{1, 2}},
		{"geojson feature", `{"type":"Feature","properties":{"a":1},"geometry":{"type":"Point","coordinates":[3,4]}}`, orb.Point{3, 4}},
		{"geojson polygon feature", `{"type":"Feature","properties":{},"geometry":{"type":"Polygon","coordinates":[[[0,0],[2,0],[2,2],[0,0]]]}}`,
			orb.Polygon{{{0, 0}, {2, 0}, {2, 2}, {0, 0}}}},
		{"geometry collection feature", `{"type":"Feature","properties":{},"geometry":{"type":"GeometryCollection","geometries":[{"type":"Point","coordinates":[1,2]},{"type":"Point","coordinates":[3,4]}]}}`,
			orb.Collection{orb.Point{1, 2}, orb.Point{3, 4}}},
		{"single feature collection", `{"type":"FeatureCollection","features":[{"type":"Feature","properties":{},"geometry":{"type":"Point","coordinates":[5,6]}}]}`, orb.Point{5, 6}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			g, err := DecodeGeometry([]byte(tc.input))
			require.NoError(t, err)
			assert.Equal(t, tc.want, g)
		})
	}

	g, err := DecodeGeometry([]byte(`{"type":"FeatureCollection","features":[
		{"type":"Feature","properties":{},"geometry":{"type":"Point","coordinates":[0,0]}},
		{"type":"Feature","properties":{},"geometry":{"type":"Point","coordinates":[1,1]}}]}`))
	require.NoError(t, err)
	assert.Len(t, g.(orb.Collection), 2)

	g, err = DecodeGeometry([]byte(`{"type":"FeatureCollection","features":[
		{"type":"Feature","properties":{},"geometry":{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,0]]]}},
		{"type":"Feature","properties":{},"geometry":{"type":"LineString","coordinates":[[0,0],[3,4]]}}]}`))
	require.NoError(t, err)
	assert.Equal(t, orb.Collection{
		orb.Polygon{{{0, 0}, {1, 0}, {1, 1}, {0, 0}}},
		orb.LineString{{0, 0}, {3, 4}},
	}, g)

	_, err = DecodeGeometry([]byte(`{"type":"Feature","properties":{},"geometry":null}`))
	assert.Error(t, err)
	_, err = DecodeGeometry([]byte("POINT(1"))
	assert.Error(t, err)
	_, err = DecodeGeometry(nil)
	assert.Error(t, err)
}

func TestInputsAccessors(t *testing.T) {
	in := NewInputs()
	in.Add("levels", Data{Value: []byte("1, 2,3")})
	in.Add("n", Data{Value: []byte("7")})
	in.Add("flag", Data{Value: []byte("true")})
	in.Add("bbox", Data{Value: []byte("0,0,10,5,EPSG:3857")})
	in.Add("bad", Data{Value: []byte("x")})

	levels, err := in.Floats("levels")
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3}, levels)

	n, err := in.Int("n", 0)
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	def, err := in.Int("missing", 3)
	require.NoError(t, err)
	assert.Equal(t, 3, def)

	flag, err := in.Bool("flag", false)
	require.NoError(t, err)
	assert.True(t, flag)

	b, crs, err := in.BoundingBox("bbox")
	require.NoError(t, err)
	assert.Equal(t, orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{10, 5}}, b)
	assert.Equal(t, "EPSG:3857", crs)

	_, err = in.Float("bad", 0)
	e := AsException(err)
	assert.Equal(t, InvalidParameterValue, e.Code)
	assert.Equal(t, "bad", e.Locator)

	_, err = in.Geometry("missing")
	assert.Equal(t, MissingParameterValue, AsException(err).Code)

	fc := NewInputs()
	fc.Add("features", Data{Value: []byte("LINESTRING(0 0, 1 1)")})
	features, err := fc.Features("features")
	require.NoError(t, err)
	require.Len(t, features.Features, 1)
	assert.Equal(t, orb.LineString{{0, 0}, {1, 1}}, features.Features[0].Geometry)
}

func TestEncode(t *testing.T) {
	d, err := Encode(orb.Point{1, 2}, "")
	require.NoError(t, err)
	assert.Equal(t, MimeWKT, d.MimeType)
	assert.Equal(t, "POINT(1 2)", string(d.Value))

	d, err = Encode(orb.Point{1, 2}, MimeJSON)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"Point","coordinates":[1,2]}`, string(d.Value))

	d, err = Encode(BoundingBox{Bound: orb.Bound{Min: orb.Point{0, 1}, Max: orb.Point{2, 3}}, CRS: "EPSG:4326"}, "")
	require.NoError(t, err)
	assert.Equal(t, "0,1,2,3,EPSG:4326", string(d.Value))

	d, err = Encode(orb.Bound{Min: orb.Point{0, 1}, Max: orb.Point{2, 3}}, MimeXML)
	require.NoError(t, err)
	assert.Contains(t, string(d.Value), "<ows:LowerCorner>0 1</ows:LowerCorner>")

	d, err = Encode(2.5, "")
	require.NoError(t, err)
	assert.Equal(t, "2.5", string(d.Value))

	d, err = Encode(Document{MimeType: MimeXML, Body: []byte("<a/>")}, "")
	require.NoError(t, err)
	assert.Equal(t, Data{MimeType: MimeXML, Value: []byte("<a/>")}, d)

	d, err = Encode(map[string]int{"a": 1}, "")
	require.NoError(t, err)
	assert.Equal(t, MimeJSON, d.MimeType)

	_, err = Encode(nil, "")
	assert.Error(t, err)
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	reg.Register(echoProcess(nil))
	reg.Register(bboxProcess())
	_, ok := reg.Get("TEST:Echo")
	assert.True(t, ok)
	_, ok = reg.Get("test:nope")
	assert.False(t, ok)
	list := reg.List()
	require.Len(t, list, 2)
	assert.Equal(t, "test:bounds", list[0].Describe().Identifier)
}

func TestRenderDocuments(t *testing.T) {
	r := NewRenderer("", false)
	procs := []Process{echoProcess(nil), bboxProcess()}

	body, err := r.Capabilities("http://localhost/wps", procs)
	require.NoError(t, err)
	caps := string(body)
	assert.Contains(t, caps, "<ows:Identifier>test:echo</ows:Identifier>")
	assert.Contains(t, caps, `<ows:Operation name="Execute">`)
	assert.Contains(t, caps, `xlink:href="http://localhost/wps?"`)

	body, err = r.Describe(procs)
	require.NoError(t, err)
	desc := string(body)
	assert.Contains(t, desc, "<DefaultValue>1</DefaultValue>")
	assert.Contains(t, desc, "<ows:Value>upper</ows:Value>")
	assert.Contains(t, desc, "<MimeType>application/wkt</MimeType>")
	assert.Contains(t, desc, "<BoundingBoxOutput>")

	body, err = r.ExceptionReport(InvalidParam("distance", "bad <value>"))
	require.NoError(t, err)
	assert.Contains(t, string(body), `exceptionCode="InvalidParameterValue"`)
	assert.Contains(t, string(body), `locator="distance"`)
	assert.Contains(t, string(body), "bad &lt;value&gt;")
}

func TestExecuteResponseOutputs(t *testing.T) {
	r := NewRenderer("", false)
	exec := &Execution{
		ID:         "0d9b7b1e-0000-4000-8000-000000000001",
		Descriptor: bboxProcess().Describe(),
		Request: &ExecuteRequest{
			Identifier: "test:bounds",
			Lineage:    true,
			Inputs:     []InputValue{{Identifier: "geom", Data: Data{MimeType: MimeWKT, Value: []byte("POINT(1 2)")}}},
		},
		Status:  StatusSucceeded,
		Created: time.Now(),
		Results: map[string]Data{"bounds": {MimeType: MimeText, Value: []byte("1,2,3,4,EPSG:4326")}},
	}
	body, err := r.ExecuteResponse("http://localhost/wps", exec)
	require.NoError(t, err)
	doc := string(body)
	assert.Contains(t, doc, "<wps:ProcessSucceeded>")
	assert.Contains(t, doc, `crs="EPSG:4326"`)
	assert.Contains(t, doc, "<ows:LowerCorner>1 2</ows:LowerCorner>")
	assert.Contains(t, doc, "<ows:UpperCorner>3 4</ows:UpperCorner>")
	assert.Contains(t, doc, "<wps:DataInputs>")
	assert.NotContains(t, doc, "statusLocation")

	exec.Status, exec.Err = StatusFailed, Errorf(NoApplicableCode, "", "it broke")
	body, err = r.ExecuteResponse("http://localhost/wps", exec)
	require.NoError(t, err)
	assert.Contains(t, string(body), `<ows:Exception exceptionCode="NoApplicableCode">`)
	assert.Contains(t, string(body), "it broke")
}

func TestSubmitSync(t *testing.T) {
	m := newManager(t, utils.WPSConfig{}, nil, nil, echoProcess(nil), panicProcess())

	req := echoRequest("ab")
	req.Inputs = append(req.Inputs, InputValue{Identifier: "times", Data: Data{Value: []byte("3")}})
	exec, err := m.Submit(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, exec.Status)
	assert.Equal(t, "test:echo", exec.Request.Identifier)
	assert.Equal(t, "ababab", string(exec.Results["result"].Value))

	exec, err = m.Submit(context.Background(), echoRequest("x"))
	require.NoError(t, err)
	assert.Equal(t, "x", string(exec.Results["result"].Value))

	_, err = m.Submit(context.Background(), &ExecuteRequest{Identifier: "test:nope"})
	e := AsException(err)
	assert.Equal(t, NoSuchProcess, e.Code)
	assert.Equal(t, "test:nope", e.Locator)

	exec, err = m.Submit(context.Background(), &ExecuteRequest{Identifier: "test:panic"})
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, exec.Status)
	assert.Equal(t, NoApplicableCode, exec.Err.Code)
	assert.Contains(t, exec.Err.Text, "boom")
}

func TestSubmitSyncServerBusy(t *testing.T) {
	b := newBlocker()
	m := newManager(t, utils.WPSConfig{MaxSynchronous: 1}, nil, nil, b.process())

	done := make(chan *Execution)
	go func() {
		exec, _ := m.Submit(context.Background(), &ExecuteRequest{Identifier: "test:block"})
		done <- exec
	}()
	<-b.started

	_, err := m.Submit(context.Background(), &ExecuteRequest{Identifier: "test:block"})
	e := AsException(err)
	assert.Equal(t, ServerBusy, e.Code)
	assert.Equal(t, http.StatusServiceUnavailable, e.HTTPStatus())

	close(b.release)
	exec := <-done
	require.NotNil(t, exec)
	assert.Equal(t, StatusSucceeded, exec.Status)
}

func TestSubmitSyncTimeout(t *testing.T) {
	b := newBlocker()
	m := newManager(t, utils.WPSConfig{MaxExecutionTime: 1}, nil, nil, b.process())
	exec, err := m.Submit(context.Background(), &ExecuteRequest{Identifier: "test:block"})
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, exec.Status)
	assert.Contains(t, exec.Err.Text, "maximum execution time")
}

func TestAsyncLifecycle(t *testing.T) {
	m := newManager(t, utils.WPSConfig{}, nil, nil, echoProcess(nil))

	req := echoRequest("hi")
	req.StoreExecuteResponse = true
	exec, err := m.Submit(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, exec.Status)
	assert.Len(t, exec.ID, 36)

	done := waitStatus(t, m, exec.ID, StatusSucceeded)
	assert.Equal(t, 100, done.Percent)

	d, err := m.Result(exec.ID, "result")
	require.NoError(t, err)
	assert.Equal(t, "hi", string(d.Value))
	d, err = m.Result(exec.ID, "")
	require.NoError(t, err)
	assert.Equal(t, "hi", string(d.Value))
	_, err = m.Result(exec.ID, "other")
	assert.Equal(t, InvalidParameterValue, AsException(err).Code)

	assert.Equal(t, 0, m.expire(time.Now()))
	assert.Equal(t, 1, m.expire(time.Now().Add(3*time.Hour)))
	_, err = m.Status(exec.ID)
	assert.Equal(t, NoApplicableCode, AsException(err).Code)
}

func TestAsyncDismiss(t *testing.T) {
	b := newBlocker()
	m := newManager(t, utils.WPSConfig{MaxAsynchronous: 1}, nil, nil, b.process())

	exec, err := m.Submit(context.Background(), &ExecuteRequest{Identifier: "test:block", StoreExecuteResponse: true})
	require.NoError(t, err)
	<-b.started

	running := waitStatus(t, m, exec.ID, StatusRunning)
	assert.Equal(t, 40, running.Percent)
	_, err = m.Result(exec.ID, "result")
	assert.Error(t, err)

	dismissed, err := m.Dismiss(exec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusDismissed, dismissed.Status)

	_, err = m.Status(exec.ID)
	e := AsException(err)
	assert.Equal(t, NoApplicableCode, e.Code)
	assert.Contains(t, e.Text, "unknown execution")

	_, err = m.Dismiss(exec.ID)
	assert.Error(t, err)
}

func TestAsyncQueueFull(t *testing.T) {
	b := newBlocker()
	m := newManager(t, utils.WPSConfig{MaxAsynchronous: 1, MaxQueued: 1}, nil, nil, b.process())
	defer close(b.release)

	async := func() (*Execution, error) {
		return m.Submit(context.Background(), &ExecuteRequest{Identifier: "test:block", StoreExecuteResponse: true})
	}
	_, err := async()
	require.NoError(t, err)
	<-b.started
	_, err = async()
	require.NoError(t, err)
	_, err = async()
	assert.Equal(t, ServerBusy, AsException(err).Code)
}

type mapCache struct {
	mu     sync.Mutex
	values map[string][]byte
}

func (c *mapCache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[key]
	return v, ok
}

func (c *mapCache) Put(key string, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
	return nil
}

func TestSubmitCache(t *testing.T) {
	var calls int32
	cache := &mapCache{values: map[string][]byte{}}
	m := newManager(t, utils.WPSConfig{}, nil, cache, echoProcess(&calls))

	for i := 0; i < 3; i++ {
		exec, err := m.Submit(context.Background(), echoRequest("cached"))
		require.NoError(t, err)
		assert.Equal(t, "cached", string(exec.Results["result"].Value))
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Len(t, cache.values, 1)

	_, err := m.Submit(context.Background(), echoRequest("other"))
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

type fakeRemote struct {
	calls   int32
	err     error
	results map[string]Data
}

func (f *fakeRemote) Execute(ctx context.Context, req *ExecuteRequest) (map[string]Data, error) {
	atomic.AddInt32(&f.calls, 1)
	return f.results, f.err
}

func TestRemoteExecution(t *testing.T) {
	var calls int32
	remote := &fakeRemote{results: map[string]Data{"result": {MimeType: MimeText, Value: []byte("remote")}}}
	m := newManager(t, utils.WPSConfig{}, remote, nil, echoProcess(&calls))
	exec, err := m.Submit(context.Background(), echoRequest("local"))
	require.NoError(t, err)
	assert.Equal(t, "remote", string(exec.Results["result"].Value))
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))

	remote.err = errors.New("connection refused")
	exec, err = m.Submit(context.Background(), echoRequest("local"))
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, exec.Status)
	assert.Equal(t, "local", string(exec.Results["result"].Value))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	remote.err = InvalidParam("text", "rejected by worker")
	exec, err = m.Submit(context.Background(), echoRequest("local"))
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, exec.Status)
	assert.Equal(t, "text", exec.Err.Locator)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestRemoteLocalOnly(t *testing.T) {
	remote := &fakeRemote{err: errors.New("should not be called")}
	m := newManager(t, utils.WPSConfig{LocalOnly: []string{"TEST:echo"}}, remote, nil, echoProcess(nil))
	exec, err := m.Submit(context.Background(), echoRequest("x"))
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, exec.Status)
	assert.Equal(t, int32(0), atomic.LoadInt32(&remote.calls))
}

func TestEncodeOutputsMissing(t *testing.T) {
	desc := echoProcess(nil).Describe()
	_, err := EncodeOutputs(desc, &ExecuteRequest{RawOutput: &OutputRequest{Identifier: "result"}}, Outputs{})
	assert.Equal(t, NoApplicableCode, AsException(err).Code)

	res, err := EncodeOutputs(desc, &ExecuteRequest{}, Outputs{})
	require.NoError(t, err)
	assert.Empty(t, res)
}

func newTestHandler(t *testing.T, procs ...Process) *Handler {
	m := newManager(t, utils.WPSConfig{}, nil, nil, procs...)
	return NewHandler(m, NewRenderer("", false))
}

func serve(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandlerKVP(t *testing.T) {
	h := newTestHandler(t, echoProcess(nil), bboxProcess())

	rec := serve(h, http.MethodGet, "/wps?service=WPS&request=GetCapabilities", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, MimeXML, rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "test:bounds")
	assert.Contains(t, rec.Body.String(), "http://example.com/wps")

	rec = serve(h, http.MethodGet, "/ows?request=DescribeProcess&version=1.0.0&identifier=ALL", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<ows:Identifier>test:echo</ows:Identifier>")

	rec = serve(h, http.MethodGet, "/wps?service=WPS&version=1.0.0&request=Execute&identifier=test:echo&DataInputs=text=ab;times=2&RawDataOutput=result", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "abab", rec.Body.String())

	rec = serve(h, http.MethodGet, "/wps?service=WPS&version=1.0.0&request=Execute&identifier=test:bounds&DataInputs=geom=LINESTRING(0%201,2%203)", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<ows:UpperCorner>2 3</ows:UpperCorner>")
}

func TestHandlerExceptions(t *testing.T) {
	h := newTestHandler(t, echoProcess(nil))

	tests := []struct {
		name   string
		target string
		status int
		code   string
	}{
		{"unknown process", "/wps?service=WPS&version=1.0.0&request=DescribeProcess&identifier=test:nope", 400, NoSuchProcess},
		{"bad version", "/wps?service=WPS&version=2.0.0&request=GetCapabilities", 400, VersionNegotiationFailed},
		{"accept versions", "/wps?service=WPS&request=GetCapabilities&acceptVersions=0.4.0", 400, VersionNegotiationFailed},
		{"missing version", "/wps?service=WPS&request=Execute&identifier=test:echo", 400, MissingParameterValue},
		{"missing request", "/wps?service=WPS", 400, MissingParameterValue},
		{"wrong service", "/ows?service=WMS&request=GetCapabilities", 400, InvalidParameterValue},
		{"missing input", "/wps?service=WPS&version=1.0.0&request=Execute&identifier=test:echo&DataInputs=times=2", 400, MissingParameterValue},
		{"unknown execution", "/wps?service=WPS&version=1.0.0&request=GetExecutionStatus&executionId=0d9b7b1e-0000-4000-8000-000000000001", 500, NoApplicableCode},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := serve(h, http.MethodGet, tc.target, "")
			assert.Equal(t, tc.status, rec.Code)
			assert.Contains(t, rec.Body.String(), `exceptionCode="`+tc.code+`"`)
		})
	}
}

func TestHandlerAsyncPost(t *testing.T) {
	h := newTestHandler(t, echoProcess(nil))
	body := `<wps:Execute version="1.0.0" service="WPS" xmlns:wps="http://www.opengis.net/wps/1.0.0" xmlns:ows="http://www.opengis.net/ows/1.1">
  <ows:Identifier>test:echo</ows:Identifier>
  <wps:DataInputs>
    <wps:Input><ows:Identifier>text</ows:Identifier><wps:Data><wps:LiteralData>async</wps:LiteralData></wps:Data></wps:Input>
  </wps:DataInputs>
  <wps:ResponseForm>
    <wps:ResponseDocument storeExecuteResponse="true" status="true">
      <wps:Output asReference="true"><ows:Identifier>result</ows:Identifier></wps:Output>
    </wps:ResponseDocument>
  </wps:ResponseForm>
</wps:Execute>`
	rec := serve(h, http.MethodPost, "/wps", body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<wps:ProcessAccepted>")
	assert.Contains(t, rec.Body.String(), "statusLocation=")

	var id string
	h.Manager.mu.Lock()
	for eid := range h.Manager.executions {
		id = eid
	}
	h.Manager.mu.Unlock()
	require.NotEmpty(t, id)
	waitStatus(t, h.Manager, id, StatusSucceeded)

	rec = serve(h, http.MethodGet, "/wps?service=WPS&version=1.0.0&request=GetExecutionStatus&executionId="+id, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<wps:ProcessSucceeded>")
	assert.Contains(t, rec.Body.String(), "request=GetExecutionResult")

	rec = serve(h, http.MethodGet, "/wps?service=WPS&version=1.0.0&request=GetExecutionResult&executionId="+id+"&outputId=result", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "async", rec.Body.String())

	rec = serve(h, http.MethodGet, "/wps?service=WPS&version=1.0.0&request=Dismiss&executionId="+id, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "dismissed")
}
