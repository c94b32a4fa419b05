package metrics

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

type captureLogger struct {
	records []*RequestData
}

func (l *captureLogger) Log(info *RequestData) {
	l.records = append(l.records, info)
}

func TestParseFilter(t *testing.T) {
	f, err := ParseFilter("responsestatus:in:200,404")
	if err != nil {
		t.Fatal(err)
	}
	if f.Field != "ResponseStatus" || f.Op != OpIN || f.Value != "200,404" {
		t.Errorf("unexpected filter %+v", f)
	}

	for _, bad := range []string{"status", "nosuch:EQ:1", "status:ABOUT:x", "body:EQ:x"} {
		if _, err := ParseFilter(bad); err == nil {
			t.Errorf("expected error for '%s'", bad)
		}
	}
}

func TestFilterMatch(t *testing.T) {
	r := &RequestData{
		Status:         StatusFinished,
		Path:           "/rest/workspaces",
		ResponseStatus: 404,
		Resources:      []string{"topp:states"},
		StartTime:      time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	cases := []struct {
		filter string
		match  bool
	}{
		{"status:EQ:FINISHED", true},
		{"status:NEQ:FINISHED", false},
		{"responseStatus:GTE:400", true},
		{"responseStatus:LT:400", false},
		{"responseStatus:IN:200,404", true},
		{"path:LIKE:/REST/%", true},
		{"path:LIKE:/ows%", false},
		{"resources:EQ:topp:states", true},
		{"startTime:GT:2020-01-01T00:00:00Z", true},
	}
	for _, c := range cases {
		f, err := ParseFilter(c.filter)
		if err != nil {
			t.Fatalf("%s: %v", c.filter, err)
		}
		if got := f.Match(r); got != c.match {
			t.Errorf("%s: expected %v, got %v", c.filter, c.match, got)
		}
	}
}

func TestMemoryDAO(t *testing.T) {
	dao := NewMemoryDAO(3)
	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		dao.Add(&RequestData{
			ID:             fmt.Sprintf("r%d", i),
			Status:         StatusFinished,
			StartTime:      base.Add(time.Duration(i) * time.Second),
			ResponseStatus: 200 + i,
		})
	}
	ctx := context.Background()

	if _, err := dao.Get(ctx, "r0"); err != ErrNotFound {
		t.Errorf("expected r0 to be evicted, got %v", err)
	}
	all, _ := dao.Query(ctx, RequestQuery{})
	if len(all) != 3 || all[0].ID != "r4" || all[2].ID != "r2" {
		t.Fatalf("expected newest first r4..r2, got %v", ids(all))
	}

	asc, _ := dao.Query(ctx, RequestQuery{SortBy: "responseStatus", Ascending: true, Offset: 1, Count: 1})
	if len(asc) != 1 || asc[0].ID != "r3" {
		t.Errorf("expected r3, got %v", ids(asc))
	}

	n, _ := dao.Count(ctx, RequestQuery{Count: 1, Filters: []Filter{{Field: "ResponseStatus", Op: OpGT, Value: "202"}}})
	if n != 2 {
		t.Errorf("expected count 2, got %d", n)
	}

	dao.Update(&RequestData{ID: "r3", Status: StatusFailed, StartTime: base})
	r, err := dao.Get(ctx, "r3")
	if err != nil || r.Status != StatusFailed {
		t.Errorf("update not applied: %v %v", r, err)
	}
	dao.Update(&RequestData{ID: "r0", Status: StatusFailed})
	if _, err := dao.Get(ctx, "r0"); err != ErrNotFound {
		t.Errorf("update must not resurrect evicted records")
	}
}

func ids(rs []*RequestData) []string {
	var out []string
	for _, r := range rs {
		out = append(out, r.ID)
	}
	return out
}

func TestQuerySQL(t *testing.T) {
	q := RequestQuery{
		From: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		Filters: []Filter{
			{Field: "Status", Op: OpEQ, Value: StatusFailed},
			{Field: "ResponseStatus", Op: OpIN, Value: "500,503"},
			{Field: "Path", Op: OpLIKE, Value: "/wps%"},
			{Field: "Resources", Op: OpEQ, Value: "topp:states"},
		},
		SortBy: "totalTime",
		Offset: 10,
		Count:  5,
	}
	stmt, args, err := QuerySQL(q, false)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{
		"start_time >= $1",
		"status = $2",
		"response_status = ANY($3)",
		"path::text ILIKE $4",
		"$5 = ANY(resources)",
		"ORDER BY total_time DESC LIMIT $6 OFFSET $7",
	}
	for _, w := range want {
		if !strings.Contains(stmt, w) {
			t.Errorf("statement missing '%s': %s", w, stmt)
		}
	}
	if len(args) != 7 {
		t.Errorf("expected 7 args, got %d", len(args))
	}

	stmt, args, err = QuerySQL(RequestQuery{Count: 5}, true)
	if err != nil {
		t.Fatal(err)
	}
	if stmt != "SELECT count(*) FROM request_data" || len(args) != 0 {
		t.Errorf("unexpected count statement %s %v", stmt, args)
	}

	if _, _, err := QuerySQL(RequestQuery{Filters: []Filter{{Field: "ResponseStatus", Op: OpEQ, Value: "abc"}}}, false); err == nil {
		t.Errorf("expected error for non-numeric status")
	}
}

func TestMonitorRecordsRequest(t *testing.T) {
	dao := NewMemoryDAO(10)
	logger := &captureLogger{}
	m := &Monitor{Logger: logger, DAO: dao, MaxBodySize: 8}

	var seen string
	h := m.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c := FromContext(r.Context())
		if c == nil {
			t.Fatal("collector missing from context")
		}
		c.AddResource("topp:states")
		body, _ := io.ReadAll(r.Body)
		seen = string(body)
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("missing"))
	}))

	req := httptest.NewRequest("POST", "/rest/workspaces?x=1", strings.NewReader("a long request body"))
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if seen != "a long request body" {
		t.Errorf("handler saw truncated body '%s'", seen)
	}
	if len(logger.records) != 1 {
		t.Fatalf("expected one log record, got %d", len(logger.records))
	}
	r := logger.records[0]
	if r.Status != StatusFailed || r.ResponseStatus != 404 || r.ResponseLength != 7 {
		t.Errorf("unexpected record %+v", r)
	}
	if r.Category != CategoryREST || r.QueryString != "x=1" || string(r.Body) != "a long r" {
		t.Errorf("unexpected request fields %+v", r)
	}
	if len(r.Resources) != 1 || r.Resources[0] != "topp:states" {
		t.Errorf("unexpected resources %v", r.Resources)
	}
	if rec.Header().Get("X-Request-Id") != r.ID {
		t.Errorf("request id header mismatch")
	}
	stored, err := dao.Get(context.Background(), r.ID)
	if err != nil || stored.Status != StatusFailed {
		t.Errorf("record not stored: %v %v", stored, err)
	}
}

func TestRecover(t *testing.T) {
	h := Recover(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}
}

func TestRateLimit(t *testing.T) {
	h := RateLimit(NewLimiter(0.001, 1), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("first request should pass, got %d", rec.Code)
	}
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	if rec.Code != http.StatusTooManyRequests || rec.Header().Get("Retry-After") == "" {
		t.Errorf("expected 429 with Retry-After, got %d", rec.Code)
	}
	if NewLimiter(0, 1) != nil {
		t.Errorf("non-positive rate should disable limiting")
	}
}

func TestDetectOWS(t *testing.T) {
	r := httptest.NewRequest("GET", "/ows?service=wps&version=1.0.0&request=DescribeProcess&identifier=JTS:buffer,gs:Bounds", nil)
	info := DetectOWS(r, nil)
	if info.Service != "WPS" || info.Version != "1.0.0" || info.Request != "DescribeProcess" {
		t.Errorf("unexpected %+v", info)
	}
	if len(info.Resources) != 2 || info.Resources[1] != "gs:Bounds" {
		t.Errorf("unexpected resources %v", info.Resources)
	}

	body := `<?xml version="1.0"?><wps:Execute service="WPS" version="1.0.0" xmlns:wps="http://www.opengis.net/wps/1.0.0" xmlns:ows="http://www.opengis.net/ows/1.1"><ows:Identifier>JTS:area</ows:Identifier><wps:DataInputs>`
	r = httptest.NewRequest("POST", "/wps", strings.NewReader(body))
	info = DetectOWS(r, []byte(body))
	if info.Service != "WPS" || info.Request != "Execute" || len(info.Resources) != 1 || info.Resources[0] != "JTS:area" {
		t.Errorf("unexpected %+v", info)
	}

	if info := DetectOWS(httptest.NewRequest("GET", "/rest/layers?request=x", nil), nil); info.Request != "" {
		t.Errorf("REST requests are not OWS: %+v", info)
	}
}
