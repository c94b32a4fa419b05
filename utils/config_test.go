package utils

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigJSON(t *testing.T) {
	dir := t.TempDir()
	hash, err := HashPassword("geoserver")
	if err != nil {
		t.Fatalf("failed to hash password: %v", err)
	}
	doc := `{"service_config": {"hostname": "maps.example.org", "data_dir": "/srv/data"},
		"wps": {"max_synchronous": 3},
		"users": [{"name": "admin", "password": "` + hash + `", "roles": ["ADMIN"]}]}`
	if err := os.WriteFile(filepath.Join(dir, "geoserve.json"), []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}

	config, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if config.ServiceConfig.Hostname != "maps.example.org" || config.ServiceConfig.DataDir != "/srv/data" {
		t.Errorf("unexpected service config: %+v", config.ServiceConfig)
	}
	if config.WPS.MaxSynchronous != 3 || config.WPS.MaxAsynchronous != 4 {
		t.Errorf("defaults not applied: %+v", config.WPS)
	}
	if config.ServiceConfig.CatalogBackend != BackendDataDir || config.Monitor.Storage != StorageMemory {
		t.Errorf("unexpected backends: %v %v", config.ServiceConfig.CatalogBackend, config.Monitor.Storage)
	}
	u := config.FindUser("admin")
	if u == nil || !u.HasRole("admin") {
		t.Errorf("admin user not found: %+v", config.Users)
	}
	if config.BaseURL() != "http://maps.example.org" {
		t.Errorf("unexpected base url: %v", config.BaseURL())
	}
}

func TestLoadConfigYAML(t *testing.T) {
	dir := t.TempDir()
	doc := "service_config:\n  proxy_base_url: https://example.org/geoserve/\nrest:\n  anonymous_read: true\n"
	if err := os.WriteFile(filepath.Join(dir, "geoserve.yaml"), []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}
	config, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if !config.REST.AnonymousRead {
		t.Errorf("anonymous_read not decoded")
	}
	if config.BaseURL() != "https://example.org/geoserve" {
		t.Errorf("unexpected base url: %v", config.BaseURL())
	}
}

func TestConfigValidation(t *testing.T) {
	config := &Config{Users: []User{{Name: "admin", Password: "plain"}}}
	config.ApplyDefaults()
	if config.Validate() == nil {
		t.Errorf("plain text password accepted")
	}

	config = &Config{ServiceConfig: ServiceConfig{CatalogBackend: BackendPostgres}}
	config.ApplyDefaults()
	if config.Validate() == nil {
		t.Errorf("postgres backend without dsn accepted")
	}

	config, err := LoadConfig(t.TempDir())
	if err != nil || config.WPS.MaxQueued != 100 {
		t.Errorf("defaults without a config file failed: %v", err)
	}
}

func TestResolveURL(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "data"), 0755); err != nil {
		t.Fatal(err)
	}
	file := filepath.Join(dir, "data", "roads.geojson")
	if err := os.WriteFile(file, []byte("{}"), 0644); err != nil {
		t.Fatal(err)
	}

	r := NewRuntimeFileResolver(dir)
	for _, u := range []string{"file:data/roads.geojson", "file://" + file, "data/roads.geojson"} {
		p, err := r.ResolveURL(u)
		if err != nil || p != file {
			t.Errorf("ResolveURL(%s) = %v, %v", u, p, err)
		}
	}
	if _, err := r.ResolveURL("http://example.org/roads.geojson"); err == nil {
		t.Errorf("http url resolved as a file")
	}
	if got := r.RelativeURL(file); got != "file:data/roads.geojson" {
		t.Errorf("unexpected relative url: %v", got)
	}
}

func TestParseQuery(t *testing.T) {
	q, err := ParseQuery("SERVICE=WPS&DataInputs=geom=POINT(1e+5 2)@mimeType=text/plain&a=b\\&c")
	if err != nil {
		t.Fatalf("failed to parse query: %v", err)
	}
	if q.Get("service") != "WPS" {
		t.Errorf("keys are not lower cased: %v", q)
	}
	if q.Get("datainputs") != "geom=POINT(1e+5 2)@mimeType=text/plain" {
		t.Errorf("unexpected data inputs: %v", q.Get("datainputs"))
	}
	if q.Get("a") != "b&c" {
		t.Errorf("escaped ampersand split the value: %v", q.Get("a"))
	}
}

func TestParseQueryEscapes(t *testing.T) {
	q, err := ParseQuery("DataInputs=geom=POINT(1%200)%3Bdistance=1e+2%zz&name=a+b%21")
	if err != nil {
		t.Fatalf("failed to parse query: %v", err)
	}
	if q.Get("datainputs") != "geom=POINT(1 0);distance=1e+2%zz" {
		t.Errorf("unexpected data inputs: %v", q.Get("datainputs"))
	}
	if q.Get("name") != "a b!" {
		t.Errorf("unexpected name: %v", q.Get("name"))
	}
	if _, err := ParseQuery("a=%zz"); err == nil {
		t.Errorf("expected an error for a malformed escape")
	}
}

func TestWPSParamsChecker(t *testing.T) {
	re := CompileWPSRegexMap()
	p, err := WPSParamsChecker(map[string][]string{
		"request": {"execute"}, "version": {"1.0.0"}, "identifier": {"JTS:buffer"},
		"storeexecuteresponse": {"TRUE"},
	}, re)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Request != "Execute" || p.Identifier != "JTS:buffer" || !p.StoreExecuteResponse {
		t.Errorf("unexpected params: %+v", p)
	}

	_, err = WPSParamsChecker(map[string][]string{"service": {"WPS"}}, re)
	if pe, ok := err.(*ParamError); !ok || !pe.Missing || pe.Name != "request" {
		t.Errorf("expected missing request, got %v", err)
	}

	_, err = WPSParamsChecker(map[string][]string{"request": {"GetMap"}}, re)
	if pe, ok := err.(*ParamError); !ok || pe.Missing {
		t.Errorf("expected invalid request, got %v", err)
	}
}

func TestTemplates(t *testing.T) {
	tmpl := NewTemplates("", map[string]string{
		"hello.jet": `<p>{{ greeting }} {{ .Name }}</p>`,
	}, false)
	out, err := tmpl.Render("hello.jet", map[string]interface{}{"greeting": "hi"}, struct{ Name string }{"<world>"})
	if err != nil {
		t.Fatalf("failed to render: %v", err)
	}
	if string(out) != "<p>hi &lt;world&gt;</p>" {
		t.Errorf("unexpected output: %s", out)
	}
}

func TestRootElement(t *testing.T) {
	name, err := RootElement([]byte(`<?xml version="1.0" encoding="ISO-8859-1"?><!-- c --><wps:Execute xmlns:wps="x"/>`))
	if err != nil || name != "Execute" {
		t.Errorf("unexpected root: %v, %v", name, err)
	}
}
