package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
}

func sampleTree(t *testing.T) string {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "states.geojson"), `{"type":"FeatureCollection","features":[]}`)
	writeFile(t, filepath.Join(root, "states.geojson.yaml"), "title: US States\nkeywords: [states, boundaries]\nsrs: EPSG:4326\n")
	writeFile(t, filepath.Join(root, "sub", "dem.asc"), "ncols 1\n")
	writeFile(t, filepath.Join(root, "sub", "deep", "roads.json"), "{}")
	writeFile(t, filepath.Join(root, "readme.txt"), "not spatial")
	return root
}

func TestCrawl(t *testing.T) {
	root := sampleTree(t)
	files, err := Crawl(context.Background(), root)
	if err != nil {
		t.Fatalf("crawl failed: %v", err)
	}
	var names []string
	for _, f := range files {
		rel, _ := filepath.Rel(root, f.Path)
		names = append(names, rel)
	}
	sort.Strings(names)
	expected := []string{"states.geojson", "sub/deep/roads.json", "sub/dem.asc"}
	if strings.Join(names, ",") != strings.Join(expected, ",") {
		t.Errorf("expected %v, got %v", expected, names)
	}
	for _, f := range files {
		if strings.HasSuffix(f.Path, "dem.asc") && (f.Kind != KindRaster || f.Format != "ArcGrid") {
			t.Errorf("dem.asc classified as %s/%s", f.Kind, f.Format)
		}
		if strings.HasSuffix(f.Path, "states.geojson") {
			if f.Metadata == nil || f.Metadata.Title != "US States" || len(f.Metadata.Keywords) != 2 {
				t.Errorf("sidecar metadata not read: %+v", f.Metadata)
			}
		}
		if len(f.ID) != 32 {
			t.Errorf("unexpected id %q", f.ID)
		}
	}
}

func TestCrawlPattern(t *testing.T) {
	root := sampleTree(t)
	var buf bytes.Buffer
	err := CrawlTo(context.Background(), &buf, root, 2, "type == 'd' || ext == 'asc'", false, "tsv")
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected a single record, got %q", buf.String())
	}
	fields := strings.SplitN(lines[0], "\t", 3)
	if len(fields) != 3 || fields[1] != KindRaster {
		t.Fatalf("unexpected tsv record %q", lines[0])
	}
	var info FileInfo
	if err := json.Unmarshal([]byte(fields[2]), &info); err != nil {
		t.Fatalf("bad json column: %v", err)
	}
	if info.Path != fields[0] {
		t.Errorf("path mismatch %s vs %s", info.Path, fields[0])
	}
}

func TestBadPattern(t *testing.T) {
	if _, err := NewPosixCrawler(1, "size > 10", false); err == nil {
		t.Errorf("expected unknown variable to be rejected")
	}
}

func TestCrawlCancelled(t *testing.T) {
	root := sampleTree(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Crawl(ctx, root); err == nil {
		t.Errorf("expected a cancelled crawl to fail")
	}
}
