package extractor

import "time"

const (
	KindVector = "vector"
	KindRaster = "raster"
)

// Metadata is the descriptive information read from a YAML sidecar file.
type Metadata struct {
	Title    string   `json:"title,omitempty" yaml:"title"`
	Abstract string   `json:"abstract,omitempty" yaml:"abstract"`
	Keywords []string `json:"keywords,omitempty" yaml:"keywords"`
	SRS      string   `json:"srs,omitempty" yaml:"srs"`
}

type FileInfo struct {
	Path     string    `json:"file_path"`
	Kind     string    `json:"kind"`
	Format   string    `json:"format"`
	Size     int64     `json:"size"`
	ModTime  time.Time `json:"mtime"`
	ID       string    `json:"id"`
	Metadata *Metadata `json:"metadata,omitempty"`
}

var formats = map[string]struct {
	kind   string
	format string
}{
	".geojson": {KindVector, "GeoJSON"},
	".json":    {KindVector, "GeoJSON"},
	".asc":     {KindRaster, "ArcGrid"},
	".arcgrid": {KindRaster, "ArcGrid"},
}

// FormatOf returns the kind and format of a spatial file by extension.
func FormatOf(path string) (kind, format string, ok bool) {
	f, ok := formats[lowerExt(path)]
	return f.kind, f.format, ok
}
