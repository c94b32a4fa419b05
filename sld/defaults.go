package sld

import (
	"embed"
	"sort"
	"strings"
)

//go:embed defaults/*.sld
var defaultsFS embed.FS

// DefaultStyles returns the built-in style bodies keyed by style name:
// point, line, polygon, raster and generic.
func DefaultStyles() map[string][]byte {
	entries, err := defaultsFS.ReadDir("defaults")
	if err != nil {
		panic(err)
	}
	out := make(map[string][]byte, len(entries))
	for _, e := range entries {
		body, err := defaultsFS.ReadFile("defaults/" + e.Name())
		if err != nil {
			panic(err)
		}
		out[strings.TrimSuffix(e.Name(), ".sld")] = body
	}
	return out
}

func DefaultStyleNames() []string {
	var names []string
	for n := range DefaultStyles() {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
