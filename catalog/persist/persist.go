// Package persist stores the catalog in a GeoServer style data directory or
// in Postgres.
package persist

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/nci/geoserve/catalog"
)

// Store persists catalog objects and style bodies. A Store is registered as
// a catalog listener after Load.
type Store interface {
	catalog.Listener
	Load(ctx context.Context, cat *catalog.Catalog) error
	ReadStyle(s *catalog.StyleInfo) ([]byte, error)
	WriteStyle(s *catalog.StyleInfo, body []byte) error
	ReadStyleResource(s *catalog.StyleInfo, name string) ([]byte, error)
	WriteStyleResource(s *catalog.StyleInfo, name string, body []byte) error
	DeleteStyleFiles(s *catalog.StyleInfo) error
}

// CleanResourceName rejects absolute and parent relative resource names.
func CleanResourceName(name string) (string, error) {
	clean := path.Clean(strings.ReplaceAll(name, `\`, "/"))
	if clean == "." || strings.HasPrefix(clean, "/") || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("invalid resource name '%s'", name)
	}
	return clean, nil
}

// byKind groups loaded objects so they can be handed to the catalog in
// dependency order.
type byKind map[catalog.Kind][]catalog.Info

func (b byKind) ordered() []catalog.Info {
	var out []catalog.Info
	for _, k := range catalog.Kinds {
		out = append(out, b[k]...)
	}
	return out
}
