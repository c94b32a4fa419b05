package vector

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/nci/geoserve/catalog"
	"github.com/nci/geoserve/crawl/extractor"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

type Query struct {
	Bound       *orb.Bound
	MaxFeatures int
	Properties  []string
}

// Source gives access to the feature types of a data store.
type Source interface {
	TypeNames(ctx context.Context) ([]string, error)
	Schema(ctx context.Context, typeName string) ([]catalog.AttributeTypeInfo, error)
	Features(ctx context.Context, typeName string, q Query) (*geojson.FeatureCollection, error)
	Close() error
}

// Resolver maps store URLs such as file:data/states.geojson to local paths.
type Resolver interface {
	ResolveURL(url string) (string, error)
}

// OpenSource returns the feature source backing store.
func OpenSource(store *catalog.DataStoreInfo, resolver Resolver) (Source, error) {
	params := store.ConnectionParameters
	switch store.Type {
	case catalog.StoreTypeGeoJSON:
		p, err := resolver.ResolveURL(params["url"])
		if err != nil {
			return nil, err
		}
		return NewGeoJSONSource(p), nil
	case catalog.StoreTypeDirectory:
		p, err := resolver.ResolveURL(params["url"])
		if err != nil {
			return nil, err
		}
		return NewDirectorySource(p), nil
	case catalog.StoreTypePostGIS:
		return NewPostGISSource(params)
	}
	return nil, fmt.Errorf("unsupported data store type '%s'", store.Type)
}

// Apply filters fc in memory according to q.
func Apply(fc *geojson.FeatureCollection, q Query) *geojson.FeatureCollection {
	out := geojson.NewFeatureCollection()
	for _, f := range fc.Features {
		if q.MaxFeatures > 0 && len(out.Features) >= q.MaxFeatures {
			break
		}
		if q.Bound != nil && (f.Geometry == nil || !f.Geometry.Bound().Intersects(*q.Bound)) {
			continue
		}
		if len(q.Properties) > 0 {
			g := *f
			g.Properties = geojson.Properties{}
			for _, p := range q.Properties {
				if v, ok := f.Properties[p]; ok {
					g.Properties[p] = v
				}
			}
			f = &g
		}
		out.Append(f)
	}
	return out
}

func typeName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// GeoJSONSource serves a single GeoJSON file as one feature type named after
// the file.
type GeoJSONSource struct {
	Path string
}

func NewGeoJSONSource(path string) *GeoJSONSource {
	return &GeoJSONSource{Path: path}
}

func (s *GeoJSONSource) TypeNames(ctx context.Context) ([]string, error) {
	if _, err := os.Stat(s.Path); err != nil {
		return nil, err
	}
	return []string{typeName(s.Path)}, nil
}

func (s *GeoJSONSource) check(name string) error {
	if name != typeName(s.Path) {
		return fmt.Errorf("no feature type '%s' in %s", name, s.Path)
	}
	return nil
}

func (s *GeoJSONSource) Schema(ctx context.Context, name string) ([]catalog.AttributeTypeInfo, error) {
	if err := s.check(name); err != nil {
		return nil, err
	}
	fc, err := ReadGeoJSONFile(s.Path)
	if err != nil {
		return nil, err
	}
	return InferSchema(fc), nil
}

func (s *GeoJSONSource) Features(ctx context.Context, name string, q Query) (*geojson.FeatureCollection, error) {
	if err := s.check(name); err != nil {
		return nil, err
	}
	fc, err := ReadGeoJSONFile(s.Path)
	if err != nil {
		return nil, err
	}
	return Apply(fc, q), nil
}

func (s *GeoJSONSource) Close() error { return nil }

// DirectorySource serves every vector file found under a directory.
type DirectorySource struct {
	Dir string

	mu    sync.Mutex
	files map[string]string
}

func NewDirectorySource(dir string) *DirectorySource {
	return &DirectorySource{Dir: dir}
}

func (s *DirectorySource) scan(ctx context.Context) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.files != nil {
		return s.files, nil
	}
	infos, err := extractor.Crawl(ctx, s.Dir)
	if err != nil {
		return nil, err
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Path < infos[j].Path })
	files := map[string]string{}
	for _, info := range infos {
		if info.Kind != extractor.KindVector {
			continue
		}
		name := typeName(info.Path)
		if _, dup := files[name]; !dup {
			files[name] = info.Path
		}
	}
	s.files = files
	return files, nil
}

func (s *DirectorySource) TypeNames(ctx context.Context) ([]string, error) {
	files, err := s.scan(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(files))
	for n := range files {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

func (s *DirectorySource) file(ctx context.Context, name string) (*GeoJSONSource, error) {
	files, err := s.scan(ctx)
	if err != nil {
		return nil, err
	}
	p, ok := files[name]
	if !ok {
		return nil, fmt.Errorf("no feature type '%s' in %s", name, s.Dir)
	}
	return NewGeoJSONSource(p), nil
}

func (s *DirectorySource) Schema(ctx context.Context, name string) ([]catalog.AttributeTypeInfo, error) {
	f, err := s.file(ctx, name)
	if err != nil {
		return nil, err
	}
	return f.Schema(ctx, name)
}

func (s *DirectorySource) Features(ctx context.Context, name string, q Query) (*geojson.FeatureCollection, error) {
	f, err := s.file(ctx, name)
	if err != nil {
		return nil, err
	}
	return f.Features(ctx, name, q)
}

func (s *DirectorySource) Close() error { return nil }
