package utils

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// RuntimeFileResolver finds relative data files against a list of search
// directories, the first of which is the data directory.
type RuntimeFileResolver struct {
	DataDirs []string

	mu         sync.Mutex
	fileLookup map[string]string
}

// NewRuntimeFileResolver searches the colon separated directories of
// searchPath, then the working directory and the executable's directory.
func NewRuntimeFileResolver(searchPath string) *RuntimeFileResolver {
	r := &RuntimeFileResolver{fileLookup: make(map[string]string)}
	for _, dir := range strings.Split(searchPath, ":") {
		if dir = strings.TrimSpace(dir); dir != "" {
			r.DataDirs = append(r.DataDirs, dir)
		}
	}
	if cwd, err := os.Getwd(); err == nil {
		r.DataDirs = append(r.DataDirs, cwd)
	} else {
		log.Printf("Failed to get CWD: %v", err)
	}
	r.DataDirs = append(r.DataDirs, filepath.Dir(os.Args[0]))
	return r
}

// Resolve finds filePath without consulting the lookup cache.
func (r *RuntimeFileResolver) Resolve(filePath string) (string, error) {
	if filepath.IsAbs(filePath) {
		return filePath, checkFile(filePath)
	}
	for _, dir := range r.DataDirs {
		candidate := filepath.Clean(filepath.Join(dir, filePath))
		if checkFile(candidate) == nil {
			return candidate, nil
		}
	}
	return filePath, fmt.Errorf("Failed to resolve %v", filePath)
}

// Lookup is Resolve with the result remembered until Forget.
func (r *RuntimeFileResolver) Lookup(filePath string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if found, ok := r.fileLookup[filePath]; ok {
		return found, nil
	}
	found, err := r.Resolve(filePath)
	if err != nil {
		return "", err
	}
	r.fileLookup[filePath] = found
	return found, nil
}

// ResolveURL turns a store url parameter ("file:data/roads.geojson",
// "file:///srv/roads.geojson" or a plain path) into a local path.
func (r *RuntimeFileResolver) ResolveURL(storeURL string) (string, error) {
	p := storeURL
	if strings.HasPrefix(p, "file:") {
		if u, err := url.Parse(p); err == nil && u.Opaque == "" {
			p = u.Path
		} else {
			p = strings.TrimPrefix(p, "file:")
		}
	} else if strings.Contains(p, "://") {
		return "", fmt.Errorf("unsupported url '%s'", storeURL)
	}
	if p == "" {
		return "", fmt.Errorf("empty url")
	}
	return r.Lookup(filepath.ToSlash(p))
}

// RelativeURL returns the "file:" url of a path below the data directory,
// or an absolute "file:" url for paths elsewhere.
func (r *RuntimeFileResolver) RelativeURL(filePath string) string {
	if len(r.DataDirs) > 0 {
		if rel, err := filepath.Rel(r.DataDirs[0], filePath); err == nil && !strings.HasPrefix(rel, "..") {
			return "file:" + filepath.ToSlash(rel)
		}
	}
	return "file:" + filepath.ToSlash(filePath)
}

// Forget drops cached lookups, e.g. after files were replaced.
func (r *RuntimeFileResolver) Forget() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fileLookup = make(map[string]string)
}

func checkFile(filePath string) error {
	_, err := os.Stat(filePath)
	if errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
